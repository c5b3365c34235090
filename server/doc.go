// Package server implements the reference Rephi backend: the REST auth
// and admin API, the websocket channel endpoint, and the stores behind
// them.
//
// Entities live in bbolt; live login sessions are tracked in Redis so
// tokens can be revoked before they expire. The Hub fans broadcasts out
// to websocket subscribers, fed by a notify.Dispatcher so HTTP handlers
// never block on slow sockets.
package server
