// Package session holds the authenticated user and token for the current
// process and keeps them in sync with durable storage.
//
// The store has exactly two mutation entry points, [Store.SetAuth] and
// [Store.Logout]. Both replace the user, token, and derived authenticated
// flag together under one lock, so no observer ever sees an authenticated
// session with a nil user. Consumers that cannot subscribe to the store
// (external processes sharing the storage file) read the bare token mirror
// written under its own key; in-process consumers should use [Store.Watch]
// instead.
package session
