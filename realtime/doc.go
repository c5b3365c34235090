// Package realtime implements the client side of the rephi channel
// protocol: a single shared websocket connection with automatic
// reconnection, and per-topic channels layered on top of it.
//
// A [Manager] owns at most one live connection, parameterized by the
// current bearer token. Channels are created from the manager, join and
// leave their topic explicitly, and are always torn down by the scope
// that created them; nothing is cleaned up implicitly.
//
// Nothing in this package panics or returns errors across the async
// boundary: transport failures surface as Connected() turning false and
// as log lines, while the manager's backoff schedule reconnects in the
// background.
package realtime
