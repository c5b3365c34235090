// Package notify moves broadcast events from producers to a delivery
// sink without blocking the producer.
//
// An [Event] names a realtime topic and event and carries the payload
// to broadcast there. The [Dispatcher] buffers events and forwards them
// to a [Sink] on its own goroutine; Close drains whatever is buffered
// before returning. Sinks decide where events go: a websocket hub in
// the server, a channel in tests, a line-delimited JSON log for
// offline inspection.
package notify
