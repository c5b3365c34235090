// Package guard decides whether a navigation or request may proceed for
// a given session snapshot.
//
// The decision functions are pure: they take a snapshot and return a
// Decision, so they can back any routing layer. RequireAuth and
// RequireAdmin wrap them as net/http middleware for servers that keep a
// per-process session. The PathStore remembers at most one path, the
// one the user was denied at, so a later login can return them there.
package guard
