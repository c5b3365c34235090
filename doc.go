// Package rephi is the client SDK for the Rephi realtime RBAC platform.
//
// A [Client] bundles the pieces a session-scoped dashboard needs: the
// REST auth and admin API, the persistent session store, the websocket
// connection manager with per-topic channels, and the route guards.
// Build one through [Builder.Build]; the Client is safe for concurrent
// use after that.
//
// The session store is the single owner of authentication state. Login
// and Register write it, Logout clears it, and the socket manager reads
// the token from it on every dial, so a re-login reconnects with fresh
// credentials without any manual rewiring.
package rephi
