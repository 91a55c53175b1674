// Package auth drives the Homismart login handshake.
//
// A Controller sends the login frame over an open transport and waits for
// the login result. Rejected credentials yield ErrAuthenticationFailed,
// which callers must treat as terminal; anything else that goes wrong
// during the handshake yields ErrHandshakeFailed and is safe to retry on a
// new connection.
package auth
