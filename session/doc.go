// Package session persists session rows in Redis and enforces the session
// state machine: CREATED -> ACTIVE -> (refresh loop) -> EXPIRED | LOGGED_OUT.
//
// Refresh rotation is a single Lua script so that two concurrent refreshes of
// one session can never both succeed; the loser observes a hash mismatch,
// which callers treat as token reuse.
package session
