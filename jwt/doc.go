// Package jwt signs and parses the access/refresh token pair. Both tokens
// carry the same claim triple {account, session, device}; a typ claim keeps
// one kind from ever validating as the other.
package jwt
