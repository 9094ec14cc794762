// Package authcore provides the authentication and session-security core for
// account-based services: credential verification with automatic lockout,
// TOTP and backup-code two-factor authentication with trusted-device bypass,
// JWT access/refresh token pairs backed by Redis session state, per-action
// rate limiting, and CSRF token issuance.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (LoginResult, TokenPair, SessionInfo, TrustedDevice). All
// coordination state — sessions, rate buckets, CSRF tokens, trusted devices,
// verification challenges — lives in Redis, so every invariant holds across
// multiple service instances. Account persistence is delegated to a
// caller-supplied [AccountProvider]; authcore never owns user rows.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or key layouts in its public API.
//   - Issue any session or token before every check required by the attempted
//     login path has passed.
//   - Conflate infrastructure failure with authentication failure: backend
//     errors always surface as a distinct *Unavailable sentinel.
//
// The HTTP binding is deliberately thin and lives in the middleware
// subpackage; the Engine operates on typed inputs and outputs only.
package authcore
