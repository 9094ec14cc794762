// Package middleware adapts authcore.Engine decisions to net/http: bearer
// token guarding, double-submit CSRF enforcement, and per-request rate
// limiting.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT make
// authentication decisions itself — every pass/reject comes from the Engine.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Distinguish failure causes to the client beyond the status code.
package middleware
