// Package stores holds the small Redis-backed state machines that do not
// justify a package of their own: per-account CSRF tokens, the bounded
// trusted-device registry, and single-use email verification challenges.
package stores
