// Package password implements argon2id credential hashing with PHC-formatted
// output, constant-time verification, and work-factor upgrade detection.
//
// Hashing is deliberately expensive; callers must not fan verification out in
// a way that defeats the configured cost.
package password
