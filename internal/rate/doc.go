// Package rate enforces per-identity, per-action throttling with escalating
// blocks. Consumption is a single Lua script, so concurrent requests against
// one bucket are linearized server-side and can never both slip past the
// threshold.
package rate
