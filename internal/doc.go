// Package internal holds identifier and token primitives shared by the
// engine and its stores. Nothing here is part of the public API.
package internal
