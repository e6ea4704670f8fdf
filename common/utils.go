package common

import "fmt"

// Assert checks a condition and panics if it is false.
//
// Errors that can reasonably happen at runtime (I/O failure, exhausted pool)
// are returned as values. Assert is for invariants: truths about engine state
// that must always hold. If one breaks, continuing execution risks persisting
// corrupted pages, so the engine fails fast with a stack trace instead.
func Assert(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// CeilDiv returns ⌈a/b⌉ for positive operands. Node minimum sizes are defined
// as the ceiling of half the maximum size.
func CeilDiv(a, b int) int {
	return (a + b - 1) / b
}
