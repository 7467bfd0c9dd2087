package types

import "fmt"

// Unit is the value type for results that carry no payload.
type Unit = struct{}

// Result holds either a value or a human-readable error description.
// Expected failure modes (transport errors, hardware rejections, timeouts)
// travel as Err values rather than Go errors, so every caller must decide
// explicitly how to proceed.
type Result[T any] struct {
	value T
	err   string
	ok    bool
}

// Ok wraps a successful value.
func Ok[T any](value T) Result[T] {
	return Result[T]{value: value, ok: true}
}

// Err creates a failed result with a plain message.
func Err[T any](reason string) Result[T] {
	return Result[T]{err: reason}
}

// Errf creates a failed result with a formatted message.
func Errf[T any](format string, args ...any) Result[T] {
	return Result[T]{err: fmt.Sprintf(format, args...)}
}

func (r Result[T]) IsOk() bool  { return r.ok }
func (r Result[T]) IsErr() bool { return !r.ok }

// Value returns the contained value. Only meaningful when IsOk.
func (r Result[T]) Value() T { return r.value }

// Error returns the error description, or "" for a successful result.
func (r Result[T]) Error() string { return r.err }

// Wrap prefixes the error description with context, keeping the chain
// readable ("configure sweep: HTTP 503: ..."). No-op on success.
func (r Result[T]) Wrap(context string) Result[T] {
	if r.ok {
		return r
	}
	return Result[T]{err: context + ": " + r.err}
}

// ErrFrom converts a failed result of one value type into another,
// preserving the error description.
func ErrFrom[T, U any](r Result[U]) Result[T] {
	return Result[T]{err: r.err}
}
