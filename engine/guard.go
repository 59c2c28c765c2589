package engine

import (
	"fmt"
	"log/slog"
)

// guard runs fn and converts both returned errors and panics into fallback,
// logging the cause. Every public Service operation used by the message
// pipeline goes through here.
func guard[T any](log *slog.Logger, op string, fallback T, fn func() (T, error)) (out T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("leveling operation panicked", "op", op, "panic", fmt.Sprint(r))
			out = fallback
		}
	}()
	v, err := fn()
	if err != nil {
		log.Error("leveling operation failed", "op", op, "error", err)
		return fallback
	}
	return v
}

// guardErr is guard for admin operations that report errors to the caller
// but must not panic.
func guardErr[T any](log *slog.Logger, op string, fn func() (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("leveling operation panicked", "op", op, "panic", fmt.Sprint(r))
			var zero T
			out, err = zero, fmt.Errorf("%s: panic: %v", op, r)
		}
	}()
	return fn()
}
