// Package errx builds errors around package-level sentinels so callers can
// match with errors.Is while still seeing the underlying cause.
package errx

import "fmt"

// Wrap returns an error matching both sentinel and cause.
// A nil cause yields nil.
func Wrap(sentinel, cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}

// With appends formatted detail to sentinel. The format may use %w to also
// wrap a cause.
func With(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w"+format, append([]any{sentinel}, args...)...)
}
