package runtime

import (
	"errors"
	"fmt"
)

var (
	ErrRuntime    = errors.New("runtime error")
	ErrEmptyIndex = errors.New("empty image index")
	ErrPull       = errors.New("image pull failed")
	ErrUser       = errors.New("unknown user")
)

// Wraps err under the given sentinel.
func wrap(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wraps a formatted message under the given sentinel.
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
