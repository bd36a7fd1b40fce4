package job

import (
	"errors"
	"fmt"
)

var (
	ErrRequest    = errors.New("invalid run request")
	ErrNoPipeline = errors.New("no pipeline configuration")
	ErrEngine     = errors.New("container engine unavailable")
)

// Wraps err under the given sentinel.
func wrap(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wraps a formatted message under the given sentinel.
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
