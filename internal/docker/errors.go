package docker

import (
	"errors"
	"fmt"
)

var (
	ErrDocker  = errors.New("docker error")
	ErrPull    = errors.New("image pull failed")
	ErrArchive = errors.New("invalid image archive")
)

// Wraps err under the given sentinel.
func wrap(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wraps a formatted message under the given sentinel.
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
