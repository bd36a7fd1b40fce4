package secrets

import (
	"errors"
	"fmt"
)

var (
	ErrSecret      = errors.New("secret resolution failed")
	ErrScheme      = errors.New("unsupported secret reference")
	ErrNotFound    = errors.New("secret not found")
	ErrEmpty       = errors.New("secret is empty")
	ErrAccess      = errors.New("secret access denied")
	ErrSecretValue = errors.New("secret value is not a JSON object with the requested key")
)

// Wraps err under the given sentinel.
func wrap(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wraps a formatted message under the given sentinel.
func wrapf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
