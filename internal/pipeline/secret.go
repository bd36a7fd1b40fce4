package pipeline

import (
	"fmt"
	"log/slog"
)

// Text rendered in place of a secret value.
const redacted = "[redacted]"

// A credential value that never renders itself.
//
// Every formatting path (fmt verbs, slog, JSON and text marshalling) yields
// "[redacted]". The value is only reachable through [Secret.Expose], which
// is reserved for the registry adapter.
type Secret struct {
	value string
}

// Wraps a raw secret value.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

// Returns the raw value.
func (s Secret) Expose() string {
	return s.value
}

// Whether the secret holds no value.
func (s Secret) IsZero() bool {
	return s.value == ""
}

func (s Secret) String() string {
	return redacted
}

func (s Secret) GoString() string {
	return redacted
}

func (s Secret) Format(f fmt.State, verb rune) {
	fmt.Fprint(f, redacted)
}

func (s Secret) LogValue() slog.Value {
	return slog.StringValue(redacted)
}

func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Registry endpoint, user name, and secret used for one publish session.
type Credentials struct {
	Registry string // Registry host the credentials apply to.
	Username string // Account name.
	Secret   Secret // Password or token.
}

func (c *Credentials) LogValue() slog.Value {
	if c == nil {
		return slog.StringValue("none")
	}
	return slog.GroupValue(
		slog.String("registry", c.Registry),
		slog.String("username", c.Username),
	)
}
