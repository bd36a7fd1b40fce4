package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

const secretValue = "hunter2-s3cr3t"

func TestSecretFormatting(t *testing.T) {
	s := NewSecret(secretValue)

	outputs := []string{
		fmt.Sprint(s),
		fmt.Sprintf("%v %+v %#v %s %q %x", s, s, s, s, s, s),
		fmt.Sprintf("%v", Credentials{Username: "bot", Secret: s}),
		fmt.Sprintf("%+v", &Credentials{Username: "bot", Secret: s}),
		s.String(),
		s.GoString(),
	}
	for _, out := range outputs {
		if strings.Contains(out, secretValue) {
			t.Errorf("secret leaked in %q", out)
		}
	}
}

func TestSecretJSON(t *testing.T) {
	data, err := json.Marshal(Credentials{Registry: "ghcr.io", Username: "bot", Secret: NewSecret(secretValue)})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), secretValue) {
		t.Errorf("secret leaked in %s", data)
	}
	if !strings.Contains(string(data), redacted) {
		t.Errorf("expected redaction marker in %s", data)
	}
}

func TestSecretSlog(t *testing.T) {
	var buf bytes.Buffer
	for _, h := range []slog.Handler{slog.NewTextHandler(&buf, nil), slog.NewJSONHandler(&buf, nil)} {
		creds := &Credentials{Registry: "ghcr.io", Username: "bot", Secret: NewSecret(secretValue)}
		logger := slog.New(h)
		logger.Info("auth", "secret", creds.Secret, "creds", creds)
	}
	if strings.Contains(buf.String(), secretValue) {
		t.Errorf("secret leaked in log output %q", buf.String())
	}
	if !strings.Contains(buf.String(), "bot") {
		t.Errorf("expected username in log output %q", buf.String())
	}
}

func TestSecretExpose(t *testing.T) {
	s := NewSecret(secretValue)
	if s.Expose() != secretValue {
		t.Error("Expose did not return the raw value")
	}
	if s.IsZero() {
		t.Error("IsZero on a set secret")
	}
	if !NewSecret("").IsZero() {
		t.Error("IsZero false on an empty secret")
	}
}
