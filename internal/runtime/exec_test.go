package runtime

import (
	"errors"
	"io"
	"slices"
	"strings"
	"testing"
)

func TestMergeEnv(t *testing.T) {
	image := []string{"PATH=/usr/local/bin:/usr/bin", "NODE_VERSION=20.11.0", "HOME=/root"}

	tests := []struct {
		name      string
		base      []string
		overrides []string
		want      []string
	}{
		{
			name:      "step env replaces image value in place",
			base:      image,
			overrides: []string{"HOME=/app"},
			want:      []string{"PATH=/usr/local/bin:/usr/bin", "NODE_VERSION=20.11.0", "HOME=/app"},
		},
		{
			name:      "new keys follow image keys in override order",
			base:      image,
			overrides: []string{"NODE_ENV=production", "PORT=3000"},
			want:      []string{"PATH=/usr/local/bin:/usr/bin", "NODE_VERSION=20.11.0", "HOME=/root", "NODE_ENV=production", "PORT=3000"},
		},
		{
			name:      "later override wins",
			base:      nil,
			overrides: []string{"NODE_ENV=development", "NODE_ENV=production"},
			want:      []string{"NODE_ENV=production"},
		},
		{
			name: "no overrides",
			base: image,
			want: image,
		},
		{
			name: "nothing at all",
			want: []string{},
		},
		{
			name:      "value keeps embedded separators",
			base:      []string{"NODE_OPTIONS=--max-old-space-size=512"},
			overrides: []string{"OTEL_RESOURCE_ATTRIBUTES=service.name=web,env=prod"},
			want:      []string{"NODE_OPTIONS=--max-old-space-size=512", "OTEL_RESOURCE_ATTRIBUTES=service.name=web,env=prod"},
		},
		{
			name:      "entries without a separator are dropped",
			base:      []string{"BROKEN", "PATH=/bin"},
			overrides: []string{"ALSO_BROKEN"},
			want:      []string{"PATH=/bin"},
		},
		{
			name:      "empty value is kept",
			base:      []string{"DEBUG=1"},
			overrides: []string{"DEBUG="},
			want:      []string{"DEBUG="},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeEnv(tt.base, tt.overrides)
			if !slices.Equal(got, tt.want) {
				t.Fatalf("mergeEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeEnvLeavesBaseUntouched(t *testing.T) {
	base := []string{"A=1", "B=2"}
	mergeEnv(base, []string{"A=3"})
	if !slices.Equal(base, []string{"A=1", "B=2"}) {
		t.Fatalf("base modified: %v", base)
	}
}

func TestNextExecIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		id := nextExecID()
		if !strings.HasPrefix(id, "exec-") {
			t.Fatalf("unexpected id %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestDoneReaderClosesAtEOF(t *testing.T) {
	dr := newDoneReader(strings.NewReader("archive"))

	select {
	case <-dr.done:
		t.Fatal("done before the stream was read")
	default:
	}

	data, err := io.ReadAll(dr)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "archive" {
		t.Fatalf("read %q", data)
	}

	select {
	case <-dr.done:
	default:
		t.Fatal("done not closed at EOF")
	}

	// Further reads must not close the channel twice.
	if _, err := dr.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("second read error = %v", err)
	}
}

func TestDoneReaderClosesOnError(t *testing.T) {
	boom := errors.New("producer failed")
	pr, pw := io.Pipe()
	pw.CloseWithError(boom)

	dr := newDoneReader(pr)
	if _, err := dr.Read(make([]byte, 8)); !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}

	select {
	case <-dr.done:
	default:
		t.Fatal("done not closed after a failed read")
	}
}
