package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"time"
)

const (

	// Upper bound on the size of a fetched tool.
	maxToolSize = 512 << 20

	// Deadline for a single tool download when none is set.
	defaultToolTimeout = 5 * time.Minute
)

// A third-party binary fetched on the host and installed into the image.
type Tool struct {
	Name    string   `yaml:"name" toml:"name"`
	URL     string   `yaml:"url" toml:"url"`
	SHA256  string   `yaml:"sha256" toml:"sha256"` // Hex or "sha256:" digest of the download.
	Path    string   `yaml:"path" toml:"path"`     // Absolute install path, including the file name.
	Mode    int64    `yaml:"mode,omitempty" toml:"mode,omitempty"`
	Timeout Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
}

func (t Tool) validate() error {
	var errs []error
	if t.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if u, err := url.Parse(t.URL); err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		errs = append(errs, fmt.Errorf("url %q must be http or https", t.URL))
	}
	if _, err := parseChecksum(t.SHA256); err != nil {
		errs = append(errs, fmt.Errorf("sha256: %w", err))
	}
	if !path.IsAbs(t.Path) {
		errs = append(errs, fmt.Errorf("path %q must be absolute", t.Path))
	}
	return errors.Join(errs...)
}

// Downloads tools and verifies them before anything reaches an image.
type toolFetcher struct {
	client *http.Client
}

// Fetches the tool and returns its verified contents.
//
// The whole body is read and checked against the declared digest. A mismatch
// fails the step without writing anything.
func (f *toolFetcher) fetch(ctx context.Context, t Tool) ([]byte, error) {
	want, err := parseChecksum(t.SHA256)
	if err != nil {
		return nil, wrapf(ErrToolFetch, "%s: %v", t.Name, err)
	}

	timeout := t.Timeout.Std()
	if timeout == 0 {
		timeout = defaultToolTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil {
		return nil, wrapf(ErrToolFetch, "%s: %v", t.Name, err)
	}

	client := f.client
	if client == nil {
		client = http.DefaultClient
	}

	slog.Info("fetching tool", "name", t.Name, "url", t.URL)

	resp, err := client.Do(req)
	if err != nil {
		return nil, wrapf(ErrToolFetch, "%s: %v", t.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, wrapf(ErrToolFetch, "%s: unexpected status %s", t.Name, resp.Status)
	}

	var buf bytes.Buffer
	verifier := want.Verifier()
	n, err := io.Copy(io.MultiWriter(&buf, verifier), io.LimitReader(resp.Body, maxToolSize+1))
	if err != nil {
		return nil, wrapf(ErrToolFetch, "%s: %v", t.Name, err)
	}
	if n > maxToolSize {
		return nil, wrapf(ErrToolFetch, "%s: larger than %d bytes", t.Name, maxToolSize)
	}
	if !verifier.Verified() {
		return nil, wrapf(ErrToolFetch, "%s: checksum mismatch, want %s", t.Name, want)
	}

	return buf.Bytes(), nil
}
