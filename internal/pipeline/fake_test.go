package pipeline

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"
)

// Records every engine call as a line of text.
type fakeEngine struct {
	mu         sync.Mutex
	events     []string
	execs      map[string][]ExecOptions              // Exec options per stage, in call order.
	argvs      map[string][][]string                 // Exec argv per stage, in call order.
	copied     map[string][]string                   // Entry names per copy destination.
	copiedFrom map[string]string                     // Container directory per copy destination.
	exitCode   func(stage string, argv []string) int // Exit code per exec, nil for success.
	startErr   error
	commit     *ImageConfig
	names      []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		execs:      make(map[string][]ExecOptions),
		argvs:      make(map[string][][]string),
		copied:     make(map[string][]string),
		copiedFrom: make(map[string]string),
	}
}

func (e *fakeEngine) record(format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, fmt.Sprintf(format, args...))
}

func (e *fakeEngine) Events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.events)
}

func (e *fakeEngine) Start(ctx context.Context, image, id string) (Container, error) {
	stage := id[strings.LastIndexByte(id, '-')+1:]
	e.record("start %s %s", stage, image)
	if e.startErr != nil {
		return nil, e.startErr
	}
	return &fakeContainer{engine: e, stage: stage}, nil
}

type fakeContainer struct {
	engine *fakeEngine
	stage  string
}

func (c *fakeContainer) Exec(ctx context.Context, argv []string, opts ExecOptions) (*ExecResult, error) {
	c.engine.record("exec %s %s", c.stage, strings.Join(argv, " "))

	c.engine.mu.Lock()
	c.engine.execs[c.stage] = append(c.engine.execs[c.stage], opts)
	c.engine.argvs[c.stage] = append(c.engine.argvs[c.stage], slices.Clone(argv))
	c.engine.mu.Unlock()

	if c.engine.exitCode != nil {
		if code := c.engine.exitCode(c.stage, argv); code != 0 {
			return &ExecResult{ExitCode: code, Stderr: "boom"}, nil
		}
	}
	return &ExecResult{}, nil
}

func (c *fakeContainer) CopyIn(ctx context.Context, src Source, dest string) error {
	c.engine.record("copy %s %s", c.stage, dest)

	var buf bytes.Buffer
	if err := src.WriteTar(ctx, &buf); err != nil {
		return err
	}

	var names []string
	tr := tar.NewReader(&buf)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		names = append(names, h.Name)
	}

	c.engine.mu.Lock()
	c.engine.copied[dest] = names
	if d, ok := src.(Directory); ok {
		c.engine.copiedFrom[dest] = d.Path()
	}
	c.engine.mu.Unlock()
	return nil
}

func (c *fakeContainer) WriteFile(ctx context.Context, path string, data []byte, mode int64) error {
	c.engine.record("write %s %s %o", c.stage, path, mode)
	return nil
}

func (c *fakeContainer) Directory(path string) Directory {
	return fakeDir{path: path}
}

func (c *fakeContainer) Commit(ctx context.Context, cfg ImageConfig, archive string, names []string) (*Image, error) {
	c.engine.record("commit %s %s", c.stage, archive)

	c.engine.mu.Lock()
	c.engine.commit = &cfg
	c.engine.names = names
	c.engine.mu.Unlock()

	return &Image{Archive: archive, Ref: "sha256:abc", Digest: "sha256:abc", Config: cfg}, nil
}

func (c *fakeContainer) Destroy(ctx context.Context) {
	c.engine.record("destroy %s", c.stage)
}

// Build artifact holding a single index.html.
type fakeDir struct {
	path string
}

func (d fakeDir) Path() string {
	return d.path
}

func (d fakeDir) WriteTar(ctx context.Context, w io.Writer) error {
	tw := tar.NewWriter(w)
	if err := tw.WriteHeader(&tar.Header{Name: "index.html", Mode: 0o644, Size: 2, Typeflag: tar.TypeReg}); err != nil {
		return err
	}
	if _, err := tw.Write([]byte("ok")); err != nil {
		return err
	}
	return tw.Close()
}

// Records authentications and pushes.
type fakeRegistry struct {
	mu       sync.Mutex
	authErr  error
	auths    []Credentials
	pushes   []string
	pushErr  map[string]error               // Failure per reference.
	delay    func(ref string) time.Duration // Push latency per reference.
	inflight int
	peak     int
}

func (r *fakeRegistry) Authenticate(ctx context.Context, creds Credentials) (Session, error) {
	r.mu.Lock()
	r.auths = append(r.auths, creds)
	r.mu.Unlock()

	if r.authErr != nil {
		return nil, r.authErr
	}
	return &fakeSession{registry: r}, nil
}

func (r *fakeRegistry) Pushes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.pushes)
}

type fakeSession struct {
	registry *fakeRegistry
}

func (s *fakeSession) Push(ctx context.Context, img *Image, ref string) (string, error) {
	r := s.registry

	r.mu.Lock()
	r.pushes = append(r.pushes, ref)
	r.inflight++
	r.peak = max(r.peak, r.inflight)
	err := r.pushErr[ref]
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inflight--
		r.mu.Unlock()
	}()

	if r.delay != nil {
		select {
		case <-time.After(r.delay(ref)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	if err != nil {
		return "", err
	}
	return ref + "@" + img.Digest, nil
}
