package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/cruciblehq/cruxpipe/internal"
	"github.com/cruciblehq/cruxpipe/internal/job"
	"github.com/cruciblehq/cruxpipe/internal/server"
	"github.com/fatih/color"
)

// Parses args into a fresh root command.
func parse(t *testing.T, args ...string) *rootCmd {
	t.Helper()

	var root rootCmd
	parser, err := kong.New(&root, kong.Name(internal.Name))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse(args); err != nil {
		t.Fatalf("parse %v: %v", args, err)
	}
	return &root
}

func TestRunFlagsToRequest(t *testing.T) {
	dir := t.TempDir()
	root := parse(t, "run", dir,
		"-i", "Acme/Web",
		"-t", "v1,latest",
		"-r", "ghcr.io",
		"-u", "bot",
		"--password-from", "env:TOKEN",
		"--engine", "docker",
		"--policy", "best-effort",
		"--concurrency", "2",
		"--plain-http",
	)

	req := root.Run.request()

	if req.Source != dir {
		t.Errorf("source = %q, want %q", req.Source, dir)
	}
	if req.Image != "Acme/Web" || req.Tags != "v1,latest" || req.Registry != "ghcr.io" {
		t.Errorf("target = %+v", req)
	}
	if req.Username != "bot" || req.PasswordFrom != "env:TOKEN" {
		t.Errorf("credentials = %q %q", req.Username, req.PasswordFrom)
	}
	if req.Engine.Kind != job.EngineDocker {
		t.Errorf("engine = %q", req.Engine.Kind)
	}
	if req.Policy != "best-effort" || req.Concurrency != 2 || !req.PlainHTTP {
		t.Errorf("overrides = %+v", req)
	}
	if err := req.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestRunFlagsFromEnv(t *testing.T) {
	t.Setenv("CRUXPIPE_IMAGE", "acme/api")
	t.Setenv("CRUXPIPE_TAGS", "1.2.3")
	t.Setenv("CRUXPIPE_ENGINE", "docker")

	root := parse(t, "run", t.TempDir())

	if root.Run.Image != "acme/api" || root.Run.Tags != "1.2.3" || root.Run.Engine != "docker" {
		t.Errorf("flags = %+v", root.Run)
	}
}

func TestRunDefaultEngine(t *testing.T) {
	root := parse(t, "run", t.TempDir(), "-i", "a", "-t", "b")

	if root.Run.Engine != job.EngineContainerd {
		t.Errorf("engine = %q, want containerd", root.Run.Engine)
	}
}

func TestRunRejectsUnknownEngine(t *testing.T) {
	var root rootCmd
	parser, err := kong.New(&root)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := parser.Parse([]string{"run", t.TempDir(), "-i", "a", "-t", "b", "--engine", "podman"}); err == nil {
		t.Error("expected error for unknown engine")
	}
}

func TestServeFlags(t *testing.T) {
	root := parse(t, "-s", "/tmp/x.sock", "serve", "--engine", "docker", "--platform", "linux/arm64")

	if root.Socket != "/tmp/x.sock" {
		t.Errorf("socket = %q", root.Socket)
	}
	cfg := root.Serve.config()
	if cfg.Kind != job.EngineDocker || cfg.Platform != "linux/arm64" {
		t.Errorf("engine config = %+v", cfg)
	}
}

func TestReportPublished(t *testing.T) {
	color.NoColor = true

	res := &server.RunResult{
		Image:   "ghcr.io/acme/web",
		Digest:  "sha256:abc",
		Archive: "/tmp/image.tar",
		Published: []server.PublishResult{
			{Tag: "v1", Reference: "ghcr.io/acme/web:v1@sha256:abc"},
			{Tag: "latest", Reference: "ghcr.io/acme/web:latest@sha256:abc"},
		},
		References: []string{
			"ghcr.io/acme/web:v1@sha256:abc",
			"ghcr.io/acme/web:latest@sha256:abc",
		},
	}

	var stdout, stderr bytes.Buffer
	report(&stdout, &stderr, res, true)

	want := "ghcr.io/acme/web:v1@sha256:abc\nghcr.io/acme/web:latest@sha256:abc\n"
	if stdout.String() != want {
		t.Errorf("stdout = %q, want %q", stdout.String(), want)
	}
	if !strings.Contains(stderr.String(), "pushed ghcr.io/acme/web:latest@sha256:abc") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestReportLocal(t *testing.T) {
	color.NoColor = true

	res := &server.RunResult{Image: "acme/web", Digest: "sha256:abc", Archive: "/tmp/image.tar"}

	var stdout, stderr bytes.Buffer
	report(&stdout, &stderr, res, true)

	if stdout.String() != "/tmp/image.tar\n" {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestReportFailureWritesNothingToStdout(t *testing.T) {
	color.NoColor = true

	res := &server.RunResult{
		Image: "r/a",
		Published: []server.PublishResult{
			{Tag: "1", Reference: "r/a:1@sha256:abc"},
			{Tag: "2", Error: "publish failed: denied"},
			{Tag: "3", Skipped: true},
		},
		References: []string{"r/a:1@sha256:abc"},
	}

	var stdout, stderr bytes.Buffer
	report(&stdout, &stderr, res, false)

	if stdout.Len() != 0 {
		t.Errorf("stdout = %q, want empty", stdout.String())
	}
	out := stderr.String()
	if !strings.Contains(out, "failed r/a:2: publish failed: denied") {
		t.Errorf("missing failure line in %q", out)
	}
	if !strings.Contains(out, "skipped r/a:3") {
		t.Errorf("missing skipped line in %q", out)
	}
}

func TestLevel(t *testing.T) {
	t.Cleanup(func() {
		internal.SetDebug(false)
		internal.SetQuiet(false)
	})

	tests := []struct {
		name  string
		debug bool
		quiet bool
		want  log.Level
	}{
		{"default", false, false, log.InfoLevel},
		{"quiet", false, true, log.WarnLevel},
		{"debug", true, false, log.DebugLevel},
		{"debug wins", true, true, log.DebugLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			internal.SetDebug(tt.debug)
			internal.SetQuiet(tt.quiet)
			if got := Level(); got != tt.want {
				t.Errorf("Level() = %v, want %v", got, tt.want)
			}
		})
	}
}
