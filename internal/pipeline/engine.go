package pipeline

import (
	"context"
	"io"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Starts stage containers from base images.
//
// Implementations exist for containerd and the Docker Engine API. The
// pipeline only composes calls against this interface and never assumes a
// particular backend.
type Engine interface {

	// Pulls the image if needed and starts a long-running container from it.
	// The id is unique per run and stage.
	Start(ctx context.Context, image, id string) (Container, error)
}

// A running stage container.
//
// Filesystem changes persist across calls for the lifetime of the container.
type Container interface {

	// Runs argv inside the container and reports how it exited. A non-zero
	// exit code is not an error; the caller decides.
	Exec(ctx context.Context, argv []string, opts ExecOptions) (*ExecResult, error)

	// Extracts the tar stream produced by src into dest, creating dest if
	// needed.
	CopyIn(ctx context.Context, src Source, dest string) error

	// Creates or replaces a single file.
	WriteFile(ctx context.Context, path string, data []byte, mode int64) error

	// Returns a lazy handle to a directory in the container's filesystem.
	// Nothing is read until the handle is streamed.
	Directory(path string) Directory

	// Snapshots the filesystem, applies cfg, and writes the image as an OCI
	// archive at archive. Names are recorded as in-archive references.
	Commit(ctx context.Context, cfg ImageConfig, archive string, names []string) (*Image, error)

	// Stops the container and releases its resources.
	Destroy(ctx context.Context)
}

// Anything that can stream itself as a tar archive.
type Source interface {
	WriteTar(ctx context.Context, w io.Writer) error
}

// A directory inside a stage container.
//
// The contents are archived relative to the directory itself, so copying a
// Directory into dest places its children directly under dest.
type Directory interface {
	Source
	Path() string
}

// Per-exec overrides applied on top of the container's own process spec.
type ExecOptions struct {
	Env     []string // Additional "KEY=value" entries.
	Workdir string   // Working directory, empty for the image default.
	User    string   // User to run as, empty for the image default.
}

// Outcome of an exec.
type ExecResult struct {
	ExitCode int    // Exit code of the process.
	Stdout   string // Captured standard output.
	Stderr   string // Captured standard error.
}

// Image configuration applied at commit time.
type ImageConfig struct {
	User         string            // User the entrypoint runs as.
	Workdir      string            // Working directory of the entrypoint.
	Env          []string          // "KEY=value" entries, merged over the base image's.
	ExposedPorts []string          // Ports in "80/tcp" form.
	Entrypoint   []string          // Entrypoint vector, nil keeps the base image's.
	Cmd          []string          // Default arguments, nil keeps the base image's unless Entrypoint is set.
	Labels       map[string]string // Labels merged over the base image's.
	Healthcheck  *Healthcheck      // Health probe, nil keeps the base image's.
}

// Health probe recorded in the image configuration.
//
// The probe is never run by the pipeline; orchestrators evaluate it.
type Healthcheck struct {
	Test        []string      // Probe command, "CMD" or "CMD-SHELL" form.
	Interval    time.Duration // Time between probes.
	Timeout     time.Duration // Time before a single probe is considered hung.
	StartPeriod time.Duration // Grace period before failures count.
	Retries     int           // Consecutive failures before the container is unhealthy.
}

// Image configuration blob with the Docker health check extension.
//
// The OCI image config has no health check field, so the Docker-compatible
// "Healthcheck" key is carried next to the standard fields.
type ConfigFile struct {
	ocispec.ImageConfig
	Healthcheck *DockerHealthcheck `json:"Healthcheck,omitempty"`
}

// Docker serialisation of a health check (durations in nanoseconds).
type DockerHealthcheck struct {
	Test        []string      `json:"Test,omitempty"`
	Interval    time.Duration `json:"Interval,omitempty"`
	Timeout     time.Duration `json:"Timeout,omitempty"`
	StartPeriod time.Duration `json:"StartPeriod,omitempty"`
	Retries     int           `json:"Retries,omitempty"`
}

// Converts the health check to its Docker serialisation.
func (h *Healthcheck) Docker() *DockerHealthcheck {
	if h == nil {
		return nil
	}
	return &DockerHealthcheck{
		Test:        h.Test,
		Interval:    h.Interval,
		Timeout:     h.Timeout,
		StartPeriod: h.StartPeriod,
		Retries:     h.Retries,
	}
}

// A committed runtime image stored as an OCI archive on the host.
type Image struct {
	Archive string      // Path to the OCI archive.
	Ref     string      // Reference of the image inside the archive.
	Digest  string      // Digest of the image manifest.
	Config  ImageConfig // Configuration applied at commit.
}

// Opens authenticated registry sessions.
type Registry interface {

	// Authenticates once and returns a session reused for every push.
	// Rejected credentials yield an error matching [ErrAuthenticationFailed].
	Authenticate(ctx context.Context, creds Credentials) (Session, error)
}

// An authenticated registry session.
type Session interface {

	// Pushes img under ref ("{registry}/{name}:{tag}") and returns the
	// digest-qualified reference reported by the registry.
	Push(ctx context.Context, img *Image, ref string) (string, error)
}
