package runtime

import (
	"context"
	"log/slog"
	goruntime "runtime"

	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/platforms"
	"github.com/cruciblehq/cruxpipe/internal/pipeline"
	"github.com/distribution/reference"
)

const (

	// Default containerd socket address.
	DefaultAddress = "/run/containerd/containerd.sock"

	// Default containerd namespace for images and containers.
	DefaultNamespace = "cruxpipe"

	// Snapshotter used for container filesystems when none is set.
	// fuse-overlayfs provides overlay semantics without mount(2), so the
	// engine works for a regular user.
	DefaultSnapshotter = "fuse-overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"
)

// Connection settings for a containerd engine.
type Config struct {
	Address     string // Containerd socket address. Empty uses [DefaultAddress].
	Namespace   string // Containerd namespace. Empty uses [DefaultNamespace].
	Platform    string // Target platform (e.g. "linux/amd64"). Empty uses the host.
	Snapshotter string // Snapshotter name. Empty uses [DefaultSnapshotter].
}

// Runs pipeline stages as containerd containers.
type Runtime struct {
	client      *containerd.Client // Containerd client for managing containers and images.
	platform    string             // OCI platform every container is created for.
	snapshotter string             // Snapshotter for container filesystems.
}

var _ pipeline.Engine = (*Runtime)(nil)

// Creates a runtime connected to containerd.
//
// The runtime must be closed when no longer needed.
func New(cfg Config) (*Runtime, error) {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.Platform == "" {
		cfg.Platform = defaultPlatform()
	}
	if cfg.Snapshotter == "" {
		cfg.Snapshotter = DefaultSnapshotter
	}

	if _, err := platforms.Parse(cfg.Platform); err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	client, err := containerd.New(cfg.Address, containerd.WithDefaultNamespace(cfg.Namespace))
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	return &Runtime{
		client:      client,
		platform:    cfg.Platform,
		snapshotter: cfg.Snapshotter,
	}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Pulls an image and starts a container from it.
//
// The image is pulled for the runtime's platform and unpacked into the
// snapshotter. A container is created with a fresh snapshot and a
// long-running task (sleep infinity) is started so that subsequent exec
// calls have a running process to attach to. Any existing container with
// the same ID is removed first.
func (rt *Runtime) Start(ctx context.Context, image, id string) (pipeline.Container, error) {
	ref, err := normalizeRef(image)
	if err != nil {
		return nil, wrap(ErrPull, err)
	}

	img, err := rt.pull(ctx, ref)
	if err != nil {
		return nil, err
	}

	c := &Container{
		client:      rt.client,
		id:          id,
		platform:    rt.platform,
		snapshotter: rt.snapshotter,
	}

	c.remove(ctx)

	ctr, err := c.create(ctx, img)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	if err := c.startTask(ctx, ctr); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, wrap(ErrRuntime, err)
	}

	slog.Debug("container started", "id", id, "image", ref)
	return c, nil
}

// Pulls and unpacks an image for the runtime's platform.
func (rt *Runtime) pull(ctx context.Context, ref string) (containerd.Image, error) {
	p, err := platforms.Parse(rt.platform)
	if err != nil {
		return nil, wrap(ErrPull, err)
	}

	slog.Info("pulling image", "ref", ref, "platform", rt.platform)

	img, err := rt.client.Pull(ctx, ref,
		containerd.WithPlatformMatcher(platforms.Only(p)),
		containerd.WithPullUnpack,
		containerd.WithPullSnapshotter(rt.snapshotter),
	)
	if err != nil {
		return nil, wrapf(ErrPull, "%s: %v", ref, err)
	}

	return img, nil
}

// Expands a short image name ("node:20-alpine") to a fully qualified one
// ("docker.io/library/node:20-alpine").
func normalizeRef(image string) (string, error) {
	named, err := reference.ParseDockerRef(image)
	if err != nil {
		return "", err
	}
	return named.String(), nil
}

// Returns the default OCI platform for the host architecture.
func defaultPlatform() string {
	return "linux/" + goruntime.GOARCH
}
