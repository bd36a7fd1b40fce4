package docker

import (
	"context"
	"io"
	"log/slog"
	goruntime "runtime"

	"github.com/containerd/errdefs"
	"github.com/containerd/platforms"
	"github.com/cruciblehq/cruxpipe/internal/pipeline"
	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Connection settings for the Docker engine.
type Config struct {
	Host     string // Daemon address. Empty uses DOCKER_HOST or the default socket.
	Platform string // Target platform (e.g. "linux/amd64"). Empty uses the host.
}

// Runs pipeline stages as Docker containers.
type Engine struct {
	client   *client.Client   // Docker API client.
	platform ocispec.Platform // Platform every image is pulled and created for.
}

var _ pipeline.Engine = (*Engine)(nil)

// Creates an engine connected to the Docker daemon.
//
// The API version is negotiated on first use. The engine must be closed
// when no longer needed.
func New(cfg Config) (*Engine, error) {
	if cfg.Platform == "" {
		cfg.Platform = "linux/" + goruntime.GOARCH
	}
	p, err := platforms.Parse(cfg.Platform)
	if err != nil {
		return nil, wrap(ErrDocker, err)
	}

	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, wrap(ErrDocker, err)
	}

	return &Engine{client: cli, platform: p}, nil
}

// Closes the API client.
func (e *Engine) Close() error {
	return e.client.Close()
}

// Pulls an image and starts a container from it.
//
// The container shares the host network and runs "sleep infinity" so exec
// calls have a running process to attach to. Any existing container with
// the same name is removed first.
func (e *Engine) Start(ctx context.Context, img, id string) (pipeline.Container, error) {
	named, err := reference.ParseDockerRef(img)
	if err != nil {
		return nil, wrap(ErrPull, err)
	}
	ref := named.String()

	if err := e.pull(ctx, ref); err != nil {
		return nil, err
	}

	inspect, err := e.client.ImageInspect(ctx, ref)
	if err != nil {
		return nil, wrap(ErrDocker, err)
	}

	c := &Container{client: e.client, id: id}
	if inspect.Config != nil {
		c.entrypoint = []string(inspect.Config.Entrypoint)
		c.cmd = []string(inspect.Config.Cmd)
	}

	c.remove(ctx)

	_, err = e.client.ContainerCreate(ctx,
		&container.Config{
			Image:      ref,
			Entrypoint: []string{"sleep", "infinity"},
		},
		&container.HostConfig{
			NetworkMode: "host",
		},
		nil, &e.platform, id,
	)
	if err != nil {
		return nil, wrap(ErrDocker, err)
	}

	if err := e.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		c.remove(context.WithoutCancel(ctx))
		return nil, wrap(ErrDocker, err)
	}

	slog.Debug("container started", "id", id, "image", ref)
	return c, nil
}

// Pulls an image for the engine's platform.
//
// The progress stream is drained to completion; an error message embedded
// in the stream fails the pull.
func (e *Engine) pull(ctx context.Context, ref string) error {
	slog.Info("pulling image", "ref", ref, "platform", platforms.Format(e.platform))

	rc, err := e.client.ImagePull(ctx, ref, image.PullOptions{Platform: platforms.Format(e.platform)})
	if err != nil {
		return wrapf(ErrPull, "%s: %v", ref, err)
	}
	defer rc.Close()

	if err := jsonmessage.DisplayJSONMessagesStream(rc, io.Discard, 0, false, nil); err != nil {
		return wrapf(ErrPull, "%s: %v", ref, err)
	}
	return nil
}

// Reports whether err means the object does not exist.
func isNotFound(err error) bool {
	return errdefs.IsNotFound(err)
}
