package docker

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/cruciblehq/cruxpipe/internal/pipeline"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Comment recorded on committed images.
const commitComment = "cruxpipe commit"

// Commits the container and saves the image as an OCI archive.
//
// The committed configuration starts from the container's own (which the
// daemon derived from the base image) with the base entrypoint and
// arguments restored, then cfg is applied. Each name is tagged on the
// committed image so it is recorded inside the archive. The committed image
// and its tags are removed from the daemon once the archive is written, or
// when any later step fails.
func (c *Container) Commit(ctx context.Context, cfg pipeline.ImageConfig, archivePath string, names []string) (*pipeline.Image, error) {
	inspect, err := c.client.ContainerInspect(ctx, c.id)
	if err != nil {
		return nil, wrap(ErrDocker, err)
	}
	if inspect.Config == nil {
		return nil, wrapf(ErrDocker, "container %s has no configuration", c.id)
	}

	config := *inspect.Config
	config.Hostname = ""
	config.Domainname = ""
	config.Image = ""
	config.Entrypoint = c.entrypoint
	config.Cmd = c.cmd
	applyConfig(&config, cfg)

	// A nil entrypoint would be replaced by the container's "sleep infinity".
	if config.Entrypoint == nil {
		config.Entrypoint = []string{}
	}

	committed, err := c.client.ContainerCommit(ctx, c.id, container.CommitOptions{
		Comment: commitComment,
		Config:  &config,
	})
	if err != nil {
		return nil, wrap(ErrDocker, err)
	}
	defer discard(context.WithoutCancel(ctx), c.client, committed.ID)

	for _, name := range names {
		if err := c.client.ImageTag(ctx, committed.ID, name); err != nil {
			return nil, wrap(ErrDocker, err)
		}
	}

	refs := names
	if len(refs) == 0 {
		refs = []string{committed.ID}
	}
	if err := c.save(ctx, refs, archivePath); err != nil {
		return nil, err
	}

	digest, err := manifestDigest(archivePath)
	if err != nil {
		return nil, err
	}

	slog.Info("image exported", "path", archivePath, "digest", digest)

	return &pipeline.Image{
		Archive: archivePath,
		Ref:     digest,
		Digest:  digest,
		Config:  cfg,
	}, nil
}

// Removes images from the daemon.
type imageRemover interface {
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
}

// Removes a committed image together with every tag pointing at it.
//
// Failures are logged; the archive already holds everything the run needs.
func discard(ctx context.Context, api imageRemover, id string) {
	_, err := api.ImageRemove(ctx, id, image.RemoveOptions{Force: true, PruneChildren: true})
	if err != nil && !isNotFound(err) {
		slog.Warn("failed to remove committed image", "id", id, "error", err)
		return
	}
	slog.Debug("committed image removed", "id", id)
}

// Saves images to a tar archive at path.
func (c *Container) save(ctx context.Context, refs []string, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return wrap(ErrDocker, err)
	}

	rc, err := c.client.ImageSave(ctx, refs)
	if err != nil {
		return wrap(ErrDocker, err)
	}
	defer rc.Close()

	f, err := os.Create(path)
	if err != nil {
		return wrap(ErrDocker, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return wrap(ErrDocker, err)
	}
	return f.Close()
}

// Reads the digest of the first manifest listed in an archive's index.json.
//
// Docker Engine 25 and later save images in OCI layout, so the archive can be
// opened as an OCI store and resolved by this digest.
func manifestDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", wrap(ErrArchive, err)
	}
	defer f.Close()

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return "", wrapf(ErrArchive, "%s: no index.json (daemon older than Engine 25?)", path)
		}
		if err != nil {
			return "", wrap(ErrArchive, err)
		}
		if strings.TrimPrefix(hdr.Name, "./") != ocispec.ImageIndexFile {
			continue
		}

		var idx ocispec.Index
		if err := json.NewDecoder(tr).Decode(&idx); err != nil {
			return "", wrap(ErrArchive, err)
		}
		if len(idx.Manifests) == 0 {
			return "", wrapf(ErrArchive, "%s: empty index", path)
		}
		return idx.Manifests[0].Digest.String(), nil
	}
}

// Applies the runtime configuration to a container config.
//
// Empty fields keep the existing values. Setting an entrypoint clears the
// default arguments unless cfg provides its own.
func applyConfig(dst *container.Config, cfg pipeline.ImageConfig) {
	if cfg.User != "" {
		dst.User = cfg.User
	}
	if cfg.Workdir != "" {
		dst.WorkingDir = cfg.Workdir
	}
	if len(cfg.Env) > 0 {
		dst.Env = mergeEnv(dst.Env, cfg.Env)
	}
	if len(cfg.ExposedPorts) > 0 {
		if dst.ExposedPorts == nil {
			dst.ExposedPorts = make(nat.PortSet, len(cfg.ExposedPorts))
		}
		for _, p := range cfg.ExposedPorts {
			dst.ExposedPorts[nat.Port(p)] = struct{}{}
		}
	}
	if len(cfg.Entrypoint) > 0 {
		dst.Entrypoint = cfg.Entrypoint
		dst.Cmd = nil
	}
	if len(cfg.Cmd) > 0 {
		dst.Cmd = cfg.Cmd
	}
	if len(cfg.Labels) > 0 {
		if dst.Labels == nil {
			dst.Labels = make(map[string]string, len(cfg.Labels))
		}
		maps.Copy(dst.Labels, cfg.Labels)
	}
	if h := cfg.Healthcheck; h != nil {
		dst.Healthcheck = &container.HealthConfig{
			Test:        h.Test,
			Interval:    h.Interval,
			Timeout:     h.Timeout,
			StartPeriod: h.StartPeriod,
			Retries:     h.Retries,
		}
	}
}

// Merges override env vars on top of a base env slice, keeping the position
// of existing keys.
func mergeEnv(base, overrides []string) []string {
	values := make(map[string]string, len(base)+len(overrides))
	var order []string

	for _, list := range [][]string{base, overrides} {
		for _, entry := range list {
			k, v, ok := strings.Cut(entry, "=")
			if !ok {
				continue
			}
			if _, seen := values[k]; !seen {
				order = append(order, k)
			}
			values[k] = v
		}
	}

	result := make([]string, 0, len(order))
	for _, k := range order {
		result = append(result, k+"="+values[k])
	}
	return result
}
