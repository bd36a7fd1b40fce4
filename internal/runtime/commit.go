package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"

	"github.com/containerd/containerd/v2/core/containers"
	"github.com/containerd/containerd/v2/core/content"
	"github.com/containerd/containerd/v2/core/images"
	"github.com/containerd/containerd/v2/core/images/archive"
	"github.com/containerd/containerd/v2/pkg/rootfs"
	"github.com/containerd/platforms"
	"github.com/cruciblehq/cruxpipe/internal/pipeline"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Text recorded in the history entry of the committed layer.
const historyCreatedBy = "cruxpipe commit"

// OCI image config blob carrying the Docker health check extension.
//
// The outer Config shadows the embedded one so the health check survives a
// decode and re-encode of the base image's config.
type imageConfigBlob struct {
	ocispec.Image
	Config pipeline.ConfigFile `json:"config,omitempty"`
}

// Commits the container's filesystem changes and writes the result as an
// OCI archive.
//
// The task is stopped, and the diff between the container's snapshot and its
// parent is stored as a new layer. cfg is applied on top of the base image's
// configuration. The mutated manifest, config, and index are written to the
// content store as ephemeral blobs under a lease and referenced only during
// the export; the stored base image record is never modified. Each name is
// recorded as a reference inside the archive.
func (c *Container) Commit(ctx context.Context, cfg pipeline.ImageConfig, path string, names []string) (*pipeline.Image, error) {
	if err := c.stop(ctx); err != nil {
		return nil, err
	}

	loaded, err := c.client.LoadContainer(ctx, c.id)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	info, err := loaded.Info(ctx)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	layer, diffID, err := c.snapshotDiff(ctx, info)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	// Keep the ephemeral blobs alive until the archive is written.
	ctx, done, err := c.client.WithLease(ctx)
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}
	defer done(context.WithoutCancel(ctx))

	target, err := c.buildExportTarget(ctx, info.Image, func(manifest *ocispec.Manifest, blob *imageConfigBlob) {
		manifest.Layers = append(manifest.Layers, layer)
		blob.RootFS.DiffIDs = append(blob.RootFS.DiffIDs, diffID)
		blob.History = append(blob.History, ocispec.History{CreatedBy: historyCreatedBy})
		applyConfig(&blob.Config, cfg)
	})
	if err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, wrap(ErrRuntime, err)
	}
	if err := c.exportImage(ctx, target, names, path); err != nil {
		return nil, wrap(ErrRuntime, err)
	}

	slog.Info("image exported", "path", path, "digest", target.Digest)

	return &pipeline.Image{
		Archive: path,
		Ref:     target.Digest.String(),
		Digest:  target.Digest.String(),
		Config:  cfg,
	}, nil
}

// Applies the runtime configuration to an image config.
//
// Empty fields keep the base image's values. Setting an entrypoint clears
// the base image's default arguments unless cfg provides its own.
func applyConfig(dst *pipeline.ConfigFile, cfg pipeline.ImageConfig) {
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
			dst.ExposedPorts = make(map[string]struct{}, len(cfg.ExposedPorts))
		}
		for _, p := range cfg.ExposedPorts {
			dst.ExposedPorts[p] = struct{}{}
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
	if cfg.Healthcheck != nil {
		dst.Healthcheck = cfg.Healthcheck.Docker()
	}
}

// Computes the diff between the container's snapshot and its parent, returning
// the layer descriptor and its diff ID without modifying the image.
func (c *Container) snapshotDiff(ctx context.Context, info containers.Container) (ocispec.Descriptor, digest.Digest, error) {
	layer, err := rootfs.CreateDiff(ctx,
		info.SnapshotKey,
		c.client.SnapshotService(info.Snapshotter),
		c.client.DiffService(),
	)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}

	diffID, err := images.GetDiffID(ctx, c.client.ContentStore(), layer)
	if err != nil {
		return ocispec.Descriptor{}, "", err
	}

	return layer, diffID, nil
}

// Writes the image to an OCI tar archive at the given path.
//
// The target descriptor is exported directly via [archive.WithManifest], so
// ephemeral content can be exported without an image record. When the
// target is a multi-platform index only the container's platform is kept.
func (c *Container) exportImage(ctx context.Context, target ocispec.Descriptor, names []string, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	p, err := platforms.Parse(c.platform)
	if err != nil {
		return err
	}

	return c.client.Export(ctx, f,
		archive.WithManifest(target, names...),
		archive.WithPlatform(platforms.Only(p)),
	)
}

// Builds the export target descriptor by applying a mutation to the image's
// manifest and config.
func (c *Container) buildExportTarget(ctx context.Context, imageName string, mutate func(*ocispec.Manifest, *imageConfigBlob)) (ocispec.Descriptor, error) {
	img, err := c.client.ImageService().Get(ctx, imageName)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	target, index, err := c.resolveManifestDescriptor(ctx, img.Target, imageName)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	manifestDesc, err := c.mutateManifest(ctx, target, imageName, mutate)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	if index == nil {
		return manifestDesc, nil
	}

	// Other platforms are dropped; their layers were never pulled.
	index.Manifests = []ocispec.Descriptor{manifestDesc}
	return c.writeBlob(ctx, img.Target.MediaType, index, imageName+"-index", content.WithLabels(indexGCLabels(*index)))
}

// Resolves the image root descriptor to a platform-specific manifest.
//
// If the root is an index, the manifest matching the container's platform is
// selected. Index entries without platform metadata (served by some
// registries, notably Docker Hub) are probed by reading their config.
func (c *Container) resolveManifestDescriptor(ctx context.Context, root ocispec.Descriptor, imageName string) (ocispec.Descriptor, *ocispec.Index, error) {
	if !images.IsIndexType(root.MediaType) {
		return root, nil, nil
	}

	var idx ocispec.Index
	if err := c.readJSON(ctx, root, &idx); err != nil {
		return ocispec.Descriptor{}, nil, err
	}

	p, err := platforms.Parse(c.platform)
	if err != nil {
		return ocispec.Descriptor{}, nil, err
	}

	if i, ok := c.matchManifest(ctx, idx, platforms.OnlyStrict(p)); ok {
		return idx.Manifests[i], &idx, nil
	}

	if len(idx.Manifests) == 0 {
		return ocispec.Descriptor{}, nil, wrapf(ErrEmptyIndex, "%s", imageName)
	}
	return idx.Manifests[0], &idx, nil
}

// Searches the index for a manifest matching the given platform.
func (c *Container) matchManifest(ctx context.Context, idx ocispec.Index, matcher platforms.MatchComparer) (int, bool) {
	for i, m := range idx.Manifests {
		if m.Platform != nil && matcher.Match(*m.Platform) {
			return i, true
		}
	}
	for i, m := range idx.Manifests {
		if m.Platform != nil || !images.IsManifestType(m.MediaType) {
			continue
		}
		if p, ok := c.configPlatform(ctx, m); ok && matcher.Match(p) {
			return i, true
		}
	}
	return 0, false
}

// Reads the platform declared in the config of a manifest.
func (c *Container) configPlatform(ctx context.Context, desc ocispec.Descriptor) (ocispec.Platform, bool) {
	var manifest ocispec.Manifest
	if err := c.readJSON(ctx, desc, &manifest); err != nil {
		return ocispec.Platform{}, false
	}
	var config ocispec.Image
	if err := c.readJSON(ctx, manifest.Config, &config); err != nil {
		return ocispec.Platform{}, false
	}
	return ocispec.Platform{
		OS:           config.OS,
		Architecture: config.Architecture,
		Variant:      config.Variant,
	}, true
}

// Reads the manifest and config, applies the mutation, and writes the
// updated blobs back to the content store.
func (c *Container) mutateManifest(ctx context.Context, target ocispec.Descriptor, imageName string, mutate func(*ocispec.Manifest, *imageConfigBlob)) (ocispec.Descriptor, error) {
	var manifest ocispec.Manifest
	if err := c.readJSON(ctx, target, &manifest); err != nil {
		return ocispec.Descriptor{}, err
	}

	var blob imageConfigBlob
	if err := c.readJSON(ctx, manifest.Config, &blob); err != nil {
		return ocispec.Descriptor{}, err
	}

	mutate(&manifest, &blob)

	configDesc, err := c.writeBlob(ctx, manifest.Config.MediaType, blob, imageName+"-config")
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	manifest.Config = configDesc

	return c.writeBlob(ctx, target.MediaType, manifest, imageName+"-manifest", content.WithLabels(manifestGCLabels(manifest)))
}

// Decodes a JSON blob from the content store.
func (c *Container) readJSON(ctx context.Context, desc ocispec.Descriptor, v any) error {
	b, err := content.ReadBlob(ctx, c.client.ContentStore(), desc)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Serializes a value and writes it to the content store, returning the
// descriptor that references the stored blob.
func (c *Container) writeBlob(ctx context.Context, mediaType string, v any, ref string, opts ...content.Opt) (ocispec.Descriptor, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc := ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    digest.FromBytes(b),
		Size:      int64(len(b)),
	}
	if err := content.WriteBlob(ctx, c.client.ContentStore(), ref, bytes.NewReader(b), desc, opts...); err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, nil
}

// Computes containerd GC reference labels for a manifest's children.
func manifestGCLabels(m ocispec.Manifest) map[string]string {
	labels := map[string]string{
		"containerd.io/gc.ref.content.config": m.Config.Digest.String(),
	}
	for i, layer := range m.Layers {
		labels[fmt.Sprintf("containerd.io/gc.ref.content.l.%d", i)] = layer.Digest.String()
	}
	return labels
}

// Computes containerd GC reference labels for an index's children.
func indexGCLabels(idx ocispec.Index) map[string]string {
	labels := make(map[string]string, len(idx.Manifests))
	for i, m := range idx.Manifests {
		labels[fmt.Sprintf("containerd.io/gc.ref.content.m.%d", i)] = m.Digest.String()
	}
	return labels
}
