package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/cruciblehq/cruxpipe/internal/source"
	"github.com/google/uuid"
)

// Prefix of every container created by a run.
const containerPrefix = "cruxpipe"

// Inputs of a single pipeline run.
type Options struct {
	Config      *Config      // Pipeline configuration. Validated before anything starts.
	Source      *source.Tree // Source tree handed to both stages.
	Registry    string       // Target registry host.
	Image       string       // Image name, lowercased before use.
	Tags        string       // Comma-separated tag specification.
	Credentials *Credentials // Registry credentials. Nil builds a local image only.
	Output      string       // Directory for the image archive. Empty uses a temporary directory.
	RunID       string       // Identifier used in container names. Empty generates one.
	HTTPClient  *http.Client // Client for tool downloads. Nil uses the default client.
}

// Outcome of a pipeline run.
type Result struct {
	RunID     string      // Identifier of the run.
	Name      ImageName   // Normalized image name.
	Tags      []string    // Resolved tags, in publish order.
	Image     *Image      // Committed runtime image.
	Published []Published // One entry per tag when publishing, nil for local runs.
}

// Whether the run ended with a local image instead of a publish.
func (r *Result) Local() bool {
	return r.Published == nil
}

// Returns the digest-qualified references of successful pushes, in tag order.
func (r *Result) References() []string {
	var refs []string
	for _, p := range r.Published {
		if p.Err == nil && p.Reference != "" {
			refs = append(refs, p.Reference)
		}
	}
	return refs
}

// Runs the pipeline end to end.
//
// Tags and configuration are checked before any container starts. The build
// stage runs to completion before the runtime stage starts, and the runtime
// image is committed before anything is pushed. Every container created by
// the run is destroyed before Run returns. When opts.Credentials is nil the
// committed image is returned without contacting the registry and reg may be
// nil.
func Run(ctx context.Context, eng Engine, reg Registry, opts Options) (*Result, error) {
	r, err := newRun(opts)
	if err != nil {
		return nil, err
	}
	defer r.cleanup(context.WithoutCancel(ctx))

	slog.Info("pipeline started",
		"run", r.id,
		"image", r.name.Repository(),
		"tags", r.tags,
		"publish", opts.Credentials != nil,
	)

	artifact, err := r.build(ctx, eng)
	if err != nil {
		return nil, err
	}

	img, err := r.assemble(ctx, eng, artifact)
	if err != nil {
		return nil, err
	}

	result := &Result{
		RunID: r.id,
		Name:  r.name,
		Tags:  r.tags,
		Image: img,
	}

	if opts.Credentials == nil {
		slog.Info("no credentials, skipping publish", "archive", img.Archive)
		return result, nil
	}

	if reg == nil {
		return result, wrapf(ErrPublishFailed, "no registry client")
	}

	creds := *opts.Credentials
	creds.Registry = strings.TrimSpace(creds.Registry)
	if creds.Registry == "" {
		creds.Registry = r.name.Registry
	}

	pub := NewPublisher(reg, r.cfg.Publish)
	result.Published, err = pub.Publish(ctx, img, r.name, r.tags, creds)
	if err != nil {
		return result, err
	}

	slog.Info("pipeline finished", "run", r.id, "published", len(result.References()))
	return result, nil
}

// State of one run.
type run struct {
	id         string           // Run identifier.
	cfg        *Config          // Validated configuration.
	name       ImageName        // Normalized image name.
	tags       []string         // Resolved tags.
	buildSrc   *source.Tree     // Source view copied into the build stage.
	runtimeSrc *source.Tree     // Source view copied into the runtime image, nil when not copied.
	revision   *source.Revision // Commit of the source tree, nil outside a repository.
	output     string           // Directory receiving the image archive.
	fetcher    *toolFetcher     // Tool downloader.
	containers []Container      // Containers to destroy when the run ends.
}

// Checks the inputs and prepares a run without starting anything.
func newRun(opts Options) (*run, error) {
	if opts.Config == nil {
		return nil, wrapf(ErrInvalidConfig, "no configuration")
	}
	if opts.Source == nil {
		return nil, wrapf(ErrInvalidConfig, "no source tree")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	cfg := opts.Config
	tags, err := ResolveTags(opts.Tags, TagOptions{
		KeepDuplicates: cfg.Publish.KeepDuplicates,
		Floating:       cfg.Publish.Floating,
	})
	if err != nil {
		return nil, err
	}

	r := &run{
		id:      opts.RunID,
		cfg:     cfg,
		name:    NormalizeImageName(opts.Registry, opts.Image),
		tags:    tags,
		output:  opts.Output,
		fetcher: &toolFetcher{client: opts.HTTPClient},
	}
	if r.id == "" {
		r.id = uuid.NewString()[:8]
	}

	if r.buildSrc, err = view(opts.Source, cfg.Build.Include, cfg.Build.Exclude); err != nil {
		return nil, err
	}
	if s := cfg.Runtime.Source; s != nil {
		if r.runtimeSrc, err = view(opts.Source, s.Include, s.Exclude); err != nil {
			return nil, err
		}
	}

	r.revision, err = opts.Source.Revision()
	if err != nil && !errors.Is(err, source.ErrNoRevision) {
		slog.Warn("failed to read source revision", "error", err)
	}

	if r.output == "" {
		if r.output, err = os.MkdirTemp("", containerPrefix+"-"); err != nil {
			return nil, err
		}
	} else if err := os.MkdirAll(r.output, 0o755); err != nil {
		return nil, err
	}

	return r, nil
}

// Narrows the source tree to the included paths minus the excluded ones.
func view(src *source.Tree, include, exclude []string) (*source.Tree, error) {
	included, err := src.Include(include...)
	if err != nil {
		return nil, wrap(ErrInvalidConfig, err)
	}
	filtered, err := included.Filter(exclude...)
	if err != nil {
		return nil, wrap(ErrInvalidConfig, err)
	}
	return filtered, nil
}

// Starts a stage container and registers it for cleanup.
func (r *run) start(ctx context.Context, eng Engine, image, stage string) (Container, error) {
	id := fmt.Sprintf("%s-%s-%s", containerPrefix, r.id, stage)

	ctr, err := eng.Start(ctx, image, id)
	if err != nil {
		return nil, &StepError{
			Stage:    stage,
			Section:  "start",
			Index:    1,
			Command:  []string{"start", image},
			ExitCode: -1,
			Err:      err,
		}
	}

	r.containers = append(r.containers, ctr)
	slog.Debug("container started", "stage", stage, "id", id, "image", image)
	return ctr, nil
}

// Destroys every container started by the run.
func (r *run) cleanup(ctx context.Context) {
	for _, ctr := range r.containers {
		ctr.Destroy(ctx)
	}
	r.containers = nil
}

// Returns the references recorded inside the image archive.
func (r *run) references() []string {
	refs := make([]string, len(r.tags))
	for i, tag := range r.tags {
		refs[i] = r.name.Reference(tag)
	}
	return refs
}
