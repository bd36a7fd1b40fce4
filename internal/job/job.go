package job

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/cruciblehq/cruxpipe/internal"
	"github.com/cruciblehq/cruxpipe/internal/docker"
	"github.com/cruciblehq/cruxpipe/internal/paths"
	"github.com/cruciblehq/cruxpipe/internal/pipeline"
	"github.com/cruciblehq/cruxpipe/internal/registry"
	"github.com/cruciblehq/cruxpipe/internal/runtime"
	"github.com/cruciblehq/cruxpipe/internal/secrets"
	"github.com/cruciblehq/cruxpipe/internal/source"
	"github.com/google/uuid"
)

// An engine together with the connection that backs it.
type engine interface {
	pipeline.Engine
	io.Closer
}

// Opens the container engine selected by cfg.
//
// Replaced in tests.
var openEngine = func(cfg EngineConfig) (engine, error) {
	switch cfg.Kind {
	case EngineDocker:
		return docker.New(docker.Config{
			Host:     cfg.Address,
			Platform: cfg.Platform,
		})
	default:
		return runtime.New(runtime.Config{
			Address:     cfg.Address,
			Namespace:   cfg.Namespace,
			Platform:    cfg.Platform,
			Snapshotter: cfg.Snapshotter,
		})
	}
}

// Opens the registry adapter.
//
// Replaced in tests.
var openRegistry = func(plainHTTP bool) pipeline.Registry {
	return registry.New(registry.Config{
		PlainHTTP:  plainHTTP,
		HTTPClient: httpClient(),
	})
}

// Loads the pipeline configuration named by the request.
//
// An explicit file wins over a preset; without either, the user's default
// pipeline file is used. Request overrides are applied and the result is
// validated.
func LoadConfig(req *Request) (*pipeline.Config, error) {
	var (
		cfg *pipeline.Config
		err error
	)
	switch {
	case req.Pipeline != "":
		cfg, err = pipeline.Load(req.Pipeline)
	case req.Preset != "":
		cfg, err = pipeline.Preset(req.Preset)
	default:
		p := paths.PipelineConfig()
		if p == "" {
			return nil, wrapf(ErrNoPipeline, "pass --pipeline or --preset, or create pipeline.yaml in the cruxpipe config directory")
		}
		slog.Debug("using default pipeline configuration", "path", p)
		cfg, err = pipeline.Load(p)
	}
	if err != nil {
		return nil, err
	}

	if req.Policy != "" {
		cfg.Publish.Policy = pipeline.Policy(req.Policy)
	}
	if req.Concurrency > 0 {
		cfg.Publish.Concurrency = req.Concurrency
	}
	if req.PlainHTTP {
		cfg.Publish.PlainHTTP = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Describes what the request would do without starting anything.
func Plan(req *Request) (*pipeline.Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(req)
	if err != nil {
		return nil, err
	}

	tree, err := source.Open(req.Source)
	if err != nil {
		return nil, err
	}
	rev, err := tree.Revision()
	if err != nil && !errors.Is(err, source.ErrNoRevision) {
		slog.Warn("failed to read source revision", "error", err)
	}

	return pipeline.NewPlan(cfg, req.Registry, req.Image, req.Tags, rev)
}

// Executes a request.
//
// The engine connection is opened for the duration of the run. Credentials
// are resolved before any container starts, so a bad secret reference fails
// fast.
func Run(ctx context.Context, req *Request) (*pipeline.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(req)
	if err != nil {
		return nil, err
	}

	tree, err := source.Open(req.Source)
	if err != nil {
		return nil, err
	}

	creds, err := credentials(ctx, req)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()[:8]
	output := req.Output
	if output == "" {
		output = paths.Output(runID)
	}

	eng, err := openEngine(req.Engine)
	if err != nil {
		return nil, wrap(ErrEngine, err)
	}
	defer eng.Close()

	var reg pipeline.Registry
	if creds != nil {
		reg = openRegistry(cfg.Publish.PlainHTTP)
	}

	return pipeline.Run(ctx, eng, reg, pipeline.Options{
		Config:      cfg,
		Source:      tree,
		Registry:    req.Registry,
		Image:       req.Image,
		Tags:        req.Tags,
		Credentials: creds,
		Output:      output,
		RunID:       runID,
		HTTPClient:  httpClient(),
	})
}

// Resolves the registry credentials, or nil for a local build.
func credentials(ctx context.Context, req *Request) (*pipeline.Credentials, error) {
	if !req.Publishes() {
		return nil, nil
	}

	resolver, err := secrets.NewResolver(req.EnvFiles)
	if err != nil {
		return nil, err
	}
	secret, err := resolver.Resolve(ctx, req.PasswordFrom)
	if err != nil {
		return nil, err
	}

	return &pipeline.Credentials{
		Registry: pipeline.NormalizeImageName(req.Registry, req.Image).Registry,
		Username: req.Username,
		Secret:   secret,
	}, nil
}

// Returns an HTTP client that identifies cruxpipe.
func httpClient() *http.Client {
	return &http.Client{Transport: userAgentTransport{base: http.DefaultTransport}}
}

// Sets the User-Agent header on every request that does not carry one.
type userAgentTransport struct {
	base http.RoundTripper
}

func (t userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", internal.UserAgent())
	}
	return t.base.RoundTrip(req)
}
