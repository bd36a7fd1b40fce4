package registry

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cruciblehq/cruxpipe/internal"
	"github.com/cruciblehq/cruxpipe/internal/pipeline"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

// Connection settings for registry sessions.
type Config struct {
	PlainHTTP  bool         // Talk plain HTTP instead of HTTPS (local test registries).
	HTTPClient *http.Client // Client used for registry requests. Nil uses the ORAS default.
}

// Opens authenticated sessions against OCI registries.
type Registry struct {
	plainHTTP bool
	client    *http.Client
}

var _ pipeline.Registry = (*Registry)(nil)

// Creates a registry adapter.
func New(cfg Config) *Registry {
	return &Registry{
		plainHTTP: cfg.PlainHTTP,
		client:    cfg.HTTPClient,
	}
}

// Authenticates against the credentials' registry.
//
// The registry's base endpoint is pinged with the credentials attached, so
// a rejected secret is detected before any image data is transferred. Token
// exchanges are cached for the lifetime of the returned session.
func (r *Registry) Authenticate(ctx context.Context, creds pipeline.Credentials) (pipeline.Session, error) {
	reg, err := remote.NewRegistry(creds.Registry)
	if err != nil {
		return nil, wrap(ErrReference, err)
	}

	client := &auth.Client{
		Client: r.client,
		Cache:  auth.NewCache(),
		Credential: auth.StaticCredential(reg.Reference.Registry, auth.Credential{
			Username: creds.Username,
			Password: creds.Secret.Expose(),
		}),
	}
	client.SetUserAgent(internal.UserAgent())

	reg.Client = client
	reg.PlainHTTP = r.plainHTTP

	if err := reg.Ping(ctx); err != nil {
		return nil, classify(err)
	}

	slog.Debug("registry session opened", "registry", creds.Registry, "username", creds.Username)

	return newSession(reg), nil
}
