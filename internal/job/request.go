package job

import (
	"github.com/cruciblehq/cruxpipe/internal/pipeline"
)

// Supported container engines.
const (
	EngineContainerd = "containerd"
	EngineDocker     = "docker"
)

// Container engine selection and connection settings.
type EngineConfig struct {
	Kind        string `json:"kind,omitempty"`        // "containerd" (default) or "docker".
	Address     string `json:"address,omitempty"`     // Containerd socket or Docker host. Empty uses the engine default.
	Namespace   string `json:"namespace,omitempty"`   // Containerd namespace.
	Snapshotter string `json:"snapshotter,omitempty"` // Containerd snapshotter.
	Platform    string `json:"platform,omitempty"`    // Target platform. Empty uses the host.
}

// Everything needed to execute one pipeline run.
//
// The registry secret is carried as a reference (see package secrets) and
// resolved by whichever process executes the request.
type Request struct {
	Source       string       `json:"source"`                  // Source directory.
	Pipeline     string       `json:"pipeline,omitempty"`      // Pipeline configuration file.
	Preset       string       `json:"preset,omitempty"`        // Embedded preset, used when Pipeline is empty.
	Registry     string       `json:"registry"`                // Target registry host.
	Image        string       `json:"image"`                   // Image name.
	Tags         string       `json:"tags"`                    // Comma-separated tag specification.
	Username     string       `json:"username,omitempty"`      // Registry account. Empty builds locally.
	PasswordFrom string       `json:"password_from,omitempty"` // Secret reference for the registry password.
	EnvFiles     []string     `json:"env_files,omitempty"`     // .env files consulted by env: references.
	Output       string       `json:"output,omitempty"`        // Directory for the image archive.
	Policy       string       `json:"policy,omitempty"`        // Publish policy override.
	Concurrency  int          `json:"concurrency,omitempty"`   // Publish concurrency override.
	PlainHTTP    bool         `json:"plain_http,omitempty"`    // Talk plain HTTP to the registry.
	Engine       EngineConfig `json:"engine"`                  // Container engine.
}

// Whether the request asks for a publish.
func (r *Request) Publishes() bool {
	return r.Username != "" || r.PasswordFrom != ""
}

// Checks the request for missing or inconsistent fields.
func (r *Request) Validate() error {
	if r.Source == "" {
		return wrapf(ErrRequest, "source directory is required")
	}
	if pipeline.NormalizeName(r.Image) == "" {
		return wrapf(ErrRequest, "image name is required")
	}
	if r.Publishes() {
		if r.Username == "" || r.PasswordFrom == "" {
			return wrapf(ErrRequest, "publishing needs both a username and a password reference")
		}
		if r.Registry == "" {
			return wrapf(ErrRequest, "publishing needs a registry")
		}
	}
	switch r.Engine.Kind {
	case "", EngineContainerd, EngineDocker:
	default:
		return wrapf(ErrRequest, "unknown engine %q", r.Engine.Kind)
	}
	if r.Policy != "" {
		switch pipeline.Policy(r.Policy) {
		case pipeline.PolicyFailFast, pipeline.PolicyBestEffort:
		default:
			return wrapf(ErrRequest, "unknown publish policy %q", r.Policy)
		}
	}
	if r.Concurrency < 0 {
		return wrapf(ErrRequest, "concurrency must not be negative")
	}
	return nil
}
