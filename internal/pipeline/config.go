package pipeline

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

const (

	// Shell used for run steps when none is set.
	DefaultShell = "/bin/sh"

	// Directory the source tree is copied to in the build container.
	DefaultBuildWorkdir = "/src"

	// Mode given to fetched tools when none is set.
	DefaultToolMode = 0o755

	// Mode given to literal files when none is set.
	DefaultFileMode = 0o644
)

// Complete description of one build-and-publish pipeline.
type Config struct {
	Build   BuildConfig   `yaml:"build" toml:"build"`
	Runtime RuntimeConfig `yaml:"runtime" toml:"runtime"`
	Publish PublishConfig `yaml:"publish" toml:"publish"`
}

// A command or a modifier.
//
// A step with Run or Exec is an operation; its modifiers apply to that
// operation only. A step with neither persists its modifiers for every
// following step in the same section.
type Step struct {
	Run     string            `yaml:"run,omitempty" toml:"run,omitempty"`         // Shell command, run as "shell -c run".
	Exec    []string          `yaml:"exec,omitempty" toml:"exec,omitempty"`       // Command vector, run without a shell.
	Env     map[string]string `yaml:"env,omitempty" toml:"env,omitempty"`         // Environment overrides.
	Workdir string            `yaml:"workdir,omitempty" toml:"workdir,omitempty"` // Working directory, created if missing.
	Shell   string            `yaml:"shell,omitempty" toml:"shell,omitempty"`     // Shell used for Run.
	User    string            `yaml:"user,omitempty" toml:"user,omitempty"`       // User to run as.
	Timeout Duration          `yaml:"timeout,omitempty" toml:"timeout,omitempty"` // Deadline for the operation.
}

// Whether the step runs a command.
func (s Step) IsOperation() bool {
	return s.Run != "" || len(s.Exec) > 0
}

// Ephemeral stage that turns the source tree into an artifact directory.
type BuildConfig struct {
	Base     string            `yaml:"base" toml:"base"`                           // Build environment image.
	Workdir  string            `yaml:"workdir,omitempty" toml:"workdir,omitempty"` // Where the source tree is copied.
	Env      map[string]string `yaml:"env,omitempty" toml:"env,omitempty"`         // Environment for every step.
	Include  []string          `yaml:"include,omitempty" toml:"include,omitempty"` // Source patterns copied, everything when empty.
	Exclude  []string          `yaml:"exclude,omitempty" toml:"exclude,omitempty"` // Source patterns left out of the copy.
	Steps    []Step            `yaml:"steps" toml:"steps"`                         // Commands run in order.
	Artifact string            `yaml:"artifact" toml:"artifact"`                   // Directory handed to the runtime stage, relative to Workdir.
}

// Final image assembled from a runtime base, the artifact, and the source.
type RuntimeConfig struct {
	Base        string             `yaml:"base" toml:"base"`
	Provision   []Step             `yaml:"provision,omitempty" toml:"provision,omitempty"`
	Tools       []Tool             `yaml:"tools,omitempty" toml:"tools,omitempty"`
	Workdir     string             `yaml:"workdir,omitempty" toml:"workdir,omitempty"`
	Artifact    string             `yaml:"artifact" toml:"artifact"` // Destination of the build artifact.
	Source      *SourceCopy        `yaml:"source,omitempty" toml:"source,omitempty"`
	Remove      []string           `yaml:"remove,omitempty" toml:"remove,omitempty"`
	Files       []File             `yaml:"files,omitempty" toml:"files,omitempty"`
	Install     []Step             `yaml:"install,omitempty" toml:"install,omitempty"`
	Ownership   *Ownership         `yaml:"ownership,omitempty" toml:"ownership,omitempty"`
	User        string             `yaml:"user,omitempty" toml:"user,omitempty"`
	CommandEnv  map[string]string  `yaml:"command_env,omitempty" toml:"command_env,omitempty"` // Environment for provision and install steps, not recorded in the image.
	Env         map[string]string  `yaml:"env,omitempty" toml:"env,omitempty"`                 // Environment recorded in the image.
	Expose      []int              `yaml:"expose,omitempty" toml:"expose,omitempty"`
	Healthcheck *HealthcheckConfig `yaml:"healthcheck,omitempty" toml:"healthcheck,omitempty"`
	Entrypoint  []string           `yaml:"entrypoint,omitempty" toml:"entrypoint,omitempty"`
	Cmd         []string           `yaml:"cmd,omitempty" toml:"cmd,omitempty"`
	Labels      map[string]string  `yaml:"labels,omitempty" toml:"labels,omitempty"`
}

// Filtered copy of the source tree into the runtime image.
type SourceCopy struct {
	Path    string   `yaml:"path" toml:"path"`
	Include []string `yaml:"include,omitempty" toml:"include,omitempty"`
	Exclude []string `yaml:"exclude,omitempty" toml:"exclude,omitempty"`
}

// Literal file written into the runtime image.
type File struct {
	Path     string `yaml:"path" toml:"path"`
	Contents string `yaml:"contents" toml:"contents"`
	Mode     int64  `yaml:"mode,omitempty" toml:"mode,omitempty"`
}

// Recursive ownership change applied after every copy.
type Ownership struct {
	User  string   `yaml:"user" toml:"user"` // "user" or "user:group".
	Paths []string `yaml:"paths" toml:"paths"`
}

// Health probe recorded in the image.
type HealthcheckConfig struct {
	Test        []string `yaml:"test" toml:"test"`
	Interval    Duration `yaml:"interval,omitempty" toml:"interval,omitempty"`
	Timeout     Duration `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	StartPeriod Duration `yaml:"start_period,omitempty" toml:"start_period,omitempty"`
	Retries     int      `yaml:"retries,omitempty" toml:"retries,omitempty"`
}

// Publish behaviour.
type PublishConfig struct {
	Policy         Policy   `yaml:"policy,omitempty" toml:"policy,omitempty"`
	Concurrency    int      `yaml:"concurrency,omitempty" toml:"concurrency,omitempty"`
	Rate           float64  `yaml:"rate,omitempty" toml:"rate,omitempty"` // Push starts per second, 0 for unlimited.
	KeepDuplicates bool     `yaml:"keep_duplicates,omitempty" toml:"keep_duplicates,omitempty"`
	Floating       bool     `yaml:"floating,omitempty" toml:"floating,omitempty"`
	PushTimeout    Duration `yaml:"push_timeout,omitempty" toml:"push_timeout,omitempty"`
	PlainHTTP      bool     `yaml:"plain_http,omitempty" toml:"plain_http,omitempty"`
}

// A time.Duration that decodes from strings such as "30s".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Returns a configuration with every default filled in.
func Default() *Config {
	return &Config{
		Build: BuildConfig{
			Workdir: DefaultBuildWorkdir,
		},
		Publish: PublishConfig{
			Policy:      PolicyFailFast,
			Concurrency: 1,
		},
	}
}

// Checks the configuration for errors that would only surface mid-run.
//
// All problems are reported together, wrapped in [ErrInvalidConfig].
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Build.Base == "" {
		add("build.base is required")
	}
	if c.Build.Artifact == "" {
		add("build.artifact is required")
	}
	if c.Build.Workdir != "" && !path.IsAbs(c.Build.Workdir) {
		add("build.workdir %q must be absolute", c.Build.Workdir)
	}
	errs = append(errs, validateSteps("build.steps", c.Build.Steps)...)

	rt := c.Runtime
	if rt.Base == "" {
		add("runtime.base is required")
	}
	if rt.Workdir != "" && !path.IsAbs(rt.Workdir) {
		add("runtime.workdir %q must be absolute", rt.Workdir)
	}
	if rt.Artifact == "" {
		add("runtime.artifact is required")
	} else if !path.IsAbs(rt.Artifact) && rt.Workdir == "" {
		add("runtime.artifact %q is relative and runtime.workdir is not set", rt.Artifact)
	}
	if rt.Source != nil && rt.Source.Path == "" {
		add("runtime.source.path is required")
	} else if rt.Source != nil && !path.IsAbs(rt.Source.Path) && rt.Workdir == "" {
		add("runtime.source.path %q is relative and runtime.workdir is not set", rt.Source.Path)
	}
	errs = append(errs, validateSteps("runtime.provision", rt.Provision)...)
	errs = append(errs, validateSteps("runtime.install", rt.Install)...)

	for i, t := range rt.Tools {
		if err := t.validate(); err != nil {
			add("runtime.tools[%d]: %w", i, err)
		}
	}
	for i, f := range rt.Files {
		if !path.IsAbs(f.Path) {
			add("runtime.files[%d]: path %q must be absolute", i, f.Path)
		}
	}
	for i, p := range rt.Remove {
		if !path.IsAbs(p) {
			add("runtime.remove[%d]: path %q must be absolute", i, p)
		}
	}

	if o := rt.Ownership; o != nil {
		if o.User == "" {
			add("runtime.ownership.user is required")
		}
		if len(o.Paths) == 0 {
			add("runtime.ownership.paths is empty")
		}
		for _, p := range o.Paths {
			if !path.IsAbs(p) {
				add("runtime.ownership path %q must be absolute", p)
			}
		}
	}

	for _, port := range rt.Expose {
		if port < 1 || port > 65535 {
			add("runtime.expose: port %d out of range", port)
		}
	}

	if h := rt.Healthcheck; h != nil {
		if len(h.Test) == 0 {
			add("runtime.healthcheck.test is required")
		}
		if h.Retries < 0 {
			add("runtime.healthcheck.retries must not be negative")
		}
		if h.StartPeriod <= 0 {
			add("runtime.healthcheck.start_period must be positive")
		}
		if h.Interval < 0 || h.Timeout < 0 {
			add("runtime.healthcheck durations must not be negative")
		}
	}

	p := c.Publish
	switch p.Policy {
	case "", PolicyFailFast, PolicyBestEffort:
	default:
		add("publish.policy %q is not one of %q, %q", p.Policy, PolicyFailFast, PolicyBestEffort)
	}
	if p.Concurrency < 0 {
		add("publish.concurrency must not be negative")
	}
	if p.Rate < 0 {
		add("publish.rate must not be negative")
	}
	if p.PushTimeout < 0 {
		add("publish.push_timeout must not be negative")
	}

	if len(errs) == 0 {
		return nil
	}
	return wrap(ErrInvalidConfig, errors.Join(errs...))
}

// Returns the build artifact path inside the build container.
func (c *Config) buildArtifact() string {
	return resolvePath(c.Build.Workdir, c.Build.Artifact)
}

// Returns the artifact destination inside the runtime image.
func (c *Config) runtimeArtifact() string {
	return resolvePath(c.Runtime.Workdir, c.Runtime.Artifact)
}

// Checks every step in a section.
func validateSteps(section string, steps []Step) []error {
	var errs []error
	for i, s := range steps {
		if s.Run != "" && len(s.Exec) > 0 {
			errs = append(errs, fmt.Errorf("%s[%d]: run and exec are mutually exclusive", section, i))
		}
		if s.Workdir != "" && !path.IsAbs(s.Workdir) {
			errs = append(errs, fmt.Errorf("%s[%d]: workdir %q must be absolute", section, i, s.Workdir))
		}
		if s.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s[%d]: timeout must not be negative", section, i))
		}
		if !s.IsOperation() && s.Timeout != 0 {
			errs = append(errs, fmt.Errorf("%s[%d]: timeout applies to operations only", section, i))
		}
	}
	return errs
}

// Joins p to dir unless it is already absolute.
func resolvePath(dir, p string) string {
	if path.IsAbs(p) || dir == "" {
		return path.Clean(p)
	}
	return path.Join(dir, p)
}

// Verifies that a tool checksum is a well-formed sha256 digest.
func parseChecksum(s string) (digest.Digest, error) {
	if !strings.Contains(s, ":") {
		s = string(digest.SHA256) + ":" + s
	}
	d, err := digest.Parse(s)
	if err != nil {
		return "", err
	}
	if d.Algorithm() != digest.SHA256 {
		return "", fmt.Errorf("unsupported checksum algorithm %q", d.Algorithm())
	}
	return d, nil
}
