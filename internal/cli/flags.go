package cli

import (
	"github.com/cruciblehq/cruxpipe/internal/job"
)

// Flags naming what to build and where it goes.
type targetFlags struct {
	Source   string `arg:"" optional:"" default:"." type:"existingdir" help:"Source directory."`
	Pipeline string `short:"f" type:"existingfile" help:"Pipeline configuration file (YAML or TOML)." env:"CRUXPIPE_PIPELINE"`
	Preset   string `short:"p" help:"Built-in pipeline configuration, used when no file is given." env:"CRUXPIPE_PRESET"`
	Registry string `short:"r" help:"Target registry host (e.g. ghcr.io)." env:"CRUXPIPE_REGISTRY"`
	Image    string `short:"i" required:"" help:"Image name (e.g. acme/web)." env:"CRUXPIPE_IMAGE"`
	Tags     string `short:"t" required:"" help:"Comma-separated tags. Text up to the last colon of each is ignored." env:"CRUXPIPE_TAGS"`
	Policy   string `help:"Publish failure policy (fail-fast or best-effort). Overrides the pipeline file." env:"CRUXPIPE_POLICY"`
}

// Flags selecting the container engine.
type engineFlags struct {
	Engine      string `enum:"containerd,docker" default:"containerd" help:"Container engine (containerd or docker)." env:"CRUXPIPE_ENGINE"`
	Address     string `help:"Containerd socket or Docker host. Empty uses the engine default." placeholder:"ADDR" env:"CRUXPIPE_ENGINE_ADDRESS"`
	Namespace   string `help:"Containerd namespace." env:"CRUXPIPE_NAMESPACE"`
	Snapshotter string `help:"Containerd snapshotter." env:"CRUXPIPE_SNAPSHOTTER"`
	Platform    string `help:"Target platform (e.g. linux/amd64). Empty uses the host." env:"CRUXPIPE_PLATFORM"`
}

// Returns the engine configuration selected by the flags.
func (f *engineFlags) config() job.EngineConfig {
	return job.EngineConfig{
		Kind:        f.Engine,
		Address:     f.Address,
		Namespace:   f.Namespace,
		Snapshotter: f.Snapshotter,
		Platform:    f.Platform,
	}
}

// Builds a request from the target flags.
func (f *targetFlags) request() *job.Request {
	return &job.Request{
		Source:   f.Source,
		Pipeline: f.Pipeline,
		Preset:   f.Preset,
		Registry: f.Registry,
		Image:    f.Image,
		Tags:     f.Tags,
		Policy:   f.Policy,
	}
}
