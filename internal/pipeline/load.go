package pipeline

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Encoding of a configuration document.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

//go:embed presets/*.yaml
var presets embed.FS

// Infers the format from a file name, defaulting to YAML.
func FormatOf(name string) Format {
	if strings.EqualFold(filepath.Ext(name), ".toml") {
		return FormatTOML
	}
	return FormatYAML
}

// Decodes a configuration document on top of the defaults.
//
// Unknown keys are rejected. The result is not validated.
func Parse(data []byte, format Format) (*Config, error) {
	cfg := Default()

	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, wrap(ErrInvalidConfig, err)
		}
	case FormatYAML, "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, wrap(ErrInvalidConfig, err)
		}
	default:
		return nil, wrapf(ErrInvalidConfig, "unsupported format %q", format)
	}

	return cfg, nil
}

// Reads and validates a configuration file.
func Load(name string) (*Config, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, wrap(ErrInvalidConfig, err)
	}

	cfg, err := Parse(data, FormatOf(name))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return cfg, nil
}

// Returns a validated copy of a built-in configuration.
func Preset(name string) (*Config, error) {
	data, err := presets.ReadFile(path.Join("presets", name+".yaml"))
	if err != nil {
		return nil, wrapf(ErrInvalidConfig, "unknown preset %q (available: %s)", name, strings.Join(Presets(), ", "))
	}

	cfg, err := Parse(data, FormatYAML)
	if err != nil {
		return nil, fmt.Errorf("preset %s: %w", name, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("preset %s: %w", name, err)
	}
	return cfg, nil
}

// Lists the built-in configurations.
func Presets() []string {
	entries, _ := fs.ReadDir(presets, "presets")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	slices.Sort(names)
	return names
}

// Encodes a configuration in the given format.
func Marshal(cfg *Config, format Format) ([]byte, error) {
	if format == FormatTOML {
		return toml.Marshal(cfg)
	}
	return yaml.Marshal(cfg)
}
