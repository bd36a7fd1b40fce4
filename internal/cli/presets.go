package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/cruciblehq/cruxpipe/internal/pipeline"
)

// Represents the 'cruxpipe presets' command.
type PresetsCmd struct {
	Name   string `arg:"" optional:"" help:"Preset to print."`
	Format string `enum:"yaml,toml" default:"yaml" help:"Output format (yaml or toml)."`
}

// Executes the presets command.
func (c *PresetsCmd) Run(ctx context.Context) error {
	if c.Name == "" {
		for _, name := range pipeline.Presets() {
			fmt.Println(name)
		}
		return nil
	}

	cfg, err := pipeline.Preset(c.Name)
	if err != nil {
		return err
	}

	data, err := pipeline.Marshal(cfg, pipeline.Format(c.Format))
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}
