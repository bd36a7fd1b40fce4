package cli

import (
	"context"
	"os"

	"github.com/cruciblehq/cruxpipe/internal/job"
	"github.com/cruciblehq/cruxpipe/internal/pipeline"
	"gopkg.in/yaml.v3"
)

// Represents the 'cruxpipe plan' command.
type PlanCmd struct {
	targetFlags `embed:""`

	Config bool   `help:"Print the effective pipeline configuration instead of the plan."`
	Format string `enum:"yaml,toml" default:"yaml" help:"Configuration output format (yaml or toml)."`
}

// Executes the plan command.
//
// Tags and configuration are resolved exactly as a run would; nothing is
// started and no secret is read.
func (c *PlanCmd) Run(ctx context.Context) error {
	req := c.request()
	if err := req.Validate(); err != nil {
		return err
	}

	if c.Config {
		cfg, err := job.LoadConfig(req)
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

	plan, err := job.Plan(req)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(plan)
}
