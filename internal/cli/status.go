package cli

import (
	"context"
	"fmt"

	"github.com/cruciblehq/cruxpipe/internal/server"
)

// Represents the 'cruxpipe status' command.
type StatusCmd struct{}

// Executes the status command.
func (c *StatusCmd) Run(ctx context.Context) error {
	status, err := server.Dial(RootCmd.Socket).Status(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("version: %s\npid: %d\nuptime: %s\nruns: %d\n", status.Version, status.Pid, status.Uptime, status.Runs)
	return nil
}

// Represents the 'cruxpipe stop' command.
type StopCmd struct{}

// Executes the stop command.
func (c *StopCmd) Run(ctx context.Context) error {
	return server.Dial(RootCmd.Socket).Shutdown(ctx)
}
