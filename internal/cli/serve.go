package cli

import (
	"context"
	"log/slog"

	"github.com/cruciblehq/cruxpipe/internal/server"
)

// Represents the 'cruxpipe serve' command.
type ServeCmd struct {
	engineFlags `embed:""`
}

// Executes the serve command.
//
// Starts the daemon on a Unix domain socket and blocks until the context is
// cancelled (e.g. via SIGINT or SIGTERM) or a client asks it to stop.
func (c *ServeCmd) Run(ctx context.Context) error {
	srv := server.New(server.Config{
		SocketPath: RootCmd.Socket,
		Engine:     c.config(),
	})

	if err := srv.Start(); err != nil {
		return err
	}

	slog.Info("cruxpipe daemon is running", "engine", c.Engine)

	select {
	case <-ctx.Done():
	case <-srv.Done():
	}

	slog.Info("shutting down")
	return srv.Stop()
}
