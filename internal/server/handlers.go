package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/cruciblehq/cruxpipe/internal"
	"github.com/cruciblehq/cruxpipe/internal/job"
)

// Handles a run command.
//
// The request is executed with the daemon's default engine unless it names
// one. The run is cancelled if the client disconnects. A result is returned
// alongside a publish error so the client can report per-tag outcomes.
func (s *Server) handleRun(ctx context.Context, conn net.Conn, payload json.RawMessage) {
	req, err := DecodePayload[job.Request](payload)
	if err != nil {
		s.respond(conn, CmdError, &ErrorResult{Message: err.Error()})
		return
	}
	if req.Engine.Kind == "" {
		req.Engine = s.engine
	}

	result, err := s.run(ctx, req)

	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	if err != nil {
		slog.Error("run failed", "image", req.Image, "error", err)
		res := &ErrorResult{Message: err.Error()}
		if result != nil {
			res.Result = NewRunResult(result)
		}
		s.respond(conn, CmdError, res)
		return
	}

	s.respond(conn, CmdOK, NewRunResult(result))
}

// Handles a status command.
func (s *Server) handleStatus(conn net.Conn) {
	s.mu.Lock()
	runs := s.runs
	s.mu.Unlock()

	uptime := time.Since(s.startedAt).Truncate(time.Second)

	s.respond(conn, CmdOK, &StatusResult{
		Running: true,
		Version: internal.VersionString(),
		Pid:     os.Getpid(),
		Uptime:  uptime.String(),
		Runs:    runs,
	})
}

// Handles a shutdown command.
func (s *Server) handleShutdown(conn net.Conn) {
	s.respond(conn, CmdOK, nil)
	slog.Info("shutdown requested")

	go s.Stop()
}
