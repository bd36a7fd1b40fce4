package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/cruciblehq/cruxpipe/internal/job"
	"github.com/cruciblehq/cruxpipe/internal/paths"
)

// Talks to a running daemon over its Unix socket.
type Client struct {
	socketPath string
}

// Creates a client for the daemon at socketPath. Empty uses the default
// socket. No connection is made until a request is sent.
func Dial(socketPath string) *Client {
	if socketPath == "" {
		socketPath = paths.Socket()
	}
	return &Client{socketPath: socketPath}
}

// Sends a run request and waits for the result.
//
// When publishing fails after the image was committed, the partial result is
// returned together with the error. Cancelling ctx closes the connection,
// which cancels the run on the daemon.
func (c *Client) Run(ctx context.Context, req *job.Request) (*RunResult, error) {
	env, err := c.send(ctx, CmdRun, req)
	if err != nil {
		var re *remoteError
		if errors.As(err, &re) && re.result != nil {
			return re.result, err
		}
		return nil, err
	}
	return DecodePayload[RunResult](env.Payload)
}

// Queries the daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	env, err := c.send(ctx, CmdStatus, nil)
	if err != nil {
		return nil, err
	}
	return DecodePayload[StatusResult](env.Payload)
}

// Asks the daemon to stop.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.send(ctx, CmdShutdown, nil)
	return err
}

// Performs one request-response exchange.
func (c *Client) send(ctx context.Context, cmd Command, payload any) (*Envelope, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemote, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	data, err := Encode(cmd, payload)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemote, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrRemote, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w", ErrRemote, err)
	}

	env, _, err := Decode(line)
	if err != nil {
		return nil, err
	}
	if env.Command == CmdError {
		res, err := DecodePayload[ErrorResult](env.Payload)
		if err != nil {
			return nil, err
		}
		return nil, &remoteError{message: res.Message, result: res.Result}
	}
	return env, nil
}

// Failure reported by the daemon.
type remoteError struct {
	message string     // Error text from the daemon.
	result  *RunResult // Partial run outcome, if any.
}

func (e *remoteError) Error() string {
	return ErrRemote.Error() + ": " + e.message
}

func (e *remoteError) Unwrap() error {
	return ErrRemote
}
