package docker

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/cruciblehq/cruxpipe/internal/pipeline"
	"github.com/cruciblehq/cruxpipe/internal/source"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

// User every internal command (mkdir, tar) runs as.
const rootUser = "0"

// A running stage container backed by the Docker daemon.
type Container struct {
	client     *client.Client // Docker API client.
	id         string         // Container name.
	entrypoint []string       // Entrypoint of the base image, restored at commit.
	cmd        []string       // Default arguments of the base image, restored at commit.
}

// Runs a command vector inside the container.
//
// Docker merges opts.Env over the container environment and resolves user
// and group names itself. A non-zero exit code is reported in the result,
// not as an error.
func (c *Container) Exec(ctx context.Context, argv []string, opts pipeline.ExecOptions) (*pipeline.ExecResult, error) {
	var stdout, stderr bytes.Buffer
	code, err := c.exec(ctx, container.ExecOptions{
		Cmd:        argv,
		Env:        opts.Env,
		WorkingDir: opts.Workdir,
		User:       opts.User,
	}, nil, &stdout, &stderr)
	if err != nil {
		return nil, err
	}

	return &pipeline.ExecResult{
		ExitCode: code,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// Runs a command as root, returning an error that includes desc if the
// process exits with a non-zero code.
func (c *Container) mustExec(ctx context.Context, desc string, stdin io.Reader, stdout io.Writer, args ...string) error {
	var stderr bytes.Buffer
	code, err := c.exec(ctx, container.ExecOptions{Cmd: args, User: rootUser}, stdin, stdout, &stderr)
	if err != nil {
		return err
	}
	if code != 0 {
		return wrapf(ErrDocker, "%s failed with exit code %d (%s)", desc, code, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Creates an exec instance, attaches to it, and waits for it to exit.
//
// Output is demultiplexed into stdout and stderr. When stdin is provided it
// is copied to the process and the write side is closed afterwards so the
// process sees EOF. Cancelling ctx closes the connection.
func (c *Container) exec(ctx context.Context, opts container.ExecOptions, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	opts.AttachStdout = true
	opts.AttachStderr = true
	opts.AttachStdin = stdin != nil

	created, err := c.client.ContainerExecCreate(ctx, c.id, opts)
	if err != nil {
		return 0, wrap(ErrDocker, err)
	}

	resp, err := c.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return 0, wrap(ErrDocker, err)
	}
	defer resp.Close()

	stop := context.AfterFunc(ctx, resp.Close)
	defer stop()

	if stdin != nil {
		go func() {
			io.Copy(resp.Conn, stdin)
			resp.CloseWrite()
		}()
	}

	if _, err := stdcopy.StdCopy(stdout, stderr, resp.Reader); err != nil {
		if ctx.Err() != nil {
			return 0, wrap(ErrDocker, ctx.Err())
		}
		return 0, wrap(ErrDocker, err)
	}
	if ctx.Err() != nil {
		return 0, wrap(ErrDocker, ctx.Err())
	}

	inspect, err := c.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return 0, wrap(ErrDocker, err)
	}
	return inspect.ExitCode, nil
}

// Extracts the tar stream produced by src into dest.
//
// dest is created first, then the archive is streamed to the daemon's
// archive endpoint.
func (c *Container) CopyIn(ctx context.Context, src pipeline.Source, dest string) error {
	if err := c.mustExec(ctx, "mkdir", nil, nil, "mkdir", "-p", dest); err != nil {
		return err
	}

	pr, pw := io.Pipe()

	errc := make(chan error, 1)
	go func() {
		err := src.WriteTar(ctx, pw)
		pw.CloseWithError(err)
		errc <- err
	}()

	copyErr := c.client.CopyToContainer(ctx, c.id, dest, pr, container.CopyToContainerOptions{})
	pr.Close()
	writeErr := <-errc

	if copyErr != nil {
		return wrap(ErrDocker, copyErr)
	}
	if writeErr != nil {
		return wrap(ErrDocker, writeErr)
	}
	return nil
}

// Creates or replaces a single file.
func (c *Container) WriteFile(ctx context.Context, name string, data []byte, mode int64) error {
	return c.CopyIn(ctx, source.File{Name: path.Base(name), Data: data, Mode: mode}, path.Dir(name))
}

// Returns a lazy handle to a directory inside the container.
func (c *Container) Directory(dir string) pipeline.Directory {
	return &directory{ctr: c, path: dir}
}

// Removes the container and its anonymous volumes.
func (c *Container) Destroy(ctx context.Context) {
	err := c.client.ContainerRemove(ctx, c.id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !isNotFound(err) {
		slog.Warn("failed to remove container", "id", c.id, "error", err)
	}
}

// Removes an existing container with this name, if one exists.
func (c *Container) remove(ctx context.Context) {
	c.client.ContainerRemove(ctx, c.id, container.RemoveOptions{Force: true, RemoveVolumes: true})
}

// A directory inside a container, archived on demand.
type directory struct {
	ctr  *Container
	path string
}

func (d *directory) Path() string {
	return d.path
}

// Archives the directory contents by running "tar cf - -C path ." inside
// the container and streaming the output to w.
func (d *directory) WriteTar(ctx context.Context, w io.Writer) error {
	return d.ctr.mustExec(ctx, "tar archive", nil, w, "tar", "cf", "-", "-C", d.path, ".")
}
