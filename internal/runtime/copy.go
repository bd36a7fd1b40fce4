package runtime

import (
	"context"
	"io"
	"path"

	"github.com/cruciblehq/cruxpipe/internal/pipeline"
	"github.com/cruciblehq/cruxpipe/internal/source"
)

// Extracts the tar stream produced by src into dest.
//
// dest is created first. The archive is streamed through a pipe into
// "tar xf - -C dest" running as root, so nothing is buffered on the host.
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

	copyErr := c.mustExec(ctx, "tar extract", pr, nil, "tar", "xf", "-", "-C", dest)
	pr.Close()
	writeErr := <-errc

	if copyErr != nil {
		return copyErr
	}
	if writeErr != nil {
		return wrap(ErrRuntime, writeErr)
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
