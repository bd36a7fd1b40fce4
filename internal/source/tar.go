package source

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"

	"github.com/go-git/go-billy/v5"
)

// Streams the visible entries as a tar archive.
//
// Entry names are relative to the tree root. Ownership is reset to root so
// the archive does not depend on the host user. The walk stops as soon as
// ctx is cancelled.
func (t *Tree) WriteTar(ctx context.Context, w io.Writer) error {
	tw := tar.NewWriter(w)

	err := t.Walk(func(rel string, info fs.FileInfo) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return t.writeEntry(tw, rel, info)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSource, err)
	}

	return tw.Close()
}

// Writes a single file, directory, or symlink entry.
func (t *Tree) writeEntry(tw *tar.Writer, rel string, info fs.FileInfo) error {
	link := ""
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := t.readlink(rel)
		if err != nil {
			return err
		}
		link = target
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = rel
	if info.IsDir() {
		header.Name += "/"
	}
	header.Uid, header.Gid = 0, 0
	header.Uname, header.Gname = "", ""

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if !info.Mode().IsRegular() {
		return nil
	}

	f, err := t.fs.Open(rel)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(tw, f)
	return err
}

// Reads a symlink target when the filesystem supports links.
func (t *Tree) readlink(rel string) (string, error) {
	sl, ok := t.fs.(billy.Symlink)
	if !ok {
		return "", fmt.Errorf("symlink %s: filesystem does not support links", rel)
	}
	return sl.Readlink(rel)
}

// A single in-memory file streamed as a one-entry tar archive.
type File struct {
	Name string // Entry name, relative to the extraction directory.
	Data []byte // File contents.
	Mode int64  // Permission bits.
}

func (f File) WriteTar(ctx context.Context, w io.Writer) error {
	tw := tar.NewWriter(w)
	if err := tw.WriteHeader(&tar.Header{
		Name:     f.Name,
		Mode:     f.Mode,
		Size:     int64(len(f.Data)),
		Typeflag: tar.TypeReg,
	}); err != nil {
		return err
	}
	if _, err := tw.Write(f.Data); err != nil {
		return err
	}
	return tw.Close()
}
