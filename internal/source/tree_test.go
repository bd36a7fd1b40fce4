package source

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func newTree(t *testing.T) *Tree {
	t.Helper()
	tree, err := FromMap(map[string]string{
		"package.json":             "{}",
		"src/index.ts":             "export {}",
		"src/index.test.ts":        "test()",
		"node_modules/left/pad.js": "pad",
		"dist/app.js":              "built",
		".git/HEAD":                "ref: refs/heads/main",
		"server/index.js":          "listen()",
		"server/lib/util.test.js":  "test()",
	})
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func TestFilter(t *testing.T) {
	tree := newTree(t)

	filtered, err := tree.Filter("node_modules/", "dist", ".git", "**/*.test.*")
	if err != nil {
		t.Fatal(err)
	}

	files, err := filtered.Files()
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"package.json", "server/index.js", "src/index.ts"}
	if !slices.Equal(files, want) {
		t.Errorf("files = %v, want %v", files, want)
	}
}

func TestFilterLeavesReceiverUnchanged(t *testing.T) {
	tree := newTree(t)

	if _, err := tree.Filter("src"); err != nil {
		t.Fatal(err)
	}

	if tree.Excluded("src/index.ts") {
		t.Error("original tree was narrowed")
	}
	if len(tree.Excludes()) != 0 {
		t.Errorf("excludes = %v, want none", tree.Excludes())
	}
}

func TestFilterDeduplicatesPatterns(t *testing.T) {
	tree := newTree(t)

	filtered, err := tree.Filter("dist", "dist/", "/dist")
	if err != nil {
		t.Fatal(err)
	}
	narrower, err := filtered.Filter("dist")
	if err != nil {
		t.Fatal(err)
	}

	if got := narrower.Excludes(); !slices.Equal(got, []string{"dist"}) {
		t.Errorf("excludes = %v", got)
	}
}

func TestFilterBadPattern(t *testing.T) {
	_, err := newTree(t).Filter("[")
	if !errors.Is(err, ErrBadPattern) {
		t.Errorf("expected ErrBadPattern, got %v", err)
	}
}

func TestInclude(t *testing.T) {
	tests := []struct {
		name    string
		include []string
		want    []string
	}{
		{"directory selects its contents", []string{"src"}, []string{"src/index.test.ts", "src/index.ts"}},
		{"file pattern", []string{"*.json"}, []string{"package.json"}},
		{"recursive pattern", []string{"**/*.js"}, []string{"dist/app.js", "node_modules/left/pad.js", "server/index.js", "server/lib/util.test.js"}},
		{"several patterns", []string{"package.json", "server/"}, []string{"package.json", "server/index.js", "server/lib/util.test.js"}},
		{"no patterns keeps everything", nil, []string{".git/HEAD", "dist/app.js", "node_modules/left/pad.js", "package.json", "server/index.js", "server/lib/util.test.js", "src/index.test.ts", "src/index.ts"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			included, err := newTree(t).Include(tt.include...)
			if err != nil {
				t.Fatal(err)
			}
			files, err := included.Files()
			if err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(files, tt.want) {
				t.Errorf("files = %v, want %v", files, tt.want)
			}
		})
	}
}

func TestIncludeWithExclude(t *testing.T) {
	included, err := newTree(t).Include("src", "server")
	if err != nil {
		t.Fatal(err)
	}
	tree, err := included.Filter("**/*.test.*")
	if err != nil {
		t.Fatal(err)
	}

	files, err := tree.Files()
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"server/index.js", "src/index.ts"}; !slices.Equal(files, want) {
		t.Errorf("files = %v, want %v", files, want)
	}
}

func TestIncludeNarrowsAcrossCalls(t *testing.T) {
	first, err := newTree(t).Include("server", "src")
	if err != nil {
		t.Fatal(err)
	}
	second, err := first.Include("**/lib")
	if err != nil {
		t.Fatal(err)
	}

	files, err := second.Files()
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"server/lib/util.test.js"}; !slices.Equal(files, want) {
		t.Errorf("files = %v, want %v", files, want)
	}
	if got := second.Includes(); !slices.Equal(got, []string{"server", "src", "**/lib"}) {
		t.Errorf("includes = %v", got)
	}
}

func TestIncludeLeavesReceiverUnchanged(t *testing.T) {
	tree := newTree(t)

	if _, err := tree.Include("src"); err != nil {
		t.Fatal(err)
	}

	if !tree.Included("package.json") {
		t.Error("original tree was narrowed")
	}
	if len(tree.Includes()) != 0 {
		t.Errorf("includes = %v, want none", tree.Includes())
	}
}

func TestIncludeBadPattern(t *testing.T) {
	_, err := newTree(t).Include("src/[")
	if !errors.Is(err, ErrBadPattern) {
		t.Errorf("expected ErrBadPattern, got %v", err)
	}
}

func TestWriteTarIncludeOnly(t *testing.T) {
	tree, err := newTree(t).Include("server/lib")
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := tree.WriteTar(context.Background(), &buf); err != nil {
		t.Fatal(err)
	}

	var names []string
	tr := tar.NewReader(&buf)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, h.Name)
	}

	want := []string{"server/lib/", "server/lib/util.test.js"}
	if !slices.Equal(names, want) {
		t.Errorf("entries = %v, want %v", names, want)
	}
}

func TestWriteTar(t *testing.T) {
	tree, err := newTree(t).Filter("node_modules", "dist", ".git", "server")
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := tree.WriteTar(context.Background(), &buf); err != nil {
		t.Fatal(err)
	}

	entries := map[string]string{}
	tr := tar.NewReader(&buf)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if h.Uid != 0 || h.Gid != 0 {
			t.Errorf("%s owned by %d:%d", h.Name, h.Uid, h.Gid)
		}
		data, _ := io.ReadAll(tr)
		entries[h.Name] = string(data)
	}

	if entries["src/index.ts"] != "export {}" {
		t.Errorf("src/index.ts = %q", entries["src/index.ts"])
	}
	if _, ok := entries["src/"]; !ok {
		t.Error("missing directory entry src/")
	}
	for name := range entries {
		if name == "dist/app.js" || name == "server/index.js" {
			t.Errorf("excluded entry %s in archive", name)
		}
	}
}

func TestWriteTarCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTree(t).WriteTar(ctx, io.Discard)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestFileWriteTar(t *testing.T) {
	var buf bytes.Buffer
	f := File{Name: "default.conf", Data: []byte("server {}"), Mode: 0o644}
	if err := f.WriteTar(context.Background(), &buf); err != nil {
		t.Fatal(err)
	}

	tr := tar.NewReader(&buf)
	h, err := tr.Next()
	if err != nil {
		t.Fatal(err)
	}
	if h.Name != "default.conf" || h.Mode != 0o644 || h.Size != 9 {
		t.Errorf("header = %+v", h)
	}
	data, _ := io.ReadAll(tr)
	if string(data) != "server {}" {
		t.Errorf("data = %q", data)
	}
	if _, err := tr.Next(); err != io.EOF {
		t.Errorf("expected a single entry, got %v", err)
	}
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}

	tree, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if tree.Root() != dir {
		t.Errorf("root = %q, want %q", tree.Root(), dir)
	}

	files, err := tree.Files()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(files, []string{"a.txt"}) {
		t.Errorf("files = %v", files)
	}
}

func TestOpenNotDirectory(t *testing.T) {
	name := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(name, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Open(name); !errors.Is(err, ErrSource) {
		t.Errorf("expected ErrSource, got %v", err)
	}
}
