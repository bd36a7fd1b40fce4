package source

import (
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// Root of every walk, in billy terms.
const walkRoot = "/"

// A read-only view of a source directory.
type Tree struct {
	fs      billy.Filesystem // Backing filesystem, rooted at the tree root.
	root    string           // Absolute host path, empty for in-memory trees.
	exclude []string         // Cleaned exclude patterns.
	include [][]string       // Cleaned include patterns, one group per Include call.
}

// Opens a host directory as a source tree.
func Open(dir string) (*Tree, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSource, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSource, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSource, abs)
	}

	return &Tree{fs: osfs.New(abs), root: abs}, nil
}

// Wraps an existing filesystem as a source tree.
func New(fsys billy.Filesystem) *Tree {
	return &Tree{fs: fsys}
}

// Creates an in-memory source tree from a map of path to contents.
func FromMap(files map[string]string) (*Tree, error) {
	mem := memfs.New()
	for _, name := range slices.Sorted(maps.Keys(files)) {
		if err := util.WriteFile(mem, name, []byte(files[name]), 0o644); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrSource, err)
		}
	}
	return New(mem), nil
}

// Returns a view that additionally hides paths matching any of the patterns.
//
// The receiver is left unchanged.
func (t *Tree) Filter(exclude ...string) (*Tree, error) {
	narrowed := t.clone()
	for _, p := range exclude {
		clean, err := cleanPattern(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrBadPattern, p, err)
		}
		if clean != "" && !slices.Contains(narrowed.exclude, clean) {
			narrowed.exclude = append(narrowed.exclude, clean)
		}
	}
	return narrowed, nil
}

// Returns a view that only shows paths matching at least one of the
// patterns.
//
// A pattern that matches a directory selects everything below it. Calling
// Include on a view that already has include patterns narrows it further: a
// path must then be selected by every call. Without patterns the view is
// an unchanged copy. The receiver is left unchanged.
func (t *Tree) Include(include ...string) (*Tree, error) {
	narrowed := t.clone()

	var group []string
	for _, p := range include {
		clean, err := cleanPattern(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %w", ErrBadPattern, p, err)
		}
		if clean != "" && !slices.Contains(group, clean) {
			group = append(group, clean)
		}
	}
	if len(group) > 0 {
		narrowed.include = append(narrowed.include, group)
	}
	return narrowed, nil
}

func (t *Tree) clone() *Tree {
	return &Tree{
		fs:      t.fs,
		root:    t.root,
		exclude: slices.Clone(t.exclude),
		include: slices.Clone(t.include),
	}
}

// Host directory backing the tree, empty for in-memory trees.
func (t *Tree) Root() string {
	return t.root
}

// Exclude patterns in effect.
func (t *Tree) Excludes() []string {
	return slices.Clone(t.exclude)
}

// Reports whether a relative path is hidden by the exclude patterns.
func (t *Tree) Excluded(rel string) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	for _, p := range t.exclude {
		if Match(p, rel) {
			return true
		}
	}
	return false
}

// Include patterns in effect, flattened in call order.
func (t *Tree) Includes() []string {
	return slices.Concat(t.include...)
}

// Reports whether a relative path is selected by the include patterns.
//
// A path is selected when it or one of its parent directories matches a
// pattern from every Include call. A tree without include patterns
// selects everything.
func (t *Tree) Included(rel string) bool {
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	for _, group := range t.include {
		if !matchSelfOrParent(group, rel) {
			return false
		}
	}
	return true
}

// Reports whether rel or one of its parents matches any pattern.
func matchSelfOrParent(patterns []string, rel string) bool {
	for p := rel; p != "." && p != ""; p = path.Dir(p) {
		for _, pattern := range patterns {
			if Match(pattern, p) {
				return true
			}
		}
	}
	return false
}

// Visits every visible entry in lexical order.
//
// Paths are relative to the tree root and use forward slashes. Excluded
// directories are skipped along with their contents. Directories that are
// not selected by the include patterns are still descended into, but only
// selected entries are reported.
func (t *Tree) Walk(fn func(rel string, info fs.FileInfo) error) error {
	return util.Walk(t.fs, walkRoot, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel := strings.Trim(filepath.ToSlash(p), "/")
		if rel == "" {
			return nil
		}

		if t.Excluded(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !t.Included(rel) {
			return nil
		}

		return fn(rel, info)
	})
}

// Lists the visible regular files.
func (t *Tree) Files() ([]string, error) {
	var files []string
	err := t.Walk(func(rel string, info fs.FileInfo) error {
		if info.Mode().IsRegular() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSource, err)
	}
	return files, nil
}
