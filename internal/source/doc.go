// Package source provides read-only views of a project source tree.
//
// A [Tree] wraps a go-billy filesystem (a host directory or an in-memory
// filesystem) together with a list of exclude patterns. Trees are never
// mutated: [Tree.Filter] returns a narrower view that shares the same
// filesystem. A tree streams its visible files as a tar archive, which is how
// it is copied into stage containers.
//
// Exclude patterns use forward slashes and are matched against paths relative
// to the tree root. "*" and "?" match within a single path segment and "**"
// matches any number of segments. A pattern that matches a directory excludes
// everything below it.
//
// When the tree lives inside a git work tree, [Tree.Revision] reports the
// checked-out commit, which is used for image metadata.
package source
