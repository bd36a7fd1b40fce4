package pipeline

import "strings"

// Registry host and repository path of the image being published.
type ImageName struct {
	Registry string // Registry host, trimmed but otherwise verbatim (e.g. "ghcr.io").
	Name     string // Repository path, always lowercase (e.g. "acme/web").
}

// Lowercases an image name.
//
// No character validation is done here; registries reject invalid names
// when the image is pushed.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Builds the canonical image name for a registry and repository path.
func NormalizeImageName(registry, name string) ImageName {
	return ImageName{
		Registry: strings.TrimSpace(registry),
		Name:     NormalizeName(name),
	}
}

// Returns the repository reference without a tag.
func (n ImageName) Repository() string {
	if n.Registry == "" {
		return n.Name
	}
	return n.Registry + "/" + n.Name
}

// Returns the full reference for the given tag ("{registry}/{name}:{tag}").
func (n ImageName) Reference(tag string) string {
	return n.Repository() + ":" + tag
}

func (n ImageName) String() string {
	return n.Repository()
}
