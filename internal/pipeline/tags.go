package pipeline

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Controls how a tag specification is resolved.
type TagOptions struct {
	KeepDuplicates bool // Keep repeated tags instead of collapsing them to the first occurrence.
	Floating       bool // Follow each release version with its MAJOR.MINOR and MAJOR tags.
}

// Splits a comma-separated tag specification into tag names.
//
// Each descriptor is trimmed, reduced to the text after its last colon, and
// trimmed again. Descriptors that end up empty are dropped. The order of the
// specification is preserved and duplicates are kept.
func SplitTags(spec string) []string {
	var tags []string
	for _, part := range strings.Split(spec, ",") {
		tag := strings.TrimSpace(part)
		if i := strings.LastIndexByte(tag, ':'); i >= 0 {
			tag = strings.TrimSpace(tag[i+1:])
		}
		if tag == "" {
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}

// Resolves a tag specification into the ordered list of tags to publish.
//
// Duplicates collapse to their first occurrence unless opts.KeepDuplicates
// is set. Returns [ErrInvalidTagSpec] when no tag survives.
func ResolveTags(spec string, opts TagOptions) ([]string, error) {
	tags := SplitTags(spec)

	if opts.Floating {
		tags = withFloating(tags)
	}
	if !opts.KeepDuplicates {
		tags = dedupe(tags)
	}

	if len(tags) == 0 {
		return nil, wrapf(ErrInvalidTagSpec, "no tags in %q", spec)
	}
	return tags, nil
}

// Inserts MAJOR.MINOR and MAJOR after every full release version.
//
// Prerelease versions and tags that are not semantic versions pass through
// unchanged. A leading "v" on the source tag is kept on the derived ones.
func withFloating(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, tag)

		v, err := semver.StrictNewVersion(strings.TrimPrefix(tag, "v"))
		if err != nil || v.Prerelease() != "" {
			continue
		}

		prefix := ""
		if strings.HasPrefix(tag, "v") {
			prefix = "v"
		}
		out = append(out,
			fmt.Sprintf("%s%d.%d", prefix, v.Major(), v.Minor()),
			fmt.Sprintf("%s%d", prefix, v.Major()),
		)
	}
	return out
}

// Removes repeated entries, keeping the first occurrence of each.
func dedupe(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := tags[:0:0]
	for _, tag := range tags {
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
