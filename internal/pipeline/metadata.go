package pipeline

import (
	"maps"
	"strings"
	"time"

	"github.com/cruciblehq/cruxpipe/internal/source"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Computes the labels recorded on the runtime image.
//
// Revision, creation time, source URL, and version are derived from the
// source tree and the first tag. The creation time is the commit time so
// rebuilding the same commit yields the same labels. Configured labels win
// over derived ones and may reference ${name}, ${registry}, ${repository},
// ${tag}, and ${revision}; "$$" yields a literal "$". Any other "$" text is
// kept as written.
func imageLabels(configured map[string]string, name ImageName, tags []string, rev *source.Revision) map[string]string {
	labels := make(map[string]string, len(configured)+4)

	vars := map[string]string{
		"name":       name.Name,
		"registry":   name.Registry,
		"repository": name.Repository(),
		"tag":        "",
		"revision":   "",
	}

	if len(tags) > 0 {
		labels[ocispec.AnnotationVersion] = tags[0]
		vars["tag"] = tags[0]
	}

	if rev != nil {
		labels[ocispec.AnnotationRevision] = rev.Commit
		labels[ocispec.AnnotationCreated] = rev.Time.Format(time.RFC3339)
		if rev.Origin != "" {
			labels[ocispec.AnnotationSource] = rev.Origin
		}
		vars["revision"] = rev.Commit
	}

	expanded := make(map[string]string, len(configured))
	for k, v := range configured {
		expanded[k] = expandLabel(v, vars)
	}
	maps.Copy(labels, expanded)

	return labels
}

// Replaces ${key} for keys present in vars and "$$" with "$".
func expandLabel(s string, vars map[string]string) string {
	var b strings.Builder
	for {
		i := strings.IndexByte(s, '$')
		if i < 0 || i == len(s)-1 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		s = s[i:]

		if s[1] == '$' {
			b.WriteByte('$')
			s = s[2:]
			continue
		}
		if s[1] == '{' {
			if end := strings.IndexByte(s, '}'); end > 0 {
				if v, ok := vars[s[2:end]]; ok {
					b.WriteString(v)
					s = s[end+1:]
					continue
				}
			}
		}
		b.WriteByte('$')
		s = s[1:]
	}
}
