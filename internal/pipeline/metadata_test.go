package pipeline

import (
	"testing"
	"time"

	"github.com/cruciblehq/cruxpipe/internal/source"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

func TestImageLabels(t *testing.T) {
	rev := &source.Revision{
		Commit: "0123abcd",
		Time:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Origin: "https://github.com/acme/web",
	}
	configured := map[string]string{
		"org.opencontainers.image.description": "web for ${repository} at ${revision}",
		"price":                                "$$5",
		ocispec.AnnotationSource:               "https://example.com/${name}",
	}

	labels := imageLabels(configured, ImageName{Registry: "ghcr.io", Name: "acme/web"}, []string{"v1", "latest"}, rev)

	want := map[string]string{
		ocispec.AnnotationVersion:              "v1",
		ocispec.AnnotationRevision:             "0123abcd",
		ocispec.AnnotationCreated:              "2024-05-01T10:00:00Z",
		ocispec.AnnotationSource:               "https://example.com/acme/web",
		"org.opencontainers.image.description": "web for ghcr.io/acme/web at 0123abcd",
		"price":                                "$5",
	}
	for k, v := range want {
		if labels[k] != v {
			t.Errorf("labels[%q] = %q, want %q", k, labels[k], v)
		}
	}
	if len(labels) != len(want) {
		t.Errorf("labels = %v", labels)
	}
}

func TestExpandLabel(t *testing.T) {
	vars := map[string]string{"name": "acme/web", "revision": ""}

	tests := []struct {
		in   string
		want string
	}{
		{"https://example.com/${name}", "https://example.com/acme/web"},
		{"at ${revision}", "at "},
		{"costs $$5", "costs $5"},
		{"run $HOME/bin", "run $HOME/bin"},
		{"match $1 and ${1}", "match $1 and ${1}"},
		{"${unknown} stays", "${unknown} stays"},
		{"unterminated ${name", "unterminated ${name"},
		{"trailing $", "trailing $"},
		{"${name}${name}", "acme/webacme/web"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := expandLabel(tt.in, vars); got != tt.want {
				t.Errorf("expandLabel(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestImageLabelsKeepsUnknownReferences(t *testing.T) {
	configured := map[string]string{"command": "sh -c 'echo $PATH' ${missing}"}

	labels := imageLabels(configured, ImageName{Name: "a"}, []string{"1"}, nil)

	if got := labels["command"]; got != "sh -c 'echo $PATH' ${missing}" {
		t.Errorf("command label = %q", got)
	}
}

func TestImageLabelsWithoutRevision(t *testing.T) {
	labels := imageLabels(nil, ImageName{Name: "a"}, []string{"1"}, nil)

	if _, ok := labels[ocispec.AnnotationRevision]; ok {
		t.Error("revision label set without a revision")
	}
	if labels[ocispec.AnnotationVersion] != "1" {
		t.Errorf("labels = %v", labels)
	}
}
