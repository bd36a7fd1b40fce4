package runtime

import (
	"encoding/json"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/cruciblehq/cruxpipe/internal/pipeline"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

func TestManifestGCLabels(t *testing.T) {
	m := ocispec.Manifest{
		Config: ocispec.Descriptor{
			Digest: digest.FromString("config"),
		},
		Layers: []ocispec.Descriptor{
			{Digest: digest.FromString("layer0")},
			{Digest: digest.FromString("layer1")},
		},
	}

	labels := manifestGCLabels(m)

	configLabel := labels["containerd.io/gc.ref.content.config"]
	if configLabel != m.Config.Digest.String() {
		t.Fatalf("config label = %q, want %q", configLabel, m.Config.Digest.String())
	}

	for i, layer := range m.Layers {
		key := "containerd.io/gc.ref.content.l." + string(rune('0'+i))
		got := labels[key]
		if got != layer.Digest.String() {
			t.Fatalf("labels[%q] = %q, want %q", key, got, layer.Digest.String())
		}
	}

	if len(labels) != 3 {
		t.Fatalf("len(labels) = %d, want 3", len(labels))
	}
}

func TestManifestGCLabelsNoLayers(t *testing.T) {
	m := ocispec.Manifest{
		Config: ocispec.Descriptor{
			Digest: digest.FromString("config-only"),
		},
	}

	labels := manifestGCLabels(m)
	if len(labels) != 1 {
		t.Fatalf("len(labels) = %d, want 1", len(labels))
	}
	if labels["containerd.io/gc.ref.content.config"] != m.Config.Digest.String() {
		t.Fatal("config label mismatch")
	}
}

func TestIndexGCLabels(t *testing.T) {
	idx := ocispec.Index{
		Manifests: []ocispec.Descriptor{
			{Digest: digest.FromString("amd64")},
			{Digest: digest.FromString("arm64")},
		},
	}

	labels := indexGCLabels(idx)
	if len(labels) != 2 {
		t.Fatalf("len(labels) = %d, want 2", len(labels))
	}
	if labels["containerd.io/gc.ref.content.m.1"] != idx.Manifests[1].Digest.String() {
		t.Fatal("manifest label mismatch")
	}
}

func TestApplyConfig(t *testing.T) {
	dst := pipeline.ConfigFile{}
	dst.Env = []string{"PATH=/usr/bin", "NODE_ENV=development"}
	dst.Cmd = []string{"nginx", "-g", "daemon off;"}
	dst.WorkingDir = "/"
	dst.Labels = map[string]string{"maintainer": "base"}

	applyConfig(&dst, pipeline.ImageConfig{
		User:         "app",
		Env:          []string{"NODE_ENV=production", "PORT=3001"},
		ExposedPorts: []string{"3001/tcp"},
		Entrypoint:   []string{"/sbin/tini", "--"},
		Labels:       map[string]string{"org.opencontainers.image.version": "1.2.3"},
		Healthcheck: &pipeline.Healthcheck{
			Test:     []string{"CMD-SHELL", "wget -q -O /dev/null http://localhost:3001/"},
			Interval: 30 * time.Second,
			Retries:  3,
		},
	})

	if dst.User != "app" {
		t.Errorf("User = %q, want %q", dst.User, "app")
	}
	if dst.WorkingDir != "/" {
		t.Errorf("WorkingDir = %q, want base value kept", dst.WorkingDir)
	}
	wantEnv := []string{"PATH=/usr/bin", "NODE_ENV=production", "PORT=3001"}
	if !slices.Equal(dst.Env, wantEnv) {
		t.Errorf("Env = %v, want %v", dst.Env, wantEnv)
	}
	if _, ok := dst.ExposedPorts["3001/tcp"]; !ok {
		t.Errorf("ExposedPorts = %v, want 3001/tcp", dst.ExposedPorts)
	}
	if dst.Cmd != nil {
		t.Errorf("Cmd = %v, want cleared by entrypoint", dst.Cmd)
	}
	if dst.Labels["maintainer"] != "base" || dst.Labels["org.opencontainers.image.version"] != "1.2.3" {
		t.Errorf("Labels = %v", dst.Labels)
	}
	if dst.Healthcheck == nil || dst.Healthcheck.Interval != 30*time.Second {
		t.Fatalf("Healthcheck = %+v", dst.Healthcheck)
	}
}

func TestApplyConfigEmptyKeepsBase(t *testing.T) {
	dst := pipeline.ConfigFile{}
	dst.Entrypoint = []string{"/docker-entrypoint.sh"}
	dst.Cmd = []string{"nginx"}

	applyConfig(&dst, pipeline.ImageConfig{})

	if !slices.Equal(dst.Entrypoint, []string{"/docker-entrypoint.sh"}) || !slices.Equal(dst.Cmd, []string{"nginx"}) {
		t.Fatalf("config changed: entrypoint %v cmd %v", dst.Entrypoint, dst.Cmd)
	}
	if dst.Healthcheck != nil {
		t.Fatal("Healthcheck set without configuration")
	}
}

func TestImageConfigBlobRoundTripsHealthcheck(t *testing.T) {
	base := `{"architecture":"amd64","os":"linux","config":{"Env":["PATH=/bin"],"Healthcheck":{"Test":["CMD","true"],"Retries":2}},"rootfs":{"type":"layers","diff_ids":[]}}`

	var blob imageConfigBlob
	if err := json.Unmarshal([]byte(base), &blob); err != nil {
		t.Fatal(err)
	}
	if blob.Config.Healthcheck == nil || blob.Config.Healthcheck.Retries != 2 {
		t.Fatalf("Healthcheck = %+v, want decoded", blob.Config.Healthcheck)
	}
	if blob.Architecture != "amd64" {
		t.Fatalf("Architecture = %q", blob.Architecture)
	}

	out, err := json.Marshal(blob)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"Healthcheck":{"Test":["CMD","true"],"Retries":2}`) {
		t.Fatalf("encoded config lost health check: %s", out)
	}
}
