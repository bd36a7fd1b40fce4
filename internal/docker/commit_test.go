package docker

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/cruciblehq/cruxpipe/internal/pipeline"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Writes a tar archive holding the given entries.
func writeTar(t *testing.T, entries map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.tar")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	tw := tar.NewWriter(f)
	for name, data := range entries {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(data)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestManifestDigest(t *testing.T) {
	want := digest.FromString("manifest")
	index, err := json.Marshal(ocispec.Index{
		Manifests: []ocispec.Descriptor{{MediaType: ocispec.MediaTypeImageManifest, Digest: want}},
	})
	if err != nil {
		t.Fatal(err)
	}

	path := writeTar(t, map[string][]byte{
		"oci-layout":    []byte(`{"imageLayoutVersion":"1.0.0"}`),
		"./index.json":  index,
		"manifest.json": []byte(`[]`),
	})

	got, err := manifestDigest(path)
	if err != nil {
		t.Fatalf("manifestDigest() error: %v", err)
	}
	if got != want.String() {
		t.Fatalf("manifestDigest() = %q, want %q", got, want)
	}
}

func TestManifestDigestLegacyArchive(t *testing.T) {
	path := writeTar(t, map[string][]byte{"manifest.json": []byte(`[]`)})

	if _, err := manifestDigest(path); !errors.Is(err, ErrArchive) {
		t.Fatalf("manifestDigest() error = %v, want ErrArchive", err)
	}
}

func TestManifestDigestEmptyIndex(t *testing.T) {
	path := writeTar(t, map[string][]byte{"index.json": []byte(`{"schemaVersion":2,"manifests":[]}`)})

	if _, err := manifestDigest(path); !errors.Is(err, ErrArchive) {
		t.Fatalf("manifestDigest() error = %v, want ErrArchive", err)
	}
}

func TestApplyConfig(t *testing.T) {
	dst := container.Config{
		Env:        []string{"PATH=/usr/local/bin:/usr/bin", "NGINX_VERSION=1.27"},
		Entrypoint: []string{"/docker-entrypoint.sh"},
		Cmd:        []string{"nginx", "-g", "daemon off;"},
	}

	applyConfig(&dst, pipeline.ImageConfig{
		Env:          []string{"NGINX_VERSION=1.28", "TZ=UTC"},
		ExposedPorts: []string{"80/tcp"},
		Labels:       map[string]string{"org.opencontainers.image.version": "1.2.3"},
		Healthcheck: &pipeline.Healthcheck{
			Test:        []string{"CMD", "curl", "-f", "http://localhost/"},
			Interval:    30 * time.Second,
			StartPeriod: 5 * time.Second,
			Retries:     3,
		},
	})

	wantEnv := []string{"PATH=/usr/local/bin:/usr/bin", "NGINX_VERSION=1.28", "TZ=UTC"}
	if !slices.Equal(dst.Env, wantEnv) {
		t.Errorf("Env = %v, want %v", dst.Env, wantEnv)
	}
	if _, ok := dst.ExposedPorts["80/tcp"]; !ok {
		t.Errorf("ExposedPorts = %v, want 80/tcp", dst.ExposedPorts)
	}
	if !slices.Equal([]string(dst.Entrypoint), []string{"/docker-entrypoint.sh"}) {
		t.Errorf("Entrypoint = %v, want base value kept", dst.Entrypoint)
	}
	if len(dst.Cmd) != 3 {
		t.Errorf("Cmd = %v, want base value kept", dst.Cmd)
	}
	if dst.Labels["org.opencontainers.image.version"] != "1.2.3" {
		t.Errorf("Labels = %v", dst.Labels)
	}
	if dst.Healthcheck == nil || dst.Healthcheck.Retries != 3 || dst.Healthcheck.StartPeriod != 5*time.Second {
		t.Errorf("Healthcheck = %+v", dst.Healthcheck)
	}
}

func TestApplyConfigEntrypointClearsCmd(t *testing.T) {
	dst := container.Config{Cmd: []string{"node"}}

	applyConfig(&dst, pipeline.ImageConfig{Entrypoint: []string{"/sbin/tini", "--"}})
	if dst.Cmd != nil {
		t.Fatalf("Cmd = %v, want nil", dst.Cmd)
	}

	applyConfig(&dst, pipeline.ImageConfig{Entrypoint: []string{"/sbin/tini", "--"}, Cmd: []string{"node", "server/index.js"}})
	if !slices.Equal([]string(dst.Cmd), []string{"node", "server/index.js"}) {
		t.Fatalf("Cmd = %v", dst.Cmd)
	}
}

// Records image removals.
type fakeRemover struct {
	ids  []string
	opts []image.RemoveOptions
	err  error
}

func (f *fakeRemover) ImageRemove(ctx context.Context, id string, opts image.RemoveOptions) ([]image.DeleteResponse, error) {
	f.ids = append(f.ids, id)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return []image.DeleteResponse{{Untagged: "registry.example/app:v1"}, {Deleted: id}}, nil
}

func TestDiscardRemovesImageAndTags(t *testing.T) {
	api := &fakeRemover{}

	discard(context.Background(), api, "sha256:feed")

	if !slices.Equal(api.ids, []string{"sha256:feed"}) {
		t.Fatalf("removed = %v", api.ids)
	}
	if !api.opts[0].Force || !api.opts[0].PruneChildren {
		t.Errorf("options = %+v, want forced removal of every tag", api.opts[0])
	}
}

func TestDiscardToleratesFailure(t *testing.T) {
	api := &fakeRemover{err: errors.New("conflict")}

	discard(context.Background(), api, "sha256:feed")

	if len(api.ids) != 1 {
		t.Errorf("removed = %v", api.ids)
	}
}
