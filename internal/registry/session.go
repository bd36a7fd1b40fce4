package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cruciblehq/cruxpipe/internal/pipeline"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/oci"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
)

// An authenticated registry session.
//
// Sessions are safe for concurrent use. Each image archive is opened once
// and shared by every push of that image.
type Session struct {
	registry *remote.Registry

	mu     sync.Mutex
	stores map[string]*oci.ReadOnlyStore
}

var _ pipeline.Session = (*Session)(nil)

func newSession(reg *remote.Registry) *Session {
	return &Session{
		registry: reg,
		stores:   make(map[string]*oci.ReadOnlyStore),
	}
}

// Pushes img under ref and returns the digest-qualified reference.
//
// ref must have the form "{registry}/{name}:{tag}" and name the session's
// registry. Blobs already present in the repository are not uploaded again.
func (s *Session) Push(ctx context.Context, img *pipeline.Image, ref string) (string, error) {
	parsed, err := registry.ParseReference(ref)
	if err != nil {
		return "", wrap(ErrReference, err)
	}
	if parsed.Registry != s.registry.Reference.Registry {
		return "", wrap(ErrReference, fmt.Errorf("%s is not on registry %s", ref, s.registry.Reference.Registry))
	}
	if _, err := parsed.Digest(); err == nil {
		return "", wrap(ErrReference, fmt.Errorf("%s: digest references cannot be pushed", ref))
	}

	store, err := s.open(ctx, img.Archive)
	if err != nil {
		return "", err
	}

	repo, err := s.registry.Repository(ctx, parsed.Repository)
	if err != nil {
		return "", wrap(ErrReference, err)
	}

	desc, err := oras.Copy(ctx, store, img.Ref, repo, parsed.Reference, oras.DefaultCopyOptions)
	if err != nil {
		return "", classify(err)
	}

	slog.Debug("image pushed", "ref", ref, "digest", desc.Digest)

	return fmt.Sprintf("%s@%s", ref, desc.Digest), nil
}

// Opens an image archive as a read-only OCI layout, reusing a store that is
// already open.
func (s *Session) open(ctx context.Context, archive string) (*oci.ReadOnlyStore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if store, ok := s.stores[archive]; ok {
		return store, nil
	}

	store, err := oci.NewFromTar(ctx, archive)
	if err != nil {
		return nil, wrap(ErrArchive, err)
	}
	s.stores[archive] = store
	return store, nil
}
