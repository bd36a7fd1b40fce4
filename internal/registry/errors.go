package registry

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cruciblehq/cruxpipe/internal/pipeline"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/errcode"
)

var (
	ErrRegistry  = errors.New("registry error")
	ErrReference = errors.New("invalid image reference")
	ErrArchive   = errors.New("invalid image archive")
)

// Wraps err under the given sentinel.
func wrap(sentinel, err error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Classifies a registry response.
//
// 401 and 403 responses mean the credentials were rejected; everything else
// is a generic registry failure.
func classify(err error) error {
	if errors.Is(err, auth.ErrBasicCredentialNotFound) {
		return wrap(pipeline.ErrAuthenticationFailed, err)
	}
	var resp *errcode.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return wrap(pipeline.ErrAuthenticationFailed, err)
		}
	}
	return wrap(ErrRegistry, err)
}
