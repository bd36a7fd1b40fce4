package source

import "errors"

var (
	ErrSource     = errors.New("source tree error")
	ErrNoRevision = errors.New("source tree is not under version control")
	ErrBadPattern = errors.New("invalid exclude pattern")
)
