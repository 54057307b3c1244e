package registry

import "errors"

var (
	ErrInvalidID   = errors.New("patient id must be digits only")
	ErrUnavailable = errors.New("registry unavailable")
)
