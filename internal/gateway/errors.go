package gateway

import "errors"

var (
	// ErrNetwork covers unreachable hosts, timeouts, rate limiting and 5xx responses.
	ErrNetwork = errors.New("gateway unreachable")
	// ErrNotFound means the patient folder or file does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized means the API key was rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrMalformedResponse means the gateway answered with an unexpected payload shape.
	ErrMalformedResponse = errors.New("malformed gateway response")
	// ErrAlreadyExists is returned by non-overwriting uploads that would replace a file.
	ErrAlreadyExists = errors.New("file already exists")
	// ErrRejected means the gateway refused the request as invalid (4xx other than the above).
	ErrRejected = errors.New("request rejected")
	// ErrTooLarge means a fetched artifact exceeded the download limit.
	ErrTooLarge = errors.New("artifact too large")
)
