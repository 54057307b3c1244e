package transcribe

import "errors"

var (
	// ErrMalformedTranscript means a stored transcript document could not be parsed.
	ErrMalformedTranscript = errors.New("malformed transcript document")
	// ErrMalformedTranscriptEdit means edited display text no longer maps onto
	// the document's segments.
	ErrMalformedTranscriptEdit = errors.New("malformed transcript edit")
)
