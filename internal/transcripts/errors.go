package transcripts

import "errors"

var (
	ErrNoPatient            = errors.New("no patient selected")
	ErrNotRecording         = errors.New("not an audio recording")
	ErrNotTranscript        = errors.New("not a transcript document")
	ErrConfirmationRequired = errors.New("confirmation required")
)
