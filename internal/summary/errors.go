package summary

import "errors"

var (
	// ErrMalformedAIResponse means the inference envelope did not have the
	// expected shape. No partial text is returned with it.
	ErrMalformedAIResponse = errors.New("malformed ai response")
	// ErrNothingToSummarize means the patient has neither transcripts nor documents.
	ErrNothingToSummarize = errors.New("nothing to summarize")
	ErrUnknownPreset      = errors.New("unknown preset")
	// ErrInProgress means an identical request was already claimed and has not
	// produced a summary yet.
	ErrInProgress = errors.New("summary already in progress")
)
