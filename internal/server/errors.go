package server

import (
	"errors"
	"net/http"

	"github.com/sjawhar/intake/internal/gateway"
	"github.com/sjawhar/intake/internal/opguard"
	"github.com/sjawhar/intake/internal/recording"
	"github.com/sjawhar/intake/internal/render"
	"github.com/sjawhar/intake/internal/session"
	"github.com/sjawhar/intake/internal/summary"
	"github.com/sjawhar/intake/internal/transcribe"
	"github.com/sjawhar/intake/internal/transcripts"
)

var errorStatuses = []struct {
	err    error
	status int
}{
	{session.ErrConfirmationRequired, http.StatusPreconditionRequired},
	{recording.ErrConfirmationRequired, http.StatusPreconditionRequired},
	{transcripts.ErrConfirmationRequired, http.StatusPreconditionRequired},

	{gateway.ErrNotFound, http.StatusNotFound},
	{opguard.ErrConcurrentOperationRejected, http.StatusConflict},
	{gateway.ErrAlreadyExists, http.StatusConflict},
	{session.ErrInputLocked, http.StatusConflict},
	{session.ErrInvalidState, http.StatusConflict},
	{session.ErrNoPatient, http.StatusConflict},
	{session.ErrNoCandidate, http.StatusConflict},
	{session.ErrSuperseded, http.StatusConflict},
	{transcripts.ErrNoPatient, http.StatusConflict},
	{recording.ErrInvalidTransition, http.StatusConflict},
	{summary.ErrInProgress, http.StatusConflict},

	{transcribe.ErrMalformedTranscriptEdit, http.StatusUnprocessableEntity},
	{summary.ErrNothingToSummarize, http.StatusUnprocessableEntity},

	{session.ErrInvalidPatientID, http.StatusBadRequest},
	{session.ErrUnsupportedFile, http.StatusBadRequest},
	{transcripts.ErrNotRecording, http.StatusBadRequest},
	{transcripts.ErrNotTranscript, http.StatusBadRequest},
	{summary.ErrUnknownPreset, http.StatusBadRequest},
	{render.ErrNotPDF, http.StatusBadRequest},

	{session.ErrTooLarge, http.StatusRequestEntityTooLarge},
	{gateway.ErrTooLarge, http.StatusRequestEntityTooLarge},

	{recording.ErrDeviceUnavailable, http.StatusServiceUnavailable},

	{gateway.ErrNetwork, http.StatusGatewayTimeout},
	{gateway.ErrUnauthorized, http.StatusBadGateway},
	{gateway.ErrMalformedResponse, http.StatusBadGateway},
	{gateway.ErrRejected, http.StatusBadGateway},
	{summary.ErrMalformedAIResponse, http.StatusBadGateway},
	{transcribe.ErrMalformedTranscript, http.StatusBadGateway},
}

// statusFor maps a domain error to an HTTP status. Confirmation wins over
// everything else so clients can always prompt first.
func statusFor(err error) int {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			return e.status
		}
	}
	return http.StatusInternalServerError
}
