package session

import "errors"

var (
	// ErrInputLocked is returned by SetDraft while a resolution is running.
	ErrInputLocked = errors.New("patient id input is locked while loading")
	// ErrInvalidPatientID means the id is not a non-empty string of digits.
	ErrInvalidPatientID = errors.New("invalid patient id")
	// ErrNoPatient means no patient has been resolved.
	ErrNoPatient = errors.New("no patient session")
	// ErrInvalidState means the operation is not valid in the current state.
	ErrInvalidState = errors.New("operation not valid in current state")
	// ErrSuperseded means a newer operation replaced this one before it
	// finished; its result was dropped.
	ErrSuperseded = errors.New("superseded by a newer request")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrUnsupportedFile      = errors.New("unsupported file")
	ErrTooLarge             = errors.New("file too large")
	// ErrNoCandidate means there is no local recording waiting to be uploaded.
	ErrNoCandidate = errors.New("no recording to upload")
)
