package recording

import "errors"

var (
	// ErrDeviceUnavailable means the capture device could not be acquired or
	// the configured format has no encoder.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrInvalidTransition is returned for commands the current state does not accept.
	ErrInvalidTransition = errors.New("invalid recording transition")
	// ErrConfirmationRequired guards discarding an existing recording.
	ErrConfirmationRequired = errors.New("confirmation required to replace existing recording")
)
