package session

import (
	"errors"
	"fmt"

	"github.com/sjawhar/intake/internal/gateway"
	"github.com/sjawhar/intake/internal/opguard"
)

type StatusKey string

const (
	StatusNone            StatusKey = ""
	StatusResolving       StatusKey = "resolving"
	StatusNewPatient      StatusKey = "new_patient"
	StatusExistingEmpty   StatusKey = "existing_empty"
	StatusLoaded          StatusKey = "loaded"
	StatusCreated         StatusKey = "created"
	StatusRegistryWarning StatusKey = "registry_warning"
	StatusDeleted         StatusKey = "deleted"
	StatusUploaded        StatusKey = "uploaded"
	StatusFileDeleted     StatusKey = "file_deleted"
	StatusNetwork         StatusKey = "network_error"
	StatusUnauthorized    StatusKey = "unauthorized"
	StatusMalformed       StatusKey = "malformed_response"
	StatusNotFound        StatusKey = "not_found"
	StatusAlreadyExists   StatusKey = "already_exists"
	StatusBusy            StatusKey = "busy"
	StatusInvalidID       StatusKey = "invalid_id"
	StatusTooLarge        StatusKey = "too_large"
	StatusUnsupported     StatusKey = "unsupported_file"
	StatusFailed          StatusKey = "failed"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Status is the last user-facing message.
type Status struct {
	Key   StatusKey `json:"key"`
	Level Level     `json:"level"`
	Text  string    `json:"text"`
}

type message struct {
	level Level
	text  map[string]string
}

var catalog = map[StatusKey]message{
	StatusResolving: {LevelInfo, map[string]string{
		"en": "Looking up patient %s…",
		"he": "מחפש מטופל %s…",
	}},
	StatusNewPatient: {LevelInfo, map[string]string{
		"en": "Patient %s was not found. Create a new patient?",
		"he": "מטופל %s לא נמצא. ליצור מטופל חדש?",
	}},
	StatusExistingEmpty: {LevelInfo, map[string]string{
		"en": "Patient %s exists and has no files yet.",
		"he": "מטופל %s קיים ועדיין אין לו קבצים.",
	}},
	StatusLoaded: {LevelInfo, map[string]string{
		"en": "Patient %s loaded with %d files.",
		"he": "מטופל %s נטען עם %d קבצים.",
	}},
	StatusCreated: {LevelInfo, map[string]string{
		"en": "Patient %s created.",
		"he": "מטופל %s נוצר.",
	}},
	StatusRegistryWarning: {LevelWarning, map[string]string{
		"en": "Patient %s was created but could not be added to the allowed list.",
		"he": "מטופל %s נוצר אך לא נוסף לרשימת המזהים המורשים.",
	}},
	StatusDeleted: {LevelInfo, map[string]string{
		"en": "Patient %s and all files were deleted.",
		"he": "מטופל %s וכל הקבצים שלו נמחקו.",
	}},
	StatusUploaded: {LevelInfo, map[string]string{
		"en": "%s uploaded.",
		"he": "%s הועלה בהצלחה.",
	}},
	StatusFileDeleted: {LevelInfo, map[string]string{
		"en": "%s deleted.",
		"he": "%s נמחק.",
	}},
	StatusNetwork: {LevelError, map[string]string{
		"en": "Cannot reach the file server. Please try again.",
		"he": "לא ניתן להתחבר לשרת הקבצים. נסו שוב.",
	}},
	StatusUnauthorized: {LevelError, map[string]string{
		"en": "The file server rejected the API key.",
		"he": "שרת הקבצים דחה את מפתח הגישה.",
	}},
	StatusMalformed: {LevelError, map[string]string{
		"en": "The file server returned an unexpected response.",
		"he": "שרת הקבצים החזיר תשובה לא צפויה.",
	}},
	StatusNotFound: {LevelError, map[string]string{
		"en": "The file was not found.",
		"he": "הקובץ לא נמצא.",
	}},
	StatusAlreadyExists: {LevelError, map[string]string{
		"en": "A file with this name already exists.",
		"he": "קובץ בשם זה כבר קיים.",
	}},
	StatusBusy: {LevelWarning, map[string]string{
		"en": "Another operation is still running for this patient.",
		"he": "פעולה אחרת עדיין מתבצעת עבור מטופל זה.",
	}},
	StatusInvalidID: {LevelError, map[string]string{
		"en": "Patient ID must contain digits only.",
		"he": "מספר מטופל חייב להכיל ספרות בלבד.",
	}},
	StatusTooLarge: {LevelError, map[string]string{
		"en": "The file is larger than %s.",
		"he": "הקובץ גדול מ-%s.",
	}},
	StatusUnsupported: {LevelError, map[string]string{
		"en": "Unsupported file type.",
		"he": "סוג הקובץ אינו נתמך.",
	}},
	StatusFailed: {LevelError, map[string]string{
		"en": "The operation failed.",
		"he": "הפעולה נכשלה.",
	}},
}

// Catalog renders status messages in one locale. Unknown locales fall back
// to English.
type Catalog struct {
	locale string
}

func NewCatalog(locale string) Catalog {
	if locale != "he" {
		locale = "en"
	}
	return Catalog{locale: locale}
}

func (c Catalog) Status(key StatusKey, args ...any) Status {
	msg, ok := catalog[key]
	if !ok {
		return Status{Key: key, Level: LevelInfo}
	}
	text := msg.text[c.locale]
	if len(args) > 0 {
		text = fmt.Sprintf(text, args...)
	}
	return Status{Key: key, Level: msg.level, Text: text}
}

func errorKey(err error) StatusKey {
	switch {
	case errors.Is(err, gateway.ErrNetwork):
		return StatusNetwork
	case errors.Is(err, gateway.ErrUnauthorized):
		return StatusUnauthorized
	case errors.Is(err, gateway.ErrMalformedResponse):
		return StatusMalformed
	case errors.Is(err, gateway.ErrNotFound):
		return StatusNotFound
	case errors.Is(err, gateway.ErrAlreadyExists):
		return StatusAlreadyExists
	case errors.Is(err, opguard.ErrConcurrentOperationRejected):
		return StatusBusy
	case errors.Is(err, ErrInvalidPatientID):
		return StatusInvalidID
	case errors.Is(err, ErrUnsupportedFile):
		return StatusUnsupported
	default:
		return StatusFailed
	}
}
