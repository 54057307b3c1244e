package gateway

import (
	"encoding/json"
	"path"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindPDF        Kind = "pdf"
	KindAudio      Kind = "audio"
	KindTranscript Kind = "transcript"
	KindOther      Kind = "other"
)

// Glob patterns understood by the files endpoint.
const (
	PatternAll        = "*"
	PatternPDF        = "*.pdf"
	PatternMP4        = "*.mp4"
	PatternMP3        = "*.mp3"
	PatternTranscript = "*.json"
)

// Artifact is a file known to exist in a patient's remote folder. URL is a
// time-limited presigned location and must not be persisted.
type Artifact struct {
	FileName     string    `json:"file_name"`
	URL          string    `json:"-"`
	SizeBytes    int64     `json:"size_bytes,omitempty"`
	LastModified time.Time `json:"last_modified,omitzero"`
	Kind         Kind      `json:"kind"`
}

// Listing is the result of a folder lookup. Exists is false only when the
// patient folder itself is missing; an existing folder with no matches has
// Exists true and no artifacts.
type Listing struct {
	Exists    bool
	Artifacts []Artifact
}

func found(artifacts []Artifact) Listing {
	if artifacts == nil {
		artifacts = []Artifact{}
	}
	return Listing{Exists: true, Artifacts: artifacts}
}

func notFound() Listing {
	return Listing{}
}

var contentTypes = map[string]string{
	".pdf":  "application/pdf",
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".json": "application/json",
}

// ContentTypeFor maps a file name to the content type the gateway expects.
func ContentTypeFor(fileName string) string {
	if ct, ok := contentTypes[strings.ToLower(path.Ext(fileName))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ExtensionFor is the inverse of ContentTypeFor.
func ExtensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch ct {
	case "application/pdf":
		return ".pdf"
	case "video/mp4", "audio/mp4":
		return ".mp4"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "application/json":
		return ".json"
	default:
		return ""
	}
}

// KindOf classifies a file name by extension.
func KindOf(fileName string) Kind {
	switch strings.ToLower(path.Ext(fileName)) {
	case ".pdf":
		return KindPDF
	case ".mp4", ".mp3":
		return KindAudio
	case ".json":
		return KindTranscript
	default:
		return KindOther
	}
}

// MatchPattern applies the gateway's suffix-glob semantics locally.
func MatchPattern(pattern, fileName string) bool {
	switch {
	case pattern == "" || pattern == PatternAll:
		return true
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(strings.ToLower(fileName), strings.ToLower(pattern[1:]))
	default:
		return fileName == pattern
	}
}

// CanonicalName is the single-slot file name for a patient's document or recording.
func CanonicalName(patientID, ext string) string {
	return patientID + ext
}

// folderPrefix mirrors the remote key layout; listings may return keys with it.
func folderPrefix(patientID string) string {
	return "id_" + patientID + "/"
}

type fileEntry struct {
	FileName     string          `json:"fileName"`
	URL          string          `json:"url"`
	Size         json.RawMessage `json:"size"`
	LastModified json.RawMessage `json:"lastModified"`
}

func (e fileEntry) artifact(patientID string) Artifact {
	name := strings.TrimPrefix(e.FileName, folderPrefix(patientID))
	return Artifact{
		FileName:     name,
		URL:          e.URL,
		SizeBytes:    parseSize(e.Size),
		LastModified: parseTimestamp(e.LastModified),
		Kind:         KindOf(name),
	}
}

// parseSize accepts numbers or numeric strings; anything else is unknown (0).
func parseSize(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return v
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return v
		}
	}
	return 0
}

// parseTimestamp accepts RFC3339 strings or epoch milliseconds. Unknown formats yield the zero time.
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05-07:00", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		return time.Time{}
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if ms, err := n.Int64(); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
	}
	return time.Time{}
}
