package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sjawhar/intake/internal/audio"
	"github.com/sjawhar/intake/internal/config"
	"github.com/sjawhar/intake/internal/gateway"
	"github.com/sjawhar/intake/internal/recording"
	"github.com/sjawhar/intake/internal/session"
	"github.com/sjawhar/intake/internal/summary"
	"github.com/sjawhar/intake/internal/transcribe"
	"github.com/sjawhar/intake/internal/transcripts"
)

type SessionService interface {
	Snapshot() session.Snapshot
	SetDraft(id string) error
	Resolve(ctx context.Context, patientID string) error
	Refresh(ctx context.Context) error
	CreatePatient(ctx context.Context) error
	DeletePatient(ctx context.Context, confirmed bool) error
	UploadDocument(ctx context.Context, data []byte) (string, error)
	UploadAudio(ctx context.Context, data []byte, contentType string) (string, error)
	UploadRecording(ctx context.Context) (string, error)
	DeleteArtifactFile(ctx context.Context, fileName string, kind gateway.Kind, confirmed bool) error
}

type RecordingService interface {
	Snapshot() recording.Snapshot
	Start(ctx context.Context, patientID string, confirmed bool) error
	Pause() error
	Resume() error
	Stop(ctx context.Context) (*audio.Blob, error)
	Discard()
}

type TranscriptService interface {
	Snapshot() transcripts.Snapshot
	ListRecordings(ctx context.Context, patientID string) ([]gateway.Artifact, error)
	ListTranscripts(ctx context.Context, patientID string) ([]gateway.Artifact, error)
	Transcribe(ctx context.Context, patientID, fileName string) (*transcribe.Document, error)
	SelectTranscript(ctx context.Context, fileName string) (string, error)
	Save(ctx context.Context, fileName, displayText string) error
	Delete(ctx context.Context, fileName string, confirmed bool) error
}

type SummaryService interface {
	SummarizePatient(ctx context.Context, patientID, preset string) (summary.Result, error)
	Presets() map[string]config.Preset
}

// Services are the operations exposed under /api. A nil service answers 503.
type Services struct {
	Session     SessionService
	Recording   RecordingService
	Transcripts TranscriptService
	Summary     SummaryService
	Warnings    func() []string
	// MaxUploadBytes bounds request bodies of upload routes.
	MaxUploadBytes int64
}

func registerAPIRoutes(mux *http.ServeMux, svc Services) {
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var warnings []string
		if svc.Warnings != nil {
			warnings = svc.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
	})

	registerSessionRoutes(mux, svc)
	registerRecordingRoutes(mux, svc)
	registerTranscriptRoutes(mux, svc)
	registerSummaryRoutes(mux, svc)
}

func registerSessionRoutes(mux *http.ServeMux, svc Services) {
	sess := svc.Session
	handle := func(pattern string, fn func(w http.ResponseWriter, r *http.Request)) {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			if sess == nil {
				writeJSONError(w, http.StatusServiceUnavailable, "session not configured")
				return
			}
			fn(w, r)
		})
	}

	handle("GET /api/session", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sess.Snapshot())
	})

	handle("PUT /api/session/draft", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ID string `json:"id"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if err := sess.SetDraft(body.ID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.Snapshot())
	})

	handle("POST /api/session/resolve", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PatientID string `json:"patient_id"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if err := sess.Resolve(r.Context(), body.PatientID); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.Snapshot())
	})

	handle("POST /api/session/refresh", func(w http.ResponseWriter, r *http.Request) {
		if err := sess.Refresh(r.Context()); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.Snapshot())
	})

	handle("POST /api/session/create", func(w http.ResponseWriter, r *http.Request) {
		if err := sess.CreatePatient(r.Context()); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.Snapshot())
	})

	handle("DELETE /api/session", func(w http.ResponseWriter, r *http.Request) {
		if err := sess.DeletePatient(r.Context(), confirmed(r.URL)); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.Snapshot())
	})

	handle("POST /api/session/documents", func(w http.ResponseWriter, r *http.Request) {
		data, ok := readUpload(w, r, svc.MaxUploadBytes)
		if !ok {
			return
		}
		name, err := sess.UploadDocument(r.Context(), data)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"file_name": name})
	})

	handle("POST /api/session/audio", func(w http.ResponseWriter, r *http.Request) {
		data, ok := readUpload(w, r, svc.MaxUploadBytes)
		if !ok {
			return
		}
		name, err := sess.UploadAudio(r.Context(), data, r.Header.Get("Content-Type"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"file_name": name})
	})

	handle("POST /api/session/recording", func(w http.ResponseWriter, r *http.Request) {
		name, err := sess.UploadRecording(r.Context())
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"file_name": name})
	})

	handle("DELETE /api/session/files/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		kind := gateway.Kind(r.URL.Query().Get("kind"))
		if kind == "" {
			kind = gateway.KindOf(name)
		}
		if err := sess.DeleteArtifactFile(r.Context(), name, kind, confirmed(r.URL)); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess.Snapshot())
	})
}

func registerRecordingRoutes(mux *http.ServeMux, svc Services) {
	rec := svc.Recording
	handle := func(pattern string, fn func(w http.ResponseWriter, r *http.Request)) {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			if rec == nil {
				writeJSONError(w, http.StatusServiceUnavailable, "recording not configured")
				return
			}
			fn(w, r)
		})
	}

	handle("GET /api/recording", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, rec.Snapshot())
	})

	handle("POST /api/recording/start", func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := currentPatient(w, svc.Session)
		if !ok {
			return
		}
		if err := rec.Start(r.Context(), patientID, confirmed(r.URL)); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec.Snapshot())
	})

	handle("POST /api/recording/pause", func(w http.ResponseWriter, r *http.Request) {
		if err := rec.Pause(); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec.Snapshot())
	})

	handle("POST /api/recording/resume", func(w http.ResponseWriter, r *http.Request) {
		if err := rec.Resume(); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec.Snapshot())
	})

	handle("POST /api/recording/stop", func(w http.ResponseWriter, r *http.Request) {
		if _, err := rec.Stop(r.Context()); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec.Snapshot())
	})

	handle("POST /api/recording/discard", func(w http.ResponseWriter, r *http.Request) {
		rec.Discard()
		writeJSON(w, http.StatusOK, rec.Snapshot())
	})
}

func registerTranscriptRoutes(mux *http.ServeMux, svc Services) {
	tr := svc.Transcripts
	handle := func(pattern string, fn func(w http.ResponseWriter, r *http.Request)) {
		mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			if tr == nil {
				writeJSONError(w, http.StatusServiceUnavailable, "transcripts not configured")
				return
			}
			fn(w, r)
		})
	}

	handle("GET /api/transcripts", func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := currentPatient(w, svc.Session)
		if !ok {
			return
		}
		recordings, err := tr.ListRecordings(r.Context(), patientID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		docs, err := tr.ListTranscripts(r.Context(), patientID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		snap := tr.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"recordings":  recordings,
			"transcripts": docs,
			"selected":    snap.Selected,
			"pending":     snap.Pending,
		})
	})

	handle("POST /api/transcripts/transcribe", func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := currentPatient(w, svc.Session)
		if !ok {
			return
		}
		var body struct {
			FileName string `json:"file_name"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		doc, err := tr.Transcribe(r.Context(), patientID, body.FileName)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"file_name": transcripts.TranscriptName(body.FileName),
			"text":      doc.DisplayText(),
		})
	})

	handle("GET /api/transcripts/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		text, err := tr.SelectTranscript(r.Context(), name)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"file_name": name, "text": text})
	})

	handle("PUT /api/transcripts/{name}", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Text string `json:"text"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if err := tr.Save(r.Context(), r.PathValue("name"), body.Text); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	handle("DELETE /api/transcripts/{name}", func(w http.ResponseWriter, r *http.Request) {
		if err := tr.Delete(r.Context(), r.PathValue("name"), confirmed(r.URL)); err != nil {
			writeDomainError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func registerSummaryRoutes(mux *http.ServeMux, svc Services) {
	mux.HandleFunc("GET /api/presets", func(w http.ResponseWriter, r *http.Request) {
		if svc.Summary == nil {
			writeJSON(w, http.StatusOK, []map[string]string{})
			return
		}
		presets := svc.Summary.Presets()
		out := make([]map[string]string, 0, len(presets))
		for _, name := range sortedKeys(presets) {
			out = append(out, map[string]string{"name": name, "description": presets[name].Description})
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("POST /api/summary", func(w http.ResponseWriter, r *http.Request) {
		if svc.Summary == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "summarization not configured")
			return
		}
		patientID, ok := currentPatient(w, svc.Session)
		if !ok {
			return
		}
		var body struct {
			Preset string `json:"preset"`
		}
		if r.ContentLength != 0 && !decodeBody(w, r, &body) {
			return
		}
		result, err := svc.Summary.SummarizePatient(r.Context(), patientID, body.Preset)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}

func currentPatient(w http.ResponseWriter, sess SessionService) (string, bool) {
	if sess == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "session not configured")
		return "", false
	}
	patientID := sess.Snapshot().PatientID
	if patientID == "" {
		writeDomainError(w, session.ErrNoPatient)
		return "", false
	}
	return patientID, true
}

func confirmed(u *url.URL) bool {
	ok, _ := strconv.ParseBool(u.Query().Get("confirm"))
	return ok
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func readUpload(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	body := io.Reader(r.Body)
	if limit > 0 {
		// One extra byte lets the session report the size with its own message.
		body = io.LimitReader(r.Body, limit+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "read upload body")
		return nil, false
	}
	return data, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	writeJSONError(w, statusFor(err), err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
