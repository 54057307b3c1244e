package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Store is the list the handler serves.
type Store interface {
	List(ctx context.Context) ([]string, error)
	Add(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
}

// Handler serves the settings endpoints:
//
//	GET  /settings        -> {"allowedNumbers": [...]}
//	POST /update-settings {"newId": 1607}
//	POST /delete-patient  {"patientId": 1607}
func Handler(store Store, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "registry")
	mux := http.NewServeMux()

	mux.HandleFunc("GET /settings", func(w http.ResponseWriter, r *http.Request) {
		ids, err := store.List(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		doc := document{AllowedNumbers: make([]ID, len(ids))}
		for i, id := range ids {
			doc.AllowedNumbers[i] = ID(id)
		}
		writeJSON(w, http.StatusOK, doc)
	})

	mux.HandleFunc("POST /update-settings", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			NewID json.RawMessage `json:"newId"`
		}
		id, ok := decodeID(w, r, &body, func() json.RawMessage { return body.NewID })
		if !ok {
			return
		}
		if err := store.Add(r.Context(), id); err != nil {
			logger.Error("update settings", "patient_id", id, "error", err)
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": fmt.Sprintf("Updated settings with ID %s", id),
		})
	})

	mux.HandleFunc("POST /delete-patient", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PatientID json.RawMessage `json:"patientId"`
		}
		id, ok := decodeID(w, r, &body, func() json.RawMessage { return body.PatientID })
		if !ok {
			return
		}
		if err := store.Remove(r.Context(), id); err != nil {
			logger.Error("delete patient", "patient_id", id, "error", err)
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	})

	return mux
}

func decodeID(w http.ResponseWriter, r *http.Request, body any, field func() json.RawMessage) (string, bool) {
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return "", false
	}
	id, err := parseID(field())
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return id, true
}

// Serve runs the registry server until ctx is done.
func Serve(ctx context.Context, addr string, store Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(store, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("registry server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}
