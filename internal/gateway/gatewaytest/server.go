// Package gatewaytest provides an in-memory implementation of the remote file
// gateway's REST contract for tests.
package gatewaytest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/intake/internal/config"
	"github.com/sjawhar/intake/internal/gateway"
)

const (
	APIKey = "test-key"
	Branch = "testing"
)

type file struct {
	data        []byte
	contentType string
	modified    time.Time
}

// Server is a fake gateway backed by an in-memory folder tree.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	folders  map[string]map[string]file
	calls    map[string]int
	failures map[string][]int
	pending  map[string][]byte

	// TranscribeGate, when set, blocks transcribe requests until it is closed
	// or receives a value.
	TranscribeGate chan struct{}
	// Transcript is the text returned by the transcribe endpoint.
	Transcript string
	// Segments are written to the produced transcript document as (label, text) pairs.
	Segments [][2]string
	// InferenceText is wrapped in the envelope returned by the inference endpoint.
	InferenceText string
	// InferenceBody overrides the inference response entirely when non-empty.
	InferenceBody string

	lastInference map[string]any
}

func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		folders:       map[string]map[string]file{},
		calls:         map[string]int{},
		failures:      map[string][]int{},
		pending:       map[string][]byte{},
		Transcript:    "hello hi",
		Segments:      [][2]string{{"spk_0", "hello"}, {"spk_1", "hi"}},
		InferenceText: "summary text",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /"+Branch+"/files", s.authorized(s.handleFiles))
	mux.HandleFunc("POST /"+Branch+"/upload", s.authorized(s.handleUpload))
	mux.HandleFunc("DELETE /"+Branch+"/delete", s.authorized(s.handleDelete))
	mux.HandleFunc("POST /"+Branch+"/transcribe", s.authorized(s.handleTranscribe))
	mux.HandleFunc("POST /"+Branch+"/bedrock", s.authorized(s.handleInference))
	mux.HandleFunc("GET /blob/{patient}/{name...}", s.handleBlob)
	mux.HandleFunc("PUT /put/{patient}", s.handlePut)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// Options returns client options pointing at the fake.
func (s *Server) Options() gateway.Options {
	return gateway.Options{
		BaseURL:   s.URL,
		Branch:    Branch,
		Endpoints: Endpoints(),
		APIKey:    APIKey,
		Timeout:   5 * time.Second,
	}
}

// Endpoints returns the endpoint names the fake serves.
func Endpoints() config.Endpoints {
	return config.Endpoints{
		Files:      "files",
		Upload:     "upload",
		Delete:     "delete",
		Transcribe: "transcribe",
		Inference:  "bedrock",
	}
}

// Client returns a gateway client wired to the fake.
func (s *Server) Client() *gateway.Client {
	return gateway.New(s.Options())
}

func (s *Server) AddFolder(patientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[patientID]; !ok {
		s.folders[patientID] = map[string]file{}
	}
}

// PutFile stores a file, creating the folder when needed.
func (s *Server) PutFile(patientID, name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.folders[patientID]; !ok {
		s.folders[patientID] = map[string]file{}
	}
	s.folders[patientID][name] = file{data: data, contentType: gateway.ContentTypeFor(name), modified: time.Now().UTC()}
}

func (s *Server) File(patientID, name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.folders[patientID][name]
	return f.data, ok
}

func (s *Server) HasFolder(patientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.folders[patientID]
	return ok
}

// LastInference returns the last decoded inference request body.
func (s *Server) LastInference() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInference
}

// Calls returns how many requests reached the named endpoint.
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// FailNext makes the next request to endpoint answer with status.
func (s *Server) FailNext(endpoint string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = append(s.failures[endpoint], status)
}

func (s *Server) authorized(next func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endpoint := path.Base(r.URL.Path)

		s.mu.Lock()
		s.calls[endpoint]++
		var status int
		if queued := s.failures[endpoint]; len(queued) > 0 {
			status = queued[0]
			s.failures[endpoint] = queued[1:]
		}
		s.mu.Unlock()

		if r.Header.Get("x-api-key") != APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "forbidden"})
			return
		}
		if status != 0 {
			writeJSON(w, status, map[string]string{"error": "injected failure"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	patientID := r.URL.Query().Get("patientId")
	pattern := r.URL.Query().Get("fileName")

	s.mu.Lock()
	defer s.mu.Unlock()

	folder, ok := s.folders[patientID]
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"exists": false})
		return
	}

	names := make([]string, 0, len(folder))
	for name := range folder {
		if gateway.MatchPattern(pattern, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	files := make([]map[string]any, 0, len(names))
	for _, name := range names {
		f := folder[name]
		files = append(files, map[string]any{
			"fileName":     "id_" + patientID + "/" + name,
			"url":          fmt.Sprintf("%s/blob/%s/%s", s.URL, patientID, name),
			"size":         len(f.data),
			"lastModified": f.modified.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"exists": true, "files": files})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID          string `json:"id"`
		FileName    string `json:"fileName"`
		File        string `json:"file"`
		ContentType string `json:"contentType"`
		Overwrite   bool   `json:"overwrite"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.folders[body.ID]; !ok {
		s.folders[body.ID] = map[string]file{}
	}
	if body.File == "" && body.FileName == "" {
		writeJSON(w, http.StatusOK, map[string]string{"message": "folder ready"})
		return
	}

	data, err := base64.StdEncoding.DecodeString(body.File)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid base64"})
		return
	}

	name := body.FileName
	if name == "" {
		name = time.Now().UTC().Format("2006-01-02-15:04:05") + gateway.ExtensionFor(body.ContentType)
	}
	if _, exists := s.folders[body.ID][name]; exists && !body.Overwrite {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "exists"})
		return
	}

	s.folders[body.ID][name] = file{data: data, contentType: body.ContentType, modified: time.Now().UTC()}
	writeJSON(w, http.StatusOK, map[string]string{"message": "uploaded", "fileName": name})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	patientID := r.URL.Query().Get("patientId")
	name := r.URL.Query().Get("fileName")

	s.mu.Lock()
	defer s.mu.Unlock()

	folder, ok := s.folders[patientID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such folder"})
		return
	}
	if name == "" {
		delete(s.folders, patientID)
		writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
		return
	}
	if _, ok := folder[name]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such file"})
		return
	}
	delete(folder, name)
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PatientID string `json:"patientID"`
		FileName  string `json:"fileName"`
		Uploaded  *bool  `json:"uploaded"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body"})
		return
	}

	if body.Uploaded != nil && !*body.Uploaded {
		writeJSON(w, http.StatusOK, map[string]string{"upload_url": fmt.Sprintf("%s/put/%s", s.URL, body.PatientID)})
		return
	}

	if s.TranscribeGate != nil {
		select {
		case <-s.TranscribeGate:
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	source := body.FileName
	if body.Uploaded != nil {
		if _, ok := s.pending[body.PatientID]; !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "nothing uploaded"})
			return
		}
		delete(s.pending, body.PatientID)
		source = body.PatientID + ".mp4"
	} else if _, ok := s.folders[body.PatientID][source]; !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no such recording"})
		return
	}

	if _, ok := s.folders[body.PatientID]; !ok {
		s.folders[body.PatientID] = map[string]file{}
	}
	base := strings.TrimSuffix(source, path.Ext(source))
	s.folders[body.PatientID][base+".json"] = file{
		data:        TranscriptJSON(s.Segments...),
		contentType: "application/json",
		modified:    time.Now().UTC(),
	}
	writeJSON(w, http.StatusOK, map[string]string{"transcript": s.Transcript})
}

func (s *Server) handleInference(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body"})
		return
	}

	s.mu.Lock()
	s.lastInference = body
	override := s.InferenceBody
	text := s.InferenceText
	s.mu.Unlock()

	if override != "" {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(override))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": Envelope(text)})
}

func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	f, ok := s.folders[r.PathValue("patient")][r.PathValue("name")]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", f.contentType)
	_, _ = w.Write(f.data)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if r.Header.Get("Content-Type") != "video/mp4" {
		http.Error(w, "expected video/mp4", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.pending[r.PathValue("patient")] = data
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// Envelope builds the inference response "result" string: a JSON document
// with the text at content[0].text.
func Envelope(text string) string {
	payload, _ := json.Marshal(map[string]any{
		"content": []map[string]string{{"type": "text", "text": text}},
	})
	return string(payload)
}

// TranscriptJSON renders an AWS-Transcribe shaped document with one audio
// segment per (label, text) pair.
func TranscriptJSON(segments ...[2]string) []byte {
	texts := make([]string, 0, len(segments))
	audio := make([]map[string]any, 0, len(segments))
	for i, seg := range segments {
		texts = append(texts, seg[1])
		audio = append(audio, map[string]any{
			"id":            i,
			"transcript":    seg[1],
			"speaker_label": seg[0],
			"start_time":    fmt.Sprintf("%d.0", i),
			"end_time":      fmt.Sprintf("%d.5", i),
			"items":         []int{},
		})
	}
	doc := map[string]any{
		"jobName":   "intake-job",
		"accountId": "000000000000",
		"status":    "COMPLETED",
		"results": map[string]any{
			"transcripts":    []map[string]string{{"transcript": strings.Join(texts, " ")}},
			"audio_segments": audio,
			"items":          []any{},
		},
	}
	payload, _ := json.Marshal(doc)
	return payload
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
