package summary

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sjawhar/intake/internal/config"
	"github.com/sjawhar/intake/internal/gateway"
	"github.com/sjawhar/intake/internal/opguard"
	"github.com/sjawhar/intake/internal/storage"
	"github.com/sjawhar/intake/internal/transcribe"
)

type Gateway interface {
	ListArtifacts(ctx context.Context, patientID, pattern string) (gateway.Listing, error)
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

type Store interface {
	ClaimSummaryRequest(patientID, promptHash string) (bool, error)
	AttachSummaryRequest(patientID, promptHash, summaryID string) error
	ReleaseSummaryRequest(patientID, promptHash string) error
	SummaryForRequest(patientID, promptHash string) (storage.Summary, bool, error)
	CreateSummary(patientID, preset string) (string, error)
	UpdateSummary(id, summary, status, preset, errText string) error
}

// staleClaimAfter is how long an unfinished summary keeps its request
// claimed before another run may take it over.
const staleClaimAfter = 15 * time.Minute

type Exporter interface {
	WriteSummary(patientID string, sum storage.Summary) (string, error)
}

// Syncer mirrors an exported file to remote storage.
type Syncer interface {
	Sync(ctx context.Context, localPath, name string) error
}

type EventBroadcaster interface {
	BroadcastSummaryReady(patientID, summary, status, preset string)
}

type Options struct {
	Config   config.Summarization
	Backend  Backend
	Gateway  Gateway
	Renderer Rasterizer
	Store    Store
	Exporter Exporter
	Syncer   Syncer
	Guard    *opguard.Guard
	Hub      EventBroadcaster
	Logger   *slog.Logger
}

// Result is a finished patient summary. Cached is set when an identical
// request had already completed and its stored summary was returned.
type Result struct {
	ID         string `json:"id"`
	PatientID  string `json:"patient_id"`
	Preset     string `json:"preset"`
	Summary    string `json:"summary"`
	ExportPath string `json:"export_path,omitempty"`
	Cached     bool   `json:"cached,omitempty"`
}

// Service summarizes everything stored for a patient.
type Service struct {
	cfg      config.Summarization
	adapter  *Adapter
	gw       Gateway
	store    Store
	exporter Exporter
	syncer   Syncer
	guard    *opguard.Guard
	hub      EventBroadcaster
	router   *Router
	logger   *slog.Logger
	now      func() time.Time

	// staleAfter bounds how long a running summary blocks an identical request.
	staleAfter time.Duration
}

func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	guard := opts.Guard
	if guard == nil {
		guard = opguard.New()
	}
	s := &Service{
		cfg:      opts.Config,
		adapter:  NewAdapter(opts.Backend, opts.Gateway, opts.Renderer, logger),
		gw:       opts.Gateway,
		store:    opts.Store,
		exporter: opts.Exporter,
		syncer:   opts.Syncer,
		guard:    guard,
		hub:      opts.Hub,
		logger:   logger.With("component", "summary"),
		now:      time.Now,

		staleAfter: staleClaimAfter,
	}
	if len(opts.Config.Presets) > 1 {
		s.router = NewRouter(opts.Config.Presets, opts.Backend, logger)
	}
	return s
}

// Adapter exposes the low-level inference operations.
func (s *Service) Adapter() *Adapter {
	return s.adapter
}

func (s *Service) Presets() map[string]config.Preset {
	return s.cfg.Presets
}

// SummarizePatient gathers the patient's transcripts and PDF pages, applies
// the preset and stores, exports and broadcasts the result. An empty preset
// or "auto" lets the router choose.
func (s *Service) SummarizePatient(ctx context.Context, patientID, preset string) (Result, error) {
	release, err := s.guard.Acquire(patientID+"/summary", "summarize")
	if err != nil {
		return Result{}, err
	}
	defer release()

	transcripts, err := s.loadTranscripts(ctx, patientID)
	if err != nil {
		return Result{}, err
	}
	pdfs, err := s.listing(ctx, patientID, gateway.PatternPDF)
	if err != nil {
		return Result{}, err
	}
	images, err := s.adapter.BuildImageSet(ctx, pdfs)
	if err != nil {
		return Result{}, err
	}
	if len(transcripts) == 0 && len(images) == 0 {
		return Result{}, ErrNothingToSummarize
	}

	combined := CombineTranscripts(transcripts)
	name, p, err := s.selectPreset(ctx, preset, combined)
	if err != nil {
		return Result{}, err
	}
	req := s.buildRequest(patientID, p, combined)
	req.Images = images

	hash := requestHash(req)
	if s.store != nil {
		claimed, err := s.store.ClaimSummaryRequest(patientID, hash)
		if err != nil {
			return Result{}, fmt.Errorf("claim summary request: %w", err)
		}
		if !claimed {
			prev, done, err := s.previous(patientID, hash)
			if done || err != nil {
				return prev, err
			}
		}
	}

	id := ""
	if s.store != nil {
		if id, err = s.store.CreateSummary(patientID, name); err != nil {
			s.release(patientID, hash)
			return Result{}, err
		}
		if err := s.store.AttachSummaryRequest(patientID, hash, id); err != nil {
			s.logger.Warn("attach summary request", "patient_id", patientID, "id", id, "error", err)
		}
		s.update(id, "", storage.SummaryRunning, name, "")
	}
	s.broadcast(patientID, "", storage.SummaryRunning, name)
	s.logger.Info("summarizing", "patient_id", patientID, "preset", name, "transcripts", len(transcripts), "pages", len(images))

	text, err := s.adapter.Summarize(ctx, req)
	if err != nil {
		s.update(id, "", storage.SummaryFailed, name, err.Error())
		s.release(patientID, hash)
		s.broadcast(patientID, "", storage.SummaryFailed, name)
		return Result{}, err
	}
	text = strings.TrimSpace(text)

	s.update(id, text, storage.SummaryCompleted, name, "")
	result := Result{ID: id, PatientID: patientID, Preset: name, Summary: text}
	result.ExportPath = s.export(ctx, patientID, storage.Summary{
		ID:        id,
		PatientID: patientID,
		Preset:    name,
		Status:    storage.SummaryCompleted,
		Summary:   text,
		UpdatedAt: s.now(),
	})

	s.broadcast(patientID, text, storage.SummaryCompleted, name)
	return result, nil
}

func (s *Service) loadTranscripts(ctx context.Context, patientID string) ([]NamedTranscript, error) {
	artifacts, err := s.listing(ctx, patientID, gateway.PatternTranscript)
	if err != nil {
		return nil, err
	}
	out := make([]NamedTranscript, 0, len(artifacts))
	for _, a := range artifacts {
		raw, err := s.gw.Fetch(ctx, a.URL)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", a.FileName, err)
		}
		doc, err := transcribe.Parse(raw)
		if err != nil {
			s.logger.Warn("skipping unreadable transcript", "patient_id", patientID, "file", a.FileName, "error", err)
			continue
		}
		if text := doc.Text(); text != "" {
			out = append(out, NamedTranscript{Name: a.FileName, Text: text})
		}
	}
	return out, nil
}

func (s *Service) listing(ctx context.Context, patientID, pattern string) ([]gateway.Artifact, error) {
	l, err := s.gw.ListArtifacts(ctx, patientID, pattern)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", pattern, err)
	}
	if !l.Exists {
		return nil, fmt.Errorf("patient %s: %w", patientID, gateway.ErrNotFound)
	}
	return l.Artifacts, nil
}

func (s *Service) selectPreset(ctx context.Context, requested, material string) (string, config.Preset, error) {
	name := requested
	if name == "" || name == PresetAuto {
		switch {
		case s.router != nil:
			name = s.router.SelectPreset(ctx, material)
		case len(s.cfg.Presets) == 1:
			for only := range s.cfg.Presets {
				name = only
			}
		default:
			name = PresetDefault
		}
	}
	p, ok := s.cfg.Presets[name]
	if !ok {
		if requested == "" || requested == PresetAuto {
			return name, config.Preset{}, nil
		}
		return "", config.Preset{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return name, p, nil
}

// buildRequest renders the preset template. {{transcript}} is accepted as
// an alias of {{transcripts}}.
func (s *Service) buildRequest(patientID string, p config.Preset, transcripts string) Request {
	template := p.UserTemplate
	if template == "" {
		template = "{{transcripts}}"
	}
	prompt := strings.NewReplacer(
		"{{transcripts}}", transcripts,
		"{{transcript}}", transcripts,
		"{{date}}", s.now().Format("2006-01-02"),
		"{{patient}}", patientID,
	).Replace(template)

	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.cfg.MaxTokens
	}
	return Request{
		Instructions: p.SystemPrompt,
		PromptPrefix: prompt,
		MaxTokens:    maxTokens,
		Model:        p.Model,
	}
}

// previous answers a request whose hash is already claimed. done is false
// when the claim was abandoned (no summary, a failed one, or one that stopped
// making progress) and the caller should run the request again.
func (s *Service) previous(patientID, hash string) (result Result, done bool, err error) {
	sum, ok, err := s.store.SummaryForRequest(patientID, hash)
	if err != nil {
		return Result{}, true, fmt.Errorf("look up summary request: %w", err)
	}
	if !ok {
		s.logger.Info("retrying unattached summary request", "patient_id", patientID)
		return Result{}, false, nil
	}

	switch sum.Status {
	case storage.SummaryCompleted:
		return Result{ID: sum.ID, PatientID: patientID, Preset: sum.Preset, Summary: sum.Summary, Cached: true}, true, nil
	case storage.SummaryPending, storage.SummaryRunning:
		if time.Since(sum.UpdatedAt) < s.staleAfter {
			return Result{}, true, ErrInProgress
		}
		s.logger.Warn("taking over stale summary request", "patient_id", patientID, "id", sum.ID, "status", sum.Status)
		s.update(sum.ID, "", storage.SummaryFailed, "", "abandoned")
	}
	return Result{}, false, nil
}

func (s *Service) export(ctx context.Context, patientID string, sum storage.Summary) string {
	if s.exporter == nil {
		return ""
	}
	path, err := s.exporter.WriteSummary(patientID, sum)
	if err != nil {
		s.logger.Warn("export summary", "patient_id", patientID, "error", err)
		return ""
	}
	if s.syncer != nil {
		name := fmt.Sprintf("intake-%s-%s", patientID, sum.UpdatedAt.Format("2006-01-02-150405"))
		if err := s.syncer.Sync(ctx, path, name); err != nil {
			s.logger.Warn("sync summary to drive", "patient_id", patientID, "error", err)
		}
	}
	return path
}

func (s *Service) update(id, text, status, preset, errText string) {
	if s.store == nil || id == "" {
		return
	}
	if err := s.store.UpdateSummary(id, text, status, preset, errText); err != nil {
		s.logger.Warn("update summary", "id", id, "status", status, "error", err)
	}
}

func (s *Service) release(patientID, hash string) {
	if s.store == nil {
		return
	}
	if err := s.store.ReleaseSummaryRequest(patientID, hash); err != nil {
		s.logger.Warn("release summary request", "patient_id", patientID, "error", err)
	}
}

func (s *Service) broadcast(patientID, text, status, preset string) {
	if s.hub != nil {
		s.hub.BroadcastSummaryReady(patientID, text, status, preset)
	}
}

func requestHash(req Request) string {
	h := sha256.New()
	for _, part := range []string{req.Model, req.Instructions, req.PromptPrefix, strconv.Itoa(req.MaxTokens)} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	for _, img := range req.Images {
		h.Write([]byte(img.MediaType))
		h.Write(img.Data)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
