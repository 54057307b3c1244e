// Package session owns the patient-session lifecycle: resolving an id against
// the remote folder, creating and deleting patients, and keeping the known
// artifact set consistent across uploads and refreshes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sjawhar/intake/internal/audio"
	"github.com/sjawhar/intake/internal/config"
	"github.com/sjawhar/intake/internal/gateway"
	"github.com/sjawhar/intake/internal/opguard"
	"github.com/sjawhar/intake/internal/storage"
)

const (
	defaultMetadataTimeout = 5 * time.Second
	metadataWorkers        = 4
)

type Options struct {
	Gateway   Gateway
	Registry  Registry
	Journal   Journal
	Prober    Prober
	Guard     *opguard.Guard
	Hub       EventBroadcaster
	Listeners []Listener

	Locale          string
	MaxUploadBytes  int64
	MetadataTimeout time.Duration
	Logger          *slog.Logger
}

// OptionsFromConfig fills the configurable limits. Collaborators are left for
// the caller.
func OptionsFromConfig(cfg config.Config, logger *slog.Logger) Options {
	return Options{
		Locale:          cfg.Locale,
		MaxUploadBytes:  cfg.MaxUploadBytes(),
		MetadataTimeout: cfg.MetadataTimeout(),
		Logger:          logger,
	}
}

type Manager struct {
	gw              Gateway
	registry        Registry
	journal         Journal
	prober          Prober
	guard           *opguard.Guard
	hub             EventBroadcaster
	catalog         Catalog
	maxUpload       int64
	metadataTimeout time.Duration
	logger          *slog.Logger

	mu          sync.Mutex
	listeners   []Listener
	draftID     string
	patientID   string
	state       State
	registered  bool
	inputLocked bool
	artifacts   Artifacts
	status      Status
	generation  uint64
	candidate   *audio.Blob
	candidateOf string

	enrich sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	guard := opts.Guard
	if guard == nil {
		guard = opguard.New()
	}
	timeout := opts.MetadataTimeout
	if timeout <= 0 {
		timeout = defaultMetadataTimeout
	}
	return &Manager{
		gw:              opts.Gateway,
		registry:        opts.Registry,
		journal:         opts.Journal,
		prober:          opts.Prober,
		guard:           guard,
		hub:             opts.Hub,
		catalog:         NewCatalog(opts.Locale),
		maxUpload:       opts.MaxUploadBytes,
		metadataTimeout: timeout,
		logger:          logger.With("component", "session"),
		listeners:       slices.Clone(opts.Listeners),
		state:           StateUnresolved,
	}
}

// AddListener registers l for patient switch and delete notifications.
func (m *Manager) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// SetDraft updates the editable id. It does not resolve anything.
func (m *Manager) SetDraft(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inputLocked {
		return ErrInputLocked
	}
	m.draftID = id
	return nil
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		DraftID:     m.draftID,
		PatientID:   m.patientID,
		State:       m.state,
		Exists:      m.state.Existence(),
		Registered:  m.registered,
		InputLocked: m.inputLocked,
		Artifacts:   m.artifacts.clone(),
		Status:      m.status,
	}
	if m.candidate != nil && !m.candidate.Released() && m.candidateOf == m.patientID {
		snap.Candidate = &CandidateInfo{
			RecordingID: m.candidate.ID,
			ContentType: m.candidate.ContentType,
			Size:        m.candidate.Size,
			Duration:    m.candidate.Duration,
		}
	}
	return snap
}

// PatientID returns the resolved patient, or "" when none is resolved.
func (m *Manager) PatientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.patientID
}

// Settle waits for background metadata enrichment to finish.
func (m *Manager) Settle() {
	m.enrich.Wait()
}

// Resolve looks patientID up in the remote store and moves the session to
// newPatient, existingPatientEmpty or existingPatientWithArtifacts. A failed
// lookup moves it to error. A response that arrives after a newer resolution
// started is dropped with ErrSuperseded.
func (m *Manager) Resolve(ctx context.Context, patientID string) error {
	patientID = strings.TrimSpace(patientID)
	if !validPatientID(patientID) {
		m.setStatus(m.catalog.Status(StatusInvalidID))
		return fmt.Errorf("%w: %q", ErrInvalidPatientID, patientID)
	}
	return m.resolve(ctx, patientID, false)
}

// Refresh re-lists the resolved patient. On failure the previous state and
// artifacts are kept and only the status changes.
func (m *Manager) Refresh(ctx context.Context) error {
	patientID := m.PatientID()
	if patientID == "" {
		return ErrNoPatient
	}
	return m.resolve(ctx, patientID, true)
}

type lookupResult struct {
	state     State
	artifacts Artifacts
}

func (m *Manager) resolve(ctx context.Context, patientID string, refresh bool) error {
	m.mu.Lock()
	m.generation++
	gen := m.generation
	previous := m.patientID
	switched := previous != patientID
	m.patientID = patientID
	m.draftID = patientID
	m.inputLocked = true
	if switched {
		m.artifacts = Artifacts{}
		m.registered = false
	}
	if !refresh {
		m.state = StateResolving
	}
	m.status = m.catalog.Status(StatusResolving, patientID)
	listeners := slices.Clone(m.listeners)
	m.broadcastLocked()
	m.mu.Unlock()

	if switched {
		for _, l := range listeners {
			l.PatientSwitched(previous, patientID)
		}
	}

	result, err := m.lookup(ctx, patientID)
	registered := false
	if err == nil && m.registry != nil {
		ok, regErr := m.registry.Contains(ctx, patientID)
		if regErr != nil {
			m.logger.Warn("registry lookup failed", "patient_id", patientID, "error", regErr)
		}
		registered = ok
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		m.logger.Debug("dropping superseded resolution", "patient_id", patientID, "generation", gen)
		m.record(patientID, "resolve", "", storage.OutcomeStale, "superseded")
		return ErrSuperseded
	}
	m.inputLocked = false

	if err != nil {
		if !refresh {
			m.state = StateError
		}
		m.status = m.catalog.Status(errorKey(err))
		state := m.state
		m.broadcastLocked()
		m.mu.Unlock()

		m.logger.Warn("resolve failed", "patient_id", patientID, "refresh", refresh, "error", err)
		m.record(patientID, "resolve", state, storage.OutcomeFailed, err.Error())
		return fmt.Errorf("resolve %s: %w", patientID, err)
	}

	m.state = result.state
	m.artifacts = result.artifacts
	m.registered = registered
	m.status = m.resultStatus(patientID, result)
	m.broadcastLocked()
	m.mu.Unlock()

	m.logger.Info("patient resolved", "patient_id", patientID, "state", result.state, "artifacts", result.artifacts.Len())
	m.record(patientID, "resolve", result.state, storage.OutcomeOK, "")
	m.startEnrichment(gen, patientID, result.artifacts)
	return nil
}

func (m *Manager) lookup(ctx context.Context, patientID string) (lookupResult, error) {
	listing, err := m.gw.ListArtifacts(ctx, patientID, gateway.PatternAll)
	if err != nil {
		return lookupResult{}, err
	}
	if !listing.Exists {
		return lookupResult{state: StateNewPatient}, nil
	}
	if len(listing.Artifacts) == 0 {
		return lookupResult{state: StateExistingEmpty}, nil
	}

	patterns := []string{gateway.PatternPDF, gateway.PatternMP4, gateway.PatternMP3, gateway.PatternTranscript}
	found := make([][]gateway.Artifact, len(patterns))
	g, gctx := errgroup.WithContext(ctx)
	for i, pattern := range patterns {
		g.Go(func() error {
			l, err := m.gw.ListArtifacts(gctx, patientID, pattern)
			if err != nil {
				return fmt.Errorf("list %s: %w", pattern, err)
			}
			found[i] = l.Artifacts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return lookupResult{}, err
	}

	artifacts := Artifacts{
		PDF:        m.cached(patientID, found[0]),
		Audio:      m.cached(patientID, append(found[1], found[2]...)),
		Transcript: m.cached(patientID, found[3]),
	}
	state := StateExistingWithArtifacts
	if artifacts.Len() == 0 {
		state = StateExistingEmpty
	}
	return lookupResult{state: state, artifacts: artifacts}, nil
}

func (m *Manager) resultStatus(patientID string, r lookupResult) Status {
	switch r.state {
	case StateNewPatient:
		return m.catalog.Status(StatusNewPatient, patientID)
	case StateExistingEmpty:
		return m.catalog.Status(StatusExistingEmpty, patientID)
	default:
		return m.catalog.Status(StatusLoaded, patientID, r.artifacts.Len())
	}
}

// CreatePatient creates the remote folder for a patient that was resolved as
// new and adds it to the registry. A registry failure leaves the folder in
// place and only produces a warning.
func (m *Manager) CreatePatient(ctx context.Context) error {
	m.mu.Lock()
	patientID, state := m.patientID, m.state
	m.mu.Unlock()

	if patientID == "" {
		return ErrNoPatient
	}
	if state != StateNewPatient {
		return fmt.Errorf("%w: create while %s", ErrInvalidState, state)
	}

	release, err := m.guard.Acquire(patientID, "create patient")
	if err != nil {
		m.fail(patientID, "create", err)
		return err
	}
	defer release()

	if err := m.gw.CreateFolder(ctx, patientID); err != nil {
		m.fail(patientID, "create", err)
		return fmt.Errorf("create patient %s: %w", patientID, err)
	}

	registered := true
	status := m.catalog.Status(StatusCreated, patientID)
	if m.registry != nil {
		if err := m.registry.Add(ctx, patientID); err != nil {
			m.logger.Warn("registry add failed", "patient_id", patientID, "error", err)
			registered = false
			status = m.catalog.Status(StatusRegistryWarning, patientID)
		}
	}

	m.mu.Lock()
	if m.patientID == patientID {
		m.generation++
		m.state = StateExistingEmpty
		m.artifacts = Artifacts{}
		m.registered = registered
		m.inputLocked = false
		m.status = status
		m.broadcastLocked()
	}
	m.mu.Unlock()

	m.logger.Info("patient created", "patient_id", patientID, "registered", registered)
	m.record(patientID, "create", StateExistingEmpty, storage.OutcomeOK, string(status.Key))
	return nil
}

// DeletePatient removes the patient folder and everything derived from it.
// A folder that is already gone counts as deleted.
func (m *Manager) DeletePatient(ctx context.Context, confirmed bool) error {
	patientID := m.PatientID()
	if patientID == "" {
		return ErrNoPatient
	}
	if !confirmed {
		return ErrConfirmationRequired
	}

	release, err := m.guard.Acquire(patientID, "delete patient")
	if err != nil {
		m.fail(patientID, "delete", err)
		return err
	}
	defer release()

	if err := m.gw.DeleteArtifact(ctx, patientID, ""); err != nil {
		if !errors.Is(err, gateway.ErrNotFound) {
			m.fail(patientID, "delete", err)
			return fmt.Errorf("delete patient %s: %w", patientID, err)
		}
		m.logger.Info("patient folder already gone", "patient_id", patientID)
	}

	if m.registry != nil {
		if err := m.registry.Remove(ctx, patientID); err != nil {
			m.logger.Warn("registry remove failed", "patient_id", patientID, "error", err)
		}
	}
	if m.journal != nil {
		if err := m.journal.PurgePatient(patientID); err != nil {
			m.logger.Warn("purge journal", "patient_id", patientID, "error", err)
		}
	}

	// The session may have moved on to another patient while the delete was
	// in flight; its resolution must not be superseded by this one.
	m.mu.Lock()
	if m.patientID == patientID {
		m.generation++
		m.draftID = ""
		m.patientID = ""
		m.state = StateUnresolved
		m.registered = false
		m.inputLocked = false
		m.artifacts = Artifacts{}
		m.status = m.catalog.Status(StatusDeleted, patientID)
		m.broadcastLocked()
	}
	if m.candidateOf == patientID {
		m.candidate = nil
		m.candidateOf = ""
	}
	listeners := slices.Clone(m.listeners)
	m.mu.Unlock()

	// Listeners drop only state that belongs to patientID.
	for _, l := range listeners {
		l.PatientDeleted(patientID)
	}

	m.logger.Info("patient deleted", "patient_id", patientID)
	m.record(patientID, "delete", StateUnresolved, storage.OutcomeOK, "")
	return nil
}

func (m *Manager) setStatus(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
	m.broadcastLocked()
}

// fail sets the localized status for err and journals the failure. Artifacts
// and state are left alone.
func (m *Manager) fail(patientID, kind string, err error) {
	outcome := storage.OutcomeFailed
	if errors.Is(err, opguard.ErrConcurrentOperationRejected) {
		outcome = storage.OutcomeRejected
	}

	m.mu.Lock()
	if m.patientID == patientID {
		m.status = m.catalog.Status(errorKey(err))
		m.broadcastLocked()
	}
	state := m.state
	m.mu.Unlock()

	m.logger.Warn(kind+" failed", "patient_id", patientID, "error", err)
	m.record(patientID, kind, state, outcome, err.Error())
}

func (m *Manager) record(patientID, kind string, state State, outcome, detail string) {
	if m.journal == nil {
		return
	}
	_, err := m.journal.RecordOperation(storage.Operation{
		PatientID: patientID,
		Kind:      kind,
		State:     string(state),
		Outcome:   outcome,
		Detail:    detail,
	})
	if err != nil {
		m.logger.Warn("record operation", "kind", kind, "error", err)
	}
}

func (m *Manager) broadcastLocked() {
	if m.hub == nil {
		return
	}
	m.hub.BroadcastSessionChanged(m.patientID, string(m.state), m.status.Text)
}

func validPatientID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
