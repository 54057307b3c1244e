// Package app wires configuration into the running controllers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sjawhar/intake/internal/audio"
	"github.com/sjawhar/intake/internal/config"
	"github.com/sjawhar/intake/internal/gateway"
	"github.com/sjawhar/intake/internal/gdrive"
	"github.com/sjawhar/intake/internal/live"
	"github.com/sjawhar/intake/internal/opguard"
	"github.com/sjawhar/intake/internal/recording"
	"github.com/sjawhar/intake/internal/registry"
	"github.com/sjawhar/intake/internal/render"
	"github.com/sjawhar/intake/internal/server"
	"github.com/sjawhar/intake/internal/session"
	"github.com/sjawhar/intake/internal/storage"
	"github.com/sjawhar/intake/internal/summary"
	"github.com/sjawhar/intake/internal/transcripts"
)

type App struct {
	Config   config.Config
	Warnings []string
	Logger   *slog.Logger

	Store       *storage.SQLiteStore
	Writer      *storage.Writer
	Gateway     *gateway.Client
	Hub         *server.Hub
	Session     *session.Manager
	Recording   *recording.Controller
	Transcripts *transcripts.Controller
	Summary     *summary.Service
	Registry    *registry.Client

	audioOnce sync.Once
	audioErr  error
	closers   []func() error
}

// New builds every controller. Optional collaborators (registry, live
// captions, drive sync) are left out when their configuration is missing
// and a warning is added instead.
func New(ctx context.Context, cfg config.Config, warnings []string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Warnings: warnings, Logger: logger}

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.Store = store
	a.closers = append(a.closers, store.Close)

	a.Writer = storage.NewWriter(cfg.ExportDir)
	a.Gateway = gateway.New(gateway.OptionsFromConfig(cfg, logger))
	a.Hub = server.NewHub(logger)
	guard := opguard.New()

	sessOpts := session.OptionsFromConfig(cfg, logger)
	sessOpts.Gateway = a.Gateway
	sessOpts.Journal = store
	sessOpts.Prober = session.NewProber(a.Gateway)
	sessOpts.Guard = guard
	sessOpts.Hub = a.Hub
	if cfg.Registry.URL != "" {
		a.Registry = registry.NewClient(cfg.Registry.URL, nil)
		sessOpts.Registry = a.Registry
	}
	a.Session = session.NewManager(sessOpts)

	recOpts := recording.Options{
		Open:    a.openMic,
		Encoder: audio.NewRecorder(cfg.Recording.Dir, cfg.Recording.Format),
		Prior:   a.Session,
		Sink:    a.Session,
		Hub:     a.Hub,
		Logger:  logger,
	}
	if captions := live.New(cfg, store, a.Hub, logger); captions.Enabled() {
		recOpts.Captions = captions
	}
	a.Recording = recording.NewController(recOpts)

	a.Transcripts = transcripts.NewController(transcripts.Options{
		Gateway: a.Gateway,
		Session: a.Session,
		Guard:   guard,
		Hub:     a.Hub,
		Logger:  logger,
	})
	a.Session.AddListener(a.Recording)
	a.Session.AddListener(a.Transcripts)

	backend, err := summary.NewBackend(cfg, a.Gateway)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	sumOpts := summary.Options{
		Config:   cfg.Summarization,
		Backend:  backend,
		Gateway:  a.Gateway,
		Renderer: render.New(render.Options{Logger: logger}),
		Store:    store,
		Exporter: a.Writer,
		Guard:    guard,
		Hub:      a.Hub,
		Logger:   logger,
	}
	if cfg.GDriveFolderID != "" {
		syncer, err := gdrive.NewSyncer(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID, logger)
		if err != nil {
			a.Warnings = append(a.Warnings, fmt.Sprintf("google drive sync disabled: %v", err))
		} else {
			sumOpts.Syncer = syncer
		}
	}
	a.Summary = summary.NewService(sumOpts)

	return a, nil
}

// openMic initializes PortAudio on first use so commands that never record
// do not need an audio device.
func (a *App) openMic() (recording.Device, int, error) {
	a.audioOnce.Do(func() {
		if err := audio.Init(); err != nil {
			a.audioErr = err
			return
		}
		a.closers = append(a.closers, audio.Terminate)
	})
	if a.audioErr != nil {
		return nil, 0, fmt.Errorf("init audio: %w", a.audioErr)
	}
	mic, rate, err := audio.OpenMic(a.Config.SampleRateCandidates(), a.Config.Recording.FramesPerBuffer)
	if err != nil {
		return nil, 0, err
	}
	return mic, rate, nil
}

// Services exposes the controllers to the local API.
func (a *App) Services() server.Services {
	return server.Services{
		Session:        a.Session,
		Recording:      a.Recording,
		Transcripts:    a.Transcripts,
		Summary:        a.Summary,
		Warnings:       func() []string { return a.Warnings },
		MaxUploadBytes: a.Config.MaxUploadBytes(),
	}
}

// Close aborts an active capture, waits for background work and releases
// resources in reverse order. A stopped recording is left on disk.
func (a *App) Close() error {
	if a.Recording != nil {
		switch a.Recording.Snapshot().State {
		case recording.StateRecording, recording.StatePaused:
			a.Recording.Discard()
		}
	}
	if a.Session != nil {
		a.Session.Settle()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
