// Package live streams captured audio to Deepgram for draft captions while a
// recording is in progress. Captions are advisory; the stored transcript
// always comes from the gateway transcription job.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sjawhar/intake/internal/config"
	"github.com/sjawhar/intake/internal/recording"
)

var ErrNotConfigured = errors.New("live captions not configured")

var initOnce sync.Once

type Client struct {
	apiKey   string
	model    string
	language string
	store    Store
	hub      EventBroadcaster
	logger   *slog.Logger
}

func New(cfg config.Config, store Store, hub EventBroadcaster, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:   cfg.DeepgramAPIKey,
		model:    cfg.Live.Model,
		language: cfg.Live.Language,
		store:    store,
		hub:      hub,
		logger:   logger,
	}
}

func (c *Client) Enabled() bool {
	return c != nil && c.apiKey != ""
}

// Start opens a Deepgram websocket for one recording.
func (c *Client) Start(ctx context.Context, recordingID string, sampleRate int) (recording.CaptionStream, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	initOnce.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})

	session := NewSession(recordingID, c.store, c.hub, c.logger)
	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:       c.model,
		Language:    c.language,
		Diarize:     true,
		Punctuate:   true,
		SmartFormat: true,
		Encoding:    "linear16",
		SampleRate:  sampleRate,
		Channels:    1,
	}

	dgClient, err := client.NewWSUsingCallback(ctx, c.apiKey, cOptions, tOptions, session)
	if err != nil {
		return nil, fmt.Errorf("create deepgram client: %w", err)
	}
	if ok := dgClient.Connect(); !ok {
		return nil, errors.New("deepgram connect failed")
	}

	return &stream{ws: dgClient, session: session, logger: c.logger}, nil
}

// wsConn is the subset of the Deepgram websocket client a stream uses.
type wsConn interface {
	Write(p []byte) (int, error)
	Stop()
}

type stream struct {
	ws      wsConn
	session *Session
	logger  *slog.Logger
	once    sync.Once
}

func (s *stream) Write(p []byte) (int, error) {
	return s.ws.Write(p)
}

func (s *stream) Close() {
	s.once.Do(func() {
		s.ws.Stop()
		if err := s.session.Flush(); err != nil {
			s.logger.Warn("flush live captions", "error", err)
		}
	})
}
