// Package summary turns a patient's transcripts and intake documents into an
// AI-written summary.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sjawhar/intake/internal/gateway"
	"github.com/sjawhar/intake/internal/render"
)

// Request is one inference call. Images are sent in order after the prompt.
type Request struct {
	Instructions string
	PromptPrefix string
	Images       []render.PageImage
	MaxTokens    int
	// Model overrides the backend's default model where the backend supports it.
	Model string
}

// Backend performs one inference call and returns the model's text.
type Backend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte) ([]render.PageImage, error)
}

// NamedTranscript is a transcript's plain text and the file it came from.
type NamedTranscript struct {
	Name string
	Text string
}

var retryBackoff = []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}

type Adapter struct {
	backend  Backend
	fetch    Fetcher
	renderer Rasterizer
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
}

func NewAdapter(backend Backend, fetch Fetcher, renderer Rasterizer, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		backend:  backend,
		fetch:    fetch,
		renderer: renderer,
		logger:   logger.With("component", "summary"),
		sleep:    sleepContext,
	}
}

// BuildImageSet downloads each PDF and rasterizes every page, keeping
// document order and page order.
func (a *Adapter) BuildImageSet(ctx context.Context, pdfs []gateway.Artifact) ([]render.PageImage, error) {
	var images []render.PageImage
	for _, pdf := range pdfs {
		data, err := a.fetch.Fetch(ctx, pdf.URL)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", pdf.FileName, err)
		}
		pages, err := a.renderer.Rasterize(ctx, data)
		if err != nil {
			return nil, fmt.Errorf("rasterize %s: %w", pdf.FileName, err)
		}
		images = append(images, pages...)
	}
	return images, nil
}

// Summarize sends req to the backend. Network failures are retried with
// backoff; any other failure is returned at once.
func (a *Adapter) Summarize(ctx context.Context, req Request) (string, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		text, err := a.backend.Complete(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !gateway.IsRetryable(err) || attempt >= len(retryBackoff) {
			break
		}
		a.logger.Warn("inference failed, retrying", "attempt", attempt+1, "backoff", retryBackoff[attempt], "error", err)
		if err := a.sleep(ctx, retryBackoff[attempt]); err != nil {
			return "", err
		}
	}
	if gateway.IsRetryable(lastErr) {
		return "", fmt.Errorf("summarize failed after retries: %w", lastErr)
	}
	return "", lastErr
}

// CombineTranscripts joins transcripts in the given order, each under a
// "=== name ===" heading.
func CombineTranscripts(transcripts []NamedTranscript) string {
	var b strings.Builder
	for i, t := range transcripts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "=== %s ===\n%s", t.Name, strings.TrimSpace(t.Text))
	}
	return b.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
