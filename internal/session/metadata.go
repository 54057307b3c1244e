package session

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sjawhar/intake/internal/audio"
	"github.com/sjawhar/intake/internal/gateway"
	"github.com/sjawhar/intake/internal/render"
	"github.com/sjawhar/intake/internal/storage"
)

// Fetcher downloads an artifact from its presigned URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

type mediaProber struct {
	fetch    Fetcher
	duration func(ctx context.Context, source string) (time.Duration, error)
}

// NewProber reads audio duration with ffprobe straight from the URL and
// counts PDF pages after downloading the document.
func NewProber(fetch Fetcher) Prober {
	return &mediaProber{fetch: fetch, duration: audio.ProbeDuration}
}

func (p *mediaProber) AudioDuration(ctx context.Context, url string) (time.Duration, error) {
	return p.duration(ctx, url)
}

func (p *mediaProber) PageCount(ctx context.Context, url string) (int, error) {
	data, err := p.fetch.Fetch(ctx, url)
	if err != nil {
		return 0, err
	}
	return render.PageCount(data)
}

// cached attaches metadata already in the journal for the same file version.
func (m *Manager) cached(patientID string, found []gateway.Artifact) []Artifact {
	out := make([]Artifact, 0, len(found))
	for _, a := range found {
		art := Artifact{Artifact: a}
		if m.journal != nil {
			meta, ok, err := m.journal.ArtifactMetadata(patientID, a.FileName, a.SizeBytes, a.LastModified)
			if err != nil {
				m.logger.Debug("read cached metadata", "file", a.FileName, "error", err)
			}
			if ok {
				art.Duration = meta.Duration
				art.PageCount = meta.PageCount
			}
		}
		out = append(out, art)
	}
	return out
}

func (m *Manager) startEnrichment(gen uint64, patientID string, artifacts Artifacts) {
	if m.prober == nil {
		return
	}
	var todo []Artifact
	for _, a := range artifacts.PDF {
		if a.PageCount == nil && a.URL != "" {
			todo = append(todo, a)
		}
	}
	for _, a := range artifacts.Audio {
		if a.Duration == nil && a.URL != "" {
			todo = append(todo, a)
		}
	}
	if len(todo) == 0 {
		return
	}
	m.enrich.Go(func() { m.enrichMetadata(gen, patientID, todo) })
}

// enrichMetadata probes artifacts under the metadata timeout and merges the
// results only if no newer resolution replaced the one that asked for them.
// Probe failures leave the metadata unknown.
func (m *Manager) enrichMetadata(gen uint64, patientID string, todo []Artifact) {
	ctx, cancel := context.WithTimeout(context.Background(), m.metadataTimeout)
	defer cancel()

	probed := make([]Artifact, len(todo))
	var g errgroup.Group
	g.SetLimit(metadataWorkers)
	for i, a := range todo {
		g.Go(func() error {
			probed[i] = m.probe(ctx, patientID, a)
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.patientID != patientID {
		return
	}
	changed := false
	for _, p := range probed {
		if p.Duration == nil && p.PageCount == nil {
			continue
		}
		changed = mergeMetadata(m.artifacts.PDF, p) || mergeMetadata(m.artifacts.Audio, p) || changed
	}
	if changed {
		m.broadcastLocked()
	}
}

func (m *Manager) probe(ctx context.Context, patientID string, a Artifact) Artifact {
	meta := storage.ArtifactMetadata{
		PatientID:    patientID,
		FileName:     a.FileName,
		SizeBytes:    a.SizeBytes,
		LastModified: a.LastModified,
	}
	switch a.Kind {
	case gateway.KindAudio:
		d, err := m.prober.AudioDuration(ctx, a.URL)
		if err != nil {
			m.logger.Debug("probe duration", "file", a.FileName, "error", err)
			return a
		}
		a.Duration, meta.Duration = &d, &d
	case gateway.KindPDF:
		n, err := m.prober.PageCount(ctx, a.URL)
		if err != nil {
			m.logger.Debug("count pages", "file", a.FileName, "error", err)
			return a
		}
		a.PageCount, meta.PageCount = &n, &n
	default:
		return a
	}

	if m.journal != nil {
		if err := m.journal.PutArtifactMetadata(meta); err != nil {
			m.logger.Warn("cache metadata", "file", a.FileName, "error", err)
		}
	}
	return a
}

func mergeMetadata(list []Artifact, p Artifact) bool {
	for i := range list {
		if list[i].FileName != p.FileName {
			continue
		}
		if p.Duration != nil {
			list[i].Duration = p.Duration
		}
		if p.PageCount != nil {
			list[i].PageCount = p.PageCount
		}
		return true
	}
	return false
}
