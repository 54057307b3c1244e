package summary

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sjawhar/intake/internal/render"
)

// fakeBackend returns queued errors first, then queued responses. The last
// response repeats.
type fakeBackend struct {
	mu        sync.Mutex
	errs      []error
	responses []string
	requests  []Request
}

func (f *fakeBackend) Complete(_ context.Context, req Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return "", err
	}
	if len(f.responses) == 0 {
		return "ok", nil
	}
	r := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return r, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// fakeRasterizer renders pages[string(pdf)] pages per document.
type fakeRasterizer struct {
	pages map[string]int
	err   error
}

func (f *fakeRasterizer) Rasterize(_ context.Context, pdf []byte) ([]render.PageImage, error) {
	if f.err != nil {
		return nil, f.err
	}
	n := f.pages[string(pdf)]
	out := make([]render.PageImage, 0, n)
	for i := range n {
		out = append(out, render.PageImage{
			Page:      i + 1,
			Data:      fmt.Appendf(nil, "%s-p%d", pdf, i+1),
			MediaType: render.MediaTypeJPEG,
		})
	}
	return out, nil
}

type sleepRecorder struct {
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.sleeps = append(s.sleeps, d)
	return nil
}
