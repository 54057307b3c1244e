// Package render rasterizes PDF pages to JPEG images for inference.
package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/JaimeStill/document-context/pkg/config"
	"github.com/JaimeStill/document-context/pkg/document"
	"github.com/JaimeStill/document-context/pkg/image"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	// DefaultDPI is a 1.5 scale of the 72 DPI PDF user space.
	DefaultDPI     = 108
	defaultQuality = 85
	MediaTypeJPEG  = "image/jpeg"
)

// PageImage is one rendered page. Page numbers start at 1.
type PageImage struct {
	Page      int
	Data      []byte
	MediaType string
}

// pageSource renders pages of one opened document.
type pageSource interface {
	Render(page int) ([]byte, error)
	io.Closer
}

type Options struct {
	DPI     int
	Quality int
	Workers int
	TempDir string
	Logger  *slog.Logger
}

type Renderer struct {
	opts      Options
	logger    *slog.Logger
	open      func(path string) (pageSource, error)
	pageCount func(data []byte) (int, error)
}

func New(opts Options) *Renderer {
	if opts.DPI <= 0 {
		opts.DPI = DefaultDPI
	}
	if opts.Quality <= 0 {
		opts.Quality = defaultQuality
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Renderer{opts: opts, logger: logger.With("component", "render"), pageCount: PageCount}
	r.open = r.openMagick
	return r
}

// PageCount reads the number of pages of a PDF.
func PageCount(data []byte) (int, error) {
	if !IsPDF(data) {
		return 0, ErrNotPDF
	}
	count, err := api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return 0, fmt.Errorf("count pdf pages: %w", err)
	}
	return count, nil
}

// IsPDF checks the PDF magic header.
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

type renderTask struct {
	page int
	data []byte
	err  error
}

// Rasterize renders every page of pdf in page order. The temporary copy of
// the document is removed before it returns.
func (r *Renderer) Rasterize(ctx context.Context, pdf []byte) ([]PageImage, error) {
	count, err := r.pageCount(pdf)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRenderFailed, err)
	}
	if count < 1 {
		return nil, fmt.Errorf("%w: document has no pages", ErrRenderFailed)
	}

	tmp, err := os.CreateTemp(r.opts.TempDir, "intake-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp pdf: %w", err)
	}
	path := tmp.Name()
	defer func() { _ = os.Remove(path) }()

	if _, err := tmp.Write(pdf); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("write temp pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp pdf: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan int, count)
	results := make(chan renderTask, count)

	var wg sync.WaitGroup
	for range r.workerCount(count) {
		wg.Go(func() {
			r.renderWorker(ctx, path, tasks, results)
		})
	}

	for page := 1; page <= count; page++ {
		tasks <- page
	}
	close(tasks)

	go func() {
		wg.Wait()
		close(results)
	}()

	pages := make(map[int][]byte, count)
	var firstErr error
	for task := range results {
		if task.err != nil {
			if firstErr == nil {
				firstErr = task.err
				cancel()
			}
			continue
		}
		pages[task.page] = task.data
	}
	if firstErr != nil {
		return nil, firstErr
	}

	images := make([]PageImage, 0, count)
	for page := 1; page <= count; page++ {
		data, ok := pages[page]
		if !ok {
			return nil, fmt.Errorf("%w: page %d missing", ErrRenderFailed, page)
		}
		images = append(images, PageImage{Page: page, Data: data, MediaType: MediaTypeJPEG})
	}

	r.logger.Debug("rasterized pdf", "pages", count, "dpi", r.opts.DPI)
	return images, nil
}

func (r *Renderer) renderWorker(ctx context.Context, path string, tasks <-chan int, results chan<- renderTask) {
	src, err := r.open(path)
	if err != nil {
		for page := range tasks {
			results <- renderTask{page: page, err: fmt.Errorf("%w: %v", ErrRenderFailed, err)}
		}
		return
	}
	defer func() { _ = src.Close() }()

	for page := range tasks {
		select {
		case <-ctx.Done():
			results <- renderTask{page: page, err: ctx.Err()}
			continue
		default:
		}

		data, err := src.Render(page)
		if err != nil {
			err = fmt.Errorf("%w: page %d: %v", ErrRenderFailed, page, err)
		}
		results <- renderTask{page: page, data: data, err: err}
	}
}

func (r *Renderer) workerCount(pages int) int {
	workers := r.opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return max(min(workers, pages), 1)
}

type magickSource struct {
	doc interface {
		ExtractPage(pageNum int) (document.Page, error)
		io.Closer
	}
	renderer image.Renderer
}

func (r *Renderer) openMagick(path string) (pageSource, error) {
	renderer, err := image.NewImageMagickRenderer(config.ImageConfig{
		Format:  string(document.JPEG),
		DPI:     r.opts.DPI,
		Quality: r.opts.Quality,
		Options: map[string]any{"background": "white"},
	})
	if err != nil {
		return nil, fmt.Errorf("create imagemagick renderer: %w", err)
	}

	doc, err := document.OpenPDF(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &magickSource{doc: doc, renderer: renderer}, nil
}

func (m *magickSource) Render(page int) ([]byte, error) {
	p, err := m.doc.ExtractPage(page)
	if err != nil {
		return nil, err
	}
	return p.ToImage(m.renderer, nil)
}

func (m *magickSource) Close() error {
	return m.doc.Close()
}
