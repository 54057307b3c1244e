package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sjawhar/intake/internal/transcribe"
)

// Writer exports summaries and transcripts as markdown files under
// {dir}/{patientID}/.
type Writer struct {
	dir string
	mu  sync.Mutex
}

func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = filepath.Join("data", "exports")
	}
	return &Writer{dir: dir}
}

// WriteSummary writes one summary document and returns its path.
func (w *Writer) WriteSummary(patientID string, sum Summary) (string, error) {
	at := sum.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	name := fmt.Sprintf("%s-summary", at.Format("2006-01-02-150405"))
	if sum.Preset != "" {
		name += "-" + sum.Preset
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Patient %s\n\n", patientID)
	fmt.Fprintf(&b, "_%s", at.Format("2006-01-02 15:04"))
	if sum.Preset != "" {
		fmt.Fprintf(&b, " · %s", sum.Preset)
	}
	b.WriteString("_\n\n")
	b.WriteString(strings.TrimSpace(sum.Summary))
	b.WriteString("\n")

	return w.write(patientID, name+".md", b.String())
}

// WriteTranscript exports a transcript with display speaker names.
func (w *Writer) WriteTranscript(patientID, fileName string, doc *transcribe.Document) (string, error) {
	labels := doc.Labels()

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", fileName)
	for _, seg := range doc.Segments {
		display, _ := labels.Display(seg.Speaker)
		fmt.Fprintln(&b, seg.FormatMarkdown(display))
		b.WriteString("\n")
	}

	base := strings.TrimSuffix(fileName, filepath.Ext(fileName))
	return w.write(patientID, base+".md", b.String())
}

func (w *Writer) write(patientID, name, content string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := filepath.Join(w.dir, patientID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Dir returns the export root.
func (w *Writer) Dir() string {
	return w.dir
}
