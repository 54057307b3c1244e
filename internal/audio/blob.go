package audio

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Blob is an encoded local recording. It owns its file until Release.
type Blob struct {
	ID          string
	Path        string
	ContentType string
	Size        int64
	Duration    time.Duration

	mu       sync.Mutex
	released bool
}

// Bytes reads the encoded recording.
func (b *Blob) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, fmt.Errorf("read recording %s: already released", b.ID)
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		return nil, fmt.Errorf("read recording %s: %w", b.ID, err)
	}
	return data, nil
}

// Release deletes the backing file. It is safe to call more than once.
func (b *Blob) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil
	}
	b.released = true
	if err := os.Remove(b.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release recording %s: %w", b.ID, err)
	}
	return nil
}

func (b *Blob) Released() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.released
}

// ContentType maps a recording format to its upload content type.
func ContentType(format string) string {
	switch format {
	case FormatMP3:
		return "audio/mpeg"
	default:
		return "video/mp4"
	}
}
