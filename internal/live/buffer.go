package live

import (
	"sync"

	"github.com/sjawhar/intake/internal/transcribe"
)

// UtteranceBuffer accumulates words from multiple is_final Deepgram messages
// until speech_final signals the utterance is complete.
type UtteranceBuffer struct {
	mu    sync.Mutex
	words []transcribe.Word
}

func NewUtteranceBuffer() *UtteranceBuffer {
	return &UtteranceBuffer{}
}

func (b *UtteranceBuffer) AddWords(words []transcribe.Word) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.words = append(b.words, words...)
}

// snapshot returns a copy of the buffered words without clearing them.
func (b *UtteranceBuffer) snapshot() []transcribe.Word {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.words) == 0 {
		return nil
	}
	return append([]transcribe.Word(nil), b.words...)
}

// Flush returns all accumulated words and resets the buffer.
// Returns nil if the buffer is empty.
func (b *UtteranceBuffer) Flush() []transcribe.Word {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.words) == 0 {
		return nil
	}
	out := b.words
	b.words = nil
	return out
}

func (b *UtteranceBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.words)
}
