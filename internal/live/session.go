package live

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"

	"github.com/sjawhar/intake/internal/transcribe"
)

// Store journals final caption segments for a recording.
type Store interface {
	AppendDraftSegment(recordingID string, seg transcribe.Segment) error
}

type EventBroadcaster interface {
	BroadcastLiveTranscript(recordingID string, seg transcribe.Segment)
	BroadcastLiveTranscriptInterim(recordingID, speaker, text string, startTime float64)
}

// Session receives Deepgram callbacks for one recording. Interim results are
// broadcast as they arrive; final words are buffered until speech_final or
// utterance end, then grouped by speaker, journaled and broadcast.
type Session struct {
	recordingID string
	store       Store
	hub         EventBroadcaster
	logger      *slog.Logger
	buffer      *UtteranceBuffer
}

func NewSession(recordingID string, store Store, hub EventBroadcaster, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		recordingID: recordingID,
		store:       store,
		hub:         hub,
		logger:      logger.With("component", "live", "recording_id", recordingID),
		buffer:      NewUtteranceBuffer(),
	}
}

func (s *Session) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}

	sentence := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if sentence == "" {
		return nil
	}

	words := make([]transcribe.Word, 0, len(mr.Channel.Alternatives[0].Words))
	for _, word := range mr.Channel.Alternatives[0].Words {
		words = append(words, transcribe.Word{
			Speaker:        word.Speaker,
			PunctuatedWord: word.PunctuatedWord,
			Start:          word.Start,
			End:            word.End,
		})
	}

	// Interim result: broadcast for faded live display only.
	if !mr.IsFinal {
		if s.hub != nil {
			speaker := ""
			startTime := 0.0
			if len(words) > 0 {
				speaker = transcribe.SpeakerLabel(words[0].Speaker)
				startTime = words[0].Start
			}
			s.hub.BroadcastLiveTranscriptInterim(s.recordingID, speaker, sentence, startTime)
		}
		return nil
	}

	s.buffer.AddWords(words)
	if mr.SpeechFinal {
		return s.Flush()
	}
	return nil
}

func (s *Session) UtteranceEnd(*api.UtteranceEndResponse) error {
	return s.Flush()
}

// Flush journals and broadcasts any buffered final words.
func (s *Session) Flush() error {
	words := s.buffer.Flush()
	if len(words) == 0 {
		return nil
	}

	for _, seg := range transcribe.GroupWordsBySpeaker(words) {
		seg.Timestamp = time.Now().UTC()
		if s.store != nil {
			if err := s.store.AppendDraftSegment(s.recordingID, seg); err != nil {
				return fmt.Errorf("append draft segment: %w", err)
			}
		}
		if s.hub != nil {
			s.hub.BroadcastLiveTranscript(s.recordingID, seg)
		}
	}
	return nil
}

func (s *Session) Open(*api.OpenResponse) error {
	s.logger.Info("connected to Deepgram")
	return nil
}

func (s *Session) Metadata(*api.MetadataResponse) error { return nil }

func (s *Session) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (s *Session) Close(*api.CloseResponse) error {
	s.logger.Info("disconnected from Deepgram")
	return nil
}

func (s *Session) Error(er *api.ErrorResponse) error {
	s.logger.Warn("deepgram error", "code", er.ErrCode, "description", er.Description)
	return nil
}

func (s *Session) UnhandledEvent([]byte) error { return nil }
