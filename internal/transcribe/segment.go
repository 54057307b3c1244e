package transcribe

import (
	"fmt"
	"strings"
	"time"
)

// Word is one recognized word from a live caption stream.
type Word struct {
	Speaker        *int
	PunctuatedWord string
	Start          float64
	End            float64
}

// Segment is one attributed utterance. Speaker is the engine's internal label
// ("spk_0"), never a display name.
type Segment struct {
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	StartTime float64   `json:"start_time"`
	EndTime   float64   `json:"end_time"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// SpeakerLabel converts a numeric diarization index into an internal label.
func SpeakerLabel(speaker *int) string {
	if speaker == nil {
		return ""
	}
	return fmt.Sprintf("spk_%d", *speaker)
}

func GroupWordsBySpeaker(words []Word) []Segment {
	if len(words) == 0 {
		return nil
	}

	var segments []Segment
	var current Segment
	started := false

	for _, w := range words {
		speaker := SpeakerLabel(w.Speaker)

		if !started {
			current = Segment{
				Speaker:   speaker,
				Text:      w.PunctuatedWord,
				StartTime: w.Start,
				EndTime:   w.End,
				Timestamp: time.Now(),
			}
			started = true
			continue
		}

		if speaker == current.Speaker {
			current.Text += " " + w.PunctuatedWord
			current.EndTime = w.End
		} else {
			segments = append(segments, current)
			current = Segment{
				Speaker:   speaker,
				Text:      w.PunctuatedWord,
				StartTime: w.Start,
				EndTime:   w.End,
				Timestamp: time.Now(),
			}
		}
	}

	segments = append(segments, current)
	return segments
}

// FormatMarkdown renders the segment for the markdown export under the given
// display name. Stored transcripts carry no wall-clock time, so the offset
// into the recording is shown instead.
func (s Segment) FormatMarkdown(display string) string {
	var ts string
	if s.Timestamp.IsZero() {
		offset := time.Duration(s.StartTime * float64(time.Second)).Round(time.Second)
		ts = fmt.Sprintf("%02d:%02d", int(offset.Minutes()), int(offset.Seconds())%60)
	} else {
		ts = s.Timestamp.Format("15:04:05")
	}
	return fmt.Sprintf("**[%s] %s:** %s", ts, display, strings.TrimSpace(s.Text))
}
