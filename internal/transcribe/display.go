package transcribe

import (
	"fmt"
	"strings"
)

// SpeakerLabels maps internal speaker labels to display names. Display names
// are assigned "Speaker 1", "Speaker 2", ... in first-seen order.
type SpeakerLabels struct {
	display map[string]string
	label   map[string]string
}

func NewSpeakerLabels(segments []Segment) *SpeakerLabels {
	l := &SpeakerLabels{display: map[string]string{}, label: map[string]string{}}
	for _, s := range segments {
		if _, ok := l.display[s.Speaker]; ok {
			continue
		}
		name := fmt.Sprintf("Speaker %d", len(l.display)+1)
		l.display[s.Speaker] = name
		l.label[name] = s.Speaker
	}
	return l
}

// Display returns the display name for an internal label.
func (l *SpeakerLabels) Display(label string) (string, bool) {
	name, ok := l.display[label]
	return name, ok
}

// Label returns the internal label for a display name.
func (l *SpeakerLabels) Label(display string) (string, bool) {
	label, ok := l.label[display]
	return label, ok
}

func (l *SpeakerLabels) Len() int {
	return len(l.display)
}

// Render flattens segments into one "{display}: {text}" line each. Newlines
// inside segment text are folded to spaces so line count equals segment count.
func Render(segments []Segment, labels *SpeakerLabels) string {
	lines := make([]string, 0, len(segments))
	for _, s := range segments {
		name, _ := labels.Display(s.Speaker)
		text := strings.ReplaceAll(strings.ReplaceAll(s.Text, "\r\n", " "), "\n", " ")
		if text == "" {
			lines = append(lines, name+":")
			continue
		}
		lines = append(lines, name+": "+text)
	}
	return strings.Join(lines, "\n")
}

// ParseDisplay splits edited display text back into segments carrying
// internal speaker labels. Every line must start with a known display name
// followed by ": " (or a bare ":" for empty text); anything else fails with
// ErrMalformedTranscriptEdit. Timing is left zero for the caller to fill.
func ParseDisplay(text string, labels *SpeakerLabels) ([]Segment, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil, nil
	}

	lines := strings.Split(text, "\n")
	segments := make([]Segment, 0, len(lines))
	for i, line := range lines {
		idx := strings.Index(line, ":")
		if idx < 0 {
			return nil, fmt.Errorf("%w: line %d has no speaker", ErrMalformedTranscriptEdit, i+1)
		}

		label, ok := labels.Label(line[:idx])
		if !ok {
			return nil, fmt.Errorf("%w: line %d: unknown speaker %q", ErrMalformedTranscriptEdit, i+1, line[:idx])
		}

		rest := line[idx+1:]
		switch {
		case rest == "":
		case strings.HasPrefix(rest, " "):
			rest = rest[1:]
		default:
			return nil, fmt.Errorf("%w: line %d: expected \": \" after speaker", ErrMalformedTranscriptEdit, i+1)
		}

		segments = append(segments, Segment{Speaker: label, Text: rest})
	}
	return segments, nil
}
