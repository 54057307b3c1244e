package transcribe

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	pathTranscript = "results.transcripts.0.transcript"
	pathSegments   = "results.audio_segments"
)

// Document is a stored transcript: the raw JSON produced by the transcription
// job plus the ordered segments read from it. Fields the parser does not know
// about are preserved when the document is rewritten.
type Document struct {
	raw      []byte
	Segments []Segment
	// flat is set when the document had no audio segments and was read as a
	// single segment from the plain transcript text.
	flat bool
}

// Parse reads a transcript document. Documents with audio_segments yield one
// segment per entry; otherwise the plain transcript becomes a single segment.
func Parse(raw []byte) (*Document, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedTranscript)
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedTranscript)
	}

	doc := &Document{raw: append([]byte(nil), raw...)}

	segments := root.Get(pathSegments)
	if segments.IsArray() && len(segments.Array()) > 0 {
		for i, seg := range segments.Array() {
			text := seg.Get("transcript")
			if !text.Exists() {
				return nil, fmt.Errorf("%w: audio segment %d has no transcript", ErrMalformedTranscript, i)
			}
			doc.Segments = append(doc.Segments, Segment{
				Speaker:   seg.Get("speaker_label").String(),
				Text:      text.String(),
				StartTime: seg.Get("start_time").Float(),
				EndTime:   seg.Get("end_time").Float(),
			})
		}
		return doc, nil
	}

	text := root.Get(pathTranscript)
	if !text.Exists() {
		return nil, fmt.Errorf("%w: no transcript text", ErrMalformedTranscript)
	}
	doc.flat = true
	doc.Segments = []Segment{{Text: text.String()}}
	return doc, nil
}

// FromText builds a minimal single-segment document, used when a
// transcription returns text but no stored document.
func FromText(text string) *Document {
	raw, _ := sjson.SetBytes([]byte(`{"results":{"transcripts":[{"transcript":""}]}}`), pathTranscript, text)
	return &Document{raw: raw, Segments: []Segment{{Text: text}}, flat: true}
}

// Raw returns the document JSON.
func (d *Document) Raw() []byte {
	return d.raw
}

// Text joins segment texts with spaces.
func (d *Document) Text() string {
	parts := make([]string, 0, len(d.Segments))
	for _, s := range d.Segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Labels returns the display-name mapping for the document's speakers.
func (d *Document) Labels() *SpeakerLabels {
	return NewSpeakerLabels(d.Segments)
}

// DisplayText renders the editable "Speaker N: text" form.
func (d *Document) DisplayText() string {
	return Render(d.Segments, d.Labels())
}

// ApplyEdit parses edited display text and returns a new document with the
// segments replaced positionally. Timing and any unknown fields are kept.
func (d *Document) ApplyEdit(displayText string) (*Document, error) {
	labels := d.Labels()
	edited, err := ParseDisplay(displayText, labels)
	if err != nil {
		return nil, err
	}
	if len(edited) != len(d.Segments) {
		return nil, fmt.Errorf("%w: %d lines for %d segments", ErrMalformedTranscriptEdit, len(edited), len(d.Segments))
	}

	next := &Document{raw: append([]byte(nil), d.raw...), flat: d.flat, Segments: make([]Segment, len(d.Segments))}
	for i, line := range edited {
		seg := d.Segments[i]
		seg.Text = line.Text
		seg.Speaker = line.Speaker
		next.Segments[i] = seg

		if d.flat {
			continue
		}
		prefix := fmt.Sprintf("%s.%d.", pathSegments, i)
		if next.raw, err = sjson.SetBytes(next.raw, prefix+"transcript", seg.Text); err != nil {
			return nil, fmt.Errorf("rewrite segment %d: %w", i, err)
		}
		if seg.Speaker != d.Segments[i].Speaker {
			if next.raw, err = sjson.SetBytes(next.raw, prefix+"speaker_label", seg.Speaker); err != nil {
				return nil, fmt.Errorf("rewrite segment %d speaker: %w", i, err)
			}
		}
	}

	text := next.Text()
	if d.flat && len(next.Segments) == 1 {
		text = next.Segments[0].Text
	}
	if next.raw, err = sjson.SetBytes(next.raw, pathTranscript, text); err != nil {
		return nil, fmt.Errorf("rewrite transcript text: %w", err)
	}
	return next, nil
}

// equivalent reports whether two documents carry the same speaker/text pairs.
func (d *Document) equivalent(other *Document) bool {
	if len(d.Segments) != len(other.Segments) {
		return false
	}
	for i := range d.Segments {
		if d.Segments[i].Speaker != other.Segments[i].Speaker || d.Segments[i].Text != other.Segments[i].Text {
			return false
		}
	}
	return true
}
