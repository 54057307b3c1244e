package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gordonklaus/portaudio"
)

// Init must be called once before opening a Mic; Terminate releases PortAudio.
func Init() error      { return portaudio.Initialize() }
func Terminate() error { return portaudio.Terminate() }

// Mic wraps PortAudio with a configurable buffer size.
type Mic struct {
	stream *portaudio.Stream
	buf    []int16
}

// NewMic opens a PortAudio capture stream with the given sample rate and buffer size (in frames).
func NewMic(sampleRate, framesPerBuffer int) (*Mic, error) {
	buf := make([]int16, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, err
	}
	return &Mic{stream: stream, buf: buf}, nil
}

// OpenMic tries each sample rate in order and returns the first that opens.
func OpenMic(sampleRates []int, framesPerBuffer int) (*Mic, int, error) {
	var errs []error
	for _, rate := range sampleRates {
		mic, err := NewMic(rate, framesPerBuffer)
		if err == nil {
			return mic, rate, nil
		}
		errs = append(errs, fmt.Errorf("%d Hz: %w", rate, err))
	}
	if len(errs) == 0 {
		return nil, 0, errors.New("open microphone: no sample rates configured")
	}
	return nil, 0, fmt.Errorf("open microphone: %w", errors.Join(errs...))
}

func (m *Mic) Start() error { return m.stream.Start() }
func (m *Mic) Stop() error  { return m.stream.Stop() }
func (m *Mic) Close() error { return m.stream.Close() }

// Stream reads from the mic and writes PCM16-LE to w until an error or stop.
func (m *Mic) Stream(w io.Writer) error {
	var out bytes.Buffer
	out.Grow(len(m.buf) * 2) // pre-allocate: int16 = 2 bytes per sample
	for {
		if err := m.stream.Read(); err != nil {
			return err
		}
		out.Reset()
		if err := binary.Write(&out, binary.LittleEndian, m.buf); err != nil {
			return err
		}
		if _, err := w.Write(out.Bytes()); err != nil {
			return err
		}
	}
}
