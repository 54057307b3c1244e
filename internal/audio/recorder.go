package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

const (
	defaultSampleRate = 16000
	pcmChannels       = 1
	pcmBitDepth       = 16
)

// Supported output formats. A missing encoder is an error; recordings are
// never written in another format.
const (
	FormatMP4 = "mp4"
	FormatMP3 = "mp3"
)

var ErrEncoderUnavailable = errors.New("no encoder available for recording format")

// Recorder spools captured PCM to disk for one recording at a time and encodes
// it into the configured format when the recording ends.
type Recorder struct {
	audioDir string
	format   string

	mu         sync.Mutex
	recordID   string
	rawPath    string
	rawFile    *os.File
	sampleRate int
	paused     bool
	pcmBytes   int64

	encode   func(rawPath, outPath string, sampleRate int) error
	lookPath func(string) (string, error)
}

func NewRecorder(audioDir, format string) *Recorder {
	if audioDir == "" {
		audioDir = filepath.Join("data", "recordings")
	}
	if format == "" {
		format = FormatMP4
	}

	r := &Recorder{audioDir: audioDir, format: format, sampleRate: defaultSampleRate, lookPath: exec.LookPath}
	r.encode = r.defaultEncode
	return r
}

func (r *Recorder) Format() string {
	return r.format
}

func (r *Recorder) SetSampleRate(sampleRate int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sampleRate > 0 {
		r.sampleRate = sampleRate
	}
}

// CheckEncoder reports ErrEncoderUnavailable when no tool on PATH can produce
// the configured format.
func (r *Recorder) CheckEncoder() error {
	if _, err := r.lookPath("ffmpeg"); err == nil {
		return nil
	}
	if r.format == FormatMP3 {
		if _, err := r.lookPath("lame"); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: %s needs ffmpeg on PATH", ErrEncoderUnavailable, r.format)
}

// Writer tees PCM written to dst into the active recording.
func (r *Recorder) Writer(dst io.Writer) io.Writer {
	return &teeWriter{recorder: r, dst: dst}
}

// SetPaused drops incoming samples while paused. The device keeps streaming.
func (r *Recorder) SetPaused(paused bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = paused
}

func (r *Recorder) isPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *Recorder) StartSession(recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.audioDir, 0o755); err != nil {
		return fmt.Errorf("create recording directory: %w", err)
	}

	if r.rawFile != nil {
		_ = r.rawFile.Close()
		_ = os.Remove(r.rawPath)
	}

	rawPath := filepath.Join(r.audioDir, recordID+".pcm")
	rawFile, err := os.OpenFile(rawPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open raw pcm file: %w", err)
	}

	r.recordID = recordID
	r.rawPath = rawPath
	r.rawFile = rawFile
	r.paused = false
	r.pcmBytes = 0

	return nil
}

// EndSession closes the raw spool and encodes it. It returns nil when no
// session is active.
func (r *Recorder) EndSession() (*Blob, error) {
	r.mu.Lock()
	if r.recordID == "" || r.rawFile == nil {
		r.mu.Unlock()
		return nil, nil
	}

	recordID := r.recordID
	rawPath := r.rawPath
	rawFile := r.rawFile
	sampleRate := r.sampleRate
	pcmBytes := r.pcmBytes

	r.recordID = ""
	r.rawPath = ""
	r.rawFile = nil
	r.mu.Unlock()

	defer func() { _ = os.Remove(rawPath) }()

	if err := rawFile.Close(); err != nil {
		return nil, fmt.Errorf("close raw pcm file: %w", err)
	}

	outPath := filepath.Join(r.audioDir, recordID+"."+r.format)
	if err := r.encode(rawPath, outPath, sampleRate); err != nil {
		_ = os.Remove(outPath)
		return nil, err
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return nil, fmt.Errorf("stat encoded recording: %w", err)
	}

	return &Blob{
		ID:          recordID,
		Path:        outPath,
		ContentType: ContentType(r.format),
		Size:        info.Size(),
		Duration:    pcmDuration(pcmBytes, sampleRate),
	}, nil
}

// Abort drops the active session without encoding.
func (r *Recorder) Abort() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rawFile != nil {
		_ = r.rawFile.Close()
		_ = os.Remove(r.rawPath)
	}
	r.recordID = ""
	r.rawPath = ""
	r.rawFile = nil
}

func (r *Recorder) writePCM(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rawFile == nil || r.paused {
		return nil
	}

	n, err := r.rawFile.Write(data)
	r.pcmBytes += int64(n)
	if err != nil {
		return fmt.Errorf("write raw pcm bytes: %w", err)
	}
	return nil
}

func (r *Recorder) defaultEncode(rawPath, outPath string, sampleRate int) error {
	if sampleRate <= 0 {
		sampleRate = defaultSampleRate
	}

	ffmpegErr := encodeWithFFmpeg(rawPath, outPath, sampleRate, r.format)
	if ffmpegErr == nil {
		return nil
	}

	if r.format == FormatMP3 {
		if err := encodeWithLame(rawPath, outPath, sampleRate); err == nil {
			return nil
		}
	}

	if errors.Is(ffmpegErr, exec.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrEncoderUnavailable, ffmpegErr)
	}
	return fmt.Errorf("encode %s: %w", r.format, ffmpegErr)
}

func encodeWithFFmpeg(rawPath, outputPath string, sampleRate int, format string) error {
	args := []string{
		"-y",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(pcmChannels),
		"-i", rawPath,
	}
	if format == FormatMP4 {
		args = append(args, "-c:a", "aac", "-b:a", "96k", "-movflags", "+faststart")
	}
	args = append(args, outputPath)

	return exec.Command("ffmpeg", args...).Run()
}

func encodeWithLame(rawPath, outputPath string, sampleRate int) error {
	khz := float64(sampleRate) / 1000.0
	formatted := strconv.FormatFloat(khz, 'f', -1, 64)
	cmd := exec.Command(
		"lame",
		"-r",
		"-s", formatted,
		"--bitwidth", strconv.Itoa(pcmBitDepth),
		"-m", "m",
		rawPath,
		outputPath,
	)
	return cmd.Run()
}

func pcmDuration(pcmBytes int64, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	bytesPerSecond := int64(sampleRate * pcmChannels * pcmBitDepth / 8)
	return time.Duration(pcmBytes * int64(time.Second) / bytesPerSecond)
}

type teeWriter struct {
	recorder *Recorder
	dst      io.Writer
}

// Write drops p entirely while the recorder is paused, so downstream
// consumers see the same gap as the spooled file.
func (w *teeWriter) Write(p []byte) (int, error) {
	if w.recorder.isPaused() {
		return len(p), nil
	}

	n, err := w.dst.Write(p)
	if err != nil {
		return n, err
	}

	if err := w.recorder.writePCM(p[:n]); err != nil {
		return n, err
	}

	return n, nil
}
