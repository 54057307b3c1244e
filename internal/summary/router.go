package summary

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sjawhar/intake/internal/config"
)

const (
	PresetAuto    = "auto"
	PresetDefault = "default"
)

// Router asks the model which configured preset fits the material best.
type Router struct {
	presets map[string]config.Preset
	backend Backend
	logger  *slog.Logger
}

func NewRouter(presets map[string]config.Preset, backend Backend, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{presets: presets, backend: backend, logger: logger}
}

func SampleTranscript(transcript string, firstN, midN, lastN int) string {
	words := strings.Fields(transcript)
	total := len(words)

	if total <= firstN+midN+lastN {
		return transcript
	}

	first := strings.Join(words[:firstN], " ")
	midStart := (total - midN) / 2
	mid := strings.Join(words[midStart:midStart+midN], " ")
	last := strings.Join(words[total-lastN:], " ")

	return first + "\n\n[...]\n\n" + mid + "\n\n[...]\n\n" + last
}

// SelectPreset never fails: any problem falls back to the default preset.
func (r *Router) SelectPreset(ctx context.Context, transcripts string) string {
	sampled := SampleTranscript(transcripts, 300, 200, 200)

	names := make([]string, 0, len(r.presets))
	for name := range r.presets {
		names = append(names, name)
	}
	sort.Strings(names)

	var presetList strings.Builder
	for _, name := range names {
		fmt.Fprintf(&presetList, "- %s: %s\n", name, r.presets[name].Description)
	}

	prompt := fmt.Sprintf(`Given this clinical intake conversation excerpt, choose the single best summarization preset.

Conversation excerpt:
%s

Available presets:
%s
Reply with ONLY the preset name, nothing else.`, sampled, presetList.String())

	result, err := r.backend.Complete(ctx, Request{PromptPrefix: prompt, MaxTokens: 20})
	if err != nil {
		r.logger.Warn("router: falling back to default preset", "reason", "inference failed", "error", err)
		return r.fallbackPreset()
	}

	chosen := strings.TrimSpace(result)
	if _, ok := r.presets[chosen]; ok {
		return chosen
	}

	r.logger.Warn("router: falling back to default preset", "reason", "chosen preset not found", "chosen", chosen)
	return r.fallbackPreset()
}

func (r *Router) fallbackPreset() string {
	if _, ok := r.presets[PresetDefault]; ok {
		return PresetDefault
	}
	keys := make([]string, 0, len(r.presets))
	for k := range r.presets {
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return PresetDefault
	}
	sort.Strings(keys)
	return keys[0]
}
