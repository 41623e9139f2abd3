package whisper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/sonoscribe/sonoscribe/pkg/provider/transcribe"
)

// PartialEngine produces low-latency preview text using a small whisper
// model. Its output is advisory: a later final segment covering the same
// audio supersedes it. Each window yields at most one partial segment
// spanning the whole window, without per-phrase timestamps.
type PartialEngine struct {
	model    whisperlib.Model
	language string
	threads  uint

	mu sync.Mutex
}

// NewPartial loads the preview model from modelPath. The caller must Close
// the engine when done.
func NewPartial(modelPath string, opts ...Option) (*PartialEngine, error) {
	model, err := loadModel(modelPath)
	if err != nil {
		return nil, err
	}
	cfg := newEngineConfig(opts)
	return &PartialEngine{
		model:    model,
		language: cfg.language,
		threads:  cfg.threads,
	}, nil
}

// TranscribeSamples runs one fast inference over a window of 16 kHz mono
// samples and returns a single non-final segment covering the window, or
// nothing if the window was silent.
func (e *PartialEngine) TranscribeSamples(ctx context.Context, samples []float32) ([]transcribe.Segment, error) {
	if len(samples) < minSamples {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	samples = clampWindow(samples)

	e.mu.Lock()
	defer e.mu.Unlock()

	wctx, err := e.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}
	wctx.SetThreads(e.threads)
	if err := wctx.SetLanguage(e.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", e.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	segments, err := collectSegments(wctx, false)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, nil
	}

	// Merge into one preview segment: partials exist to show that words are
	// arriving, not to place them precisely.
	var merged string
	for _, seg := range segments {
		if merged != "" {
			merged += " "
		}
		merged += seg.Text
	}
	windowMS := (time.Duration(len(samples)) * time.Second / 16000).Milliseconds()
	return []transcribe.Segment{{
		Text:    merged,
		StartMS: 0,
		EndMS:   windowMS,
		IsFinal: false,
	}}, nil
}

// Close releases the model. The engine must not be used afterwards.
func (e *PartialEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}
