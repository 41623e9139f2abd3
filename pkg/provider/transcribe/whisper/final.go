package whisper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/sonoscribe/sonoscribe/pkg/provider/transcribe"
)

// promptCarryChars bounds how much trailing transcript is fed back to the
// model as the initial prompt for the next window. Keeps decoding primed with
// recent vocabulary without growing the prompt unboundedly.
const promptCarryChars = 224

// FinalEngine produces authoritative transcription segments using an
// accurate whisper model. It carries the tail of each window's transcript
// into the next inference as the initial prompt, which keeps names and
// terminology consistent across window boundaries.
//
// Inference is serialized with an internal mutex: whisper.cpp contexts are
// not safe for concurrent use and running two accurate inferences at once
// would thrash the CPU anyway.
type FinalEngine struct {
	model    whisperlib.Model
	language string
	threads  uint

	mu       sync.Mutex
	prevText string
}

// NewFinal loads the accurate model from modelPath. The caller must Close the
// engine when done.
func NewFinal(modelPath string, opts ...Option) (*FinalEngine, error) {
	model, err := loadModel(modelPath)
	if err != nil {
		return nil, err
	}
	cfg := newEngineConfig(opts)
	return &FinalEngine{
		model:    model,
		language: cfg.language,
		threads:  cfg.threads,
	}, nil
}

// TranscribeSamples runs one accurate inference over a window of 16 kHz mono
// samples. Returned segment times are window-relative milliseconds and
// IsFinal is set on every segment.
func (e *FinalEngine) TranscribeSamples(ctx context.Context, samples []float32) ([]transcribe.Segment, error) {
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
	wctx.SetTokenTimestamps(true)
	wctx.SetSplitOnWord(true)
	if err := wctx.SetLanguage(e.language); err != nil {
		slog.Warn("whisper: failed to set language, using default",
			"language", e.language, "error", err)
	}
	if e.prevText != "" {
		wctx.SetInitialPrompt(e.prevText)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	segments, err := collectSegments(wctx, true)
	if err != nil {
		return segments, err
	}
	e.carryContext(segments)
	return segments, nil
}

// carryContext updates the prompt for the next window from this window's
// transcript tail.
func (e *FinalEngine) carryContext(segments []transcribe.Segment) {
	text := transcribe.JoinText(segments)
	if text == "" {
		return
	}
	combined := e.prevText
	if combined != "" {
		combined += " "
	}
	combined += text
	if len(combined) > promptCarryChars {
		combined = combined[len(combined)-promptCarryChars:]
	}
	e.prevText = combined
}

// ResetContext discards the carried prompt. Call between sessions so one
// recording's vocabulary does not leak into the next.
func (e *FinalEngine) ResetContext() {
	e.mu.Lock()
	e.prevText = ""
	e.mu.Unlock()
}

// Close releases the model. The engine must not be used afterwards.
func (e *FinalEngine) Close() error {
	if e.model != nil {
		return e.model.Close()
	}
	return nil
}
