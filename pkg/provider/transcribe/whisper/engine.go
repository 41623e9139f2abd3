// Package whisper provides transcription engines backed by the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// Two engines are provided: [FinalEngine] runs an accurate model and carries
// conversational context between windows, and [PartialEngine] runs a small
// model for low-latency preview text. Both expect 16 kHz mono float32 samples
// and return segment times relative to the start of the processed window; the
// caller is responsible for offsetting them into stream time.
package whisper

import (
	"errors"
	"fmt"
	"io"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/sonoscribe/sonoscribe/pkg/provider/transcribe"
)

const (
	defaultLanguage = "en"
	defaultThreads  = 4

	// minSamples is the shortest window worth transcribing (100 ms at
	// 16 kHz). Shorter input returns no segments.
	minSamples = 1600

	// maxSamples caps a single inference at 30 s of audio, whisper.cpp's
	// native context length. Longer input keeps the newest samples.
	maxSamples = 30 * 16000
)

// Option configures a [FinalEngine] or [PartialEngine].
type Option func(*engineConfig)

type engineConfig struct {
	language string
	threads  uint
}

// WithLanguage sets the BCP-47 language code for transcription (e.g. "en",
// "de"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(c *engineConfig) {
		if lang != "" {
			c.language = lang
		}
	}
}

// WithThreads sets the number of CPU threads whisper.cpp may use per
// inference. Defaults to 4.
func WithThreads(n int) Option {
	return func(c *engineConfig) {
		if n > 0 {
			c.threads = uint(n)
		}
	}
}

func newEngineConfig(opts []Option) engineConfig {
	cfg := engineConfig{language: defaultLanguage, threads: defaultThreads}
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// loadModel opens a ggml model file. Errors here are the primary degradation
// trigger: the caller decides whether a failed load disables transcription or
// only removes preview text.
func loadModel(modelPath string) (whisperlib.Model, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return model, nil
}

// clampWindow trims input to whisper.cpp's context length, keeping the newest
// samples.
func clampWindow(samples []float32) []float32 {
	if len(samples) > maxSamples {
		return samples[len(samples)-maxSamples:]
	}
	return samples
}

// collectSegments drains all segments from a completed inference context.
// Segment times are window-relative milliseconds.
func collectSegments(wctx whisperlib.Context, isFinal bool) ([]transcribe.Segment, error) {
	var out []transcribe.Segment
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		out = append(out, transcribe.Segment{
			Text:    text,
			StartMS: seg.Start.Milliseconds(),
			EndMS:   seg.End.Milliseconds(),
			IsFinal: isFinal,
		})
	}
	return out, nil
}
