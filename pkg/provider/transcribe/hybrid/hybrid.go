// Package hybrid composes the voice activity gate, the sliding windower, and
// the fast/accurate whisper engines into a single [transcribe.Provider].
//
// Incoming PCM chunks pass through the gate (silence is dropped before any
// inference happens) and accumulate in the windower. The fast partial engine
// previews the in-progress window on every chunk, so text appears at chunk
// cadence; the accurate final engine runs once per completed window and
// produces the authoritative segments. The final engine is protected by a
// breaker: after a run of consecutive failures the pipeline pauses instead
// of hammering a broken engine.
package hybrid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sonoscribe/sonoscribe/pkg/audio"
	"github.com/sonoscribe/sonoscribe/pkg/provider/transcribe"
	"github.com/sonoscribe/sonoscribe/pkg/provider/vad"
)

// ErrPipelinePaused is returned by Transcribe while the breaker holds the
// pipeline open after repeated final-engine failures. Audio delivered during
// the pause is discarded; recording upstream is unaffected.
var ErrPipelinePaused = errors.New("hybrid: transcription pipeline paused")

// engine is the seam between the provider and a whisper backend. Both
// *whisper.FinalEngine and *whisper.PartialEngine satisfy it.
type engine interface {
	// TranscribeSamples transcribes one window of 16 kHz mono float32
	// samples. Segment times are window-relative milliseconds.
	TranscribeSamples(ctx context.Context, samples []float32) ([]transcribe.Segment, error)
}

// Config assembles a Provider. Final is the only required engine.
type Config struct {
	// Format is the mono PCM format arriving at Transcribe.
	Format audio.Format

	// Final produces authoritative segments. Required.
	Final engine

	// Partial produces low-latency preview segments over the in-progress
	// window on every chunk. Nil disables previews; finals are unaffected.
	Partial engine

	// Gate drops silent audio before windowing. Nil bypasses gating entirely.
	Gate *vad.Gate

	// WindowSecs and OverlapSecs shape the sliding inference window.
	// Zero values use the audio package defaults (3 s / 0.5 s).
	WindowSecs  float64
	OverlapSecs float64

	// MinDrainSecs is the shortest buffered remainder worth transcribing at
	// Flush time. Default 1 s.
	MinDrainSecs float64

	// MaxFailures is the consecutive final-engine failure count that pauses
	// the pipeline. Default 3.
	MaxFailures int

	// PauseTimeout is how long the pipeline stays paused before a probe
	// inference is attempted. Default 30 s.
	PauseTimeout time.Duration
}

// Provider implements [transcribe.Provider] and [transcribe.Flusher].
//
// Transcribe must be called from a single goroutine; the provider's
// windowing state is owned by its caller's loop. The engines themselves
// serialize internally.
type Provider struct {
	final   engine
	partial engine
	gate    *vad.Gate

	windower     *audio.Windower
	breaker      *breaker
	minDrainSecs float64
	advanceMS    int64

	mu       sync.Mutex
	streamMS int64 // stream position of the next window's first sample
}

var (
	_ transcribe.Provider = (*Provider)(nil)
	_ transcribe.Flusher  = (*Provider)(nil)
)

// New validates cfg and assembles the provider.
func New(cfg Config) (*Provider, error) {
	if cfg.Final == nil {
		return nil, errors.New("hybrid: final engine is required")
	}
	if cfg.Format.Channels != 1 {
		return nil, fmt.Errorf("hybrid: expected mono input, got %d channels", cfg.Format.Channels)
	}
	windowSecs := cfg.WindowSecs
	if windowSecs == 0 {
		windowSecs = audio.DefaultWindowSeconds
	}
	overlapSecs := cfg.OverlapSecs
	if overlapSecs == 0 {
		overlapSecs = audio.DefaultOverlapSeconds
	}
	minDrain := cfg.MinDrainSecs
	if minDrain == 0 {
		minDrain = 1.0
	}

	w, err := audio.NewWindower(cfg.Format, windowSecs, overlapSecs)
	if err != nil {
		return nil, fmt.Errorf("hybrid: %w", err)
	}

	return &Provider{
		final:        cfg.Final,
		partial:      cfg.Partial,
		gate:         cfg.Gate,
		windower:     w,
		breaker:      newBreaker(cfg.MaxFailures, cfg.PauseTimeout),
		minDrainSecs: minDrain,
		advanceMS:    int64((windowSecs - overlapSecs) * 1000),
	}, nil
}

// Transcribe feeds one chunk through the gate and windower, previews the
// in-progress window with the partial engine, and runs the final engine over
// every window that completes. Partial-engine errors are logged and
// swallowed; final-engine errors are returned and count toward the pause
// threshold. While paused it returns [ErrPipelinePaused] and discards audio.
func (p *Provider) Transcribe(ctx context.Context, pcm []byte) ([]transcribe.Segment, error) {
	if p.breaker.isPaused() {
		return nil, ErrPipelinePaused
	}

	speech := pcm
	if p.gate != nil {
		speech = p.gate.Filter(pcm)
	}
	if len(speech) == 0 {
		return nil, nil
	}
	p.windower.Push(speech)

	// Preview first, at chunk cadence: the partial engine sees everything
	// buffered so far, not just completed windows.
	var out []transcribe.Segment
	if p.partial != nil {
		if pending := p.windower.Pending(); pending != nil {
			partials, err := p.partial.TranscribeSamples(ctx, pending)
			if err != nil {
				slog.Warn("partial transcription failed, finals unaffected", "error", err)
			} else {
				out = append(out, rebase(partials, p.position())...)
			}
		}
	}

	for {
		samples := p.windower.ExtractWindow()
		if samples == nil {
			return out, nil
		}
		segments, err := p.transcribeWindow(ctx, samples, p.advance())
		out = append(out, segments...)
		if err != nil {
			return out, err
		}
	}
}

// position returns the stream position of the windower's buffered audio.
func (p *Provider) position() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamMS
}

// advance returns the stream position of the window being extracted now and
// moves the cursor to the next one.
func (p *Provider) advance() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := p.streamMS
	p.streamMS += p.advanceMS
	return start
}

// transcribeWindow runs the final engine over one completed window and
// rebases segment times from window-relative to stream-relative.
func (p *Provider) transcribeWindow(ctx context.Context, samples []float32, startMS int64) ([]transcribe.Segment, error) {
	if !p.breaker.allow() {
		return nil, ErrPipelinePaused
	}
	finals, err := p.final.TranscribeSamples(ctx, samples)
	if err != nil {
		p.breaker.recordFailure()
		return nil, fmt.Errorf("hybrid: final transcription: %w", err)
	}
	p.breaker.recordSuccess()
	return rebase(finals, startMS), nil
}

// Flush transcribes whatever audio remains in the windower, provided it is at
// least MinDrainSecs long, and resets the stream state for the next session.
// The breaker is reset last, so a paused pipeline skips the drain but the
// next session starts with a clean slate.
func (p *Provider) Flush(ctx context.Context) ([]transcribe.Segment, error) {
	defer p.breaker.reset()

	samples := p.windower.DrainRemaining(p.minDrainSecs)
	startMS := p.resetStream()
	if samples == nil {
		return nil, nil
	}

	if !p.breaker.allow() {
		return nil, ErrPipelinePaused
	}
	finals, err := p.final.TranscribeSamples(ctx, samples)
	if err != nil {
		p.breaker.recordFailure()
		return nil, fmt.Errorf("hybrid: flush transcription: %w", err)
	}
	p.breaker.recordSuccess()
	return rebase(finals, startMS), nil
}

// resetStream clears per-session state and returns the stream position the
// drained remainder starts at.
func (p *Provider) resetStream() int64 {
	if p.gate != nil {
		p.gate.Reset()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	start := p.streamMS
	p.streamMS = 0
	return start
}

// Paused reports whether the breaker currently holds the pipeline open.
func (p *Provider) Paused() bool {
	return p.breaker.isPaused()
}

// Close releases both engines. Engine close errors are joined.
func (p *Provider) Close() error {
	var errs []error
	if c, ok := p.final.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("hybrid: close final engine: %w", err))
		}
	}
	if c, ok := p.partial.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("hybrid: close partial engine: %w", err))
		}
	}
	return errors.Join(errs...)
}

// rebase shifts window-relative segment times into stream time.
func rebase(segments []transcribe.Segment, startMS int64) []transcribe.Segment {
	for i := range segments {
		segments[i].StartMS += startMS
		segments[i].EndMS += startMS
	}
	return segments
}
