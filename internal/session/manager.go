// Package session runs the transcription side of a recording session: it
// drains the router's chunk feed through a transcription provider, maintains
// the accumulated transcript, and pushes every new segment to notifiers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sonoscribe/sonoscribe/internal/observe"
	"github.com/sonoscribe/sonoscribe/pkg/provider/transcribe"
	"github.com/sonoscribe/sonoscribe/pkg/provider/transcribe/hybrid"
)

// flushTimeout bounds the final drain inference at shutdown.
const flushTimeout = 30 * time.Second

// Status is the manager's lifecycle state.
type Status int

const (
	// StatusIdle means no session is running.
	StatusIdle Status = iota

	// StatusActive means chunks are being transcribed.
	StatusActive

	// StatusError means the last transcription cycle failed; the session is
	// still running and will recover if later cycles succeed.
	StatusError

	// StatusDisabled means transcription is unavailable (no accurate engine
	// could be loaded). Recording is unaffected.
	StatusDisabled
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusActive:
		return "active"
	case StatusError:
		return "error"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Notifier receives session lifecycle events and live segments. Methods must
// not block; slow consumers must buffer internally.
type Notifier interface {
	Started()
	Update(segment transcribe.Segment)
	Stopped(transcript []transcribe.Segment)
	Error(cycle int, msg string)
}

// Manager drives one transcription session at a time.
//
// A Manager with a nil provider is permanently [StatusDisabled]: Run still
// drains the chunk feed so the recording pipeline is unaffected, but nothing
// is transcribed.
type Manager struct {
	provider transcribe.Provider
	notifier Notifier
	metrics  *observe.Metrics

	mu         sync.Mutex
	status     Status
	transcript []transcribe.Segment
	cycle      int
	paused     bool
}

// New creates a manager. provider may be nil to run in disabled mode;
// notifier may be nil to discard events.
func New(provider transcribe.Provider, notifier Notifier) *Manager {
	status := StatusIdle
	if provider == nil {
		status = StatusDisabled
		slog.Warn("transcription disabled, session will record audio only")
	}
	return &Manager{
		provider: provider,
		notifier: notifier,
		metrics:  observe.DefaultMetrics(),
		status:   status,
	}
}

// Status returns the current lifecycle state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Transcript returns a snapshot of every segment produced so far, partials
// included, in arrival order. Suppressing superseded partials is left to the
// presentation layer.
func (m *Manager) Transcript() []transcribe.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]transcribe.Segment, len(m.transcript))
	copy(out, m.transcript)
	return out
}

// Run consumes chunks until the channel closes or ctx is cancelled, then
// flushes the provider and emits the Stopped event with the full transcript.
// It is the errgroup-friendly counterpart of the router's Run.
func (m *Manager) Run(ctx context.Context, chunks <-chan []byte) error {
	if m.provider == nil {
		return m.drainDisabled(ctx, chunks)
	}

	m.setStatus(StatusActive)
	m.notify(func(n Notifier) { n.Started() })
	slog.Info("transcription session started")

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			runErr = ctx.Err()
			break loop
		case chunk, ok := <-chunks:
			if !ok {
				break loop
			}
			m.processChunk(ctx, chunk)
		}
	}

	m.finish()
	return runErr
}

// processChunk runs one transcription cycle. Errors are reported and
// swallowed: a single failed cycle must not end the session.
func (m *Manager) processChunk(ctx context.Context, chunk []byte) {
	m.mu.Lock()
	m.cycle++
	cycle := m.cycle
	m.mu.Unlock()

	start := time.Now()
	segments, err := m.provider.Transcribe(ctx, chunk)
	if len(segments) > 0 || err != nil {
		m.metrics.RecordTranscription(ctx, "pipeline", time.Since(start))
	}
	m.publish(ctx, segments)

	switch {
	case err == nil:
		if len(segments) > 0 {
			m.setStatus(StatusActive)
		}
		m.setPaused(ctx, false)
	case errors.Is(err, hybrid.ErrPipelinePaused):
		// Logged once by the breaker itself; stay quiet per chunk.
		m.setStatus(StatusError)
		m.setPaused(ctx, true)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Shutdown in progress.
	default:
		m.setStatus(StatusError)
		m.metrics.CycleErrors.Add(ctx, 1)
		slog.Error("transcription cycle failed", "cycle", cycle, "error", err)
		m.notify(func(n Notifier) { n.Error(cycle, err.Error()) })
	}
}

// finish flushes buffered audio and emits the final transcript.
func (m *Manager) finish() {
	if flusher, ok := m.provider.(transcribe.Flusher); ok {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		segments, err := flusher.Flush(ctx)
		if err != nil && !errors.Is(err, hybrid.ErrPipelinePaused) {
			slog.Error("final transcript drain failed", "error", err)
		}
		m.publish(ctx, segments)
	}

	transcript := m.Transcript()
	m.setStatus(StatusIdle)
	m.notify(func(n Notifier) { n.Stopped(transcript) })
	slog.Info("transcription session stopped",
		"segments", len(transcript),
		"text", fmt.Sprintf("%.80s", transcribe.JoinText(transcript)))
}

// publish appends every segment to the transcript and forwards it.
func (m *Manager) publish(ctx context.Context, segments []transcribe.Segment) {
	var finals, partials int64
	for _, seg := range segments {
		if seg.IsFinal {
			finals++
		} else {
			partials++
		}
		m.mu.Lock()
		m.transcript = append(m.transcript, seg)
		m.mu.Unlock()
		m.notify(func(n Notifier) { n.Update(seg) })
	}
	m.metrics.RecordSegments(ctx, "final", finals)
	m.metrics.RecordSegments(ctx, "partial", partials)
}

// drainDisabled keeps the chunk feed flowing in disabled mode.
func (m *Manager) drainDisabled(ctx context.Context, chunks <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-chunks:
			if !ok {
				return nil
			}
		}
	}
}

// setPaused tracks pipeline-pause transitions so each trip is counted once.
func (m *Manager) setPaused(ctx context.Context, paused bool) {
	m.mu.Lock()
	tripped := paused && !m.paused
	m.paused = paused
	m.mu.Unlock()
	if tripped {
		m.metrics.PipelinePauses.Add(ctx, 1)
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if m.status != StatusDisabled {
		m.status = s
	}
	m.mu.Unlock()
}

func (m *Manager) notify(fn func(Notifier)) {
	if m.notifier != nil {
		fn(m.notifier)
	}
}
