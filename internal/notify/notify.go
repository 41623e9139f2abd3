// Package notify delivers session events to their consumers: the structured
// log, and any WebSocket clients subscribed to the live transcript feed.
package notify

import (
	"log/slog"

	"github.com/sonoscribe/sonoscribe/internal/session"
	"github.com/sonoscribe/sonoscribe/pkg/provider/transcribe"
)

// Event is the wire format pushed to WebSocket subscribers.
type Event struct {
	Type       string               `json:"type"` // started | segment | stopped | error
	Segment    *transcribe.Segment  `json:"segment,omitempty"`
	Transcript []transcribe.Segment `json:"transcript,omitempty"`
	Cycle      int                  `json:"cycle,omitempty"`
	Message    string               `json:"message,omitempty"`
}

// LogNotifier writes session events to the structured log. Partial segments
// are logged at debug to keep the info stream readable.
type LogNotifier struct{}

var _ session.Notifier = (*LogNotifier)(nil)

func (LogNotifier) Started() {
	slog.Info("session started")
}

func (LogNotifier) Update(seg transcribe.Segment) {
	if seg.IsFinal {
		slog.Info("transcript segment",
			"start_ms", seg.StartMS, "end_ms", seg.EndMS, "text", seg.Text)
		return
	}
	slog.Debug("transcript preview", "text", seg.Text)
}

func (LogNotifier) Stopped(transcript []transcribe.Segment) {
	slog.Info("session stopped", "segments", len(transcript))
}

func (LogNotifier) Error(cycle int, msg string) {
	slog.Warn("session error", "cycle", cycle, "message", msg)
}

// Multi fans one event stream out to several notifiers in order.
type Multi []session.Notifier

var _ session.Notifier = (Multi)(nil)

func (m Multi) Started() {
	for _, n := range m {
		n.Started()
	}
}

func (m Multi) Update(seg transcribe.Segment) {
	for _, n := range m {
		n.Update(seg)
	}
}

func (m Multi) Stopped(transcript []transcribe.Segment) {
	for _, n := range m {
		n.Stopped(transcript)
	}
}

func (m Multi) Error(cycle int, msg string) {
	for _, n := range m {
		n.Error(cycle, msg)
	}
}
