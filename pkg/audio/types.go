package audio

import "time"

// Source identifies where an [AudioFrame] was captured.
type Source int

const (
	// SourceMicrophone is audio captured from the selected input device.
	SourceMicrophone Source = iota

	// SourceSystem is audio captured from the system output (loopback).
	SourceSystem
)

// String returns the human-readable name of the source.
func (s Source) String() string {
	switch s {
	case SourceMicrophone:
		return "microphone"
	case SourceSystem:
		return "system"
	default:
		return "unknown"
	}
}

// AudioFrame represents a single frame of audio data flowing through the
// pipeline: captured from an input device or the system loopback, normalised
// by the converter, and emitted as fixed-cadence chunks. A frame is owned by
// the capture layer until it has been converted; converted bytes live in the
// per-source ring buffers.
type AudioFrame struct {
	// PCM audio data: 16-bit signed little-endian samples.
	Data []byte

	// Source tags which capture stream this frame came from.
	Source Source

	// SampleRate in Hz as delivered by the capture device.
	SampleRate int

	// Channels as delivered by the capture device: 1 mono, 2 stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to session start.
	Timestamp time.Duration
}
