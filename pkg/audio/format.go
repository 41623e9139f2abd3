// Package audio provides the PCM plumbing for the capture side of Sonoscribe:
// frame types, format constants, the per-source ring buffers, the fixed-cadence
// chunk converter, and the overlapping window accumulator used by batch
// transcription.
//
// All PCM in this package is 16-bit signed little-endian. The converter output
// is either mono (microphone and system audio mixed) or stereo (channel 0 =
// microphone, channel 1 = system audio).
package audio

import (
	"fmt"
	"slices"
	"time"
)

const (
	// BytesPerSample is fixed at 2 for 16-bit signed PCM.
	BytesPerSample = 2

	// ChunkDuration is the fixed cadence at which the converter emits chunks.
	ChunkDuration = 100 * time.Millisecond

	// DefaultSampleRate is used when no rate is configured.
	DefaultSampleRate = 16000
)

// ValidSampleRates lists the session sample rates the pipeline accepts.
var ValidSampleRates = []int{8000, 16000, 24000, 44100, 48000}

// ValidSampleRate reports whether rate is one of [ValidSampleRates].
func ValidSampleRate(rate int) bool {
	return slices.Contains(ValidSampleRates, rate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * BytesPerSample * f.Channels
}

// ChunkBytes returns the size of one fixed-cadence chunk in this format:
// sampleRate × 0.1 × 2 × channels.
func (f Format) ChunkBytes() int {
	return f.SampleRate / 10 * BytesPerSample * f.Channels
}

// String returns a human-readable description, e.g. "16000Hz stereo".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
