// Package vad provides frame-level voice activity detection and the speech
// gate that sits in front of the transcription engines.
//
// A [Detector] classifies one fixed-size frame of PCM samples as speech or
// silence. The [Gate] wraps a detector with pre-roll and post-roll buffering
// so that word onsets and endings near a speech boundary are never clipped,
// and skips downstream work entirely during silence.
//
// Detection is synchronous by design: classifying a frame must stay well
// under the frame's own duration so the gate can run inline in the chunk
// processing loop.
package vad

import (
	"encoding/binary"
	"math"
)

// FrameSamples is the fixed analysis frame size. At 16 kHz one frame covers
// 32 ms, which keeps detection latency far below the 100 ms chunk cadence.
const FrameSamples = 512

// DefaultEnergyThreshold is the RMS level (in 16-bit PCM units) below which a
// frame is considered silent. The maximum possible value for 16-bit audio is
// 32 767; 300 corresponds to near-silence.
const DefaultEnergyThreshold = 300.0

// Detector classifies a single analysis frame. Implementations must be cheap
// enough to run on every frame and must not block.
type Detector interface {
	// IsSpeech reports whether the frame contains speech. The frame is always
	// exactly [FrameSamples] samples of 16-bit mono PCM.
	IsSpeech(frame []int16) bool
}

// EnergyDetector is a root-mean-square energy detector. It is the default
// gate backend: no model file, deterministic, and fast enough that the gate
// adds no measurable latency.
type EnergyDetector struct {
	// Threshold is the RMS level above which a frame counts as speech.
	// Zero means [DefaultEnergyThreshold].
	Threshold float64
}

// IsSpeech reports whether the frame's RMS energy exceeds the threshold.
func (d *EnergyDetector) IsSpeech(frame []int16) bool {
	threshold := d.Threshold
	if threshold == 0 {
		threshold = DefaultEnergyThreshold
	}
	return rms(frame) >= threshold
}

// rms returns the root-mean-square energy of the samples, expressed in the
// same units as PCM sample values (0–32 767). Returns 0 for an empty frame.
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// RMSBytes returns the RMS energy of a 16-bit little-endian PCM byte buffer.
// Returns 0 for buffers shorter than one sample.
func RMSBytes(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
