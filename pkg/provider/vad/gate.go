package vad

import (
	"github.com/sonoscribe/sonoscribe/pkg/audio"
)

const (
	// preRollDuration is how much audio preceding a speech onset is retained
	// and flushed with the first speech frame, in milliseconds.
	preRollMs = 100

	// postRollMs is how much trailing audio is kept after the last speech
	// frame before the gate transitions back to silent.
	postRollMs = 300
)

// Gate filters a PCM stream through a [Detector], passing speech (plus
// pre-roll and post-roll context) downstream and dropping silence. Input is
// analysed in fixed [FrameSamples]-sample frames; partial frames are carried
// across calls.
//
// A nil detector bypasses the gate entirely: all audio is treated as speech.
//
// Gate is not safe for concurrent use; it is owned by the single processing
// loop that feeds it.
type Gate struct {
	detector   Detector
	sampleRate int

	speechActive bool
	pending      []int16 // partial analysis frame carried between calls
	preRoll      *audio.RingBuffer
	postRoll     []int16
	postRollMax  int // samples
}

// NewGate creates a gate for mono PCM at the given sample rate. detector may
// be nil, in which case the gate passes everything through unchanged.
func NewGate(detector Detector, sampleRate int) *Gate {
	g := &Gate{
		detector:    detector,
		sampleRate:  sampleRate,
		postRollMax: sampleRate * postRollMs / 1000,
	}
	if detector != nil {
		preRollBytes := sampleRate * preRollMs / 1000 * audio.BytesPerSample
		g.preRoll = audio.NewRingBuffer(preRollBytes)
	}
	return g
}

// Bypassed reports whether the gate passes all audio through because no
// detector is configured.
func (g *Gate) Bypassed() bool {
	return g.detector == nil
}

// Filter runs pcm through the gate and returns the bytes that should reach
// the transcription engines. During silence the result is empty. The returned
// slice may include buffered pre-roll audio from before a speech onset and
// post-roll audio that completed a speech tail.
func (g *Gate) Filter(pcm []byte) []byte {
	if g.detector == nil {
		return pcm
	}

	g.pending = append(g.pending, audio.BytesToInt16(pcm)...)

	var out []int16
	for len(g.pending) >= FrameSamples {
		frame := g.pending[:FrameSamples]
		g.pending = g.pending[FrameSamples:]
		out = g.processFrame(frame, out)
	}
	if len(out) == 0 {
		return nil
	}
	return audio.Int16ToBytes(out)
}

// processFrame advances the four-transition state machine for one analysis
// frame and appends any audio that passes the gate to out.
func (g *Gate) processFrame(frame []int16, out []int16) []int16 {
	speech := g.detector.IsSpeech(frame)

	switch {
	case speech && !g.speechActive:
		// silent → speech: the onset frame plus the retained pre-roll.
		g.speechActive = true
		pre := g.preRoll.Read(g.preRoll.Available())
		if len(pre) > 0 {
			out = append(out, audio.BytesToInt16(pre)...)
		}
		out = append(out, frame...)

	case speech && g.speechActive:
		// speech → speech: pass through. Any partially accumulated post-roll
		// belongs to the same utterance, so it is flushed first.
		if len(g.postRoll) > 0 {
			out = append(out, g.postRoll...)
			g.postRoll = g.postRoll[:0]
		}
		out = append(out, frame...)

	case !speech && g.speechActive:
		// speech → silent: accumulate into the post-roll until it is full,
		// then flush it and go quiet.
		g.postRoll = append(g.postRoll, frame...)
		if len(g.postRoll) >= g.postRollMax {
			out = append(out, g.postRoll...)
			g.postRoll = g.postRoll[:0]
			g.speechActive = false
		}

	default:
		// silent → silent: skip, but remember the frame as pre-roll for the
		// next onset.
		g.preRoll.Write(audio.Int16ToBytes(frame))
	}

	return out
}

// Reset clears all gate state: pending samples, pre-roll, post-roll, and the
// speech flag. Use when the audio stream is restarted.
func (g *Gate) Reset() {
	g.speechActive = false
	g.pending = nil
	g.postRoll = nil
	if g.preRoll != nil {
		g.preRoll.Clear()
	}
}
