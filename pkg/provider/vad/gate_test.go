package vad_test

import (
	"testing"

	"github.com/sonoscribe/sonoscribe/pkg/audio"
	"github.com/sonoscribe/sonoscribe/pkg/provider/vad"
)

// frames builds n analysis frames of a constant sample value as PCM bytes.
func frames(n int, value int16) []byte {
	samples := make([]int16, n*vad.FrameSamples)
	for i := range samples {
		samples[i] = value
	}
	return audio.Int16ToBytes(samples)
}

func TestEnergyDetector(t *testing.T) {
	d := &vad.EnergyDetector{}
	loud := make([]int16, vad.FrameSamples)
	for i := range loud {
		loud[i] = 5000
	}
	if !d.IsSpeech(loud) {
		t.Error("loud frame classified as silence")
	}
	if d.IsSpeech(make([]int16, vad.FrameSamples)) {
		t.Error("silent frame classified as speech")
	}
}

func TestGate_NilDetectorBypasses(t *testing.T) {
	g := vad.NewGate(nil, 16000)
	if !g.Bypassed() {
		t.Fatal("gate with nil detector not bypassed")
	}
	in := frames(2, 1234)
	out := g.Filter(in)
	if len(out) != len(in) {
		t.Errorf("bypass changed length: got %d, want %d", len(out), len(in))
	}
}

func TestGate_SilenceEmitsNothing(t *testing.T) {
	g := vad.NewGate(&vad.EnergyDetector{}, 16000)
	if out := g.Filter(frames(10, 0)); out != nil {
		t.Fatalf("silence produced %d bytes", len(out))
	}
}

func TestGate_OnsetIncludesPreRoll(t *testing.T) {
	g := vad.NewGate(&vad.EnergyDetector{}, 16000)

	// Plenty of silence first, then one speech frame.
	g.Filter(frames(10, 50)) // below threshold
	out := g.Filter(frames(1, 5000))

	if out == nil {
		t.Fatal("speech onset produced nothing")
	}
	samples := audio.BytesToInt16(out)
	// 100 ms pre-roll at 16 kHz = 1600 samples, plus the 512-sample onset
	// frame.
	want := 1600 + vad.FrameSamples
	if len(samples) != want {
		t.Fatalf("onset output: got %d samples, want %d", len(samples), want)
	}
	if samples[0] != 50 {
		t.Errorf("pre-roll sample: got %d, want 50", samples[0])
	}
	if samples[len(samples)-1] != 5000 {
		t.Errorf("onset sample: got %d, want 5000", samples[len(samples)-1])
	}
}

func TestGate_ContinuedSpeechPassesThrough(t *testing.T) {
	g := vad.NewGate(&vad.EnergyDetector{}, 16000)
	g.Filter(frames(1, 5000)) // onset

	out := g.Filter(frames(3, 4000))
	samples := audio.BytesToInt16(out)
	if len(samples) != 3*vad.FrameSamples {
		t.Fatalf("continued speech: got %d samples, want %d", len(samples), 3*vad.FrameSamples)
	}
	for i, s := range samples {
		if s != 4000 {
			t.Fatalf("sample %d: got %d, want 4000", i, s)
		}
	}
}

func TestGate_PostRollFlushedThenSilent(t *testing.T) {
	g := vad.NewGate(&vad.EnergyDetector{}, 16000)
	g.Filter(frames(1, 5000)) // onset

	// 300 ms post-roll at 16 kHz = 4800 samples; 512-sample frames accumulate
	// until the total reaches that, so 10 silent frames (5120 samples) flush.
	var total int
	for range 9 {
		total += len(audio.BytesToInt16(g.Filter(frames(1, 0))))
	}
	if total != 0 {
		t.Fatalf("post-roll leaked %d samples before filling", total)
	}
	out := audio.BytesToInt16(g.Filter(frames(1, 0)))
	if len(out) != 10*vad.FrameSamples {
		t.Fatalf("post-roll flush: got %d samples, want %d", len(out), 10*vad.FrameSamples)
	}

	// Gate is back in silence: further quiet frames emit nothing.
	if got := g.Filter(frames(5, 0)); got != nil {
		t.Errorf("silence after post-roll produced %d bytes", len(got))
	}
}

func TestGate_SpeechResumingReclaimsPostRoll(t *testing.T) {
	g := vad.NewGate(&vad.EnergyDetector{}, 16000)
	g.Filter(frames(1, 5000))

	// A short pause (less than the post-roll) followed by more speech must
	// not drop the paused audio.
	if out := g.Filter(frames(3, 0)); out != nil {
		t.Fatalf("short pause leaked %d bytes", len(out))
	}
	out := audio.BytesToInt16(g.Filter(frames(1, 5000)))
	if len(out) != 4*vad.FrameSamples {
		t.Fatalf("resume output: got %d samples, want %d", len(out), 4*vad.FrameSamples)
	}
}

func TestGate_PartialFramesCarriedAcrossCalls(t *testing.T) {
	g := vad.NewGate(&vad.EnergyDetector{}, 16000)

	half := audio.Int16ToBytes(make([]int16, vad.FrameSamples/2))
	if out := g.Filter(half); out != nil {
		t.Fatalf("half frame produced output: %d bytes", len(out))
	}
	// Completing the frame with loud samples: RMS of half-zero, half-5000 is
	// still well above the threshold.
	loud := make([]int16, vad.FrameSamples/2)
	for i := range loud {
		loud[i] = 5000
	}
	out := g.Filter(audio.Int16ToBytes(loud))
	if len(audio.BytesToInt16(out)) != vad.FrameSamples {
		t.Fatalf("completed frame: got %d samples, want %d", len(audio.BytesToInt16(out)), vad.FrameSamples)
	}
}

func TestGate_Reset(t *testing.T) {
	g := vad.NewGate(&vad.EnergyDetector{}, 16000)
	g.Filter(frames(1, 5000))
	g.Filter(frames(1, 0)) // partial post-roll
	g.Reset()

	// After reset the gate is silent with no pre-roll: a lone speech frame
	// emits exactly one frame.
	out := audio.BytesToInt16(g.Filter(frames(1, 5000)))
	if len(out) != vad.FrameSamples {
		t.Errorf("post-reset onset: got %d samples, want %d", len(out), vad.FrameSamples)
	}
}
