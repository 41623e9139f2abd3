package audio_test

import (
	"testing"

	"github.com/sonoscribe/sonoscribe/pkg/audio"
)

// mono16k is the format used by every windower test: 32 000 bytes/second.
var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

func newTestWindower(t *testing.T) *audio.Windower {
	t.Helper()
	w, err := audio.NewWindower(mono16k, 3.0, 0.5)
	if err != nil {
		t.Fatalf("NewWindower: %v", err)
	}
	return w
}

func TestWindower_BelowThresholdYieldsNothing(t *testing.T) {
	w := newTestWindower(t)
	w.Push(make([]byte, w.WindowBytes()-2))
	if got := w.ExtractWindow(); got != nil {
		t.Fatalf("expected no window, got %d samples", len(got))
	}
	if got := w.Buffered(); got != w.WindowBytes()-2 {
		t.Errorf("buffer changed by failed extraction: %d bytes", got)
	}
}

func TestWindower_FullWindowAndAdvance(t *testing.T) {
	w := newTestWindower(t)
	// 3 s window at 16 kHz mono = 96 000 bytes = 48 000 samples.
	w.Push(make([]byte, 96000))

	window := w.ExtractWindow()
	if len(window) != 48000 {
		t.Fatalf("window samples: got %d, want 48000", len(window))
	}
	// Advance = (3.0 − 0.5) s × 32 000 B/s = 80 000 bytes; the 16 000-byte
	// overlap stays buffered.
	if got := w.Buffered(); got != 16000 {
		t.Errorf("buffered after extraction: got %d, want 16000", got)
	}
}

func TestWindower_OverlapCarriedIntoNextWindow(t *testing.T) {
	w := newTestWindower(t)

	// First window: all samples = 1000; then enough new audio (samples = 2000)
	// to complete a second window.
	first := make([]int16, 48000)
	for i := range first {
		first[i] = 1000
	}
	w.Push(audio.Int16ToBytes(first))
	if got := w.ExtractWindow(); got == nil {
		t.Fatal("first window not produced")
	}

	second := make([]int16, 40000)
	for i := range second {
		second[i] = 2000
	}
	w.Push(audio.Int16ToBytes(second))

	window := w.ExtractWindow()
	if window == nil {
		t.Fatal("second window not produced")
	}
	// The first 8000 samples (0.5 s overlap) come from the previous window.
	wantOverlap := float32(1000) / 32768.0
	if window[0] != wantOverlap || window[7999] != wantOverlap {
		t.Errorf("overlap samples: got %v and %v, want %v", window[0], window[7999], wantOverlap)
	}
	wantNew := float32(2000) / 32768.0
	if window[8000] != wantNew {
		t.Errorf("first fresh sample: got %v, want %v", window[8000], wantNew)
	}
}

func TestWindower_DrainRemaining(t *testing.T) {
	w := newTestWindower(t)

	// 1.5 s of audio: above the 1 s drain minimum.
	w.Push(make([]byte, 48000))
	got := w.DrainRemaining(1.0)
	if len(got) != 24000 {
		t.Fatalf("drained samples: got %d, want 24000", len(got))
	}
	if w.Buffered() != 0 {
		t.Errorf("buffer not empty after drain: %d bytes", w.Buffered())
	}

	// 0.5 s of audio: below the minimum, discarded.
	w.Push(make([]byte, 16000))
	if got := w.DrainRemaining(1.0); got != nil {
		t.Fatalf("short remainder drained: %d samples", len(got))
	}
	if w.Buffered() != 0 {
		t.Error("short remainder not discarded")
	}
}

func TestNewWindower_Validation(t *testing.T) {
	if _, err := audio.NewWindower(mono16k, 1.0, 0.5); err == nil {
		t.Error("window below minimum accepted")
	}
	if _, err := audio.NewWindower(mono16k, 31.0, 0.5); err == nil {
		t.Error("window above maximum accepted")
	}
	if _, err := audio.NewWindower(mono16k, 3.0, 3.0); err == nil {
		t.Error("overlap equal to window accepted")
	}
	if _, err := audio.NewWindower(mono16k, 3.0, -0.1); err == nil {
		t.Error("negative overlap accepted")
	}
}
