package audio_test

import (
	"bytes"
	"testing"

	"github.com/sonoscribe/sonoscribe/pkg/audio"
)

func TestFormat_ChunkBytes(t *testing.T) {
	cases := []struct {
		rate, channels, want int
	}{
		{16000, 2, 6400},
		{16000, 1, 3200},
		{48000, 2, 19200},
		{8000, 1, 1600},
		{44100, 2, 17640},
		{24000, 1, 4800},
	}
	for _, c := range cases {
		f := audio.Format{SampleRate: c.rate, Channels: c.channels}
		if got := f.ChunkBytes(); got != c.want {
			t.Errorf("%s: chunk bytes got %d, want %d", f, got, c.want)
		}
	}
}

func TestInt16RoundTrip(t *testing.T) {
	samples := []int16{-32768, -1, 0, 1, 32767, 12345, -12345}
	got := audio.BytesToInt16(audio.Int16ToBytes(samples))
	if len(got) != len(samples) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(samples))
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], samples[i])
		}
	}
}

func TestInterleaveStereo(t *testing.T) {
	mic := audio.Int16ToBytes([]int16{1, 2, 3})
	sys := audio.Int16ToBytes([]int16{-1, -2, -3})
	out := audio.InterleaveStereo(mic, sys)
	if len(out) != 12 {
		t.Fatalf("output length: got %d, want 12", len(out))
	}
	got := audio.BytesToInt16(out)
	want := []int16{1, -1, 2, -2, 3, -3}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestMixMono_Boundaries(t *testing.T) {
	cases := []struct {
		a, b, want int16
	}{
		{32767, 32767, 32767},
		{-32768, -32768, -32768},
		{32767, -32768, 0}, // (32767-32768)/2 = -1/2 → truncates toward zero
		{100, 200, 150},
		{-100, -200, -150},
		{0, 0, 0},
	}
	for _, c := range cases {
		out := audio.MixMono(audio.Int16ToBytes([]int16{c.a}), audio.Int16ToBytes([]int16{c.b}))
		got := audio.BytesToInt16(out)[0]
		if got != c.want {
			t.Errorf("mix(%d, %d): got %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestStereoToMono_Clamping(t *testing.T) {
	stereo := audio.Int16ToBytes([]int16{32767, 32767})
	got := audio.BytesToInt16(audio.StereoToMono(stereo))
	if len(got) != 1 || got[0] != 32767 {
		t.Errorf("got %v, want [32767]", got)
	}
}

func TestResampleMono16_SameRateIsNoOp(t *testing.T) {
	pcm := audio.Int16ToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 16000, 16000)
	if !bytes.Equal(out, pcm) {
		t.Error("same-rate resample changed the data")
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	pcm := audio.Int16ToBytes([]int16{1000, 2000})
	got := audio.BytesToInt16(audio.ResampleMono16(pcm, 16000, 48000))
	if len(got) != 6 {
		t.Fatalf("expected 6 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
}

func newTestConverter(t *testing.T, channels int) *audio.PCMConverter {
	t.Helper()
	conv, err := audio.NewPCMConverter(audio.Format{SampleRate: 16000, Channels: channels})
	if err != nil {
		t.Fatalf("NewPCMConverter: %v", err)
	}
	return conv
}

// fillSource pushes exactly 100 ms of a constant mono sample into one source.
func fillSource(t *testing.T, conv *audio.PCMConverter, src audio.Source, sample int16) {
	t.Helper()
	samples := make([]int16, 1600) // 100 ms at 16 kHz
	for i := range samples {
		samples[i] = sample
	}
	err := conv.Process(audio.AudioFrame{
		Data:       audio.Int16ToBytes(samples),
		Source:     src,
		SampleRate: 16000,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("Process(%s): %v", src, err)
	}
}

func TestPCMConverter_StereoInterleave(t *testing.T) {
	conv := newTestConverter(t, 2)
	fillSource(t, conv, audio.SourceMicrophone, 111)
	fillSource(t, conv, audio.SourceSystem, -222)

	chunk := conv.GenerateChunk()
	if len(chunk) != 6400 {
		t.Fatalf("chunk size: got %d, want 6400", len(chunk))
	}
	got := audio.BytesToInt16(chunk)
	for i := 0; i < len(got); i += 2 {
		if got[i] != 111 {
			t.Fatalf("mic sample %d: got %d, want 111", i/2, got[i])
		}
		if got[i+1] != -222 {
			t.Fatalf("system sample %d: got %d, want -222", i/2, got[i+1])
		}
	}
}

func TestPCMConverter_StereoUnderflow_SilentChannel(t *testing.T) {
	conv := newTestConverter(t, 2)
	fillSource(t, conv, audio.SourceMicrophone, 500)
	// System source is empty.

	got := audio.BytesToInt16(conv.GenerateChunk())
	for i := 0; i < len(got); i += 2 {
		if got[i] != 500 {
			t.Fatalf("mic sample %d: got %d, want 500 (full volume)", i/2, got[i])
		}
		if got[i+1] != 0 {
			t.Fatalf("system sample %d: got %d, want 0 (silence)", i/2, got[i+1])
		}
	}
}

func TestPCMConverter_MonoMix(t *testing.T) {
	conv := newTestConverter(t, 1)
	fillSource(t, conv, audio.SourceMicrophone, 100)
	fillSource(t, conv, audio.SourceSystem, 300)

	chunk := conv.GenerateChunk()
	if len(chunk) != 3200 {
		t.Fatalf("chunk size: got %d, want 3200", len(chunk))
	}
	for i, s := range audio.BytesToInt16(chunk) {
		if s != 200 {
			t.Fatalf("sample %d: got %d, want 200", i, s)
		}
	}
}

func TestPCMConverter_BothUnderflow_SilentChunk(t *testing.T) {
	for _, channels := range []int{1, 2} {
		conv := newTestConverter(t, channels)
		chunk := conv.GenerateChunk()
		want := conv.Target().ChunkBytes()
		if len(chunk) != want {
			t.Fatalf("%dch: chunk size got %d, want %d", channels, len(chunk), want)
		}
		for i, b := range chunk {
			if b != 0 {
				t.Fatalf("%dch: byte %d is %d, want 0", channels, i, b)
			}
		}
	}
}

func TestPCMConverter_ResamplesSourceRate(t *testing.T) {
	conv := newTestConverter(t, 1)
	// 100 ms at 48 kHz, downsampled to 16 kHz inside Process.
	samples := make([]int16, 4800)
	for i := range samples {
		samples[i] = 1000
	}
	err := conv.Process(audio.AudioFrame{
		Data:       audio.Int16ToBytes(samples),
		Source:     audio.SourceMicrophone,
		SampleRate: 48000,
		Channels:   1,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := audio.BytesToInt16(conv.GenerateChunk())
	// Mixed with a silent system source: constant 1000 averages to 500.
	for i, s := range got {
		if s != 500 {
			t.Fatalf("sample %d: got %d, want 500", i, s)
		}
	}
}

func TestPCMConverter_RejectsMalformedFrame(t *testing.T) {
	conv := newTestConverter(t, 1)
	err := conv.Process(audio.AudioFrame{
		Data:       []byte{1, 2, 3}, // odd byte count
		Source:     audio.SourceMicrophone,
		SampleRate: 16000,
		Channels:   1,
	})
	if err == nil {
		t.Fatal("expected error for odd byte count")
	}
	// The malformed frame must not contribute audio.
	for i, b := range conv.GenerateChunk() {
		if b != 0 {
			t.Fatalf("byte %d is %d, want 0", i, b)
		}
	}
}

func TestPCMConverter_RejectsInvalidConfig(t *testing.T) {
	if _, err := audio.NewPCMConverter(audio.Format{SampleRate: 11025, Channels: 1}); err == nil {
		t.Error("expected error for invalid sample rate")
	}
	if _, err := audio.NewPCMConverter(audio.Format{SampleRate: 16000, Channels: 3}); err == nil {
		t.Error("expected error for invalid channel count")
	}
}
