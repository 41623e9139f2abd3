package hybrid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sonoscribe/sonoscribe/pkg/audio"
	"github.com/sonoscribe/sonoscribe/pkg/provider/transcribe"
	"github.com/sonoscribe/sonoscribe/pkg/provider/vad"
)

var mono16k = audio.Format{SampleRate: 16000, Channels: 1}

// fakeEngine records every window it receives and replays canned segments.
type fakeEngine struct {
	calls    int
	lastSize int
	segments []transcribe.Segment
	err      error
}

func (f *fakeEngine) TranscribeSamples(_ context.Context, samples []float32) ([]transcribe.Segment, error) {
	f.calls++
	f.lastSize = len(samples)
	if f.err != nil {
		return nil, f.err
	}
	// Rebase mutates the returned slice, so hand out a copy.
	out := make([]transcribe.Segment, len(f.segments))
	copy(out, f.segments)
	return out, nil
}

func newTestProvider(t *testing.T, cfg Config) *Provider {
	t.Helper()
	if cfg.Format.SampleRate == 0 {
		cfg.Format = mono16k
	}
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// pcm builds n bytes of nonzero 16-bit PCM.
func pcm(n int) []byte {
	samples := make([]int16, n/2)
	for i := range samples {
		samples[i] = 1000
	}
	return audio.Int16ToBytes(samples)
}

func TestNew_RequiresFinalEngine(t *testing.T) {
	if _, err := New(Config{Format: mono16k}); err == nil {
		t.Error("nil final engine accepted")
	}
	if _, err := New(Config{Format: audio.Format{SampleRate: 16000, Channels: 2}, Final: &fakeEngine{}}); err == nil {
		t.Error("stereo input accepted")
	}
}

func TestTranscribe_WindowTimesAreStreamRelative(t *testing.T) {
	final := &fakeEngine{segments: []transcribe.Segment{
		{Text: "hello", StartMS: 100, EndMS: 900, IsFinal: true},
	}}
	p := newTestProvider(t, Config{Final: final})

	// One full 3 s window: 96 000 bytes at 16 kHz mono.
	segs, err := p.Transcribe(context.Background(), pcm(96000))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(segs) != 1 || segs[0].StartMS != 100 {
		t.Fatalf("first window: got %+v", segs)
	}
	if final.lastSize != 48000 {
		t.Errorf("window samples: got %d, want 48000", final.lastSize)
	}

	// 80 000 more bytes completes the second window (advance is 2.5 s).
	segs, err = p.Transcribe(context.Background(), pcm(80000))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("second window: got %d segments", len(segs))
	}
	if segs[0].StartMS != 2600 || segs[0].EndMS != 3400 {
		t.Errorf("second window times: got %d–%d, want 2600–3400", segs[0].StartMS, segs[0].EndMS)
	}
}

func TestTranscribe_ShortInputReturnsNothing(t *testing.T) {
	final := &fakeEngine{}
	p := newTestProvider(t, Config{Final: final})

	segs, err := p.Transcribe(context.Background(), pcm(6400))
	if err != nil || segs != nil {
		t.Fatalf("got %v, %v; want nil, nil", segs, err)
	}
	if final.calls != 0 {
		t.Errorf("final engine called %d times on a partial window", final.calls)
	}
}

func TestTranscribe_PartialErrorsAreNotFatal(t *testing.T) {
	final := &fakeEngine{segments: []transcribe.Segment{{Text: "ok", IsFinal: true}}}
	partial := &fakeEngine{err: errors.New("tiny model exploded")}
	p := newTestProvider(t, Config{Final: final, Partial: partial})

	segs, err := p.Transcribe(context.Background(), pcm(96000))
	if err != nil {
		t.Fatalf("partial failure propagated: %v", err)
	}
	if len(segs) != 1 || !segs[0].IsFinal {
		t.Fatalf("finals missing after partial failure: %+v", segs)
	}
	if partial.calls != 1 {
		t.Errorf("partial engine calls: got %d, want 1", partial.calls)
	}
}

func TestTranscribe_PartialsPrecedeFinals(t *testing.T) {
	final := &fakeEngine{segments: []transcribe.Segment{{Text: "final", IsFinal: true}}}
	partial := &fakeEngine{segments: []transcribe.Segment{{Text: "preview"}}}
	p := newTestProvider(t, Config{Final: final, Partial: partial})

	segs, err := p.Transcribe(context.Background(), pcm(96000))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(segs) != 2 || segs[0].IsFinal || !segs[1].IsFinal {
		t.Fatalf("expected [partial, final], got %+v", segs)
	}
}

func TestTranscribe_PartialPreviewEveryChunk(t *testing.T) {
	final := &fakeEngine{}
	partial := &fakeEngine{segments: []transcribe.Segment{{Text: "he"}}}
	p := newTestProvider(t, Config{Final: final, Partial: partial})

	// A single 100 ms chunk is far short of a full window, but the preview
	// engine must still see it.
	segs, err := p.Transcribe(context.Background(), pcm(3200))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if partial.calls != 1 {
		t.Fatalf("partial engine calls after one chunk: got %d, want 1", partial.calls)
	}
	if partial.lastSize != 1600 {
		t.Errorf("preview samples: got %d, want 1600", partial.lastSize)
	}
	if len(segs) != 1 || segs[0].IsFinal {
		t.Fatalf("preview segments: got %+v", segs)
	}
	if final.calls != 0 {
		t.Error("final engine invoked before a full window")
	}

	// The preview grows with the in-progress buffer on the next chunk.
	if _, err := p.Transcribe(context.Background(), pcm(3200)); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if partial.calls != 2 || partial.lastSize != 3200 {
		t.Errorf("second preview: calls=%d samples=%d, want 2 and 3200",
			partial.calls, partial.lastSize)
	}
}

func TestTranscribe_PausesAfterConsecutiveFailures(t *testing.T) {
	final := &fakeEngine{err: errors.New("inference crashed")}
	p := newTestProvider(t, Config{Final: final, MaxFailures: 3, PauseTimeout: time.Hour})

	for i := range 3 {
		_, err := p.Transcribe(context.Background(), pcm(96000))
		if err == nil {
			t.Fatalf("failure %d not reported", i+1)
		}
		if errors.Is(err, ErrPipelinePaused) {
			t.Fatalf("paused too early on failure %d", i+1)
		}
	}
	if !p.Paused() {
		t.Fatal("pipeline not paused after 3 consecutive failures")
	}

	// While paused, audio is discarded without touching the engine.
	calls := final.calls
	_, err := p.Transcribe(context.Background(), pcm(96000))
	if !errors.Is(err, ErrPipelinePaused) {
		t.Fatalf("got %v, want ErrPipelinePaused", err)
	}
	if final.calls != calls {
		t.Error("final engine called while paused")
	}
}

func TestTranscribe_ResumesAfterPauseTimeout(t *testing.T) {
	final := &fakeEngine{err: errors.New("inference crashed")}
	p := newTestProvider(t, Config{Final: final, MaxFailures: 1, PauseTimeout: time.Millisecond})

	if _, err := p.Transcribe(context.Background(), pcm(96000)); err == nil {
		t.Fatal("first failure not reported")
	}
	time.Sleep(5 * time.Millisecond)

	// The probe succeeds and the pipeline closes again.
	final.err = nil
	final.segments = []transcribe.Segment{{Text: "back", IsFinal: true}}
	segs, err := p.Transcribe(context.Background(), pcm(96000))
	if err != nil {
		t.Fatalf("probe window: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "back" {
		t.Fatalf("probe segments: %+v", segs)
	}
	if p.Paused() {
		t.Error("pipeline still paused after successful probe")
	}
}

func TestTranscribe_GateDropsSilence(t *testing.T) {
	final := &fakeEngine{}
	gate := vad.NewGate(&vad.EnergyDetector{}, 16000)
	p := newTestProvider(t, Config{Final: final, Gate: gate})

	// 6 s of silence: without the gate this would complete two windows.
	for range 60 {
		segs, err := p.Transcribe(context.Background(), make([]byte, 3200))
		if err != nil || segs != nil {
			t.Fatalf("silent chunk: got %v, %v", segs, err)
		}
	}
	if final.calls != 0 {
		t.Errorf("final engine called %d times on pure silence", final.calls)
	}
}

func TestFlush_DrainsRemainder(t *testing.T) {
	final := &fakeEngine{segments: []transcribe.Segment{
		{Text: "tail", StartMS: 0, EndMS: 1900, IsFinal: true},
	}}
	p := newTestProvider(t, Config{Final: final, MinDrainSecs: 1.0})

	// One full window plus 1.5 s extra audio.
	if _, err := p.Transcribe(context.Background(), pcm(96000+48000)); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	// Remainder = 0.5 s overlap + 1.5 s fresh audio = 2 s.
	segs, err := p.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("flush segments: got %d, want 1", len(segs))
	}
	// The remainder starts where the second window would have: 2.5 s.
	if segs[0].StartMS != 2500 {
		t.Errorf("flush start: got %d, want 2500", segs[0].StartMS)
	}
	if final.lastSize != 32000 {
		t.Errorf("flush samples: got %d, want 32000", final.lastSize)
	}
}

func TestFlush_DiscardsShortRemainder(t *testing.T) {
	final := &fakeEngine{}
	p := newTestProvider(t, Config{Final: final, MinDrainSecs: 1.0})

	// 0.5 s of audio: below the drain minimum.
	if _, err := p.Transcribe(context.Background(), pcm(16000)); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	segs, err := p.Flush(context.Background())
	if err != nil || segs != nil {
		t.Fatalf("got %v, %v; want nil, nil", segs, err)
	}
	if final.calls != 0 {
		t.Error("final engine called for a sub-minimum remainder")
	}
}

func TestFlush_ReopensPausedPipeline(t *testing.T) {
	final := &fakeEngine{err: errors.New("inference crashed")}
	p := newTestProvider(t, Config{Final: final, MaxFailures: 1, PauseTimeout: time.Hour})

	if _, err := p.Transcribe(context.Background(), pcm(96000)); err == nil {
		t.Fatal("failure not reported")
	}
	if !p.Paused() {
		t.Fatal("pipeline not paused")
	}

	// Ending the session clears the pause; the next one gets a fresh start.
	if _, err := p.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if p.Paused() {
		t.Fatal("pipeline still paused after flush")
	}
	final.err = nil
	final.segments = []transcribe.Segment{{Text: "fresh", IsFinal: true}}
	segs, err := p.Transcribe(context.Background(), pcm(96000))
	if err != nil {
		t.Fatalf("Transcribe after flush: %v", err)
	}
	if len(segs) != 1 || segs[0].Text != "fresh" {
		t.Fatalf("post-flush segments: %+v", segs)
	}
}

func TestFlush_ResetsStreamPosition(t *testing.T) {
	final := &fakeEngine{segments: []transcribe.Segment{{Text: "x", IsFinal: true}}}
	p := newTestProvider(t, Config{Final: final})

	p.Transcribe(context.Background(), pcm(96000))
	p.Flush(context.Background())

	// A new session starts back at stream position zero.
	segs, err := p.Transcribe(context.Background(), pcm(96000))
	if err != nil {
		t.Fatalf("Transcribe after flush: %v", err)
	}
	if len(segs) != 1 || segs[0].StartMS != 0 {
		t.Errorf("post-flush window start: got %+v, want StartMS 0", segs)
	}
}
