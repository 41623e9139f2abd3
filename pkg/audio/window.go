package audio

import "fmt"

const (
	// MinWindowSeconds and MaxWindowSeconds bound the batch inference window.
	MinWindowSeconds = 2.0
	MaxWindowSeconds = 30.0

	// DefaultWindowSeconds and DefaultOverlapSeconds are the defaults used when
	// the pipeline config leaves them unset.
	DefaultWindowSeconds  = 3.0
	DefaultOverlapSeconds = 0.5
)

// Windower accumulates streamed PCM bytes into overlapping fixed-duration
// windows for batch inference. Consecutive windows share the configured
// overlap so that words straddling a window boundary appear in both.
//
// Windower is not safe for concurrent use; it is owned by the single
// processing loop that feeds it.
type Windower struct {
	format       Format
	windowBytes  int
	advanceBytes int
	buf          []byte
}

// NewWindower creates a windower for mono PCM in the given format.
// windowSecs must lie in [MinWindowSeconds, MaxWindowSeconds] and overlapSecs
// must be non-negative and strictly less than windowSecs.
func NewWindower(format Format, windowSecs, overlapSecs float64) (*Windower, error) {
	if windowSecs < MinWindowSeconds || windowSecs > MaxWindowSeconds {
		return nil, fmt.Errorf("audio: window duration %.1fs is out of range [%.0f, %.0f]",
			windowSecs, MinWindowSeconds, MaxWindowSeconds)
	}
	if overlapSecs < 0 || overlapSecs >= windowSecs {
		return nil, fmt.Errorf("audio: overlap duration %.1fs must be in [0, %.1f)", overlapSecs, windowSecs)
	}
	bps := format.BytesPerSecond()
	w := &Windower{
		format:       format,
		windowBytes:  alignToSample(int(windowSecs * float64(bps))),
		advanceBytes: alignToSample(int((windowSecs - overlapSecs) * float64(bps))),
	}
	return w, nil
}

// Push appends streamed PCM bytes to the accumulator.
func (w *Windower) Push(pcm []byte) {
	w.buf = append(w.buf, pcm...)
}

// ExtractWindow returns the next full window as float32 samples, or nil when
// fewer than one window's worth of bytes is buffered. On success the buffer
// advances by window − overlap, keeping the overlap for the next window.
func (w *Windower) ExtractWindow() []float32 {
	if len(w.buf) < w.windowBytes {
		return nil
	}
	window := BytesToFloat32(w.buf[:w.windowBytes])
	w.buf = w.buf[w.advanceBytes:]
	return window
}

// Pending returns the buffered in-progress audio as float32 samples without
// consuming it, or nil when nothing is buffered. It is the preview feed: the
// accumulating window can be transcribed speculatively while it fills.
func (w *Windower) Pending() []float32 {
	if len(w.buf) < BytesPerSample {
		return nil
	}
	return BytesToFloat32(w.buf)
}

// DrainRemaining returns whatever is buffered as one final window, provided
// it is at least minSecs long; shorter remainders are discarded. The buffer
// is empty afterwards either way.
func (w *Windower) DrainRemaining(minSecs float64) []float32 {
	remainder := w.buf
	w.buf = nil
	minBytes := int(minSecs * float64(w.format.BytesPerSecond()))
	if len(remainder) < minBytes || len(remainder) < BytesPerSample {
		return nil
	}
	return BytesToFloat32(remainder)
}

// Buffered returns the number of bytes currently accumulated.
func (w *Windower) Buffered() int {
	return len(w.buf)
}

// WindowBytes returns the size of one full window in bytes.
func (w *Windower) WindowBytes() int {
	return w.windowBytes
}

// alignToSample rounds n down to a whole number of 16-bit samples.
func alignToSample(n int) int {
	return n - n%BytesPerSample
}
