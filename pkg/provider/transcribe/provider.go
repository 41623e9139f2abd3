// Package transcribe defines the contract between the transcription manager
// and the engines that turn PCM audio into text.
//
// A [Provider] consumes raw 16-bit mono PCM chunks and returns zero or more
// [Segment] values per call. Providers own their internal buffering: a call
// may return nothing because not enough audio has accumulated yet, and a
// single call may return several segments at once. Providers that buffer
// audio should also implement [Flusher] so the manager can drain the tail of
// a session on shutdown.
package transcribe

import "context"

// Provider transcribes a stream of PCM audio delivered in chunks.
type Provider interface {
	// Transcribe feeds one chunk of 16-bit little-endian mono PCM into the
	// provider and returns any segments that became available. An empty
	// result with a nil error means the provider needs more audio.
	Transcribe(ctx context.Context, pcm []byte) ([]Segment, error)

	// Close releases engine resources. The provider must not be used after
	// Close returns.
	Close() error
}

// Flusher is implemented by providers that buffer audio internally and can
// produce final segments from the remainder when the stream ends.
type Flusher interface {
	// Flush transcribes whatever audio is still buffered and resets the
	// provider's stream state.
	Flush(ctx context.Context) ([]Segment, error)
}
