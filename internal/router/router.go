// Package router moves PCM audio from the capture process into the daemon.
//
// The capture process writes fixed-size chunks to a named pipe. The router
// owns the pipe: it creates the FIFO, blocks until a writer connects, and
// fans every chunk out to the recording sink and to a bounded channel feeding
// transcription. A broken sink never stalls transcription; a slow transcriber
// backpressures through the channel and ultimately the pipe's kernel buffer,
// throttling the producer rather than losing audio the recording kept.
package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sonoscribe/sonoscribe/pkg/audio"
)

const (
	// maxReadRetries bounds consecutive transient pipe read failures before
	// the router gives up.
	maxReadRetries = 3

	// readRetryDelay is the pause between read retries.
	readRetryDelay = 100 * time.Millisecond

	// chunkQueueDepth bounds the transcription channel: 64 chunks is 6.4 s of
	// audio, enough to absorb an inference spike before backpressure reaches
	// the pipe.
	chunkQueueDepth = 64
)

// Router reads chunks from the named pipe and distributes them.
type Router struct {
	pipePath string
	format   audio.Format
	sink     RecordingSink
	chunks   chan []byte

	warnSink sync.Once
}

// New creates the FIFO at pipePath (replacing a stale one left by a previous
// run) and prepares the router. sink may be nil to disable recording.
func New(pipePath string, format audio.Format, sink RecordingSink) (*Router, error) {
	if err := unix.Mkfifo(pipePath, 0o600); err != nil {
		if !errors.Is(err, unix.EEXIST) {
			return nil, fmt.Errorf("router: create pipe %s: %w", pipePath, err)
		}
		// A pipe from a previous run: recreate it so we never inherit a
		// regular file at that path.
		if err := os.Remove(pipePath); err != nil {
			return nil, fmt.Errorf("router: remove stale pipe %s: %w", pipePath, err)
		}
		if err := unix.Mkfifo(pipePath, 0o600); err != nil {
			return nil, fmt.Errorf("router: create pipe %s: %w", pipePath, err)
		}
	}
	return &Router{
		pipePath: pipePath,
		format:   format,
		sink:     sink,
		chunks:   make(chan []byte, chunkQueueDepth),
	}, nil
}

// PipePath returns the FIFO path the capture process must write to.
func (r *Router) PipePath() string { return r.pipePath }

// Chunks is the bounded transcription feed. It is closed when the producer
// disconnects or Run returns.
func (r *Router) Chunks() <-chan []byte { return r.chunks }

// Run blocks until a writer opens the pipe, then routes chunks until the
// writer disconnects, the context is cancelled, or reads fail repeatedly.
// The chunks channel is closed on return.
func (r *Router) Run(ctx context.Context) error {
	defer close(r.chunks)

	pipe, err := r.openPipe(ctx)
	if err != nil {
		return err
	}
	defer pipe.Close()

	slog.Info("audio producer connected", "pipe", r.pipePath, "format", r.format)

	chunkBytes := r.format.ChunkBytes()
	retries := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		buf := make([]byte, chunkBytes)
		_, err := io.ReadFull(pipe, buf)
		switch {
		case err == nil:
			retries = 0
			r.route(ctx, buf)

		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			// Writer closed its end: a normal end of session.
			slog.Info("audio producer disconnected", "pipe", r.pipePath)
			return nil

		default:
			retries++
			if retries >= maxReadRetries {
				return fmt.Errorf("router: read pipe after %d retries: %w", retries, err)
			}
			slog.Warn("pipe read failed, retrying",
				"attempt", retries, "error", err)
			select {
			case <-time.After(readRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// openPipe opens the FIFO for reading. The open blocks until the capture
// process opens its write end, so it runs in a goroutine raced against the
// context. On cancellation the goroutine lingers until a writer appears or
// the process exits; the returned file is then closed immediately.
func (r *Router) openPipe(ctx context.Context) (*os.File, error) {
	type result struct {
		f   *os.File
		err error
	}
	ch := make(chan result, 1)
	go func() {
		f, err := os.OpenFile(r.pipePath, os.O_RDONLY, 0)
		ch <- result{f, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("router: open pipe %s: %w", r.pipePath, res.err)
		}
		return res.f, nil
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.f != nil {
				res.f.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// route delivers one chunk to both consumers. When the transcription feed is
// full it blocks: the pipe's kernel buffer then fills and the producer's
// writes stall, so a slow consumer throttles capture instead of losing audio.
func (r *Router) route(ctx context.Context, chunk []byte) {
	if r.sink != nil {
		if err := r.sink.WriteChunk(chunk); err != nil {
			r.warnSink.Do(func() {
				slog.Warn("recording sink failed, transcription continues", "error", err)
			})
		}
	}

	select {
	case r.chunks <- chunk:
	case <-ctx.Done():
	}
}

// Close removes the FIFO and closes the recording sink.
func (r *Router) Close() error {
	var errs []error
	if err := os.Remove(r.pipePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("router: remove pipe: %w", err))
	}
	if r.sink != nil {
		if err := r.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
