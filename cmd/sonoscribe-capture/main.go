// Command sonoscribe-capture records microphone and system audio, normalizes
// both streams into fixed 100 ms PCM chunks, and writes them to stdout or to
// a named pipe for the sonoscribe daemon to consume.
//
// All diagnostics go to stderr; the output stream carries nothing but PCM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/sonoscribe/sonoscribe/pkg/audio"
	"github.com/sonoscribe/sonoscribe/pkg/audio/capture"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// A consumer closing its end must surface as an EPIPE write error, not a
	// fatal SIGPIPE. The runtime only converts the signal to an error for
	// file descriptors beyond stdout/stderr, so ignore it explicitly for the
	// -out - case.
	signal.Ignore(syscall.SIGPIPE)

	fs := flag.NewFlagSet("sonoscribe-capture", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var (
		sampleRate  = fs.Int("sample-rate", audio.DefaultSampleRate, "output sample rate in Hz (8000, 16000, 24000, 44100, 48000)")
		mono        = fs.Bool("mono", false, "mix microphone and system audio into one channel instead of stereo")
		micDevice   = fs.String("mic-device", "", "microphone device ID from --list-devices (default: system default)")
		noMic       = fs.Bool("no-mic", false, "capture system audio only")
		out         = fs.String("out", "-", "output path: a file, a named pipe, or - for stdout")
		listDevices = fs.Bool("list-devices", false, "list capture devices and exit")
		verbose     = fs.Bool("verbose", false, "enable debug logging")
	)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *listDevices {
		devices, err := capture.ListDevices()
		if err != nil {
			fmt.Fprintf(os.Stderr, "sonoscribe-capture: %v\n", err)
			return 1
		}
		fmt.Print(capture.FormatDevices(devices))
		return 0
	}

	channels := 2
	if *mono {
		channels = 1
	}
	target := audio.Format{SampleRate: *sampleRate, Channels: channels}

	conv, err := audio.NewPCMConverter(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sonoscribe-capture: %v\n", err)
		return 1
	}

	output, err := openOutput(*out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sonoscribe-capture: %v\n", err)
		return 1
	}
	defer output.Close()

	capt, err := capture.New(capture.Config{
		SampleRate:  *sampleRate,
		MicDeviceID: *micDevice,
		DisableMic:  *noMic,
	}, conv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sonoscribe-capture: %v\n", err)
		return 1
	}
	defer capt.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := capt.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "sonoscribe-capture: %v\n", err)
		return 1
	}
	slog.Info("capture started",
		"format", target, "mic", capt.MicActive(), "out", *out)

	// One chunk of silence per tick when neither source produced audio keeps
	// the consumer's timeline contiguous.
	ticker := time.NewTicker(audio.ChunkDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("capture stopped")
			return 0
		case <-ticker.C:
			if _, err := output.Write(conv.GenerateChunk()); err != nil {
				if errors.Is(err, unix.EPIPE) || errors.Is(err, io.ErrClosedPipe) {
					// The consumer went away; that ends the session, not an
					// error.
					slog.Info("output closed by consumer")
					return 0
				}
				slog.Error("write failed", "error", err)
				return 1
			}
		}
	}
}

// openOutput resolves the -out flag. Opening a FIFO blocks until the daemon
// opens its read end, which is the intended rendezvous.
func openOutput(path string) (io.WriteCloser, error) {
	if path == "-" {
		return os.Stdout, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}
	return f, nil
}
