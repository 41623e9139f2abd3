// Command sonoscribed is the sonoscribe daemon. It owns the audio pipe,
// records every session to a WAV file, transcribes the stream through the
// hybrid whisper pipeline, and serves the live transcript feed and metrics
// over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sonoscribe/sonoscribe/internal/config"
	"github.com/sonoscribe/sonoscribe/internal/health"
	"github.com/sonoscribe/sonoscribe/internal/notify"
	"github.com/sonoscribe/sonoscribe/internal/observe"
	"github.com/sonoscribe/sonoscribe/internal/router"
	"github.com/sonoscribe/sonoscribe/internal/session"
	"github.com/sonoscribe/sonoscribe/pkg/audio"
	"github.com/sonoscribe/sonoscribe/pkg/provider/transcribe"
	"github.com/sonoscribe/sonoscribe/pkg/provider/transcribe/hybrid"
	"github.com/sonoscribe/sonoscribe/pkg/provider/transcribe/whisper"
	"github.com/sonoscribe/sonoscribe/pkg/provider/vad"
)

// engineSampleRate is the rate the whisper engines expect; the routed stream
// is resampled to it when the capture rate differs.
const engineSampleRate = 16000

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "sonoscribe.yaml", "path to the YAML configuration file")
	capturePath := flag.String("capture-bin", "sonoscribe-capture", "capture binary to launch; empty to attach an external producer")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sonoscribed: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.LogLevel))
	slog.Info("sonoscribed starting",
		"config", *configPath,
		"listen_addr", cfg.ListenAddr,
		"log_level", cfg.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Transcription provider (degrades, never aborts) ──────────────────────
	provider := buildProvider(cfg)
	if provider != nil {
		defer provider.Close()
	}

	// ── Recording sink and router ─────────────────────────────────────────────
	streamFormat := audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: 2}
	if cfg.Audio.Mono {
		streamFormat.Channels = 1
	}

	sink, err := buildSink(cfg, streamFormat)
	if err != nil {
		slog.Error("failed to open recording sink", "err", err)
		return 1
	}

	rt, err := router.New(cfg.Audio.PipePath, streamFormat, sink)
	if err != nil {
		slog.Error("failed to create audio router", "err", err)
		return 1
	}
	defer rt.Close()

	// ── Notifiers ─────────────────────────────────────────────────────────────
	hub := notify.NewHub()
	defer hub.Close()
	notifier := notify.Multi{notify.LogNotifier{}, hub}

	manager := session.New(provider, notifier)

	// ── Run all stages ────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := rt.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	monoChunks := normalizeForEngines(gctx, rt, streamFormat, metrics)
	g.Go(func() error {
		err := manager.Run(gctx, monoChunks)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if cfg.ListenAddr != "" {
		checks := health.New(
			health.PipelineCheck(manager),
			health.PipeCheck(cfg.Audio.PipePath),
		)
		g.Go(func() error {
			return serveHTTP(gctx, cfg.ListenAddr, hub, metrics, checks)
		})
	}

	if *capturePath != "" {
		g.Go(func() error {
			return runCapture(gctx, *capturePath, cfg)
		})
	}

	slog.Info("sonoscribed ready", "pipe", cfg.Audio.PipePath)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildProvider assembles the hybrid pipeline, degrading per missing piece:
// no final model disables transcription entirely (recording still works), a
// failing partial model drops previews only, and a disabled gate simply
// passes all audio through.
func buildProvider(cfg *config.Config) transcribe.Provider {
	if cfg.Pipeline.FinalModel == "" {
		slog.Warn("pipeline.final_model not configured; transcription disabled")
		return nil
	}

	engineOpts := []whisper.Option{
		whisper.WithLanguage(cfg.Pipeline.Language),
		whisper.WithThreads(cfg.Pipeline.Threads),
	}

	finalPath := config.ResolveModelPath(cfg.Pipeline.FinalModel)
	final, err := whisper.NewFinal(finalPath, engineOpts...)
	if err != nil {
		slog.Error("failed to load final model; transcription disabled",
			"model", finalPath, "err", err)
		return nil
	}

	hybridCfg := hybrid.Config{
		Format:       audio.Format{SampleRate: engineSampleRate, Channels: 1},
		Final:        final,
		WindowSecs:   cfg.Pipeline.WindowSecs,
		OverlapSecs:  cfg.Pipeline.OverlapSecs,
		MinDrainSecs: cfg.Pipeline.MinDrainSecs,
		MaxFailures:  cfg.Pipeline.MaxFailures,
	}

	if cfg.Pipeline.PartialEnabled && cfg.Pipeline.PartialModel != "" {
		partialPath := config.ResolveModelPath(cfg.Pipeline.PartialModel)
		partial, err := whisper.NewPartial(partialPath, engineOpts...)
		if err != nil {
			slog.Warn("failed to load partial model; previews disabled",
				"model", partialPath, "err", err)
		} else {
			hybridCfg.Partial = partial
		}
	}

	if cfg.Pipeline.GateEnabled {
		hybridCfg.Gate = vad.NewGate(
			&vad.EnergyDetector{Threshold: cfg.Pipeline.GateThreshold},
			engineSampleRate,
		)
	}

	provider, err := hybrid.New(hybridCfg)
	if err != nil {
		final.Close()
		slog.Error("failed to assemble transcription pipeline; transcription disabled", "err", err)
		return nil
	}
	return provider
}

// buildSink opens the WAV recording target. Path "off" disables recording;
// empty generates a timestamped file in the working directory.
func buildSink(cfg *config.Config, format audio.Format) (router.RecordingSink, error) {
	path := cfg.Recording.Path
	if path == "off" {
		slog.Info("recording disabled by configuration")
		return nil, nil
	}
	if path == "" {
		path = fmt.Sprintf("sonoscribe-%s.wav", time.Now().Format("20060102-150405"))
	}
	sink, err := router.NewWAVSink(path, format)
	if err != nil {
		return nil, err
	}
	slog.Info("recording to file", "path", path, "format", format)
	return sink, nil
}

// normalizeForEngines converts the routed stream into the mono 16 kHz feed
// the engines expect: stereo is averaged down, other sample rates are
// resampled. The returned channel closes when the router's feed closes.
func normalizeForEngines(ctx context.Context, rt *router.Router, format audio.Format, metrics *observe.Metrics) <-chan []byte {
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for chunk := range rt.Chunks() {
			metrics.RecordChunk(ctx)
			if format.Channels == 2 {
				chunk = audio.StereoToMono(chunk)
			}
			if format.SampleRate != engineSampleRate {
				chunk = audio.ResampleMono16(chunk, format.SampleRate, engineSampleRate)
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// serveHTTP exposes the live transcript feed and operational endpoints.
// The WebSocket handler is mounted outside the middleware so the connection
// upgrade is not wrapped.
func serveHTTP(ctx context.Context, addr string, hub *notify.Hub, metrics *observe.Metrics, checks *health.Handler) error {
	inner := http.NewServeMux()
	inner.Handle("/metrics", promhttp.Handler())
	checks.Register(inner)

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/", observe.Middleware(metrics)(inner))

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("http server listening", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}
		return nil
	}
}

// runCapture launches the capture subprocess pointed at the daemon's pipe.
// Its stderr is passed through so capture diagnostics land in the daemon's
// log stream.
func runCapture(ctx context.Context, bin string, cfg *config.Config) error {
	args := []string{
		"-out", cfg.Audio.PipePath,
		"-sample-rate", fmt.Sprint(cfg.Audio.SampleRate),
	}
	if cfg.Audio.Mono {
		args = append(args, "-mono")
	}
	if cfg.Audio.MicDevice != "" {
		args = append(args, "-mic-device", cfg.Audio.MicDevice)
	}

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = os.Stderr
	cmd.Cancel = func() error {
		// A TERM lets the capture process close its output cleanly.
		return cmd.Process.Signal(syscall.SIGTERM)
	}

	slog.Info("launching capture process", "bin", bin, "args", args)
	err := cmd.Run()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("capture process: %w", err)
	}
	return nil
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
