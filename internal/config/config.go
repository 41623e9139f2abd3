// Package config provides the configuration schema and loader for the
// sonoscribe daemon.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sonoscribe/sonoscribe/pkg/audio"
)

// LogLevel controls log verbosity for the daemon.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Env variables overriding the model paths, mainly for trying out models
// without editing the config file.
const (
	EnvFinalModel   = "SONOSCRIBE_FINAL_MODEL"
	EnvPartialModel = "SONOSCRIBE_PARTIAL_MODEL"
)

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load].
type Config struct {
	// LogLevel controls verbosity. Defaults to info.
	LogLevel LogLevel `yaml:"log_level"`

	// ListenAddr is the TCP address for the HTTP surface (/ws live
	// transcript feed, /metrics). Empty disables the server.
	ListenAddr string `yaml:"listen_addr"`

	Audio     AudioConfig     `yaml:"audio"`
	Recording RecordingConfig `yaml:"recording"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
}

// AudioConfig shapes the capture and normalization stage.
type AudioConfig struct {
	// SampleRate is the target rate for the normalized stream.
	// Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// Mono mixes microphone and system audio into one averaged channel
	// instead of interleaving them as stereo.
	Mono bool `yaml:"mono"`

	// MicDevice selects a specific microphone by the hex identifier shown by
	// --list-devices. Empty uses the default capture device.
	MicDevice string `yaml:"mic_device"`

	// PipePath is the named pipe the capture process writes to.
	// Defaults to sonoscribe.pipe in the user's runtime directory.
	PipePath string `yaml:"pipe_path"`
}

// RecordingConfig controls the persistent recording sink.
type RecordingConfig struct {
	// Path is the WAV file recordings are written to. Empty generates a
	// timestamped file in the working directory. "off" disables recording.
	Path string `yaml:"path"`
}

// PipelineConfig shapes the transcription stage.
type PipelineConfig struct {
	// WindowSecs and OverlapSecs shape the sliding inference window.
	WindowSecs  float64 `yaml:"window_secs"`
	OverlapSecs float64 `yaml:"overlap_secs"`

	// MinDrainSecs is the shortest buffered remainder transcribed at session
	// end.
	MinDrainSecs float64 `yaml:"min_drain_secs"`

	// GateEnabled turns the voice activity gate on. GateThreshold is the RMS
	// energy level below which audio counts as silence.
	GateEnabled   bool    `yaml:"gate_enabled"`
	GateThreshold float64 `yaml:"gate_threshold"`

	// FinalModel is the accurate whisper model: an absolute path or a file
	// name resolved against the model directory. Required for transcription;
	// when missing the daemon records audio only.
	FinalModel string `yaml:"final_model"`

	// PartialEnabled turns fast preview transcription on; PartialModel is the
	// small model it uses, resolved like FinalModel.
	PartialEnabled bool   `yaml:"partial_enabled"`
	PartialModel   string `yaml:"partial_model"`

	// Language is the BCP-47 code passed to the engines. Defaults to "en".
	Language string `yaml:"language"`

	// Threads is the CPU thread count per inference.
	Threads int `yaml:"threads"`

	// MaxFailures is the consecutive-failure count that pauses the pipeline.
	MaxFailures int `yaml:"max_failures"`
}

// Default returns a Config with every defaultable field populated.
func Default() *Config {
	return &Config{
		LogLevel:   LogInfo,
		ListenAddr: ":8090",
		Audio: AudioConfig{
			SampleRate: audio.DefaultSampleRate,
			PipePath:   defaultPipePath(),
		},
		Pipeline: PipelineConfig{
			WindowSecs:     audio.DefaultWindowSeconds,
			OverlapSecs:    audio.DefaultOverlapSeconds,
			MinDrainSecs:   1.0,
			GateEnabled:    true,
			GateThreshold:  300.0,
			PartialEnabled: true,
			Language:       "en",
			Threads:        4,
			MaxFailures:    3,
		},
	}
}

// applyDefaults fills zero-valued fields after decoding.
func (c *Config) applyDefaults() {
	def := Default()
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = def.Audio.SampleRate
	}
	if c.Audio.PipePath == "" {
		c.Audio.PipePath = def.Audio.PipePath
	}
	if c.Pipeline.WindowSecs == 0 {
		c.Pipeline.WindowSecs = def.Pipeline.WindowSecs
	}
	if c.Pipeline.OverlapSecs == 0 {
		c.Pipeline.OverlapSecs = def.Pipeline.OverlapSecs
	}
	if c.Pipeline.MinDrainSecs == 0 {
		c.Pipeline.MinDrainSecs = def.Pipeline.MinDrainSecs
	}
	if c.Pipeline.GateThreshold == 0 {
		c.Pipeline.GateThreshold = def.Pipeline.GateThreshold
	}
	if c.Pipeline.Language == "" {
		c.Pipeline.Language = def.Pipeline.Language
	}
	if c.Pipeline.Threads == 0 {
		c.Pipeline.Threads = def.Pipeline.Threads
	}
	if c.Pipeline.MaxFailures == 0 {
		c.Pipeline.MaxFailures = def.Pipeline.MaxFailures
	}
}

// applyEnvOverrides lets the model env variables win over the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvFinalModel); v != "" {
		c.Pipeline.FinalModel = v
	}
	if v := os.Getenv(EnvPartialModel); v != "" {
		c.Pipeline.PartialModel = v
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if !audio.ValidSampleRate(cfg.Audio.SampleRate) {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d is invalid; valid values: %v", cfg.Audio.SampleRate, audio.ValidSampleRates))
	}
	if cfg.Pipeline.WindowSecs < audio.MinWindowSeconds || cfg.Pipeline.WindowSecs > audio.MaxWindowSeconds {
		errs = append(errs, fmt.Errorf("pipeline.window_secs %.1f is out of range [%.0f, %.0f]", cfg.Pipeline.WindowSecs, audio.MinWindowSeconds, audio.MaxWindowSeconds))
	}
	if cfg.Pipeline.OverlapSecs < 0 || cfg.Pipeline.OverlapSecs >= cfg.Pipeline.WindowSecs {
		errs = append(errs, fmt.Errorf("pipeline.overlap_secs %.1f must be in [0, window_secs)", cfg.Pipeline.OverlapSecs))
	}
	if cfg.Pipeline.Threads < 0 {
		errs = append(errs, fmt.Errorf("pipeline.threads %d must not be negative", cfg.Pipeline.Threads))
	}
	if cfg.Pipeline.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_failures %d must not be negative", cfg.Pipeline.MaxFailures))
	}
	if cfg.Pipeline.PartialEnabled && cfg.Pipeline.PartialModel == "" && cfg.Pipeline.FinalModel != "" {
		errs = append(errs, errors.New("pipeline.partial_enabled is set but pipeline.partial_model is empty"))
	}

	return errors.Join(errs...)
}

// ResolveModelPath turns a configured model value into a file path. Absolute
// and relative paths that exist are used as-is; bare names are looked up in
// the model directory (~/.local/share/sonoscribe/models).
func ResolveModelPath(name string) string {
	if name == "" {
		return ""
	}
	if filepath.IsAbs(name) {
		return name
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}
	return filepath.Join(ModelDir(), name)
}

// ModelDir returns the directory bare model names are resolved against.
func ModelDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".local", "share", "sonoscribe", "models")
	}
	return "models"
}

func defaultPipePath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "sonoscribe.pipe")
}
