// Package capture records live audio from the default system output
// (loopback) and an optional microphone using the miniaudio bindings, and
// tags every buffer with its source so downstream mixing can tell the two
// streams apart.
package capture

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/sonoscribe/sonoscribe/pkg/audio"
)

// FrameSink receives every captured buffer. *audio.PCMConverter satisfies it.
type FrameSink interface {
	Process(frame audio.AudioFrame) error
}

// Config selects what to capture. Device audio always uses the default
// output; the microphone is optional.
type Config struct {
	// SampleRate is the rate both devices are opened at.
	SampleRate int

	// MicDeviceID selects a specific microphone by the hex identifier shown
	// by device listing. Empty uses the default capture device.
	MicDeviceID string

	// DisableMic skips microphone capture entirely.
	DisableMic bool
}

// Capture owns the miniaudio context and the running devices.
type Capture struct {
	ctx     *malgo.AllocatedContext
	system  *malgo.Device
	mic     *malgo.Device
	sink    FrameSink
	started time.Time

	warnSink sync.Once
}

// New initializes the capture devices. System (loopback) capture is
// mandatory: if it cannot be opened the error is returned and nothing is
// captured. A failing microphone is logged and skipped so device audio still
// flows.
func New(cfg Config, sink FrameSink) (*Capture, error) {
	if sink == nil {
		return nil, fmt.Errorf("capture: sink must not be nil")
	}
	if !audio.ValidSampleRate(cfg.SampleRate) {
		return nil, fmt.Errorf("capture: unsupported sample rate %d", cfg.SampleRate)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("capture: init audio context: %w", err)
	}

	c := &Capture{ctx: mctx, sink: sink}

	c.system, err = c.initDevice(malgo.Loopback, audio.SourceSystem, cfg.SampleRate, "")
	if err != nil {
		c.closeContext()
		return nil, fmt.Errorf("capture: open system loopback: %w", err)
	}

	if !cfg.DisableMic {
		c.mic, err = c.initDevice(malgo.Capture, audio.SourceMicrophone, cfg.SampleRate, cfg.MicDeviceID)
		if err != nil {
			slog.Warn("microphone unavailable, capturing system audio only",
				"device", cfg.MicDeviceID, "error", err)
			c.mic = nil
		}
	}

	return c, nil
}

// initDevice opens one mono S16 device of the given type whose data callback
// feeds tagged frames into the sink.
func (c *Capture) initDevice(devType malgo.DeviceType, source audio.Source, sampleRate int, deviceID string) (*malgo.Device, error) {
	devCfg := malgo.DefaultDeviceConfig(devType)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = 1
	devCfg.SampleRate = uint32(sampleRate)

	if deviceID != "" {
		idBytes, err := hex.DecodeString(deviceID)
		if err != nil {
			return nil, fmt.Errorf("invalid device ID %q: %w", deviceID, err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		devCfg.Capture.DeviceID = devID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, _ uint32) {
			// The callback runs on miniaudio's thread; data is reused after
			// return, so hand the sink its own copy.
			buf := make([]byte, len(data))
			copy(buf, data)
			err := c.sink.Process(audio.AudioFrame{
				Data:       buf,
				Source:     source,
				SampleRate: sampleRate,
				Channels:   1,
				Timestamp:  time.Since(c.started),
			})
			if err != nil {
				c.warnSink.Do(func() {
					slog.Warn("audio sink rejected a captured frame",
						"source", source, "error", err)
				})
			}
		},
	}

	return malgo.InitDevice(c.ctx.Context, devCfg, callbacks)
}

// Start begins capturing on all opened devices.
func (c *Capture) Start() error {
	c.started = time.Now()
	if err := c.system.Start(); err != nil {
		return fmt.Errorf("capture: start system loopback: %w", err)
	}
	if c.mic != nil {
		if err := c.mic.Start(); err != nil {
			slog.Warn("microphone failed to start, capturing system audio only", "error", err)
			c.mic.Uninit()
			c.mic = nil
		}
	}
	return nil
}

// MicActive reports whether microphone capture is running.
func (c *Capture) MicActive() bool {
	return c.mic != nil
}

// Close stops and releases all devices and the audio context.
func (c *Capture) Close() {
	if c.mic != nil {
		c.mic.Uninit()
		c.mic = nil
	}
	if c.system != nil {
		c.system.Uninit()
		c.system = nil
	}
	c.closeContext()
}

func (c *Capture) closeContext() {
	if c.ctx != nil {
		_ = c.ctx.Uninit()
		c.ctx.Free()
		c.ctx = nil
	}
}
