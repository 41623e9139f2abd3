package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
)

// stagingCapacity is how much converted audio each per-source ring buffer can
// hold before the oldest bytes are discarded. One second absorbs capture
// callback jitter comfortably; a consumer that stalls longer than that loses
// the oldest audio rather than blocking the producer.
const stagingCapacity = 1 // seconds

// PCMConverter normalises frames from both capture sources into the session
// format and emits fixed 100 ms chunks on demand. It holds one [RingBuffer]
// per source; each source's frames are resampled and downmixed to mono at the
// target rate before staging, and [PCMConverter.GenerateChunk] combines the
// two staged streams into the final mono or stereo chunk.
//
// Process is called from the capture callback goroutine and GenerateChunk
// from the chunk ticker goroutine; the ring buffers carry the synchronisation.
type PCMConverter struct {
	target Format

	mic *RingBuffer
	sys *RingBuffer

	warnedOverflow sync.Once
	warnedCorrupt  sync.Once
}

// NewPCMConverter creates a converter producing chunks in the target format.
// target.Channels must be 1 (mixed mono) or 2 (mic on channel 0, system on
// channel 1).
func NewPCMConverter(target Format) (*PCMConverter, error) {
	if !ValidSampleRate(target.SampleRate) {
		return nil, fmt.Errorf("audio: sample rate %d is not one of %v", target.SampleRate, ValidSampleRates)
	}
	if target.Channels != 1 && target.Channels != 2 {
		return nil, fmt.Errorf("audio: channel count %d is invalid (must be 1 or 2)", target.Channels)
	}
	perSource := target.SampleRate * BytesPerSample * stagingCapacity
	return &PCMConverter{
		target: target,
		mic:    NewRingBuffer(perSource),
		sys:    NewRingBuffer(perSource),
	}, nil
}

// Target returns the configured output format.
func (c *PCMConverter) Target() Format {
	return c.target
}

// Process converts one captured frame to target-rate mono PCM and stages it
// in the frame's per-source ring buffer. Malformed frames are logged and
// skipped; processing continues.
func (c *PCMConverter) Process(frame AudioFrame) error {
	if len(frame.Data)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("pcm converter: odd byte count in PCM data, dropping frame",
				"source", frame.Source,
				"bytes", len(frame.Data),
			)
		})
		return fmt.Errorf("audio: frame from %s has odd byte count %d", frame.Source, len(frame.Data))
	}
	if frame.SampleRate <= 0 || frame.Channels <= 0 {
		return fmt.Errorf("audio: frame from %s has invalid format %dHz %dch",
			frame.Source, frame.SampleRate, frame.Channels)
	}

	pcm := frame.Data
	if frame.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	if frame.SampleRate != c.target.SampleRate {
		pcm = ResampleMono16(pcm, frame.SampleRate, c.target.SampleRate)
	}

	ring := c.mic
	if frame.Source == SourceSystem {
		ring = c.sys
	}
	if !ring.Write(pcm) {
		c.warnedOverflow.Do(func() {
			slog.Warn("pcm converter: staging buffer overflow, oldest audio discarded",
				"source", frame.Source,
				"capacity", ring.Capacity(),
			)
		})
	}
	return nil
}

// GenerateChunk drains 100 ms of staged audio from each source and combines
// them into one chunk of exactly Target().ChunkBytes() bytes. A source with
// less than 100 ms staged contributes silence for this chunk; when both
// sources underflow the chunk is entirely silent. The result is never nil
// and never short.
func (c *PCMConverter) GenerateChunk() []byte {
	perChannel := c.target.SampleRate / 10 * BytesPerSample

	micBytes := c.mic.Read(perChannel)
	sysBytes := c.sys.Read(perChannel)
	if micBytes == nil {
		micBytes = make([]byte, perChannel)
	}
	if sysBytes == nil {
		sysBytes = make([]byte, perChannel)
	}

	if c.target.Channels == 2 {
		return InterleaveStereo(micBytes, sysBytes)
	}
	return MixMono(micBytes, sysBytes)
}

// Clear discards all staged audio from both sources.
func (c *PCMConverter) Clear() {
	c.mic.Clear()
	c.sys.Clear()
}

// InterleaveStereo combines two equal-length mono PCM streams into one stereo
// stream: sample i of left goes to channel 0, sample i of right to channel 1.
// Both inputs must be 16-bit little-endian PCM of the same length.
func InterleaveStereo(left, right []byte) []byte {
	samples := len(left) / 2
	out := make([]byte, samples*4)
	for i := range samples {
		out[i*4] = left[i*2]
		out[i*4+1] = left[i*2+1]
		out[i*4+2] = right[i*2]
		out[i*4+3] = right[i*2+1]
	}
	return out
}

// MixMono averages two equal-length mono PCM streams sample by sample.
// Uses int32 arithmetic so the sum cannot wrap, and clamps the average to the
// int16 range.
func MixMono(a, b []byte) []byte {
	samples := len(a) / 2
	out := make([]byte, samples*2)
	for i := range samples {
		sa := int32(int16(binary.LittleEndian.Uint16(a[i*2:])))
		sb := int32(int16(binary.LittleEndian.Uint16(b[i*2:])))
		avg := (sa + sb) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(avg)))
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(avg)))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. The input must be little-endian int16 samples. If
// srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(binary.LittleEndian.Uint16(pcm[srcIdx*2:]))
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = int16(binary.LittleEndian.Uint16(pcm[(srcIdx+1)*2:]))
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(interpolated))
	}
	return out
}

// BytesToInt16 decodes little-endian 16-bit PCM bytes into samples.
func BytesToInt16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// Int16ToBytes encodes samples as little-endian 16-bit PCM bytes.
func Int16ToBytes(samples []int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

// BytesToFloat32 decodes little-endian 16-bit PCM bytes into float32 samples
// normalised to [-1, 1], the input format of the batch inference engine.
func BytesToFloat32(pcm []byte) []float32 {
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
	}
	return samples
}

// Int16ToFloat32 converts int16 samples to float32 normalised to [-1, 1].
func Int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}
