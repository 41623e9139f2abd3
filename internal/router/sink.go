package router

import (
	"fmt"
	"os"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/sonoscribe/sonoscribe/pkg/audio"
)

// RecordingSink persists the routed audio stream. The router keeps routing
// even if the sink fails: recording and transcription degrade independently.
type RecordingSink interface {
	WriteChunk(pcm []byte) error
	Close() error
}

// WAVSink writes 16-bit PCM chunks to a RIFF/WAVE file. The header is
// finalized on Close; a crash mid-session leaves a file recoverable with
// standard tools.
type WAVSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *wav.Encoder
	fmt  *goaudio.Format
}

var _ RecordingSink = (*WAVSink)(nil)

// NewWAVSink creates (or truncates) the recording file at path.
func NewWAVSink(path string, format audio.Format) (*WAVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("router: create recording file: %w", err)
	}
	return &WAVSink{
		file: f,
		enc:  wav.NewEncoder(f, format.SampleRate, 16, format.Channels, 1),
		fmt: &goaudio.Format{
			NumChannels: format.Channels,
			SampleRate:  format.SampleRate,
		},
	}, nil
}

// WriteChunk appends one chunk of 16-bit little-endian PCM to the file.
func (s *WAVSink) WriteChunk(pcm []byte) error {
	samples := audio.BytesToInt16(pcm)
	data := make([]int, len(samples))
	for i, v := range samples {
		data[i] = int(v)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return fmt.Errorf("router: recording sink is closed")
	}
	err := s.enc.Write(&goaudio.IntBuffer{
		Format:         s.fmt,
		Data:           data,
		SourceBitDepth: 16,
	})
	if err != nil {
		return fmt.Errorf("router: write recording chunk: %w", err)
	}
	return nil
}

// Close finalizes the WAV header and closes the file.
func (s *WAVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc == nil {
		return nil
	}
	encErr := s.enc.Close()
	fileErr := s.file.Close()
	s.enc = nil
	if encErr != nil {
		return fmt.Errorf("router: finalize recording: %w", encErr)
	}
	if fileErr != nil {
		return fmt.Errorf("router: close recording file: %w", fileErr)
	}
	return nil
}
