package transcribe

import (
	"fmt"
	"strings"
	"time"
)

// Segment is one piece of transcribed speech with its position in the
// session's audio stream.
type Segment struct {
	// Text is the transcribed content, whitespace-trimmed.
	Text string `json:"text"`

	// StartMS and EndMS bound the segment in milliseconds from the start of
	// the session.
	StartMS int64 `json:"start_ms"`
	EndMS   int64 `json:"end_ms"`

	// IsFinal distinguishes accurate-engine results from fast preview text.
	// Partial segments may be revised by a later final segment covering the
	// same audio.
	IsFinal bool `json:"is_final"`
}

// Duration returns the length of audio the segment covers.
func (s Segment) Duration() time.Duration {
	return time.Duration(s.EndMS-s.StartMS) * time.Millisecond
}

func (s Segment) String() string {
	kind := "partial"
	if s.IsFinal {
		kind = "final"
	}
	return fmt.Sprintf("[%s %d–%dms] %s", kind, s.StartMS, s.EndMS, s.Text)
}

// JoinText concatenates the text of all final segments with single spaces,
// skipping partials and empty segments.
func JoinText(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		if !seg.IsFinal || seg.Text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(seg.Text)
	}
	return b.String()
}
