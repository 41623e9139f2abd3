package health

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sonoscribe/sonoscribe/internal/session"
)

// PipelineCheck reports ready while the transcription manager is not stuck in
// an error state. Disabled mode counts as ready: the daemon is then a plain
// recorder by configuration, not by malfunction.
func PipelineCheck(m *session.Manager) Checker {
	return Checker{
		Name: "pipeline",
		Check: func(_ context.Context) error {
			if s := m.Status(); s == session.StatusError {
				return errors.New("last transcription cycle failed")
			}
			return nil
		},
	}
}

// PipeCheck reports ready while the audio pipe exists on disk.
func PipeCheck(pipePath string) Checker {
	return Checker{
		Name: "pipe",
		Check: func(_ context.Context) error {
			if _, err := os.Stat(pipePath); err != nil {
				return fmt.Errorf("audio pipe missing: %w", err)
			}
			return nil
		},
	}
}
