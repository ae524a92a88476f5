// Package capture saves a screenshot of the page at each recorded step.
package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wayfinder/api/schemas"
)

const defaultTimeout = 10 * time.Second

var unsafeLabel = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

// Recorder writes NNN-<label>-<timestamp>.png files into a directory.
// Failures are logged and otherwise ignored.
type Recorder struct {
	session schemas.BrowserSession
	dir     string
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

// NewRecorder creates dir if needed.
func NewRecorder(session schemas.BrowserSession, dir string, logger *zap.Logger) (*Recorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("capture directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create capture directory %s: %w", dir, err)
	}
	return &Recorder{
		session: session,
		dir:     dir,
		timeout: defaultTimeout,
		logger:  logger.Named("capture"),
		now:     time.Now,
	}, nil
}

// Record takes a screenshot and saves it under the step number and label.
func (r *Recorder) Record(ctx context.Context, step int, label string) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	png, err := r.session.Screenshot(ctx)
	if err != nil {
		r.logger.Warn("Screenshot failed.", zap.Int("step", step), zap.String("label", label), zap.Error(err))
		return
	}
	path := filepath.Join(r.dir, FileName(step, label, r.now()))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		r.logger.Warn("Could not save screenshot.", zap.String("path", path), zap.Error(err))
		return
	}
	r.logger.Debug("Screenshot saved.", zap.String("path", path))
}

// FileName builds the name for a step screenshot.
func FileName(step int, label string, ts time.Time) string {
	label = unsafeLabel.ReplaceAllString(label, "-")
	if label == "" {
		label = "step"
	}
	return fmt.Sprintf("%03d-%s-%s.png", step, label, ts.Format("20060102-150405"))
}
