// Package diagnostics captures screenshot artifacts for failed (and
// optionally successful) workflow steps.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/haggle-cli/internal/browser"
)

// timestampLayout is filesystem safe and sorts chronologically.
const timestampLayout = "20060102T150405.000"

// Artifact references a captured screenshot. It is never modified after
// creation.
type Artifact struct {
	ScreenshotPath string    `json:"screenshotPath"`
	Timestamp      time.Time `json:"timestamp"`
	Step           string    `json:"step"`
}

// Screenshotter is the part of a page the recorder needs.
type Screenshotter interface {
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
}

var _ Screenshotter = (browser.Page)(nil)

// Recorder writes screenshots to a directory as <step>_<timestamp>.png.
type Recorder struct {
	dir      string
	fullPage bool
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	captured []Artifact
}

// NewRecorder creates a recorder writing into dir.
func NewRecorder(dir string, fullPage bool, timeout time.Duration, logger *zap.Logger) *Recorder {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Recorder{
		dir:      dir,
		fullPage: fullPage,
		timeout:  timeout,
		logger:   logger.Named("diagnostics"),
		now:      time.Now,
	}
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Capture takes a screenshot of page for step. It runs under a context
// detached from ctx: a run that failed because its deadline passed still
// gets its picture.
func (r *Recorder) Capture(ctx context.Context, page Screenshotter, step string) (*Artifact, error) {
	captureCtx, cancel := context.WithTimeout(browser.Detach(ctx), r.timeout)
	defer cancel()

	png, err := page.Screenshot(captureCtx, r.fullPage)
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot for step %s: %w", step, err)
	}

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
	}

	ts := r.now()
	name := fmt.Sprintf("%s_%s.png", unsafeChars.ReplaceAllString(step, "_"), ts.Format(timestampLayout))
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write screenshot: %w", err)
	}

	a := Artifact{ScreenshotPath: path, Timestamp: ts, Step: step}
	r.mu.Lock()
	r.captured = append(r.captured, a)
	r.mu.Unlock()

	r.logger.Info("Screenshot saved.", zap.String("step", step), zap.String("path", path))
	return &a, nil
}

// Captured returns every artifact written so far, oldest first.
func (r *Recorder) Captured() []Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Artifact(nil), r.captured...)
}

type stepKey struct{}

// WithStep tags ctx with the name of the workflow step running under it.
func WithStep(ctx context.Context, step string) context.Context {
	return context.WithValue(ctx, stepKey{}, step)
}

// StepFrom returns the step tagged by WithStep, or "unknown".
func StepFrom(ctx context.Context) string {
	if s, ok := ctx.Value(stepKey{}).(string); ok && s != "" {
		return s
	}
	return "unknown"
}
