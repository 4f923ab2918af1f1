// Package captcha detects challenge pages. A detection is fatal for the run
// and is never retried.
package captcha

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/haggle-cli/internal/browser"
	"github.com/xkilldash9x/haggle-cli/internal/diagnostics"
	"github.com/xkilldash9x/haggle-cli/internal/selectors"
)

// ErrDetected matches every *DetectedError.
var ErrDetected = errors.New("captcha detected")

// DetectedError carries the marker that matched and the screenshot taken on
// detection, if any.
type DetectedError struct {
	Marker   string
	Step     string
	Artifact *diagnostics.Artifact
}

func (e *DetectedError) Error() string {
	return fmt.Sprintf("captcha detected during %s (marker %s)", e.Step, e.Marker)
}

func (e *DetectedError) Is(target error) bool { return target == ErrDetected }

// Detector checks the current page for challenge markers.
type Detector struct {
	page     browser.Page
	markers  []selectors.Selector
	recorder *diagnostics.Recorder
	logger   *zap.Logger
}

// NewDetector builds a detector from the captcha chain of set. recorder may
// be nil, in which case no screenshot is taken.
func NewDetector(page browser.Page, set *selectors.Set, recorder *diagnostics.Recorder, logger *zap.Logger) *Detector {
	return &Detector{
		page:     page,
		markers:  set.Chain(selectors.Captcha),
		recorder: recorder,
		logger:   logger.Named("captcha"),
	}
}

// Check returns nil when the page is clear and a *DetectedError otherwise.
// It only inspects the DOM as it is, without waiting.
func (d *Detector) Check(ctx context.Context) error {
	for _, m := range d.markers {
		found, err := d.page.Exists(ctx, m.Query)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// A marker that cannot be evaluated is not evidence of a challenge.
			d.logger.Debug("Captcha marker check failed.", zap.String("marker", m.Raw), zap.Error(err))
			continue
		}
		if !found {
			continue
		}

		step := diagnostics.StepFrom(ctx)
		detected := &DetectedError{Marker: m.Raw, Step: step}
		d.logger.Warn("CAPTCHA detected. Manual intervention needed.", zap.String("step", step), zap.String("marker", m.Raw))
		if d.recorder != nil {
			a, err := d.recorder.Capture(ctx, d.page, step)
			if err != nil {
				d.logger.Warn("Failed to capture captcha screenshot.", zap.Error(err))
			} else {
				detected.Artifact = a
			}
		}
		return detected
	}
	return nil
}
