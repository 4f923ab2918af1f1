// -- internal/humanoid/scrolling.go --
package humanoid

import (
	"context"
	"math"
	"time"

	"github.com/chromedp/cdproto/input"
	"go.uber.org/zap"
)

const (
	// minScroll is the smallest distance worth scrolling for.
	minScroll = 50.0

	// scrollStride is the nominal distance covered by one wheel step.
	scrollStride   = 100.0
	minScrollSteps = 5
)

// ScrollPlan splits a vertical scroll over distance pixels into wheel
// deltas of roughly scrollStride each, at least minScrollSteps of them. The
// deltas vary in size, share the sign of distance and sum to it. Distances
// below minScroll need no scrolling.
func (p *Pacer) ScrollPlan(distance float64) []float64 {
	if math.Abs(distance) < minScroll {
		return nil
	}
	steps := int(math.Abs(distance) / scrollStride)
	if steps < minScrollSteps {
		steps = minScrollSteps
	}

	p.mu.Lock()
	weights := make([]float64, steps)
	var total float64
	for i := range weights {
		weights[i] = uniformFloat(p.rng, 0.8, 1.2)
		total += weights[i]
	}
	p.mu.Unlock()

	plan := make([]float64, steps)
	for i, w := range weights {
		plan[i] = distance * w / total
	}
	return plan
}

// ScrollIntoView wheels the page until box sits ScrollMargin pixels below the
// viewport top, capped at a third of the viewport. A box that is already
// visible is left alone.
func (p *Pacer) ScrollIntoView(ctx context.Context, ptr Pointer, box Box, viewportHeight float64) error {
	if box.Visible(viewportHeight) {
		return nil
	}
	margin := math.Min(p.cfg.ScrollMargin, viewportHeight/3)
	plan := p.ScrollPlan(box.Y - margin)
	if len(plan) == 0 {
		return nil
	}

	at := p.Position()
	p.logger.Debug("Scrolling element into view.",
		zap.Float64("distance", box.Y-margin),
		zap.Int("steps", len(plan)))

	for _, delta := range plan {
		wheel := input.DispatchMouseEvent(input.MouseWheel, at.X, at.Y).
			WithDeltaX(0).
			WithDeltaY(delta)
		if err := ptr.DispatchMouseEvent(ctx, wheel); err != nil {
			return err
		}
		if err := p.sleepBetween(ctx, 50*time.Millisecond, 150*time.Millisecond); err != nil {
			return err
		}
	}
	// Let the page settle before aiming.
	return p.sleepBetween(ctx, 200*time.Millisecond, 400*time.Millisecond)
}
