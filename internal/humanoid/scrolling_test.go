// -- internal/humanoid/scrolling_test.go --
package humanoid

import (
	"context"
	"testing"

	"github.com/chromedp/cdproto/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func TestScrollPlan(t *testing.T) {
	p, _ := newTestPacer(t, 21)

	tests := []struct {
		name     string
		distance float64
		steps    int
	}{
		{"short distance still takes several steps", 300, 5},
		{"one step per hundred pixels", 1000, 10},
		{"upwards", -800, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := p.ScrollPlan(tt.distance)
			require.Len(t, plan, tt.steps)
			assert.InDelta(t, tt.distance, sum(plan), 1e-6)
			for _, d := range plan {
				assert.Equal(t, tt.distance > 0, d > 0, "every step moves the same way")
			}
		})
	}

	t.Run("too short to bother", func(t *testing.T) {
		assert.Empty(t, p.ScrollPlan(49))
		assert.Empty(t, p.ScrollPlan(-49))
	})
}

func TestScrollIntoView(t *testing.T) {
	const viewport = 800.0

	t.Run("below the fold", func(t *testing.T) {
		p, rec := newTestPacer(t, 4)
		ptr := &recordingPointer{}
		box := Box{X: 100, Y: 1500, Width: 200, Height: 40}

		require.NoError(t, p.ScrollIntoView(context.Background(), ptr, box, viewport))

		wheel := ptr.ofType(input.MouseWheel)
		require.Len(t, wheel, len(ptr.events), "only wheel events")
		require.Len(t, wheel, 13)
		var scrolled float64
		for _, ev := range wheel {
			scrolled += ev.DeltaY
			assert.Zero(t, ev.DeltaX)
		}
		assert.InDelta(t, 1300, scrolled, 1e-6, "lands the box 200px below the top")
		assert.Len(t, rec.slept, len(wheel)+1, "a pause per step and one to settle")
	})

	t.Run("above the viewport", func(t *testing.T) {
		p, _ := newTestPacer(t, 4)
		ptr := &recordingPointer{}
		box := Box{X: 100, Y: -600, Width: 200, Height: 40}

		require.NoError(t, p.ScrollIntoView(context.Background(), ptr, box, viewport))

		var scrolled float64
		for _, ev := range ptr.events {
			scrolled += ev.DeltaY
		}
		assert.InDelta(t, -800, scrolled, 1e-6)
	})

	t.Run("margin is capped on short viewports", func(t *testing.T) {
		p, _ := newTestPacer(t, 4)
		ptr := &recordingPointer{}
		box := Box{X: 0, Y: 900, Width: 10, Height: 10}

		require.NoError(t, p.ScrollIntoView(context.Background(), ptr, box, 300))

		var scrolled float64
		for _, ev := range ptr.events {
			scrolled += ev.DeltaY
		}
		assert.InDelta(t, 800, scrolled, 1e-6)
	})

	t.Run("already visible", func(t *testing.T) {
		p, rec := newTestPacer(t, 4)
		ptr := &recordingPointer{}

		require.NoError(t, p.ScrollIntoView(context.Background(), ptr, Box{X: 0, Y: 100, Width: 10, Height: 10}, viewport))
		assert.Empty(t, ptr.events)
		assert.Empty(t, rec.slept)
	})
}
