// -- internal/humanoid/trajectory_test.go --
package humanoid

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/chromedp/cdproto/input"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// recordingPointer captures dispatched mouse events.
type recordingPointer struct {
	events []*input.DispatchMouseEventParams
	err    error
}

func (r *recordingPointer) DispatchMouseEvent(_ context.Context, params *input.DispatchMouseEventParams) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, params)
	return nil
}

func (r *recordingPointer) ofType(typ input.MouseType) []*input.DispatchMouseEventParams {
	var out []*input.DispatchMouseEventParams
	for _, ev := range r.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// newTestPacer returns an enabled, seeded pacer that records sleeps.
func newTestPacer(t *testing.T, seed int64) (*Pacer, *recordingSleep) {
	t.Helper()
	rec := &recordingSleep{}
	p := New(testConfig(), zaptest.NewLogger(t), WithRand(rand.New(rand.NewSource(seed))), WithSleep(rec.sleep))
	return p, rec
}

func TestEaseInOutCubic(t *testing.T) {
	assert.Equal(t, 0.0, easeInOutCubic(0))
	assert.Equal(t, 1.0, easeInOutCubic(1))
	assert.InDelta(t, 0.5, easeInOutCubic(0.5), 1e-9)
	assert.Less(t, easeInOutCubic(0.1), 0.1, "starts slowly")
	assert.Greater(t, easeInOutCubic(0.9), 0.9, "ends slowly")

	prev := 0.0
	for i := 1; i <= 100; i++ {
		v := easeInOutCubic(float64(i) / 100)
		assert.GreaterOrEqual(t, v, prev, "monotonic at step %d", i)
		prev = v
	}
}

func TestMoveDurationFollowsFittsLaw(t *testing.T) {
	p, _ := newTestPacer(t, 12345)

	// FittsA=100, FittsB=150, W=30.
	expect := func(d float64) float64 { return 100 + 150*math.Log2(1+d/30) }

	for i := 0; i < 50; i++ {
		near := p.MoveDuration(10).Seconds() * 1000
		far := p.MoveDuration(1000).Seconds() * 1000

		assert.InDelta(t, expect(10), near, expect(10)*0.15+1)
		assert.InDelta(t, expect(1000), far, expect(1000)*0.15+1)
		assert.Greater(t, far, near)
	}
}

func TestPathEndpointsAndBounds(t *testing.T) {
	p, _ := newTestPacer(t, 7)
	start, end := Vector2D{X: 100, Y: 100}, Vector2D{X: 700, Y: 400}
	dist := start.Dist(end)

	path := p.Path(start, end, 25)
	require.Len(t, path, 25)
	assert.Equal(t, start, path[0])
	assert.Equal(t, end, path[len(path)-1])

	// Bend and jitter stay within a band around the straight line.
	limit := curvature*dist + testConfig().MouseJitter*math.Sqrt2 + 1
	dir := end.Sub(start).Normalize()
	for i, pt := range path {
		offset := pt.Sub(start)
		along := offset.X*dir.X + offset.Y*dir.Y
		across := math.Abs(offset.X*dir.Perp().X + offset.Y*dir.Perp().Y)
		assert.LessOrEqual(t, across, limit, "point %d strays from the line", i)
		assert.GreaterOrEqual(t, along, -limit, "point %d overshoots the start", i)
		assert.LessOrEqual(t, along, dist+limit, "point %d overshoots the end", i)
	}
}

func TestPathDegenerate(t *testing.T) {
	p, _ := newTestPacer(t, 1)
	a, b := Vector2D{X: 10, Y: 10}, Vector2D{X: 300, Y: 10}

	assert.Equal(t, []Vector2D{a}, p.Path(a, a, 10), "no distance")
	assert.Equal(t, []Vector2D{b}, p.Path(a, b, 1), "single step")
}

func TestMoveToDispatchesMoves(t *testing.T) {
	p, rec := newTestPacer(t, 42)
	ptr := &recordingPointer{}
	target := Vector2D{X: 640, Y: 360}

	require.NoError(t, p.MoveTo(context.Background(), ptr, target))

	require.GreaterOrEqual(t, len(ptr.events), minPathSteps)
	require.LessOrEqual(t, len(ptr.events), maxPathSteps)
	for _, ev := range ptr.events {
		assert.Equal(t, input.MouseMoved, ev.Type)
	}
	last := ptr.events[len(ptr.events)-1]
	assert.Equal(t, target, Vector2D{X: last.X, Y: last.Y})
	assert.Equal(t, target, p.Position())
	assert.Len(t, rec.slept, len(ptr.events), "one pause per step")
}

func TestMoveToStopsWhenCancelled(t *testing.T) {
	p, _ := newTestPacer(t, 42)
	ptr := &recordingPointer{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.MoveTo(ctx, ptr, Vector2D{X: 10, Y: 10})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ptr.events)
}

func TestClickPressesInsideBox(t *testing.T) {
	p, _ := newTestPacer(t, 3)
	ptr := &recordingPointer{}
	box := Box{X: 300, Y: 200, Width: 120, Height: 40}

	require.NoError(t, p.Click(context.Background(), ptr, box))

	n := len(ptr.events)
	require.Greater(t, n, 2)
	press, release := ptr.events[n-2], ptr.events[n-1]

	assert.Equal(t, input.MousePressed, press.Type)
	assert.Equal(t, input.MouseReleased, release.Type)
	assert.Equal(t, input.Left, press.Button)
	assert.Equal(t, int64(1), press.Buttons)
	assert.Equal(t, int64(0), release.Buttons)
	assert.Equal(t, int64(1), press.ClickCount)
	assert.Equal(t, press.X, release.X)
	assert.Equal(t, press.Y, release.Y)
	assert.True(t, box.Contains(Vector2D{X: press.X, Y: press.Y}), "press at %.1f,%.1f", press.X, press.Y)

	for _, ev := range ptr.events[:n-2] {
		assert.Equal(t, input.MouseMoved, ev.Type)
	}
	last := ptr.events[n-3]
	assert.Equal(t, Vector2D{X: press.X, Y: press.Y}, Vector2D{X: last.X, Y: last.Y}, "pointer rests where it presses")
}

func TestClickNearMiss(t *testing.T) {
	box := Box{X: 300, Y: 300, Width: 20, Height: 10}

	// landedUpLeft reports whether any move ends clearly up and left of the
	// press, outside the box.
	landedUpLeft := func(ptr *recordingPointer) bool {
		press := ptr.ofType(input.MousePressed)[0]
		for _, ev := range ptr.ofType(input.MouseMoved) {
			pt := Vector2D{X: ev.X, Y: ev.Y}
			if !box.Contains(pt) && pt.X <= press.X-missMin && pt.Y <= press.Y-missMin {
				return true
			}
		}
		return false
	}

	run := func(t *testing.T, probability float64) *recordingPointer {
		t.Helper()
		cfg := testConfig()
		cfg.MisclickProbability = probability
		cfg.MouseJitter = 0
		p := New(cfg, zaptest.NewLogger(t), WithRand(rand.New(rand.NewSource(9))), WithSleep((&recordingSleep{}).sleep))
		// Approach from the lower right.
		p.setPosition(Vector2D{X: 1000, Y: 1000})

		ptr := &recordingPointer{}
		require.NoError(t, p.Click(context.Background(), ptr, box))
		require.Len(t, ptr.ofType(input.MousePressed), 1, "a near miss never presses")
		require.Len(t, ptr.ofType(input.MouseReleased), 1)
		return ptr
	}

	t.Run("miss then correct", func(t *testing.T) {
		ptr := run(t, 1)
		assert.True(t, landedUpLeft(ptr))
		press := ptr.ofType(input.MousePressed)[0]
		assert.True(t, box.Contains(Vector2D{X: press.X, Y: press.Y}))
	})

	t.Run("direct", func(t *testing.T) {
		ptr := run(t, 0)
		assert.False(t, landedUpLeft(ptr))
	})
}

func TestClickReportsDispatchFailure(t *testing.T) {
	p, _ := newTestPacer(t, 5)
	boom := errors.New("target closed")

	err := p.Click(context.Background(), &recordingPointer{err: boom}, Box{X: 0, Y: 0, Width: 50, Height: 20})
	assert.ErrorIs(t, err, boom)
}

func TestTargetPointStaysInside(t *testing.T) {
	p, _ := newTestPacer(t, 11)
	box := Box{X: 10, Y: 10, Width: 30, Height: 8}

	for i := 0; i < 500; i++ {
		pt := p.targetPoint(box)
		require.True(t, box.Contains(pt), "point %v outside %v", pt, box)
	}

	tiny := Box{X: 5, Y: 5, Width: 2, Height: 2}
	assert.Equal(t, tiny.Center(), p.targetPoint(tiny))
}
