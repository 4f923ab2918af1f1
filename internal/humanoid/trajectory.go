// -- internal/humanoid/trajectory.go --
package humanoid

import (
	"context"
	"math"
	"time"

	"github.com/chromedp/cdproto/input"
	"go.uber.org/zap"
)

const (
	// targetWidth is the assumed target width W in pixels for Fitts's law.
	targetWidth = 30.0

	// curvature bounds the sideways bend of the control points as a fraction
	// of the travelled distance.
	curvature = 0.2

	// frameInterval is the nominal time between two mouse move events.
	frameInterval = 16 * time.Millisecond
	minPathSteps  = 5
	maxPathSteps  = 60

	// Near misses land this many pixels up and left of the aimed point.
	missMin = 10.0
	missMax = 20.0
)

// Pointer dispatches raw mouse events to the page.
type Pointer interface {
	DispatchMouseEvent(ctx context.Context, params *input.DispatchMouseEventParams) error
}

// easeInOutCubic accelerates at the start of a movement and decelerates
// towards its end.
func easeInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// bezier evaluates the cubic Bézier curve p0..p3 at t.
func bezier(p0, p1, p2, p3 Vector2D, t float64) Vector2D {
	u := 1 - t
	return p0.Mul(u * u * u).
		Add(p1.Mul(3 * u * u * t)).
		Add(p2.Mul(3 * u * t * t)).
		Add(p3.Mul(t * t * t))
}

// MoveDuration returns the Fitts's law movement time for a distance in
// pixels, randomized by up to 15% either way.
func (p *Pacer) MoveDuration(distance float64) time.Duration {
	id := math.Log2(1.0 + distance/targetWidth)
	mt := p.cfg.FittsA + p.cfg.FittsB*id

	p.mu.Lock()
	mt += mt * (p.rng.Float64()*0.3 - 0.15)
	p.mu.Unlock()

	if mt < 0 {
		mt = 0
	}
	return time.Duration(mt * float64(time.Millisecond))
}

// Path samples n points of a cubic Bézier curve from start to end. The
// control points sit at a third and two thirds of the way and are bent
// sideways at random. Sampling follows easeInOutCubic, so points crowd near
// both ends. Interior points carry up to MouseJitter pixels of noise; the
// endpoints are exact.
func (p *Pacer) Path(start, end Vector2D, n int) []Vector2D {
	span := end.Sub(start)
	dist := span.Mag()
	if dist < 1.0 || n < 2 {
		return []Vector2D{end}
	}
	normal := span.Perp().Normalize()

	p.mu.Lock()
	defer p.mu.Unlock()

	bend1 := (p.rng.Float64()*2 - 1) * curvature * dist
	bend2 := (p.rng.Float64()*2 - 1) * curvature * dist
	c1 := start.Add(span.Mul(1.0 / 3.0)).Add(normal.Mul(bend1))
	c2 := start.Add(span.Mul(2.0 / 3.0)).Add(normal.Mul(bend2))

	path := make([]Vector2D, n)
	for i := range path {
		t := easeInOutCubic(float64(i) / float64(n-1))
		path[i] = bezier(start, c1, c2, end, t)
		if i > 0 && i < n-1 && p.cfg.MouseJitter > 0 {
			j := p.cfg.MouseJitter
			path[i] = path[i].Add(Vector2D{
				X: uniformFloat(p.rng, -j, j),
				Y: uniformFloat(p.rng, -j, j),
			})
		}
	}
	path[n-1] = end
	return path
}

// Position returns the last known pointer position. Before the first move
// the pointer is placed somewhere in the upper left of the page.
func (p *Pacer) Position() Vector2D {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.placed {
		p.pos = Vector2D{
			X: uniformFloat(p.rng, 100, 500),
			Y: uniformFloat(p.rng, 100, 400),
		}
		p.placed = true
	}
	return p.pos
}

func (p *Pacer) setPosition(pt Vector2D) {
	p.mu.Lock()
	p.pos, p.placed = pt, true
	p.mu.Unlock()
}

// MoveTo glides the pointer from its current position to target.
func (p *Pacer) MoveTo(ctx context.Context, ptr Pointer, target Vector2D) error {
	start := p.Position()
	duration := p.MoveDuration(start.Dist(target))
	steps := int(duration / frameInterval)
	if steps < minPathSteps {
		steps = minPathSteps
	}
	if steps > maxPathSteps {
		steps = maxPathSteps
	}
	path := p.Path(start, target, steps)
	interval := duration / time.Duration(len(path))

	p.logger.Debug("Moving pointer.",
		zap.Float64("distance", start.Dist(target)),
		zap.Duration("duration", duration),
		zap.Int("steps", len(path)))

	for _, pt := range path {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ptr.DispatchMouseEvent(ctx, input.DispatchMouseEvent(input.MouseMoved, pt.X, pt.Y)); err != nil {
			return err
		}
		p.setPosition(pt)
		if interval > 0 {
			if err := p.sleep(ctx, interval); err != nil {
				return err
			}
		}
	}
	return nil
}

// Click moves the pointer onto box and presses the left button there. With
// MisclickProbability the pointer first comes to rest beside the aimed point,
// hesitates and corrects. The near miss never presses a button.
func (p *Pacer) Click(ctx context.Context, ptr Pointer, box Box) error {
	target := p.targetPoint(box)

	if p.roll(p.cfg.MisclickProbability) {
		p.mu.Lock()
		miss := target.Sub(Vector2D{
			X: uniformFloat(p.rng, missMin, missMax),
			Y: uniformFloat(p.rng, missMin, missMax),
		})
		p.mu.Unlock()
		p.logger.Debug("Pointer missed its target.", zap.Float64("x", miss.X), zap.Float64("y", miss.Y))
		if err := p.MoveTo(ctx, ptr, miss); err != nil {
			return err
		}
		if err := p.sleepBetween(ctx, 200*time.Millisecond, 500*time.Millisecond); err != nil {
			return err
		}
	}

	if err := p.MoveTo(ctx, ptr, target); err != nil {
		return err
	}
	// Hover before pressing.
	if err := p.sleepBetween(ctx, 100*time.Millisecond, 300*time.Millisecond); err != nil {
		return err
	}

	press := input.DispatchMouseEvent(input.MousePressed, target.X, target.Y).
		WithButton(input.Left).
		WithButtons(1).
		WithClickCount(1)
	if err := ptr.DispatchMouseEvent(ctx, press); err != nil {
		return err
	}
	if err := p.sleepBetween(ctx, 50*time.Millisecond, 120*time.Millisecond); err != nil {
		return err
	}
	release := input.DispatchMouseEvent(input.MouseReleased, target.X, target.Y).
		WithButton(input.Left).
		WithButtons(0).
		WithClickCount(1)
	return ptr.DispatchMouseEvent(ctx, release)
}

// targetPoint draws a click point around the centre of box, clamped to stay
// one pixel inside it.
func (p *Pacer) targetPoint(box Box) Vector2D {
	center := box.Center()
	if box.Width <= 2 || box.Height <= 2 {
		return center
	}

	p.mu.Lock()
	x := center.X + p.rng.NormFloat64()*box.Width*0.9/6.0
	y := center.Y + p.rng.NormFloat64()*box.Height*0.9/6.0
	p.mu.Unlock()

	x = math.Max(box.X+1, math.Min(box.X+box.Width-1, x))
	y = math.Max(box.Y+1, math.Min(box.Y+box.Height-1, y))
	return Vector2D{X: x, Y: y}
}

// roll reports whether an event of the given probability happens.
func (p *Pacer) roll(probability float64) bool {
	if probability <= 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() < probability
}

// sleepBetween sleeps for a uniform duration in [lo, hi].
func (p *Pacer) sleepBetween(ctx context.Context, lo, hi time.Duration) error {
	p.mu.Lock()
	d := uniform(p.rng, lo, hi)
	p.mu.Unlock()
	return p.sleep(ctx, d)
}
