// -- internal/humanoid/vector.go --
package humanoid

import "math"

// Vector2D is a point or offset in viewport pixels.
type Vector2D struct {
	X, Y float64
}

// Add returns the vector sum of v and other.
func (v Vector2D) Add(other Vector2D) Vector2D {
	return Vector2D{X: v.X + other.X, Y: v.Y + other.Y}
}

// Sub returns the vector difference of v and other.
func (v Vector2D) Sub(other Vector2D) Vector2D {
	return Vector2D{X: v.X - other.X, Y: v.Y - other.Y}
}

// Mul returns v scaled by s.
func (v Vector2D) Mul(s float64) Vector2D {
	return Vector2D{X: v.X * s, Y: v.Y * s}
}

// Mag returns the length of v.
func (v Vector2D) Mag() float64 {
	return math.Hypot(v.X, v.Y)
}

// Normalize returns the unit vector in the direction of v, or the zero
// vector when v has no length.
func (v Vector2D) Normalize() Vector2D {
	mag := v.Mag()
	if mag < 1e-9 {
		return Vector2D{}
	}
	return v.Mul(1.0 / mag)
}

// Perp returns v rotated by 90 degrees.
func (v Vector2D) Perp() Vector2D {
	return Vector2D{X: -v.Y, Y: v.X}
}

// Dist returns the distance between the points v and other.
func (v Vector2D) Dist(other Vector2D) float64 {
	return math.Hypot(v.X-other.X, v.Y-other.Y)
}

// Box is an element's border box in viewport coordinates.
type Box struct {
	X, Y, Width, Height float64
}

// Center returns the middle of the box.
func (b Box) Center() Vector2D {
	return Vector2D{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Contains reports whether pt lies inside the box.
func (b Box) Contains(pt Vector2D) bool {
	return pt.X >= b.X && pt.X <= b.X+b.Width && pt.Y >= b.Y && pt.Y <= b.Y+b.Height
}

// Visible reports whether the box lies vertically within a viewport of the
// given height.
func (b Box) Visible(viewportHeight float64) bool {
	return b.Y >= 0 && b.Y+b.Height <= viewportHeight
}
