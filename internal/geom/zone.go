package geom

import (
	"fmt"
	"math"
)

// Zone is a convex protected region. Implementations are immutable after
// construction and safe for concurrent reads.
type Zone interface {
	// Contains reports whether p lies inside or on the boundary.
	Contains(p Point) bool
	// Severity grades how deep p is inside the zone: 0 on the boundary,
	// 1 at the centre. Points outside return 0.
	Severity(p Point) float64
	// Centre returns the zone's reference point.
	Centre() Point
}

// Circle is a zone bounded by a circle. A zero radius describes an empty
// zone: nothing is ever inside it.
type Circle struct {
	Center Point
	Radius float64
}

// NewCircle validates and returns a circular zone.
func NewCircle(center Point, radius float64) (Circle, error) {
	if !IsFinite(center) {
		return Circle{}, fmt.Errorf("zone centre must be finite, got (%v, %v)", center.X, center.Y)
	}
	if math.IsNaN(radius) || math.IsInf(radius, 0) || radius < 0 {
		return Circle{}, fmt.Errorf("zone radius must be a finite non-negative number, got %v", radius)
	}
	return Circle{Center: center, Radius: radius}, nil
}

// Contains implements Zone.
func (c Circle) Contains(p Point) bool {
	if c.Radius <= 0 {
		return false
	}
	return Distance(p, c.Center) <= c.Radius
}

// Severity implements Zone.
func (c Circle) Severity(p Point) float64 {
	if !c.Contains(p) {
		return 0
	}
	return math.Max(0, 1-Distance(p, c.Center)/c.Radius)
}

// Centre implements Zone.
func (c Circle) Centre() Point { return c.Center }

// Rect is an axis-aligned rectangular zone. Zero width or height describes
// an empty zone.
type Rect struct {
	Center Point
	Width  float64
	Height float64
}

// NewRect validates and returns a rectangular zone.
func NewRect(center Point, width, height float64) (Rect, error) {
	if !IsFinite(center) {
		return Rect{}, fmt.Errorf("zone centre must be finite, got (%v, %v)", center.X, center.Y)
	}
	for name, v := range map[string]float64{"width": width, "height": height} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return Rect{}, fmt.Errorf("zone %s must be a finite non-negative number, got %v", name, v)
		}
	}
	return Rect{Center: center, Width: width, Height: height}, nil
}

// Contains implements Zone.
func (r Rect) Contains(p Point) bool {
	if r.Width <= 0 || r.Height <= 0 {
		return false
	}
	return math.Abs(p.X-r.Center.X) <= r.Width/2 && math.Abs(p.Y-r.Center.Y) <= r.Height/2
}

// Severity implements Zone. Penetration is measured along the axis with the
// least clearance to the boundary.
func (r Rect) Severity(p Point) float64 {
	if !r.Contains(p) {
		return 0
	}
	sx := 1 - math.Abs(p.X-r.Center.X)/(r.Width/2)
	sy := 1 - math.Abs(p.Y-r.Center.Y)/(r.Height/2)
	return math.Min(sx, sy)
}

// Centre implements Zone.
func (r Rect) Centre() Point { return r.Center }
