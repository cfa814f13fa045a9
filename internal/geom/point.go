package geom

import (
	"math"

	"github.com/golang/geo/r2"
)

// Point is a position or velocity in the image plane.
type Point = r2.Point

// Pt is shorthand for constructing a Point.
func Pt(x, y float64) Point {
	return r2.Point{X: x, Y: y}
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Point) float64 {
	return a.Sub(b).Norm()
}

// IsFinite reports whether both coordinates are neither NaN nor ±Inf.
func IsFinite(p Point) bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// BBox is an axis-aligned bounding box described by its centroid and extent.
type BBox struct {
	Center Point
	Width  float64
	Height float64
}

// Min returns the top-left corner.
func (b BBox) Min() Point {
	return Pt(b.Center.X-b.Width/2, b.Center.Y-b.Height/2)
}

// Max returns the bottom-right corner.
func (b BBox) Max() Point {
	return Pt(b.Center.X+b.Width/2, b.Center.Y+b.Height/2)
}
