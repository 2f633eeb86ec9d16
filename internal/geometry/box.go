// Package geometry holds the axis-aligned box math shared by detectors,
// the tracker and the event deduplicator.
package geometry

import "math"

// Box is a bounding box normalized to the frame, origin top-left
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is a box in absolute pixel corners (x1,y1)-(x2,y2)
type Rect struct {
	X1 float64
	Y1 float64
	X2 float64
	Y2 float64
}

// Right returns the x coordinate of the right edge
func (b Box) Right() float64 { return b.X + b.Width }

// Bottom returns the y coordinate of the bottom edge
func (b Box) Bottom() float64 { return b.Y + b.Height }

// Area returns the box area
func (b Box) Area() float64 {
	if b.Width <= 0 || b.Height <= 0 {
		return 0
	}
	return b.Width * b.Height
}

// Center returns the center point of the box
func (b Box) Center() (x, y float64) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Diagonal returns the length of the box diagonal
func (b Box) Diagonal() float64 {
	return math.Hypot(b.Width, b.Height)
}

// Contains reports whether the point lies inside the box grown by margin on every side
func (b Box) Contains(x, y, margin float64) bool {
	return x >= b.X-margin && x <= b.Right()+margin &&
		y >= b.Y-margin && y <= b.Bottom()+margin
}

// Rounded returns the box with every component rounded to 4 decimals
func (b Box) Rounded() Box {
	return Box{
		X:      Round(b.X, 4),
		Y:      Round(b.Y, 4),
		Width:  Round(b.Width, 4),
		Height: Round(b.Height, 4),
	}
}

// IoU returns intersection-over-union of two boxes: 0 for disjoint boxes,
// 1 for identical ones. Degenerate unions yield 0.
func IoU(a, b Box) float64 {
	ix1 := math.Max(a.X, b.X)
	iy1 := math.Max(a.Y, b.Y)
	ix2 := math.Min(a.Right(), b.Right())
	iy2 := math.Min(a.Bottom(), b.Bottom())

	inter := math.Max(0, ix2-ix1) * math.Max(0, iy2-iy1)
	union := a.Area() + b.Area() - inter
	if union <= 1e-8 {
		return 0
	}
	return inter / union
}

// Union returns the smallest box enclosing both boxes
func Union(a, b Box) Box {
	x1 := math.Min(a.X, b.X)
	y1 := math.Min(a.Y, b.Y)
	x2 := math.Max(a.Right(), b.Right())
	y2 := math.Max(a.Bottom(), b.Bottom())
	return Box{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Normalize converts a pixel rect into a box relative to a width x height frame.
// The result is clamped to [0,1].
func Normalize(r Rect, width, height int) Box {
	if width <= 0 || height <= 0 {
		return Box{}
	}
	w, h := float64(width), float64(height)
	x1 := clamp01(r.X1 / w)
	y1 := clamp01(r.Y1 / h)
	x2 := clamp01(r.X2 / w)
	y2 := clamp01(r.Y2 / h)
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	return Box{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}
}

// Clamp restricts a normalized box to the unit square
func Clamp(b Box) Box {
	x1 := clamp01(b.X)
	y1 := clamp01(b.Y)
	x2 := clamp01(b.Right())
	y2 := clamp01(b.Bottom())
	return Box{X: x1, Y: y1, Width: math.Max(0, x2-x1), Height: math.Max(0, y2-y1)}
}

// Round rounds v to the given number of decimals
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
