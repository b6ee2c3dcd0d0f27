// Package geometry computes crop and overlay coordinates that are safe to
// apply to a frame of a given size and chroma layout.
package geometry

import (
	"fmt"
	"math"
)

// Request is a requested crop or placement rectangle.
type Request struct {
	X, Y          int
	Width, Height int
}

// Rect is a rectangle that fits inside the frame it was clamped against.
type Rect struct {
	X, Y          int
	Width, Height int
}

// GeometryError reports a request that cannot be satisfied on a frame.
type GeometryError struct {
	Request Request
	Result  Rect
	FrameW  int
	FrameH  int
	Reason  string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry: %s: request %dx%d+%d+%d on %dx%d frame",
		e.Reason, e.Request.Width, e.Request.Height, e.Request.X, e.Request.Y, e.FrameW, e.FrameH)
}

// Clamp moves the requested rectangle inside a frameW x frameH frame.
//
// Negative origins are clamped to zero, and an origin that would push the
// rectangle past the right or bottom edge is pulled back so the rectangle
// ends on the edge. Width and height are never changed. Unless exact is set,
// the origin is then aligned down to the chroma grid given by shiftX and
// shiftY.
func Clamp(req Request, frameW, frameH, shiftX, shiftY int, exact bool) (Rect, error) {
	if req.Width <= 0 || req.Height <= 0 {
		return Rect{}, &GeometryError{Request: req, FrameW: frameW, FrameH: frameH,
			Reason: "non-positive size"}
	}

	x, y := int64(req.X), int64(req.Y)
	w, h := int64(req.Width), int64(req.Height)

	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	// compared without adding so huge requests cannot wrap
	if x > int64(frameW)-w {
		x = int64(frameW) - w
	}
	if y > int64(frameH)-h {
		y = int64(frameH) - h
	}

	r := Rect{X: int(x), Y: int(y), Width: req.Width, Height: req.Height}
	if x < 0 || y < 0 {
		return Rect{}, &GeometryError{Request: req, Result: r, FrameW: frameW, FrameH: frameH,
			Reason: "larger than frame"}
	}

	if !exact {
		r.X = AlignDown(r.X, shiftX)
		r.Y = AlignDown(r.Y, shiftY)
	}
	return r, nil
}

// AlignDown rounds v down to a multiple of 1<<shift.
func AlignDown(v, shift int) int {
	if shift <= 0 {
		return v
	}
	return v &^ ((1 << shift) - 1)
}

// ScaledSize scales w and h by factor, rounding to the nearest integer and
// then bumping odd results to the next even value. corrected reports whether
// either dimension had to be bumped.
func ScaledSize(w, h int, factor float64) (sw, sh int, corrected bool) {
	sw = int(math.Round(float64(w) * factor))
	sh = int(math.Round(float64(h) * factor))
	if sw%2 != 0 {
		sw++
		corrected = true
	}
	if sh%2 != 0 {
		sh++
		corrected = true
	}
	return sw, sh, corrected
}

// Intersects reports whether an ow x oh overlay placed at (x, y) covers any
// pixel of an mw x mh main frame.
func Intersects(x, y, ow, oh, mw, mh int) bool {
	return x < mw && x+ow > 0 && y < mh && y+oh > 0
}

// Overlap returns the part of an ow x oh rectangle at (x, y) that lies inside
// an mw x mh frame, in frame coordinates. The boolean is false when there is
// no overlap.
func Overlap(x, y, ow, oh, mw, mh int) (Rect, bool) {
	x0, y0 := max(x, 0), max(y, 0)
	x1, y1 := min(x+ow, mw), min(y+oh, mh)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}, false
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}, true
}
