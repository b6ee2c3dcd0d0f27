// Package transform crops and rescales frames.
package transform

import (
	"errors"
	"fmt"

	"github.com/user/keyframes/pkg/frame"
	"github.com/user/keyframes/pkg/geometry"
	"github.com/user/keyframes/pkg/ports"
)

// ErrResample is returned when the resampler fails to fill a target frame.
var ErrResample = errors.New("transform: resample failed")

// Crop returns a new view of f limited to g. The view shares f's buffer and
// must be released independently. g must lie inside f.
func Crop(f *frame.Frame, g geometry.Rect) (*frame.Frame, error) {
	if err := checkRect(f, g); err != nil {
		return nil, err
	}
	v := f.View()
	applyCrop(v, g)
	return v, nil
}

// CropInPlace narrows f itself to g. Pixels outside g stay in the buffer
// but are no longer reachable through f.
func CropInPlace(f *frame.Frame, g geometry.Rect) error {
	if err := checkRect(f, g); err != nil {
		return err
	}
	applyCrop(f, g)
	return nil
}

func checkRect(f *frame.Frame, g geometry.Rect) error {
	if g.X < 0 || g.Y < 0 || g.Width <= 0 || g.Height <= 0 ||
		g.X > f.Width-g.Width || g.Y > f.Height-g.Height {
		return &geometry.GeometryError{
			Request: geometry.Request{X: g.X, Y: g.Y, Width: g.Width, Height: g.Height},
			Result:  g,
			FrameW:  f.Width,
			FrameH:  f.Height,
			Reason:  "crop outside frame",
		}
	}
	return nil
}

func applyCrop(f *frame.Frame, g geometry.Rect) {
	d := f.Format.Describe()
	for i := 0; i < d.Planes; i++ {
		if !f.HasPlane(i) {
			continue
		}
		_, stride := f.Plane(i)
		if d.Planar && (i == 1 || i == 2) {
			f.Advance(i, (g.Y>>d.ShiftY)*stride+(g.X*d.Step[i])>>d.ShiftX)
		} else {
			f.Advance(i, g.Y*stride+g.X*d.Step[i])
		}
	}
	f.Width = g.Width
	f.Height = g.Height
}

// Transformer rescales frames with an injected allocator and resampler.
type Transformer struct {
	alloc     frame.Allocator
	resampler ports.Resampler
}

// New creates a Transformer.
func New(alloc frame.Allocator, resampler ports.Resampler) *Transformer {
	return &Transformer{alloc: alloc, resampler: resampler}
}

// Allocator returns the allocator used for new frames.
func (t *Transformer) Allocator() frame.Allocator {
	return t.alloc
}

// Rescale returns a w x h copy of src and releases src. Timestamps and
// duration are carried over. On error src is left to the caller.
func (t *Transformer) Rescale(src *frame.Frame, w, h int) (*frame.Frame, error) {
	dst, err := t.rescale(src, w, h)
	if err != nil {
		return nil, err
	}
	src.Release()
	return dst, nil
}

// RescaleCopy returns a w x h copy of src and leaves src untouched. The
// best effort timestamp is carried over as well.
func (t *Transformer) RescaleCopy(src *frame.Frame, w, h int) (*frame.Frame, error) {
	dst, err := t.rescale(src, w, h)
	if err != nil {
		return nil, err
	}
	dst.BestEffortTS = src.BestEffortTS
	return dst, nil
}

func (t *Transformer) rescale(src *frame.Frame, w, h int) (*frame.Frame, error) {
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResample, err)
	}
	dst, err := t.alloc.Alloc(src.Format, w, h)
	if err != nil {
		return nil, fmt.Errorf("rescale %dx%d to %dx%d: %w", src.Width, src.Height, w, h, err)
	}
	if err := t.resampler.Resample(dst, src); err != nil {
		dst.Release()
		return nil, fmt.Errorf("%w: %dx%d to %dx%d: %v", ErrResample, src.Width, src.Height, w, h, err)
	}
	dst.CopyProps(src)
	return dst, nil
}
