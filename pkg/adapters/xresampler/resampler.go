// Package xresampler provides a resampler implementation using
// golang.org/x/image/draw.
package xresampler

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/user/keyframes/pkg/frame"
	"github.com/user/keyframes/pkg/ports"
)

// Kernel names accepted by ParseKernel.
const (
	KernelBicubic  = "bicubic"
	KernelBilinear = "bilinear"
	KernelFast     = "fast_bilinear"
	KernelNearest  = "neighbor"
)

// ParseKernel returns the interpolator for a kernel name.
func ParseKernel(name string) (draw.Interpolator, error) {
	switch name {
	case "", KernelBicubic:
		return draw.CatmullRom, nil
	case KernelBilinear:
		return draw.BiLinear, nil
	case KernelFast:
		return draw.ApproxBiLinear, nil
	case KernelNearest:
		return draw.NearestNeighbor, nil
	default:
		return nil, fmt.Errorf("xresampler: unknown kernel %q", name)
	}
}

// Resampler implements ports.Resampler by scaling every plane
// independently.
type Resampler struct {
	kernel draw.Interpolator
}

// New creates a resampler using kernel.
func New(kernel draw.Interpolator) *Resampler {
	if kernel == nil {
		kernel = draw.CatmullRom
	}
	return &Resampler{kernel: kernel}
}

// NewNamed creates a resampler from a kernel name.
func NewNamed(name string) (*Resampler, error) {
	k, err := ParseKernel(name)
	if err != nil {
		return nil, err
	}
	return New(k), nil
}

// Resample fills dst from src.
func (r *Resampler) Resample(dst, src *frame.Frame) error {
	if dst.Format != src.Format {
		return fmt.Errorf("xresampler: format mismatch %s -> %s", src.Format, dst.Format)
	}
	if err := src.Validate(); err != nil {
		return err
	}
	if err := dst.Validate(); err != nil {
		return err
	}

	d := src.Format.Describe()
	if !d.Planar {
		s, err := src.ToImage()
		if err != nil {
			return err
		}
		t, err := dst.ToImage()
		if err != nil {
			return err
		}
		td := t.(draw.Image)
		r.kernel.Scale(td, td.Bounds(), s, s.Bounds(), draw.Src, nil)
		return nil
	}

	var g errgroup.Group
	for i := 0; i < d.Planes; i++ {
		i := i
		g.Go(func() error {
			s := planeImage(src, d, i)
			t := planeImage(dst, d, i)
			r.kernel.Scale(t, t.Rect, s, s.Rect, draw.Src, nil)
			return nil
		})
	}
	return g.Wait()
}

// planeImage wraps plane i of f as a grayscale image sharing its memory.
func planeImage(f *frame.Frame, d frame.Descriptor, i int) *image.Gray {
	pw, ph := d.PlaneSize(i, f.Width, f.Height)
	pix, stride := f.Plane(i)
	return &image.Gray{Pix: pix, Stride: stride, Rect: image.Rect(0, 0, pw, ph)}
}

var _ ports.Resampler = (*Resampler)(nil)
