// Package blend alpha-composites an overlay frame onto a main frame.
package blend

import (
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/user/keyframes/pkg/frame"
	"github.com/user/keyframes/pkg/geometry"
)

// Mode selects how overlay colour relates to its alpha.
type Mode int

const (
	// Straight alpha: colour is independent of alpha.
	Straight Mode = iota
	// Premultiplied alpha: colour has already been multiplied by alpha.
	Premultiplied
)

func (m Mode) String() string {
	if m == Premultiplied {
		return "premultiplied"
	}
	return "straight"
}

// MarshalText implements encoding.TextMarshaler.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseMode parses "straight" or "premultiplied".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "straight":
		return Straight, nil
	case "premultiplied":
		return Premultiplied, nil
	default:
		return Straight, fmt.Errorf("blend: unknown alpha mode %q", s)
	}
}

// Blender composites src onto dst with src's top-left corner at (x, y) in
// dst. Only the overlapping region of dst is written, and Blend returns
// after every row is done.
type Blender interface {
	Blend(dst, src *frame.Frame, x, y int) error
}

// minRowsPerWorker keeps tiny overlays on one goroutine.
const minRowsPerWorker = 16

// ForFormats returns the blender for a main and overlay format pair.
// workers <= 0 uses one worker per CPU.
func ForFormats(main, overlay frame.PixelFormat, mode Mode, workers int) (Blender, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	md, od := main.Describe(), overlay.Describe()
	switch {
	case md.Planes == 0 || od.Planes == 0:
		return nil, fmt.Errorf("blend: unsupported formats %s over %s", overlay, main)
	case md.Planar && od.Planar:
		if md.ShiftX != od.ShiftX || md.ShiftY != od.ShiftY {
			return nil, fmt.Errorf("blend: overlay %s does not share chroma layout with %s", overlay, main)
		}
		return &planarBlender{main: main, overlay: overlay, mode: mode, workers: workers}, nil
	case !md.Planar && !od.Planar:
		return &packedBlender{main: main, overlay: overlay, mode: mode, workers: workers}, nil
	default:
		return nil, fmt.Errorf("blend: cannot blend %s over %s", overlay, main)
	}
}

func div255(x int) int {
	return ((x + 128) * 257) >> 16
}

func clampByte(v int) byte {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return byte(v)
}

// rows splits [y0, y1) into at most workers contiguous ranges and runs fn
// on each concurrently.
func rows(y0, y1, workers int, fn func(r0, r1 int)) error {
	n := y1 - y0
	if limit := n / minRowsPerWorker; workers > limit {
		workers = limit
	}
	if workers <= 1 {
		fn(y0, y1)
		return nil
	}
	var g errgroup.Group
	chunk := (n + workers - 1) / workers
	for r0 := y0; r0 < y1; r0 += chunk {
		r0, r1 := r0, min(r0+chunk, y1)
		g.Go(func() error {
			fn(r0, r1)
			return nil
		})
	}
	return g.Wait()
}

func checkFormats(dst, src *frame.Frame, main, overlay frame.PixelFormat) error {
	if dst.Format != main || src.Format != overlay {
		return fmt.Errorf("blend: got %s over %s, configured for %s over %s", src.Format, dst.Format, overlay, main)
	}
	if err := dst.Validate(); err != nil {
		return err
	}
	return src.Validate()
}

// planarBlender handles YUV mains with an optional overlay alpha plane.
type planarBlender struct {
	main, overlay frame.PixelFormat
	mode          Mode
	workers       int
}

func (b *planarBlender) Blend(dst, src *frame.Frame, x, y int) error {
	if err := checkFormats(dst, src, b.main, b.overlay); err != nil {
		return err
	}
	area, ok := geometry.Overlap(x, y, src.Width, src.Height, dst.Width, dst.Height)
	if !ok {
		return nil
	}

	md, od := b.main.Describe(), b.overlay.Describe()
	hs, vs := md.ShiftX, md.ShiftY

	dy, dys := dst.Plane(0)
	du, dcs := dst.Plane(1)
	dv, _ := dst.Plane(2)
	sy, sys := src.Plane(0)
	su, scs := src.Plane(1)
	sv, _ := src.Plane(2)

	var sa, da []byte
	var sas, das int
	if od.Alpha {
		sa, sas = src.Plane(od.AlphaAt)
	}
	if md.Alpha {
		da, das = dst.Plane(md.AlphaAt)
	}
	alphaAt := func(ox, oy int) int {
		if sa == nil {
			return 255
		}
		return int(sa[oy*sas+ox])
	}

	premult := b.mode == Premultiplied
	x0, x1 := area.X, area.X+area.Width
	y0, y1 := area.Y, area.Y+area.Height

	return rows(y0, y1, b.workers, func(r0, r1 int) {
		for my := r0; my < r1; my++ {
			oy := my - y
			for mx := x0; mx < x1; mx++ {
				ox := mx - x
				a := alphaAt(ox, oy)
				if a == 0 {
					continue
				}
				di := my*dys + mx
				s := int(sy[oy*sys+ox])
				if premult {
					dy[di] = clampByte(div255(int(dy[di])*(255-a)) + s)
				} else {
					dy[di] = byte(div255(int(dy[di])*(255-a) + s*a))
				}
				if da != nil {
					ai := my*das + mx
					da[ai] = clampByte(a + div255(int(da[ai])*(255-a)))
				}
			}
		}

		// each chroma row belongs to the range holding its first luma row
		for cy := y0 >> vs; cy <= (y1-1)>>vs; cy++ {
			ly := max(cy<<vs, y0)
			if ly < r0 || ly >= r1 {
				continue
			}
			oy := min(max(cy<<vs-y, 0), src.Height-1)
			ocy := oy >> vs
			for cx := x0 >> hs; cx <= (x1-1)>>hs; cx++ {
				ox := min(max(cx<<hs-x, 0), src.Width-1)
				ocx := ox >> hs
				a := alphaAt(ox, oy)
				if a == 0 {
					continue
				}
				di := cy*dcs + cx
				si := ocy*scs + ocx
				if premult {
					du[di] = clampByte(div255((int(du[di])-128)*(255-a)) + int(su[si]))
					dv[di] = clampByte(div255((int(dv[di])-128)*(255-a)) + int(sv[si]))
				} else {
					du[di] = byte(div255(int(du[di])*(255-a) + int(su[si])*a))
					dv[di] = byte(div255(int(dv[di])*(255-a) + int(sv[si])*a))
				}
			}
		}
	})
}

// packedBlender handles RGBA over RGBA.
type packedBlender struct {
	main, overlay frame.PixelFormat
	mode          Mode
	workers       int
}

func (b *packedBlender) Blend(dst, src *frame.Frame, x, y int) error {
	if err := checkFormats(dst, src, b.main, b.overlay); err != nil {
		return err
	}
	area, ok := geometry.Overlap(x, y, src.Width, src.Height, dst.Width, dst.Height)
	if !ok {
		return nil
	}

	dp, ds := dst.Plane(0)
	sp, ss := src.Plane(0)
	premult := b.mode == Premultiplied

	return rows(area.Y, area.Y+area.Height, b.workers, func(r0, r1 int) {
		for my := r0; my < r1; my++ {
			oy := my - y
			for mx := area.X; mx < area.X+area.Width; mx++ {
				si := oy*ss + (mx-x)*4
				di := my*ds + mx*4
				a := int(sp[si+3])
				if a == 0 {
					continue
				}
				for c := 0; c < 3; c++ {
					d, s := int(dp[di+c]), int(sp[si+c])
					if premult {
						dp[di+c] = clampByte(div255(d*(255-a)) + s)
					} else {
						dp[di+c] = byte(div255(d*(255-a) + s*a))
					}
				}
				dp[di+3] = clampByte(a + div255(int(dp[di+3])*(255-a)))
			}
		}
	})
}
