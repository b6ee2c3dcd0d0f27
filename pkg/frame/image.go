package frame

import (
	"fmt"
	"image"
	"image/color"
)

// ToImage returns an image.Image that shares memory with the view.
func (f *Frame) ToImage() (image.Image, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	rect := image.Rect(0, 0, f.Width, f.Height)

	if f.Format == RGBA {
		pix, stride := f.Plane(0)
		return &image.RGBA{Pix: pix, Stride: stride, Rect: rect}, nil
	}

	ratio, err := subsampleRatio(f.Format)
	if err != nil {
		return nil, err
	}
	y, ys := f.Plane(0)
	cb, cs := f.Plane(1)
	cr, _ := f.Plane(2)
	ycc := image.YCbCr{Y: y, Cb: cb, Cr: cr, YStride: ys, CStride: cs, SubsampleRatio: ratio, Rect: rect}

	if f.Format == YUVA420P {
		a, as := f.Plane(3)
		return &image.NYCbCrA{YCbCr: ycc, A: a, AStride: as}, nil
	}
	return &ycc, nil
}

// FromImage converts img into a newly allocated frame of the given format.
func FromImage(img image.Image, format PixelFormat, alloc Allocator) (*Frame, error) {
	b := img.Bounds()
	f, err := alloc.Alloc(format, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	// chroma keeps the sample of the top-left pixel of each block
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			f.Set(x, y, c)
		}
	}
	return f, nil
}

// Set writes a straight-alpha colour at (x, y). For subsampled formats the
// chroma sample of the containing block is overwritten.
func (f *Frame) Set(x, y int, c color.NRGBA) {
	d := f.Format.Describe()
	if !d.Planar {
		pix, stride := f.Plane(0)
		i := y*stride + x*4
		pix[i], pix[i+1], pix[i+2], pix[i+3] = c.R, c.G, c.B, c.A
		return
	}
	yy, cb, cr := color.RGBToYCbCr(c.R, c.G, c.B)
	luma, ls := f.Plane(0)
	luma[y*ls+x] = yy
	if x&((1<<d.ShiftX)-1) == 0 && y&((1<<d.ShiftY)-1) == 0 {
		u, us := f.Plane(1)
		v, _ := f.Plane(2)
		ci := (y>>d.ShiftY)*us + (x >> d.ShiftX)
		u[ci] = cb
		v[ci] = cr
	}
	if d.Alpha {
		a, as := f.Plane(d.AlphaAt)
		a[y*as+x] = c.A
	}
}

// At returns the straight-alpha colour at (x, y).
func (f *Frame) At(x, y int) color.NRGBA {
	d := f.Format.Describe()
	if !d.Planar {
		pix, stride := f.Plane(0)
		i := y*stride + x*4
		return color.NRGBA{R: pix[i], G: pix[i+1], B: pix[i+2], A: pix[i+3]}
	}
	luma, ls := f.Plane(0)
	u, us := f.Plane(1)
	v, _ := f.Plane(2)
	ci := (y>>d.ShiftY)*us + (x >> d.ShiftX)
	r, g, b := color.YCbCrToRGB(luma[y*ls+x], u[ci], v[ci])
	a := uint8(255)
	if d.Alpha {
		ap, as := f.Plane(d.AlphaAt)
		a = ap[y*as+x]
	}
	return color.NRGBA{R: r, G: g, B: b, A: a}
}

// Sample returns the raw bytes of every plane at (x, y), chroma planes
// sampled at the subsampled position. It is used to compare frames without
// colour conversion.
func (f *Frame) Sample(x, y int) [4]byte {
	var s [4]byte
	d := f.Format.Describe()
	if !d.Planar {
		pix, stride := f.Plane(0)
		copy(s[:], pix[y*stride+x*4:])
		return s
	}
	for i := 0; i < d.Planes; i++ {
		data, stride := f.Plane(i)
		px, py := x, y
		if i == 1 || i == 2 {
			px, py = x>>d.ShiftX, y>>d.ShiftY
		}
		s[i] = data[py*stride+px]
	}
	return s
}

// Fill paints the whole view with one colour.
func (f *Frame) Fill(c color.NRGBA) {
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			f.Set(x, y, c)
		}
	}
}

func subsampleRatio(p PixelFormat) (image.YCbCrSubsampleRatio, error) {
	switch p {
	case YUV420P, YUVA420P:
		return image.YCbCrSubsampleRatio420, nil
	case YUV422P:
		return image.YCbCrSubsampleRatio422, nil
	case YUV444P:
		return image.YCbCrSubsampleRatio444, nil
	default:
		return 0, fmt.Errorf("frame: no YCbCr layout for %s", p)
	}
}
