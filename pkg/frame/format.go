// Package frame provides planar and packed video frame buffers and the views
// that the pipeline stages operate on.
package frame

import "fmt"

// PixelFormat identifies the memory layout of a frame.
type PixelFormat int

const (
	// YUV420P is planar YUV with chroma halved in both directions.
	YUV420P PixelFormat = iota
	// YUVA420P is YUV420P with a full resolution alpha plane.
	YUVA420P
	// YUV422P is planar YUV with chroma halved horizontally.
	YUV422P
	// YUV444P is planar YUV without chroma subsampling.
	YUV444P
	// RGBA is packed 8-bit RGBA.
	RGBA
)

// Descriptor describes the plane layout of a pixel format.
type Descriptor struct {
	Name    string
	Planes  int
	ShiftX  int    // log2 horizontal chroma subsampling
	ShiftY  int    // log2 vertical chroma subsampling
	Step    [4]int // bytes per pixel in each plane
	Alpha   bool
	Planar  bool
	AlphaAt int // plane index of alpha for planar formats, byte offset for packed
}

var descriptors = map[PixelFormat]Descriptor{
	YUV420P:  {Name: "yuv420p", Planes: 3, ShiftX: 1, ShiftY: 1, Step: [4]int{1, 1, 1, 0}, Planar: true},
	YUVA420P: {Name: "yuva420p", Planes: 4, ShiftX: 1, ShiftY: 1, Step: [4]int{1, 1, 1, 1}, Alpha: true, Planar: true, AlphaAt: 3},
	YUV422P:  {Name: "yuv422p", Planes: 3, ShiftX: 1, ShiftY: 0, Step: [4]int{1, 1, 1, 0}, Planar: true},
	YUV444P:  {Name: "yuv444p", Planes: 3, Step: [4]int{1, 1, 1, 0}, Planar: true},
	RGBA:     {Name: "rgba", Planes: 1, Step: [4]int{4, 0, 0, 0}, Alpha: true, AlphaAt: 3},
}

// Describe returns the descriptor for the format.
func (p PixelFormat) Describe() Descriptor {
	d, ok := descriptors[p]
	if !ok {
		return Descriptor{Name: "unknown"}
	}
	return d
}

// String returns the ffmpeg style name of the format.
func (p PixelFormat) String() string {
	return p.Describe().Name
}

// MarshalText implements encoding.TextMarshaler.
func (p PixelFormat) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePixelFormat parses an ffmpeg style pixel format name.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for f, d := range descriptors {
		if d.Name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("frame: unsupported pixel format %q", s)
}

// planeSize returns the width and height of plane i for a w x h frame.
func (d Descriptor) planeSize(i, w, h int) (int, int) {
	if !d.Planar || i == 0 || (d.Alpha && i == d.AlphaAt) {
		return w, h
	}
	// chroma dimensions round up
	return -((-w) >> d.ShiftX), -((-h) >> d.ShiftY)
}

// PlaneSize returns the width and height in pixels of plane i.
func (d Descriptor) PlaneSize(i, w, h int) (int, int) {
	return d.planeSize(i, w, h)
}
