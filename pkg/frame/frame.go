package frame

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrAllocation is returned when a frame buffer cannot be allocated.
	ErrAllocation = errors.New("frame: allocation failed")

	// ErrReleased is returned when a released frame is accessed.
	ErrReleased = errors.New("frame: use of released frame")
)

// Rational is a time base such as 1/25.
type Rational struct {
	Num int
	Den int
}

// Seconds converts a timestamp in this time base to seconds.
func (r Rational) Seconds(ts int64) float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(ts) * float64(r.Num) / float64(r.Den)
}

// Plane is one memory plane of a buffer.
type Plane struct {
	Data   []byte
	Stride int
}

// Buffer is an owned, reference counted allocation shared by frame views.
type Buffer struct {
	planes [4]Plane
	refs   atomic.Int32
	free   func(*Buffer)
}

// Size returns the number of bytes held by the buffer.
func (b *Buffer) Size() int {
	n := 0
	for _, p := range b.planes {
		n += len(p.Data)
	}
	return n
}

func (b *Buffer) retain() {
	b.refs.Add(1)
}

func (b *Buffer) release() {
	if b.refs.Add(-1) == 0 && b.free != nil {
		b.free(b)
	}
}

// Frame is a view into a Buffer. Several frames may share one buffer; the
// buffer is freed when the last view is released.
type Frame struct {
	Format PixelFormat
	Width  int
	Height int

	PTS          int64
	DTS          int64
	BestEffortTS int64
	Duration     int64
	TimeBase     Rational

	buf      *Buffer
	off      [4]int
	released bool
}

// NewBuffer wraps caller owned planes into a frame. The free callback, if
// not nil, runs when the last view of the buffer is released.
func NewBuffer(format PixelFormat, w, h int, planes []Plane, free func(*Buffer)) *Frame {
	b := &Buffer{free: free}
	copy(b.planes[:], planes)
	b.refs.Store(1)
	return &Frame{Format: format, Width: w, Height: h, buf: b}
}

// Buffer returns the underlying allocation.
func (f *Frame) Buffer() *Buffer {
	return f.buf
}

// Released reports whether Release has been called on this view.
func (f *Frame) Released() bool {
	return f.released
}

// Plane returns the data of plane i starting at the view origin, and its
// stride.
func (f *Frame) Plane(i int) ([]byte, int) {
	p := f.buf.planes[i]
	if p.Data == nil {
		return nil, 0
	}
	return p.Data[f.off[i]:], p.Stride
}

// Offset returns the byte offset of the view origin within plane i.
func (f *Frame) Offset(i int) int {
	return f.off[i]
}

// HasPlane reports whether plane i is backed by memory.
func (f *Frame) HasPlane(i int) bool {
	return i >= 0 && i < 4 && f.buf.planes[i].Data != nil
}

// Row returns the bytes of row y of plane i, limited to the view width.
func (f *Frame) Row(i, y int) []byte {
	d := f.Format.Describe()
	pw, _ := d.planeSize(i, f.Width, f.Height)
	data, stride := f.Plane(i)
	start := y * stride
	return data[start : start+pw*d.Step[i]]
}

// View returns a new view of the same buffer with identical geometry and
// timing. The caller must release it independently.
func (f *Frame) View() *Frame {
	v := *f
	v.released = false
	f.buf.retain()
	return &v
}

// Advance moves the origin of plane i by n bytes.
func (f *Frame) Advance(i, n int) {
	f.off[i] += n
}

// CopyProps copies timing metadata from src.
func (f *Frame) CopyProps(src *Frame) {
	f.PTS = src.PTS
	f.DTS = src.DTS
	f.Duration = src.Duration
	f.TimeBase = src.TimeBase
}

// Release drops this view's reference to the buffer. Releasing twice is a
// no-op.
func (f *Frame) Release() {
	if f == nil || f.released {
		return
	}
	f.released = true
	f.buf.release()
}

// Validate checks that the view fits inside its buffer.
func (f *Frame) Validate() error {
	if f.released {
		return ErrReleased
	}
	d := f.Format.Describe()
	for i := 0; i < d.Planes; i++ {
		p := f.buf.planes[i]
		if p.Data == nil {
			continue
		}
		pw, ph := d.planeSize(i, f.Width, f.Height)
		if ph == 0 || pw == 0 {
			continue
		}
		need := f.off[i] + (ph-1)*p.Stride + pw*d.Step[i]
		if f.off[i] < 0 || need > len(p.Data) {
			return fmt.Errorf("frame: plane %d view %dx%d at offset %d exceeds buffer of %d bytes",
				i, pw, ph, f.off[i], len(p.Data))
		}
	}
	return nil
}

// String returns a short description for logs.
func (f *Frame) String() string {
	return fmt.Sprintf("%dx%d %s pts=%d", f.Width, f.Height, f.Format, f.PTS)
}
