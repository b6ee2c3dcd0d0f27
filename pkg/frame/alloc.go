package frame

import (
	"fmt"
	"sync/atomic"
)

// Allocator creates frame buffers.
type Allocator interface {
	// Alloc returns a new frame backed by a fresh buffer.
	Alloc(format PixelFormat, w, h int) (*Frame, error)
}

// HeapAllocator allocates buffers on the Go heap and tracks how many are
// alive. A non-zero Limit caps the total bytes held by live buffers.
type HeapAllocator struct {
	Limit int64

	live  atomic.Int64
	bytes atomic.Int64
}

// NewHeapAllocator creates an allocator without a byte limit.
func NewHeapAllocator() *HeapAllocator {
	return &HeapAllocator{}
}

// Alloc allocates a w x h frame. Strides are padded to 32 bytes.
func (a *HeapAllocator) Alloc(format PixelFormat, w, h int) (*Frame, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: invalid size %dx%d", ErrAllocation, w, h)
	}
	d := format.Describe()
	if d.Planes == 0 {
		return nil, fmt.Errorf("%w: unknown pixel format %d", ErrAllocation, format)
	}

	var planes [4]Plane
	total := 0
	for i := 0; i < d.Planes; i++ {
		pw, ph := d.planeSize(i, w, h)
		stride := align(pw*d.Step[i], 32)
		planes[i] = Plane{Stride: stride}
		total += stride * ph
	}

	if err := a.reserve(int64(total)); err != nil {
		return nil, err
	}

	for i := 0; i < d.Planes; i++ {
		_, ph := d.planeSize(i, w, h)
		planes[i].Data = make([]byte, planes[i].Stride*ph)
	}

	a.live.Add(1)
	f := NewBuffer(format, w, h, planes[:d.Planes], func(b *Buffer) {
		a.live.Add(-1)
		a.bytes.Add(-int64(b.Size()))
	})
	return f, nil
}

// reserve accounts n bytes against Limit. Concurrent callers cannot both
// take the last free bytes.
func (a *HeapAllocator) reserve(n int64) error {
	for {
		used := a.bytes.Load()
		if a.Limit > 0 && used > a.Limit-n {
			return fmt.Errorf("%w: %d bytes requested, %d of %d in use",
				ErrAllocation, n, used, a.Limit)
		}
		if a.bytes.CompareAndSwap(used, used+n) {
			return nil
		}
	}
}

// Live returns the number of buffers that have not been freed.
func (a *HeapAllocator) Live() int64 {
	return a.live.Load()
}

// InUse returns the number of bytes held by live buffers.
func (a *HeapAllocator) InUse() int64 {
	return a.bytes.Load()
}

func align(n, to int) int {
	return (n + to - 1) / to * to
}
