package mocks

import (
	"context"
	"io"
	"sync"

	"github.com/user/keyframes/pkg/frame"
	"github.com/user/keyframes/pkg/ports"
)

// FrameSource is a mock implementation of ports.FrameSource that replays
// a fixed list of frames.
type FrameSource struct {
	mu     sync.Mutex
	frames []*frame.Frame
	next   int
	calls  int

	// ErrorAt makes the call with the given number (starting at 0) fail
	// with the error without consuming a frame.
	ErrorAt       map[int]error
	ReadFrameFunc func(ctx context.Context) (*frame.Frame, error)
	CloseFunc     func() error
	Closed        bool
}

// NewFrameSource creates a source that returns frames in order and then
// io.EOF.
func NewFrameSource(frames ...*frame.Frame) *FrameSource {
	return &FrameSource{frames: frames}
}

func (m *FrameSource) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	if m.ReadFrameFunc != nil {
		return m.ReadFrameFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.calls
	m.calls++
	if err, ok := m.ErrorAt[call]; ok {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.next >= len(m.frames) {
		return nil, io.EOF
	}
	f := m.frames[m.next]
	m.next++
	return f, nil
}

func (m *FrameSource) Close() error {
	m.mu.Lock()
	m.Closed = true
	m.mu.Unlock()
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Remaining returns the frames that were never read.
func (m *FrameSource) Remaining() []*frame.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames[m.next:]
}

var _ ports.FrameSource = (*FrameSource)(nil)

// FrameSink is a mock implementation of ports.FrameSink that keeps every
// frame written to it.
type FrameSink struct {
	mu     sync.Mutex
	Frames []*frame.Frame

	WriteFrameFunc func(ctx context.Context, f *frame.Frame) error
	Closed         bool
}

// NewFrameSink creates an empty sink.
func NewFrameSink() *FrameSink {
	return &FrameSink{}
}

func (m *FrameSink) WriteFrame(ctx context.Context, f *frame.Frame) error {
	if m.WriteFrameFunc != nil {
		return m.WriteFrameFunc(ctx, f)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Frames = append(m.Frames, f)
	return nil
}

func (m *FrameSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// ReleaseAll releases every frame held by the sink.
func (m *FrameSink) ReleaseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.Frames {
		f.Release()
	}
}

var _ ports.FrameSink = (*FrameSink)(nil)

// Resampler is a mock implementation of ports.Resampler. Without a
// ResampleFunc it fills dst with nearest-neighbour samples of src.
type Resampler struct {
	ResampleFunc func(dst, src *frame.Frame) error
	Calls        int
}

func (m *Resampler) Resample(dst, src *frame.Frame) error {
	m.Calls++
	if m.ResampleFunc != nil {
		return m.ResampleFunc(dst, src)
	}
	for y := 0; y < dst.Height; y++ {
		for x := 0; x < dst.Width; x++ {
			dst.Set(x, y, src.At(x*src.Width/dst.Width, y*src.Height/dst.Height))
		}
	}
	return nil
}

var _ ports.Resampler = (*Resampler)(nil)
