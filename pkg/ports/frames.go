package ports

import (
	"context"

	"github.com/user/keyframes/pkg/frame"
)

// FrameSource produces decoded frames in presentation order.
type FrameSource interface {
	// ReadFrame returns the next frame. It returns io.EOF once the stream
	// has ended. Other errors may be transient; the source stays usable.
	ReadFrame(ctx context.Context) (*frame.Frame, error)

	// Close stops the source and releases its resources.
	Close() error
}

// FrameSink consumes output frames. WriteFrame takes ownership of f.
type FrameSink interface {
	WriteFrame(ctx context.Context, f *frame.Frame) error

	// Close flushes pending output.
	Close() error
}

// Resampler fills dst from src, interpolating between their sizes. Both
// frames share a pixel format.
type Resampler interface {
	Resample(dst, src *frame.Frame) error
}

// StreamInfo describes the video stream of a media file.
type StreamInfo struct {
	Width      int
	Height     int
	Timescale  uint32
	FrameCount int
	Duration   int64 // in Timescale units
	Codec      string
}

// Prober reads stream properties from a media file.
type Prober interface {
	Probe(path string) (StreamInfo, error)
}
