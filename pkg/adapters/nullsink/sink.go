// Package nullsink provides a no-op debug sink implementation.
package nullsink

import (
	"image"

	"github.com/user/keyframes/pkg/ports"
)

// Sink discards all debug output.
type Sink struct{}

// New creates a new NullSink.
func New() *Sink {
	return &Sink{}
}

// Enabled returns false, so callers can skip building debug data.
func (s *Sink) Enabled() bool {
	return false
}

func (s *Sink) SaveAnnotationsJSON(data []byte) error { return nil }

func (s *Sink) SaveConfigJSON(data []byte) error { return nil }

func (s *Sink) SavePreview(index int, img image.Image, boxes ports.PreviewBoxes) error {
	return nil
}

func (s *Sink) SaveOutputFrame(index int, img image.Image) error { return nil }

var _ ports.DebugSink = (*Sink)(nil)
