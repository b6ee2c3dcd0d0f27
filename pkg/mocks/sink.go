package mocks

import (
	"image"
	"sync"

	"github.com/user/keyframes/pkg/ports"
)

// Preview is one preview captured by DebugSink.
type Preview struct {
	Bounds image.Rectangle
	Boxes  ports.PreviewBoxes
}

// DebugSink is a mock implementation of ports.DebugSink. Images are not
// retained because they may share memory with frames that get released.
type DebugSink struct {
	mu sync.RWMutex

	enabled bool

	AnnotationsJSON []byte
	ConfigJSON      []byte
	Previews        map[int]Preview
	OutputFrames    map[int]image.Rectangle

	SavePreviewFunc func(index int, img image.Image, boxes ports.PreviewBoxes) error
}

// NewDebugSink creates a new mock DebugSink.
func NewDebugSink(enabled bool) *DebugSink {
	return &DebugSink{
		enabled:      enabled,
		Previews:     make(map[int]Preview),
		OutputFrames: make(map[int]image.Rectangle),
	}
}

func (m *DebugSink) Enabled() bool {
	return m.enabled
}

func (m *DebugSink) SaveAnnotationsJSON(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AnnotationsJSON = data
	return nil
}

func (m *DebugSink) SaveConfigJSON(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConfigJSON = data
	return nil
}

func (m *DebugSink) SavePreview(index int, img image.Image, boxes ports.PreviewBoxes) error {
	if m.SavePreviewFunc != nil {
		return m.SavePreviewFunc(index, img, boxes)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Previews[index] = Preview{Bounds: img.Bounds(), Boxes: boxes}
	return nil
}

func (m *DebugSink) SaveOutputFrame(index int, img image.Image) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OutputFrames[index] = img.Bounds()
	return nil
}

// Preview returns the preview saved for index.
func (m *DebugSink) Preview(index int) (Preview, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.Previews[index]
	return p, ok
}

var _ ports.DebugSink = (*DebugSink)(nil)

// NullSink is a no-op implementation of ports.DebugSink.
type NullSink struct{}

func (m *NullSink) Enabled() bool                         { return false }
func (m *NullSink) SaveAnnotationsJSON(data []byte) error { return nil }
func (m *NullSink) SaveConfigJSON(data []byte) error      { return nil }
func (m *NullSink) SavePreview(index int, img image.Image, boxes ports.PreviewBoxes) error {
	return nil
}
func (m *NullSink) SaveOutputFrame(index int, img image.Image) error { return nil }

var _ ports.DebugSink = (*NullSink)(nil)
