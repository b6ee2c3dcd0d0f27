// Package filesink provides a file-based debug sink implementation.
package filesink

import (
	"fmt"
	"image"
	"image/color"
	"path/filepath"

	"github.com/user/keyframes/pkg/ports"
)

var (
	cropColor    = color.NRGBA{G: 255, A: 255}
	overlayColor = color.NRGBA{R: 255, B: 255, A: 255}
)

// Sink saves debug output to files under a base directory:
//
//	annotations.json
//	config.json
//	frames/preview/frame-NNNN.png
//	frames/output/frame-NNNN.png
type Sink struct {
	baseDir  string
	fs       ports.FileSystem
	renderer ports.Renderer
}

// New creates a new FileSink.
func New(baseDir string, fs ports.FileSystem, renderer ports.Renderer) *Sink {
	return &Sink{
		baseDir:  baseDir,
		fs:       fs,
		renderer: renderer,
	}
}

// Enabled returns true as this sink saves output.
func (s *Sink) Enabled() bool {
	return true
}

// SaveAnnotationsJSON saves the loaded annotation records.
func (s *Sink) SaveAnnotationsJSON(data []byte) error {
	return s.fs.WriteFile(filepath.Join(s.baseDir, "annotations.json"), data)
}

// SaveConfigJSON saves the effective run configuration.
func (s *Sink) SaveConfigJSON(data []byte) error {
	return s.fs.WriteFile(filepath.Join(s.baseDir, "config.json"), data)
}

// SavePreview draws the crop rectangle in green and the overlay rectangle
// in magenta on a copy of img and saves it as PNG.
func (s *Sink) SavePreview(index int, img image.Image, boxes ports.PreviewBoxes) error {
	canvas := s.renderer.CreateCanvas(img)
	if boxes.HasOverlay {
		canvas.DrawRectStroke(boxes.OverlayX, boxes.OverlayY, boxes.OverlayW, boxes.OverlayH, overlayColor, 2)
	}
	canvas.DrawRectStroke(boxes.CropX, boxes.CropY, boxes.CropW, boxes.CropH, cropColor, 2)
	if boxes.Label != "" {
		canvas.DrawText(boxes.Label, boxes.CropX+4, boxes.CropY+10, cropColor)
	}
	return s.savePNG("preview", index, canvas.ToImage())
}

// SaveOutputFrame saves an emitted output frame.
func (s *Sink) SaveOutputFrame(index int, img image.Image) error {
	return s.savePNG("output", index, img)
}

func (s *Sink) savePNG(kind string, index int, img image.Image) error {
	data, err := s.renderer.EncodeImage(img, ports.FormatPNG, 0)
	if err != nil {
		return fmt.Errorf("encode %s frame %d: %w", kind, index, err)
	}
	path := filepath.Join(s.baseDir, "frames", kind, fmt.Sprintf("frame-%04d.png", index))
	return s.fs.WriteFile(path, data)
}

var _ ports.DebugSink = (*Sink)(nil)
