package ports

import (
	"image"
)

// PreviewBoxes are the rectangles drawn on a debug preview, in main frame
// coordinates.
type PreviewBoxes struct {
	CropX, CropY, CropW, CropH             int
	OverlayX, OverlayY, OverlayW, OverlayH int
	HasOverlay                             bool
	Label                                  string
}

// DebugSink abstracts debug output for intermediate results.
type DebugSink interface {
	// Enabled returns true if debug output is enabled.
	Enabled() bool

	// SaveAnnotationsJSON saves the loaded annotation records as JSON.
	SaveAnnotationsJSON(data []byte) error

	// SaveConfigJSON saves the effective run configuration as JSON.
	SaveConfigJSON(data []byte) error

	// SavePreview saves the composited main frame of output frame index,
	// before cropping, with the crop and overlay boxes drawn on it.
	SavePreview(index int, img image.Image, boxes PreviewBoxes) error

	// SaveOutputFrame saves an emitted output frame.
	SaveOutputFrame(index int, img image.Image) error
}
