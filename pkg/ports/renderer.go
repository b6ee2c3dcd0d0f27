package ports

import (
	"image"
	"image/color"
)

// Renderer abstracts image codecs and the drawing used for debug previews.
type Renderer interface {
	// CreateCanvas creates a drawing canvas initialised with img.
	CreateCanvas(img image.Image) Canvas

	// DecodeImage decodes image data into an image.Image.
	DecodeImage(data []byte, format ImageFormat) (image.Image, error)

	// EncodeImage encodes an image to the specified format.
	EncodeImage(img image.Image, format ImageFormat, quality int) ([]byte, error)
}

// Canvas provides the drawing operations used to annotate preview frames.
type Canvas interface {
	// DrawRectStroke draws a rectangle outline.
	DrawRectStroke(x, y, w, h int, c color.Color, strokeWidth float64)

	// DrawText draws text with its left edge at x, vertically centred on y.
	DrawText(text string, x, y int, c color.Color)

	// ToImage returns the canvas as an image.Image.
	ToImage() image.Image
}

// ImageFormat specifies image encoding format.
type ImageFormat int

const (
	FormatJPEG ImageFormat = iota
	FormatPNG
	FormatAuto
)
