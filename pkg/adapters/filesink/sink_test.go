package filesink

import (
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/user/keyframes/pkg/mocks"
	"github.com/user/keyframes/pkg/ports"
)

var testBaseDir = filepath.Join("debug")

func TestSink_Enabled(t *testing.T) {
	sink := New(testBaseDir, mocks.NewFileSystem(), &mocks.Renderer{})
	if !sink.Enabled() {
		t.Error("expected Enabled to return true")
	}
}

func TestSink_SaveJSON(t *testing.T) {
	tests := []struct {
		name string
		save func(*Sink, []byte) error
		file string
	}{
		{"annotations", (*Sink).SaveAnnotationsJSON, "annotations.json"},
		{"config", (*Sink).SaveConfigJSON, "config.json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := mocks.NewFileSystem()
			sink := New(testBaseDir, fs, &mocks.Renderer{})
			data := []byte(`{"test": true}`)
			if err := tt.save(sink, data); err != nil {
				t.Fatalf("save failed: %v", err)
			}
			saved, ok := fs.GetFile(filepath.Join(testBaseDir, tt.file))
			if !ok {
				t.Fatalf("expected %s to be saved", tt.file)
			}
			if string(saved) != string(data) {
				t.Errorf("expected %q, got %q", data, saved)
			}
		})
	}
}

func TestSink_SavePreview(t *testing.T) {
	fs := mocks.NewFileSystem()
	var canvas *mocks.Canvas
	renderer := &mocks.Renderer{}
	renderer.CreateCanvasFunc = func(img image.Image) ports.Canvas {
		canvas = &mocks.Canvas{}
		return canvas
	}
	renderer.EncodeImageFunc = func(img image.Image, format ports.ImageFormat, quality int) ([]byte, error) {
		if format != ports.FormatPNG {
			t.Errorf("expected PNG, got %d", format)
		}
		return []byte("png"), nil
	}
	sink := New(testBaseDir, fs, renderer)

	boxes := ports.PreviewBoxes{
		CropX: 10, CropY: 20, CropW: 100, CropH: 50,
		OverlayX: 30, OverlayY: 40, OverlayW: 16, OverlayH: 8,
		HasOverlay: true,
		Label:      "car 0.90",
	}
	if err := sink.SavePreview(7, image.NewRGBA(image.Rect(0, 0, 200, 100)), boxes); err != nil {
		t.Fatalf("SavePreview failed: %v", err)
	}

	if len(canvas.Rects) != 2 {
		t.Fatalf("expected 2 rectangles, got %d", len(canvas.Rects))
	}
	if r := canvas.Rects[0]; r.X != 30 || r.Y != 40 || r.W != 16 || r.H != 8 || r.Color != overlayColor {
		t.Errorf("unexpected overlay box %+v", r)
	}
	if r := canvas.Rects[1]; r.X != 10 || r.Y != 20 || r.W != 100 || r.H != 50 || r.Color != cropColor {
		t.Errorf("unexpected crop box %+v", r)
	}
	if len(canvas.Texts) != 1 || canvas.Texts[0] != "car 0.90" {
		t.Errorf("unexpected texts %v", canvas.Texts)
	}
	if _, ok := fs.GetFile(filepath.Join(testBaseDir, "frames", "preview", "frame-0007.png")); !ok {
		t.Error("expected preview file")
	}
}

func TestSink_SavePreviewWithoutOverlay(t *testing.T) {
	var canvas *mocks.Canvas
	renderer := &mocks.Renderer{
		CreateCanvasFunc: func(img image.Image) ports.Canvas {
			canvas = &mocks.Canvas{}
			return canvas
		},
	}
	sink := New(testBaseDir, mocks.NewFileSystem(), renderer)
	if err := sink.SavePreview(0, image.NewRGBA(image.Rect(0, 0, 8, 8)), ports.PreviewBoxes{CropW: 8, CropH: 8}); err != nil {
		t.Fatalf("SavePreview failed: %v", err)
	}
	if len(canvas.Rects) != 1 || len(canvas.Texts) != 0 {
		t.Errorf("expected only the crop box, got %d rects %d texts", len(canvas.Rects), len(canvas.Texts))
	}
}

func TestSink_SaveOutputFrame(t *testing.T) {
	fs := mocks.NewFileSystem()
	sink := New(testBaseDir, fs, &mocks.Renderer{})
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.White)

	if err := sink.SaveOutputFrame(12, img); err != nil {
		t.Fatalf("SaveOutputFrame failed: %v", err)
	}
	if _, ok := fs.GetFile(filepath.Join(testBaseDir, "frames", "output", "frame-0012.png")); !ok {
		t.Error("expected output frame file")
	}
}

func TestSink_EncodeError(t *testing.T) {
	encErr := errors.New("encode failed")
	renderer := &mocks.Renderer{
		EncodeImageFunc: func(img image.Image, format ports.ImageFormat, quality int) ([]byte, error) {
			return nil, encErr
		},
	}
	fs := mocks.NewFileSystem()
	sink := New(testBaseDir, fs, renderer)
	if err := sink.SaveOutputFrame(0, image.NewRGBA(image.Rect(0, 0, 1, 1))); !errors.Is(err, encErr) {
		t.Errorf("expected wrapped encode error, got %v", err)
	}
	if len(fs.GetAllFiles()) != 0 {
		t.Error("expected no files on encode error")
	}
}
