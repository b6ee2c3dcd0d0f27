package blend

import (
	"image/color"
	"testing"

	"github.com/user/keyframes/pkg/frame"
)

func TestDiv255(t *testing.T) {
	for x := 0; x <= 255*255; x += 17 {
		want := (x + 127) / 255
		got := div255(x)
		if got < want-1 || got > want+1 {
			t.Fatalf("div255(%d) = %d, want about %d", x, got, want)
		}
	}
	if div255(255*255) != 255 {
		t.Errorf("div255(255*255) = %d", div255(255*255))
	}
}

func TestForFormats(t *testing.T) {
	tests := []struct {
		main, overlay frame.PixelFormat
		wantErr       bool
	}{
		{frame.YUV420P, frame.YUVA420P, false},
		{frame.YUV420P, frame.YUV420P, false},
		{frame.YUVA420P, frame.YUVA420P, false},
		{frame.YUV444P, frame.YUV444P, false},
		{frame.RGBA, frame.RGBA, false},
		{frame.YUV420P, frame.YUV444P, true},
		{frame.YUV420P, frame.RGBA, true},
		{frame.RGBA, frame.YUVA420P, true},
	}
	for _, tt := range tests {
		_, err := ForFormats(tt.main, tt.overlay, Straight, 2)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s over %s: err=%v, wantErr=%v", tt.overlay, tt.main, err, tt.wantErr)
		}
	}
}

func TestPlanarBlend_OpaqueAndTransparent(t *testing.T) {
	alloc := frame.NewHeapAllocator()
	main, _ := alloc.Alloc(frame.YUV420P, 64, 64)
	over, _ := alloc.Alloc(frame.YUVA420P, 16, 16)
	defer main.Release()
	defer over.Release()

	main.Fill(color.NRGBA{R: 0, G: 0, B: 0, A: 255})
	over.Fill(color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	// right half of the overlay is fully transparent
	for y := 0; y < 16; y++ {
		for x := 8; x < 16; x++ {
			over.Set(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 0})
		}
	}

	b, err := ForFormats(frame.YUV420P, frame.YUVA420P, Straight, 4)
	if err != nil {
		t.Fatalf("ForFormats failed: %v", err)
	}
	before := main.Sample(30, 30)
	if err := b.Blend(main, over, 20, 20); err != nil {
		t.Fatalf("Blend failed: %v", err)
	}

	if got, want := main.Sample(22, 22)[0], over.Sample(2, 2)[0]; got != want {
		t.Errorf("opaque pixel luma = %d, want %d", got, want)
	}
	if main.Sample(30, 30) != before {
		t.Errorf("transparent pixel changed from %v to %v", before, main.Sample(30, 30))
	}
	if main.Sample(19, 19) != before {
		t.Error("pixel outside overlay changed")
	}
}

func TestPlanarBlend_NoAlphaPlaneIsOpaque(t *testing.T) {
	alloc := frame.NewHeapAllocator()
	main, _ := alloc.Alloc(frame.YUV444P, 8, 8)
	over, _ := alloc.Alloc(frame.YUV444P, 8, 8)
	defer main.Release()
	defer over.Release()

	for i := 0; i < 3; i++ {
		for y := 0; y < 8; y++ {
			for x, row := 0, main.Row(i, y); x < len(row); x++ {
				row[x] = 0
			}
			for x, row := 0, over.Row(i, y); x < len(row); x++ {
				row[x] = 200
			}
		}
	}

	b, _ := ForFormats(frame.YUV444P, frame.YUV444P, Straight, 1)
	if err := b.Blend(main, over, 0, 0); err != nil {
		t.Fatalf("Blend failed: %v", err)
	}
	// no alpha plane means opaque
	if s := main.Sample(4, 4); s[0] != 200 || s[1] != 200 || s[2] != 200 {
		t.Errorf("expected opaque copy, got %v", s)
	}
}

func TestBlend_ClipsOffFrame(t *testing.T) {
	alloc := frame.NewHeapAllocator()
	main, _ := alloc.Alloc(frame.RGBA, 32, 32)
	over, _ := alloc.Alloc(frame.RGBA, 16, 16)
	defer main.Release()
	defer over.Release()
	main.Fill(color.NRGBA{A: 255})
	over.Fill(color.NRGBA{R: 255, A: 255})

	b, _ := ForFormats(frame.RGBA, frame.RGBA, Straight, 2)

	// partially off the top-left corner
	if err := b.Blend(main, over, -8, -8); err != nil {
		t.Fatalf("Blend failed: %v", err)
	}
	if main.At(0, 0).R != 255 || main.At(7, 7).R != 255 {
		t.Error("visible part of overlay not blended")
	}
	if main.At(8, 8).R != 0 {
		t.Error("blended outside overlay")
	}

	// fully off frame
	if err := b.Blend(main, over, 100, 100); err != nil {
		t.Fatalf("Blend off frame failed: %v", err)
	}
	// partially off the bottom-right corner
	if err := b.Blend(main, over, 24, 24); err != nil {
		t.Fatalf("Blend failed: %v", err)
	}
	if main.At(31, 31).R != 255 {
		t.Error("bottom-right overlap not blended")
	}
}

func TestPackedBlend_Premultiplied(t *testing.T) {
	alloc := frame.NewHeapAllocator()
	main, _ := alloc.Alloc(frame.RGBA, 4, 4)
	over, _ := alloc.Alloc(frame.RGBA, 4, 4)
	defer main.Release()
	defer over.Release()
	main.Fill(color.NRGBA{R: 200, G: 200, B: 200, A: 255})
	// premultiplied half-transparent red
	over.Fill(color.NRGBA{R: 128, G: 0, B: 0, A: 128})

	b, _ := ForFormats(frame.RGBA, frame.RGBA, Premultiplied, 1)
	if err := b.Blend(main, over, 0, 0); err != nil {
		t.Fatalf("Blend failed: %v", err)
	}
	got := main.At(1, 1)
	// 200*(127/255) + 128 ~= 228 for red, 200*(127/255) ~= 100 for green
	if got.R < 226 || got.R > 230 || got.G < 98 || got.G > 101 {
		t.Errorf("unexpected premultiplied result %v", got)
	}
}

func TestPlanarBlend_ManyWorkersMatchesOne(t *testing.T) {
	alloc := frame.NewHeapAllocator()
	mk := func() *frame.Frame {
		f, _ := alloc.Alloc(frame.YUV420P, 128, 128)
		for y := 0; y < 128; y++ {
			for x := 0; x < 128; x++ {
				f.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x + y), A: 255})
			}
		}
		return f
	}
	over, _ := alloc.Alloc(frame.YUVA420P, 100, 90)
	for y := 0; y < 90; y++ {
		for x := 0; x < 100; x++ {
			over.Set(x, y, color.NRGBA{R: 255, G: uint8(x * 2), B: 0, A: uint8(y * 2)})
		}
	}
	a, b := mk(), mk()
	one, _ := ForFormats(frame.YUV420P, frame.YUVA420P, Straight, 1)
	many, _ := ForFormats(frame.YUV420P, frame.YUVA420P, Straight, 8)
	if err := one.Blend(a, over, 13, 7); err != nil {
		t.Fatal(err)
	}
	if err := many.Blend(b, over, 13, 7); err != nil {
		t.Fatal(err)
	}
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			if a.Sample(x, y) != b.Sample(x, y) {
				t.Fatalf("results differ at (%d,%d): %v vs %v", x, y, a.Sample(x, y), b.Sample(x, y))
			}
		}
	}
	a.Release()
	b.Release()
	over.Release()
}
