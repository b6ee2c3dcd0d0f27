package geometry

import (
	"errors"
	"math"
	"testing"
)

func TestClamp(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		fw, fh  int
		sx, sy  int
		exact   bool
		want    Rect
		wantErr bool
	}{
		{
			name: "inside frame",
			req:  Request{X: 10, Y: 10, Width: 100, Height: 100},
			fw:   200, fh: 200, sx: 1, sy: 1,
			want: Rect{X: 10, Y: 10, Width: 100, Height: 100},
		},
		{
			name: "negative origin",
			req:  Request{X: -5, Y: -7, Width: 50, Height: 50},
			fw:   200, fh: 200, sx: 1, sy: 1,
			want: Rect{X: 0, Y: 0, Width: 50, Height: 50},
		},
		{
			name: "past right and bottom edge",
			req:  Request{X: 180, Y: 190, Width: 50, Height: 40},
			fw:   200, fh: 200, sx: 1, sy: 1,
			want: Rect{X: 150, Y: 160, Width: 50, Height: 40},
		},
		{
			name: "odd origin aligned down",
			req:  Request{X: 11, Y: 13, Width: 20, Height: 20},
			fw:   200, fh: 200, sx: 1, sy: 1,
			want: Rect{X: 10, Y: 12, Width: 20, Height: 20},
		},
		{
			name: "odd origin kept when exact",
			req:  Request{X: 11, Y: 13, Width: 20, Height: 20},
			fw:   200, fh: 200, sx: 1, sy: 1, exact: true,
			want: Rect{X: 11, Y: 13, Width: 20, Height: 20},
		},
		{
			name: "422 aligns x only",
			req:  Request{X: 11, Y: 13, Width: 20, Height: 20},
			fw:   200, fh: 200, sx: 1, sy: 0,
			want: Rect{X: 10, Y: 13, Width: 20, Height: 20},
		},
		{
			name: "full frame",
			req:  Request{X: 0, Y: 0, Width: 200, Height: 100},
			fw:   200, fh: 100, sx: 1, sy: 1,
			want: Rect{X: 0, Y: 0, Width: 200, Height: 100},
		},
		{
			name: "wider than frame",
			req:  Request{X: 0, Y: 0, Width: 300, Height: 100},
			fw:   200, fh: 200, sx: 1, sy: 1,
			wantErr: true,
		},
		{
			name: "taller than frame",
			req:  Request{X: 0, Y: 0, Width: 100, Height: 300},
			fw:   200, fh: 200, sx: 1, sy: 1,
			wantErr: true,
		},
		{
			name: "huge origin and width do not wrap",
			req:  Request{X: 9_200_000_000_000_000_000, Y: 0, Width: 9_200_000_000_000_000_000, Height: 10},
			fw:   200, fh: 200, sx: 1, sy: 1,
			wantErr: true,
		},
		{
			name: "huge origin pulled back to edge",
			req:  Request{X: math.MaxInt64, Y: math.MaxInt64, Width: 10, Height: 20},
			fw:   200, fh: 200, sx: 1, sy: 1,
			want: Rect{X: 190, Y: 180, Width: 10, Height: 20},
		},
		{
			name: "zero size",
			req:  Request{X: 0, Y: 0, Width: 0, Height: 0},
			fw:   200, fh: 200, sx: 1, sy: 1,
			wantErr: true,
		},
		{
			name: "huge origin does not overflow",
			req:  Request{X: 1<<31 - 1, Y: 1<<31 - 1, Width: 10, Height: 10},
			fw:   200, fh: 200, sx: 1, sy: 1,
			want: Rect{X: 190, Y: 190, Width: 10, Height: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Clamp(tt.req, tt.fw, tt.fh, tt.sx, tt.sy, tt.exact)
			if tt.wantErr {
				var gerr *GeometryError
				if !errors.As(err, &gerr) {
					t.Fatalf("expected *GeometryError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestClamp_StaysInsideFrame(t *testing.T) {
	const fw, fh = 97, 61
	for _, shift := range []int{0, 1, 2} {
		for w := 1; w <= fw; w += 7 {
			for h := 1; h <= fh; h += 5 {
				for x := -20; x <= fw+20; x += 9 {
					for y := -20; y <= fh+20; y += 11 {
						r, err := Clamp(Request{X: x, Y: y, Width: w, Height: h}, fw, fh, shift, shift, false)
						if err != nil {
							t.Fatalf("unexpected error for %dx%d+%d+%d: %v", w, h, x, y, err)
						}
						if r.X < 0 || r.Y < 0 || r.X+r.Width > fw || r.Y+r.Height > fh {
							t.Fatalf("result %+v outside %dx%d frame", r, fw, fh)
						}
						if r.X%(1<<shift) != 0 || r.Y%(1<<shift) != 0 {
							t.Fatalf("result %+v not aligned to shift %d", r, shift)
						}
					}
				}
			}
		}
	}
}

func TestAlignDown(t *testing.T) {
	tests := []struct {
		v, shift, want int
	}{
		{0, 1, 0},
		{1, 1, 0},
		{7, 1, 6},
		{7, 2, 4},
		{7, 0, 7},
		{8, 3, 8},
	}
	for _, tt := range tests {
		if got := AlignDown(tt.v, tt.shift); got != tt.want {
			t.Errorf("AlignDown(%d, %d) = %d, want %d", tt.v, tt.shift, got, tt.want)
		}
	}
}

func TestScaledSize(t *testing.T) {
	tests := []struct {
		name          string
		w, h          int
		factor        float64
		wantW, wantH  int
		wantCorrected bool
	}{
		{"1.5 on 64", 64, 64, 1.5, 96, 96, false},
		{"1.3 on 64 rounds to odd", 64, 64, 1.3, 84, 84, true},
		{"identity", 64, 48, 1.0, 64, 48, false},
		{"odd source", 33, 33, 1.0, 34, 34, true},
		{"downscale", 100, 60, 0.5, 50, 30, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, corrected := ScaledSize(tt.w, tt.h, tt.factor)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("expected %dx%d, got %dx%d", tt.wantW, tt.wantH, w, h)
			}
			if corrected != tt.wantCorrected {
				t.Errorf("expected corrected=%v, got %v", tt.wantCorrected, corrected)
			}
		})
	}
}

func TestIntersects(t *testing.T) {
	tests := []struct {
		name         string
		x, y, ow, oh int
		mw, mh       int
		want         bool
	}{
		{"inside", 10, 10, 20, 20, 100, 100, true},
		{"partly left", -10, 10, 20, 20, 100, 100, true},
		{"fully left", -20, 10, 20, 20, 100, 100, false},
		{"fully right", 100, 10, 20, 20, 100, 100, false},
		{"fully above", 10, -30, 20, 20, 100, 100, false},
		{"fully below", 10, 100, 20, 20, 100, 100, false},
		{"covers frame", -10, -10, 200, 200, 100, 100, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Intersects(tt.x, tt.y, tt.ow, tt.oh, tt.mw, tt.mh); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestOverlap(t *testing.T) {
	r, ok := Overlap(-10, 90, 30, 30, 100, 100)
	if !ok {
		t.Fatal("expected overlap")
	}
	want := Rect{X: 0, Y: 90, Width: 20, Height: 10}
	if r != want {
		t.Errorf("expected %+v, got %+v", want, r)
	}

	if _, ok := Overlap(200, 0, 10, 10, 100, 100); ok {
		t.Error("expected no overlap")
	}
}
