package expr

import (
	"errors"
	"testing"
)

func TestEvalInt(t *testing.T) {
	vars := Vars{InW: 640, InH: 360, MainW: 1920, MainH: 1080, OverlayW: 200, OverlayH: 100, HSub: 2, VSub: 2}

	tests := []struct {
		src  string
		want int
	}{
		{"100", 100},
		{"iw", 640},
		{"in_w/2", 320},
		{"(in_w-ow)/2", 0},
		{"main_w-overlay_w-10", 1710},
		{"W-w", 1720},
		{"(H-h)/2", 490},
		{"max(iw, ih)", 640},
		{"ih*3/4", 270},
		{"2.5", 2},
		{"3.5", 4},
	}
	vars[OutW] = 640

	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			e, err := Compile(tt.src)
			if err != nil {
				t.Fatalf("Compile failed: %v", err)
			}
			got, err := e.EvalInt(vars)
			if err != nil {
				t.Fatalf("EvalInt failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestEvalInt_UnsetVariableIsNaN(t *testing.T) {
	e := MustCompile("ow*2")
	if _, err := e.EvalInt(Vars{InW: 10}); !errors.Is(err, ErrRange) {
		t.Errorf("expected ErrRange, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	if _, err := Normalize(1e12); !errors.Is(err, ErrRange) {
		t.Errorf("expected ErrRange for 1e12, got %v", err)
	}
	if _, err := Normalize(-1e12); !errors.Is(err, ErrRange) {
		t.Errorf("expected ErrRange for -1e12, got %v", err)
	}
	if v, err := Normalize(-2.5); err != nil || v != -2 {
		t.Errorf("Normalize(-2.5) = %d, %v", v, err)
	}
}

func TestCompile_UnknownVariable(t *testing.T) {
	if _, err := Compile("bogus+1"); err == nil {
		t.Error("expected error for unknown variable")
	}
}

func TestString(t *testing.T) {
	if MustCompile("iw/2").String() != "iw/2" {
		t.Error("String should return the source")
	}
}
