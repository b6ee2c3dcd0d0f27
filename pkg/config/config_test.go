package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/user/keyframes/pkg/annotation"
	"github.com/user/keyframes/pkg/blend"
	"github.com/user/keyframes/pkg/frame"
	"github.com/user/keyframes/pkg/framesync"
	"github.com/user/keyframes/pkg/orchestrator"
	"github.com/user/keyframes/pkg/stages/keyframes"
)

func TestDefaults_MatchOrchestrator(t *testing.T) {
	oc, err := Defaults().ToOrchestratorConfig()
	if err != nil {
		t.Fatalf("defaults should convert cleanly: %v", err)
	}
	want := orchestrator.DefaultConfig()
	want.SAR = frame.Rational{Num: 1, Den: 1}
	if oc.Mode != want.Mode || oc.OutW != want.OutW || oc.X != want.X || oc.Eval != want.Eval {
		t.Errorf("geometry defaults differ: %+v", oc)
	}
	if oc.Sync != want.Sync || oc.OnFrameError != want.OnFrameError || oc.MaxConsecutiveFails != want.MaxConsecutiveFails {
		t.Errorf("run defaults differ: %+v", oc)
	}
	if oc.MainFormat != frame.YUV420P || oc.OverlayFormat != frame.YUVA420P || oc.SAR != want.SAR {
		t.Errorf("stream defaults differ: %+v", oc)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keyframes.yaml")
	data := `
mode: crop
main: in.mp4
annotations: detections.json
schema: detections
target: person
out_w: iw/2
x: (in_w-out_w)/2
eof_action: endall
alpha: premultiplied
fps: 30000/1001
sar: "4:3"
on_frame_error: skip
commands:
  - frame: 10
    name: x
    value: "0"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	// untouched keys keep their defaults
	if cfg.OutH != "main_h" || cfg.CRF != 23 || cfg.Kernel != "bicubic" {
		t.Errorf("defaults lost: %+v", cfg)
	}

	oc, err := cfg.ToOrchestratorConfig()
	if err != nil {
		t.Fatalf("ToOrchestratorConfig failed: %v", err)
	}
	if oc.Mode != orchestrator.ModeCrop || oc.AnnotationPath != "detections.json" {
		t.Errorf("unexpected mode/annotations: %+v", oc)
	}
	if oc.Schema != annotation.SchemaDetections || oc.Target != "person" {
		t.Errorf("unexpected schema/target: %v %q", oc.Schema, oc.Target)
	}
	if oc.OutW != "iw/2" || oc.X != "(in_w-out_w)/2" {
		t.Errorf("unexpected expressions: %q %q", oc.OutW, oc.X)
	}
	if oc.Sync.EOFAction != framesync.EOFEndAll || oc.Alpha != blend.Premultiplied {
		t.Errorf("unexpected sync/alpha: %v %v", oc.Sync.EOFAction, oc.Alpha)
	}
	if oc.SAR != (frame.Rational{Num: 4, Den: 3}) || oc.OnFrameError != orchestrator.SkipOnError {
		t.Errorf("unexpected sar/policy: %v %v", oc.SAR, oc.OnFrameError)
	}
	if len(oc.Commands) != 1 || oc.Commands[0] != (orchestrator.Command{Frame: 10, Name: "x", Value: "0"}) {
		t.Errorf("unexpected commands: %+v", oc.Commands)
	}
	if r, _ := cfg.FrameRate(); r != (frame.Rational{Num: 30000, Den: 1001}) {
		t.Errorf("unexpected frame rate %v", r)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadFromFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("mode: [unclosed"), 0644)
	if _, err := LoadFromFile(bad); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestToOrchestratorConfig_ReportsEveryError(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "zoom"
	cfg.Schema = "xml"
	cfg.Eval = "always"
	cfg.Kernel = "lanczos9"
	cfg.FPS = "fast"

	_, err := cfg.ToOrchestratorConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, name := range []string{"mode", "schema", "eval", "kernel", "fps"} {
		if !strings.Contains(err.Error(), name+":") {
			t.Errorf("error does not mention %s: %v", name, err)
		}
	}
}

func TestToOrchestratorConfig_EvalInit(t *testing.T) {
	cfg := Defaults()
	cfg.Eval = "init"
	oc, err := cfg.ToOrchestratorConfig()
	if err != nil {
		t.Fatal(err)
	}
	if oc.Eval != keyframes.EvalInit {
		t.Errorf("expected EvalInit, got %v", oc.Eval)
	}
}

func TestParseRational(t *testing.T) {
	tests := []struct {
		in      string
		want    frame.Rational
		wantErr bool
	}{
		{"25", frame.Rational{Num: 25, Den: 1}, false},
		{"30000/1001", frame.Rational{Num: 30000, Den: 1001}, false},
		{"16:9", frame.Rational{Num: 16, Den: 9}, false},
		{"4/2", frame.Rational{Num: 2, Den: 1}, false},
		{"29.97", frame.Rational{Num: 2997, Den: 100}, false},
		{"0", frame.Rational{}, true},
		{"-1/2", frame.Rational{}, true},
		{"abc", frame.Rational{}, true},
		{"99999999999", frame.Rational{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRational(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err=%v, wantErr=%v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
