// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/user/keyframes/pkg/adapters/xresampler"
	"github.com/user/keyframes/pkg/annotation"
	"github.com/user/keyframes/pkg/blend"
	"github.com/user/keyframes/pkg/frame"
	"github.com/user/keyframes/pkg/framesync"
	"github.com/user/keyframes/pkg/orchestrator"
	"github.com/user/keyframes/pkg/stages/keyframes"
)

// Config represents the full configuration for keyframes.
type Config struct {
	// Input/Output
	Mode       string `yaml:"mode"`
	Main       string `yaml:"main"`
	Overlay    string `yaml:"overlay"`
	Output     string `yaml:"output"`
	FFmpegPath string `yaml:"ffmpeg_path"`

	// Annotations
	Annotations string `yaml:"annotations"`
	Schema      string `yaml:"schema"`
	MissingKeys string `yaml:"missing_keys"`
	Target      string `yaml:"target"`

	// Geometry
	OutW                 string `yaml:"out_w"`
	OutH                 string `yaml:"out_h"`
	X                    string `yaml:"x"`
	Y                    string `yaml:"y"`
	Eval                 string `yaml:"eval"`
	Exact                bool   `yaml:"exact"`
	KeepAspect           bool   `yaml:"keep_aspect"`
	AdvanceOnPassthrough bool   `yaml:"advance_on_passthrough"`

	// Sync
	EOFAction  string `yaml:"eof_action"`
	Shortest   bool   `yaml:"shortest"`
	RepeatLast bool   `yaml:"repeatlast"`

	// Compositing
	Alpha         string `yaml:"alpha"`
	Kernel        string `yaml:"kernel"`
	Workers       int    `yaml:"workers"`
	MainFormat    string `yaml:"main_format"`
	OverlayFormat string `yaml:"overlay_format"`

	// Stream properties, probed from the main input when zero
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    string `yaml:"fps"`
	SAR    string `yaml:"sar"`

	// Encoding
	Codec string `yaml:"codec"`
	CRF   int    `yaml:"crf"`

	// Run control
	OnFrameError        string                 `yaml:"on_frame_error"`
	MaxConsecutiveFails int                    `yaml:"max_consecutive_fails"`
	MaxFrames           int                    `yaml:"max_frames"`
	Commands            []orchestrator.Command `yaml:"commands"`

	// Logging and debug
	LogLevel         string `yaml:"log_level"`
	Debug            bool   `yaml:"debug"`
	DebugDir         string `yaml:"debug_dir"`
	SaveOutputFrames bool   `yaml:"save_output_frames"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	kf := keyframes.DefaultOptions()
	return Config{
		Mode: string(orchestrator.ModeKeyframes),

		Schema:      annotation.SchemaAuto.String(),
		MissingKeys: annotation.MissingKeysFail.String(),
		Target:      annotation.DefaultTarget,

		OutW:                 kf.OutW,
		OutH:                 kf.OutH,
		X:                    kf.X,
		Y:                    kf.Y,
		Eval:                 kf.Eval.String(),
		AdvanceOnPassthrough: kf.AdvanceOnPassthrough,

		EOFAction:  framesync.EOFRepeat.String(),
		RepeatLast: true,

		Alpha:         blend.Straight.String(),
		Kernel:        xresampler.KernelBicubic,
		MainFormat:    frame.YUV420P.String(),
		OverlayFormat: frame.YUVA420P.String(),

		FPS: "25",
		SAR: "1:1",

		Codec: "libx264",
		CRF:   23,

		OnFrameError:        string(orchestrator.StopOnError),
		MaxConsecutiveFails: 16,

		LogLevel: "info",
		DebugDir: "./debug",
	}
}

// LoadFromFile loads configuration from a YAML file. Keys missing from the
// file keep their defaults.
func LoadFromFile(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// FrameRate parses FPS.
func (c Config) FrameRate() (frame.Rational, error) {
	r, err := ParseRational(c.FPS)
	if err != nil {
		return frame.Rational{}, fmt.Errorf("fps: %w", err)
	}
	return r, nil
}

// ToOrchestratorConfig converts Config to orchestrator.Config. Every invalid
// option is reported in the returned error.
func (c Config) ToOrchestratorConfig() (orchestrator.Config, error) {
	oc := orchestrator.DefaultConfig()
	var errs []error
	check := func(name string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	switch orchestrator.Mode(c.Mode) {
	case orchestrator.ModeKeyframes, orchestrator.ModeCrop:
		oc.Mode = orchestrator.Mode(c.Mode)
	case "":
	default:
		check("mode", fmt.Errorf("unknown mode %q", c.Mode))
	}

	var err error
	oc.AnnotationPath = c.Annotations
	oc.Schema, err = annotation.ParseSchema(c.Schema)
	check("schema", err)
	oc.MissingKeys, err = annotation.ParseMissingKeys(c.MissingKeys)
	check("missing_keys", err)
	if c.Target != "" {
		oc.Target = c.Target
	}

	oc.OutW = orDefault(c.OutW, oc.OutW)
	oc.OutH = orDefault(c.OutH, oc.OutH)
	oc.X = orDefault(c.X, oc.X)
	oc.Y = orDefault(c.Y, oc.Y)
	oc.Eval, err = keyframes.ParseEvalMode(c.Eval)
	check("eval", err)
	oc.Exact = c.Exact
	oc.KeepAspect = c.KeepAspect
	oc.AdvanceOnPassthrough = c.AdvanceOnPassthrough

	oc.Sync.EOFAction, err = framesync.ParsePolicy(c.EOFAction)
	check("eof_action", err)
	oc.Sync.Shortest = c.Shortest
	oc.Sync.RepeatLast = c.RepeatLast

	oc.Alpha, err = blend.ParseMode(c.Alpha)
	check("alpha", err)
	_, err = xresampler.ParseKernel(c.Kernel)
	check("kernel", err)
	oc.Workers = c.Workers
	if c.MainFormat != "" {
		oc.MainFormat, err = frame.ParsePixelFormat(c.MainFormat)
		check("main_format", err)
	}
	if c.OverlayFormat != "" {
		oc.OverlayFormat, err = frame.ParsePixelFormat(c.OverlayFormat)
		check("overlay_format", err)
	}

	if c.Width < 0 || c.Height < 0 {
		check("size", fmt.Errorf("negative size %dx%d", c.Width, c.Height))
	}
	oc.MainWidth, oc.MainHeight = c.Width, c.Height
	if c.SAR != "" {
		oc.SAR, err = ParseRational(c.SAR)
		check("sar", err)
	}
	if _, err := c.FrameRate(); err != nil {
		errs = append(errs, err)
	}

	switch orchestrator.ErrorPolicy(c.OnFrameError) {
	case orchestrator.StopOnError, orchestrator.SkipOnError:
		oc.OnFrameError = orchestrator.ErrorPolicy(c.OnFrameError)
	case "":
	default:
		check("on_frame_error", fmt.Errorf("unknown policy %q", c.OnFrameError))
	}
	oc.MaxConsecutiveFails = c.MaxConsecutiveFails
	oc.MaxFrames = c.MaxFrames
	oc.Commands = c.Commands
	oc.SaveOutputFrames = c.SaveOutputFrames

	return oc, errors.Join(errs...)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// ParseRational parses "30000/1001", "4:3", "25" or "29.97" into a reduced
// positive fraction.
func ParseRational(s string) (frame.Rational, error) {
	r, ok := new(big.Rat).SetString(strings.Replace(strings.TrimSpace(s), ":", "/", 1))
	if !ok {
		return frame.Rational{}, fmt.Errorf("invalid ratio %q", s)
	}
	if r.Sign() <= 0 {
		return frame.Rational{}, fmt.Errorf("ratio %q is not positive", s)
	}
	num, den := r.Num(), r.Denom()
	if !num.IsInt64() || !den.IsInt64() || num.Int64() > math.MaxInt32 || den.Int64() > math.MaxInt32 {
		return frame.Rational{}, fmt.Errorf("ratio %q is out of range", s)
	}
	return frame.Rational{Num: int(num.Int64()), Den: int(den.Int64())}, nil
}
