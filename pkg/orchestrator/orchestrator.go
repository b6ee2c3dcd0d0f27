// Package orchestrator wires annotation loading, stream sync and the frame
// stage into one run.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/ideamans/go-l10n"
	"github.com/user/keyframes/pkg/annotation"
	"github.com/user/keyframes/pkg/blend"
	"github.com/user/keyframes/pkg/frame"
	"github.com/user/keyframes/pkg/framesync"
	"github.com/user/keyframes/pkg/pipeline"
	"github.com/user/keyframes/pkg/ports"
	"github.com/user/keyframes/pkg/stages/cropdynamic"
	"github.com/user/keyframes/pkg/stages/keyframes"
	"github.com/user/keyframes/pkg/transform"
)

// Mode selects the frame stage.
type Mode string

const (
	// ModeKeyframes composites an overlay and crops to annotation records.
	ModeKeyframes Mode = "keyframes"
	// ModeCrop crops a single stream to a moving origin.
	ModeCrop Mode = "crop"
)

// ErrorPolicy decides what happens to the run when one frame fails.
type ErrorPolicy string

const (
	// StopOnError ends the run with the frame's error.
	StopOnError ErrorPolicy = "stop"
	// SkipOnError drops the frame and carries on.
	SkipOnError ErrorPolicy = "skip"
)

// ErrTooManyErrors ends a run that keeps failing under SkipOnError.
var ErrTooManyErrors = errors.New("orchestrator: too many consecutive frame errors")

// Command changes a stage option before the given output frame is
// processed.
type Command struct {
	Frame int    `json:"frame" yaml:"frame"`
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// Config contains all configuration for the orchestrator.
type Config struct {
	Mode Mode `json:"mode"`

	// Annotations
	AnnotationPath string                 `json:"annotation_path,omitempty"`
	Schema         annotation.Schema      `json:"schema"`
	MissingKeys    annotation.MissingKeys `json:"missing_keys"`
	Target         string                 `json:"target,omitempty"`

	// Geometry
	OutW       string             `json:"out_w"`
	OutH       string             `json:"out_h"`
	X          string             `json:"x"`
	Y          string             `json:"y"`
	Eval       keyframes.EvalMode `json:"eval"`
	Exact      bool               `json:"exact"`
	KeepAspect bool               `json:"keep_aspect"`

	// AdvanceOnPassthrough advances the annotation cursor for frames that
	// have no overlay.
	AdvanceOnPassthrough bool `json:"advance_on_passthrough"`

	// Sync
	Sync framesync.Options `json:"sync"`

	// Compositing
	Alpha         blend.Mode        `json:"alpha"`
	Workers       int               `json:"workers"`
	MainFormat    frame.PixelFormat `json:"main_format"`
	OverlayFormat frame.PixelFormat `json:"overlay_format"`

	// MainWidth and MainHeight let the output size be derived before the
	// first frame arrives. Zero derives it from the first frame.
	MainWidth  int            `json:"main_width,omitempty"`
	MainHeight int            `json:"main_height,omitempty"`
	SAR        frame.Rational `json:"sar"`

	OnFrameError        ErrorPolicy `json:"on_frame_error"`
	MaxConsecutiveFails int         `json:"max_consecutive_fails"`
	MaxFrames           int         `json:"max_frames,omitempty"`
	Commands            []Command   `json:"commands,omitempty"`
	SaveOutputFrames    bool        `json:"save_output_frames"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	kf := keyframes.DefaultOptions()
	return Config{
		Mode:                 ModeKeyframes,
		Schema:               annotation.SchemaAuto,
		MissingKeys:          annotation.MissingKeysFail,
		Target:               annotation.DefaultTarget,
		OutW:                 kf.OutW,
		OutH:                 kf.OutH,
		X:                    kf.X,
		Y:                    kf.Y,
		Eval:                 kf.Eval,
		AdvanceOnPassthrough: kf.AdvanceOnPassthrough,
		Sync:                 framesync.DefaultOptions(),
		Alpha:                blend.Straight,
		MainFormat:           frame.YUV420P,
		OverlayFormat:        frame.YUVA420P,
		OnFrameError:         StopOnError,
		MaxConsecutiveFails:  16,
	}
}

// RunResult summarizes a run.
type RunResult struct {
	Emitted      int
	Skipped      int
	Overruns     int
	Unreliable   int
	Records      int
	OutputWidth  int
	OutputHeight int
}

// stage is what the run loop needs from a frame stage.
type stage interface {
	pipeline.FrameStage
	Reconfigure(cmd, value string) error
	OutputSize() (int, int)
}

// sarStage is implemented by stages that change the sample aspect ratio.
type sarStage interface {
	OutputSAR() frame.Rational
}

// sarSetter is implemented by outputs that tag the stream aspect ratio.
type sarSetter interface {
	SetSAR(sar frame.Rational)
}

// pairSource delivers pairs until io.EOF.
type pairSource interface {
	Next(ctx context.Context) (pipeline.Pair, error)
	Close() error
}

// Orchestrator runs frames from the sources through a stage into the
// output.
type Orchestrator struct {
	main    ports.FrameSource
	overlay ports.FrameSource
	output  ports.FrameSink
	tr      *transform.Transformer
	fs      ports.FileSystem
	sink    ports.DebugSink
	logger  ports.Logger

	mu    sync.Mutex
	stage stage
}

// New creates a new Orchestrator. overlay may be nil, in which case every
// pair carries only a main frame.
func New(
	main, overlay ports.FrameSource,
	output ports.FrameSink,
	tr *transform.Transformer,
	fs ports.FileSystem,
	sink ports.DebugSink,
	logger ports.Logger,
) *Orchestrator {
	return &Orchestrator{
		main:    main,
		overlay: overlay,
		output:  output,
		tr:      tr,
		fs:      fs,
		sink:    sink,
		logger:  logger,
	}
}

// Run executes the pipeline until the main stream ends. Configuration
// errors are returned before any frame is read. The sources and the output
// are closed when Run returns.
func (o *Orchestrator) Run(ctx context.Context, config Config) (result RunResult, err error) {
	o.logger.Info(l10n.T("Starting pipeline"))

	src := o.pairs(config)
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close sources: %w", cerr)
		}
		if cerr := o.output.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close output: %w", cerr)
		}
	}()

	// 1. Annotations
	var store *annotation.Store
	if config.AnnotationPath != "" {
		store, err = annotation.Load(o.fs, config.AnnotationPath, annotation.LoadOptions{
			Schema:      config.Schema,
			MissingKeys: config.MissingKeys,
			Target:      config.Target,
			Logger:      o.logger.WithComponent("annotation"),
		})
		if err != nil {
			o.logger.Error(l10n.F("Failed to load annotations: %s", err))
			return RunResult{}, fmt.Errorf("load annotations: %w", err)
		}
		result.Records = store.Len()
		result.Unreliable = store.Unreliable()
		o.logger.Info(l10n.F("Loaded %d annotation records from %s", store.Len(), config.AnnotationPath))
		if result.Unreliable > 0 {
			o.logger.Warn(l10n.F("%d annotation records are unreliable", result.Unreliable))
		}
	}
	o.saveDebug(config, store)

	// 2. Stage
	st, err := o.buildStage(config, store)
	if err != nil {
		o.logger.Error(l10n.F("Invalid stage configuration: %s", err))
		return result, fmt.Errorf("configure stage: %w", err)
	}
	o.mu.Lock()
	o.stage = st
	o.mu.Unlock()

	// 3. Frames
	commands := append([]Command(nil), config.Commands...)
	sort.SliceStable(commands, func(i, j int) bool { return commands[i].Frame < commands[j].Frame })

	policy := config.OnFrameError
	if policy == "" {
		policy = StopOnError
	}
	fails := 0
	for config.MaxFrames <= 0 || result.Emitted < config.MaxFrames {
		for len(commands) > 0 && commands[0].Frame <= result.Emitted {
			c := commands[0]
			commands = commands[1:]
			if err := st.Reconfigure(c.Name, c.Value); err != nil {
				o.logger.Warn(l10n.F("Command %s=%s failed: %s", c.Name, c.Value, err))
			}
		}

		pair, err := src.Next(ctx)
		if err == io.EOF {
			break
		}
		if err == nil {
			err = o.process(ctx, st, pair, &result, config)
		}
		if err == nil {
			fails = 0
			continue
		}

		if ctx.Err() != nil {
			return o.finish(result, st, store), ctx.Err()
		}
		if policy == StopOnError || errors.Is(err, errOutput) {
			o.logger.Error(l10n.F("Frame %d failed: %s", result.Emitted+result.Skipped, err))
			return o.finish(result, st, store), err
		}
		result.Skipped++
		fails++
		o.logger.Warn(l10n.F("Skipping frame %d: %s", result.Emitted+result.Skipped-1, err))
		if config.MaxConsecutiveFails > 0 && fails >= config.MaxConsecutiveFails {
			return o.finish(result, st, store), fmt.Errorf("%w: %v", ErrTooManyErrors, err)
		}
	}

	result = o.finish(result, st, store)
	o.logger.Info(l10n.F("Pipeline completed: %d frames written, %d skipped", result.Emitted, result.Skipped))
	return result, nil
}

var errOutput = errors.New("write output")

// process runs one pair through the stage and hands the result to the
// output.
func (o *Orchestrator) process(ctx context.Context, st stage, pair pipeline.Pair, result *RunResult, config Config) error {
	out, err := st.Execute(ctx, pair)
	if err != nil {
		return err
	}
	if result.Emitted == 0 {
		// the crop size, and with it the aspect ratio, is final once the
		// first frame went through
		if ss, ok := st.(sarStage); ok {
			if setter, ok := o.output.(sarSetter); ok {
				setter.SetSAR(ss.OutputSAR())
			}
		}
	}
	if config.SaveOutputFrames && o.sink.Enabled() {
		if img, err := out.ToImage(); err == nil {
			if err := o.sink.SaveOutputFrame(result.Emitted, img); err != nil {
				o.logger.Debug("Failed to save output frame %d: %v", result.Emitted, err)
			}
		}
	}
	if err := o.output.WriteFrame(ctx, out); err != nil {
		return fmt.Errorf("%w: %w", errOutput, err)
	}
	result.Emitted++
	return nil
}

func (o *Orchestrator) finish(result RunResult, st stage, store *annotation.Store) RunResult {
	result.OutputWidth, result.OutputHeight = st.OutputSize()
	switch s := st.(type) {
	case *keyframes.Stage:
		result.Overruns = s.Stats().Overruns
	case *cropdynamic.Stage:
		result.Overruns = s.Overruns()
	}
	if result.Overruns > 0 && store != nil {
		o.logger.Warn(l10n.F("%d frames reused the last of %d annotation records", result.Overruns, store.Len()))
	}
	return result
}

func (o *Orchestrator) buildStage(config Config, store *annotation.Store) (stage, error) {
	switch config.Mode {
	case ModeCrop:
		opts := cropdynamic.DefaultOptions()
		opts.Store = store
		opts.Exact, opts.KeepAspect, opts.SAR = config.Exact, config.KeepAspect, config.SAR
		if config.OutW != "" && config.OutW != "main_w" {
			opts.W = config.OutW
		}
		if config.OutH != "" && config.OutH != "main_h" {
			opts.H = config.OutH
		}
		if config.X != "" && config.X != "0" {
			opts.X = config.X
		}
		if config.Y != "" && config.Y != "0" {
			opts.Y = config.Y
		}
		s, err := cropdynamic.NewStage(opts, o.logger)
		if err != nil {
			return nil, err
		}
		if config.MainWidth > 0 && config.MainHeight > 0 {
			if err := s.Configure(config.MainWidth, config.MainHeight, config.MainFormat); err != nil {
				return nil, err
			}
		}
		return s, nil

	case ModeKeyframes, "":
		b, err := blend.ForFormats(config.MainFormat, config.OverlayFormat, config.Alpha, config.Workers)
		if err != nil {
			return nil, err
		}
		opts := keyframes.Options{
			Store:                store,
			OutW:                 config.OutW,
			OutH:                 config.OutH,
			X:                    config.X,
			Y:                    config.Y,
			Eval:                 config.Eval,
			Exact:                config.Exact,
			AdvanceOnPassthrough: config.AdvanceOnPassthrough,
		}
		s, err := keyframes.NewStage(opts, o.tr, b, o.sink, o.logger)
		if err != nil {
			return nil, err
		}
		if config.MainWidth > 0 && config.MainHeight > 0 {
			if err := s.Configure(config.MainWidth, config.MainHeight); err != nil {
				return nil, err
			}
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown mode %q", config.Mode)
	}
}

func (o *Orchestrator) pairs(config Config) pairSource {
	if o.overlay == nil {
		return &mainOnly{src: o.main}
	}
	return framesync.New(o.main, o.overlay, config.Sync, o.logger.WithComponent("framesync"))
}

func (o *Orchestrator) saveDebug(config Config, store *annotation.Store) {
	if !o.sink.Enabled() {
		return
	}
	if data, err := json.MarshalIndent(config, "", "  "); err == nil {
		o.sink.SaveConfigJSON(data)
	}
	if store != nil {
		if data, err := json.MarshalIndent(store, "", "  "); err == nil {
			o.sink.SaveAnnotationsJSON(data)
		}
	}
}

// Reconfigure forwards a live command to the running stage.
func (o *Orchestrator) Reconfigure(cmd, value string) error {
	o.mu.Lock()
	st := o.stage
	o.mu.Unlock()
	if st == nil {
		return errors.New("orchestrator: not running")
	}
	return st.Reconfigure(cmd, value)
}

// mainOnly turns a single source into pairs without overlay.
type mainOnly struct {
	src       ports.FrameSource
	delivered int
	closed    bool
}

func (m *mainOnly) Next(ctx context.Context) (pipeline.Pair, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Pair{}, err
	}
	f, err := m.src.ReadFrame(ctx)
	if err != nil {
		return pipeline.Pair{}, err
	}
	p := pipeline.Pair{Main: f, Index: m.delivered}
	m.delivered++
	return p, nil
}

func (m *mainOnly) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.src.Close()
}
