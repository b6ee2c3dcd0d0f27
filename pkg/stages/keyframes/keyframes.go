// Package keyframes implements the per-frame stage that applies annotation
// records to a main and overlay frame pair: scale the overlay, composite it,
// crop the main frame and rescale it to the output size.
package keyframes

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/user/keyframes/pkg/annotation"
	"github.com/user/keyframes/pkg/blend"
	"github.com/user/keyframes/pkg/cursor"
	"github.com/user/keyframes/pkg/expr"
	"github.com/user/keyframes/pkg/frame"
	"github.com/user/keyframes/pkg/geometry"
	"github.com/user/keyframes/pkg/pipeline"
	"github.com/user/keyframes/pkg/ports"
	"github.com/user/keyframes/pkg/transform"
)

// ErrUnknownCommand is returned by Reconfigure for an option it does not
// handle.
var ErrUnknownCommand = errors.New("keyframes: unknown command")

// EvalMode selects when the x and y expressions are evaluated.
type EvalMode int

const (
	// EvalFrame evaluates x and y for every frame.
	EvalFrame EvalMode = iota
	// EvalInit evaluates x and y once, on the first frame and after each
	// reconfiguration.
	EvalInit
)

func (m EvalMode) String() string {
	if m == EvalInit {
		return "init"
	}
	return "frame"
}

// MarshalText implements encoding.TextMarshaler.
func (m EvalMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// ParseEvalMode parses "frame" or "init".
func ParseEvalMode(s string) (EvalMode, error) {
	switch s {
	case "", "frame":
		return EvalFrame, nil
	case "init":
		return EvalInit, nil
	default:
		return EvalFrame, fmt.Errorf("keyframes: unknown eval mode %q", s)
	}
}

// Options configures a Stage.
type Options struct {
	// Store holds the per-frame records. When nil the stage runs in static
	// mode: the overlay position comes from X and Y and the main frame is
	// not cropped.
	Store *annotation.Store

	OutW, OutH string
	X, Y       string
	Eval       EvalMode

	// Exact disables aligning crop and overlay origins to the chroma grid.
	Exact bool
	// AdvanceOnPassthrough advances the cursor for frames that arrive
	// without an overlay.
	AdvanceOnPassthrough bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		OutW:                 "main_w",
		OutH:                 "main_h",
		X:                    "0",
		Y:                    "0",
		Eval:                 EvalFrame,
		AdvanceOnPassthrough: true,
	}
}

// Stats summarizes what the stage has done so far.
type Stats struct {
	Emitted   int
	Overruns  int
	Saturated bool
}

// settings is the part of the configuration that Reconfigure may replace.
type settings struct {
	outW, outH *expr.Expr
	x, y       *expr.Expr
	width      int
	height     int
	posX, posY int
	posValid   bool
}

// Stage applies annotation records to frame pairs. Execute and Reconfigure
// may be called from different goroutines.
type Stage struct {
	mu sync.Mutex

	store   *annotation.Store
	cursor  *cursor.Cursor
	tr      *transform.Transformer
	blender blend.Blender
	sink    ports.DebugSink
	logger  ports.Logger

	eval        EvalMode
	exact       bool
	advancePass bool

	cur     settings
	mainW   int
	mainH   int
	emitted int
}

// NewStage creates a new keyframes stage. Expressions are compiled here so
// that a bad option fails before any frame is read.
func NewStage(opts Options, tr *transform.Transformer, blender blend.Blender, sink ports.DebugSink, logger ports.Logger) (*Stage, error) {
	logger = logger.WithComponent("keyframes")
	s := &Stage{
		store:       opts.Store,
		tr:          tr,
		blender:     blender,
		sink:        sink,
		logger:      logger,
		eval:        opts.Eval,
		exact:       opts.Exact,
		advancePass: opts.AdvanceOnPassthrough,
	}
	if opts.Store != nil {
		s.cursor = cursor.New(opts.Store.Len(), logger)
	}

	var err error
	if s.cur.outW, err = expr.Compile(opts.OutW); err != nil {
		return nil, fmt.Errorf("out_w: %w", err)
	}
	if s.cur.outH, err = expr.Compile(opts.OutH); err != nil {
		return nil, fmt.Errorf("out_h: %w", err)
	}
	if s.cur.x, err = expr.Compile(opts.X); err != nil {
		return nil, fmt.Errorf("x: %w", err)
	}
	if s.cur.y, err = expr.Compile(opts.Y); err != nil {
		return nil, fmt.Errorf("y: %w", err)
	}
	return s, nil
}

// Configure derives the output size from the main stream dimensions.
func (s *Stage) Configure(mainW, mainH int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configure(mainW, mainH)
}

func (s *Stage) configure(mainW, mainH int) error {
	next := s.cur
	if err := s.derive(&next, mainW, mainH); err != nil {
		return err
	}
	s.cur = next
	s.mainW, s.mainH = mainW, mainH
	s.logger.Debug("Output size %dx%d from main %dx%d", next.width, next.height, mainW, mainH)
	return nil
}

// derive computes the output size of st for a main frame of the given size.
func (s *Stage) derive(st *settings, mainW, mainH int) error {
	vars := expr.Vars{
		expr.MainW: float64(mainW),
		expr.MainH: float64(mainH),
		expr.InW:   float64(mainW),
		expr.InH:   float64(mainH),
	}
	if mainH > 0 {
		vars[expr.A] = float64(mainW) / float64(mainH)
	}
	w, err := st.outW.EvalInt(vars)
	if err != nil {
		return fmt.Errorf("out_w %q: %w", st.outW, err)
	}
	vars[expr.OutW] = float64(w)
	h, err := st.outH.EvalInt(vars)
	if err != nil {
		return fmt.Errorf("out_h %q: %w", st.outH, err)
	}
	// out_w may refer to out_h
	vars[expr.OutH] = float64(h)
	if w, err = st.outW.EvalInt(vars); err != nil {
		return fmt.Errorf("out_w %q: %w", st.outW, err)
	}
	if w <= 0 || h <= 0 {
		return fmt.Errorf("keyframes: invalid output size %dx%d", w, h)
	}
	st.width, st.height = w, h
	st.posValid = false
	return nil
}

// OutputSize returns the configured output size.
func (s *Stage) OutputSize() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.width, s.cur.height
}

// Execute processes one pair and returns the output frame. The stage takes
// ownership of both frames in the pair. On error every frame allocated for
// the pair has been released and the cursor has not moved.
func (s *Stage) Execute(ctx context.Context, pair pipeline.Pair) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer pair.Overlay.Release()

	main := pair.Main
	if err := ctx.Err(); err != nil {
		main.Release()
		return nil, err
	}
	if s.cur.width == 0 {
		if err := s.configure(main.Width, main.Height); err != nil {
			main.Release()
			return nil, err
		}
	}

	rec, idx, err := s.record(main, pair)
	if err != nil {
		main.Release()
		return nil, err
	}
	s.logger.Debug("Frame %d uses record %d: crop %dx%d+%d+%d, overlay at %d,%d, scale %g",
		pair.Index, idx, rec.CropW, rec.CropH, rec.CropX, rec.CropY, rec.OverlayX, rec.OverlayY, rec.Scale)

	var boxes ports.PreviewBoxes
	if pair.Overlay != nil {
		if err := s.composite(main, pair.Overlay, rec, pair.Index, &boxes); err != nil {
			main.Release()
			return nil, err
		}
	}

	rect, err := geometry.Clamp(rec.CropRequest(), main.Width, main.Height,
		main.Format.Describe().ShiftX, main.Format.Describe().ShiftY, s.exact)
	if err != nil {
		main.Release()
		return nil, fmt.Errorf("frame %d: %w", pair.Index, err)
	}
	boxes.CropX, boxes.CropY, boxes.CropW, boxes.CropH = rect.X, rect.Y, rect.Width, rect.Height
	s.preview(pair.Index, main, boxes, rec)

	out, err := transform.Crop(main, rect)
	main.Release()
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", pair.Index, err)
	}

	if out.Width != s.cur.width || out.Height != s.cur.height {
		scaled, err := s.tr.Rescale(out, s.cur.width, s.cur.height)
		if err != nil {
			out.Release()
			return nil, fmt.Errorf("frame %d: %w", pair.Index, err)
		}
		out = scaled
	}

	if s.cursor != nil && (pair.Overlay != nil || s.advancePass) {
		s.cursor.Advance()
	}
	s.emitted++
	return out, nil
}

// record returns the annotation for the current frame. In static mode it
// builds one from the x and y expressions with a full-frame crop.
func (s *Stage) record(main *frame.Frame, pair pipeline.Pair) (annotation.Record, int, error) {
	if s.store != nil {
		idx, err := s.cursor.Current()
		if err != nil {
			return annotation.Record{}, 0, err
		}
		return s.store.At(idx), idx, nil
	}

	rec := annotation.Record{
		FrameIndex: pair.Index,
		CropW:      main.Width,
		CropH:      main.Height,
		Scale:      1,
		Found:      true,
	}
	if pair.Overlay == nil {
		return rec, -1, nil
	}
	if !s.cur.posValid || s.eval == EvalFrame {
		x, y, err := s.position(main, pair.Overlay, pair.Index)
		if err != nil {
			return annotation.Record{}, 0, err
		}
		s.cur.posX, s.cur.posY, s.cur.posValid = x, y, true
	}
	rec.OverlayX, rec.OverlayY = s.cur.posX, s.cur.posY
	return rec, -1, nil
}

// position evaluates the x and y expressions for the overlay. NaN moves the
// overlay off screen.
func (s *Stage) position(main, overlay *frame.Frame, n int) (int, int, error) {
	d := main.Format.Describe()
	vars := expr.Vars{
		expr.MainW:    float64(main.Width),
		expr.MainH:    float64(main.Height),
		expr.OverlayW: float64(overlay.Width),
		expr.OverlayH: float64(overlay.Height),
		expr.HSub:     float64(int(1) << d.ShiftX),
		expr.VSub:     float64(int(1) << d.ShiftY),
		expr.N:        float64(n),
		expr.T:        math.NaN(),
	}
	if main.TimeBase.Den != 0 {
		vars[expr.T] = main.TimeBase.Seconds(main.PTS)
	}

	fx, err := s.cur.x.Eval(vars)
	if err != nil {
		return 0, 0, err
	}
	vars[expr.X] = fx
	fy, err := s.cur.y.Eval(vars)
	if err != nil {
		return 0, 0, err
	}
	vars[expr.Y] = fy
	// x may refer to y
	if fx, err = s.cur.x.Eval(vars); err != nil {
		return 0, 0, err
	}

	x, y := offscreen(fx), offscreen(fy)
	if !s.exact {
		x = geometry.AlignDown(x, d.ShiftX)
		y = geometry.AlignDown(y, d.ShiftY)
	}
	return x, y, nil
}

func offscreen(v float64) int {
	if math.IsNaN(v) || v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int(math.RoundToEven(v))
}

// composite scales the overlay when the record asks for it and blends it
// onto main. The overlay itself is not released.
func (s *Stage) composite(main, overlay *frame.Frame, rec annotation.Record, n int, boxes *ports.PreviewBoxes) error {
	src := overlay
	if rec.Scale != 1 {
		w, h, corrected := geometry.ScaledSize(overlay.Width, overlay.Height, rec.Scale)
		if corrected {
			s.logger.Warn("Scaled overlay for frame %d corrected to even %dx%d", n, w, h)
		}
		if w <= 0 || h <= 0 {
			return fmt.Errorf("frame %d: %w", n, &geometry.GeometryError{
				Request: geometry.Request{X: rec.OverlayX, Y: rec.OverlayY, Width: w, Height: h},
				FrameW:  main.Width,
				FrameH:  main.Height,
				Reason:  "overlay scaled to nothing",
			})
		}
		scaled, err := s.tr.RescaleCopy(overlay, w, h)
		if err != nil {
			return fmt.Errorf("frame %d overlay: %w", n, err)
		}
		defer scaled.Release()
		src = scaled
	}

	if !geometry.Intersects(rec.OverlayX, rec.OverlayY, src.Width, src.Height, main.Width, main.Height) {
		s.logger.Debug("Overlay for frame %d at %d,%d is outside the frame", n, rec.OverlayX, rec.OverlayY)
		return nil
	}
	if err := s.blender.Blend(main, src, rec.OverlayX, rec.OverlayY); err != nil {
		return fmt.Errorf("frame %d blend: %w", n, err)
	}
	boxes.HasOverlay = true
	boxes.OverlayX, boxes.OverlayY = rec.OverlayX, rec.OverlayY
	boxes.OverlayW, boxes.OverlayH = src.Width, src.Height
	return nil
}

func (s *Stage) preview(n int, main *frame.Frame, boxes ports.PreviewBoxes, rec annotation.Record) {
	if s.sink == nil || !s.sink.Enabled() {
		return
	}
	img, err := main.ToImage()
	if err != nil {
		s.logger.Debug("No preview for frame %d: %v", n, err)
		return
	}
	boxes.Label = rec.Label
	if err := s.sink.SavePreview(n, img, boxes); err != nil {
		s.logger.Warn("Failed to save preview for frame %d: %v", n, err)
	}
}

// Reconfigure replaces one option while the stage is running. Accepted
// commands are x, y, out_w (or w) and out_h (or h). The output size is
// derived again from the last main frame size; if that fails the previous
// settings stay in place.
func (s *Stage) Reconfigure(cmd, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := expr.Compile(value)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	next := s.cur
	switch cmd {
	case "x":
		next.x = e
	case "y":
		next.y = e
	case "out_w", "w":
		next.outW = e
	case "out_h", "h":
		next.outH = e
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}

	if s.mainW > 0 {
		if err := s.derive(&next, s.mainW, s.mainH); err != nil {
			s.logger.Warn("Rejected %s=%q, keeping previous settings: %v", cmd, value, err)
			return err
		}
	}
	next.posValid = false
	s.cur = next
	s.logger.Info("Reconfigured %s to %q", cmd, value)
	return nil
}

// Stats returns counters for the frames processed so far.
func (s *Stage) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Emitted: s.emitted}
	if s.cursor != nil {
		st.Overruns = s.cursor.Overruns()
		st.Saturated = s.cursor.Saturated()
	}
	return st
}

var _ pipeline.FrameStage = (*Stage)(nil)
