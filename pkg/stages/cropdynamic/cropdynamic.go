// Package cropdynamic implements a single-input crop whose origin follows
// detection records or x/y expressions frame by frame.
package cropdynamic

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/user/keyframes/pkg/annotation"
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
var ErrUnknownCommand = errors.New("cropdynamic: unknown command")

// Options configures a Stage.
type Options struct {
	// Store supplies the crop origin per frame, usually loaded from a
	// detection list. Frames whose record has no detection fall back to X
	// and Y.
	Store *annotation.Store

	W, H string
	X, Y string

	Exact      bool
	KeepAspect bool
	// SAR is the sample aspect ratio of the input. Zero means square.
	SAR frame.Rational
}

// DefaultOptions returns a centred full-size crop.
func DefaultOptions() Options {
	return Options{
		W: "iw",
		H: "ih",
		X: "(in_w-out_w)/2",
		Y: "(in_h-out_h)/2",
	}
}

type settings struct {
	w, h, x, y *expr.Expr
	width      int
	height     int
	posX, posY int
	sar        frame.Rational
}

// Stage crops every frame to a fixed size at a moving origin.
type Stage struct {
	mu sync.Mutex

	store  *annotation.Store
	cursor *cursor.Cursor
	logger ports.Logger

	exact      bool
	keepAspect bool
	inSAR      frame.Rational

	cur    settings
	inW    int
	inH    int
	format frame.PixelFormat
	n      int
}

// NewStage creates a new crop stage.
func NewStage(opts Options, logger ports.Logger) (*Stage, error) {
	logger = logger.WithComponent("cropdynamic")
	s := &Stage{
		store:      opts.Store,
		logger:     logger,
		exact:      opts.Exact,
		keepAspect: opts.KeepAspect,
		inSAR:      opts.SAR,
	}
	if s.inSAR.Num == 0 || s.inSAR.Den == 0 {
		s.inSAR = frame.Rational{Num: 1, Den: 1}
	}
	if opts.Store != nil {
		s.cursor = cursor.New(opts.Store.Len(), logger)
	}

	srcs := []struct {
		dst  **expr.Expr
		name string
		src  string
	}{
		{&s.cur.w, "w", opts.W},
		{&s.cur.h, "h", opts.H},
		{&s.cur.x, "x", opts.X},
		{&s.cur.y, "y", opts.Y},
	}
	for _, e := range srcs {
		c, err := expr.Compile(e.src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.name, err)
		}
		*e.dst = c
	}
	return s, nil
}

// Configure derives the crop size for input frames of the given size and
// format.
func (s *Stage) Configure(inW, inH int, format frame.PixelFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur
	if err := s.derive(&next, inW, inH, format); err != nil {
		return err
	}
	s.cur = next
	s.inW, s.inH, s.format = inW, inH, format
	s.logger.Debug("Crop %dx%d from %dx%d, sar %d/%d", next.width, next.height, inW, inH, next.sar.Num, next.sar.Den)
	return nil
}

func (s *Stage) vars(inW, inH int, d frame.Descriptor) expr.Vars {
	a := float64(inW) / float64(inH)
	sar := float64(s.inSAR.Num) / float64(s.inSAR.Den)
	return expr.Vars{
		expr.InW:  float64(inW),
		expr.InH:  float64(inH),
		expr.A:    a,
		expr.SAR:  sar,
		expr.DAR:  a * sar,
		expr.HSub: float64(int(1) << d.ShiftX),
		expr.VSub: float64(int(1) << d.ShiftY),
		expr.X:    math.NaN(),
		expr.Y:    math.NaN(),
		expr.OutW: math.NaN(),
		expr.OutH: math.NaN(),
		// w and h name the crop size here
		expr.OverlayW: math.NaN(),
		expr.OverlayH: math.NaN(),
		expr.N:        0,
		expr.T:        math.NaN(),
	}
}

func (s *Stage) derive(st *settings, inW, inH int, format frame.PixelFormat) error {
	if inW <= 0 || inH <= 0 {
		return fmt.Errorf("cropdynamic: invalid input size %dx%d", inW, inH)
	}
	d := format.Describe()
	vars := s.vars(inW, inH, d)

	fw, err := st.w.Eval(vars)
	if err != nil {
		return err
	}
	vars[expr.OutW], vars[expr.OverlayW] = fw, fw
	fh, err := st.h.Eval(vars)
	if err != nil {
		return err
	}
	vars[expr.OutH], vars[expr.OverlayH] = fh, fh
	// w may depend on h
	if fw, err = st.w.Eval(vars); err != nil {
		return err
	}

	w, errW := expr.Normalize(fw)
	h, errH := expr.Normalize(fh)
	if err := errors.Join(errW, errH); err != nil {
		return fmt.Errorf("cropdynamic: too big value or invalid expression for w %q or h %q: %w", st.w, st.h, err)
	}
	if !s.exact {
		w = geometry.AlignDown(w, d.ShiftX)
		h = geometry.AlignDown(h, d.ShiftY)
	}
	if w <= 0 || h <= 0 || w > inW || h > inH {
		return fmt.Errorf("cropdynamic: invalid too big or non-positive size %dx%d for %dx%d input", w, h, inW, inH)
	}

	st.sar = s.inSAR
	if s.keepAspect {
		st.sar = reduce(int64(s.inSAR.Num)*int64(inW)*int64(h), int64(s.inSAR.Den)*int64(inH)*int64(w))
	}

	// centred default, used until an expression yields a number
	st.posX, st.posY = (inW-w)/2, (inH-h)/2
	if !s.exact {
		st.posX = geometry.AlignDown(st.posX, d.ShiftX)
		st.posY = geometry.AlignDown(st.posY, d.ShiftY)
	}
	st.width, st.height = w, h
	return nil
}

func reduce(num, den int64) frame.Rational {
	a, b := num, den
	for b != 0 {
		a, b = b, a%b
	}
	if a == 0 {
		return frame.Rational{Num: 1, Den: 1}
	}
	num, den = num/a, den/a
	for num > math.MaxInt32 || den > math.MaxInt32 {
		num, den = num/2, den/2
	}
	return frame.Rational{Num: int(num), Den: int(den)}
}

// OutputSize returns the crop size.
func (s *Stage) OutputSize() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.width, s.cur.height
}

// OutputSAR returns the sample aspect ratio of the cropped frames.
func (s *Stage) OutputSAR() frame.Rational {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.sar
}

// Execute crops the main frame of pair. The overlay, if any, is released
// unused.
func (s *Stage) Execute(ctx context.Context, pair pipeline.Pair) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pair.Overlay.Release()

	f := pair.Main
	if err := ctx.Err(); err != nil {
		f.Release()
		return nil, err
	}
	if s.cur.width == 0 || f.Width != s.inW || f.Height != s.inH || f.Format != s.format {
		next := s.cur
		if err := s.derive(&next, f.Width, f.Height, f.Format); err != nil {
			f.Release()
			return nil, err
		}
		s.cur = next
		s.inW, s.inH, s.format = f.Width, f.Height, f.Format
	}

	x, y, err := s.origin(f)
	if err != nil {
		f.Release()
		return nil, err
	}
	d := f.Format.Describe()
	rect, err := geometry.Clamp(geometry.Request{X: x, Y: y, Width: s.cur.width, Height: s.cur.height},
		f.Width, f.Height, d.ShiftX, d.ShiftY, s.exact)
	if err != nil {
		f.Release()
		return nil, fmt.Errorf("frame %d: %w", pair.Index, err)
	}
	s.logger.Debug("n:%d x:%d y:%d x+w:%d y+h:%d", s.n, rect.X, rect.Y, rect.X+rect.Width, rect.Y+rect.Height)

	if err := transform.CropInPlace(f, rect); err != nil {
		f.Release()
		return nil, fmt.Errorf("frame %d: %w", pair.Index, err)
	}
	s.cur.posX, s.cur.posY = rect.X, rect.Y
	if s.cursor != nil {
		s.cursor.Advance()
	}
	s.n++
	return f, nil
}

// origin returns the requested top-left corner for f.
func (s *Stage) origin(f *frame.Frame) (int, int, error) {
	if s.store != nil {
		idx, err := s.cursor.Current()
		if err != nil {
			return 0, 0, err
		}
		if rec := s.store.At(idx); rec.Found {
			return rec.CropX, rec.CropY, nil
		}
		s.logger.Debug("No detection for frame %d, using x/y expressions", s.n)
	}

	vars := s.vars(f.Width, f.Height, f.Format.Describe())
	vars[expr.OutW], vars[expr.OverlayW] = float64(s.cur.width), float64(s.cur.width)
	vars[expr.OutH], vars[expr.OverlayH] = float64(s.cur.height), float64(s.cur.height)
	vars[expr.N] = float64(s.n)
	if f.TimeBase.Den != 0 {
		vars[expr.T] = f.TimeBase.Seconds(f.PTS)
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
	// x may depend on y
	if fx, err = s.cur.x.Eval(vars); err != nil {
		return 0, 0, err
	}
	return coord(fx, s.cur.posX), coord(fy, s.cur.posY), nil
}

// coord converts an evaluated position. NaN keeps the previous value and
// out of range values saturate.
func coord(v float64, prev int) int {
	switch {
	case math.IsNaN(v):
		return prev
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	}
	return int(math.RoundToEven(v))
}

// Reconfigure replaces w, h, x or y (out_w and out_h are accepted too) and
// derives the crop again. On failure the previous settings stay in place.
func (s *Stage) Reconfigure(cmd, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := expr.Compile(value)
	if err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	next := s.cur
	switch cmd {
	case "w", "out_w":
		next.w = e
	case "h", "out_h":
		next.h = e
	case "x":
		next.x = e
	case "y":
		next.y = e
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
	}
	if s.inW > 0 {
		if err := s.derive(&next, s.inW, s.inH, s.format); err != nil {
			s.logger.Warn("Rejected %s=%q, keeping previous settings: %v", cmd, value, err)
			return err
		}
		// keep following the last origin rather than jumping to the centre
		next.posX, next.posY = s.cur.posX, s.cur.posY
	}
	s.cur = next
	s.logger.Info("Reconfigured %s to %q", cmd, value)
	return nil
}

// Overruns returns how many frames reused the last detection record.
func (s *Stage) Overruns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == nil {
		return 0
	}
	return s.cursor.Overruns()
}

var _ pipeline.FrameStage = (*Stage)(nil)
