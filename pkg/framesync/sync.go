// Package framesync pairs frames from a main stream with the overlay frame
// that is current at the same presentation time.
package framesync

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/user/keyframes/pkg/frame"
	"github.com/user/keyframes/pkg/pipeline"
	"github.com/user/keyframes/pkg/ports"
)

// ErrOutOfOrder is returned when the main stream goes back in time. The
// offending frame is dropped and the sync state is left unchanged.
var ErrOutOfOrder = errors.New("framesync: main timestamps went backwards")

// Policy decides what happens once the overlay stream has ended.
type Policy int

const (
	// EOFRepeat keeps pairing main frames with the last overlay frame.
	EOFRepeat Policy = iota
	// EOFEndAll ends the output as soon as either stream ends.
	EOFEndAll
	// EOFPass delivers the remaining main frames without an overlay.
	EOFPass
)

func (p Policy) String() string {
	switch p {
	case EOFEndAll:
		return "endall"
	case EOFPass:
		return "pass"
	default:
		return "repeat"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePolicy parses "repeat", "endall" or "pass".
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "repeat":
		return EOFRepeat, nil
	case "endall", "end-both":
		return EOFEndAll, nil
	case "pass", "pass-through":
		return EOFPass, nil
	default:
		return EOFRepeat, fmt.Errorf("framesync: unknown eof action %q", s)
	}
}

// Options configures a Sync.
type Options struct {
	EOFAction Policy
	// Shortest ends the output when the shortest stream ends, whatever
	// EOFAction says.
	Shortest bool
	// RepeatLast allows EOFRepeat. When false, EOFRepeat behaves like
	// EOFPass.
	RepeatLast bool
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{EOFAction: EOFRepeat, RepeatLast: true}
}

// Policy returns the effective end-of-stream policy.
func (o Options) Policy() Policy {
	switch {
	case o.Shortest:
		return EOFEndAll
	case o.EOFAction == EOFRepeat && !o.RepeatLast:
		return EOFPass
	default:
		return o.EOFAction
	}
}

// Sync pulls from two sources and delivers pairs in main stream order. It
// is driven by a single goroutine.
type Sync struct {
	main, overlay ports.FrameSource
	policy        Policy
	logger        ports.Logger

	held       *frame.Frame // main frame pulled but not yet delivered
	cur, next  *frame.Frame // overlay frames
	overlayEOF bool
	lastPTS    int64
	started    bool
	delivered  int
	done       bool
	closed     bool
}

// New creates a Sync over main and overlay.
func New(main, overlay ports.FrameSource, opts Options, logger ports.Logger) *Sync {
	return &Sync{
		main:    main,
		overlay: overlay,
		policy:  opts.Policy(),
		logger:  logger,
	}
}

// Next returns the next pair, or io.EOF when the output has ended. Other
// errors leave the Sync usable: a main frame that was already read is kept
// and delivered by the next successful call.
func (s *Sync) Next(ctx context.Context) (pipeline.Pair, error) {
	if s.done || s.closed {
		return pipeline.Pair{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return pipeline.Pair{}, err
	}

	if s.held == nil {
		m, err := s.main.ReadFrame(ctx)
		if err == io.EOF {
			s.finish("main")
			return pipeline.Pair{}, io.EOF
		}
		if err != nil {
			return pipeline.Pair{}, err
		}
		if s.started && m.PTS < s.lastPTS {
			pts := m.PTS
			m.Release()
			return pipeline.Pair{}, fmt.Errorf("%w: %d after %d", ErrOutOfOrder, pts, s.lastPTS)
		}
		s.held = m
	}
	m := s.held

	if err := s.fillOverlay(ctx, m); err != nil {
		return pipeline.Pair{}, err
	}

	var overlay *frame.Frame
	if s.exhausted(m) {
		switch s.policy {
		case EOFEndAll:
			s.finish("overlay")
			return pipeline.Pair{}, io.EOF
		case EOFRepeat:
			if s.cur != nil {
				overlay = s.cur.View()
			}
		}
	} else if s.cur != nil {
		overlay = s.cur.View()
	}

	s.held = nil
	s.lastPTS = m.PTS
	s.started = true
	p := pipeline.Pair{Main: m, Overlay: overlay, Index: s.delivered}
	s.delivered++
	if s.logger != nil {
		s.logger.Debug("Pair %d: main pts %d, overlay %s", p.Index, m.PTS, describe(overlay))
	}
	return p, nil
}

// Run calls fn for every pair until the output ends, fn fails or ctx is
// cancelled. Cancellation closes both sources.
func (s *Sync) Run(ctx context.Context, fn func(pipeline.Pair) error) error {
	for {
		p, err := s.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				s.Close()
			}
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
}

// Delivered returns the number of pairs delivered so far.
func (s *Sync) Delivered() int {
	return s.delivered
}

// Close releases buffered frames and closes both sources. It is safe to
// call more than once.
func (s *Sync) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	for _, f := range []*frame.Frame{s.held, s.cur, s.next} {
		f.Release()
	}
	s.held, s.cur, s.next = nil, nil, nil
	return errors.Join(s.main.Close(), s.overlay.Close())
}

// fillOverlay reads overlay frames until s.cur is the latest frame at or
// before m, keeping one frame of lookahead in s.next.
func (s *Sync) fillOverlay(ctx context.Context, m *frame.Frame) error {
	for {
		if s.next == nil && !s.overlayEOF {
			f, err := s.overlay.ReadFrame(ctx)
			switch {
			case err == io.EOF:
				s.overlayEOF = true
				if s.logger != nil {
					s.logger.Debug("Overlay stream ended")
				}
			case err != nil:
				return err
			default:
				s.next = f
			}
		}
		if s.next == nil {
			return nil
		}
		// until the first overlay frame is shown, it applies to every main frame
		if s.cur != nil && compareTS(s.next.PTS, s.next.TimeBase, m.PTS, m.TimeBase) > 0 {
			return nil
		}
		s.cur.Release()
		s.cur, s.next = s.next, nil
	}
}

// exhausted reports whether the overlay stream has nothing left to show
// at m's timestamp.
func (s *Sync) exhausted(m *frame.Frame) bool {
	if !s.overlayEOF || s.next != nil {
		return false
	}
	if s.cur == nil {
		return true
	}
	end := s.cur.PTS + max(s.cur.Duration, 1)
	return compareTS(m.PTS, m.TimeBase, end, s.cur.TimeBase) >= 0
}

func (s *Sync) finish(stream string) {
	s.done = true
	s.held.Release()
	s.held = nil
	if s.logger != nil {
		s.logger.Debug("Output ended with the %s stream after %d pairs", stream, s.delivered)
	}
}

// compareTS compares timestamps a and b expressed in their own time bases.
func compareTS(a int64, ta frame.Rational, b int64, tb frame.Rational) int {
	if ta == tb || ta.Den == 0 || tb.Den == 0 {
		return cmp.Compare(a, b)
	}
	l := new(big.Int).Mul(big.NewInt(a), big.NewInt(int64(ta.Num)*int64(tb.Den)))
	r := new(big.Int).Mul(big.NewInt(b), big.NewInt(int64(tb.Num)*int64(ta.Den)))
	return l.Cmp(r)
}

func describe(f *frame.Frame) string {
	if f == nil {
		return "none"
	}
	return fmt.Sprintf("pts %d", f.PTS)
}
