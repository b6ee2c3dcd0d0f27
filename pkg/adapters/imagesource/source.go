// Package imagesource reads an image sequence as a frame stream, typically
// a transparent PNG overlay.
package imagesource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/user/keyframes/pkg/frame"
	"github.com/user/keyframes/pkg/ports"
)

// ErrNoImages is returned when the pattern matches no files.
var ErrNoImages = errors.New("imagesource: no images match pattern")

// Options configures a Source.
type Options struct {
	// Pattern is a glob such as "overlay/*.png". Matches are read in
	// lexical order.
	Pattern string
	// Format of the produced frames, YUVA420P keeps the alpha channel.
	Format    frame.PixelFormat
	FrameRate frame.Rational
}

// Source implements ports.FrameSource over image files.
type Source struct {
	opts     Options
	fs       ports.FileSystem
	renderer ports.Renderer
	alloc    frame.Allocator

	mu     sync.Mutex
	paths  []string
	next   int
	closed bool
}

// New lists the images matching opts.Pattern.
func New(opts Options, fs ports.FileSystem, renderer ports.Renderer, alloc frame.Allocator) (*Source, error) {
	paths, err := fs.Glob(opts.Pattern)
	if err != nil {
		return nil, fmt.Errorf("imagesource: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoImages, opts.Pattern)
	}
	if opts.FrameRate.Num <= 0 || opts.FrameRate.Den <= 0 {
		opts.FrameRate = frame.Rational{Num: 25, Den: 1}
	}
	return &Source{opts: opts, fs: fs, renderer: renderer, alloc: alloc, paths: paths}, nil
}

// Len returns the number of images in the sequence.
func (s *Source) Len() int {
	return len(s.paths)
}

// ReadFrame decodes the next image. A file that fails to decode is skipped
// by the next call; the error is returned for this one.
func (s *Source) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("imagesource: closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.paths) {
		return nil, io.EOF
	}
	n := s.next
	path := s.paths[n]
	s.next++

	data, err := s.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	img, err := s.renderer.DecodeImage(data, ports.FormatAuto)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	f, err := frame.FromImage(img, s.opts.Format, s.alloc)
	if err != nil {
		return nil, fmt.Errorf("convert %s: %w", path, err)
	}
	f.TimeBase = frame.Rational{Num: s.opts.FrameRate.Den, Den: s.opts.FrameRate.Num}
	f.PTS = int64(n)
	f.DTS = int64(n)
	f.BestEffortTS = int64(n)
	f.Duration = 1
	return f, nil
}

// Close marks the source as closed.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ ports.FrameSource = (*Source)(nil)
