package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/user/keyframes/pkg/frame"
	"github.com/user/keyframes/pkg/ports"
)

// SourceOptions configures a Source.
type SourceOptions struct {
	// Path is the input media file.
	Path string
	// FFmpegPath overrides executable lookup.
	FFmpegPath string

	Width  int
	Height int
	Format frame.PixelFormat
	// FrameRate in frames per second. PTS count frames in 1/FrameRate.
	FrameRate frame.Rational
}

// Source decodes a media file into frames by reading rawvideo from an
// ffmpeg process.
type Source struct {
	opts   SourceOptions
	alloc  frame.Allocator
	logger ports.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	stderr bytes.Buffer
	n      int64
	done   bool
	closed bool
}

// NewSource creates a source. The process starts on the first ReadFrame.
func NewSource(opts SourceOptions, alloc frame.Allocator, logger ports.Logger) (*Source, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("ffmpeg: invalid source size %dx%d", opts.Width, opts.Height)
	}
	if opts.FrameRate.Num <= 0 || opts.FrameRate.Den <= 0 {
		opts.FrameRate = frame.Rational{Num: 25, Den: 1}
	}
	return &Source{
		opts:   opts,
		alloc:  alloc,
		logger: logger.WithComponent("ffmpeg"),
	}, nil
}

func (s *Source) args() []string {
	return []string{
		"-nostdin",
		"-v", "error",
		"-i", s.opts.Path,
		"-an", "-sn",
		"-f", "rawvideo",
		"-pix_fmt", s.opts.Format.String(),
		"-s", fmt.Sprintf("%dx%d", s.opts.Width, s.opts.Height),
		"pipe:1",
	}
}

func (s *Source) start() error {
	path, err := Find(s.opts.FFmpegPath)
	if err != nil {
		return err
	}
	s.cmd = exec.Command(path, s.args()...)
	s.cmd.Stderr = &s.stderr
	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}
	s.stdout = stdout
	s.reader = bufio.NewReaderSize(stdout, frameBytes(s.opts.Format, s.opts.Width, s.opts.Height))
	s.logger.Debug("Starting %s", strings.Join(s.cmd.Args, " "))
	if err := s.cmd.Start(); err != nil {
		s.cmd = nil
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	return nil
}

// ReadFrame returns the next decoded frame, or io.EOF after the last one.
func (s *Source) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if s.done {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.cmd == nil {
		if err := s.start(); err != nil {
			return nil, err
		}
	}

	f, err := s.alloc.Alloc(s.opts.Format, s.opts.Width, s.opts.Height)
	if err != nil {
		return nil, err
	}
	if err := readFrame(s.reader, f); err != nil {
		f.Release()
		s.done = true
		werr := s.cmd.Wait()
		if errors.Is(err, io.EOF) && werr == nil {
			return nil, io.EOF
		}
		if werr != nil {
			return nil, fmt.Errorf("ffmpeg decoding failed: %w\nstderr: %s", werr, s.stderr.String())
		}
		return nil, err
	}

	f.TimeBase = frame.Rational{Num: s.opts.FrameRate.Den, Den: s.opts.FrameRate.Num}
	f.PTS = s.n
	f.DTS = s.n
	f.BestEffortTS = s.n
	f.Duration = 1
	s.n++
	return f, nil
}

// Close stops the ffmpeg process if it is still running.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cmd == nil || s.done {
		return nil
	}
	s.stdout.Close()
	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	// the kill makes Wait report an error
	s.cmd.Wait()
	return nil
}

var _ ports.FrameSource = (*Source)(nil)
