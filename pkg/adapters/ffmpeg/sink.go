package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/user/keyframes/pkg/frame"
	"github.com/user/keyframes/pkg/ports"
)

// SinkOptions configures a Sink.
type SinkOptions struct {
	// Path is the output file; its extension picks the container.
	Path       string
	FFmpegPath string

	FrameRate frame.Rational
	// SAR is written with the setsar filter when non-zero.
	SAR frame.Rational

	Codec string // default libx264
	CRF   int    // default 23
	// OutputFormat is the encoded pixel format, default yuv420p.
	OutputFormat string
}

// Sink encodes frames by piping rawvideo into an ffmpeg process. The
// process starts with the size and format of the first frame.
type Sink struct {
	opts   SinkOptions
	logger ports.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	writer *bufio.Writer
	stderr bytes.Buffer

	width  int
	height int
	format frame.PixelFormat
	count  int
	closed bool
}

// NewSink creates a sink writing to opts.Path.
func NewSink(opts SinkOptions, logger ports.Logger) *Sink {
	if opts.FrameRate.Num <= 0 || opts.FrameRate.Den <= 0 {
		opts.FrameRate = frame.Rational{Num: 25, Den: 1}
	}
	if opts.Codec == "" {
		opts.Codec = "libx264"
	}
	if opts.CRF == 0 {
		opts.CRF = 23
	}
	if opts.OutputFormat == "" {
		opts.OutputFormat = "yuv420p"
	}
	return &Sink{opts: opts, logger: logger.WithComponent("ffmpeg")}
}

func (s *Sink) args(f *frame.Frame) []string {
	args := []string{
		"-y",
		"-v", "error",
		"-f", "rawvideo",
		"-pix_fmt", f.Format.String(),
		"-s", fmt.Sprintf("%dx%d", f.Width, f.Height),
		"-r", fmt.Sprintf("%d/%d", s.opts.FrameRate.Num, s.opts.FrameRate.Den),
		"-i", "pipe:0",
	}
	if s.opts.SAR.Num > 0 && s.opts.SAR.Den > 0 {
		args = append(args, "-vf", fmt.Sprintf("setsar=%d/%d", s.opts.SAR.Num, s.opts.SAR.Den))
	}
	return append(args,
		"-c:v", s.opts.Codec,
		"-crf", fmt.Sprintf("%d", s.opts.CRF),
		"-pix_fmt", s.opts.OutputFormat,
		s.opts.Path,
	)
}

func (s *Sink) start(f *frame.Frame) error {
	path, err := Find(s.opts.FFmpegPath)
	if err != nil {
		return err
	}
	s.cmd = exec.Command(path, s.args(f)...)
	s.cmd.Stderr = &s.stderr
	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	s.stdin = stdin
	s.writer = bufio.NewWriterSize(stdin, frameBytes(f.Format, f.Width, f.Height))
	s.logger.Debug("Starting %s", strings.Join(s.cmd.Args, " "))
	if err := s.cmd.Start(); err != nil {
		s.cmd = nil
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	s.width, s.height, s.format = f.Width, f.Height, f.Format
	return nil
}

// SetSAR sets the sample aspect ratio tagged on the output. It has no
// effect once the first frame was written.
func (s *Sink) SetSAR(sar frame.Rational) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		s.opts.SAR = sar
	}
}

// WriteFrame encodes f and releases it. All frames must share the size and
// format of the first.
func (s *Sink) WriteFrame(ctx context.Context, f *frame.Frame) error {
	defer f.Release()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.cmd == nil {
		if err := s.start(f); err != nil {
			return err
		}
	}
	if f.Width != s.width || f.Height != s.height || f.Format != s.format {
		return fmt.Errorf("ffmpeg: frame %s does not match stream %dx%d %s", f, s.width, s.height, s.format)
	}
	if err := writeFrame(s.writer, f); err != nil {
		// stderr is reported by Close once the process has exited
		return fmt.Errorf("failed to write frame: %w", err)
	}
	s.count++
	return nil
}

// Close flushes pending frames and waits for ffmpeg to finish the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cmd == nil {
		return nil
	}
	ferr := s.writer.Flush()
	s.stdin.Close()
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg encoding failed: %w\nstderr: %s", err, s.stderr.String())
	}
	if ferr != nil {
		return fmt.Errorf("failed to flush frames: %w", ferr)
	}
	s.logger.Debug("Encoded %d frames to %s", s.count, s.opts.Path)
	return nil
}

var _ ports.FrameSink = (*Sink)(nil)
