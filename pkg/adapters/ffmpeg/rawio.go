package ffmpeg

import (
	"errors"
	"fmt"
	"io"

	"github.com/user/keyframes/pkg/frame"
)

// readFrame fills f from tightly packed rawvideo data. It returns io.EOF
// only when r ends before the first byte of the frame.
func readFrame(r io.Reader, f *frame.Frame) error {
	d := f.Format.Describe()
	first := true
	for i := 0; i < d.Planes; i++ {
		_, ph := d.PlaneSize(i, f.Width, f.Height)
		for y := 0; y < ph; y++ {
			row := f.Row(i, y)
			if _, err := io.ReadFull(r, row); err != nil {
				if first && errors.Is(err, io.EOF) {
					return io.EOF
				}
				return fmt.Errorf("ffmpeg: truncated frame at plane %d row %d: %w", i, y, io.ErrUnexpectedEOF)
			}
			first = false
		}
	}
	return nil
}

// writeFrame writes f as tightly packed rawvideo, dropping stride padding.
func writeFrame(w io.Writer, f *frame.Frame) error {
	d := f.Format.Describe()
	for i := 0; i < d.Planes; i++ {
		_, ph := d.PlaneSize(i, f.Width, f.Height)
		for y := 0; y < ph; y++ {
			if _, err := w.Write(f.Row(i, y)); err != nil {
				return err
			}
		}
	}
	return nil
}

// frameBytes returns the rawvideo size of one w x h frame.
func frameBytes(format frame.PixelFormat, w, h int) int {
	d := format.Describe()
	n := 0
	for i := 0; i < d.Planes; i++ {
		pw, ph := d.PlaneSize(i, w, h)
		n += pw * ph * d.Step[i]
	}
	return n
}
