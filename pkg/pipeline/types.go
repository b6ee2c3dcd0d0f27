package pipeline

import (
	"github.com/user/keyframes/pkg/frame"
)

// Pair is a main frame and the overlay frame that goes with it. The
// receiver owns both frames and must release them. Overlay is nil when the
// overlay stream has ended under the pass policy, never produced a frame,
// or the stage has a single input.
type Pair struct {
	Main    *frame.Frame
	Overlay *frame.Frame
	// Index counts delivered pairs from zero.
	Index int
}

// Release releases both frames.
func (p Pair) Release() {
	p.Main.Release()
	p.Overlay.Release()
}

// FrameStage turns a pair into one output frame. On error the stage has
// released everything it was given.
type FrameStage = Stage[Pair, *frame.Frame]
