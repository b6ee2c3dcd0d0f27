// Package pipeline provides the stage abstraction shared by the per-frame
// processing stages.
package pipeline

import (
	"context"
)

// Stage turns one input into one output.
type Stage[In, Out any] interface {
	// Execute runs the stage with the given input and returns the output.
	Execute(ctx context.Context, input In) (Out, error)
}
