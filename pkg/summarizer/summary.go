// Package summarizer produces a report of a processing run.
package summarizer

import (
	"time"

	"github.com/user/keyframes/pkg/orchestrator"
)

// Summary contains the data collected during one run.
type Summary struct {
	GeneratedAt time.Time

	Inputs   Inputs
	Result   orchestrator.RunResult
	Settings Settings
	Video    VideoInfo

	// Elapsed is the wall-clock time of the run.
	Elapsed time.Duration
	// Err is the message of the error that ended the run, if any.
	Err string
}

// Inputs names the files a run read and wrote.
type Inputs struct {
	Main        string
	Overlay     string
	Annotations string
	Output      string
}

// Settings contains the geometry and sync options in effect.
type Settings struct {
	Mode      string
	OutW      string
	OutH      string
	X         string
	Y         string
	EOFAction string
	Alpha     string
	Kernel    string
}

// VideoInfo describes the main input and the output stream.
type VideoInfo struct {
	InputWidth  int
	InputHeight int
	InputFrames int
	FrameRate   string
	FileSize    int64
}

// NewSummary creates a new Summary with the current timestamp.
func NewSummary() *Summary {
	return &Summary{
		GeneratedAt: time.Now(),
	}
}

// Builder provides a fluent interface for building a Summary.
type Builder struct {
	summary *Summary
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{
		summary: NewSummary(),
	}
}

// WithInputs sets the input and output paths.
func (b *Builder) WithInputs(inputs Inputs) *Builder {
	b.summary.Inputs = inputs
	return b
}

// WithResult sets the run counters and how the run ended.
func (b *Builder) WithResult(result orchestrator.RunResult, elapsed time.Duration, err error) *Builder {
	b.summary.Result = result
	b.summary.Elapsed = elapsed
	if err != nil {
		b.summary.Err = err.Error()
	}
	return b
}

// WithSettings sets the options in effect.
func (b *Builder) WithSettings(settings Settings) *Builder {
	b.summary.Settings = settings
	return b
}

// WithVideo sets stream information.
func (b *Builder) WithVideo(video VideoInfo) *Builder {
	b.summary.Video = video
	return b
}

// Build returns the constructed Summary.
func (b *Builder) Build() *Summary {
	return b.summary
}
