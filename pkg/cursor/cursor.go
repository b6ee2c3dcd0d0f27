// Package cursor tracks which annotation record applies to the next output
// frame.
package cursor

import (
	"errors"

	"github.com/user/keyframes/pkg/ports"
)

// ErrEmpty is returned by Current when the cursor covers no records.
var ErrEmpty = errors.New("cursor: no records")

// Cursor is a saturating index into a fixed number of records. It advances
// once per emitted frame and never yields an index past the last record.
// It is not safe for concurrent use.
type Cursor struct {
	size     int
	pos      int
	overruns int
	episode  bool
	logger   ports.Logger
}

// New creates a cursor over size records.
func New(size int, logger ports.Logger) *Cursor {
	return &Cursor{size: size, logger: logger}
}

// Current returns the index of the record for the next output frame. Once
// the position has passed the last record it returns size-1 and logs a
// warning the first time; later reads in the same episode log at debug.
func (c *Cursor) Current() (int, error) {
	if c.size <= 0 {
		return 0, ErrEmpty
	}
	if c.pos < c.size {
		return c.pos, nil
	}

	c.overruns++
	if !c.episode {
		c.episode = true
		if c.logger != nil {
			c.logger.Warn("Frame %d has no annotation, reusing record %d of %d", c.pos, c.size-1, c.size)
		}
	} else if c.logger != nil {
		c.logger.Debug("Frame %d reuses record %d", c.pos, c.size-1)
	}
	return c.size - 1, nil
}

// Advance moves to the next record. Call it only for frames that were
// emitted.
func (c *Cursor) Advance() {
	c.pos++
}

// Position returns the number of emitted frames, which may exceed the
// number of records.
func (c *Cursor) Position() int {
	return c.pos
}

// Size returns the number of records.
func (c *Cursor) Size() int {
	return c.size
}

// Saturated reports whether the position has passed the last record.
func (c *Cursor) Saturated() bool {
	return c.pos >= c.size
}

// Overruns returns how many reads were clamped to the last record.
func (c *Cursor) Overruns() int {
	return c.overruns
}

// Reset rewinds the cursor to the first record.
func (c *Cursor) Reset() {
	c.pos = 0
	c.overruns = 0
	c.episode = false
}

// Resize changes the number of records, keeping the position. Growing the
// size past the position ends the current saturation episode.
func (c *Cursor) Resize(size int) {
	c.size = size
	if c.pos < c.size {
		c.episode = false
	}
}
