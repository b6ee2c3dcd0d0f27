// Package annotation loads per-frame crop, overlay and scale instructions
// from JSON or YAML annotation files.
package annotation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/user/keyframes/pkg/geometry"
)

var (
	// ErrIO is returned when the annotation file cannot be read.
	ErrIO = errors.New("annotation: cannot read file")

	// ErrParse is returned when the file is not valid JSON or YAML.
	ErrParse = errors.New("annotation: malformed file")

	// ErrSchema is returned when the root is not a non-empty array, or the
	// elements are not of the expected kind.
	ErrSchema = errors.New("annotation: invalid schema")
)

// RecordError reports an element that lacks required keys or carries
// values of the wrong type.
type RecordError struct {
	Index   int
	Missing []string
	Reason  string
}

func (e *RecordError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("annotation: record %d: missing %s", e.Index, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("annotation: record %d: %s", e.Index, e.Reason)
}

// Record is the annotation for one output frame.
type Record struct {
	// FrameIndex is the position of the record in the file.
	FrameIndex int `json:"frame_index"`
	// DeclaredIndex is the frame_index value found in the file.
	DeclaredIndex int `json:"declared_index"`

	CropX int `json:"crop_x"`
	CropY int `json:"crop_y"`
	CropW int `json:"crop_w"`
	CropH int `json:"crop_h"`

	OverlayX int     `json:"overlay_position_x"`
	OverlayY int     `json:"overlay_position_y"`
	Scale    float64 `json:"scale"`

	Label      string   `json:"label,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`

	// Found is false for detection-list frames without a matching detection.
	Found bool `json:"found"`
	// Unreliable is set when the declared index disagrees with the position
	// or the record was degraded.
	Unreliable bool `json:"unreliable,omitempty"`
	// Degraded is set when required keys were missing and the geometry was
	// left at zero.
	Degraded bool `json:"degraded,omitempty"`
}

// CropRequest returns the crop box as a geometry request.
func (r Record) CropRequest() geometry.Request {
	return geometry.Request{X: r.CropX, Y: r.CropY, Width: r.CropW, Height: r.CropH}
}

// Store is the ordered, immutable set of records loaded from one file.
// It is safe for concurrent readers.
type Store struct {
	path    string
	schema  Schema
	records []Record
}

// NewStore builds a store from records already in frame order. FrameIndex
// is rewritten to the position.
func NewStore(records []Record) (*Store, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrSchema)
	}
	rs := make([]Record, len(records))
	copy(rs, records)
	for i := range rs {
		rs[i].FrameIndex = i
	}
	return &Store{schema: SchemaFrames, records: rs}, nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// At returns record i. It panics if i is out of range, like a slice index.
func (s *Store) At(i int) Record {
	return s.records[i]
}

// Records returns a copy of all records.
func (s *Store) Records() []Record {
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Path returns the file the store was loaded from.
func (s *Store) Path() string {
	return s.path
}

// Schema returns the schema variant the file was parsed as.
func (s *Store) Schema() Schema {
	return s.schema
}

// Unreliable returns the number of records flagged unreliable.
func (s *Store) Unreliable() int {
	n := 0
	for _, r := range s.records {
		if r.Unreliable {
			n++
		}
	}
	return n
}

// MarshalJSON encodes the records in the canonical per-frame schema.
func (s *Store) MarshalJSON() ([]byte, error) {
	return json.Marshal(Canonical(s.records))
}

// canonicalRecord is one element of the per-frame schema.
type canonicalRecord struct {
	FrameIndex int      `json:"frame_index" yaml:"frame_index"`
	CropBox    [4]int   `json:"crop_box" yaml:"crop_box"`
	OverlayX   int      `json:"overlay_position_x" yaml:"overlay_position_x"`
	OverlayY   int      `json:"overlay_position_y" yaml:"overlay_position_y"`
	Scale      float64  `json:"scale" yaml:"scale"`
	Label      string   `json:"label,omitempty" yaml:"label,omitempty"`
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// Canonical converts records into values that encode as the per-frame
// schema, with crop_box as [width, height, x, y].
func Canonical(records []Record) []any {
	out := make([]any, len(records))
	for i, r := range records {
		out[i] = canonicalRecord{
			FrameIndex: i,
			CropBox:    [4]int{r.CropW, r.CropH, r.CropX, r.CropY},
			OverlayX:   r.OverlayX,
			OverlayY:   r.OverlayY,
			Scale:      r.Scale,
			Label:      r.Label,
			Confidence: r.Confidence,
		}
	}
	return out
}
