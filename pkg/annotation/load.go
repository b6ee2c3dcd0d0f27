package annotation

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/user/keyframes/pkg/ports"
)

// Schema selects how the elements of the root array are read.
type Schema int

const (
	// SchemaAuto picks SchemaFrames for object elements and
	// SchemaDetections for array elements.
	SchemaAuto Schema = iota
	// SchemaFrames is the per-frame object list.
	SchemaFrames
	// SchemaDetections is the legacy detection list, one array of
	// candidate detections per frame.
	SchemaDetections
)

func (s Schema) String() string {
	switch s {
	case SchemaFrames:
		return "frames"
	case SchemaDetections:
		return "detections"
	default:
		return "auto"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Schema) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSchema parses "auto", "frames" or "detections".
func ParseSchema(s string) (Schema, error) {
	switch s {
	case "", "auto":
		return SchemaAuto, nil
	case "frames":
		return SchemaFrames, nil
	case "detections":
		return SchemaDetections, nil
	default:
		return SchemaAuto, fmt.Errorf("annotation: unknown schema %q", s)
	}
}

// MissingKeys selects what happens to elements that lack required keys.
type MissingKeys int

const (
	// MissingKeysFail aborts the whole load with the *RecordError.
	MissingKeysFail MissingKeys = iota
	// MissingKeysSkip keeps the element as a zero-geometry record flagged
	// Degraded and Unreliable, and logs a warning.
	MissingKeysSkip
)

// ParseMissingKeys parses "fail" or "skip".
func ParseMissingKeys(s string) (MissingKeys, error) {
	switch s {
	case "", "fail":
		return MissingKeysFail, nil
	case "skip":
		return MissingKeysSkip, nil
	default:
		return MissingKeysFail, fmt.Errorf("annotation: unknown missing-keys policy %q", s)
	}
}

func (m MissingKeys) String() string {
	if m == MissingKeysSkip {
		return "skip"
	}
	return "fail"
}

// MarshalText implements encoding.TextMarshaler.
func (m MissingKeys) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// DefaultTarget is the detection label selected when none is configured.
const DefaultTarget = "car"

// LoadOptions configures Load.
type LoadOptions struct {
	Schema      Schema
	MissingKeys MissingKeys
	// Target is the detection name selected from detection lists.
	Target string
	Logger ports.Logger
}

// Load reads and validates an annotation file. Files ending in .yaml or
// .yml are parsed as YAML, everything else as JSON. On failure no store is
// returned.
func Load(fs ports.FileSystem, path string, opts LoadOptions) (*Store, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIO, path, err)
	}

	root, err := decode(path, data)
	if err != nil {
		return nil, err
	}

	elems, ok := root.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: root is %s, not an array", ErrSchema, path, kindOf(root))
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("%w: %s: empty array", ErrSchema, path)
	}

	schema := opts.Schema
	if schema == SchemaAuto {
		if _, isList := elems[0].([]any); isList {
			schema = SchemaDetections
		} else {
			schema = SchemaFrames
		}
	}

	l := loader{opts: opts, path: path}
	var records []Record
	switch schema {
	case SchemaDetections:
		records, err = l.detections(elems)
	default:
		records, err = l.frames(elems)
	}
	if err != nil {
		return nil, err
	}

	return &Store{path: path, schema: schema, records: records}, nil
}

// LoadDetections reads a detection-list file, selecting opts.Target (or
// DefaultTarget) in every frame.
func LoadDetections(fs ports.FileSystem, path string, opts LoadOptions) (*Store, error) {
	opts.Schema = SchemaDetections
	return Load(fs, path, opts)
}

func decode(path string, data []byte) (any, error) {
	var root any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
		}
	default:
		if err := json.Unmarshal(data, &root); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrParse, path, err)
		}
	}
	return root, nil
}

type loader struct {
	opts LoadOptions
	path string
}

func (l loader) warn(msg string, args ...interface{}) {
	if l.opts.Logger != nil {
		l.opts.Logger.Warn(msg, args...)
	}
}

// degrade applies the missing-keys policy to a record error.
func (l loader) degrade(rerr *RecordError) error {
	if l.opts.MissingKeys == MissingKeysFail {
		return fmt.Errorf("%s: %w", l.path, rerr)
	}
	l.warn("Annotation record degraded to zero geometry: %s", rerr)
	return nil
}

func (l loader) frames(elems []any) ([]Record, error) {
	records := make([]Record, 0, len(elems))
	for i, elem := range elems {
		obj, ok := elem.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s: element %d is %s, not an object", ErrSchema, l.path, i, kindOf(elem))
		}

		rec, rerr := parseFrame(i, obj)
		if rerr != nil {
			if err := l.degrade(rerr); err != nil {
				return nil, err
			}
			rec = Record{FrameIndex: i, DeclaredIndex: rec.DeclaredIndex, Scale: 1, Unreliable: true, Degraded: true}
		}
		if rec.DeclaredIndex != i {
			l.warn("Annotation frame_index %d at position %d, using position", rec.DeclaredIndex, i)
			rec.Unreliable = true
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseFrame(i int, obj map[string]any) (Record, *RecordError) {
	rec := Record{FrameIndex: i, DeclaredIndex: i, Scale: 1, Found: true}
	var missing []string

	if v, ok := obj["frame_index"]; !ok {
		missing = append(missing, "frame_index")
	} else if n, ok := number(v); ok {
		rec.DeclaredIndex = int(n)
	} else {
		return rec, &RecordError{Index: i, Reason: fmt.Sprintf("frame_index is %s", kindOf(v))}
	}

	if v, ok := obj["crop_box"]; !ok {
		missing = append(missing, "crop_box")
	} else {
		box, ok := numbers(v, 4)
		if !ok {
			return rec, &RecordError{Index: i, Reason: "crop_box is not an array of 4 numbers"}
		}
		ints, ok := wholes(box)
		if !ok {
			return rec, &RecordError{Index: i, Reason: fmt.Sprintf("crop_box %v is out of range", box)}
		}
		// width and height come before the origin
		rec.CropW, rec.CropH = ints[0], ints[1]
		rec.CropX, rec.CropY = ints[2], ints[3]
	}

	for _, key := range []string{"overlay_position_x", "overlay_position_y"} {
		v, ok := obj[key]
		if !ok {
			missing = append(missing, key)
			continue
		}
		n, ok := number(v)
		if !ok {
			return rec, &RecordError{Index: i, Reason: fmt.Sprintf("%s is %s", key, kindOf(v))}
		}
		pos, ok := whole(n)
		if !ok {
			return rec, &RecordError{Index: i, Reason: fmt.Sprintf("%s %v is out of range", key, n)}
		}
		if key == "overlay_position_x" {
			rec.OverlayX = pos
		} else {
			rec.OverlayY = pos
		}
	}

	if v, ok := obj["scale"]; ok {
		n, ok := number(v)
		if !ok || !(n > 0) || math.IsInf(n, 0) {
			return rec, &RecordError{Index: i, Reason: fmt.Sprintf("scale %v is not a positive number", v)}
		}
		rec.Scale = n
	}

	if v, ok := obj["label"].(string); ok {
		rec.Label = v
	}
	if v, ok := number(obj["confidence"]); ok {
		rec.Confidence = &v
	}

	if len(missing) > 0 {
		return rec, &RecordError{Index: i, Missing: missing}
	}
	return rec, nil
}

func (l loader) detections(elems []any) ([]Record, error) {
	target := l.opts.Target
	if target == "" {
		target = DefaultTarget
	}

	records := make([]Record, 0, len(elems))
	for i, elem := range elems {
		list, ok := elem.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s: element %d is %s, not an array", ErrSchema, l.path, i, kindOf(elem))
		}

		rec := Record{FrameIndex: i, DeclaredIndex: i, Scale: 1}
		best := -1.0
		for j, d := range list {
			obj, ok := d.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s: detection %d of frame %d is %s", ErrSchema, l.path, j, i, kindOf(d))
			}
			name, pct, box, rerr := parseDetection(i, obj)
			if rerr != nil {
				if err := l.degrade(rerr); err != nil {
					return nil, err
				}
				rec.Unreliable, rec.Degraded = true, true
				continue
			}
			if name != target || pct <= best {
				continue
			}
			best = pct
			conf := pct / 100
			rec.Label = name
			rec.Confidence = &conf
			rec.CropX, rec.CropY = int(box[0]), int(box[1])
			rec.CropW, rec.CropH = int(box[2]-box[0]), int(box[3]-box[1])
			rec.Found = true
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseDetection(i int, obj map[string]any) (string, float64, []float64, *RecordError) {
	var missing []string
	name, hasName := obj["name"].(string)
	if !hasName {
		missing = append(missing, "name")
	}
	pct, hasPct := number(obj["percentage_probability"])
	if !hasPct {
		missing = append(missing, "percentage_probability")
	}
	box, hasBox := numbers(obj["box_points"], 4)
	if !hasBox {
		missing = append(missing, "box_points")
	}
	if len(missing) > 0 {
		return "", 0, nil, &RecordError{Index: i, Missing: missing}
	}
	return name, pct, box, nil
}

// number converts a decoded JSON or YAML scalar to float64.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// whole truncates f to an int. Values an int cannot hold are rejected
// rather than converted, since that conversion is undefined.
func whole(f float64) (int, bool) {
	if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int(f), true
}

func wholes(fs []float64) ([]int, bool) {
	out := make([]int, len(fs))
	for i, f := range fs {
		n, ok := whole(f)
		if !ok {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}

func numbers(v any, n int) ([]float64, bool) {
	list, ok := v.([]any)
	if !ok || len(list) != n {
		return nil, false
	}
	out := make([]float64, n)
	for i, e := range list {
		f, ok := number(e)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case map[string]any:
		return "an object"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	default:
		if _, ok := number(v); ok {
			return "a number"
		}
		return fmt.Sprintf("%T", v)
	}
}
