// Package expr evaluates the arithmetic expressions used for output sizes
// and positions, such as "iw/2" or "main_w-overlay_w-10".
package expr

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	exprlang "github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrRange is returned by EvalInt when a result is not a finite value in
// the int32 range.
var ErrRange = errors.New("expr: result out of range")

// Canonical variable names.
const (
	InW      = "in_w"
	InH      = "in_h"
	OutW     = "out_w"
	OutH     = "out_h"
	MainW    = "main_w"
	MainH    = "main_h"
	OverlayW = "overlay_w"
	OverlayH = "overlay_h"
	X        = "x"
	Y        = "y"
	A        = "a"
	SAR      = "sar"
	DAR      = "dar"
	HSub     = "hsub"
	VSub     = "vsub"
	N        = "n"
	T        = "t"
)

var aliases = map[string]string{
	"iw": InW,
	"ih": InH,
	"ow": OutW,
	"oh": OutH,
	"W":  MainW,
	"H":  MainH,
	"w":  OverlayW,
	"h":  OverlayH,
}

var canonical = []string{InW, InH, OutW, OutH, MainW, MainH, OverlayW, OverlayH, X, Y, A, SAR, DAR, HSub, VSub, N, T}

// Vars holds variable values by canonical name. Variables that are not set
// evaluate to NaN.
type Vars map[string]float64

// Expr is a compiled expression.
type Expr struct {
	src     string
	program *vm.Program
	value   float64
	literal bool
}

// Compile parses src. Only the known variables may be referenced.
func Compile(src string) (*Expr, error) {
	if v, err := strconv.ParseFloat(src, 64); err == nil {
		return &Expr{src: src, value: v, literal: true}, nil
	}
	program, err := exprlang.Compile(src, exprlang.Env(env(nil)))
	if err != nil {
		return nil, fmt.Errorf("expr: compile %q: %w", src, err)
	}
	return &Expr{src: src, program: program}, nil
}

// MustCompile is like Compile but panics on error. It is meant for
// defaults known at build time.
func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the source text.
func (e *Expr) String() string {
	return e.src
}

// Eval evaluates the expression.
func (e *Expr) Eval(vars Vars) (float64, error) {
	if e.literal {
		return e.value, nil
	}
	out, err := exprlang.Run(e.program, env(vars))
	if err != nil {
		return math.NaN(), fmt.Errorf("expr: eval %q: %w", e.src, err)
	}
	switch v := out.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return math.NaN(), fmt.Errorf("expr: eval %q: result is %T, not a number", e.src, out)
	}
}

// EvalInt evaluates the expression and rounds to the nearest integer, ties
// to even. NaN, infinities and values outside the int32 range are errors.
func (e *Expr) EvalInt(vars Vars) (int, error) {
	v, err := e.Eval(vars)
	if err != nil {
		return 0, err
	}
	return Normalize(v)
}

// Normalize converts a float result to an int the way EvalInt does.
func Normalize(v float64) (int, error) {
	switch {
	case math.IsNaN(v):
		return 0, fmt.Errorf("%w: NaN", ErrRange)
	case v > math.MaxInt32 || v < math.MinInt32:
		return 0, fmt.Errorf("%w: %g", ErrRange, v)
	}
	return int(math.RoundToEven(v)), nil
}

func env(vars Vars) map[string]any {
	m := make(map[string]any, len(canonical)+len(aliases))
	for _, name := range canonical {
		v, ok := vars[name]
		if !ok {
			v = math.NaN()
		}
		m[name] = v
	}
	for alias, name := range aliases {
		m[alias] = m[name]
	}
	return m
}
