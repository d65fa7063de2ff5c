package instrument

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strings"
)

// Validator checks a value before it reaches a parameter setter.
type Validator interface {
	// Validate returns the value normalised to the validator's canonical
	// type, or an error wrapping ErrArgument.
	Validate(v any) (any, error)

	// Describe returns a short human-readable summary for blueprints.
	Describe() string
}

// Numbers accepts any real number within [min, max] and normalises it to float64.
type Numbers struct {
	min, max float64
}

// NewNumbers returns a Numbers validator for the inclusive range [min, max].
func NewNumbers(minValue, maxValue float64) Numbers {
	return Numbers{min: minValue, max: maxValue}
}

// AnyNumber returns an unbounded Numbers validator.
func AnyNumber() Numbers {
	return Numbers{min: math.Inf(-1), max: math.Inf(1)}
}

// Validate implements Validator.
func (n Numbers) Validate(v any) (any, error) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) {
		return nil, fmt.Errorf("%w: %v is not a number", ErrArgument, v)
	}
	if f < n.min || f > n.max {
		return nil, fmt.Errorf("%w: %v is outside %s", ErrArgument, v, n.Describe())
	}
	return f, nil
}

// Describe implements Validator.
func (n Numbers) Describe() string {
	return describeRange("Numbers", n.min, n.max)
}

// Ints accepts integral numbers within [min, max] and normalises them to int64.
type Ints struct {
	min, max int64
}

// NewInts returns an Ints validator for the inclusive range [min, max].
func NewInts(minValue, maxValue int64) Ints {
	return Ints{min: minValue, max: maxValue}
}

// AnyInt returns an unbounded Ints validator.
func AnyInt() Ints {
	return Ints{min: math.MinInt64, max: math.MaxInt64}
}

// Validate implements Validator.
func (n Ints) Validate(v any) (any, error) {
	i, ok := toInt(v)
	if !ok {
		return nil, fmt.Errorf("%w: %v is not an integer", ErrArgument, v)
	}
	if i < n.min || i > n.max {
		return nil, fmt.Errorf("%w: %v is outside %s", ErrArgument, v, n.Describe())
	}
	return i, nil
}

// Describe implements Validator.
func (n Ints) Describe() string {
	if n.min == math.MinInt64 && n.max == math.MaxInt64 {
		return "<Ints>"
	}
	return fmt.Sprintf("<Ints %d<=v<=%d>", n.min, n.max)
}

// Enum accepts one of a fixed set of values.
type Enum struct {
	values []any
}

// NewEnum returns an Enum validator over values.
func NewEnum(values ...any) Enum {
	return Enum{values: values}
}

// Validate implements Validator. Numbers compare by value regardless of
// their Go type, so a JSON-decoded 2.0 matches an int 2.
func (e Enum) Validate(v any) (any, error) {
	for _, allowed := range e.values {
		if sameValue(allowed, v) {
			return allowed, nil
		}
	}
	return nil, fmt.Errorf("%w: %v is not in %s", ErrArgument, v, e.Describe())
}

// Describe implements Validator.
func (e Enum) Describe() string {
	parts := make([]string, len(e.values))
	for i, v := range e.values {
		parts[i] = fmt.Sprint(v)
	}
	return "<Enum: {" + strings.Join(parts, ", ") + "}>"
}

// Strings accepts strings up to maxLength bytes; zero means unlimited.
type Strings struct {
	maxLength int
}

// NewStrings returns a Strings validator.
func NewStrings(maxLength int) Strings {
	return Strings{maxLength: maxLength}
}

// Validate implements Validator.
func (s Strings) Validate(v any) (any, error) {
	str, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %v is not a string", ErrArgument, v)
	}
	if s.maxLength > 0 && len(str) > s.maxLength {
		return nil, fmt.Errorf("%w: string longer than %d", ErrArgument, s.maxLength)
	}
	return str, nil
}

// Describe implements Validator.
func (s Strings) Describe() string {
	if s.maxLength > 0 {
		return fmt.Sprintf("<Strings len<=%d>", s.maxLength)
	}
	return "<Strings>"
}

// Bool accepts true or false.
type Bool struct{}

// Validate implements Validator.
func (Bool) Validate(v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("%w: %v is not a boolean", ErrArgument, v)
	}
	return b, nil
}

// Describe implements Validator.
func (Bool) Describe() string { return "<Boolean>" }

// Anything accepts every value unchanged.
type Anything struct{}

// Validate implements Validator.
func (Anything) Validate(v any) (any, error) { return v, nil }

// Describe implements Validator.
func (Anything) Describe() string { return "<Anything>" }

func describeRange(kind string, lo, hi float64) string {
	switch {
	case math.IsInf(lo, -1) && math.IsInf(hi, 1):
		return "<" + kind + ">"
	case math.IsInf(lo, -1):
		return fmt.Sprintf("<%s v<=%g>", kind, hi)
	case math.IsInf(hi, 1):
		return fmt.Sprintf("<%s v>=%g>", kind, lo)
	}
	return fmt.Sprintf("<%s %g<=v<=%g>", kind, lo, hi)
}

// toFloat converts any Go numeric value (or json.Number) to float64.
func toFloat(v any) (float64, bool) {
	if n, ok := v.(json.Number); ok {
		f, err := n.Float64()
		return f, err == nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() { //nolint:exhaustive // only numeric kinds convert
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// toInt converts an integral numeric value to int64.
func toInt(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() { //nolint:exhaustive // only numeric kinds convert
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	}
	f, ok := toFloat(v)
	if !ok || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func sameValue(a, b any) bool {
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if aNum && bNum {
		return fa == fb
	}
	if aNum != bNum {
		return false
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || ta == nil || !ta.Comparable() {
		return ta == nil && tb == nil
	}
	return a == b
}
