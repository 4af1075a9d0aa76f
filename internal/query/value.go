package query

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValueKind tags the shape of a FilterValue.
type ValueKind int

const (
	KindNone ValueKind = iota
	KindScalar
	KindSequence
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindSequence:
		return "sequence"
	case KindBool:
		return "bool"
	}
	return "none"
}

// FilterValue is Scalar | Sequence<Scalar> | Bool. The zero value is KindNone
// and is rejected by every operator.
type FilterValue struct {
	kind   ValueKind
	scalar any
	seq    []any
	flag   bool
}

// Scalar wraps a single comparable value.
func Scalar(v any) FilterValue { return FilterValue{kind: KindScalar, scalar: v} }

// Sequence wraps a list of scalars.
func Sequence(vs ...any) FilterValue {
	return FilterValue{kind: KindSequence, seq: append([]any(nil), vs...)}
}

// Bool wraps the flag used by the null operator.
func Bool(b bool) FilterValue { return FilterValue{kind: KindBool, flag: b} }

func (v FilterValue) Kind() ValueKind { return v.kind }

// Scalar returns the wrapped scalar; nil for other kinds.
func (v FilterValue) Scalar() any { return v.scalar }

// Sequence returns a copy of the wrapped list.
func (v FilterValue) Sequence() []any { return append([]any(nil), v.seq...) }

// Bool returns the wrapped flag.
func (v FilterValue) Bool() bool { return v.flag }

func (v FilterValue) String() string {
	switch v.kind {
	case KindScalar:
		return fmt.Sprint(v.scalar)
	case KindSequence:
		parts := make([]string, len(v.seq))
		for i, s := range v.seq {
			parts[i] = fmt.Sprint(s)
		}
		return "(" + strings.Join(parts, ",") + ")"
	case KindBool:
		return strconv.FormatBool(v.flag)
	}
	return "<none>"
}

// MarshalJSON renders the wrapped value.
func (v FilterValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindScalar:
		return json.Marshal(v.scalar)
	case KindSequence:
		return json.Marshal(v.seq)
	case KindBool:
		return json.Marshal(v.flag)
	}
	return []byte("null"), nil
}

// isScalar reports whether v is a plain comparable value.
func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, json.Number, time.Time,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// ValueFor builds the FilterValue an operator expects from a loosely typed
// input (decoded JSON, query-string text). Strings are split on commas for
// "in" and parsed as booleans for "null".
func ValueFor(op Operator, raw any) (FilterValue, error) {
	switch op {
	case OpIn:
		switch v := raw.(type) {
		case []any:
			return Sequence(v...), nil
		case []string:
			seq := make([]any, len(v))
			for i, s := range v {
				seq[i] = s
			}
			return Sequence(seq...), nil
		case string:
			var seq []any
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					seq = append(seq, s)
				}
			}
			return Sequence(seq...), nil
		}
		return FilterValue{}, fmt.Errorf("operator in requires a sequence, got %T", raw)
	case OpNull:
		switch v := raw.(type) {
		case bool:
			return Bool(v), nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return FilterValue{}, fmt.Errorf("operator null requires true or false, got %q", v)
			}
			return Bool(b), nil
		}
		return FilterValue{}, fmt.Errorf("operator null requires a boolean, got %T", raw)
	}
	if !isScalar(raw) {
		return FilterValue{}, fmt.Errorf("operator %s requires a scalar, got %T", op, raw)
	}
	return Scalar(raw), nil
}

// NewFilter builds a filter from a loosely typed value, failing with a
// ValidationError when the value does not fit the operator.
func NewFilter(field string, op Operator, raw any) (Filter, error) {
	if !op.Valid() {
		return Filter{}, &ValidationError{Field: field, Reason: fmt.Sprintf("unknown operator %q", op)}
	}
	v, err := ValueFor(op, raw)
	if err != nil {
		return Filter{}, &ValidationError{Field: field, Reason: err.Error()}
	}
	return Filter{Field: field, Operator: op, Value: v}, nil
}
