package memstore

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/JonMunkholm/catalog/internal/store"
)

// compareValues orders two column values. NULL sorts after everything,
// matching PostgreSQL's default NULLS LAST for ascending order. Values of
// different kinds fall back to comparing their text form, so 42 and "42"
// are equal.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}

	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return cmpOrdered(fa, fb)
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func cmpOrdered[T int | float64 | string](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func equalValues(a, b any) bool {
	return a != nil && b != nil && compareValues(a, b) == 0
}

// likeToRegexp converts an ILIKE pattern into a case-insensitive regexp.
// A backslash makes the next character literal.
func likeToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?is)^")
	escaped := false
	for _, r := range pattern {
		if escaped {
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
			continue
		}
		switch r {
		case '\\':
			escaped = true
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// matches evaluates a single predicate against a row with SQL NULL semantics.
func matches(row store.Record, p store.Predicate) (bool, error) {
	v := row[p.Column]
	switch p.Op {
	case store.OpEq:
		return equalValues(v, p.Value), nil
	case store.OpNeq:
		return v != nil && p.Value != nil && compareValues(v, p.Value) != 0, nil
	case store.OpGt:
		return v != nil && p.Value != nil && compareValues(v, p.Value) > 0, nil
	case store.OpGte:
		return v != nil && p.Value != nil && compareValues(v, p.Value) >= 0, nil
	case store.OpLt:
		return v != nil && p.Value != nil && compareValues(v, p.Value) < 0, nil
	case store.OpLte:
		return v != nil && p.Value != nil && compareValues(v, p.Value) <= 0, nil
	case store.OpIn:
		values, ok := p.Value.([]any)
		if !ok {
			return false, fmt.Errorf("in on %s: want []any, got %T", p.Column, p.Value)
		}
		for _, want := range values {
			if equalValues(v, want) {
				return true, nil
			}
		}
		return false, nil
	case store.OpILike:
		if v == nil {
			return false, nil
		}
		re, err := likeToRegexp(fmt.Sprint(p.Value))
		if err != nil {
			return false, err
		}
		return re.MatchString(fmt.Sprint(v)), nil
	case store.OpIsNull:
		return v == nil, nil
	case store.OpNotNull:
		return v != nil, nil
	}
	return false, fmt.Errorf("unsupported operator %q", p.Op)
}

func matchAll(row store.Record, preds []store.Predicate) (bool, error) {
	for _, p := range preds {
		ok, err := matches(row, p)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func clone(r store.Record) store.Record {
	out := make(store.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// project keeps the selected columns of row.
func project(row store.Record, expr store.SelectExpr) store.Record {
	if expr.HasStar() {
		return clone(row)
	}
	out := make(store.Record)
	for _, col := range expr.Columns() {
		if v, ok := row[col]; ok {
			out[col] = v
		} else {
			out[col] = nil
		}
	}
	return out
}
