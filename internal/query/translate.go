package query

import (
	"fmt"
	"math"
	"strings"

	"github.com/JonMunkholm/catalog/internal/store"
)

// fieldRef is a filter or sort field split into an optional related table
// and a column.
type fieldRef struct {
	table  string
	column string
}

// splitFilterField splits "relatedTable.column" on the first dot.
func splitFilterField(field string) (fieldRef, error) {
	table, column, dotted := strings.Cut(field, ".")
	if !dotted {
		table, column = "", field
	}
	return checkFieldRef(field, fieldRef{table: table, column: column}, dotted)
}

// splitSortField splits "foreignTable.column" on the right-most dot.
func splitSortField(field string) (fieldRef, error) {
	i := strings.LastIndex(field, ".")
	if i < 0 {
		return checkFieldRef(field, fieldRef{column: field}, false)
	}
	return checkFieldRef(field, fieldRef{table: field[:i], column: field[i+1:]}, true)
}

func checkFieldRef(field string, ref fieldRef, dotted bool) (fieldRef, error) {
	if dotted && !store.ValidIdent(ref.table) {
		return fieldRef{}, &ValidationError{Field: field, Reason: "unparseable related table in dotted field"}
	}
	if !store.ValidIdent(ref.column) {
		if dotted {
			return fieldRef{}, &ValidationError{Field: field, Reason: "unparseable column in dotted field"}
		}
		return fieldRef{}, &ValidationError{Field: field, Reason: "invalid column name"}
	}
	return ref, nil
}

// ValidateFilter checks the operator/value pairing and field syntax.
func ValidateFilter(f Filter) error {
	if _, err := splitFilterField(f.Field); err != nil {
		return err
	}
	if !f.Operator.Valid() {
		return &ValidationError{Field: f.Field, Reason: fmt.Sprintf("unknown operator %q", f.Operator)}
	}
	kind := f.Value.Kind()
	switch f.Operator {
	case OpIn:
		if kind != KindSequence {
			return mismatch(f, KindSequence)
		}
		for _, v := range f.Value.seq {
			if !isScalar(v) {
				return &ValidationError{Field: f.Field, Reason: fmt.Sprintf("in: element %v (%T) is not a scalar", v, v)}
			}
		}
	case OpNull:
		if kind != KindBool {
			return mismatch(f, KindBool)
		}
	default:
		if kind != KindScalar {
			return mismatch(f, KindScalar)
		}
		if !isScalar(f.Value.scalar) {
			return &ValidationError{Field: f.Field, Reason: fmt.Sprintf("%s: %T is not a scalar", f.Operator, f.Value.scalar)}
		}
	}
	return nil
}

func mismatch(f Filter, want ValueKind) error {
	return &ValidationError{
		Field:  f.Field,
		Reason: fmt.Sprintf("operator %s requires a %s value, got %s", f.Operator, want, f.Value.Kind()),
	}
}

// ValidateFilters checks every filter, returning the first failure.
func ValidateFilters(filters []Filter) error {
	for _, f := range filters {
		if err := ValidateFilter(f); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSorters checks sort field syntax and direction.
func ValidateSorters(sorters []Sorter) error {
	for _, s := range sorters {
		if _, err := splitSortField(s.Field); err != nil {
			return err
		}
		switch s.Order {
		case "", Asc, Desc:
		default:
			return &ValidationError{Field: s.Field, Reason: fmt.Sprintf("unknown sort order %q", s.Order)}
		}
	}
	return nil
}

// ValidatePagination checks a page request. Only server mode is constrained;
// client and off modes pass through.
func ValidatePagination(p *Pagination) error {
	if p == nil {
		return nil
	}
	switch p.Mode {
	case "", PaginationServer:
		if p.Page < 1 {
			return &ValidationError{Field: "page", Reason: "must be >= 1"}
		}
		if p.PageSize < 1 {
			return &ValidationError{Field: "pageSize", Reason: "must be >= 1"}
		}
		// The last row of the page must fit a signed 64-bit offset.
		if p.Page > math.MaxInt64/p.PageSize {
			return &ValidationError{Field: "page", Reason: fmt.Sprintf("page %d is out of range for page size %d", p.Page, p.PageSize)}
		}
	case PaginationClient, PaginationOff:
	default:
		return &ValidationError{Field: "pagination", Reason: fmt.Sprintf("unknown mode %q", p.Mode)}
	}
	return nil
}

// Validate runs every check Translate performs, without rendering.
func Validate(entity EntityRef, filters []Filter, sorters []Sorter, pagination *Pagination, meta SelectMeta) error {
	_, err := Translate(entity, filters, sorters, pagination, meta)
	return err
}

// Translate renders a predicate set into a primitive select. Nothing is
// rendered unless every filter, sorter and the pagination are valid.
func Translate(entity EntityRef, filters []Filter, sorters []Sorter, pagination *Pagination, meta SelectMeta) (store.SelectRequest, error) {
	if meta.IDColumn != "" && entity.IDColumn == "" {
		entity.IDColumn = meta.IDColumn
	}
	if err := entity.Validate(); err != nil {
		return store.SelectRequest{}, err
	}
	if err := ValidateFilters(filters); err != nil {
		return store.SelectRequest{}, err
	}
	if err := ValidateSorters(sorters); err != nil {
		return store.SelectRequest{}, err
	}
	if err := ValidatePagination(pagination); err != nil {
		return store.SelectRequest{}, err
	}

	expr, err := store.ParseSelect(meta.SelectOrStar())
	if err != nil {
		return store.SelectRequest{}, &ValidationError{Field: "select", Reason: err.Error()}
	}

	count := meta.CountMode
	if count == store.CountNone {
		count = store.CountExact
	}
	req := store.SelectRequest{
		Table: entity.Table(),
		Count: count,
	}

	for _, f := range filters {
		ref, _ := splitFilterField(f.Field)
		if ref.table != "" {
			expr = ensureInnerEmbed(expr, ref.table)
		}
		req.Filters = append(req.Filters, predicateFor(f, ref))
	}

	for _, s := range sorters {
		ref, _ := splitSortField(s.Field)
		if ref.table != "" {
			expr = ensureSortEmbed(expr, ref.table, ref.column)
		}
		req.Order = append(req.Order, store.Order{Table: ref.table, Column: ref.column, Desc: s.Order == Desc})
	}

	if pagination != nil && (pagination.Mode == "" || pagination.Mode == PaginationServer) {
		w := pagination.Window()
		req.Window = &w
	}

	req.Columns = expr.String()
	return req, nil
}

// predicateFor maps a validated filter onto a primitive predicate.
func predicateFor(f Filter, ref fieldRef) store.Predicate {
	p := store.Predicate{Table: ref.table, Column: ref.column}
	switch f.Operator {
	case OpEq:
		p.Op, p.Value = store.OpEq, f.Value.scalar
	case OpNe:
		p.Op, p.Value = store.OpNeq, f.Value.scalar
	case OpGt:
		p.Op, p.Value = store.OpGt, f.Value.scalar
	case OpGte:
		p.Op, p.Value = store.OpGte, f.Value.scalar
	case OpLt:
		p.Op, p.Value = store.OpLt, f.Value.scalar
	case OpLte:
		p.Op, p.Value = store.OpLte, f.Value.scalar
	case OpIn:
		p.Op, p.Value = store.OpIn, f.Value.Sequence()
	case OpContains:
		p.Op, p.Value = store.OpILike, "%"+store.EscapeLike(fmt.Sprint(f.Value.scalar))+"%"
	case OpNull:
		if f.Value.flag {
			p.Op = store.OpIsNull
		} else {
			p.Op = store.OpNotNull
		}
	}
	return p
}

// ensureInnerEmbed makes table an inner-joined embed, adding it once.
func ensureInnerEmbed(expr store.SelectExpr, table string) store.SelectExpr {
	if e := expr.Embed(table); e != nil {
		e.Inner = true
		return expr
	}
	return append(expr, store.SelectItem{Embed: &store.Embed{
		Table: table,
		Inner: true,
		Items: store.SelectExpr{{Column: "*"}},
	}})
}

// ensureSortEmbed makes sure table is embedded with column available.
func ensureSortEmbed(expr store.SelectExpr, table, column string) store.SelectExpr {
	if e := expr.Embed(table); e != nil {
		if !e.Items.Includes(column) {
			e.Items = append(e.Items, store.SelectItem{Column: column})
		}
		return expr
	}
	return append(expr, store.SelectItem{Embed: &store.Embed{
		Table: table,
		Items: store.SelectExpr{{Column: column}},
	}})
}
