// Package query holds the backend-agnostic predicate model exchanged between
// the admin UI and the data layer, and turns it into primitive store reads.
//
// Translate is pure: it validates and renders a store.SelectRequest without
// touching a backend. Resolver rewrites many-to-many relation filters into a
// primary-key membership filter using auxiliary junction-table reads.
package query

import (
	"strings"

	"github.com/JonMunkholm/catalog/internal/store"
)

// DefaultIDColumn is the primary key column assumed when none is configured.
const DefaultIDColumn = "id"

// EntityRef identifies a logical table.
type EntityRef struct {
	Name     string
	IDColumn string
	Schema   string
}

// Entity returns an EntityRef with the default id column.
func Entity(name string) EntityRef {
	return EntityRef{Name: name}
}

// ID returns the primary key column, defaulting to "id".
func (e EntityRef) ID() string {
	if e.IDColumn == "" {
		return DefaultIDColumn
	}
	return e.IDColumn
}

// Table returns the store address of the entity.
func (e EntityRef) Table() store.Table {
	return store.Table{Schema: e.Schema, Name: e.Name}
}

// Validate rejects unsafe names and composite keys.
func (e EntityRef) Validate() error {
	if !store.ValidIdent(e.Name) {
		return &ValidationError{Field: e.Name, Reason: "invalid entity name"}
	}
	if e.Schema != "" && !store.ValidIdent(e.Schema) {
		return &ValidationError{Field: e.Schema, Reason: "invalid schema name"}
	}
	if strings.Contains(e.ID(), ",") {
		return &ValidationError{Field: e.ID(), Reason: "composite primary keys are not supported"}
	}
	if !store.ValidIdent(e.ID()) {
		return &ValidationError{Field: e.ID(), Reason: "invalid id column"}
	}
	return nil
}

// Operator is a filter operator.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNe       Operator = "ne"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpIn       Operator = "in"
	OpContains Operator = "contains"
	OpNull     Operator = "null"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains, OpNull:
		return true
	}
	return false
}

// Filter is a single AND-combined predicate. A dotted Field
// ("relatedTable.column") targets a column of a related table.
type Filter struct {
	Field    string
	Operator Operator
	Value    FilterValue
}

// Order is a sort direction.
type Order string

const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Sorter orders results. A dotted Field ("foreignTable.column") orders by a
// column of a many-to-one related table.
type Sorter struct {
	Field string
	Order Order
}

// PaginationMode says who pages the result.
type PaginationMode string

const (
	PaginationServer PaginationMode = "server"
	PaginationClient PaginationMode = "client"
	PaginationOff    PaginationMode = "off"
)

// Pagination is a 1-based page request.
type Pagination struct {
	Page     uint64
	PageSize uint64
	Mode     PaginationMode
}

// Window returns the zero-based inclusive row window of the page.
func (p Pagination) Window() store.RowWindow {
	return store.RowWindow{
		From: (p.Page - 1) * p.PageSize,
		To:   p.Page*p.PageSize - 1,
	}
}

// SelectMeta controls projection and counting.
type SelectMeta struct {
	Select    string
	CountMode store.CountMode
	IDColumn  string
}

// SelectOrStar returns the select expression, defaulting to "*".
func (m SelectMeta) SelectOrStar() string {
	if strings.TrimSpace(m.Select) == "" {
		return "*"
	}
	return m.Select
}

// RelationKind names the kind of association a RelationConfig describes.
type RelationKind string

const ManyToMany RelationKind = "manyToMany"

// RelationConfig declares a logical field materialised through a junction
// table. OwnerKey references the primary entity, RelatedKey the associated one.
type RelationConfig struct {
	Kind         RelationKind
	ThroughTable string
	OwnerKey     string
	RelatedKey   string
}
