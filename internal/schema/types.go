// Package schema describes the tables of the content catalog: their columns,
// foreign keys and many-to-many relations. Drivers use it to resolve embeds,
// the core uses it for relation filters and import descriptors.
package schema

import (
	"github.com/JonMunkholm/catalog/internal/query"
)

// FieldType is the storage type of a column, used to coerce imported text.
type FieldType int

const (
	FieldText FieldType = iota
	FieldInt
	FieldNumeric
	FieldBool
	FieldDate
	FieldTimestamp
)

func (t FieldType) String() string {
	switch t {
	case FieldInt:
		return "integer"
	case FieldNumeric:
		return "number"
	case FieldBool:
		return "boolean"
	case FieldDate:
		return "date"
	case FieldTimestamp:
		return "timestamp"
	}
	return "text"
}

// ColumnSpec describes one column.
type ColumnSpec struct {
	Name     string
	Type     FieldType
	Required bool // NOT NULL

	// Default produces the value the database assigns when an insert omits
	// the column. Nil means the column has no default.
	Default func() any
}

// ForeignKey is a many-to-one reference from Column to RefTable.RefColumn.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// Relation is a many-to-many association exposed as a logical field of the
// owning table. Target is the related entity the junction points at.
type Relation struct {
	Name     string
	Config   query.RelationConfig
	Target   string
	TargetID string
}

// TableInfo contains display information about a table.
type TableInfo struct {
	Key      string // table name: "prompts"
	Group    string // "catalog", "junction"
	Label    string // display name: "Prompts"
	Junction bool
}

// TableDefinition is everything the data layer knows about a table.
type TableDefinition struct {
	Info        TableInfo
	IDColumn    string
	Columns     []ColumnSpec
	ForeignKeys []ForeignKey
	Relations   []Relation
}

// Entity returns the query reference for the table.
func (d TableDefinition) Entity() query.EntityRef {
	return query.EntityRef{Name: d.Info.Key, IDColumn: d.IDColumn}
}

// Column looks up a column by name.
func (d TableDefinition) Column(name string) (ColumnSpec, bool) {
	for _, c := range d.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// ColumnNames lists column names in declaration order.
func (d TableDefinition) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// RelationConfigs returns the many-to-many relations keyed by field name.
func (d TableDefinition) RelationConfigs() map[string]query.RelationConfig {
	if len(d.Relations) == 0 {
		return nil
	}
	out := make(map[string]query.RelationConfig, len(d.Relations))
	for _, r := range d.Relations {
		out[r.Name] = r.Config
	}
	return out
}

// Relation looks up a many-to-many relation by field name.
func (d TableDefinition) Relation(name string) (Relation, bool) {
	for _, r := range d.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}
