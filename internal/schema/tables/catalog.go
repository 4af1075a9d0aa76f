// Package tables defines the content catalog: providers, models, categories,
// tags, prompts and the junction tables linking prompts to tags and models.
package tables

import (
	_ "embed"
	"strings"
	"time"

	"github.com/JonMunkholm/catalog/internal/query"
	"github.com/JonMunkholm/catalog/internal/schema"
	"github.com/google/uuid"
)

//go:embed schema.sql
var ddl string

// idDefaults is the server-side id generator per dialect.
var idDefaults = map[string]string{
	"postgres": "gen_random_uuid()::text",
	"sqlite":   "(lower(hex(randomblob(16))))",
}

// DDL returns the statements creating the catalog tables for dialect
// ("postgres" or "sqlite").
func DDL(dialect string) string {
	def, ok := idDefaults[dialect]
	if !ok {
		def = idDefaults["postgres"]
	}
	return strings.ReplaceAll(ddl, "%ID_DEFAULT%", def)
}

func newID() any { return uuid.NewString() }

func now() any { return time.Now().UTC() }

const (
	groupCatalog  = "catalog"
	groupJunction = "junction"
)

// Catalog returns a registry populated with every catalog table.
func Catalog() *schema.Registry {
	r := schema.NewRegistry()
	Register(r)
	return r
}

// Register adds the catalog tables to r.
func Register(r *schema.Registry) {
	r.Register(schema.TableDefinition{
		Info: schema.TableInfo{Key: "providers", Group: groupCatalog, Label: "Providers"},
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: schema.FieldText, Required: true, Default: newID},
			{Name: "name", Type: schema.FieldText, Required: true},
			{Name: "website", Type: schema.FieldText},
			{Name: "created_at", Type: schema.FieldTimestamp, Required: true, Default: now},
		},
	})

	r.Register(schema.TableDefinition{
		Info: schema.TableInfo{Key: "models", Group: groupCatalog, Label: "Models"},
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: schema.FieldText, Required: true, Default: newID},
			{Name: "provider_id", Type: schema.FieldText, Required: true},
			{Name: "name", Type: schema.FieldText, Required: true},
			{Name: "context_window", Type: schema.FieldInt},
			{Name: "is_active", Type: schema.FieldBool, Required: true, Default: func() any { return true }},
			{Name: "created_at", Type: schema.FieldTimestamp, Required: true, Default: now},
		},
		ForeignKeys: []schema.ForeignKey{
			{Column: "provider_id", RefTable: "providers", RefColumn: "id"},
		},
	})

	r.Register(schema.TableDefinition{
		Info: schema.TableInfo{Key: "categories", Group: groupCatalog, Label: "Categories"},
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: schema.FieldText, Required: true, Default: newID},
			{Name: "name", Type: schema.FieldText, Required: true},
			{Name: "parent_id", Type: schema.FieldText},
			{Name: "created_at", Type: schema.FieldTimestamp, Required: true, Default: now},
		},
		ForeignKeys: []schema.ForeignKey{
			{Column: "parent_id", RefTable: "categories", RefColumn: "id"},
		},
	})

	r.Register(schema.TableDefinition{
		Info: schema.TableInfo{Key: "tags", Group: groupCatalog, Label: "Tags"},
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: schema.FieldText, Required: true, Default: newID},
			{Name: "name", Type: schema.FieldText, Required: true},
			{Name: "created_at", Type: schema.FieldTimestamp, Required: true, Default: now},
		},
	})

	r.Register(schema.TableDefinition{
		Info: schema.TableInfo{Key: "prompts", Group: groupCatalog, Label: "Prompts"},
		Columns: []schema.ColumnSpec{
			{Name: "id", Type: schema.FieldText, Required: true, Default: newID},
			{Name: "title", Type: schema.FieldText, Required: true},
			{Name: "body", Type: schema.FieldText},
			{Name: "category_id", Type: schema.FieldText},
			{Name: "created_at", Type: schema.FieldTimestamp, Required: true, Default: now},
		},
		ForeignKeys: []schema.ForeignKey{
			{Column: "category_id", RefTable: "categories", RefColumn: "id"},
		},
		Relations: []schema.Relation{
			{
				Name: "tags",
				Config: query.RelationConfig{
					Kind: query.ManyToMany, ThroughTable: "prompt_tags", OwnerKey: "prompt_id", RelatedKey: "tag_id",
				},
				Target:   "tags",
				TargetID: "id",
			},
			{
				Name: "models",
				Config: query.RelationConfig{
					Kind: query.ManyToMany, ThroughTable: "prompt_models", OwnerKey: "prompt_id", RelatedKey: "model_id",
				},
				Target:   "models",
				TargetID: "id",
			},
		},
	})

	r.Register(schema.TableDefinition{
		Info: schema.TableInfo{Key: "prompt_tags", Group: groupJunction, Label: "Prompt tags", Junction: true},
		Columns: []schema.ColumnSpec{
			{Name: "prompt_id", Type: schema.FieldText, Required: true},
			{Name: "tag_id", Type: schema.FieldText, Required: true},
		},
		ForeignKeys: []schema.ForeignKey{
			{Column: "prompt_id", RefTable: "prompts", RefColumn: "id"},
			{Column: "tag_id", RefTable: "tags", RefColumn: "id"},
		},
	})

	r.Register(schema.TableDefinition{
		Info: schema.TableInfo{Key: "prompt_models", Group: groupJunction, Label: "Prompt models", Junction: true},
		Columns: []schema.ColumnSpec{
			{Name: "prompt_id", Type: schema.FieldText, Required: true},
			{Name: "model_id", Type: schema.FieldText, Required: true},
		},
		ForeignKeys: []schema.ForeignKey{
			{Column: "prompt_id", RefTable: "prompts", RefColumn: "id"},
			{Column: "model_id", RefTable: "models", RefColumn: "id"},
		},
	})
}
