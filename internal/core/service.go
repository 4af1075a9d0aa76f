package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/JonMunkholm/catalog/internal/query"
	"github.com/JonMunkholm/catalog/internal/schema"
	"github.com/JonMunkholm/catalog/internal/store"
)

// DefaultImportTimeout is the maximum duration of a background import run.
const DefaultImportTimeout = 10 * time.Minute

// DefaultResultTTL is how long finished import runs stay queryable.
const DefaultResultTTL = 5 * time.Minute

// Options configures a Service. Zero values fall back to the defaults.
type Options struct {
	// Schema qualifies every table the service addresses. Empty means the
	// store's default schema.
	Schema string

	MaxConcurrentImports int
	ImportWait           time.Duration
	ImportTimeout        time.Duration
	ResultTTL            time.Duration

	// Metrics is optional.
	Metrics *Metrics

	// Audit receives an entry per mutation. Nil logs through slog.
	Audit AuditSink
}

// Service provides the data-access operations over registered entities.
type Service struct {
	store    store.Store
	registry *schema.Registry
	resolver *query.Resolver

	schema        string
	importTimeout time.Duration
	resultTTL     time.Duration
	limiter       *ImportLimiter
	metrics       *Metrics
	auditSink     AuditSink

	mu      sync.RWMutex
	imports map[string]*activeImport
}

// NewService creates a Service driving st for the entities in registry.
func NewService(st store.Store, registry *schema.Registry, opts Options) *Service {
	if opts.ImportTimeout <= 0 {
		opts.ImportTimeout = DefaultImportTimeout
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultResultTTL
	}
	if opts.Audit == nil {
		opts.Audit = SlogAuditSink{}
	}

	return &Service{
		store:         st,
		registry:      registry,
		resolver:      query.NewResolver(st),
		schema:        opts.Schema,
		importTimeout: opts.ImportTimeout,
		resultTTL:     opts.ResultTTL,
		limiter:       NewImportLimiter(opts.MaxConcurrentImports, opts.ImportWait),
		metrics:       opts.Metrics,
		auditSink:     opts.Audit,
		imports:       make(map[string]*activeImport),
	}
}

// Registry returns the entity registry the service was built with.
func (s *Service) Registry() *schema.Registry {
	return s.registry
}

// ImportLimiterStatus reports the import slot usage.
func (s *Service) ImportLimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// EntityInfo describes a registered entity for clients.
type EntityInfo struct {
	Key       string         `json:"key"`
	Group     string         `json:"group"`
	Label     string         `json:"label"`
	IDColumn  string         `json:"idColumn,omitempty"`
	Junction  bool           `json:"junction,omitempty"`
	Columns   []ColumnInfo   `json:"columns"`
	Relations []RelationInfo `json:"relations,omitempty"`
}

// ColumnInfo describes one column of an entity.
type ColumnInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// RelationInfo describes a many-to-many relation field.
type RelationInfo struct {
	Name         string `json:"name"`
	Target       string `json:"target"`
	ThroughTable string `json:"throughTable"`
	OwnerKey     string `json:"ownerKey"`
	RelatedKey   string `json:"relatedKey"`
}

// ListEntities returns every registered entity, grouped then by key.
func (s *Service) ListEntities() []EntityInfo {
	defs := s.registry.All()
	infos := make([]EntityInfo, len(defs))
	for i, def := range defs {
		info := EntityInfo{
			Key:      def.Info.Key,
			Group:    def.Info.Group,
			Label:    def.Info.Label,
			IDColumn: def.IDColumn,
			Junction: def.Info.Junction,
			Columns:  make([]ColumnInfo, len(def.Columns)),
		}
		for j, c := range def.Columns {
			info.Columns[j] = ColumnInfo{Name: c.Name, Type: c.Type.String(), Required: c.Required}
		}
		for _, r := range def.Relations {
			info.Relations = append(info.Relations, RelationInfo{
				Name:         r.Name,
				Target:       r.Target,
				ThroughTable: r.Config.ThroughTable,
				OwnerKey:     r.Config.OwnerKey,
				RelatedKey:   r.Config.RelatedKey,
			})
		}
		infos[i] = info
	}
	return infos
}

// entity looks name up and returns its definition and query reference,
// qualified by the service schema. meta.IDColumn fills in a missing id
// column.
func (s *Service) entity(name string, meta query.SelectMeta) (schema.TableDefinition, query.EntityRef, error) {
	def, ok := s.registry.Get(name)
	if !ok {
		return schema.TableDefinition{}, query.EntityRef{}, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	ref := def.Entity()
	ref.Schema = s.schema
	if ref.IDColumn == "" {
		ref.IDColumn = meta.IDColumn
	}
	return def, ref, nil
}

// keyedEntity is entity for operations addressing records by id. Entities
// without an id column (junction tables) are rejected.
func (s *Service) keyedEntity(name string, meta query.SelectMeta) (schema.TableDefinition, query.EntityRef, error) {
	def, ref, err := s.entity(name, meta)
	if err != nil {
		return def, ref, err
	}
	if ref.IDColumn == "" {
		return def, ref, &query.ValidationError{Field: name, Reason: "entity has no id column"}
	}
	if err := ref.Validate(); err != nil {
		return def, ref, err
	}
	return def, ref, nil
}

// table addresses a table in the service schema.
func (s *Service) table(name string) store.Table {
	return store.Table{Schema: s.schema, Name: name}
}
