package core

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/JonMunkholm/catalog/internal/query"
	"github.com/JonMunkholm/catalog/internal/schema/tables"
	"github.com/JonMunkholm/catalog/internal/store"
	"github.com/JonMunkholm/catalog/internal/store/memstore"
	"github.com/JonMunkholm/catalog/internal/store/storetest"
)

type auditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (a *auditLog) Record(_ context.Context, e AuditEntry) {
	a.mu.Lock()
	a.entries = append(a.entries, e)
	a.mu.Unlock()
}

func (a *auditLog) all() []AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]AuditEntry(nil), a.entries...)
}

type fixture struct {
	svc   *Service
	rec   *storetest.Recorder
	mem   *memstore.Store
	audit *auditLog
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	catalog := tables.Catalog()
	mem := memstore.New(catalog)
	mem.Seed("providers",
		store.Record{"id": "openai", "name": "OpenAI"},
		store.Record{"id": "acme", "name": "Acme"},
	)
	mem.Seed("models",
		store.Record{"id": "m1", "provider_id": "openai", "name": "gpt", "is_active": true},
		store.Record{"id": "m2", "provider_id": "acme", "name": "atlas", "is_active": true},
		store.Record{"id": "m3", "provider_id": "openai", "name": "legacy", "is_active": false},
	)
	mem.Seed("tags",
		store.Record{"id": "a", "name": "A"},
		store.Record{"id": "b", "name": "B"},
		store.Record{"id": "c", "name": "C"},
	)
	mem.Seed("prompts",
		store.Record{"id": "p1", "title": "Summarize"},
		store.Record{"id": "p2", "title": "Translate"},
		store.Record{"id": "p3", "title": "Classify"},
	)
	mem.Seed("prompt_tags",
		store.Record{"prompt_id": "p1", "tag_id": "a"},
		store.Record{"prompt_id": "p1", "tag_id": "c"},
		store.Record{"prompt_id": "p2", "tag_id": "a"},
		store.Record{"prompt_id": "p2", "tag_id": "b"},
	)
	mem.Seed("prompt_models",
		store.Record{"prompt_id": "p1", "model_id": "m1"},
		store.Record{"prompt_id": "p2", "model_id": "m2"},
	)

	rec := storetest.New(mem)
	audit := &auditLog{}
	opts.Audit = audit
	return &fixture{svc: NewService(rec, catalog, opts), rec: rec, mem: mem, audit: audit}
}

func mustFilter(t *testing.T, field string, op query.Operator, v any) query.Filter {
	t.Helper()
	f, err := query.NewFilter(field, op, v)
	if err != nil {
		t.Fatalf("NewFilter(%s) error = %v", field, err)
	}
	return f
}

func recordIDs(rows []store.Record) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i], _ = r["id"].(string)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func byID() []query.Sorter {
	return []query.Sorter{{Field: "id", Order: query.Asc}}
}

func TestGetList_ValidationErrorIssuesNoStoreCall(t *testing.T) {
	tests := []struct {
		name    string
		filters []query.Filter
		sorters []query.Sorter
		page    *query.Pagination
	}{
		{
			name:    "operator value mismatch",
			filters: []query.Filter{{Field: "title", Operator: query.OpIn, Value: query.Scalar("x")}},
		},
		{
			name:    "mismatch on relation filter",
			filters: []query.Filter{{Field: "tag_id", Operator: query.OpEq, Value: query.Sequence("a", "b")}},
		},
		{
			name:    "unparseable dotted field",
			filters: []query.Filter{{Field: "a.b.c", Operator: query.OpEq, Value: query.Scalar("x")}},
		},
		{
			name:    "bad sorter",
			sorters: []query.Sorter{{Field: "title", Order: "sideways"}},
		},
		{
			name: "zero page",
			page: &query.Pagination{Page: 0, PageSize: 10, Mode: query.PaginationServer},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, Options{})
			_, err := fx.svc.GetList(context.Background(), ListParams{
				Entity:     "prompts",
				Filters:    tt.filters,
				Sorters:    tt.sorters,
				Pagination: tt.page,
			})
			if !query.IsValidationError(err) {
				t.Fatalf("GetList() error = %v, want ValidationError", err)
			}
			if calls := fx.rec.Calls(); len(calls) != 0 {
				t.Errorf("store calls = %v, want none", fx.rec.Ops())
			}
		})
	}
}

func TestGetList_RelationFilters(t *testing.T) {
	tests := []struct {
		name    string
		filters []query.Filter
		want    []string
	}{
		{
			name:    "single relation",
			filters: []query.Filter{mustFilter(t, "tag_id", query.OpEq, "a")},
			want:    []string{"p1", "p2"},
		},
		{
			name: "intersection across relations",
			filters: []query.Filter{
				mustFilter(t, "tag_id", query.OpEq, "a"),
				mustFilter(t, "model_id", query.OpEq, "m2"),
			},
			want: []string{"p2"},
		},
		{
			name: "relation plus local filter",
			filters: []query.Filter{
				mustFilter(t, "tag_id", query.OpIn, []any{"a", "b"}),
				mustFilter(t, "title", query.OpContains, "sum"),
			},
			want: []string{"p1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, Options{})
			got, err := fx.svc.GetList(context.Background(), ListParams{
				Entity:  "prompts",
				Filters: tt.filters,
				Sorters: byID(),
			})
			if err != nil {
				t.Fatalf("GetList() error = %v", err)
			}
			if ids := recordIDs(got.Data); !equalStrings(ids, tt.want) {
				t.Errorf("GetList() ids = %v, want %v", ids, tt.want)
			}
			if got.Total != int64(len(tt.want)) {
				t.Errorf("GetList() total = %d, want %d", got.Total, len(tt.want))
			}
		})
	}
}

func TestGetList_EmptyIntersectionShortCircuits(t *testing.T) {
	fx := newFixture(t, Options{})
	got, err := fx.svc.GetList(context.Background(), ListParams{
		Entity: "prompts",
		Filters: []query.Filter{
			mustFilter(t, "tag_id", query.OpEq, "c"),
			mustFilter(t, "model_id", query.OpEq, "m2"),
		},
	})
	if err != nil {
		t.Fatalf("GetList() error = %v", err)
	}
	if len(got.Data) != 0 || got.Total != 0 {
		t.Errorf("GetList() = %v total %d, want empty", got.Data, got.Total)
	}
	if got.Data == nil {
		t.Error("GetList() data = nil, want empty slice")
	}
	if calls := fx.rec.CallsTo("select", "prompts"); len(calls) != 0 {
		t.Errorf("primary selects = %d, want 0", len(calls))
	}
	if calls := fx.rec.CallsTo("select", ""); len(calls) != 2 {
		t.Errorf("junction selects = %v, want 2", fx.rec.Ops())
	}
}

func TestGetList_PaginationAndJoins(t *testing.T) {
	fx := newFixture(t, Options{})
	ctx := context.Background()

	got, err := fx.svc.GetList(ctx, ListParams{
		Entity:     "prompts",
		Sorters:    byID(),
		Pagination: &query.Pagination{Page: 2, PageSize: 2, Mode: query.PaginationServer},
	})
	if err != nil {
		t.Fatalf("GetList() error = %v", err)
	}
	if ids := recordIDs(got.Data); !equalStrings(ids, []string{"p3"}) || got.Total != 3 {
		t.Errorf("page 2 = %v total %d, want [p3] total 3", ids, got.Total)
	}
	calls := fx.rec.CallsTo("select", "prompts")
	if w := calls[0].Select.Window; w == nil || w.From != 2 || w.To != 3 {
		t.Errorf("window = %+v, want [2,3]", w)
	}

	got, err = fx.svc.GetList(ctx, ListParams{
		Entity:  "models",
		Filters: []query.Filter{mustFilter(t, "providers.name", query.OpEq, "OpenAI")},
		Sorters: []query.Sorter{{Field: "name", Order: query.Desc}},
	})
	if err != nil {
		t.Fatalf("GetList(join) error = %v", err)
	}
	if ids := recordIDs(got.Data); !equalStrings(ids, []string{"m3", "m1"}) {
		t.Errorf("join filter ids = %v, want [m3 m1]", ids)
	}
}

func TestGetList_ContainsMatchesLiterally(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.mem.Seed("prompts",
		store.Record{"id": "p4", "title": "50% off"},
		store.Record{"id": "p5", "title": "snake_case"},
	)

	tests := []struct {
		value string
		want  []string
	}{
		{"_", []string{"p5"}},
		{"50%", []string{"p4"}},
		{"0%", []string{"p4"}},
		{"SNAKE", []string{"p5"}},
		{`\`, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := fx.svc.GetList(context.Background(), ListParams{
				Entity:  "prompts",
				Filters: []query.Filter{mustFilter(t, "title", query.OpContains, tt.value)},
				Sorters: byID(),
			})
			if err != nil {
				t.Fatalf("GetList() error = %v", err)
			}
			if ids := recordIDs(got.Data); !equalStrings(ids, tt.want) {
				t.Errorf("contains %q = %v, want %v", tt.value, ids, tt.want)
			}
		})
	}
}

func TestGetList_UnknownEntity(t *testing.T) {
	fx := newFixture(t, Options{})
	_, err := fx.svc.GetList(context.Background(), ListParams{Entity: "ghosts"})
	if !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("GetList() error = %v, want ErrUnknownEntity", err)
	}
}

func TestGetOneAndMany(t *testing.T) {
	fx := newFixture(t, Options{})
	ctx := context.Background()

	rec, err := fx.svc.GetOne(ctx, "models", "m2", query.SelectMeta{Select: "id,name,providers(name)"})
	if err != nil {
		t.Fatalf("GetOne() error = %v", err)
	}
	provider, _ := rec["providers"].(store.Record)
	if rec["name"] != "atlas" || provider["name"] != "Acme" {
		t.Errorf("GetOne() = %v", rec)
	}

	if _, err := fx.svc.GetOne(ctx, "models", "ghost", query.SelectMeta{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetOne(ghost) error = %v, want ErrNotFound", err)
	}

	many, err := fx.svc.GetMany(ctx, "models", []any{"m3", "ghost", "m1"}, query.SelectMeta{})
	if err != nil {
		t.Fatalf("GetMany() error = %v", err)
	}
	got := recordIDs(many)
	sort.Strings(got)
	if !equalStrings(got, []string{"m1", "m3"}) {
		t.Errorf("GetMany() = %v, want [m1 m3]", got)
	}

	if _, err := fx.svc.GetOne(ctx, "prompt_tags", "p1", query.SelectMeta{}); !query.IsValidationError(err) {
		t.Errorf("GetOne(junction) error = %v, want ValidationError", err)
	}
}

func TestSingleMutations(t *testing.T) {
	fx := newFixture(t, Options{})
	ctx := WithRequestInfo(context.Background(), RequestInfo{IPAddress: "10.0.0.1", UserAgent: "test"})

	created, err := fx.svc.Create(ctx, "models",
		store.Record{"id": "m9", "provider_id": "acme", "name": "new"},
		query.SelectMeta{Select: "id,name,providers(name)"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if provider, _ := created["providers"].(store.Record); provider["name"] != "Acme" {
		t.Errorf("Create() = %v, want providers embed", created)
	}

	updated, err := fx.svc.Update(ctx, "models", "m9", store.Record{"name": "renamed"}, query.SelectMeta{})
	if err != nil || updated["name"] != "renamed" {
		t.Fatalf("Update() = %v, %v", updated, err)
	}
	if _, err := fx.svc.Update(ctx, "models", "ghost", store.Record{"name": "x"}, query.SelectMeta{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(ghost) error = %v, want ErrNotFound", err)
	}
	if _, err := fx.svc.Update(ctx, "models", "m9", store.Record{}, query.SelectMeta{}); !query.IsValidationError(err) {
		t.Errorf("Update(empty) error = %v, want ValidationError", err)
	}

	deleted, err := fx.svc.DeleteOne(ctx, "models", "m9", query.SelectMeta{})
	if err != nil || deleted["id"] != "m9" {
		t.Fatalf("DeleteOne() = %v, %v", deleted, err)
	}
	if _, err := fx.svc.DeleteOne(ctx, "models", "m9", query.SelectMeta{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteOne(again) error = %v, want ErrNotFound", err)
	}

	_, err = fx.svc.Create(ctx, "models", store.Record{"id": "m1", "provider_id": "openai", "name": "dup"}, query.SelectMeta{})
	if !store.HasCode(err, store.CodeUniqueViolation) {
		t.Errorf("Create(duplicate) error = %v, want unique violation", err)
	}

	entries := fx.audit.all()
	wantActions := []AuditAction{ActionCreate, ActionUpdate, ActionDelete}
	if len(entries) != len(wantActions) {
		t.Fatalf("audit entries = %d, want %d", len(entries), len(wantActions))
	}
	for i, e := range entries {
		if e.Action != wantActions[i] {
			t.Errorf("audit[%d].Action = %s, want %s", i, e.Action, wantActions[i])
		}
		if e.IPAddress != "10.0.0.1" || e.UserAgent != "test" {
			t.Errorf("audit[%d] client = %s %s", i, e.IPAddress, e.UserAgent)
		}
	}
	if entries[2].Severity != SeverityHigh {
		t.Errorf("delete severity = %s, want high", entries[2].Severity)
	}
}

func TestListEntities(t *testing.T) {
	fx := newFixture(t, Options{})
	infos := fx.svc.ListEntities()
	if len(infos) != fx.svc.Registry().Len() {
		t.Fatalf("ListEntities() = %d entries, want %d", len(infos), fx.svc.Registry().Len())
	}
	for _, info := range infos {
		if info.Key != "prompts" {
			continue
		}
		if len(info.Relations) != 2 || info.IDColumn != "id" {
			t.Errorf("prompts info = %+v", info)
		}
		return
	}
	t.Error("prompts not listed")
}

func queryMeta() query.SelectMeta { return query.SelectMeta{} }
