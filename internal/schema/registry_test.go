package schema

import (
	"testing"

	"github.com/JonMunkholm/catalog/internal/store"
)

func testRegistry() *Registry {
	r := NewRegistry()
	r.Register(TableDefinition{
		Info:    TableInfo{Key: "providers", Group: "catalog"},
		Columns: []ColumnSpec{{Name: "id"}, {Name: "name"}},
	})
	r.Register(TableDefinition{
		Info:        TableInfo{Key: "models", Group: "catalog"},
		Columns:     []ColumnSpec{{Name: "id"}, {Name: "provider_id"}, {Name: "name"}},
		ForeignKeys: []ForeignKey{{Column: "provider_id", RefTable: "providers", RefColumn: "id"}},
	})
	r.Register(TableDefinition{
		Info:    TableInfo{Key: "model_aliases", Group: "aux", Junction: true},
		Columns: []ColumnSpec{{Name: "model_id"}, {Name: "alias"}},
		ForeignKeys: []ForeignKey{
			{Column: "model_id", RefTable: "models", RefColumn: "id"},
		},
	})
	return r
}

func TestRegistry_RegisterDefaults(t *testing.T) {
	r := testRegistry()

	def, ok := r.Get("models")
	if !ok {
		t.Fatal("Get(models) not found")
	}
	if def.IDColumn != "id" {
		t.Errorf("IDColumn = %q, want id", def.IDColumn)
	}
	if def.Info.Label != "models" {
		t.Errorf("Label = %q, want models", def.Info.Label)
	}

	junction, _ := r.Get("model_aliases")
	if junction.IDColumn != "" {
		t.Errorf("junction IDColumn = %q, want empty", junction.IDColumn)
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	r := testRegistry()
	defer func() {
		if recover() == nil {
			t.Error("Register duplicate did not panic")
		}
	}()
	r.Register(TableDefinition{Info: TableInfo{Key: "models"}})
}

func TestRegistry_Ordering(t *testing.T) {
	r := testRegistry()

	all := r.All()
	var keys []string
	for _, d := range all {
		keys = append(keys, d.Info.Key)
	}
	want := []string{"model_aliases", "models", "providers"}
	if len(keys) != len(want) {
		t.Fatalf("All() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("All()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}

	if got := r.Groups(); len(got) != 2 || got[0] != "aux" || got[1] != "catalog" {
		t.Errorf("Groups() = %v, want [aux catalog]", got)
	}
	if got := len(r.ByGroup("catalog")); got != 2 {
		t.Errorf("len(ByGroup(catalog)) = %d, want 2", got)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestRegistry_Link(t *testing.T) {
	r := testRegistry()

	tests := []struct {
		name     string
		from, to string
		want     store.Link
		wantOK   bool
	}{
		{
			name: "forward many-to-one",
			from: "models", to: "providers",
			want:   store.Link{Kind: store.LinkForward, LocalColumn: "provider_id", ForeignColumn: "id"},
			wantOK: true,
		},
		{
			name: "reverse one-to-many",
			from: "providers", to: "models",
			want:   store.Link{Kind: store.LinkReverse, LocalColumn: "id", ForeignColumn: "provider_id"},
			wantOK: true,
		},
		{name: "unrelated", from: "providers", to: "model_aliases"},
		{name: "unknown table", from: "nope", to: "models"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Link(tt.from, tt.to)
			if ok != tt.wantOK {
				t.Fatalf("Link(%s, %s) ok = %v, want %v", tt.from, tt.to, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Link(%s, %s) = %+v, want %+v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestRegistry_Columns(t *testing.T) {
	r := testRegistry()
	got := r.Columns("models")
	if len(got) != 3 || got[1] != "provider_id" {
		t.Errorf("Columns(models) = %v, want [id provider_id name]", got)
	}
	if r.Columns("missing") != nil {
		t.Error("Columns(missing) should be nil")
	}
}
