package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/JonMunkholm/catalog/internal/query"
	"github.com/JonMunkholm/catalog/internal/store"
	"github.com/JonMunkholm/catalog/internal/store/storetest"
)

func TestUpdateMany_PartialFailure(t *testing.T) {
	fx := newFixture(t, Options{})
	boom := errors.New("connection reset by peer")
	fx.rec.FailWhen(func(c storetest.Call) error {
		if id, _ := c.MatchValue("id"); c.Op == "update" && id == "m2" {
			return boom
		}
		return nil
	})

	ids := []any{"m1", "m2", "m3"}
	results, err := fx.svc.UpdateMany(context.Background(), "models", ids, store.Record{"is_active": false}, query.SelectMeta{})
	if err != nil {
		t.Fatalf("UpdateMany() error = %v", err)
	}
	if len(results) != len(ids) {
		t.Fatalf("results = %d, want %d", len(results), len(ids))
	}
	for i, want := range []bool{true, false, true} {
		if results[i].OK() != want {
			t.Errorf("results[%d].OK() = %v, want %v (err %v)", i, results[i].OK(), want, results[i].Err)
		}
	}
	if !errors.Is(results[1].Err, boom) {
		t.Errorf("results[1].Err = %v, want %v", results[1].Err, boom)
	}
	for i, id := range []string{"m1", "m3"} {
		r := results[i*2]
		if r.Data["id"] != id || r.Data["is_active"] != false {
			t.Errorf("results[%d].Data = %v", i*2, r.Data)
		}
	}
	if calls := fx.rec.CallsTo("update", "models"); len(calls) != 3 {
		t.Errorf("update calls = %d, want one per record", len(calls))
	}

	entries := fx.audit.all()
	if len(entries) != 1 || entries[0].RowsAffected != 2 || entries[0].RowsFailed != 1 {
		t.Errorf("audit = %+v, want one bulk entry with 2 ok and 1 failed", entries)
	}
}

func TestCreateMany_PositionalResults(t *testing.T) {
	fx := newFixture(t, Options{})
	records := []store.Record{
		{"id": "x1", "name": "X1"},
		{"id": "openai", "name": "duplicate"},
		{"id": "x3"},
		{"id": "x4", "name": "X4"},
	}

	results, err := fx.svc.CreateMany(context.Background(), "providers", records, query.SelectMeta{})
	if err != nil {
		t.Fatalf("CreateMany() error = %v", err)
	}

	tests := []struct {
		index    int
		wantID   string
		wantCode string
	}{
		{0, "x1", ""},
		{1, "", store.CodeUniqueViolation},
		{2, "", store.CodeNotNullViolation},
		{3, "x4", ""},
	}
	for _, tt := range tests {
		r := results[tt.index]
		if tt.wantCode == "" {
			if r.Err != nil || r.Data["id"] != tt.wantID {
				t.Errorf("results[%d] = %v, %v; want id %s", tt.index, r.Data, r.Err, tt.wantID)
			}
			continue
		}
		if !store.HasCode(r.Err, tt.wantCode) {
			t.Errorf("results[%d].Err = %v, want code %s", tt.index, r.Err, tt.wantCode)
		}
	}
	if calls := fx.rec.CallsTo("insert", "providers"); len(calls) != len(records) {
		t.Errorf("insert calls = %d, want %d", len(calls), len(records))
	}
}

func TestDeleteMany(t *testing.T) {
	fx := newFixture(t, Options{})
	results, err := fx.svc.DeleteMany(context.Background(), "tags", []any{"b", "ghost"}, query.SelectMeta{})
	if err != nil {
		t.Fatalf("DeleteMany() error = %v", err)
	}
	if !results[0].OK() || results[0].Data["id"] != "b" {
		t.Errorf("results[0] = %+v", results[0])
	}
	if !errors.Is(results[1].Err, ErrNotFound) {
		t.Errorf("results[1].Err = %v, want ErrNotFound", results[1].Err)
	}
	for _, row := range fx.mem.Rows("prompt_tags") {
		if row["tag_id"] == "b" {
			t.Errorf("junction row %v survived tag delete", row)
		}
	}
}

func TestBulk_RequestErrors(t *testing.T) {
	fx := newFixture(t, Options{})
	ctx := context.Background()

	if _, err := fx.svc.UpdateMany(ctx, "ghosts", []any{"1"}, store.Record{"a": 1}, query.SelectMeta{}); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("UpdateMany(unknown) error = %v", err)
	}
	if _, err := fx.svc.UpdateMany(ctx, "models", []any{"m1"}, nil, query.SelectMeta{}); !query.IsValidationError(err) {
		t.Errorf("UpdateMany(no values) error = %v", err)
	}
	if _, err := fx.svc.DeleteMany(ctx, "prompt_tags", []any{"p1"}, query.SelectMeta{}); !query.IsValidationError(err) {
		t.Errorf("DeleteMany(junction) error = %v", err)
	}
	if len(fx.rec.Calls()) != 0 {
		t.Errorf("store calls = %v, want none", fx.rec.Ops())
	}

	results, err := fx.svc.CreateMany(ctx, "tags", nil, query.SelectMeta{})
	if err != nil || len(results) != 0 {
		t.Errorf("CreateMany(nil) = %v, %v", results, err)
	}
}

func TestResult_MarshalJSON(t *testing.T) {
	ok, err := json.Marshal(Result{Data: store.Record{"id": "a"}})
	if err != nil {
		t.Fatal(err)
	}
	if string(ok) != `{"ok":true,"data":{"id":"a"}}` {
		t.Errorf("ok result = %s", ok)
	}

	failed, err := json.Marshal(Result{Err: &store.Error{Op: "insert", Table: "tags", Code: store.CodeUniqueViolation}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(failed), `"ok":false`) || !strings.Contains(string(failed), `"code":"DB001"`) {
		t.Errorf("failed result = %s", failed)
	}
}
