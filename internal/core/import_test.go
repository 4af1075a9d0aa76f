package core

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/JonMunkholm/catalog/internal/store"
	"github.com/JonMunkholm/catalog/internal/store/storetest"
)

func sheetOf(headers []string, rows ...[]string) Sheet {
	s := Sheet{Name: "test.csv", Headers: headers}
	for i, cells := range rows {
		values := make(map[string]string, len(headers))
		for j, h := range headers {
			values[h] = cells[j]
		}
		s.Rows = append(s.Rows, Row{Line: i + 2, Values: values})
	}
	return s
}

func tagsOf(mem interface{ Rows(string) []store.Record }, prompt string) []string {
	var out []string
	for _, r := range mem.Rows("prompt_tags") {
		if r["prompt_id"] == prompt {
			out = append(out, r["tag_id"].(string))
		}
	}
	sort.Strings(out)
	return out
}

func TestRunImport_UpsertRouting(t *testing.T) {
	fx := newFixture(t, Options{})
	sheet := sheetOf([]string{"id", "title"},
		[]string{"p1", "Summarize v2"},
		[]string{"", "Fresh"},
		[]string{"p9", "Brand new with id"},
	)

	report, err := fx.svc.RunImport(context.Background(), ImportSpec{Entity: "prompts"}, sheet)
	if err != nil {
		t.Fatalf("RunImport() error = %v", err)
	}
	if report.SuccessCount != 3 || report.FailedCount != 0 {
		t.Fatalf("report = %d ok %d failed: %+v", report.SuccessCount, report.FailedCount, report.Rows)
	}

	wantActions := []RowAction{ActionUpserted, ActionCreated, ActionUpserted}
	for i, want := range wantActions {
		if report.Rows[i].Action != want {
			t.Errorf("row %d action = %s, want %s", i, report.Rows[i].Action, want)
		}
	}

	updates := fx.rec.CallsTo("update", "prompts")
	if len(updates) != 2 {
		t.Fatalf("update calls = %d, want 2", len(updates))
	}
	for i, want := range []string{"p1", "p9"} {
		if id, _ := updates[i].MatchValue("id"); id != want {
			t.Errorf("update[%d] id = %v, want %s", i, id, want)
		}
	}

	inserts := fx.rec.CallsTo("insert", "prompts")
	if len(inserts) != 2 {
		t.Fatalf("insert calls = %d, want 2 (create and upsert miss)", len(inserts))
	}
	if _, hasID := inserts[0].Records[0]["id"]; hasID || inserts[0].Records[0]["title"] != "Fresh" {
		t.Errorf("create insert = %v, want title only", inserts[0].Records[0])
	}
	if inserts[1].Records[0]["id"] != "p9" {
		t.Errorf("upsert insert = %v, want id p9", inserts[1].Records[0])
	}
	if id, _ := report.Rows[1].ID.(string); id == "" {
		t.Error("created row has no store-assigned id")
	}
}

func TestRunImport_JunctionResyncOnUpsert(t *testing.T) {
	fx := newFixture(t, Options{})
	sheet := sheetOf([]string{"id", "title", "tags"},
		[]string{"p1", "Summarize", "a,b"},
	)

	report, err := fx.svc.RunImport(context.Background(), ImportSpec{Entity: "prompts"}, sheet)
	if err != nil || report.SuccessCount != 1 {
		t.Fatalf("RunImport() = %+v, %v", report, err)
	}

	deletes := fx.rec.CallsTo("delete", "prompt_tags")
	if len(deletes) != 1 {
		t.Fatalf("junction deletes = %d, want 1", len(deletes))
	}
	if owner, _ := deletes[0].MatchValue("prompt_id"); owner != "p1" || len(deletes[0].Match) != 1 {
		t.Errorf("delete match = %v, want prompt_id = p1 only", deletes[0].Match)
	}

	inserts := fx.rec.CallsTo("insert", "prompt_tags")
	if len(inserts) != 1 {
		t.Fatalf("junction inserts = %d, want 1", len(inserts))
	}
	var inserted []string
	for _, r := range inserts[0].Records {
		if r["prompt_id"] != "p1" {
			t.Errorf("junction record %v, want prompt_id p1", r)
		}
		inserted = append(inserted, r["tag_id"].(string))
	}
	if !equalStrings(inserted, []string{"a", "b"}) {
		t.Errorf("inserted tags = %v, want [a b]", inserted)
	}

	ops := fx.rec.Ops()
	del, ins := -1, -1
	for i, op := range ops {
		switch op {
		case "delete prompt_tags":
			del = i
		case "insert prompt_tags":
			ins = i
		}
	}
	if del < 0 || ins < del {
		t.Errorf("ops = %v, want delete before insert", ops)
	}

	if got := tagsOf(fx.mem, "p1"); !equalStrings(got, []string{"a", "b"}) {
		t.Errorf("final tags of p1 = %v, want [a b]", got)
	}
	if got := tagsOf(fx.mem, "p2"); !equalStrings(got, []string{"a", "b"}) {
		t.Errorf("tags of p2 = %v, want untouched [a b]", got)
	}
}

func TestRunImport_CreateSkipsJunctionDelete(t *testing.T) {
	fx := newFixture(t, Options{})
	sheet := sheetOf([]string{"title", "tags", "models"},
		[]string{"New prompt", "c", "m1, m2"},
	)

	report, err := fx.svc.RunImport(context.Background(), ImportSpec{Entity: "prompts"}, sheet)
	if err != nil || report.SuccessCount != 1 {
		t.Fatalf("RunImport() = %+v, %v", report, err)
	}
	if calls := fx.rec.CallsTo("delete", ""); len(calls) != 0 {
		t.Errorf("deletes = %v, want none on create", fx.rec.Ops())
	}
	id := report.Rows[0].ID.(string)
	if got := tagsOf(fx.mem, id); !equalStrings(got, []string{"c"}) {
		t.Errorf("tags = %v, want [c]", got)
	}
	if calls := fx.rec.CallsTo("insert", "prompt_models"); len(calls) != 1 || len(calls[0].Records) != 2 {
		t.Errorf("prompt_models inserts = %+v, want one insert of 2", calls)
	}
}

func TestRunImport_RowFailureIsolation(t *testing.T) {
	fx := newFixture(t, Options{})
	sheet := sheetOf([]string{"title", "body"},
		[]string{"one", "first"},
		[]string{"", "no title"},
		[]string{"three", "third"},
	)

	report, err := fx.svc.RunImport(context.Background(), ImportSpec{Entity: "prompts"}, sheet)
	if err != nil {
		t.Fatalf("RunImport() error = %v", err)
	}
	if report.SuccessCount != 2 || report.FailedCount != 1 {
		t.Fatalf("report = %d ok / %d failed, want 2 / 1", report.SuccessCount, report.FailedCount)
	}
	if report.Phase != PhaseCompleted {
		t.Errorf("phase = %s, want completed", report.Phase)
	}

	failed := report.Rows[1]
	if failed.Status != RowFailed || failed.Error.Kind != KindMissing || failed.Error.Column != "title" {
		t.Errorf("row 2 = %+v, want missing title", failed)
	}
	if failed.Data["body"] != "no title" {
		t.Errorf("failed row data = %v, want original cells", failed.Data)
	}

	titles := map[string]bool{}
	for _, r := range fx.mem.Rows("prompts") {
		titles[r["title"].(string)] = true
	}
	if !titles["one"] || !titles["three"] {
		t.Errorf("prompts = %v, want rows 1 and 3 written", titles)
	}
}

func TestRunImport_StoreFailuresAreClassified(t *testing.T) {
	fx := newFixture(t, Options{})
	fx.rec.FailWhen(func(c storetest.Call) error {
		if c.Op == "insert" && c.Table == "prompt_tags" {
			return errors.New("connection reset")
		}
		return nil
	})
	sheet := sheetOf([]string{"id", "title", "category_id", "tags"},
		[]string{"p1", "Dup check", "", ""},
		[]string{"p7", "Bad category", "nope", ""},
		[]string{"p8", "Tag write fails", "", "a"},
	)

	report, err := fx.svc.RunImport(context.Background(), ImportSpec{Entity: "prompts"}, sheet)
	if err != nil {
		t.Fatalf("RunImport() error = %v", err)
	}

	tests := []struct {
		row      int
		status   RowStatus
		wantKind RowErrorKind
	}{
		{0, RowSuccess, ""},
		{1, RowFailed, KindForeignKey},
		{2, RowFailed, KindOther},
	}
	for _, tt := range tests {
		got := report.Rows[tt.row]
		if got.Status != tt.status {
			t.Errorf("row %d status = %s, want %s", tt.row, got.Status, tt.status)
			continue
		}
		if tt.wantKind != "" && got.Error.Kind != tt.wantKind {
			t.Errorf("row %d kind = %s, want %s (%s)", tt.row, got.Error.Kind, tt.wantKind, got.Error.Message)
		}
	}
	if fk := report.Rows[1].Error; fk.Column != "category_id" || fk.Value != "nope" {
		t.Errorf("fk error = %+v, want category_id=nope", fk)
	}
	// The entity write is kept even though its relations failed.
	if _, err := fx.svc.GetOne(context.Background(), "prompts", "p8", queryMeta()); err != nil {
		t.Errorf("p8 not written: %v", err)
	}
}

func TestRunImport_RelationValidationIsAdvisory(t *testing.T) {
	fx := newFixture(t, Options{})
	sheet := sheetOf([]string{"id", "title", "tags"},
		[]string{"p1", "Summarize", "a, zz"},
		[]string{"p2", "Translate", "zz"},
		[]string{"p3", "Classify", "q1,q2,q3,q4,q5,q6"},
	)

	report, err := fx.svc.RunImport(context.Background(), ImportSpec{Entity: "prompts"}, sheet)
	if err != nil {
		t.Fatalf("RunImport() error = %v", err)
	}
	if report.SuccessCount != 3 {
		t.Fatalf("report = %+v, want all rows imported", report.Rows)
	}
	if len(report.RelationIssues) != 1 {
		t.Fatalf("relation issues = %+v, want 1", report.RelationIssues)
	}
	issue := report.RelationIssues[0]
	if issue.Field != "tags" || issue.MissingCount != 7 || len(issue.Missing) != 5 {
		t.Errorf("issue = %+v", issue)
	}
	if !strings.HasSuffix(issue.Message, "and 2 more") {
		t.Errorf("issue message = %q", issue.Message)
	}

	if got := tagsOf(fx.mem, "p1"); !equalStrings(got, []string{"a"}) {
		t.Errorf("p1 tags = %v, want [a]", got)
	}
	// Every id of p2 was dropped, so its existing links are left alone.
	if got := tagsOf(fx.mem, "p2"); !equalStrings(got, []string{"a", "b"}) {
		t.Errorf("p2 tags = %v, want untouched [a b]", got)
	}
	for _, c := range fx.rec.CallsTo("delete", "prompt_tags") {
		if owner, _ := c.MatchValue("prompt_id"); owner != "p1" {
			t.Errorf("unexpected junction delete for %v", owner)
		}
	}
}

func TestRunImport_FieldMapExcludeTransform(t *testing.T) {
	fx := newFixture(t, Options{})
	sheet := sheetOf([]string{"Model ID", "Vendor", "Display Name", "Context", "Notes"},
		[]string{"m7", "openai", "mini", "128,000", "ignored"},
		[]string{"m8", "openai", "broken", "lots", ""},
	)
	spec := ImportSpec{
		Entity: "models",
		FieldMap: map[string]string{
			"Model ID":     "id",
			"Vendor":       "provider_id",
			"Display Name": "name",
			"Context":      "context_window",
			"Notes":        "notes",
		},
		Exclude: []string{"notes"},
		Transform: func(r store.Record) (store.Record, error) {
			if name, ok := r["name"].(string); ok {
				r["name"] = strings.ToUpper(name)
			}
			return r, nil
		},
	}

	report, err := fx.svc.RunImport(context.Background(), spec, sheet)
	if err != nil {
		t.Fatalf("RunImport() error = %v", err)
	}
	if report.Rows[0].Status != RowSuccess {
		t.Fatalf("row 1 = %+v", report.Rows[0])
	}
	rec, err := fx.svc.GetOne(context.Background(), "models", "m7", queryMeta())
	if err != nil {
		t.Fatal(err)
	}
	if rec["name"] != "MINI" || rec["context_window"] != int64(128000) {
		t.Errorf("m7 = %v", rec)
	}

	bad := report.Rows[1]
	if bad.Status != RowFailed || bad.Error.Kind != KindInvalid || bad.Error.Column != "context_window" {
		t.Errorf("row 2 = %+v, want invalid context_window", bad)
	}
}

func TestRunImport_TransformErrorFailsRow(t *testing.T) {
	fx := newFixture(t, Options{})
	spec := ImportSpec{
		Entity: "tags",
		Transform: func(r store.Record) (store.Record, error) {
			if r["name"] == "bad" {
				return nil, errors.New("rejected by transform")
			}
			return r, nil
		},
	}
	sheet := sheetOf([]string{"name"}, []string{"good"}, []string{"bad"})

	report, err := fx.svc.RunImport(context.Background(), spec, sheet)
	if err != nil {
		t.Fatal(err)
	}
	if report.SuccessCount != 1 || report.Rows[1].Error.Message != "rejected by transform" {
		t.Errorf("report = %+v", report.Rows)
	}
}

func TestRunImport_CancelledBeforeStart(t *testing.T) {
	fx := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sheet := sheetOf([]string{"name"}, []string{"x"}, []string{"y"})
	report, err := fx.svc.RunImport(ctx, ImportSpec{Entity: "tags"}, sheet)
	if err != nil {
		t.Fatal(err)
	}
	if report.Phase != PhaseCancelled || report.FailedCount != 2 {
		t.Errorf("report = %s, %d failed; want cancelled, 2 failed", report.Phase, report.FailedCount)
	}
	if report.Rows[0].Error.Message != ErrImportCancelled.Error() {
		t.Errorf("row error = %q", report.Rows[0].Error.Message)
	}
	if calls := fx.rec.CallsTo("insert", ""); len(calls) != 0 {
		t.Errorf("inserts = %d, want 0", len(calls))
	}
}

// ctxStore fails any call whose context is already done, the way a
// database driver does.
type ctxStore struct {
	store.Store
}

func (s ctxStore) Select(ctx context.Context, req store.SelectRequest) (store.SelectResult, error) {
	if err := ctx.Err(); err != nil {
		return store.SelectResult{}, err
	}
	return s.Store.Select(ctx, req)
}

func (s ctxStore) Insert(ctx context.Context, table store.Table, records []store.Record) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.Insert(ctx, table, records)
}

func (s ctxStore) Update(ctx context.Context, table store.Table, values store.Record, match []store.Predicate) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.Update(ctx, table, values, match)
}

func (s ctxStore) Delete(ctx context.Context, table store.Table, match []store.Predicate) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Store.Delete(ctx, table, match)
}

// cancelOnInsert cancels when the prompt titled title is inserted.
func cancelOnInsert(fx *fixture, title string, cancel context.CancelFunc) {
	fx.rec.FailWhen(func(c storetest.Call) error {
		if c.Op == "insert" && c.Table == "prompts" && c.Records[0]["title"] == title {
			cancel()
		}
		return nil
	})
}

func TestRunImport_CancelDuringWriteCompletesRow(t *testing.T) {
	fx := newFixture(t, Options{})
	svc := NewService(ctxStore{fx.rec}, fx.svc.Registry(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelOnInsert(fx, "New", cancel)

	sheet := sheetOf([]string{"title", "tags"}, []string{"New", "a"})
	report, err := svc.RunImport(ctx, ImportSpec{Entity: "prompts"}, sheet)
	if err != nil {
		t.Fatal(err)
	}
	if report.SuccessCount != 1 || report.FailedCount != 0 {
		t.Fatalf("report = %d ok %d failed: %+v", report.SuccessCount, report.FailedCount, report.Rows)
	}
	id, _ := report.Rows[0].ID.(string)
	if got := tagsOf(fx.mem, id); !equalStrings(got, []string{"a"}) {
		t.Errorf("tags of %s = %v, want [a]", id, got)
	}
}

func TestRunImport_CancelMidRunStopsLaterRows(t *testing.T) {
	fx := newFixture(t, Options{})
	svc := NewService(ctxStore{fx.rec}, fx.svc.Registry(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelOnInsert(fx, "Second", cancel)

	sheet := sheetOf([]string{"title", "tags"},
		[]string{"First", "a"},
		[]string{"Second", "a,b"},
		[]string{"Third", "c"},
	)
	report, err := svc.RunImport(ctx, ImportSpec{Entity: "prompts"}, sheet)
	if err != nil {
		t.Fatal(err)
	}
	if report.Phase != PhaseCancelled {
		t.Errorf("phase = %s, want %s", report.Phase, PhaseCancelled)
	}
	if report.SuccessCount != 2 || report.FailedCount != 1 {
		t.Fatalf("report = %d ok %d failed: %+v", report.SuccessCount, report.FailedCount, report.Rows)
	}

	second, _ := report.Rows[1].ID.(string)
	if got := tagsOf(fx.mem, second); !equalStrings(got, []string{"a", "b"}) {
		t.Errorf("tags of in-flight row = %v, want [a b]", got)
	}

	last := report.Rows[2]
	if last.Status != RowFailed || last.Error.Message != ErrImportCancelled.Error() {
		t.Errorf("last row = %s %+v, want failed with %q", last.Status, last.Error, ErrImportCancelled)
	}
	for _, c := range fx.rec.CallsTo("insert", "prompts") {
		if c.Records[0]["title"] == "Third" {
			t.Error("row after the cancel was written")
		}
	}
}

func TestRunImport_PhaseOrder(t *testing.T) {
	fx := newFixture(t, Options{})
	p, err := fx.svc.planImport(ImportSpec{Entity: "tags"})
	if err != nil {
		t.Fatal(err)
	}

	var phases []ImportPhase
	sheet := sheetOf([]string{"name"}, []string{"x"})
	fx.svc.runImport(context.Background(), p, sheet, "run-1", func(p ImportProgress) {
		if len(phases) == 0 || phases[len(phases)-1] != p.Phase {
			phases = append(phases, p.Phase)
		}
	})

	want := []ImportPhase{PhaseParsed, PhaseRelationsValidated, PhaseImporting, PhaseCompleted}
	if len(phases) != len(want) {
		t.Fatalf("phases = %v, want %v", phases, want)
	}
	for i := range want {
		if phases[i] != want[i] {
			t.Errorf("phases[%d] = %s, want %s", i, phases[i], want[i])
		}
	}
}

func TestRunImport_InvalidSpec(t *testing.T) {
	fx := newFixture(t, Options{})
	tests := []struct {
		name string
		spec ImportSpec
	}{
		{"unknown entity", ImportSpec{Entity: "ghosts"}},
		{"junction entity", ImportSpec{Entity: "prompt_tags"}},
		{"bad relation", ImportSpec{Entity: "prompts", Relations: []ImportRelation{{Field: "tags; drop"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fx.svc.RunImport(context.Background(), tt.spec, Sheet{}); err == nil {
				t.Error("RunImport() error = nil, want error")
			}
		})
	}
}
