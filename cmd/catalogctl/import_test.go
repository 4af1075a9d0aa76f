package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/catalog/internal/core"
)

func TestParseMappings(t *testing.T) {
	got, err := parseMappings([]string{"Name=title", " Tag IDs = tags "})
	if err != nil {
		t.Fatal(err)
	}
	if got["Name"] != "title" || got["Tag IDs"] != "tags" {
		t.Errorf("parseMappings = %v", got)
	}

	for _, bad := range []string{"title", "=title", "Name="} {
		if _, err := parseMappings([]string{bad}); err == nil {
			t.Errorf("parseMappings(%q) succeeded, want error", bad)
		}
	}

	if got, err := parseMappings(nil); err != nil || got != nil {
		t.Errorf("parseMappings(nil) = %v, %v", got, err)
	}
}

func TestSummarize(t *testing.T) {
	clean := fileOutcome{path: "a.csv", report: &core.ImportReport{Phase: core.PhaseCompleted, SuccessCount: 3}}
	partial := fileOutcome{path: "b.csv", report: &core.ImportReport{Phase: core.PhaseCompleted, SuccessCount: 1, FailedCount: 1}}
	broken := fileOutcome{path: "c.csv", err: errors.New("no such file")}
	unexported := fileOutcome{path: "d.csv", report: &core.ImportReport{Phase: core.PhaseCompleted, SuccessCount: 2},
		exportErr: errors.New("read-only file system")}

	if err := summarize([]fileOutcome{clean}); err != nil {
		t.Errorf("summarize(clean) = %v, want nil", err)
	}
	err := summarize([]fileOutcome{clean, partial, broken})
	if err == nil || !strings.Contains(err.Error(), "2 of 3") {
		t.Errorf("summarize = %v, want 2 of 3 unclean", err)
	}
	err = summarize([]fileOutcome{clean, unexported})
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Errorf("summarize = %v, want the export failure counted", err)
	}
}

func TestWriteFailedRows(t *testing.T) {
	dir := t.TempDir()
	report := &core.ImportReport{
		FileName: "tags.csv",
		Headers:  []string{"id", "name"},
		Rows: []core.RowResult{
			{Line: 2, Status: core.RowSuccess},
			{Line: 3, Status: core.RowFailed, Data: map[string]string{"id": "a", "name": ""},
				Error: &core.RowError{Kind: core.KindMissing, Message: "Missing required field: name"}},
		},
	}
	path := filepath.Join(dir, "tags_failed.csv")
	if err := writeFailedRows(path, report); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "id,name,error\na,,Missing required field: name\n"
	if string(data) != want {
		t.Errorf("failed rows = %q, want %q", data, want)
	}
}

func TestFailedRowsNames(t *testing.T) {
	tests := []struct {
		name  string
		files []string
		want  []string
	}{
		{"distinct", []string{"a/tags.csv", "b/models.csv"}, []string{"tags_failed.csv", "models_failed.csv"}},
		{"shared base", []string{"a/x.csv", "b/x.csv", "c/y.csv"}, []string{"x_1_failed.csv", "x_2_failed.csv", "y_failed.csv"}},
		{"no extension", []string{"data"}, []string{"data_failed.csv"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := failedRowsNames(tt.files)
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("failedRowsNames(%v) = %v, want %v", tt.files, got, tt.want)
			}
		})
	}
}
