package core

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestReadSheet(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantHeaders []string
		wantRows    int
		wantFirst   map[string]string
		wantLine    int
	}{
		{
			name:        "plain",
			input:       "id,name\na,Alpha\nb,Beta\n",
			wantHeaders: []string{"id", "name"},
			wantRows:    2,
			wantFirst:   map[string]string{"id": "a", "name": "Alpha"},
			wantLine:    2,
		},
		{
			name:        "bom and blank lines",
			input:       "\ufeff\n\nid,name\n\na,Alpha\n,\n",
			wantHeaders: []string{"id", "name"},
			wantRows:    1,
			wantFirst:   map[string]string{"id": "a", "name": "Alpha"},
			wantLine:    5,
		},
		{
			name:        "duplicate and blank headers",
			input:       "name,,name\nx,y,z\n",
			wantHeaders: []string{"name", "column_2", "name_2"},
			wantRows:    1,
			wantFirst:   map[string]string{"name": "x", "column_2": "y", "name_2": "z"},
			wantLine:    2,
		},
		{
			name:        "short row",
			input:       "id,name,website\na,Alpha\n",
			wantHeaders: []string{"id", "name", "website"},
			wantRows:    1,
			wantFirst:   map[string]string{"id": "a", "name": "Alpha"},
			wantLine:    2,
		},
		{
			name:        "invalid utf8 replaced",
			input:       "id,name\na,Caf\xe9\n",
			wantHeaders: []string{"id", "name"},
			wantRows:    1,
			wantFirst:   map[string]string{"id": "a", "name": "Caf\ufffd"},
			wantLine:    2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sheet, err := ReadSheet(strings.NewReader(tt.input), "in.csv")
			if err != nil {
				t.Fatalf("ReadSheet() error = %v", err)
			}
			if !equalStrings(sheet.Headers, tt.wantHeaders) {
				t.Errorf("Headers = %v, want %v", sheet.Headers, tt.wantHeaders)
			}
			if len(sheet.Rows) != tt.wantRows {
				t.Fatalf("rows = %d, want %d", len(sheet.Rows), tt.wantRows)
			}
			first := sheet.Rows[0]
			for k, want := range tt.wantFirst {
				if first.Values[k] != want {
					t.Errorf("Values[%q] = %q, want %q", k, first.Values[k], want)
				}
			}
			if first.Line != tt.wantLine {
				t.Errorf("Line = %d, want %d", first.Line, tt.wantLine)
			}
		})
	}
}

func TestReadSheet_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty file", "", "empty file"},
		{"only blank lines", "\n,,\n", "empty file"},
		{"header only", "id,name\n", "no data rows"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadSheet(strings.NewReader(tt.input), "in.csv")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("ReadSheet() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	_, err := ReadSheet(strings.NewReader("id\n"), "in.csv")
	if !errors.Is(err, ErrNoDataRows) {
		t.Errorf("error = %v, want ErrNoDataRows", err)
	}
	if got := MapError(err).Code; got != "IMP005" {
		t.Errorf("MapError code = %s, want IMP005", got)
	}
}

func TestExportFailedRows(t *testing.T) {
	report := &ImportReport{
		Headers: []string{"id", "title"},
		Rows: []RowResult{
			{Line: 2, Status: RowSuccess},
			{Line: 3, Status: RowFailed, Data: map[string]string{"id": "p9", "title": "Has, comma"},
				Error: &RowError{Kind: KindDuplicate, Message: "Duplicate key: id=p9 already exists"}},
			{Line: 4, Status: RowFailed, Data: map[string]string{"id": ""},
				Error: &RowError{Kind: KindMissing, Message: "Missing required field: title"}},
		},
	}

	var buf bytes.Buffer
	if err := ExportFailedRows(&buf, report); err != nil {
		t.Fatalf("ExportFailedRows() error = %v", err)
	}
	want := "id,title,error\n" +
		"p9,\"Has, comma\",Duplicate key: id=p9 already exists\n" +
		",,Missing required field: title\n"
	if buf.String() != want {
		t.Errorf("output =\n%s\nwant\n%s", buf.String(), want)
	}

	// Round trip: the export is itself a valid sheet.
	sheet, err := ReadSheet(&buf, "failed.csv")
	if err != nil {
		t.Fatalf("ReadSheet(export) error = %v", err)
	}
	if len(sheet.Rows) != 2 || sheet.Rows[0].Values["title"] != "Has, comma" {
		t.Errorf("re-read = %+v", sheet.Rows)
	}
}
