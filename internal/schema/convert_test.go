package schema

import (
	"testing"
	"time"
)

// ----------------------------------------------------------------------------
// Convert Tests
// ----------------------------------------------------------------------------

func TestConvert(t *testing.T) {
	tests := []struct {
		name    string
		typ     FieldType
		input   string
		want    any
		wantErr bool
	}{
		// Empty cells are NULL regardless of type
		{name: "empty text", typ: FieldText, input: "  ", want: nil},
		{name: "empty int", typ: FieldInt, input: "", want: nil},

		// Text
		{name: "text trimmed", typ: FieldText, input: "  hello ", want: "hello"},
		{name: "excel formula text", typ: FieldText, input: `="00123"`, want: "00123"},

		// Integers
		{name: "int", typ: FieldInt, input: "128000", want: int64(128000)},
		{name: "int with separators", typ: FieldInt, input: "1,000", want: int64(1000)},
		{name: "int accounting negative", typ: FieldInt, input: "(5)", want: int64(-5)},
		{name: "int garbage", typ: FieldInt, input: "12a", wantErr: true},

		// Numeric
		{name: "numeric currency", typ: FieldNumeric, input: "$1,234.50", want: 1234.5},
		{name: "numeric euro", typ: FieldNumeric, input: "€10", want: 10.0},
		{name: "numeric scientific", typ: FieldNumeric, input: "1e3", want: 1000.0},
		{name: "numeric garbage", typ: FieldNumeric, input: "ten", wantErr: true},

		// Booleans
		{name: "bool yes", typ: FieldBool, input: "Yes", want: true},
		{name: "bool 0", typ: FieldBool, input: "0", want: false},
		{name: "bool garbage", typ: FieldBool, input: "maybe", wantErr: true},

		// Dates
		{name: "iso date", typ: FieldDate, input: "2024-01-15", want: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{name: "us date", typ: FieldDate, input: "1/15/2024", want: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{name: "bad date", typ: FieldDate, input: "15th of Jan", wantErr: true},

		// Timestamps
		{name: "rfc3339", typ: FieldTimestamp, input: "2024-01-15T10:30:00Z", want: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{name: "timestamp from date", typ: FieldTimestamp, input: "2024-01-15", want: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Convert(tt.typ, tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Convert(%v, %q) error = %v, wantErr %v", tt.typ, tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if ts, ok := tt.want.(time.Time); ok {
				gotTS, ok := got.(time.Time)
				if !ok || !gotTS.Equal(ts) {
					t.Errorf("Convert(%v, %q) = %v, want %v", tt.typ, tt.input, got, ts)
				}
				return
			}
			if got != tt.want {
				t.Errorf("Convert(%v, %q) = %#v, want %#v", tt.typ, tt.input, got, tt.want)
			}
		})
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  plain  ", "plain"},
		{`="ABC"`, "ABC"},
		{"=42", "42"},
		{`"quoted"`, "quoted"},
		{"'single'", "single"},
	}
	for _, tt := range tests {
		if got := CleanCell(tt.input); got != tt.want {
			t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
