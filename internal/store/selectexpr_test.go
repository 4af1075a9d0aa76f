package store

import "testing"

func TestParseSelect(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "empty defaults to star", input: "", want: "*"},
		{name: "star", input: "*", want: "*"},
		{name: "columns", input: "id, name ,slug", want: "id,name,slug"},
		{name: "embed", input: "*, models(name)", want: "*,models(name)"},
		{name: "inner embed", input: "*,tags!inner(*)", want: "*,tags!inner(*)"},
		{name: "empty embed is star", input: "models()", want: "models(*)"},
		{name: "nested", input: "id,models(id,providers(name))", want: "id,models(id,providers(name))"},
		{name: "unclosed", input: "models(name", wantErr: true},
		{name: "stray paren", input: "name)", wantErr: true},
		{name: "bad char", input: "na-me", wantErr: true},
		{name: "inner without embed", input: "tags!inner", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSelect(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSelect(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.String() != tt.want {
				t.Errorf("ParseSelect(%q) = %q, want %q", tt.input, got.String(), tt.want)
			}
		})
	}
}

func TestSelectExpr_Lookup(t *testing.T) {
	expr := MustParseSelect("id,title,models!inner(name),tags(*)")

	if e := expr.Embed("models"); e == nil || !e.Inner {
		t.Errorf("Embed(models) = %+v, want inner embed", e)
	}
	if e := expr.Embed("tags"); e == nil || e.Inner {
		t.Errorf("Embed(tags) = %+v, want plain embed", e)
	}
	if e := expr.Embed("providers"); e != nil {
		t.Errorf("Embed(providers) = %+v, want nil", e)
	}
	if got := len(expr.Embeds()); got != 2 {
		t.Errorf("len(Embeds()) = %d, want 2", got)
	}
	if expr.HasStar() {
		t.Error("HasStar() = true, want false")
	}
	if !expr.Includes("title") || expr.Includes("body") {
		t.Error("Includes mismatch for explicit column list")
	}
}

func TestValidIdent(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"id", true},
		{"model_id", true},
		{"_x1", true},
		{"1abc", false},
		{"", false},
		{"a.b", false},
		{`a"b`, false},
		{"a b", false},
	}
	for _, tt := range tests {
		if got := ValidIdent(tt.in); got != tt.want {
			t.Errorf("ValidIdent(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRowWindow_Limit(t *testing.T) {
	if got := (RowWindow{From: 0, To: 9}).Limit(); got != 10 {
		t.Errorf("Limit() = %d, want 10", got)
	}
	if got := (RowWindow{From: 5, To: 4}).Limit(); got != 0 {
		t.Errorf("Limit() = %d, want 0", got)
	}
}
