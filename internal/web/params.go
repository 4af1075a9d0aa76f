package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/JonMunkholm/catalog/internal/core"
	"github.com/JonMunkholm/catalog/internal/query"
	"github.com/JonMunkholm/catalog/internal/schema"
	"github.com/JonMunkholm/catalog/internal/store"
)

const (
	defaultPage     = 1
	defaultPageSize = 25
	maxPageSize     = 1000

	// maxJSONBody caps JSON request bodies.
	maxJSONBody = 1 << 20
)

// definition looks up the table behind an entity path segment.
func (s *Server) definition(entity string) (schema.TableDefinition, error) {
	return lookup(s.service.Registry(), entity)
}

func lookup(reg *schema.Registry, entity string) (schema.TableDefinition, error) {
	def, ok := reg.Get(entity)
	if !ok {
		return schema.TableDefinition{}, fmt.Errorf("%w: %s", core.ErrUnknownEntity, entity)
	}
	return def, nil
}

// ListParams parses a getList query string for entity:
//
//	filter=field:op:value  (repeatable)
//	sort=field:asc|desc    (repeatable)
//	page, pageSize, pagination=server|client|off, select, count
//
// Filter values are converted to the type of the column they name.
func ListParams(reg *schema.Registry, entity string, q url.Values) (core.ListParams, error) {
	def, err := lookup(reg, entity)
	if err != nil {
		return core.ListParams{}, err
	}

	meta, err := selectMeta(q)
	if err != nil {
		return core.ListParams{}, err
	}
	p := core.ListParams{Entity: entity, Meta: meta}

	for _, raw := range q["filter"] {
		f, err := parseFilter(reg, def, raw)
		if err != nil {
			return core.ListParams{}, err
		}
		p.Filters = append(p.Filters, f)
	}

	for _, raw := range q["sort"] {
		field, dir, _ := strings.Cut(raw, ":")
		order := query.Order(strings.ToLower(strings.TrimSpace(dir)))
		if order == "" {
			order = query.Asc
		}
		if order != query.Asc && order != query.Desc {
			return core.ListParams{}, &query.ValidationError{Field: field, Reason: fmt.Sprintf("invalid sort order %q", dir)}
		}
		p.Sorters = append(p.Sorters, query.Sorter{Field: strings.TrimSpace(field), Order: order})
	}

	pg, err := pagination(q)
	if err != nil {
		return core.ListParams{}, err
	}
	p.Pagination = pg
	return p, nil
}

// selectMeta reads the select and count parameters.
func selectMeta(q url.Values) (query.SelectMeta, error) {
	meta := query.SelectMeta{Select: q.Get("select")}
	if raw := q.Get("count"); raw != "" {
		mode, ok := store.ParseCountMode(raw)
		if !ok {
			return query.SelectMeta{}, &query.ValidationError{Field: "count", Reason: fmt.Sprintf("unknown count mode %q", raw)}
		}
		meta.CountMode = mode
	}
	return meta, nil
}

func pagination(q url.Values) (*query.Pagination, error) {
	mode := query.PaginationMode(strings.ToLower(q.Get("pagination")))
	switch mode {
	case "":
		mode = query.PaginationServer
	case query.PaginationServer, query.PaginationClient, query.PaginationOff:
	default:
		return nil, &query.ValidationError{Field: "pagination", Reason: fmt.Sprintf("unknown mode %q", mode)}
	}

	page, err := uintParam(q, "page", defaultPage)
	if err != nil {
		return nil, err
	}
	size, err := uintParam(q, "pageSize", defaultPageSize)
	if err != nil {
		return nil, err
	}
	if size > maxPageSize {
		return nil, &query.ValidationError{Field: "pageSize", Reason: fmt.Sprintf("must be at most %d", maxPageSize)}
	}
	return &query.Pagination{Page: page, PageSize: size, Mode: mode}, nil
}

func uintParam(q url.Values, name string, def uint64) (uint64, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		return 0, &query.ValidationError{Field: name, Reason: fmt.Sprintf("must be a positive integer, got %q", raw)}
	}
	return n, nil
}

// parseFilter parses "field:op:value". The value may itself contain colons.
// Values are converted to the column's type so comparisons are not done on
// text.
func parseFilter(reg *schema.Registry, def schema.TableDefinition, raw string) (query.Filter, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return query.Filter{}, &query.ValidationError{Field: raw, Reason: "filter must be field:op:value"}
	}
	field, op, value := strings.TrimSpace(parts[0]), query.Operator(strings.ToLower(parts[1])), parts[2]

	switch op {
	case query.OpNull, query.OpContains:
		return query.NewFilter(field, op, value)
	case query.OpIn:
		var seq []any
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v == "" {
				continue
			}
			cv, err := filterValue(reg, def, field, v)
			if err != nil {
				return query.Filter{}, err
			}
			seq = append(seq, cv)
		}
		return query.NewFilter(field, op, seq)
	}

	cv, err := filterValue(reg, def, field, value)
	if err != nil {
		return query.Filter{}, err
	}
	return query.NewFilter(field, op, cv)
}

// filterValue converts raw to the type of field. Fields that name no known
// column keep the raw text; the store rejects unknown columns itself.
func filterValue(reg *schema.Registry, def schema.TableDefinition, field, raw string) (any, error) {
	col, ok := columnFor(reg, def, field)
	if !ok || col.Type == schema.FieldText {
		return raw, nil
	}
	v, err := schema.Convert(col.Type, raw)
	if err != nil {
		return nil, &query.ValidationError{Field: field, Reason: err.Error()}
	}
	if v == nil {
		return raw, nil
	}
	return v, nil
}

// columnFor resolves a filter field to a column spec: a column of def, a
// dotted "table.column" of a related table, or the related key of a
// many-to-many relation (typed like the target's id).
func columnFor(reg *schema.Registry, def schema.TableDefinition, field string) (schema.ColumnSpec, bool) {
	if table, column, dotted := strings.Cut(field, "."); dotted {
		related, ok := reg.Get(table)
		if !ok {
			return schema.ColumnSpec{}, false
		}
		return related.Column(column)
	}
	if col, ok := def.Column(field); ok {
		return col, true
	}
	for _, rel := range def.Relations {
		if rel.Config.RelatedKey != field {
			continue
		}
		target, ok := reg.Get(rel.Target)
		if !ok {
			return schema.ColumnSpec{}, false
		}
		return target.Column(target.Entity().ID())
	}
	return schema.ColumnSpec{}, false
}

// pathID converts the {id} path segment to the id column's type.
func pathID(def schema.TableDefinition, raw string) (any, error) {
	col, ok := def.Column(def.Entity().ID())
	if !ok || col.Type == schema.FieldText {
		return raw, nil
	}
	v, err := schema.Convert(col.Type, raw)
	if err != nil || v == nil {
		return nil, &query.ValidationError{Field: col.Name, Reason: fmt.Sprintf("invalid id %q", raw)}
	}
	return v, nil
}

// queryIDs collects repeated or comma-separated id parameters.
func queryIDs(def schema.TableDefinition, q url.Values) ([]any, error) {
	var ids []any
	for _, raw := range q["id"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part == "" {
				continue
			}
			id, err := pathID(def, part)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// decodeJSON decodes a size-limited JSON body into v, keeping numbers as
// json.Number.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		if err == io.EOF {
			return badRequest("request body is empty")
		}
		return badRequest(fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}

// typedRecord converts decoded JSON values to the column types of def.
// Unknown keys pass through so the store reports them.
func typedRecord(def schema.TableDefinition, in map[string]any) (store.Record, error) {
	out := make(store.Record, len(in))
	for k, v := range in {
		cv, err := typedValue(def, k, v)
		if err != nil {
			return nil, err
		}
		out[k] = cv
	}
	return out, nil
}

func typedValue(def schema.TableDefinition, name string, v any) (any, error) {
	col, known := def.Column(name)
	switch val := v.(type) {
	case json.Number:
		if known && col.Type == schema.FieldText {
			return val.String(), nil
		}
		if !known || col.Type == schema.FieldInt {
			if n, err := val.Int64(); err == nil {
				return n, nil
			}
			if known {
				return nil, &query.ValidationError{Field: name, Reason: fmt.Sprintf("invalid integer %s", val)}
			}
		}
		f, err := val.Float64()
		if err != nil {
			return nil, &query.ValidationError{Field: name, Reason: fmt.Sprintf("invalid number %s", val)}
		}
		return f, nil
	case string:
		if !known || col.Type == schema.FieldText {
			return val, nil
		}
		cv, err := schema.Convert(col.Type, val)
		if err != nil {
			return nil, &query.ValidationError{Field: name, Reason: err.Error()}
		}
		return cv, nil
	}
	return v, nil
}

// decodeRecord decodes a JSON object body as a typed record.
func decodeRecord(w http.ResponseWriter, r *http.Request, def schema.TableDefinition) (store.Record, error) {
	var body map[string]any
	if err := decodeJSON(w, r, &body); err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, badRequest("request body has no fields")
	}
	return typedRecord(def, body)
}

// jsonIDs converts ids decoded from a JSON body to the id column's type.
func jsonIDs(def schema.TableDefinition, raw []any) ([]any, error) {
	idCol := def.Entity().ID()
	ids := make([]any, 0, len(raw))
	for _, v := range raw {
		id, err := typedValue(def, idCol, v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
