package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/JonMunkholm/catalog/internal/store"
)

// Resolution is the outcome of rewriting relation filters.
type Resolution struct {
	// Filters is the input list minus resolved relation filters, plus one
	// trailing "id in (...)" filter when any relation filter was resolved.
	Filters []Filter

	// Empty is set when the ID intersection came back empty. The caller must
	// skip the primary select and return no rows.
	Empty bool
}

// Resolver turns many-to-many relation filters into primary-key membership
// filters by reading the junction tables.
type Resolver struct {
	store store.Store
}

// NewResolver creates a Resolver reading junction tables through s.
func NewResolver(s store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve rewrites every filter whose field is the RelatedKey of one of
// relations. Candidate owner IDs from all such filters are intersected.
func (r *Resolver) Resolve(ctx context.Context, entity EntityRef, filters []Filter, relations map[string]RelationConfig) (Resolution, error) {
	byKey, err := relationsByRelatedKey(relations)
	if err != nil {
		return Resolution{}, err
	}
	if len(byKey) == 0 {
		return Resolution{Filters: filters}, nil
	}

	var (
		kept     []Filter
		ids      []any
		resolved bool
	)
	for _, f := range filters {
		rel, ok := byKey[f.Field]
		if !ok {
			kept = append(kept, f)
			continue
		}
		if err := ValidateFilter(f); err != nil {
			return Resolution{}, err
		}

		candidates, err := r.ownerIDs(ctx, entity, rel, f)
		if err != nil {
			return Resolution{}, err
		}
		if !resolved {
			ids, resolved = candidates, true
		} else {
			ids = intersect(ids, candidates)
		}
	}

	if !resolved {
		return Resolution{Filters: filters}, nil
	}

	kept = append(kept, Filter{Field: entity.ID(), Operator: OpIn, Value: Sequence(ids...)})
	return Resolution{Filters: kept, Empty: len(ids) == 0}, nil
}

// ownerIDs selects the owner keys of junction rows matching f.
func (r *Resolver) ownerIDs(ctx context.Context, entity EntityRef, rel RelationConfig, f Filter) ([]any, error) {
	res, err := r.store.Select(ctx, store.SelectRequest{
		Table:   store.Table{Schema: entity.Schema, Name: rel.ThroughTable},
		Columns: rel.OwnerKey,
		Filters: []store.Predicate{predicateFor(f, fieldRef{column: rel.RelatedKey})},
	})
	if err != nil {
		return nil, fmt.Errorf("resolve %s via %s: %w", f.Field, rel.ThroughTable, err)
	}
	ids := make([]any, 0, len(res.Rows))
	for _, row := range res.Rows {
		if v, ok := row[rel.OwnerKey]; ok && v != nil {
			ids = append(ids, v)
		}
	}
	return dedupe(ids), nil
}

// relationsByRelatedKey indexes relations by RelatedKey. When two relations
// share a RelatedKey the one with the lexically smallest name wins so the
// choice does not depend on map iteration order.
func relationsByRelatedKey(relations map[string]RelationConfig) (map[string]RelationConfig, error) {
	names := make([]string, 0, len(relations))
	for name := range relations {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]RelationConfig, len(relations))
	for _, name := range names {
		rel := relations[name]
		if rel.Kind != "" && rel.Kind != ManyToMany {
			return nil, &ValidationError{Field: name, Reason: fmt.Sprintf("unsupported relation kind %q", rel.Kind)}
		}
		for _, ident := range []string{rel.ThroughTable, rel.OwnerKey, rel.RelatedKey} {
			if !store.ValidIdent(ident) {
				return nil, &ValidationError{Field: name, Reason: fmt.Sprintf("invalid relation identifier %q", ident)}
			}
		}
		if _, taken := out[rel.RelatedKey]; !taken {
			out[rel.RelatedKey] = rel
		}
	}
	return out, nil
}

// idKey normalises IDs so 42, int64(42) and "42" compare equal.
func idKey(v any) string {
	return fmt.Sprint(v)
}

func dedupe(ids []any) []any {
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		k := idKey(id)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, id)
	}
	return out
}

// intersect keeps the elements of a present in b, in a's order.
func intersect(a, b []any) []any {
	in := make(map[string]bool, len(b))
	for _, id := range b {
		in[idKey(id)] = true
	}
	out := make([]any, 0, len(a))
	for _, id := range a {
		if in[idKey(id)] {
			out = append(out, id)
		}
	}
	return out
}
