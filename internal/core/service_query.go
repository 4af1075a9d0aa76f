package core

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/catalog/internal/logging"
	"github.com/JonMunkholm/catalog/internal/query"
	"github.com/JonMunkholm/catalog/internal/store"
)

// ListParams is a getList request.
type ListParams struct {
	Entity     string
	Filters    []query.Filter
	Sorters    []query.Sorter
	Pagination *query.Pagination
	Meta       query.SelectMeta

	// Relations are the many-to-many relations filters may target by their
	// related key. Nil uses the relations declared for the entity.
	Relations map[string]query.RelationConfig
}

// ListResult is one page of records and the total matching count.
type ListResult struct {
	Data  []store.Record `json:"data"`
	Total int64          `json:"total"`
}

// GetList returns the records of an entity matching every filter.
//
// Nothing is sent to the store unless all filters, sorters and the
// pagination are valid. Relation filters are resolved into an id
// membership filter first; an empty membership set returns an empty page
// without running the primary select.
func (s *Service) GetList(ctx context.Context, p ListParams) (ListResult, error) {
	def, ref, err := s.entity(p.Entity, p.Meta)
	if err != nil {
		return ListResult{}, err
	}
	if err := query.Validate(ref, p.Filters, p.Sorters, p.Pagination, p.Meta); err != nil {
		return ListResult{}, err
	}

	relations := p.Relations
	if relations == nil {
		relations = def.RelationConfigs()
	}
	res, err := s.resolver.Resolve(ctx, ref, p.Filters, relations)
	if err != nil {
		return ListResult{}, fmt.Errorf("list %s: %w", p.Entity, err)
	}
	if res.Empty {
		logging.FromContext(ctx).Debug("relation filters matched nothing", "entity", p.Entity)
		return ListResult{Data: []store.Record{}, Total: 0}, nil
	}

	req, err := query.Translate(ref, res.Filters, p.Sorters, p.Pagination, p.Meta)
	if err != nil {
		return ListResult{}, err
	}
	out, err := s.store.Select(ctx, req)
	if err != nil {
		return ListResult{}, fmt.Errorf("list %s: %w", p.Entity, err)
	}

	data := out.Rows
	if data == nil {
		data = []store.Record{}
	}
	return ListResult{Data: data, Total: out.Count}, nil
}

// GetOne returns the record with the given id, or ErrNotFound.
func (s *Service) GetOne(ctx context.Context, entity string, id any, meta query.SelectMeta) (store.Record, error) {
	_, ref, err := s.keyedEntity(entity, meta)
	if err != nil {
		return nil, err
	}
	return s.getOne(ctx, ref, id, meta)
}

func (s *Service) getOne(ctx context.Context, ref query.EntityRef, id any, meta query.SelectMeta) (store.Record, error) {
	f, err := query.NewFilter(ref.ID(), query.OpEq, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.selectByID(ctx, ref, f, meta)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("get %s %v: %w", ref.Name, id, ErrNotFound)
	}
	return rows[0], nil
}

// GetMany returns the records with the given ids. Missing ids are skipped.
func (s *Service) GetMany(ctx context.Context, entity string, ids []any, meta query.SelectMeta) ([]store.Record, error) {
	_, ref, err := s.keyedEntity(entity, meta)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []store.Record{}, nil
	}
	f, err := query.NewFilter(ref.ID(), query.OpIn, ids)
	if err != nil {
		return nil, err
	}
	return s.selectByID(ctx, ref, f, meta)
}

func (s *Service) selectByID(ctx context.Context, ref query.EntityRef, f query.Filter, meta query.SelectMeta) ([]store.Record, error) {
	req, err := query.Translate(ref, []query.Filter{f}, nil, nil, meta)
	if err != nil {
		return nil, err
	}
	req.Count = store.CountNone

	out, err := s.store.Select(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", ref.Name, err)
	}
	if out.Rows == nil {
		return []store.Record{}, nil
	}
	return out.Rows, nil
}
