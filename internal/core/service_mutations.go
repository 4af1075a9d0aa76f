package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/catalog/internal/query"
	"github.com/JonMunkholm/catalog/internal/store"
)

// Create inserts a record and returns it as stored.
func (s *Service) Create(ctx context.Context, entity string, values store.Record, meta query.SelectMeta) (store.Record, error) {
	_, ref, err := s.entity(entity, meta)
	if err != nil {
		return nil, err
	}
	rec, err := s.create(ctx, ref, values, meta)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, AuditLogParams{Action: ActionCreate, Entity: entity, RecordIDs: idsOf(ref, rec), RowsAffected: 1})
	return rec, nil
}

// Update sets values on the record with the given id. ErrNotFound when no
// record matched.
func (s *Service) Update(ctx context.Context, entity string, id any, values store.Record, meta query.SelectMeta) (store.Record, error) {
	_, ref, err := s.keyedEntity(entity, meta)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, &query.ValidationError{Field: "values", Reason: "nothing to update"}
	}
	rec, err := s.update(ctx, ref, id, values, meta)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, AuditLogParams{Action: ActionUpdate, Entity: entity, RecordIDs: []any{id}, RowsAffected: 1})
	return rec, nil
}

// DeleteOne removes the record with the given id and returns it.
// ErrNotFound when no record matched.
func (s *Service) DeleteOne(ctx context.Context, entity string, id any, meta query.SelectMeta) (store.Record, error) {
	_, ref, err := s.keyedEntity(entity, meta)
	if err != nil {
		return nil, err
	}
	rec, err := s.delete(ctx, ref, id, meta)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, AuditLogParams{Action: ActionDelete, Entity: entity, RecordIDs: []any{id}, RowsAffected: 1})
	return rec, nil
}

func (s *Service) create(ctx context.Context, ref query.EntityRef, values store.Record, meta query.SelectMeta) (store.Record, error) {
	rows, err := s.store.Insert(ctx, ref.Table(), []store.Record{values})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", ref.Name, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("create %s: store returned no row", ref.Name)
	}
	return s.reread(ctx, ref, rows[0], meta)
}

func (s *Service) update(ctx context.Context, ref query.EntityRef, id any, values store.Record, meta query.SelectMeta) (store.Record, error) {
	rows, err := s.store.Update(ctx, ref.Table(), values, []store.Predicate{store.Eq(ref.ID(), id)})
	if err != nil {
		return nil, fmt.Errorf("update %s %v: %w", ref.Name, id, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("update %s %v: %w", ref.Name, id, ErrNotFound)
	}
	return s.reread(ctx, ref, rows[0], meta)
}

// delete reads the record first when a projection is requested, since it
// cannot be read back afterwards.
func (s *Service) delete(ctx context.Context, ref query.EntityRef, id any, meta query.SelectMeta) (store.Record, error) {
	var projected store.Record
	if projects(meta) {
		rec, err := s.getOne(ctx, ref, id, meta)
		if err != nil {
			return nil, err
		}
		projected = rec
	}

	rows, err := s.store.Delete(ctx, ref.Table(), []store.Predicate{store.Eq(ref.ID(), id)})
	if err != nil {
		return nil, fmt.Errorf("delete %s %v: %w", ref.Name, id, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("delete %s %v: %w", ref.Name, id, ErrNotFound)
	}
	if projected != nil {
		return projected, nil
	}
	return rows[0], nil
}

// reread fetches rec again through meta's select expression so writes
// return the same shape as reads.
func (s *Service) reread(ctx context.Context, ref query.EntityRef, rec store.Record, meta query.SelectMeta) (store.Record, error) {
	if !projects(meta) || ref.IDColumn == "" {
		return rec, nil
	}
	id, ok := rec[ref.ID()]
	if !ok || id == nil {
		return rec, nil
	}
	return s.getOne(ctx, ref, id, meta)
}

func projects(meta query.SelectMeta) bool {
	return strings.TrimSpace(meta.SelectOrStar()) != "*"
}

func idsOf(ref query.EntityRef, recs ...store.Record) []any {
	if ref.IDColumn == "" {
		return nil
	}
	ids := make([]any, 0, len(recs))
	for _, r := range recs {
		if id, ok := r[ref.ID()]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
