package core

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/JonMunkholm/catalog/internal/logging"
	"github.com/JonMunkholm/catalog/internal/query"
	"github.com/JonMunkholm/catalog/internal/store"
)

// Result is the outcome of one record of a bulk mutation. Exactly one of
// Data and Err is set.
type Result struct {
	Data store.Record
	Err  error
}

// OK reports whether the record succeeded.
func (r Result) OK() bool { return r.Err == nil }

// MarshalJSON renders a failed result with its mapped user message.
func (r Result) MarshalJSON() ([]byte, error) {
	type view struct {
		OK    bool         `json:"ok"`
		Data  store.Record `json:"data,omitempty"`
		Error *UserMessage `json:"error,omitempty"`
	}
	v := view{OK: r.Err == nil, Data: r.Data}
	if r.Err != nil {
		msg := MapError(r.Err)
		if msg.Code == defaultMessage.Code {
			msg.Message = r.Err.Error()
		}
		v.Error = &msg
	}
	return json.Marshal(v)
}

// CreateMany inserts each record with its own store call. Calls run
// concurrently and results are returned in input order. Per-record failures
// are reported in the results; the error is only for an invalid request.
func (s *Service) CreateMany(ctx context.Context, entity string, records []store.Record, meta query.SelectMeta) ([]Result, error) {
	_, ref, err := s.entity(entity, meta)
	if err != nil {
		return nil, err
	}
	results := fanOut(len(records), func(i int) (store.Record, error) {
		return s.create(ctx, ref, records[i], meta)
	})
	s.finishBulk(ctx, ActionBulkCreate, "create", ref, results)
	return results, nil
}

// UpdateMany applies the same values to each id independently.
func (s *Service) UpdateMany(ctx context.Context, entity string, ids []any, values store.Record, meta query.SelectMeta) ([]Result, error) {
	_, ref, err := s.keyedEntity(entity, meta)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, &query.ValidationError{Field: "values", Reason: "nothing to update"}
	}
	results := fanOut(len(ids), func(i int) (store.Record, error) {
		return s.update(ctx, ref, ids[i], values, meta)
	})
	s.finishBulk(ctx, ActionBulkUpdate, "update", ref, results)
	return results, nil
}

// DeleteMany deletes each id independently.
func (s *Service) DeleteMany(ctx context.Context, entity string, ids []any, meta query.SelectMeta) ([]Result, error) {
	_, ref, err := s.keyedEntity(entity, meta)
	if err != nil {
		return nil, err
	}
	results := fanOut(len(ids), func(i int) (store.Record, error) {
		return s.delete(ctx, ref, ids[i], meta)
	})
	s.finishBulk(ctx, ActionBulkDelete, "delete", ref, results)
	return results, nil
}

// fanOut runs fn for every index concurrently and collects the results
// positionally.
func fanOut(n int, fn func(i int) (store.Record, error)) []Result {
	results := make([]Result, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			rec, err := fn(i)
			results[i] = Result{Data: rec, Err: err}
		}()
	}
	wg.Wait()
	return results
}

func (s *Service) finishBulk(ctx context.Context, action AuditAction, op string, ref query.EntityRef, results []Result) {
	var ok []store.Record
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		ok = append(ok, r.Data)
	}

	s.metrics.bulkResults(op, ref.Name, results)
	if failed > 0 {
		logging.FromContext(ctx).Warn("bulk mutation partially failed",
			"op", op,
			"entity", ref.Name,
			"records", len(results),
			"failed", failed,
		)
	}
	if len(ok) > 0 || failed > 0 {
		s.audit(ctx, AuditLogParams{
			Action:       action,
			Entity:       ref.Name,
			RecordIDs:    idsOf(ref, ok...),
			RowsAffected: len(ok),
			RowsFailed:   failed,
		})
	}
}
