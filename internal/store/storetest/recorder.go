// Package storetest provides a store.Store wrapper that records every
// primitive call and can inject failures, for asserting on the exact
// sequence of operations the core issues.
package storetest

import (
	"context"
	"sync"

	"github.com/JonMunkholm/catalog/internal/store"
)

// Call is one recorded primitive operation.
type Call struct {
	Op      string // select, insert, update, delete
	Table   string
	Select  store.SelectRequest
	Records []store.Record
	Values  store.Record
	Match   []store.Predicate
}

// FailFunc decides whether a call should fail. Returning a non-nil error
// short-circuits the call before it reaches the wrapped store.
type FailFunc func(c Call) error

// Recorder wraps a store.Store. It is safe for concurrent use.
type Recorder struct {
	next store.Store

	mu    sync.Mutex
	calls []Call
	fail  FailFunc
}

// New wraps next.
func New(next store.Store) *Recorder {
	return &Recorder{next: next}
}

// FailWhen installs a failure hook, replacing any previous one.
func (r *Recorder) FailWhen(fn FailFunc) {
	r.mu.Lock()
	r.fail = fn
	r.mu.Unlock()
}

// Calls returns a copy of the recorded calls in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsTo returns the recorded calls matching op and table. An empty table
// matches every table.
func (r *Recorder) CallsTo(op, table string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Op == op && (table == "" || c.Table == table) {
			out = append(out, c)
		}
	}
	return out
}

// Ops returns "op table" for every recorded call, in order.
func (r *Recorder) Ops() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op + " " + c.Table
	}
	return out
}

// Reset clears the recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

func (r *Recorder) record(c Call) error {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	fail := r.fail
	r.mu.Unlock()
	if fail != nil {
		return fail(c)
	}
	return nil
}

func (r *Recorder) Select(ctx context.Context, req store.SelectRequest) (store.SelectResult, error) {
	if err := r.record(Call{Op: "select", Table: req.Table.Name, Select: req, Match: req.Filters}); err != nil {
		return store.SelectResult{}, err
	}
	return r.next.Select(ctx, req)
}

func (r *Recorder) Insert(ctx context.Context, table store.Table, records []store.Record) ([]store.Record, error) {
	if err := r.record(Call{Op: "insert", Table: table.Name, Records: records}); err != nil {
		return nil, err
	}
	return r.next.Insert(ctx, table, records)
}

func (r *Recorder) Update(ctx context.Context, table store.Table, values store.Record, match []store.Predicate) ([]store.Record, error) {
	if err := r.record(Call{Op: "update", Table: table.Name, Values: values, Match: match}); err != nil {
		return nil, err
	}
	return r.next.Update(ctx, table, values, match)
}

func (r *Recorder) Delete(ctx context.Context, table store.Table, match []store.Predicate) ([]store.Record, error) {
	if err := r.record(Call{Op: "delete", Table: table.Name, Match: match}); err != nil {
		return nil, err
	}
	return r.next.Delete(ctx, table, match)
}

// MatchValue returns the value of the first predicate on column, if any.
func (c Call) MatchValue(column string) (any, bool) {
	for _, p := range c.Match {
		if p.Column == column {
			return p.Value, true
		}
	}
	return nil, false
}
