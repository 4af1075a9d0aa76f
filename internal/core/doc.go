// Package core is the data-access service behind the catalog admin console.
//
// It sits between the presentation layer and a primitive relational store
// ([store.Store]) and owns everything the store cannot express on its own.
//
// # Architecture
//
//   - Service: the entry point. It looks entities up in a [schema.Registry]
//     and drives the store through the query translator and relationship
//     resolver of package query.
//   - Reads: [Service.GetList] validates every predicate before any store
//     call, rewrites many-to-many relation filters into an id membership
//     filter and skips the primary select when that set is empty.
//   - Bulk mutations: [Service.CreateMany], [Service.UpdateMany] and
//     [Service.DeleteMany] issue one store call per record concurrently and
//     return one [Result] per input, in input order.
//   - Imports: [Service.RunImport] moves a [Sheet] through the states
//     parsed, relations validated, importing and completed. Rows are written
//     one at a time in file order and a failing row never stops the run.
//     [Service.StartImport] runs the same pipeline in the background, bounded
//     by an [ImportLimiter], with progress published to subscribers.
//
// # Error Handling
//
// Single-record operations fail fast and return the first error. Batch
// operations never return per-record failures as an error; callers inspect
// the results. Row failures are classified by [ClassifyError] and technical
// errors are mapped to support codes by [MapError].
//
// # Audit Logging
//
// Every mutation is reported to an [AuditSink] with a severity level. The
// default sink writes a structured "audit" log record.
package core
