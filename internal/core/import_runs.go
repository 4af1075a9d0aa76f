package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalog/internal/logging"
)

type activeImport struct {
	ID       string
	Entity   string
	FileName string
	Cancel   context.CancelFunc
	Done     chan struct{}

	mu        sync.Mutex
	progress  ImportProgress
	report    *ImportReport
	listeners []chan ImportProgress
}

// setProgress stores p and sends it to every listener without blocking.
func (run *activeImport) setProgress(p ImportProgress) {
	run.mu.Lock()
	defer run.mu.Unlock()

	run.progress = p
	for _, ch := range run.listeners {
		select {
		case ch <- p:
		default:
			// Listener is slow, skip this update
		}
	}
}

// finish records the report, closes all listeners and marks the run done.
func (run *activeImport) finish(report *ImportReport) {
	run.mu.Lock()
	run.report = report
	for _, ch := range run.listeners {
		close(ch)
	}
	run.listeners = nil
	run.mu.Unlock()

	close(run.Done)
}

// StartImport begins an asynchronous import run and returns its ID
// immediately. Use SubscribeImport for progress and ImportResult for the
// report.
//
// Returns ErrTooManyImports if no import slot frees up within the limiter's
// wait time.
func (s *Service) StartImport(ctx context.Context, spec ImportSpec, sheet Sheet) (string, error) {
	p, err := s.planImport(spec)
	if err != nil {
		return "", err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return "", err
	}

	importID := uuid.New().String()

	// The run outlives the request; keep its values for logging and audit.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.importTimeout)
	runCtx = logging.With(runCtx, "import_id", importID)

	run := &activeImport{
		ID:       importID,
		Entity:   spec.Entity,
		FileName: sheet.Name,
		Cancel:   cancel,
		Done:     make(chan struct{}),
		progress: ImportProgress{
			ImportID:  importID,
			Entity:    spec.Entity,
			FileName:  sheet.Name,
			Phase:     PhaseStarting,
			TotalRows: len(sheet.Rows),
		},
	}

	s.mu.Lock()
	s.imports[importID] = run
	s.mu.Unlock()

	s.metrics.importStarted()

	// Process in background with panic recovery to ensure limiter release
	go func() {
		defer s.limiter.Release()
		defer s.metrics.importFinished()
		defer cancel()
		defer s.cleanup(importID, s.resultTTL)
		defer func() {
			if r := recover(); r != nil {
				logging.FromContext(runCtx).Error("panic in import",
					"entity", spec.Entity,
					"panic", r,
				)
				report := &ImportReport{
					ImportID: importID,
					Entity:   spec.Entity,
					FileName: sheet.Name,
					Phase:    PhaseFailed,
					Error:    fmt.Sprintf("internal error: %v", r),
				}
				run.setProgress(ImportProgress{
					ImportID: importID,
					Entity:   spec.Entity,
					FileName: sheet.Name,
					Phase:    PhaseFailed,
					Error:    report.Error,
				})
				s.metrics.importRun(report)
				run.finish(report)
			}
		}()

		report := s.runImport(runCtx, p, sheet, importID, run.setProgress)
		s.metrics.importRun(report)
		run.finish(report)
	}()

	return importID, nil
}

func (s *Service) lookupImport(importID string) (*activeImport, error) {
	s.mu.RLock()
	run, ok := s.imports[importID]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrImportNotFound, importID)
	}
	return run, nil
}

// SubscribeImport returns a channel that receives progress updates. It
// starts with the current progress and is closed when the run finishes.
func (s *Service) SubscribeImport(importID string) (<-chan ImportProgress, error) {
	run, err := s.lookupImport(importID)
	if err != nil {
		return nil, err
	}

	ch := make(chan ImportProgress, 10)

	run.mu.Lock()
	defer run.mu.Unlock()

	ch <- run.progress
	if run.report != nil {
		close(ch)
		return ch, nil
	}
	run.listeners = append(run.listeners, ch)
	return ch, nil
}

// CancelImport stops a run before its next row. Rows already written stay.
func (s *Service) CancelImport(importID string) error {
	run, err := s.lookupImport(importID)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// ImportResult returns the report of a run, blocking until it finishes or
// ctx is done.
func (s *Service) ImportResult(ctx context.Context, importID string) (*ImportReport, error) {
	run, err := s.lookupImport(importID)
	if err != nil {
		return nil, err
	}

	select {
	case <-run.Done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	return run.report, nil
}

// ImportProgressOf returns the current progress without blocking.
func (s *Service) ImportProgressOf(importID string) (ImportProgress, error) {
	run, err := s.lookupImport(importID)
	if err != nil {
		return ImportProgress{}, err
	}

	run.mu.Lock()
	defer run.mu.Unlock()
	return run.progress, nil
}

// WaitForImports blocks until every running import has finished or ctx is
// done. Used for graceful shutdown.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// cleanup removes the run from tracking after a delay.
func (s *Service) cleanup(importID string, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.imports, importID)
		s.mu.Unlock()
	})
}
