package ingest

import (
	"context"
	"errors"
	"time"

	docstorepkg "github.com/drblury/catalogflow/internal/docstore"
)

// PersistStatus classifies the outcome of one persistence attempt.
type PersistStatus int

const (
	// PersistOK means the document is durably stored.
	PersistOK PersistStatus = iota
	// PersistRetryable means the attempt failed transiently and may succeed
	// on a later attempt.
	PersistRetryable
	// PersistFatal means no amount of retrying can store this document.
	PersistFatal
)

func (s PersistStatus) String() string {
	switch s {
	case PersistOK:
		return "ok"
	case PersistRetryable:
		return "retryable"
	case PersistFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// PersistResult carries the classified outcome plus the underlying cause for
// failures.
type PersistResult struct {
	Status PersistStatus
	Cause  error
}

// StorageWriter performs idempotent upserts with a per-attempt timeout and
// classifies failures for the retry policy. Writing the same record twice is
// a full replacement, never a duplicate.
type StorageWriter struct {
	store   docstorepkg.Store
	timeout time.Duration
}

// NewStorageWriter wraps the store. timeout bounds each individual attempt;
// zero disables the bound.
func NewStorageWriter(store docstorepkg.Store, timeout time.Duration) *StorageWriter {
	return &StorageWriter{store: store, timeout: timeout}
}

// Persist upserts the record under its key and classifies the outcome.
func (w *StorageWriter) Persist(ctx context.Context, rec Record) PersistResult {
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	err := w.store.Upsert(ctx, rec.Key(), rec.Document())
	if err == nil {
		return PersistResult{Status: PersistOK}
	}
	return PersistResult{Status: classifyStoreError(err), Cause: err}
}

// classifyStoreError maps store errors onto the retry policy. Constraint
// violations and invalid keys are permanent; everything else, including
// timeouts, is assumed transient.
func classifyStoreError(err error) PersistStatus {
	switch {
	case errors.Is(err, docstorepkg.ErrConstraint), errors.Is(err, docstorepkg.ErrInvalidKey):
		return PersistFatal
	case errors.Is(err, docstorepkg.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return PersistRetryable
	default:
		return PersistRetryable
	}
}
