package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	docstorepkg "github.com/drblury/catalogflow/internal/docstore"
)

// failingStore fails a configurable number of Upsert calls before delegating
// to an in-memory store. calls is atomic: consumer tests poll it from the
// test goroutine while the consumer goroutine writes.
type failingStore struct {
	*docstorepkg.MemoryStore
	failures int
	err      error
	calls    atomic.Int64
}

func (s *failingStore) Upsert(ctx context.Context, key docstorepkg.Key, doc docstorepkg.Document) error {
	s.calls.Add(1)
	if s.failures > 0 {
		s.failures--
		return s.err
	}
	return s.MemoryStore.Upsert(ctx, key, doc)
}

func testRecord() Record {
	return Record{
		Collection:  "products",
		ProductCode: "P-1",
		Fields:      map[string]any{"name": "Widget"},
		ReceivedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPersistStoresDocument(t *testing.T) {
	store := docstorepkg.NewMemoryStore()
	w := NewStorageWriter(store, time.Second)

	res := w.Persist(context.Background(), testRecord())
	if res.Status != PersistOK {
		t.Fatalf("expected ok, got %s (%v)", res.Status, res.Cause)
	}

	doc, err := store.Get(context.Background(), docstorepkg.Key{Collection: "products", ProductCode: "P-1"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc["name"] != "Widget" {
		t.Fatalf("unexpected document %#v", doc)
	}
	if doc[ReceivedAtField] == nil {
		t.Fatal("expected received_at stamp in stored document")
	}
}

func TestPersistIsIdempotent(t *testing.T) {
	store := docstorepkg.NewMemoryStore()
	w := NewStorageWriter(store, time.Second)
	rec := testRecord()

	for i := 0; i < 3; i++ {
		if res := w.Persist(context.Background(), rec); res.Status != PersistOK {
			t.Fatalf("attempt %d: %s (%v)", i, res.Status, res.Cause)
		}
	}
	if store.Len() != 1 {
		t.Fatalf("expected a single document, got %d", store.Len())
	}
}

func TestPersistClassifiesUnavailableAsRetryable(t *testing.T) {
	store := &failingStore{
		MemoryStore: docstorepkg.NewMemoryStore(),
		failures:    1,
		err:         fmt.Errorf("upsert: %w", docstorepkg.ErrUnavailable),
	}
	w := NewStorageWriter(store, time.Second)

	res := w.Persist(context.Background(), testRecord())
	if res.Status != PersistRetryable {
		t.Fatalf("expected retryable, got %s", res.Status)
	}
	if !errors.Is(res.Cause, docstorepkg.ErrUnavailable) {
		t.Fatalf("expected wrapped cause, got %v", res.Cause)
	}

	if res := w.Persist(context.Background(), testRecord()); res.Status != PersistOK {
		t.Fatalf("expected recovery, got %s (%v)", res.Status, res.Cause)
	}
}

func TestPersistClassifiesConstraintAsFatal(t *testing.T) {
	store := &failingStore{
		MemoryStore: docstorepkg.NewMemoryStore(),
		failures:    1,
		err:         fmt.Errorf("upsert: %w", docstorepkg.ErrConstraint),
	}
	w := NewStorageWriter(store, time.Second)

	if res := w.Persist(context.Background(), testRecord()); res.Status != PersistFatal {
		t.Fatalf("expected fatal, got %s", res.Status)
	}
}

func TestPersistRejectsInvalidKey(t *testing.T) {
	w := NewStorageWriter(docstorepkg.NewMemoryStore(), time.Second)

	rec := testRecord()
	rec.ProductCode = ""
	res := w.Persist(context.Background(), rec)
	if res.Status != PersistFatal {
		t.Fatalf("expected fatal, got %s (%v)", res.Status, res.Cause)
	}
	if !errors.Is(res.Cause, docstorepkg.ErrInvalidKey) {
		t.Fatalf("expected invalid key cause, got %v", res.Cause)
	}
}

func TestPersistTreatsUnknownErrorsAsRetryable(t *testing.T) {
	store := &failingStore{
		MemoryStore: docstorepkg.NewMemoryStore(),
		failures:    1,
		err:         errors.New("connection reset by peer"),
	}
	w := NewStorageWriter(store, time.Second)

	if res := w.Persist(context.Background(), testRecord()); res.Status != PersistRetryable {
		t.Fatalf("expected retryable, got %s", res.Status)
	}
}

func TestPersistHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := &failingStore{
		MemoryStore: docstorepkg.NewMemoryStore(),
		failures:    1,
		err:         ctx.Err(),
	}
	w := NewStorageWriter(store, 0)

	res := w.Persist(ctx, testRecord())
	if res.Status != PersistRetryable {
		t.Fatalf("expected retryable on cancellation, got %s", res.Status)
	}
}
