// Package docstore provides the document store the ingestion pipeline
// persists into. All backends implement the same upsert-by-key contract:
// at most one document per (collection, product_code) pair, and a later
// write fully replaces the previous one.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	configpkg "github.com/drblury/catalogflow/internal/config"
	loggingpkg "github.com/drblury/catalogflow/internal/logging"
)

var (
	// ErrNotFound is returned by Get when no document exists for the key.
	ErrNotFound = errors.New("docstore: document not found")
	// ErrUnavailable classifies connectivity and timeout failures. Writes
	// failing with it are safe to retry.
	ErrUnavailable = errors.New("docstore: store unavailable")
	// ErrConstraint classifies writes the backend will never accept.
	// Retrying cannot fix them.
	ErrConstraint = errors.New("docstore: constraint violation")
	// ErrInvalidKey is returned for keys with an empty collection or
	// product code.
	ErrInvalidKey = errors.New("docstore: invalid document key")
)

// Key addresses one stored document.
type Key struct {
	Collection  string
	ProductCode string
}

func (k Key) String() string {
	return k.Collection + "/" + k.ProductCode
}

// Validate rejects keys that cannot address a document.
func (k Key) Validate() error {
	if k.Collection == "" || k.ProductCode == "" {
		return fmt.Errorf("%w: %q", ErrInvalidKey, k.String())
	}
	return nil
}

// Document is the persisted representation of a validated record.
type Document map[string]any

// Clone returns a shallow copy. Backends hand out clones so callers can
// never mutate stored state.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Store is the uniform contract over the configured backend. All methods
// are safe for concurrent use; the backends own their connection pooling.
type Store interface {
	// Upsert inserts or fully replaces the document for the key.
	// Idempotent: applying the same document twice leaves the store
	// unchanged after the second call.
	Upsert(ctx context.Context, key Key, doc Document) error
	// Get returns the document for the key, or ErrNotFound.
	Get(ctx context.Context, key Key) (Document, error)
	// List returns up to limit documents from a collection.
	List(ctx context.Context, collection string, limit int) ([]Document, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// New builds the store selected by cfg.StoreBackend.
func New(ctx context.Context, cfg *configpkg.Config, log loggingpkg.ServiceLogger) (Store, error) {
	switch strings.ToLower(cfg.StoreBackend) {
	case "mongo":
		return newMongoStore(ctx, cfg, log)
	case "postgres":
		return newPostgresStore(ctx, cfg, log)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("docstore: unsupported backend %q", cfg.StoreBackend)
	}
}
