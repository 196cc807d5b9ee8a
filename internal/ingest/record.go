// Package ingest implements the ingestion pipeline: schema validation,
// idempotent persistence, the retry/dead-letter policy, and the per-queue
// sequential consumers that drive them.
package ingest

import (
	"time"

	docstorepkg "github.com/drblury/catalogflow/internal/docstore"
	schemapkg "github.com/drblury/catalogflow/internal/schema"
)

// Metadata keys attached to messages as they move through the pipeline.
const (
	MetadataCorrelationID = "correlation_id"
	MetadataSourceQueue   = "source_queue"
	MetadataFailureReason = "failure_reason"
	MetadataFailedAt      = "failed_at"
	MetadataRetryCount    = "retry_count"
)

// EnvelopeCollectionField is the envelope field naming the target collection.
const EnvelopeCollectionField = "collection"

// ReceivedAtField is stamped onto every stored document; a later write for
// the same key fully replaces it (last-write-wins).
const ReceivedAtField = "received_at"

// Record is the validated, persistable form of a message. Created by the
// Validator, consumed exactly once by the StorageWriter, then discarded.
type Record struct {
	Collection  string
	ProductCode string
	// Fields holds the declared contract fields only: required fields from
	// the payload plus optional fields, defaulted when absent. Unknown
	// extra payload fields never reach the store.
	Fields     map[string]any
	ReceivedAt time.Time
}

// Key returns the composite identifier the record is stored under.
func (r Record) Key() docstorepkg.Key {
	return docstorepkg.Key{Collection: r.Collection, ProductCode: r.ProductCode}
}

// Document renders the record as the stored document.
func (r Record) Document() docstorepkg.Document {
	doc := make(docstorepkg.Document, len(r.Fields)+1)
	for k, v := range r.Fields {
		doc[k] = v
	}
	doc[ReceivedAtField] = r.ReceivedAt.Format(time.RFC3339Nano)
	return doc
}

// identifierField is re-exported here so the validator and tests don't
// reach into the schema package for it everywhere.
const identifierField = schemapkg.IdentifierField
