package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	configpkg "github.com/drblury/catalogflow/internal/config"
	jsoncodec "github.com/drblury/catalogflow/internal/jsoncodec"
	loggingpkg "github.com/drblury/catalogflow/internal/logging"
)

// PostgresOpenFactory opens the database handle. Overridable in tests.
var PostgresOpenFactory = func(url string) (*sql.DB, error) {
	return sql.Open("postgres", url)
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection   TEXT        NOT NULL,
	product_code TEXT        NOT NULL,
	doc          JSONB       NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, product_code)
)`

const postgresUpsert = `
INSERT INTO documents (collection, product_code, doc, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (collection, product_code)
DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`

type postgresStore struct {
	db  *sql.DB
	log loggingpkg.ServiceLogger
}

func newPostgresStore(ctx context.Context, cfg *configpkg.Config, log loggingpkg.ServiceLogger) (Store, error) {
	db, err := PostgresOpenFactory(cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, classifyPostgresError(err)
	}
	log.Info("Connected to PostgreSQL document store", nil)
	return &postgresStore{db: db, log: log}, nil
}

func (s *postgresStore) Upsert(ctx context.Context, key Key, doc Document) error {
	if err := key.Validate(); err != nil {
		return err
	}
	payload, err := jsoncodec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	if _, err := s.db.ExecContext(ctx, postgresUpsert, key.Collection, key.ProductCode, payload); err != nil {
		return classifyPostgresError(err)
	}
	return nil
}

func (s *postgresStore) Get(ctx context.Context, key Key) (Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM documents WHERE collection = $1 AND product_code = $2`,
		key.Collection, key.ProductCode,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyPostgresError(err)
	}

	var doc Document
	if err := jsoncodec.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("docstore: corrupt document %s: %w", key, err)
	}
	return doc, nil
}

func (s *postgresStore) List(ctx context.Context, collection string, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM documents WHERE collection = $1 ORDER BY product_code LIMIT $2`,
		collection, limit,
	)
	if err != nil {
		return nil, classifyPostgresError(err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, classifyPostgresError(err)
		}
		var doc Document
		if err := jsoncodec.Unmarshal(payload, &doc); err != nil {
			return nil, fmt.Errorf("docstore: corrupt document in %s: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPostgresError(err)
	}
	return docs, nil
}

func (s *postgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *postgresStore) Close(context.Context) error {
	return s.db.Close()
}

// classifyPostgresError maps pq failures onto the store taxonomy. SQLSTATE
// class 22 (data exception) and 23 (integrity violation) cannot succeed on
// retry; everything else is treated as transient.
func classifyPostgresError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23":
			return fmt.Errorf("%w: %v", ErrConstraint, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
