package docstore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	configpkg "github.com/drblury/catalogflow/internal/config"
	loggingpkg "github.com/drblury/catalogflow/internal/logging"
	schemapkg "github.com/drblury/catalogflow/internal/schema"
)

// MongoConnectFactory dials the MongoDB client. Overridable in tests.
var MongoConnectFactory = func(ctx context.Context, uri string) (*mongo.Client, error) {
	return mongo.Connect(ctx, options.Client().ApplyURI(uri))
}

type mongoStore struct {
	client *mongo.Client
	db     *mongo.Database
	log    loggingpkg.ServiceLogger
}

func newMongoStore(ctx context.Context, cfg *configpkg.Config, log loggingpkg.ServiceLogger) (Store, error) {
	client, err := MongoConnectFactory(ctx, cfg.MongoURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	log.Info("Connected to MongoDB", loggingpkg.LogFields{"database": cfg.MongoDatabase})
	return &mongoStore{
		client: client,
		db:     client.Database(cfg.MongoDatabase),
		log:    log,
	}, nil
}

func (s *mongoStore) Upsert(ctx context.Context, key Key, doc Document) error {
	if err := key.Validate(); err != nil {
		return err
	}

	filter := bson.M{schemapkg.IdentifierField: key.ProductCode}
	opts := options.Replace().SetUpsert(true)
	if _, err := s.db.Collection(key.Collection).ReplaceOne(ctx, filter, doc, opts); err != nil {
		return classifyMongoError(err)
	}
	return nil
}

func (s *mongoStore) Get(ctx context.Context, key Key) (Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var doc Document
	err := s.db.Collection(key.Collection).
		FindOne(ctx, bson.M{schemapkg.IdentifierField: key.ProductCode}).
		Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, classifyMongoError(err)
	}
	delete(doc, "_id")
	return doc, nil
}

func (s *mongoStore) List(ctx context.Context, collection string, limit int) ([]Document, error) {
	opts := options.Find().SetSort(bson.D{{Key: schemapkg.IdentifierField, Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := s.db.Collection(collection).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, classifyMongoError(err)
	}
	defer cursor.Close(ctx)

	docs := make([]Document, 0)
	for cursor.Next(ctx) {
		var doc Document
		if err := cursor.Decode(&doc); err != nil {
			return nil, classifyMongoError(err)
		}
		delete(doc, "_id")
		docs = append(docs, doc)
	}
	if err := cursor.Err(); err != nil {
		return nil, classifyMongoError(err)
	}
	return docs, nil
}

func (s *mongoStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *mongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// classifyMongoError maps driver failures onto the store's error taxonomy:
// duplicate keys are constraint violations, everything transport-shaped is
// retryable.
func classifyMongoError(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) ||
		errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		return fmt.Errorf("%w: %v", ErrConstraint, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
