package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	docstorepkg "github.com/drblury/catalogflow/internal/docstore"
	logging "github.com/drblury/catalogflow/internal/logging"
	schemapkg "github.com/drblury/catalogflow/internal/schema"
)

func newManagerFixture(t *testing.T, queues ...string) (*Manager, *gochannel.GoChannel, *docstorepkg.MemoryStore) {
	t.Helper()

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	store := docstorepkg.NewMemoryStore()
	dlq := NewDeadLetterPublisher(pubSub, "_dlq", logging.Nop())

	consumers := make([]*Consumer, 0, len(queues))
	for _, queue := range queues {
		consumers = append(consumers, NewConsumer(
			queue,
			NewValidator(schemapkg.Default()),
			NewStorageWriter(store, time.Second),
			fastPolicy(3),
			dlq,
			nil,
			logging.Nop(),
		))
	}

	mgr, err := NewManager(pubSub, consumers, 0, logging.Nop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr, pubSub, store
}

func TestManagerRunsOneConsumerPerQueue(t *testing.T) {
	mgr, pubSub, store := newManagerFixture(t, "products", "stocks", "prices")

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	publishJSON := func(queue, payload string) {
		t.Helper()
		if err := pubSub.Publish(queue, message.NewMessage(watermill.NewUUID(), []byte(payload))); err != nil {
			t.Fatalf("publish %s: %v", queue, err)
		}
	}

	publishJSON("products", productPayload("P-1"))
	publishJSON("stocks", `{
		"collection": "stocks",
		"product_code": "P-1",
		"warehouse_id": "WH-001",
		"quantity": 10,
		"location": "A1"
	}`)
	publishJSON("prices", `{
		"collection": "prices",
		"product_code": "P-1",
		"currency": "EUR",
		"base_price": 19.99,
		"discount_percentage": 10,
		"final_price": 17.99
	}`)

	waitFor(t, func() bool { return store.Len() == 3 }, "one document per queue")

	if err := mgr.DrainAndStop(testWait); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestManagerRejectsDuplicateQueues(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	store := docstorepkg.NewMemoryStore()
	dlq := NewDeadLetterPublisher(pubSub, "_dlq", logging.Nop())
	make2 := func() *Consumer {
		return NewConsumer("products", NewValidator(schemapkg.Default()), NewStorageWriter(store, time.Second), fastPolicy(3), dlq, nil, logging.Nop())
	}

	_, err := NewManager(pubSub, []*Consumer{make2(), make2()}, 0, logging.Nop())
	if err == nil {
		t.Fatal("expected duplicate queue to be rejected")
	}
}

func TestManagerStartFailsWhenSubscribeFails(t *testing.T) {
	store := docstorepkg.NewMemoryStore()
	dlq := NewDeadLetterPublisher(&capturingPublisher{}, "_dlq", logging.Nop())
	consumer := NewConsumer("products", NewValidator(schemapkg.Default()), NewStorageWriter(store, time.Second), fastPolicy(3), dlq, nil, logging.Nop())

	sub := &failingSubscriber{err: errors.New("broker unreachable")}
	mgr, err := NewManager(sub, []*Consumer{consumer}, 0, logging.Nop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected start to fail when subscribe fails")
	}
}

type failingSubscriber struct {
	err error
}

func (s *failingSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return nil, s.err
}

func (s *failingSubscriber) Close() error { return nil }

func TestManagerStartIsNotReentrant(t *testing.T) {
	mgr, _, _ := newManagerFixture(t, "products")

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected second start to fail")
	}
	if err := mgr.DrainAndStop(testWait); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func TestManagerDrainWaitsForInFlightMessage(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	release := make(chan struct{})
	store := &blockingStore{MemoryStore: docstorepkg.NewMemoryStore(), release: release}
	dlq := NewDeadLetterPublisher(pubSub, "_dlq", logging.Nop())
	consumer := NewConsumer("products", NewValidator(schemapkg.Default()), NewStorageWriter(store, 0), fastPolicy(3), dlq, nil, logging.Nop())

	mgr, err := NewManager(pubSub, []*Consumer{consumer}, 0, logging.Nop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := pubSub.Publish("products", message.NewMessage(watermill.NewUUID(), []byte(productPayload("P-1")))); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return consumer.InFlight() }, "message to be picked up")

	drained := make(chan error, 1)
	go func() { drained <- mgr.DrainAndStop(testWait) }()

	select {
	case err := <-drained:
		t.Fatalf("drain returned before in-flight message finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-drained:
		if err != nil {
			t.Fatalf("drain: %v", err)
		}
	case <-time.After(testWait):
		t.Fatal("timed out waiting for drain")
	}

	if store.Len() != 1 {
		t.Fatalf("expected the in-flight message to be stored, got %d documents", store.Len())
	}
}

type blockingStore struct {
	*docstorepkg.MemoryStore
	release chan struct{}
}

func (s *blockingStore) Upsert(ctx context.Context, key docstorepkg.Key, doc docstorepkg.Document) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return fmt.Errorf("upsert interrupted: %w", ctx.Err())
	}
	return s.MemoryStore.Upsert(ctx, key, doc)
}

func TestManagerForcedStopAfterDrainTimeout(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	store := &blockingStore{MemoryStore: docstorepkg.NewMemoryStore(), release: make(chan struct{})}
	dlq := NewDeadLetterPublisher(pubSub, "_dlq", logging.Nop())
	consumer := NewConsumer("products", NewValidator(schemapkg.Default()), NewStorageWriter(store, 0), Policy{MaxRetries: 0}, dlq, nil, logging.Nop())

	mgr, err := NewManager(pubSub, []*Consumer{consumer}, 0, logging.Nop())
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := pubSub.Publish("products", message.NewMessage(watermill.NewUUID(), []byte(productPayload("P-1")))); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return consumer.InFlight() }, "message to be picked up")

	if err := mgr.DrainAndStop(50 * time.Millisecond); err == nil {
		t.Fatal("expected drain timeout error")
	}
	if store.Len() != 0 {
		t.Fatalf("interrupted message must not be stored, got %d documents", store.Len())
	}
}

func TestManagerHealthReflectsConsumerState(t *testing.T) {
	mgr, _, _ := newManagerFixture(t, "products", "stocks")

	health := mgr.Health()
	if len(health) != 2 {
		t.Fatalf("expected 2 queues, got %d", len(health))
	}
	if mgr.Healthy() {
		t.Fatal("manager must not report healthy before start")
	}

	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, mgr.Healthy, "all consumers to come up")

	for queue, h := range mgr.Health() {
		if !h.Alive {
			t.Fatalf("queue %s not alive", queue)
		}
		if h.Stalled {
			t.Fatalf("queue %s reported stalled at startup", queue)
		}
	}

	if err := mgr.DrainAndStop(testWait); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if mgr.Healthy() {
		t.Fatal("manager must report unhealthy after stop")
	}
}
