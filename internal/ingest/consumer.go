package ingest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	idspkg "github.com/drblury/catalogflow/internal/ids"
	logging "github.com/drblury/catalogflow/internal/logging"
)

// Consumer processes one queue strictly sequentially: the next message is
// not taken until the current one reaches a terminal outcome. Per-queue
// ordering follows from that, with no cross-queue coordination.
type Consumer struct {
	queue     string
	validator *Validator
	writer    *StorageWriter
	policy    Policy
	dlq       *DeadLetterPublisher
	metrics   *Metrics
	logger    logging.ServiceLogger

	alive        atomic.Bool
	inFlight     atomic.Bool
	lastProgress atomic.Int64
}

// NewConsumer builds a consumer for one queue. metrics may be nil.
func NewConsumer(
	queue string,
	validator *Validator,
	writer *StorageWriter,
	policy Policy,
	dlq *DeadLetterPublisher,
	metrics *Metrics,
	logger logging.ServiceLogger,
) *Consumer {
	return &Consumer{
		queue:     queue,
		validator: validator,
		writer:    writer,
		policy:    policy.withDefaults(),
		dlq:       dlq,
		metrics:   metrics,
		logger:    logger.With(logging.LogFields{"queue": queue}),
	}
}

// Queue returns the queue this consumer is bound to.
func (c *Consumer) Queue() string {
	return c.queue
}

// Run drains the message channel until it closes. ctx bounds message
// processing: cancelling it makes the current message nack and stops the
// loop, leaving unacked messages for broker redelivery.
func (c *Consumer) Run(ctx context.Context, messages <-chan *message.Message) {
	c.alive.Store(true)
	c.markProgress()
	defer c.alive.Store(false)

	c.logger.Info("consumer started", nil)
	for msg := range messages {
		c.handle(ctx, msg)
		c.markProgress()
		if ctx.Err() != nil {
			break
		}
	}
	c.logger.Info("consumer stopped", nil)
}

// Healthy reports whether the consumer loop is running.
func (c *Consumer) Healthy() bool {
	return c.alive.Load()
}

// InFlight reports whether a message is currently being processed.
func (c *Consumer) InFlight() bool {
	return c.inFlight.Load()
}

// LastProgress returns the time the consumer last reached a terminal
// outcome or started up.
func (c *Consumer) LastProgress() time.Time {
	return time.Unix(0, c.lastProgress.Load())
}

func (c *Consumer) markProgress() {
	c.lastProgress.Store(time.Now().UnixNano())
}

func (c *Consumer) handle(ctx context.Context, msg *message.Message) {
	c.inFlight.Store(true)
	defer c.inFlight.Store(false)

	started := time.Now()
	c.metrics.MessageStarted(c.queue)

	correlationID := msg.Metadata.Get(MetadataCorrelationID)
	if correlationID == "" {
		correlationID = idspkg.CreateULID()
		msg.Metadata.Set(MetadataCorrelationID, correlationID)
	}
	log := c.logger.With(logging.LogFields{
		"correlation_id": correlationID,
		"message_uuid":   msg.UUID,
	})

	tracer := otel.Tracer("catalogflow-ingest")
	spanCtx, span := tracer.Start(ctx, "ProcessMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", c.queue),
		attribute.String("message.uuid", msg.UUID),
		attribute.String("message.correlation_id", correlationID),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing message", nil, logging.LogFields{"panic": r})
			c.metrics.MessageFinished(c.queue, OutcomeRequeued, time.Since(started))
			msg.Nack()
		}
	}()

	outcome := c.process(spanCtx, msg, log)
	c.metrics.MessageFinished(c.queue, outcome, time.Since(started))
}

// process drives the message through its lifecycle and returns the metric
// outcome. The message is always acked, nacked, or dead-lettered exactly
// once before process returns.
func (c *Consumer) process(ctx context.Context, msg *message.Message, log logging.ServiceLogger) string {
	tracker := NewTracker()
	mustAdvance(tracker, StateValidating)

	rec, verr := c.validator.Validate(msg.Payload)
	if verr != nil {
		mustAdvance(tracker, StateRejected)
		log.Info("message rejected", logging.LogFields{
			"reason": string(verr.Reason),
			"field":  verr.Field,
			"detail": verr.Detail,
		})
		return c.deadLetter(tracker, msg, verr.Reason, 0, log)
	}

	mustAdvance(tracker, StatePersisting)
	bo := c.policy.newBackOff()
	bo.Reset()

	attempts := c.policy.Attempts()
	for attempt := 1; ; attempt++ {
		res := c.writer.Persist(ctx, rec)
		switch res.Status {
		case PersistOK:
			mustAdvance(tracker, StateAcknowledged)
			log.Debug("message stored", logging.LogFields{
				"collection":   rec.Collection,
				"product_code": rec.ProductCode,
				"attempts":     attempt,
			})
			msg.Ack()
			return OutcomeStored

		case PersistFatal:
			log.Error("persistence failed permanently", res.Cause, logging.LogFields{
				"collection":   rec.Collection,
				"product_code": rec.ProductCode,
			})
			return c.deadLetter(tracker, msg, ReasonStorageFatal, attempt-1, log)

		case PersistRetryable:
			if attempt >= attempts {
				log.Error("persistence retries exhausted", res.Cause, logging.LogFields{
					"collection":   rec.Collection,
					"product_code": rec.ProductCode,
					"attempts":     attempt,
				})
				return c.deadLetter(tracker, msg, ReasonRetriesExhausted, attempt-1, log)
			}

			mustAdvance(tracker, StateRetryScheduled)
			c.metrics.RetryScheduled(c.queue)
			wait := bo.NextBackOff()
			log.Info("persistence failed, retrying", logging.LogFields{
				"attempt": attempt,
				"wait":    wait.String(),
				"cause":   res.Cause.Error(),
			})

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				log.Info("shutdown during retry wait, requeueing", nil)
				msg.Nack()
				return OutcomeRequeued
			}
			mustAdvance(tracker, StatePersisting)
		}
	}
}

// deadLetter publishes the failure envelope and acks the original only after
// the publish succeeds, so the message is never lost between queues.
func (c *Consumer) deadLetter(tracker *Tracker, msg *message.Message, reason Reason, retries int, log logging.ServiceLogger) string {
	mustAdvance(tracker, StateDeadLettered)
	c.metrics.DeadLettered(c.queue, reason)

	if err := c.dlq.Publish(c.queue, msg, reason, retries); err != nil {
		log.Error("dead-letter publish failed, requeueing original", err, nil)
		msg.Nack()
		return OutcomeRequeued
	}
	msg.Ack()
	return OutcomeDeadLettered
}

// mustAdvance panics on an illegal transition. Transitions are driven by
// this package only, so a failure is a bug; the handle recover turns the
// panic into a nack.
func mustAdvance(tracker *Tracker, next State) {
	if err := tracker.Advance(next); err != nil {
		panic(err)
	}
}
