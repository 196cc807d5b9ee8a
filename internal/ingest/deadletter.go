package ingest

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	jsoncodec "github.com/drblury/catalogflow/internal/jsoncodec"
	logging "github.com/drblury/catalogflow/internal/logging"
)

// DeadLetter is the envelope published to a dead-letter queue. The original
// payload is carried verbatim so operators can replay it after fixing the
// upstream problem.
type DeadLetter struct {
	OriginalMessage string    `json:"original_message"`
	FailureReason   Reason    `json:"failure_reason"`
	FailedAt        time.Time `json:"failed_at"`
	SourceQueue     string    `json:"source_queue"`
	CorrelationID   string    `json:"correlation_id"`
	Retries         int       `json:"retries"`
}

// DeadLetterPublisher routes failed messages to the dead-letter queue paired
// with their source queue (source queue name plus the configured suffix).
type DeadLetterPublisher struct {
	publisher message.Publisher
	suffix    string
	logger    logging.ServiceLogger
	now       func() time.Time
}

// NewDeadLetterPublisher wraps the transport publisher. suffix defaults to
// "_dlq" when empty.
func NewDeadLetterPublisher(publisher message.Publisher, suffix string, logger logging.ServiceLogger) *DeadLetterPublisher {
	if suffix == "" {
		suffix = "_dlq"
	}
	return &DeadLetterPublisher{
		publisher: publisher,
		suffix:    suffix,
		logger:    logger,
		now:       time.Now,
	}
}

// QueueFor returns the dead-letter queue name for a source queue.
func (p *DeadLetterPublisher) QueueFor(sourceQueue string) string {
	return sourceQueue + p.suffix
}

// Publish wraps the failed message in a DeadLetter envelope and publishes it.
// The caller acks the original only after Publish returns nil.
func (p *DeadLetterPublisher) Publish(sourceQueue string, original *message.Message, reason Reason, retries int) error {
	envelope := DeadLetter{
		OriginalMessage: string(original.Payload),
		FailureReason:   reason,
		FailedAt:        p.now().UTC(),
		SourceQueue:     sourceQueue,
		CorrelationID:   original.Metadata.Get(MetadataCorrelationID),
		Retries:         retries,
	}

	payload, err := jsoncodec.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal dead letter envelope: %w", err)
	}

	msg := message.NewMessage(original.UUID, payload)
	msg.Metadata.Set(MetadataCorrelationID, envelope.CorrelationID)
	msg.Metadata.Set(MetadataSourceQueue, sourceQueue)
	msg.Metadata.Set(MetadataFailureReason, string(reason))
	msg.Metadata.Set(MetadataFailedAt, envelope.FailedAt.Format(time.RFC3339Nano))
	msg.Metadata.Set(MetadataRetryCount, fmt.Sprintf("%d", retries))

	target := p.QueueFor(sourceQueue)
	if err := p.publisher.Publish(target, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", target, err)
	}

	p.logger.Info("message dead-lettered", logging.LogFields{
		"queue":          sourceQueue,
		"dlq":            target,
		"reason":         string(reason),
		"retries":        retries,
		"correlation_id": envelope.CorrelationID,
	})
	return nil
}
