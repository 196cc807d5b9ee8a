// Package broker builds the Watermill publisher/subscriber pair for the
// configured message infrastructure. Consumers subscribe to source queues
// through it; the dead-letter publisher reuses the same connection.
package broker

import (
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	configpkg "github.com/drblury/catalogflow/internal/config"
)

// Transport combines the publisher and subscriber for one broker connection.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// New builds the transport selected by conf.Broker.
func New(conf *configpkg.Config, logger watermill.LoggerAdapter) (Transport, error) {
	switch strings.ToLower(conf.Broker) {
	case "rabbitmq":
		return rabbitTransport(conf, logger)
	case "kafka":
		return kafkaTransport(conf, logger)
	case "nats":
		return natsTransport(conf, logger)
	case "channel":
		return channelTransport(conf, logger)
	default:
		return Transport{}, fmt.Errorf("broker: unsupported system %q", conf.Broker)
	}
}

// Close shuts down both halves of the transport. Safe when publisher and
// subscriber share one connection (the channel transport).
func (t Transport) Close() error {
	var firstErr error
	if t.Subscriber != nil {
		if err := t.Subscriber.Close(); err != nil {
			firstErr = err
		}
	}
	if t.Publisher != nil && any(t.Publisher) != any(t.Subscriber) {
		if err := t.Publisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
