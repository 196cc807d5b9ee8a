package broker

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	configpkg "github.com/drblury/catalogflow/internal/config"
)

var GoChannelFactory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func channelTransport(_ *configpkg.Config, logger watermill.LoggerAdapter) (Transport, error) {
	// Without BlockPublishUntilSubscriberAck the gochannel delivers each
	// publish on its own goroutine and back-to-back publishes can arrive
	// out of order. The pipeline assumes the broker preserves publish
	// order per queue, so delivery is serialized here like the durable
	// transports do.
	pub, sub := GoChannelFactory(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, logger)

	return Transport{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}
