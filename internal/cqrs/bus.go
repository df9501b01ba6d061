package cqrs

import (
	"context"
	"fmt"
	"time"

	wmcqrs "github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/danghamo/proximity/pkg/logger"
)

const topicPrefix = "proximity-events."

// Bus carries session events to the stream handlers inside one process.
// Publish blocks until the handlers acknowledged the event so notifications
// keep the order in which a session produced them.
type Bus struct {
	pubSub         *gochannel.GoChannel
	router         *message.Router
	eventBus       *wmcqrs.EventBus
	eventProcessor *wmcqrs.EventProcessor
	logger         *logger.Logger
}

// NewBus creates the event bus and its router
func NewBus(log *logger.Logger) (*Bus, error) {
	l := log.WithComponent("event-bus")
	watermillLogger := logger.NewWatermillAdapter(l)

	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		BlockPublishUntilSubscriberAck: true,
	}, watermillLogger)

	// Create message router with short close timeout
	router, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: 5 * time.Second,
	}, watermillLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	eventBus, err := wmcqrs.NewEventBusWithConfig(
		pubSub,
		wmcqrs.EventBusConfig{
			GeneratePublishTopic: func(params wmcqrs.GenerateEventPublishTopicParams) (string, error) {
				return topicPrefix + params.EventName, nil
			},
			Marshaler: wmcqrs.JSONMarshaler{},
			Logger:    watermillLogger,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	eventProcessor, err := wmcqrs.NewEventProcessorWithConfig(
		router,
		wmcqrs.EventProcessorConfig{
			GenerateSubscribeTopic: func(params wmcqrs.EventProcessorGenerateSubscribeTopicParams) (string, error) {
				return topicPrefix + params.EventName, nil
			},
			SubscriberConstructor: func(params wmcqrs.EventProcessorSubscriberConstructorParams) (message.Subscriber, error) {
				return pubSub, nil
			},
			Marshaler: wmcqrs.JSONMarshaler{},
			Logger:    watermillLogger,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create event processor: %w", err)
	}

	return &Bus{
		pubSub:         pubSub,
		router:         router,
		eventBus:       eventBus,
		eventProcessor: eventProcessor,
		logger:         l,
	}, nil
}

// Publish sends an event to every registered handler
func (b *Bus) Publish(ctx context.Context, event interface{}) error {
	return b.eventBus.Publish(ctx, event)
}

// AddHandlers registers event handlers. Call before Run.
func (b *Bus) AddHandlers(handlers ...wmcqrs.EventHandler) error {
	return b.eventProcessor.AddHandlers(handlers...)
}

// Run starts the router and blocks until ctx is done or Close is called
func (b *Bus) Run(ctx context.Context) error {
	return b.router.Run(ctx)
}

// Running is closed once the router accepts messages
func (b *Bus) Running() chan struct{} {
	return b.router.Running()
}

// Close stops the router and the underlying pub/sub
func (b *Bus) Close() error {
	if err := b.router.Close(); err != nil {
		return fmt.Errorf("failed to close router: %w", err)
	}
	if err := b.pubSub.Close(); err != nil {
		return fmt.Errorf("failed to close pubsub: %w", err)
	}
	b.logger.Debug("Event bus closed")
	return nil
}
