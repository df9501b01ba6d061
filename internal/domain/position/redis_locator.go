package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danghamo/proximity/internal/domain/geo"
	"github.com/danghamo/proximity/internal/domain/shared"
	"github.com/danghamo/proximity/pkg/logger"
	"github.com/danghamo/proximity/pkg/redisx"
)

// Failure reasons a device may report instead of a fix
const (
	ReasonPermissionDenied = "permission_denied"
	ReasonTimeout          = "timeout"
	ReasonUnavailable      = "unavailable"
)

// FixRecord is the wire form of a fix, stored under the current key and
// published on the fix stream.
type FixRecord struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Error      string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// RedisLocatorConfig holds key and topic names
type RedisLocatorConfig struct {
	CurrentKey string
	FixTopic   string
	FixTTL     time.Duration // expiry of the current fix; 0 keeps it forever
}

// RedisLocator is a platform location capability backed by Redis: the latest
// fix under a key for single reads, and a Redis stream for continuous watches.
type RedisLocator struct {
	client          *redisx.Client
	config          RedisLocatorConfig
	watermillLogger watermill.LoggerAdapter
	publisher       message.Publisher
	logger          *logger.Logger
}

// NewRedisLocator creates a Redis-backed locator
func NewRedisLocator(client *redisx.Client, cfg RedisLocatorConfig, log *logger.Logger) (*RedisLocator, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if cfg.CurrentKey == "" {
		cfg.CurrentKey = "location:current"
	}
	if cfg.FixTopic == "" {
		cfg.FixTopic = "location.fixes"
	}

	l := log.WithComponent("redis-locator")
	wmLogger := logger.NewWatermillAdapter(l)

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{Client: client.Client},
		wmLogger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fix publisher: %w", err)
	}

	return &RedisLocator{
		client:          client,
		config:          cfg,
		watermillLogger: wmLogger,
		publisher:       publisher,
		logger:          l,
	}, nil
}

// CurrentPosition reads the latest recorded fix
func (l *RedisLocator) CurrentPosition(ctx context.Context) (geo.Coordinate, error) {
	data, err := l.client.GetWithLogging(ctx, l.config.CurrentKey)
	if errors.Is(err, redis.Nil) {
		return geo.Coordinate{}, shared.ErrPosition("no fix recorded yet")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return geo.Coordinate{}, shared.ErrPositionTimeout("reading current fix")
	}
	if err != nil {
		return geo.Coordinate{}, shared.WrapDomainError(err, shared.ErrCodePositionUnavailable, "failed to read current fix")
	}

	fix, err := DecodeFix([]byte(data))
	if err != nil {
		return geo.Coordinate{}, err
	}
	return fix.Coordinate, fix.Err
}

// Watch subscribes to the fix stream. Each watch gets its own fan-out subscriber.
func (l *RedisLocator) Watch(ctx context.Context) (<-chan Fix, error) {
	subscriber, err := redisstream.NewSubscriber(
		redisstream.SubscriberConfig{Client: l.client.Client},
		l.watermillLogger,
	)
	if err != nil {
		return nil, shared.WrapDomainError(err, shared.ErrCodeCapabilityUnavailable, "failed to create fix subscriber")
	}

	messages, err := subscriber.Subscribe(ctx, l.config.FixTopic)
	if err != nil {
		_ = subscriber.Close()
		return nil, shared.WrapDomainError(err, shared.ErrCodeCapabilityUnavailable, "failed to subscribe to fixes")
	}

	fixes := make(chan Fix)
	go func() {
		defer close(fixes)
		defer func() {
			if err := subscriber.Close(); err != nil {
				l.logger.Debug("Fix subscriber close failed", zap.Error(err))
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				fix, err := DecodeFix(msg.Payload)
				msg.Ack()
				if err != nil {
					l.logger.Warn("Dropping malformed fix", zap.String("message_id", msg.UUID), zap.Error(err))
					continue
				}
				select {
				case fixes <- fix:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return fixes, nil
}

// PublishFix records rec as the current fix and appends it to the fix stream
func (l *RedisLocator) PublishFix(ctx context.Context, rec FixRecord) error {
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal fix: %w", err)
	}

	if err := l.client.SetWithExpiration(ctx, l.config.CurrentKey, payload, l.config.FixTTL); err != nil {
		return fmt.Errorf("failed to store current fix: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := l.publisher.Publish(l.config.FixTopic, msg); err != nil {
		return fmt.Errorf("failed to publish fix: %w", err)
	}

	l.logger.Debug("Fix published",
		zap.Float64("latitude", rec.Latitude),
		zap.Float64("longitude", rec.Longitude),
		zap.String("error", rec.Error))
	return nil
}

// Close releases the publisher
func (l *RedisLocator) Close() error {
	return l.publisher.Close()
}

// DecodeFix parses a FixRecord payload. A record carrying an error reason
// decodes to a Fix whose Err is the matching position error.
func DecodeFix(data []byte) (Fix, error) {
	var rec FixRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return Fix{}, shared.WrapDomainError(err, shared.ErrCodeInvalidInput, "malformed fix record")
	}
	if rec.Error != "" {
		return Fix{Err: ReasonError(rec.Error)}, nil
	}
	return Fix{Coordinate: geo.NewCoordinate(rec.Latitude, rec.Longitude)}, nil
}

// ReasonError maps a device failure reason to a position error
func ReasonError(reason string) error {
	switch reason {
	case ReasonPermissionDenied:
		return shared.ErrPermission("device reported permission denied")
	case ReasonTimeout:
		return shared.ErrPositionTimeout("device reported timeout")
	default:
		return shared.ErrPosition("device reported " + reason)
	}
}
