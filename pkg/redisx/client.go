package redisx

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/danghamo/proximity/pkg/logger"
)

const defaultDialCheck = 5 * time.Second

// Client wraps redis.Client with logging and health checks
type Client struct {
	*redis.Client
	url    string
	logger *logger.Logger
}

// ClientOption represents an option for creating a new Redis client
type ClientOption func(*clientOptions)

type clientOptions struct {
	db        int
	dialCheck time.Duration
}

// WithDB selects a database number, overriding the one in the URL
func WithDB(db int) ClientOption {
	return func(opts *clientOptions) {
		opts.db = db
	}
}

// WithDialCheck bounds the connection check done by NewClient
func WithDialCheck(d time.Duration) ClientOption {
	return func(opts *clientOptions) {
		opts.dialCheck = d
	}
}

// NewClient creates a new Redis client from URL and checks the connection
func NewClient(redisURL string, log *logger.Logger, opts ...ClientOption) (*Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL cannot be empty")
	}

	if log == nil {
		log = logger.GetGlobalLogger()
	}

	options := &clientOptions{db: -1, dialCheck: defaultDialCheck}
	for _, opt := range opts {
		opt(options)
	}

	finalURL := redisURL
	if options.db >= 0 {
		var err error
		finalURL, err = withDB(redisURL, options.db)
		if err != nil {
			return nil, err
		}
	}

	redisOptions, err := redis.ParseURL(finalURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := &Client{
		Client: redis.NewClient(redisOptions),
		url:    finalURL,
		logger: log.WithComponent("redisx"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), options.dialCheck)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client.logger.Info("Redis client connected successfully",
		zap.String("addr", redisOptions.Addr),
		zap.Int("db", redisOptions.DB),
		zap.Int("pool_size", redisOptions.PoolSize),
	)

	return client, nil
}

// Close closes the Redis client connection
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")
	return c.Client.Close()
}

// HealthCheck performs a health check on the Redis connection
func (c *Client) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := c.Ping(ctx).Err()
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("Redis health check failed",
			zap.Error(err),
			zap.Duration("duration", duration),
		)
		return err
	}

	c.logger.Debug("Redis health check passed",
		zap.Duration("duration", duration),
	)

	return nil
}

// SetWithExpiration sets a key-value pair with expiration
func (c *Client) SetWithExpiration(ctx context.Context, key string, value any, expiration time.Duration) error {
	start := time.Now()
	err := c.Set(ctx, key, value, expiration).Err()
	duration := time.Since(start)

	if err != nil {
		c.logger.Error("Failed to set key",
			zap.String("key", key),
			zap.Duration("expiration", expiration),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return err
	}

	c.logger.Debug("Set key",
		zap.String("key", key),
		zap.Duration("expiration", expiration),
		zap.Duration("duration", duration),
	)

	return nil
}

// GetWithLogging gets a value; a missing key returns redis.Nil
func (c *Client) GetWithLogging(ctx context.Context, key string) (string, error) {
	start := time.Now()
	result := c.Get(ctx, key)
	duration := time.Since(start)

	if err := result.Err(); err != nil {
		if err == redis.Nil {
			c.logger.Debug("Key not found",
				zap.String("key", key),
				zap.Duration("duration", duration),
			)
		} else {
			c.logger.Error("Failed to get key",
				zap.String("key", key),
				zap.Duration("duration", duration),
				zap.Error(err),
			)
		}
		return "", err
	}

	return result.Val(), nil
}

func withDB(redisURL string, db int) (string, error) {
	parsed, err := url.Parse(redisURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	parsed.Path = fmt.Sprintf("/%d", db)
	return parsed.String(), nil
}
