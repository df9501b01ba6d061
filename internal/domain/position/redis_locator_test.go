package position

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/proximity/internal/domain/geo"
	"github.com/danghamo/proximity/internal/domain/shared"
	"github.com/danghamo/proximity/pkg/redisx"
)

func TestDecodeFix(t *testing.T) {
	fix, err := DecodeFix([]byte(`{"latitude":52.5,"longitude":13.4}`))
	require.NoError(t, err)
	assert.NoError(t, fix.Err)
	assert.Equal(t, geo.NewCoordinate(52.5, 13.4), fix.Coordinate)

	fix, err = DecodeFix([]byte(`{"error":"permission_denied"}`))
	require.NoError(t, err)
	assert.True(t, errors.Is(fix.Err, shared.ErrPermissionDenied))

	fix, err = DecodeFix([]byte(`{"error":"timeout"}`))
	require.NoError(t, err)
	assert.True(t, errors.Is(fix.Err, shared.ErrTimeout))

	fix, err = DecodeFix([]byte(`{"error":"sensor on fire"}`))
	require.NoError(t, err)
	assert.True(t, errors.Is(fix.Err, shared.ErrPositionUnavailable))

	_, err = DecodeFix([]byte(`not json`))
	assert.Error(t, err)
}

// setupTestRedis creates a Redis client for testing
func setupTestRedis(t *testing.T) *redisx.Client {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL environment variable not set, skipping Redis integration tests")
	}

	client, err := redisx.NewClient(redisURL, testLogger)
	require.NoError(t, err, "Failed to connect to Redis")
	return client
}

func TestNewRedisLocator_RequiresClient(t *testing.T) {
	_, err := NewRedisLocator(nil, RedisLocatorConfig{}, testLogger)
	assert.Error(t, err)
}

func TestRedisLocator_CurrentAndWatch(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	cfg := RedisLocatorConfig{
		CurrentKey: "test:location:current:" + shared.NewID().String(),
		FixTopic:   "test.location.fixes." + shared.NewID().String(),
	}
	defer client.Del(context.Background(), cfg.CurrentKey, cfg.FixTopic)

	loc, err := NewRedisLocator(client, cfg, testLogger)
	require.NoError(t, err)
	defer loc.Close()

	ctx := context.Background()

	_, err = loc.CurrentPosition(ctx)
	assert.True(t, errors.Is(err, shared.ErrPositionUnavailable))

	watchCtx, cancel := context.WithCancel(ctx)
	fixes, err := loc.Watch(watchCtx)
	require.NoError(t, err)

	// fan-out subscribers only see entries added after they start reading
	time.Sleep(200 * time.Millisecond)

	require.NoError(t, loc.PublishFix(ctx, FixRecord{Latitude: 52.0, Longitude: 4.0}))

	current, err := loc.CurrentPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, geo.NewCoordinate(52.0, 4.0), current)

	select {
	case fix := <-fixes:
		assert.NoError(t, fix.Err)
		assert.Equal(t, geo.NewCoordinate(52.0, 4.0), fix.Coordinate)
	case <-time.After(5 * time.Second):
		t.Fatal("fix never arrived on the stream")
	}

	cancel()
	for {
		select {
		case _, open := <-fixes:
			if !open {
				return
			}
		case <-time.After(5 * time.Second):
			t.Fatal("watch channel was not closed after cancel")
		}
	}
}

func TestRedisLocator_CurrentFixExpires(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	cfg := RedisLocatorConfig{
		CurrentKey: "test:location:current:" + shared.NewID().String(),
		FixTopic:   "test.location.fixes." + shared.NewID().String(),
		FixTTL:     time.Minute,
	}
	defer client.Del(context.Background(), cfg.CurrentKey, cfg.FixTopic)

	loc, err := NewRedisLocator(client, cfg, testLogger)
	require.NoError(t, err)
	defer loc.Close()

	ctx := context.Background()
	require.NoError(t, loc.PublishFix(ctx, FixRecord{Latitude: 1, Longitude: 2}))

	ttl, err := client.TTL(ctx, cfg.CurrentKey).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)

	current, err := loc.CurrentPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, geo.NewCoordinate(1, 2), current)
}
