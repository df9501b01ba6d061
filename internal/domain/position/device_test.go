package position

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/proximity/internal/domain/geo"
	"github.com/danghamo/proximity/internal/domain/shared"
)

func TestDeviceSource_NoCapabilityYieldsUnknown(t *testing.T) {
	c := newCollector()
	sub := NewDeviceSource(nil, testLogger).Subscribe(context.Background(), c.emit)
	defer sub.Unsubscribe()

	u := c.next(t)
	assert.False(t, u.Known)
	assert.True(t, errors.Is(u.Err, shared.ErrCapabilityUnavailable))
	c.none(t, 20*time.Millisecond)
}

func TestDeviceSource_WatchStartFailureYieldsUnknown(t *testing.T) {
	loc := newFakeLocator()
	loc.watchErr = shared.ErrCapability("watch refused")
	c := newCollector()

	sub := NewDeviceSource(loc, testLogger).Subscribe(context.Background(), c.emit)
	defer sub.Unsubscribe()

	u := c.next(t)
	assert.False(t, u.Known)
	assert.True(t, shared.IsPositionError(u.Err))
}

func TestDeviceSource_ErrorsDoNotEndSubscription(t *testing.T) {
	loc := newFakeLocator()
	c := newCollector()
	sub := NewDeviceSource(loc, testLogger).Subscribe(context.Background(), c.emit)
	defer sub.Unsubscribe()

	require.True(t, loc.push(Fix{Coordinate: geo.NewCoordinate(52.0, 4.0)}))
	u := c.next(t)
	assert.True(t, u.Known)
	assert.Equal(t, geo.NewCoordinate(52.0, 4.0), u.Coordinate)

	require.True(t, loc.push(Fix{Err: shared.ErrPermission("user said no")}))
	u = c.next(t)
	assert.False(t, u.Known)
	assert.True(t, errors.Is(u.Err, shared.ErrPermissionDenied))

	require.True(t, loc.push(Fix{Err: shared.ErrPositionTimeout("no satellites")}))
	assert.False(t, c.next(t).Known)

	require.True(t, loc.push(Fix{Coordinate: geo.NewCoordinate(52.1, 4.1)}))
	u = c.next(t)
	assert.True(t, u.Known)
	assert.Equal(t, geo.NewCoordinate(52.1, 4.1), u.Coordinate)
}

func TestDeviceSource_NoEmissionAfterUnsubscribe(t *testing.T) {
	loc := newFakeLocator()
	c := newCollector()
	sub := NewDeviceSource(loc, testLogger).Subscribe(context.Background(), c.emit)

	require.True(t, loc.push(Fix{Coordinate: geo.NewCoordinate(52.0, 4.0)}))
	assert.Equal(t, geo.NewCoordinate(52.0, 4.0), c.next(t).Coordinate)

	sub.Unsubscribe()

	assert.False(t, loc.push(Fix{Coordinate: geo.NewCoordinate(53.0, 5.0)}))
	c.none(t, 20*time.Millisecond)

	require.Eventually(t, func() bool { return loc.cancels() == 1 }, time.Second, 5*time.Millisecond)

	sub.Unsubscribe()
	assert.Equal(t, 1, loc.cancels())
}

func TestDeviceSource_ParentContextCancelStopsWatch(t *testing.T) {
	loc := newFakeLocator()
	c := newCollector()
	ctx, cancel := context.WithCancel(context.Background())
	sub := NewDeviceSource(loc, testLogger).Subscribe(ctx, c.emit)
	defer sub.Unsubscribe()

	cancel()
	require.Eventually(t, func() bool { return loc.cancels() == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, loc.push(Fix{Coordinate: geo.NewCoordinate(1, 1)}))
}
