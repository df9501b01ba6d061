package position

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/proximity/internal/domain/geo"
	"github.com/danghamo/proximity/internal/domain/shared"
)

type simulatedFixture struct {
	keyboard *Keyboard
	ticker   *manualTicker
	out      *collector
	sub      Subscription
}

func startSimulated(t *testing.T, loc Locator, speed float64) *simulatedFixture {
	t.Helper()
	kb := NewKeyboard()
	tk := newTickers()
	c := newCollector()

	src := NewSimulatedSource(loc, kb, SimulatedConfig{
		Speed:         speed,
		FrameInterval: 16 * time.Millisecond,
		NewTicker:     tk.New,
	}, testLogger)
	sub := src.Subscribe(context.Background(), c.emit)
	t.Cleanup(sub.Unsubscribe)

	// the ticker is created after the key listener is attached
	return &simulatedFixture{keyboard: kb, ticker: tk.next(t), out: c, sub: sub}
}

func (f *simulatedFixture) frames(t *testing.T, base time.Time, from, to int) {
	t.Helper()
	for i := from; i <= to; i++ {
		f.ticker.tick(t, base.Add(time.Duration(i)*16*time.Millisecond))
	}
}

func TestSimulatedSource_UpKeyMovesNorth(t *testing.T) {
	loc := newFakeLocator()
	loc.set(geo.NewCoordinate(52.0, 4.0), nil)
	f := startSimulated(t, loc, 5)

	seed := f.out.next(t)
	require.True(t, seed.Known)
	assert.Equal(t, geo.NewCoordinate(52.0, 4.0), seed.Coordinate)

	assert.True(t, f.keyboard.Dispatch(KeyEvent{Key: "ArrowUp", Down: true}))

	// 126 frames, 16ms apart: 2 seconds of frame time
	base := time.Unix(1_700_000_000, 0)
	f.frames(t, base, 0, 125)

	// a consumed key-up is a barrier: every earlier frame has been integrated
	assert.True(t, f.keyboard.Dispatch(KeyEvent{Key: "ArrowUp", Down: false}))

	updates := f.out.drain()
	require.Len(t, updates, 125)
	prev := seed.Coordinate.Latitude
	for _, u := range updates {
		assert.True(t, u.Known)
		assert.Greater(t, u.Coordinate.Latitude, prev)
		assert.Equal(t, 4.0, u.Coordinate.Longitude)
		prev = u.Coordinate.Latitude
	}
	last := updates[len(updates)-1].Coordinate
	assert.InDelta(t, 52.0+5*2.0/1000, last.Latitude, 1e-9)

	// released: position freezes
	f.frames(t, base, 126, 140)
	f.keyboard.Dispatch(KeyEvent{Key: "w", Down: false})
	assert.Empty(t, f.out.drain())
}

func TestSimulatedSource_DirectionsAndHeldAliases(t *testing.T) {
	loc := newFakeLocator()
	loc.set(geo.NewCoordinate(0, 0), nil)
	f := startSimulated(t, loc, 1000)
	f.out.next(t)

	base := time.Unix(1_700_000_000, 0)
	f.keyboard.Dispatch(KeyEvent{Key: "d", Down: true})
	f.keyboard.Dispatch(KeyEvent{Key: "s", Down: true})
	f.frames(t, base, 0, 1)
	f.keyboard.Dispatch(KeyEvent{Key: "d", Down: false})

	u := f.out.drain()
	require.Len(t, u, 1)
	assert.InDelta(t, -0.016, u[0].Coordinate.Latitude, 1e-12)
	assert.InDelta(t, 0.016, u[0].Coordinate.Longitude, 1e-12)

	// w and ArrowUp both steer north; releasing one keeps moving
	f.keyboard.Dispatch(KeyEvent{Key: "s", Down: false})
	f.keyboard.Dispatch(KeyEvent{Key: "w", Down: true})
	f.keyboard.Dispatch(KeyEvent{Key: "ArrowUp", Down: true})
	f.keyboard.Dispatch(KeyEvent{Key: "ArrowUp", Down: false})
	f.frames(t, base, 2, 2)
	f.keyboard.Dispatch(KeyEvent{Key: "w", Down: false})

	u = f.out.drain()
	require.Len(t, u, 1)
	assert.InDelta(t, 0.0, u[0].Coordinate.Latitude, 1e-12)
}

func TestSimulatedSource_OpposingKeysCancel(t *testing.T) {
	loc := newFakeLocator()
	loc.set(geo.NewCoordinate(10, 10), nil)
	f := startSimulated(t, loc, 5)
	f.out.next(t)

	f.keyboard.Dispatch(KeyEvent{Key: "a", Down: true})
	f.keyboard.Dispatch(KeyEvent{Key: "ArrowRight", Down: true})
	f.frames(t, time.Unix(1_700_000_000, 0), 0, 5)
	f.keyboard.Dispatch(KeyEvent{Key: "a", Down: false})

	assert.Empty(t, f.out.drain())
}

func TestSimulatedSource_IgnoresOtherKeys(t *testing.T) {
	loc := newFakeLocator()
	loc.set(geo.NewCoordinate(10, 10), nil)
	f := startSimulated(t, loc, 5)
	f.out.next(t)

	assert.False(t, f.keyboard.Dispatch(KeyEvent{Key: "Enter", Down: true}))
	assert.False(t, f.keyboard.Dispatch(KeyEvent{Key: "W", Down: true}))
}

func TestSimulatedSource_WithoutSeedStaysUnknown(t *testing.T) {
	loc := newFakeLocator()
	loc.set(geo.Coordinate{}, shared.ErrPosition("no fix"))
	f := startSimulated(t, loc, 5)

	f.keyboard.Dispatch(KeyEvent{Key: "ArrowUp", Down: true})
	f.frames(t, time.Unix(1_700_000_000, 0), 0, 10)
	f.keyboard.Dispatch(KeyEvent{Key: "ArrowUp", Down: false})

	assert.Empty(t, f.out.drain())
}

func TestSimulatedSource_UnsubscribeReleasesEverything(t *testing.T) {
	loc := newFakeLocator()
	loc.set(geo.NewCoordinate(52.0, 4.0), nil)
	f := startSimulated(t, loc, 5)
	f.out.next(t)
	require.Equal(t, 1, f.keyboard.ListenerCount())

	f.keyboard.Dispatch(KeyEvent{Key: "ArrowUp", Down: true})
	f.sub.Unsubscribe()

	assert.Equal(t, 0, f.keyboard.ListenerCount())
	assert.True(t, f.ticker.stopped.Load())
	assert.False(t, f.keyboard.Dispatch(KeyEvent{Key: "ArrowUp", Down: true}))
	f.out.none(t, 20*time.Millisecond)
}
