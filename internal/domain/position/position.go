// Package position produces live coordinate streams from a platform location
// capability or from simulated keyboard movement.
package position

import (
	"context"
	"sync"
	"time"

	"github.com/danghamo/proximity/internal/domain/geo"
)

// Update is one value of a position stream: a coordinate, or unknown.
type Update struct {
	Coordinate geo.Coordinate `json:"coordinate"`
	Known      bool           `json:"known"`
	Err        error          `json:"-"`
	// Cadence marks updates produced by a fixed polling tick.
	Cadence bool      `json:"cadence,omitempty"`
	At      time.Time `json:"at"`
}

// KnownUpdate creates an update carrying a coordinate
func KnownUpdate(c geo.Coordinate) Update {
	return Update{Coordinate: c, Known: true, At: time.Now()}
}

// UnknownUpdate creates an update for a missing or failed position
func UnknownUpdate(err error) Update {
	return Update{Known: false, Err: err, At: time.Now()}
}

// Fix is one reading delivered by a Locator watch.
type Fix struct {
	Coordinate geo.Coordinate
	Err        error
}

// Locator is the platform location capability.
// A nil Locator means the platform has none.
type Locator interface {
	// CurrentPosition performs a single read.
	CurrentPosition(ctx context.Context) (geo.Coordinate, error)
	// Watch streams fixes until ctx is cancelled, then closes the channel.
	Watch(ctx context.Context) (<-chan Fix, error)
}

// Source is a producer of a live position stream.
type Source interface {
	// Subscribe starts the stream. emit is only ever called from the source's
	// own goroutine, one update at a time, in delivery order.
	Subscribe(ctx context.Context, emit func(Update)) Subscription
}

// Subscription releases a running stream.
type Subscription interface {
	// Unsubscribe stops the stream and returns once no further emit can happen.
	// It is safe to call more than once.
	Unsubscribe()
}

// subscription is a goroutine-backed Subscription.
type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func start(parent context.Context, run func(ctx context.Context)) *subscription {
	ctx, cancel := context.WithCancel(parent)
	sub := &subscription{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		run(ctx)
	}()
	return sub
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancel()
		<-s.done
	})
}

// emitter drops updates once its context has ended
type emitter struct {
	ctx  context.Context
	emit func(Update)
}

func (e emitter) send(u Update) bool {
	if e.ctx.Err() != nil {
		return false
	}
	e.emit(u)
	return true
}
