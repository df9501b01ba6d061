package position

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/proximity/internal/domain/shared"
	"github.com/danghamo/proximity/pkg/logger"
)

// PollingSource reads the platform position once immediately and then on a
// fixed cadence. A failed read yields unknown; the next tick tries again.
type PollingSource struct {
	locator   Locator
	interval  time.Duration
	newTicker TickerFunc
	logger    *logger.Logger
	diag      *diagnostics
}

// NewPollingSource creates a polling source. newTicker may be nil.
func NewPollingSource(locator Locator, interval time.Duration, newTicker TickerFunc, log *logger.Logger) *PollingSource {
	if newTicker == nil {
		newTicker = NewTimeTicker
	}
	l := log.WithComponent("polling-source")
	return &PollingSource{
		locator:   locator,
		interval:  interval,
		newTicker: newTicker,
		logger:    l,
		diag:      newDiagnostics(l),
	}
}

// Subscribe starts polling
func (s *PollingSource) Subscribe(ctx context.Context, emit func(Update)) Subscription {
	return start(ctx, func(ctx context.Context) {
		out := emitter{ctx: ctx, emit: emit}

		if s.locator == nil {
			err := shared.ErrCapability("geolocation is not supported by this platform")
			s.logger.Warn("Location capability unavailable", zap.Error(err))
			out.send(UnknownUpdate(err))
			return
		}

		ticker := s.newTicker(s.interval)
		defer ticker.Stop()

		s.poll(ctx, out, false)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				s.poll(ctx, out, true)
			}
		}
	})
}

func (s *PollingSource) poll(ctx context.Context, out emitter, cadence bool) {
	readCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	coord, err := s.locator.CurrentPosition(readCtx)
	if ctx.Err() != nil {
		return
	}

	if errors.Is(err, context.DeadlineExceeded) {
		err = shared.ErrPositionTimeout("position read exceeded the polling interval")
	}

	var u Update
	if err != nil {
		s.diag.unknown("Unable to retrieve location", err)
		u = UnknownUpdate(err)
	} else {
		u = KnownUpdate(coord)
	}
	u.Cadence = cadence
	out.send(u)
}
