package position

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/proximity/internal/domain/geo"
	"github.com/danghamo/proximity/pkg/logger"
)

// SimulatedSource moves a coordinate with held movement keys.
//
// On every frame the held directions advance the position by
// speed × elapsedSeconds / 1000 degrees. Longitude steps are not scaled by
// cos(latitude), so eastward movement looks faster away from the equator.
type SimulatedSource struct {
	locator       Locator
	keyboard      *Keyboard
	speed         float64
	frameInterval time.Duration
	newTicker     TickerFunc
	logger        *logger.Logger
}

// SimulatedConfig holds the simulated source settings
type SimulatedConfig struct {
	Speed         float64
	FrameInterval time.Duration
	NewTicker     TickerFunc // nil uses time.Ticker
}

// NewSimulatedSource creates a keyboard-driven source seeded from locator
func NewSimulatedSource(locator Locator, keyboard *Keyboard, cfg SimulatedConfig, log *logger.Logger) *SimulatedSource {
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewTimeTicker
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = time.Second / 60
	}
	return &SimulatedSource{
		locator:       locator,
		keyboard:      keyboard,
		speed:         cfg.Speed,
		frameInterval: cfg.FrameInterval,
		newTicker:     cfg.NewTicker,
		logger:        log.WithComponent("simulated-source"),
	}
}

// Subscribe seeds the position, attaches the key listener and starts the frame loop
func (s *SimulatedSource) Subscribe(ctx context.Context, emit func(Update)) Subscription {
	return start(ctx, func(ctx context.Context) {
		out := emitter{ctx: ctx, emit: emit}

		var (
			pos   geo.Coordinate
			known bool
		)
		if s.locator != nil {
			seed, err := s.locator.CurrentPosition(ctx)
			if err == nil {
				pos, known = seed, true
				s.logger.Debug("Seeded simulated position", zap.Stringer("coordinate", pos))
				out.send(KnownUpdate(pos))
			} else {
				s.logger.Debug("No seed position for simulated movement", zap.Error(err))
			}
		}

		keys := make(chan KeyEvent)
		remove := s.keyboard.Listen(func(ev KeyEvent) bool {
			if !IsMovementKey(ev.Key) {
				return false
			}
			select {
			case keys <- ev:
			case <-ctx.Done():
			}
			return true
		})
		defer remove()

		ticker := s.newTicker(s.frameInterval)
		defer ticker.Stop()

		held := make(map[direction]map[string]bool)
		var last time.Time

		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-keys:
				dir := movementKeys[ev.Key]
				if held[dir] == nil {
					held[dir] = make(map[string]bool)
				}
				if ev.Down {
					held[dir][ev.Key] = true
				} else {
					delete(held[dir], ev.Key)
				}
			case ts := <-ticker.C():
				if !known {
					continue
				}
				if last.IsZero() {
					last = ts
					continue
				}
				elapsed := ts.Sub(last).Seconds()
				last = ts

				next := s.step(pos, held, elapsed)
				if next != pos {
					pos = next
					out.send(KnownUpdate(pos))
				}
			}
		}
	})
}

func (s *SimulatedSource) step(pos geo.Coordinate, held map[direction]map[string]bool, elapsed float64) geo.Coordinate {
	distance := s.speed * elapsed / 1000

	var dLat, dLon float64
	if len(held[north]) > 0 {
		dLat++
	}
	if len(held[south]) > 0 {
		dLat--
	}
	if len(held[east]) > 0 {
		dLon++
	}
	if len(held[west]) > 0 {
		dLon--
	}
	lat := pos.Latitude + dLat*distance
	lon := pos.Longitude + dLon*distance
	return geo.NewCoordinate(lat, lon)
}
