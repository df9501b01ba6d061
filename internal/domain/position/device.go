package position

import (
	"context"

	"go.uber.org/zap"

	"github.com/danghamo/proximity/internal/domain/shared"
	"github.com/danghamo/proximity/pkg/logger"
)

// DeviceSource follows a continuous platform watch.
//
// Errors from the platform become unknown updates and the watch keeps running;
// the platform owns any retrying.
type DeviceSource struct {
	locator Locator
	logger  *logger.Logger
	diag    *diagnostics
}

// NewDeviceSource creates a watch-based source. locator may be nil.
func NewDeviceSource(locator Locator, log *logger.Logger) *DeviceSource {
	l := log.WithComponent("device-source")
	return &DeviceSource{
		locator: locator,
		logger:  l,
		diag:    newDiagnostics(l),
	}
}

// Subscribe registers the watch
func (s *DeviceSource) Subscribe(ctx context.Context, emit func(Update)) Subscription {
	return start(ctx, func(ctx context.Context) {
		out := emitter{ctx: ctx, emit: emit}

		if s.locator == nil {
			err := shared.ErrCapability("geolocation is not supported by this platform")
			s.logger.Warn("Location capability unavailable", zap.Error(err))
			out.send(UnknownUpdate(err))
			return
		}

		fixes, err := s.locator.Watch(ctx)
		if err != nil {
			s.logger.Warn("Unable to start location watch", zap.Error(err))
			out.send(UnknownUpdate(err))
			return
		}

		s.logger.Debug("Location watch started")
		defer s.logger.Debug("Location watch cancelled")

		for {
			select {
			case <-ctx.Done():
				return
			case fix, ok := <-fixes:
				if !ok {
					return
				}
				if fix.Err != nil {
					s.diag.unknown("Unable to retrieve location", fix.Err)
					out.send(UnknownUpdate(fix.Err))
					continue
				}
				s.logger.Debug("Location updated", zap.Stringer("coordinate", fix.Coordinate))
				out.send(KnownUpdate(fix.Coordinate))
			}
		}
	})
}
