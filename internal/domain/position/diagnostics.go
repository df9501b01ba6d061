package position

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/danghamo/proximity/pkg/logger"
)

// diagnostics reports unknown positions without flooding the log on a 1s poll.
type diagnostics struct {
	logger    *logger.Logger
	sometimes *rate.Sometimes
}

func newDiagnostics(log *logger.Logger) *diagnostics {
	return &diagnostics{
		logger:    log,
		sometimes: &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

func (d *diagnostics) unknown(msg string, err error) {
	d.sometimes.Do(func() {
		d.logger.Warn(msg, zap.Error(err))
	})
}
