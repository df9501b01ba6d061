// Package observability holds the Prometheus metrics of the game host.
package observability

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// GameCollector bundles the Prometheus metrics of the proximity sessions and
// the HTTP surface.
type GameCollector struct {
	gatherer prometheus.Gatherer

	PositionUpdates *prometheus.CounterVec
	TargetRefreshes *prometheus.CounterVec
	TargetArrivals  *prometheus.CounterVec
	SessionsActive  prometheus.Gauge

	HTTPDurations *prometheus.HistogramVec
}

// NewGameCollector registers the game metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewGameCollector(reg prometheus.Registerer) (*GameCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	updates, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "position_updates_total",
		Help: "Position updates applied by a session, labeled by mode and whether the position was known.",
	}, []string{"mode", "known"}), "position_updates_total")
	if err != nil {
		return nil, err
	}

	refreshes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "target_refreshes_total",
		Help: "Target sets generated, labeled by mode and trigger.",
	}, []string{"mode", "trigger"}), "target_refreshes_total")
	if err != nil {
		return nil, err
	}

	arrivals, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "target_arrivals_total",
		Help: "Targets reached by the player, labeled by mode.",
	}, []string{"mode"}), "target_arrivals_total")
	if err != nil {
		return nil, err
	}

	sessions, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sessions_active",
		Help: "Number of running proximity sessions.",
	}), "sessions_active")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency in seconds, labeled by path and status code.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"path", "code"}), "http_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &GameCollector{
		gatherer:        gatherer,
		PositionUpdates: updates,
		TargetRefreshes: refreshes,
		TargetArrivals:  arrivals,
		SessionsActive:  sessions,
		HTTPDurations:   durations,
	}, nil
}

// ObservePosition counts one applied position update
func (c *GameCollector) ObservePosition(mode string, known bool) {
	if c == nil {
		return
	}
	c.PositionUpdates.WithLabelValues(mode, strconv.FormatBool(known)).Inc()
}

// ObserveRefresh counts one generated target set and the targets reached before it
func (c *GameCollector) ObserveRefresh(mode, trigger string, reached int) {
	if c == nil {
		return
	}
	c.TargetRefreshes.WithLabelValues(mode, trigger).Inc()
	if reached > 0 {
		c.TargetArrivals.WithLabelValues(mode).Add(float64(reached))
	}
}

// SessionStarted increments the active session gauge
func (c *GameCollector) SessionStarted() {
	if c == nil {
		return
	}
	c.SessionsActive.Inc()
}

// SessionStopped decrements the active session gauge
func (c *GameCollector) SessionStopped() {
	if c == nil {
		return
	}
	c.SessionsActive.Dec()
}

// Middleware records request durations for every route
func (c *GameCollector) Middleware(next http.Handler) http.Handler {
	if c == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		c.HTTPDurations.WithLabelValues(r.URL.Path, strconv.Itoa(sw.status)).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes a ready-to-use /metrics handler.
func (c *GameCollector) Handler() http.Handler {
	var gatherer prometheus.Gatherer
	if c != nil {
		gatherer = c.gatherer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// Flush keeps streaming responses working behind the middleware
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack keeps WebSocket upgrades working behind the middleware
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("response writer does not implement http.Hijacker")
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
