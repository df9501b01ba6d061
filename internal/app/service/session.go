package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/proximity/internal/cqrs"
	"github.com/danghamo/proximity/internal/domain/display"
	"github.com/danghamo/proximity/internal/domain/position"
	"github.com/danghamo/proximity/internal/domain/proximity"
	"github.com/danghamo/proximity/internal/domain/shared"
	"github.com/danghamo/proximity/internal/observability"
	"github.com/danghamo/proximity/pkg/logger"
)

// SessionConfig holds everything one session owns
type SessionConfig struct {
	Mode      string
	Source    position.Source
	Keyboard  *position.Keyboard // set for keyboard-driven sessions
	Settings  proximity.Settings
	Display   display.Settings
	Generator proximity.TargetGenerator // nil uses a random geo.Generator

	// RefreshInterval regenerates targets on a fixed cadence; 0 disables it.
	RefreshInterval time.Duration
	// RefreshOnPoll treats every polling tick as a refresh trigger.
	RefreshOnPoll bool
	NewTicker     position.TickerFunc
}

// StateView is what game.State reports
type StateView struct {
	Mode      string             `json:"mode"`
	SessionID string             `json:"session_id"`
	State     string             `json:"state"`
	Pending   bool               `json:"refresh_pending"`
	Snapshot  proximity.Snapshot `json:"snapshot"`
	Frame     display.Frame      `json:"frame"`
}

type requestKind int

const (
	requestState requestKind = iota
	requestRefresh
)

type request struct {
	kind  requestKind
	reply chan response
}

type response struct {
	view StateView
	err  error
}

// Session runs one proximity controller. A single goroutine owns the
// controller: position updates, refresh requests and cadence ticks are
// serialized through it.
type Session struct {
	id         string
	mode       string
	config     SessionConfig
	controller *proximity.Controller
	events     *cqrs.SessionEvents
	metrics    *observability.GameCollector
	logger     *logger.Logger

	updates  chan position.Update
	requests chan request
	stopping chan struct{}
	done     chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.Mutex // guards sub and the close of stopping
	sub       position.Subscription
}

// NewSession creates a session; nothing runs until Start
func NewSession(cfg SessionConfig, publisher cqrs.EventPublisher, metrics *observability.GameCollector, log *logger.Logger) (*Session, error) {
	if cfg.Source == nil {
		return nil, shared.ErrInvalidInput("session needs a position source")
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = position.NewTimeTicker
	}

	controller, err := proximity.NewController(cfg.Settings, cfg.Generator)
	if err != nil {
		return nil, err
	}

	id := shared.NewID().String()
	return &Session{
		id:         id,
		mode:       cfg.Mode,
		config:     cfg,
		controller: controller,
		events:     cqrs.NewSessionEvents(publisher, cfg.Mode, id),
		metrics:    metrics,
		logger:     log.WithSession(id, cfg.Mode),
		updates:    make(chan position.Update),
		requests:   make(chan request),
		stopping:   make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// ID returns the session ID
func (s *Session) ID() string { return s.id }

// Mode returns the operating mode
func (s *Session) Mode() string { return s.mode }

// Keyboard returns the key hub of a keyboard-driven session, or nil
func (s *Session) Keyboard() *position.Keyboard { return s.config.Keyboard }

// Start runs the event loop and subscribes the position source
func (s *Session) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		select {
		case <-s.stopping:
			return
		default:
		}

		s.logger.Info("Starting proximity session",
			zap.Duration("refresh_interval", s.config.RefreshInterval),
			zap.Bool("refresh_on_poll", s.config.RefreshOnPoll))

		s.metrics.SessionStarted()
		go s.run(ctx)
		s.sub = s.config.Source.Subscribe(ctx, s.emit)
	})
}

// Stop unsubscribes the source and waits for the event loop to exit.
// No event is handled after Stop returns.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		close(s.stopping)
		sub := s.sub
		s.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
			<-s.done
			s.metrics.SessionStopped()
		}
		s.logger.Info("Proximity session stopped")
	})
}

// State returns the current view
func (s *Session) State(ctx context.Context) (StateView, error) {
	return s.call(ctx, requestState)
}

// Refresh requests a new target set and returns the resulting view. Without a
// known position the refresh stays pending.
func (s *Session) Refresh(ctx context.Context) (StateView, error) {
	return s.call(ctx, requestRefresh)
}

func (s *Session) call(ctx context.Context, kind requestKind) (StateView, error) {
	req := request{kind: kind, reply: make(chan response, 1)}
	select {
	case s.requests <- req:
	case <-s.stopping:
		return StateView{}, shared.ErrStopped(s.mode)
	case <-ctx.Done():
		return StateView{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.view, resp.err
	case <-ctx.Done():
		return StateView{}, ctx.Err()
	}
}

// emit hands an update to the loop; it gives up once the session stops
func (s *Session) emit(u position.Update) {
	select {
	case s.updates <- u:
	case <-s.stopping:
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	var cadence <-chan time.Time
	if s.config.RefreshInterval > 0 {
		ticker := s.config.NewTicker(s.config.RefreshInterval)
		defer ticker.Stop()
		cadence = ticker.C()
	}

	s.publishFrame(ctx)

	for {
		select {
		case <-s.stopping:
			return
		case u := <-s.updates:
			s.applyPosition(ctx, u)
		case <-cadence:
			refresh, err := s.controller.CadenceElapsed()
			s.afterStep(ctx, refresh, err)
		case req := <-s.requests:
			var err error
			if req.kind == requestRefresh {
				var refresh *proximity.Refresh
				refresh, err = s.controller.RequestRefresh()
				s.afterStep(ctx, refresh, err)
			}
			req.reply <- response{view: s.view(), err: err}
		}
	}
}

func (s *Session) applyPosition(ctx context.Context, u position.Update) {
	s.metrics.ObservePosition(s.mode, u.Known)

	refresh, err := s.controller.ApplyPosition(u)
	if refresh == nil && err == nil && u.Cadence && s.config.RefreshOnPoll {
		refresh, err = s.controller.CadenceElapsed()
	}
	s.afterStep(ctx, refresh, err)
}

func (s *Session) afterStep(ctx context.Context, refresh *proximity.Refresh, err error) {
	if err != nil {
		s.logger.Error("Target refresh failed", zap.Error(err))
	}
	if refresh != nil {
		s.metrics.ObserveRefresh(s.mode, string(refresh.Trigger), len(refresh.Reached))
		s.logger.Info("Targets refreshed",
			zap.String("trigger", string(refresh.Trigger)),
			zap.Uint64("generation", refresh.Generation),
			zap.Stringer("pivot", refresh.Pivot),
			zap.Ints("reached", refresh.Reached))
		if err := s.events.TargetsRefreshed(ctx, refresh); err != nil {
			s.logger.Warn("Failed to publish targets refreshed event", zap.Error(err))
		}
	}
	s.publishFrame(ctx)
}

func (s *Session) publishFrame(ctx context.Context) {
	if err := s.events.FrameUpdated(ctx, s.frame(s.controller.Snapshot())); err != nil {
		s.logger.Warn("Failed to publish frame", zap.Error(err))
	}
}

func (s *Session) frame(snap proximity.Snapshot) display.Frame {
	frame := display.BuildFrame(snap, s.config.Display)
	frame.Mode = s.mode
	return frame
}

func (s *Session) view() StateView {
	snap := s.controller.Snapshot()
	return StateView{
		Mode:      s.mode,
		SessionID: s.id,
		State:     snap.State.String(),
		Pending:   s.controller.Pending(),
		Snapshot:  snap,
		Frame:     s.frame(snap),
	}
}
