package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/danghamo/proximity/internal/cqrs"
	"github.com/danghamo/proximity/internal/domain/display"
	"github.com/danghamo/proximity/internal/domain/position"
	"github.com/danghamo/proximity/internal/domain/proximity"
	"github.com/danghamo/proximity/internal/domain/shared"
	"github.com/danghamo/proximity/internal/observability"
	"github.com/danghamo/proximity/pkg/config"
	"github.com/danghamo/proximity/pkg/logger"
)

// Sessions holds one session per enabled mode
type Sessions struct {
	byMode map[string]*Session
	modes  []string
	logger *logger.Logger
}

// NewSessions groups sessions by mode
func NewSessions(log *logger.Logger, sessions ...*Session) *Sessions {
	m := &Sessions{
		byMode: make(map[string]*Session, len(sessions)),
		logger: log.WithComponent("sessions"),
	}
	for _, s := range sessions {
		m.byMode[s.Mode()] = s
		m.modes = append(m.modes, s.Mode())
	}
	return m
}

// Get returns the session of mode
func (m *Sessions) Get(mode string) (*Session, error) {
	s, ok := m.byMode[mode]
	if !ok {
		return nil, shared.ErrInvalidMode(mode)
	}
	return s, nil
}

// Modes lists the enabled modes in configuration order
func (m *Sessions) Modes() []string {
	return append([]string(nil), m.modes...)
}

// Keyboard returns the key hub of the keyboard-driven session
func (m *Sessions) Keyboard() (*position.Keyboard, error) {
	s, err := m.Get(config.ModeControls)
	if err != nil {
		return nil, err
	}
	return s.Keyboard(), nil
}

// StartAll starts every session
func (m *Sessions) StartAll(ctx context.Context) {
	for _, mode := range m.modes {
		m.byMode[mode].Start(ctx)
	}
	m.logger.Info("Sessions started", zap.Strings("modes", m.modes))
}

// StopAll stops every session, waiting for each event loop
func (m *Sessions) StopAll() {
	for _, mode := range m.modes {
		m.byMode[mode].Stop()
	}
}

// BuildSessions creates a session for every mode the game config enables.
// A nil locator means the host has no location capability.
func BuildSessions(cfg *config.Config, locator position.Locator, publisher cqrs.EventPublisher, metrics *observability.GameCollector, log *logger.Logger) (*Sessions, error) {
	settings := proximity.Settings{
		RandomLocationCount: cfg.Game.RandomLocationCount,
		BaseDistance:        cfg.Game.BaseDistance,
		Jitter:              cfg.Game.Jitter,
		InRangeDistance:     cfg.Game.InRangeDistance,
	}
	displaySettings := DisplaySettings(cfg.Display)

	var sessions []*Session
	for _, mode := range cfg.Game.Modes {
		sc := SessionConfig{
			Mode:            mode,
			Settings:        settings,
			Display:         displaySettings,
			RefreshInterval: cfg.Game.RefreshInterval,
		}

		switch mode {
		case config.ModeDevice:
			sc.Source = position.NewDeviceSource(locator, log)
		case config.ModePolling:
			sc.Source = position.NewPollingSource(locator, cfg.Game.PollInterval, nil, log)
			sc.RefreshOnPoll = cfg.Game.RefreshOnPoll
		case config.ModeControls:
			sc.Keyboard = position.NewKeyboard()
			sc.Source = position.NewSimulatedSource(locator, sc.Keyboard, position.SimulatedConfig{
				Speed:         cfg.Game.Speed,
				FrameInterval: cfg.Game.FrameInterval(),
			}, log)
		default:
			return nil, shared.ErrInvalidMode(mode)
		}

		s, err := NewSession(sc, publisher, metrics, log)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	return NewSessions(log, sessions...), nil
}

// DisplaySettings converts the display section into frame settings
func DisplaySettings(cfg config.DisplayConfig) display.Settings {
	return display.Settings{
		Zoom:              cfg.Zoom,
		TileURL:           cfg.TileURL,
		Attribution:       cfg.Attribution,
		OverlayColor:      cfg.OverlayColor,
		PlayerIcon:        icon(cfg.PlayerIcon),
		TargetIcon:        icon(cfg.TargetIcon),
		PlayerPopup:       cfg.PlayerPopup,
		TargetPopupFormat: cfg.TargetPopupFormat,
	}
}

func icon(cfg config.IconConfig) display.Icon {
	return display.Icon{
		URL:          cfg.URL,
		ShadowURL:    cfg.ShadowURL,
		Size:         cfg.Size,
		Anchor:       cfg.Anchor,
		PopupAnchor:  cfg.PopupAnchor,
		ShadowSize:   cfg.ShadowSize,
		ShadowAnchor: cfg.ShadowAnchor,
	}
}
