package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/proximity/internal/domain/shared"
	"github.com/danghamo/proximity/pkg/config"
	"github.com/danghamo/proximity/pkg/logger"
)

func testConfig(modes ...string) *config.Config {
	return &config.Config{
		Game: config.GameConfig{
			Modes:               modes,
			RandomLocationCount: 3,
			BaseDistance:        275,
			Jitter:              25,
			InRangeDistance:     75,
			PollInterval:        time.Second,
			Speed:               5,
			FrameRate:           60,
		},
		Display: config.DisplayConfig{
			Zoom:              16,
			TileURL:           "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
			OverlayColor:      "orange",
			PlayerPopup:       "You're here!",
			TargetPopupFormat: "Location %d",
		},
	}
}

func TestBuildSessions(t *testing.T) {
	cfg := testConfig(config.ModeDevice, config.ModePolling, config.ModeControls)
	sessions, err := BuildSessions(cfg, nil, &recordingPublisher{}, nil, logger.NewNop())
	require.NoError(t, err)

	assert.Equal(t, []string{"device", "polling", "controls"}, sessions.Modes())

	s, err := sessions.Get(config.ModePolling)
	require.NoError(t, err)
	assert.Equal(t, "polling", s.Mode())
	assert.Nil(t, s.Keyboard())

	kb, err := sessions.Keyboard()
	require.NoError(t, err)
	assert.NotNil(t, kb)

	_, err = sessions.Get("satellite")
	assert.True(t, errors.Is(err, shared.ErrUnknownMode))
}

func TestBuildSessions_RejectsInvalidSettings(t *testing.T) {
	cfg := testConfig(config.ModeDevice)
	cfg.Game.Jitter = 300
	_, err := BuildSessions(cfg, nil, &recordingPublisher{}, nil, logger.NewNop())
	assert.Error(t, err)
}

func TestSessions_WithoutControls(t *testing.T) {
	sessions, err := BuildSessions(testConfig(config.ModeDevice), nil, &recordingPublisher{}, nil, logger.NewNop())
	require.NoError(t, err)

	_, err = sessions.Keyboard()
	assert.Error(t, err)
}

func TestSessions_StartAllWithoutCapability(t *testing.T) {
	publisher := &recordingPublisher{}
	sessions, err := BuildSessions(testConfig(config.ModeDevice, config.ModeControls), nil, publisher, nil, logger.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	sessions.StartAll(ctx)
	defer sessions.StopAll()

	for _, mode := range sessions.Modes() {
		s, err := sessions.Get(mode)
		require.NoError(t, err)

		view, err := s.State(ctx)
		require.NoError(t, err)
		assert.Equal(t, "awaiting_position", view.State)
		assert.True(t, view.Frame.Loading)
		assert.Empty(t, view.Snapshot.Targets)
	}

	sessions.StopAll()
	s, err := sessions.Get(config.ModeDevice)
	require.NoError(t, err)
	_, err = s.State(ctx)
	assert.True(t, errors.Is(err, shared.ErrSessionStopped))
}
