package cqrs

import (
	"context"
	"testing"
	"time"

	wmcqrs "github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/proximity/internal/domain/display"
	"github.com/danghamo/proximity/pkg/logger"
)

func TestBus_DeliversEventsInOrder(t *testing.T) {
	bus, err := NewBus(logger.NewNop())
	require.NoError(t, err)

	received := make(chan *FrameUpdatedEvent, 16)
	require.NoError(t, bus.AddHandlers(
		wmcqrs.NewEventHandler("TestFrameHandler", func(ctx context.Context, event *FrameUpdatedEvent) error {
			received <- event
			return nil
		}),
	))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = bus.Run(ctx)
	}()
	defer bus.Close()

	select {
	case <-bus.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}

	events := NewSessionEvents(bus, "device", "s1")
	for i := 1; i <= 5; i++ {
		require.NoError(t, events.FrameUpdated(ctx, display.Frame{Zoom: i}))
	}

	for i := 1; i <= 5; i++ {
		select {
		case event := <-received:
			assert.Equal(t, i, event.Frame.Zoom)
			assert.Equal(t, "device", event.Mode)
		case <-time.After(5 * time.Second):
			t.Fatalf("event %d not delivered", i)
		}
	}
}
