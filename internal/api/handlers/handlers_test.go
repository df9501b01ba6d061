package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/proximity/internal/api/jsonrpcx"
	"github.com/danghamo/proximity/internal/api/middleware"
	"github.com/danghamo/proximity/internal/app/service"
	"github.com/danghamo/proximity/internal/domain/display"
	"github.com/danghamo/proximity/internal/domain/geo"
	"github.com/danghamo/proximity/internal/domain/position"
	"github.com/danghamo/proximity/internal/domain/proximity"
	"github.com/danghamo/proximity/pkg/logger"
)

const (
	timeout = 2 * time.Second
	tick    = 10 * time.Millisecond
)

// fixedSource emits one known position on subscribe
type fixedSource struct {
	at geo.Coordinate
}

func (f fixedSource) Subscribe(ctx context.Context, emit func(position.Update)) position.Subscription {
	emit(position.KnownUpdate(f.at))
	return noopSubscription{}
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

type discardPublisher struct{}

func (discardPublisher) Publish(ctx context.Context, event interface{}) error { return nil }

func newTestSessions(t *testing.T) *service.Sessions {
	t.Helper()
	log := logger.NewNop()

	s, err := service.NewSession(service.SessionConfig{
		Mode:      "device",
		Source:    fixedSource{at: geo.NewCoordinate(52.37, 4.89)},
		Settings:  proximity.DefaultSettings(),
		Display:   display.DefaultSettings(),
		Generator: geo.NewGenerator(rand.NewPCG(1, 2)),
	}, discardPublisher{}, nil, log)
	require.NoError(t, err)

	sessions := service.NewSessions(log, s)
	sessions.StartAll(context.Background())
	t.Cleanup(sessions.StopAll)
	return sessions
}

func rpc(t *testing.T, h http.HandlerFunc, body string) jsonrpcx.JSONRPCResponse {
	t.Helper()
	chain := middleware.ErrorAdapter(logger.NewNop())(h)

	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp jsonrpcx.JSONRPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func resultView(t *testing.T, resp jsonrpcx.JSONRPCResponse) service.StateView {
	t.Helper()
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)

	var view service.StateView
	require.NoError(t, json.Unmarshal(raw, &view))
	return view
}

func TestGameHandler_State(t *testing.T) {
	h := NewGameHandler(newTestSessions(t), logger.NewNop())

	view := resultView(t, rpc(t, h.State, `{"jsonrpc":"2.0","method":"game.State","params":{"mode":"device"},"id":1}`))
	assert.Equal(t, "device", view.Mode)
	assert.Equal(t, "idle", view.State)
	assert.Len(t, view.Snapshot.Targets, 3)
	assert.False(t, view.Frame.Loading)

	// empty params pick the first mode
	view = resultView(t, rpc(t, h.State, `{"jsonrpc":"2.0","method":"game.State","id":2}`))
	assert.Equal(t, "device", view.Mode)
}

func TestGameHandler_Refresh(t *testing.T) {
	h := NewGameHandler(newTestSessions(t), logger.NewNop())

	before := resultView(t, rpc(t, h.State, `{"jsonrpc":"2.0","method":"game.State","id":1}`))
	after := resultView(t, rpc(t, h.Refresh, `{"jsonrpc":"2.0","method":"game.Refresh","params":{"mode":"device"},"id":2}`))

	assert.Equal(t, before.Snapshot.Generation+1, after.Snapshot.Generation)
	assert.NotEqual(t, before.Snapshot.Targets, after.Snapshot.Targets)
}

func TestGameHandler_Errors(t *testing.T) {
	h := NewGameHandler(newTestSessions(t), logger.NewNop())

	resp := rpc(t, h.State, `{"jsonrpc":"2.0","method":"game.State","params":{"mode":"satellite"},"id":1}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpcx.InvalidParams, resp.Error.Code)

	resp = rpc(t, h.State, `not json`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpcx.ParseError, resp.Error.Code)

	resp = rpc(t, h.State, `{"jsonrpc":"2.0","params":{"mode":7},"id":1}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpcx.InvalidParams, resp.Error.Code)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", bytes.NewReader(nil))
	middleware.ErrorAdapter(logger.NewNop())(http.HandlerFunc(h.State)).ServeHTTP(rec, req)
	assert.Contains(t, rec.Body.String(), `"code":-32601`)
}

func TestServerHandler_InfoAndPing(t *testing.T) {
	h := NewServerHandler("1.2.3", []string{"device", "controls"})

	resp := rpc(t, h.Info, `{"jsonrpc":"2.0","method":"server.Info","id":1}`)
	require.Nil(t, resp.Error)
	info := resp.Result.(map[string]interface{})
	assert.Equal(t, "1.2.3", info["version"])
	assert.Equal(t, []interface{}{"device", "controls"}, info["modes"])
	assert.Len(t, info["movement_keys"], 8)

	resp = rpc(t, h.HandlePing, `{"jsonrpc":"2.0","method":"ping","id":"p"}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, map[string]interface{}{"message": "pong"}, resp.Result)
	assert.Equal(t, "p", resp.ID)
}

// recordingKeyboard wraps a real hub and records events
type recordingKeyboard struct {
	*position.Keyboard
	mu     sync.Mutex
	events []position.KeyEvent
}

func (k *recordingKeyboard) Dispatch(ev position.KeyEvent) bool {
	k.mu.Lock()
	k.events = append(k.events, ev)
	k.mu.Unlock()
	return k.Keyboard.Dispatch(ev)
}

func (k *recordingKeyboard) recorded() []position.KeyEvent {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]position.KeyEvent(nil), k.events...)
}

func TestKeysHandler(t *testing.T) {
	kb := &recordingKeyboard{Keyboard: position.NewKeyboard()}
	remove := kb.Listen(func(ev position.KeyEvent) bool { return position.IsMovementKey(ev.Key) })
	defer remove()

	h := NewKeysHandler(kb, logger.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(h.HandleKeys))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)

	exchange := func(msg KeyMessage) KeyReply {
		require.NoError(t, conn.WriteJSON(msg))
		var reply KeyReply
		require.NoError(t, conn.ReadJSON(&reply))
		return reply
	}

	reply := exchange(KeyMessage{Type: KeyDown, Key: "w"})
	assert.Equal(t, KeyReply{Type: KeyAck, Key: "w", PreventDefault: true}, reply)

	reply = exchange(KeyMessage{Type: KeyDown, Key: "Enter"})
	assert.Equal(t, KeyReply{Type: KeyAck, Key: "Enter", PreventDefault: false}, reply)

	reply = exchange(KeyMessage{Type: KeyUp, Key: "Enter"})
	assert.Equal(t, KeyAck, reply.Type)

	reply = exchange(KeyMessage{Type: "keypress", Key: "w"})
	assert.Equal(t, KeyErr, reply.Type)

	// dropping the stream releases the held "w"
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		events := kb.recorded()
		last := events[len(events)-1]
		return len(events) == 4 && last == position.KeyEvent{Key: "w", Down: false}
	}, timeout, tick)
}
