package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/danghamo/proximity/internal/domain/position"
	"github.com/danghamo/proximity/internal/domain/shared"
	"github.com/danghamo/proximity/pkg/logger"
)

const (
	keysWriteWait  = 10 * time.Second
	keysPongWait   = 60 * time.Second
	keysPingPeriod = (keysPongWait * 9) / 10
)

// Key stream message types
const (
	KeyDown = "keydown"
	KeyUp   = "keyup"
	KeyAck  = "ack"
	KeyErr  = "error"
)

// KeyDispatcher receives raw key events
type KeyDispatcher interface {
	Dispatch(ev position.KeyEvent) bool
}

// KeyMessage is one frame from the display
type KeyMessage struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

// KeyReply answers every KeyMessage
type KeyReply struct {
	Type           string `json:"type"`
	Key            string `json:"key,omitempty"`
	PreventDefault bool   `json:"prevent_default"`
	Message        string `json:"message,omitempty"`
}

// KeysHandler bridges a WebSocket of key events to the keyboard hub of the
// keyboard-driven session.
type KeysHandler struct {
	keyboard KeyDispatcher
	upgrader websocket.Upgrader
	logger   *logger.Logger
}

// NewKeysHandler creates a new key stream handler
func NewKeysHandler(keyboard KeyDispatcher, log *logger.Logger) *KeysHandler {
	return &KeysHandler{
		keyboard: keyboard,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log.WithComponent("keys-handler"),
	}
}

// HandleKeys handles GET /api/v1/stream/keys
func (h *KeysHandler) HandleKeys(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	clientID := shared.NewID().String()
	l := h.logger.WithField("client_id", clientID)
	l.Info("Key stream connected", zap.String("remote_addr", r.RemoteAddr))

	// keys still held when the stream drops are released
	held := make(map[string]bool)
	defer func() {
		for key := range held {
			h.keyboard.Dispatch(position.KeyEvent{Key: key, Down: false})
		}
		l.Info("Key stream disconnected", zap.Int("released", len(held)))
	}()

	done := make(chan struct{})
	defer close(done)
	go h.ping(conn, done)

	conn.SetReadDeadline(time.Now().Add(keysPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(keysPongWait))
	})

	for {
		var msg KeyMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l.Debug("Key stream read failed", zap.Error(err))
			}
			return
		}

		reply := h.dispatch(msg, held)
		conn.SetWriteDeadline(time.Now().Add(keysWriteWait))
		if err := conn.WriteJSON(reply); err != nil {
			l.Debug("Key stream write failed", zap.Error(err))
			return
		}
	}
}

func (h *KeysHandler) dispatch(msg KeyMessage, held map[string]bool) KeyReply {
	var down bool
	switch msg.Type {
	case KeyDown:
		down = true
	case KeyUp:
	default:
		return KeyReply{Type: KeyErr, Key: msg.Key, Message: "unknown message type " + msg.Type}
	}
	if msg.Key == "" {
		return KeyReply{Type: KeyErr, Message: "key is required"}
	}

	consumed := h.keyboard.Dispatch(position.KeyEvent{Key: msg.Key, Down: down})
	if down {
		held[msg.Key] = true
	} else {
		delete(held, msg.Key)
	}

	return KeyReply{Type: KeyAck, Key: msg.Key, PreventDefault: consumed}
}

func (h *KeysHandler) ping(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(keysPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(keysWriteWait)); err != nil {
				return
			}
		}
	}
}
