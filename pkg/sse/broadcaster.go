package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danghamo/proximity/internal/api/jsonrpcx"
	"github.com/danghamo/proximity/pkg/logger"
)

// SSEClient represents a connected SSE client
type SSEClient struct {
	ID       string
	Mode     string
	Writer   http.ResponseWriter
	Flusher  http.Flusher
	Done     chan bool
	LastSeen time.Time
	mutex    sync.Mutex // Protects concurrent writes to this client
}

// ModeMessage is an encoded notification for the clients of one mode.
type ModeMessage struct {
	Mode string
	Data []byte
}

// Greeter provides the first notification of a new stream
type Greeter interface {
	Greeting(mode string) (jsonrpcx.JsonRpcNotification, bool)
}

// GreeterFunc adapts a function to Greeter
type GreeterFunc func(mode string) (jsonrpcx.JsonRpcNotification, bool)

// Greeting calls f(mode)
func (f GreeterFunc) Greeting(mode string) (jsonrpcx.JsonRpcNotification, bool) {
	return f(mode)
}

// Option configures the broadcaster
type Option func(*SSEBroadcaster)

// WithGreeter sends the greeter's notification to every new client
func WithGreeter(g Greeter) Option {
	return func(b *SSEBroadcaster) { b.greeter = g }
}

// WithModes restricts the modes clients may subscribe to
func WithModes(modes ...string) Option {
	return func(b *SSEBroadcaster) {
		b.modes = make(map[string]bool, len(modes))
		for _, m := range modes {
			b.modes[m] = true
		}
	}
}

// WithHeartbeat sets the keep-alive period
func WithHeartbeat(d time.Duration) Option {
	return func(b *SSEBroadcaster) { b.heartbeat = d }
}

// SSEBroadcaster manages SSE connections and broadcasts
type SSEBroadcaster struct {
	logger      *logger.Logger
	clients     map[string]*SSEClient
	modeClients map[string][]*SSEClient
	mutex       sync.RWMutex
	broadcast   chan ModeMessage
	cleanup     *time.Ticker
	heartbeat   time.Duration
	greeter     Greeter
	modes       map[string]bool
	shutdown    chan struct{} // Global shutdown signal
	closeOnce   sync.Once
}

// NewSSEBroadcaster creates a new SSE broadcaster
func NewSSEBroadcaster(logger *logger.Logger, opts ...Option) *SSEBroadcaster {
	broadcaster := &SSEBroadcaster{
		logger:      logger.WithComponent("sse-broadcaster"),
		clients:     make(map[string]*SSEClient),
		modeClients: make(map[string][]*SSEClient),
		broadcast:   make(chan ModeMessage, 1000),
		cleanup:     time.NewTicker(30 * time.Second), // Cleanup every 30 seconds
		heartbeat:   15 * time.Second,
		shutdown:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(broadcaster)
	}

	// Start background goroutines
	go broadcaster.broadcastLoop()
	go broadcaster.cleanupLoop()

	return broadcaster
}

// AddClient adds a new SSE client
func (b *SSEBroadcaster) AddClient(client *SSEClient) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.clients[client.ID] = client
	b.modeClients[client.Mode] = append(b.modeClients[client.Mode], client)

	b.logger.Debug("SSE client connected",
		zap.String("clientId", client.ID),
		zap.String("mode", client.Mode))
}

// RemoveClient removes an SSE client
func (b *SSEBroadcaster) RemoveClient(clientID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if client, exists := b.clients[clientID]; exists {
		b.removeLocked(client)
		b.logger.Debug("SSE client disconnected",
			zap.String("clientId", clientID),
			zap.String("mode", client.Mode))
	}
}

func (b *SSEBroadcaster) removeLocked(client *SSEClient) {
	// Safely close the Done channel
	select {
	case <-client.Done:
	default:
		close(client.Done)
	}
	delete(b.clients, client.ID)

	clients := b.modeClients[client.Mode]
	for i, mc := range clients {
		if mc.ID == client.ID {
			b.modeClients[client.Mode] = append(clients[:i], clients[i+1:]...)
			break
		}
	}
	if len(b.modeClients[client.Mode]) == 0 {
		delete(b.modeClients, client.Mode)
	}
}

// BroadcastToMode sends a JSON-RPC notification to the clients of one mode
func (b *SSEBroadcaster) BroadcastToMode(mode string, notification jsonrpcx.JsonRpcNotification) {
	b.enqueue(mode, notification)
}

func (b *SSEBroadcaster) enqueue(mode string, notification jsonrpcx.JsonRpcNotification) {
	data, err := json.Marshal(notification)
	if err != nil {
		b.logger.Error("Failed to marshal JSON-RPC notification", zap.Error(err))
		return
	}

	select {
	case <-b.shutdown:
		return
	default:
	}

	select {
	case b.broadcast <- ModeMessage{Mode: mode, Data: data}:
	default:
		b.logger.Warn("Broadcast channel full, dropping message", zap.String("mode", mode))
	}
}

// broadcastLoop delivers queued messages in order
func (b *SSEBroadcaster) broadcastLoop() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in broadcastLoop", zap.Any("panic", r))
			// Restart the loop
			go b.broadcastLoop()
		}
	}()

	for {
		select {
		case <-b.shutdown:
			b.logger.Debug("Broadcast loop shutting down")
			return
		case msg := <-b.broadcast:
			b.mutex.RLock()
			clients := append([]*SSEClient(nil), b.modeClients[msg.Mode]...)
			b.mutex.RUnlock()

			for _, client := range clients {
				select {
				case <-client.Done:
					b.RemoveClient(client.ID)
				default:
					if err := b.sendToClient(client, msg.Data); err != nil {
						b.logger.Warn("Failed to send to client",
							zap.String("clientId", client.ID),
							zap.String("mode", client.Mode),
							zap.Error(err))
						b.RemoveClient(client.ID)
					}
				}
			}
		}
	}
}

// sendToClient sends data to a specific SSE client
func (b *SSEBroadcaster) sendToClient(client *SSEClient, data []byte) (err error) {
	// Recover from any panic
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in sendToClient",
				zap.Any("panic", r),
				zap.String("clientId", client.ID))
			err = fmt.Errorf("panic recovered: %v", r)
		}
	}()

	if client.Writer == nil || client.Flusher == nil {
		return fmt.Errorf("client writer is nil")
	}

	// Use client-specific mutex to prevent concurrent writes
	client.mutex.Lock()
	defer client.mutex.Unlock()

	// Check if client is still connected before writing
	select {
	case <-client.Done:
		return fmt.Errorf("client connection closed")
	default:
	}

	// Use a single write operation to reduce chunking issues
	sseData := fmt.Sprintf("data: %s\n\n", data)
	n, err := client.Writer.Write([]byte(sseData))
	if err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if n != len(sseData) {
		return fmt.Errorf("incomplete write: wrote %d/%d bytes", n, len(sseData))
	}

	client.Flusher.Flush()
	client.LastSeen = time.Now()
	return nil
}

// cleanupLoop removes stale connections
func (b *SSEBroadcaster) cleanupLoop() {
	for {
		select {
		case <-b.shutdown:
			return
		case <-b.cleanup.C:
			b.mutex.Lock()
			now := time.Now()
			for clientID, client := range b.clients {
				client.mutex.Lock()
				stale := now.Sub(client.LastSeen) > 4*b.heartbeat
				client.mutex.Unlock()
				if stale {
					b.logger.Debug("Removing stale SSE client", zap.String("clientId", clientID))
					b.removeLocked(client)
				}
			}
			b.mutex.Unlock()
		}
	}
}

// GetClientCount returns the number of connected clients
func (b *SSEBroadcaster) GetClientCount() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.clients)
}

// GetModeClientCount returns the number of clients following mode
func (b *SSEBroadcaster) GetModeClientCount(mode string) int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.modeClients[mode])
}

// Close shuts down the broadcaster. It is safe to call more than once.
func (b *SSEBroadcaster) Close() {
	b.closeOnce.Do(func() {
		b.logger.Debug("Shutting down SSE broadcaster")

		// Signal all goroutines to stop
		close(b.shutdown)
		b.cleanup.Stop()

		b.mutex.Lock()
		defer b.mutex.Unlock()

		// Close all client connections immediately
		for _, client := range b.clients {
			b.removeLocked(client)
		}

		b.logger.Debug("SSE broadcaster shutdown complete")
	})
}

// HandleSSE streams the notifications of the mode named by the mode query parameter
func (b *SSEBroadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if b.modes != nil && !b.modes[mode] {
		b.logger.Debug("SSE: unknown mode requested", zap.String("mode", mode))
		http.Error(w, fmt.Sprintf("unknown mode %q", mode), http.StatusBadRequest)
		return
	}

	// Check if client supports SSE
	flusher, ok := w.(http.Flusher)
	if !ok {
		b.logger.Error("SSE: Client does not support flusher interface")
		http.Error(w, "Server-Sent Events not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	client := &SSEClient{
		ID:       uuid.New().String(),
		Mode:     mode,
		Writer:   w,
		Flusher:  flusher,
		Done:     make(chan bool),
		LastSeen: time.Now(),
	}

	// Register before greeting so no later patch is missed
	b.AddClient(client)
	defer func() {
		b.RemoveClient(client.ID)
		// wait out a write already in flight; Done is closed so no new one starts
		client.mutex.Lock()
		client.mutex.Unlock()
	}()

	connected, _ := json.Marshal(map[string]string{"type": "connected", "client_id": client.ID, "mode": mode})
	if err := b.sendToClient(client, connected); err != nil {
		b.logger.Warn("Failed to greet SSE client", zap.String("clientId", client.ID), zap.Error(err))
		return
	}

	if b.greeter != nil {
		if notification, ok := b.greeter.Greeting(mode); ok {
			data, err := json.Marshal(notification)
			if err == nil {
				err = b.sendToClient(client, data)
			}
			if err != nil {
				b.logger.Warn("Failed to send snapshot", zap.String("clientId", client.ID), zap.Error(err))
				return
			}
		}
	}

	heartbeat := time.NewTicker(b.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-client.Done:
			b.logger.Debug("SSE client done signal received", zap.String("clientId", client.ID))
			return
		case <-r.Context().Done():
			b.logger.Debug("SSE request context cancelled", zap.String("clientId", client.ID))
			return
		case <-b.shutdown:
			return
		case <-heartbeat.C:
			data := fmt.Sprintf(`{"type":"heartbeat","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
			if err := b.sendToClient(client, []byte(data)); err != nil {
				b.logger.Warn("Failed to send heartbeat",
					zap.String("clientId", client.ID),
					zap.Error(err))
				return
			}
		}
	}
}
