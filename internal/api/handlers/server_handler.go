package handlers

import (
	"net/http"
	"time"

	"github.com/danghamo/proximity/internal/api/jsonrpcx"
	"github.com/danghamo/proximity/internal/domain/position"
)

// ServerHandler handles server information requests
type ServerHandler struct {
	version   string
	modes     []string
	startedAt time.Time
}

// NewServerHandler creates a new server handler
func NewServerHandler(version string, modes []string) *ServerHandler {
	return &ServerHandler{
		version:   version,
		modes:     append([]string(nil), modes...),
		startedAt: time.Now(),
	}
}

// ServerInfoResponse represents server information
type ServerInfoResponse struct {
	Version      string    `json:"version"`
	Modes        []string  `json:"modes"`
	MovementKeys []string  `json:"movement_keys"`
	StartedAt    time.Time `json:"started_at"`
}

// Info handles POST /api/v1/server.Info
func (h *ServerHandler) Info(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonrpcx.WithError(r, nil, jsonrpcx.MethodNotFound, "Method not allowed")
		return
	}

	req, err := jsonrpcx.ParseRequest(r)
	if err != nil {
		jsonrpcx.WithError(r, nil, jsonrpcx.ParseError, "Invalid JSON-RPC request")
		return
	}

	jsonrpcx.Success(w, req.ID, ServerInfoResponse{
		Version:      h.version,
		Modes:        h.modes,
		MovementKeys: position.MovementKeys(),
		StartedAt:    h.startedAt,
	})
}

// HandlePing handles POST /api/v1/ping
func (h *ServerHandler) HandlePing(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonrpcx.WithError(r, nil, jsonrpcx.MethodNotFound, "Method not allowed")
		return
	}

	req, err := jsonrpcx.ParseRequest(r)
	if err != nil {
		jsonrpcx.WithError(r, nil, jsonrpcx.ParseError, "Invalid JSON-RPC request")
		return
	}

	jsonrpcx.Success(w, req.ID, map[string]string{"message": "pong"})
}
