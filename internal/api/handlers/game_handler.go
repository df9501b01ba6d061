package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/danghamo/proximity/internal/api/jsonrpcx"
	"github.com/danghamo/proximity/internal/app/service"
	"github.com/danghamo/proximity/pkg/logger"
)

// GameHandler serves the proximity sessions over JSON-RPC
type GameHandler struct {
	sessions *service.Sessions
	logger   *logger.Logger
}

// NewGameHandler creates a new game handler
func NewGameHandler(sessions *service.Sessions, log *logger.Logger) *GameHandler {
	return &GameHandler{
		sessions: sessions,
		logger:   log.WithComponent("game-handler"),
	}
}

// ModeRequest selects a session. An empty mode picks the first enabled one.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// State handles POST /api/v1/game.State
func (h *GameHandler) State(w http.ResponseWriter, r *http.Request) {
	session, req, ok := h.session(r)
	if !ok {
		return
	}

	view, err := session.State(r.Context())
	if err != nil {
		jsonrpcx.WithDomainError(r, req.ID, err)
		return
	}

	jsonrpcx.Success(w, req.ID, view)
}

// Refresh handles POST /api/v1/game.Refresh, the "get new locations" action
func (h *GameHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	session, req, ok := h.session(r)
	if !ok {
		return
	}

	view, err := session.Refresh(r.Context())
	if err != nil {
		h.logger.Warn("Manual refresh failed", zap.String("mode", session.Mode()), zap.Error(err))
		jsonrpcx.WithDomainError(r, req.ID, err)
		return
	}

	jsonrpcx.Success(w, req.ID, view)
}

func (h *GameHandler) session(r *http.Request) (*service.Session, *jsonrpcx.JSONRPCRequest, bool) {
	if r.Method != http.MethodPost {
		jsonrpcx.WithError(r, nil, jsonrpcx.MethodNotFound, "Method not allowed")
		return nil, nil, false
	}

	req, err := jsonrpcx.ParseRequest(r)
	if err != nil {
		jsonrpcx.WithError(r, nil, jsonrpcx.ParseError, "Invalid JSON-RPC request")
		return nil, nil, false
	}

	var params ModeRequest
	if err := req.BindParams(&params); err != nil {
		jsonrpcx.WithError(r, req.ID, jsonrpcx.InvalidParams, "Invalid params")
		return nil, nil, false
	}

	mode := params.Mode
	if mode == "" {
		if modes := h.sessions.Modes(); len(modes) > 0 {
			mode = modes[0]
		}
	}

	session, err := h.sessions.Get(mode)
	if err != nil {
		jsonrpcx.WithDomainError(r, req.ID, err)
		return nil, nil, false
	}

	return session, req, true
}
