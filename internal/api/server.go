package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	wmcqrs "github.com/ThreeDotsLabs/watermill/components/cqrs"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/danghamo/proximity/internal/api/handlers"
	"github.com/danghamo/proximity/internal/api/jsonrpcx"
	"github.com/danghamo/proximity/internal/api/middleware"
	"github.com/danghamo/proximity/internal/app/service"
	"github.com/danghamo/proximity/internal/cqrs"
	cqrshandlers "github.com/danghamo/proximity/internal/cqrs/handlers"
	"github.com/danghamo/proximity/internal/observability"
	"github.com/danghamo/proximity/pkg/autorouter"
	"github.com/danghamo/proximity/pkg/config"
	"github.com/danghamo/proximity/pkg/logger"
	"github.com/danghamo/proximity/pkg/redisx"
	"github.com/danghamo/proximity/pkg/sse"
)

// Dependencies are the pieces the server wires together
type Dependencies struct {
	Sessions *service.Sessions
	Bus      *cqrs.Bus
	Metrics  *observability.GameCollector
	Redis    *redisx.Client // nil when the location capability is disabled
	Logger   *logger.Logger
	Version  string
}

// Server represents the HTTP server
type Server struct {
	httpServer      *http.Server
	logger          *logger.Logger
	config          config.ServerConfig
	redisClient     *redisx.Client
	mux             *http.ServeMux
	sessions        *service.Sessions
	metrics         *observability.GameCollector
	gameHandler     *handlers.GameHandler
	serverHandler   *handlers.ServerHandler
	keysHandler     *handlers.KeysHandler
	sseBroadcaster  *sse.SSEBroadcaster
	sseEventHandler *cqrshandlers.SSEEventHandler
}

// NewServer creates the HTTP server and registers the stream handlers on the
// bus. Call it before the bus runs.
func NewServer(cfg *config.Config, deps Dependencies) (*Server, error) {
	mux := http.NewServeMux()
	apiLogger := deps.Logger.WithComponent("api")

	// the broadcaster greets new clients with the handler's latest snapshot
	var sseEventHandler *cqrshandlers.SSEEventHandler
	sseBroadcaster := sse.NewSSEBroadcaster(apiLogger,
		sse.WithModes(deps.Sessions.Modes()...),
		sse.WithGreeter(sse.GreeterFunc(func(mode string) (jsonrpcx.JsonRpcNotification, bool) {
			return sseEventHandler.Greeting(mode)
		})),
	)
	sseEventHandler = cqrshandlers.NewSSEEventHandler(sseBroadcaster, apiLogger)

	err := deps.Bus.AddHandlers(
		wmcqrs.NewEventHandler("FrameUpdatedEvent", sseEventHandler.HandleFrameUpdatedEvent),
		wmcqrs.NewEventHandler("TargetsRefreshedEvent", sseEventHandler.HandleTargetsRefreshedEvent),
	)
	if err != nil {
		sseBroadcaster.Close()
		return nil, fmt.Errorf("failed to register event handlers: %w", err)
	}

	server := &Server{
		httpServer: &http.Server{
			Addr:        cfg.Server.GetServerAddr(),
			Handler:     mux,
			ReadTimeout: cfg.Server.ReadTimeout,
			IdleTimeout: cfg.Server.IdleTimeout,
		},
		logger:          apiLogger,
		config:          cfg.Server,
		redisClient:     deps.Redis,
		mux:             mux,
		sessions:        deps.Sessions,
		metrics:         deps.Metrics,
		gameHandler:     handlers.NewGameHandler(deps.Sessions, apiLogger),
		serverHandler:   handlers.NewServerHandler(deps.Version, deps.Sessions.Modes()),
		sseBroadcaster:  sseBroadcaster,
		sseEventHandler: sseEventHandler,
	}

	if keyboard, err := deps.Sessions.Keyboard(); err == nil {
		server.keysHandler = handlers.NewKeysHandler(keyboard, apiLogger)
	}

	if err := server.setupRoutes(); err != nil {
		sseBroadcaster.Close()
		return nil, err
	}
	server.setupMiddleware()

	return server, nil
}

// setupRoutes configures the server routes
func (s *Server) setupRoutes() error {
	s.mux.HandleFunc(s.config.HealthCheckPath, s.healthCheckHandler)

	if s.config.MetricsEnabled {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	var gameMiddleware map[string][]autorouter.Middleware
	if s.config.RefreshRate > 0 {
		gameMiddleware = map[string][]autorouter.Middleware{
			"Refresh": {autorouter.Middleware(middleware.RateLimit(s.logger, rate.Limit(s.config.RefreshRate), s.config.RefreshBurst))},
		}
	}

	gameRouter := autorouter.NewAutoRouter(s.mux, autorouter.RegistrationOptions{
		Prefix:           "/api/v1/",
		MethodPrefix:     "game.",
		MethodMiddleware: gameMiddleware,
		Logger:           s.logger,
	})
	if _, err := gameRouter.RegisterHandlers(s.gameHandler); err != nil {
		return fmt.Errorf("failed to register game handlers: %w", err)
	}

	serverRouter := autorouter.NewAutoRouter(s.mux, autorouter.RegistrationOptions{
		Prefix:       "/api/v1/",
		MethodPrefix: "server.",
		Logger:       s.logger,
	})
	if _, err := serverRouter.RegisterHandlers(s.serverHandler); err != nil {
		return fmt.Errorf("failed to register server handlers: %w", err)
	}

	s.mux.HandleFunc("/api/v1/ping", s.serverHandler.HandlePing)

	// SSE frame stream, one per mode
	s.mux.HandleFunc("/api/v1/stream/frames", s.sseBroadcaster.HandleSSE)

	if s.keysHandler != nil {
		s.mux.HandleFunc("/api/v1/stream/keys", s.keysHandler.HandleKeys)
	}

	return nil
}

// setupMiddleware applies middleware to all routes
func (s *Server) setupMiddleware() {
	middlewareChain := middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.ErrorAdapter(s.logger),
		middleware.CORS(),
		middleware.Logging(s.logger),
		s.metrics.Middleware,
	)

	s.httpServer.Handler = middlewareChain(s.mux)
}

// Handler returns the root handler, middleware included
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves HTTP until ctx is done, then shuts down
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("address", s.httpServer.Addr))

	errs := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- err
		}
		close(errs)
	}()

	select {
	case err := <-errs:
		if err != nil {
			s.logger.Error("HTTP server error", zap.Error(err))
			s.sseBroadcaster.Close()
			return err
		}
	case <-ctx.Done():
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down HTTP server")

	// SSE streams first so Shutdown does not wait on them
	s.sseBroadcaster.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// GetAddr returns the server address
func (s *Server) GetAddr() string {
	return s.httpServer.Addr
}

type healthCheck struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// streamCounts are the connected frame stream clients
type streamCounts struct {
	Total  int            `json:"total"`
	ByMode map[string]int `json:"by_mode"`
}

type healthResponse struct {
	Status  string                 `json:"status"`
	Checks  map[string]healthCheck `json:"checks"`
	Modes   []string               `json:"modes"`
	Streams streamCounts           `json:"streams"`
}

// healthCheckHandler handles health check requests
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "healthy",
		Checks: map[string]healthCheck{},
		Modes:  s.sessions.Modes(),
		Streams: streamCounts{
			Total:  s.sseBroadcaster.GetClientCount(),
			ByMode: make(map[string]int),
		},
	}
	for _, mode := range resp.Modes {
		resp.Streams.ByMode[mode] = s.sseBroadcaster.GetModeClientCount(mode)
	}
	code := http.StatusOK

	switch {
	case s.redisClient == nil:
		resp.Checks["redis"] = healthCheck{Status: "disabled"}
	default:
		if err := s.redisClient.HealthCheck(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Checks["redis"] = healthCheck{Status: "down", Error: err.Error()}
			code = http.StatusServiceUnavailable
		} else {
			resp.Checks["redis"] = healthCheck{Status: "up"}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug("Failed to write health response", zap.Error(err))
	}
}
