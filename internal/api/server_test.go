package api

import (
	"bufio"
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danghamo/proximity/internal/api/jsonrpcx"
	"github.com/danghamo/proximity/internal/app/service"
	"github.com/danghamo/proximity/internal/cqrs"
	"github.com/danghamo/proximity/internal/domain/display"
	"github.com/danghamo/proximity/internal/domain/geo"
	"github.com/danghamo/proximity/internal/domain/position"
	"github.com/danghamo/proximity/internal/domain/proximity"
	"github.com/danghamo/proximity/internal/observability"
	"github.com/danghamo/proximity/pkg/config"
	"github.com/danghamo/proximity/pkg/logger"
)

type fixedSource struct {
	at geo.Coordinate
}

func (f fixedSource) Subscribe(ctx context.Context, emit func(position.Update)) position.Subscription {
	emit(position.KnownUpdate(f.at))
	return noopSubscription{}
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

func testServerConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			MetricsEnabled:  true,
			HealthCheckPath: "/health",
			RefreshRate:     0.001,
			RefreshBurst:    1,
		},
	}
}

func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logger.NewNop()

	bus, err := cqrs.NewBus(log)
	require.NoError(t, err)

	metrics, err := observability.NewGameCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	device, err := service.NewSession(service.SessionConfig{
		Mode:      config.ModeDevice,
		Source:    fixedSource{at: geo.NewCoordinate(52.37, 4.89)},
		Settings:  proximity.DefaultSettings(),
		Display:   display.DefaultSettings(),
		Generator: geo.NewGenerator(rand.NewPCG(3, 4)),
	}, bus, metrics, log)
	require.NoError(t, err)

	keyboard := position.NewKeyboard()
	controls, err := service.NewSession(service.SessionConfig{
		Mode:     config.ModeControls,
		Source:   position.NewSimulatedSource(nil, keyboard, position.SimulatedConfig{Speed: 5}, log),
		Keyboard: keyboard,
		Settings: proximity.DefaultSettings(),
		Display:  display.DefaultSettings(),
	}, bus, metrics, log)
	require.NoError(t, err)

	sessions := service.NewSessions(log, device, controls)

	srv, err := NewServer(testServerConfig(), Dependencies{
		Sessions: sessions,
		Bus:      bus,
		Metrics:  metrics,
		Logger:   log,
		Version:  "test",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = bus.Run(ctx) }()
	<-bus.Running()
	sessions.StartAll(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		sessions.StopAll()
		_ = srv.Shutdown()
		cancel()
		_ = bus.Close()
	})
	return ts
}

func call(t *testing.T, ts *httptest.Server, method, params string) jsonrpcx.JSONRPCResponse {
	t.Helper()
	body := `{"jsonrpc":"2.0","method":"` + method + `","params":` + params + `,"id":1}`
	res, err := http.Post(ts.URL+"/api/v1/"+method, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var resp jsonrpcx.JSONRPCResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&resp))
	return resp
}

func TestServer_GameRoutes(t *testing.T) {
	ts := startTestServer(t)

	resp := call(t, ts, "game.State", `{"mode":"device"}`)
	require.Nil(t, resp.Error)
	result := resp.Result.(map[string]interface{})
	assert.Equal(t, "idle", result["state"])

	resp = call(t, ts, "game.State", `{"mode":"controls"}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, "awaiting_position", resp.Result.(map[string]interface{})["state"])

	resp = call(t, ts, "game.Refresh", `{"mode":"device"}`)
	require.Nil(t, resp.Error)

	// burst of one
	resp = call(t, ts, "game.Refresh", `{"mode":"device"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpcx.RateLimited, resp.Error.Code)

	resp = call(t, ts, "server.Info", `{}`)
	require.Nil(t, resp.Error)
	assert.Equal(t, []interface{}{"device", "controls"}, resp.Result.(map[string]interface{})["modes"])

	resp = call(t, ts, "ping", `{}`)
	require.Nil(t, resp.Error)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts := startTestServer(t)

	res, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var health healthResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "disabled", health.Checks["redis"].Status)
	assert.Equal(t, 0, health.Streams.Total)
	assert.Equal(t, map[string]int{"device": 0, "controls": 0}, health.Streams.ByMode)

	res, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestServer_FrameStreamStartsWithSnapshot(t *testing.T) {
	ts := startTestServer(t)

	// wait until the device session has a target set
	resp := call(t, ts, "game.State", `{"mode":"device"}`)
	require.Nil(t, resp.Error)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/stream/frames?mode=device", nil)
	require.NoError(t, err)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "text/event-stream; charset=utf-8", res.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var snapshot string
	for scanner.Scan() {
		if line := scanner.Text(); strings.Contains(line, cqrs.MethodFrameSnapshot) {
			snapshot = line
			break
		}
	}
	require.NotEmpty(t, snapshot)
	assert.Contains(t, snapshot, `"mode":"device"`)
	assert.Contains(t, snapshot, `"overlays"`)

	// the open stream shows up in the health report
	hres, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer hres.Body.Close()
	var health healthResponse
	require.NoError(t, json.NewDecoder(hres.Body).Decode(&health))
	assert.Equal(t, 1, health.Streams.Total)
	assert.Equal(t, 1, health.Streams.ByMode["device"])
	assert.Equal(t, 0, health.Streams.ByMode["controls"])
}

func TestServer_FrameStreamRejectsUnknownMode(t *testing.T) {
	ts := startTestServer(t)

	res, err := http.Get(ts.URL + "/api/v1/stream/frames?mode=polling")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}
