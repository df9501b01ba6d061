package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"go.uber.org/zap"

	"github.com/danghamo/proximity/internal/api/jsonrpcx"
	cqrsevents "github.com/danghamo/proximity/internal/cqrs"
	"github.com/danghamo/proximity/pkg/logger"
)

// SSEBroadcaster interface for broadcasting SSE messages
type SSEBroadcaster interface {
	BroadcastToMode(mode string, notification jsonrpcx.JsonRpcNotification)
}

// FrameSnapshotParams is the payload of frame.snapshot
type FrameSnapshotParams struct {
	Mode  string          `json:"mode"`
	Seq   uint64          `json:"seq"`
	Frame json.RawMessage `json:"frame"`
}

// FramePatchParams is the payload of frame.patched. Patch is a JSON merge
// patch (RFC 7386) that turns frame BaseSeq into frame Seq.
type FramePatchParams struct {
	Mode      string          `json:"mode"`
	Seq       uint64          `json:"seq"`
	BaseSeq   uint64          `json:"base_seq"`
	Patch     json.RawMessage `json:"patch"`
	Timestamp string          `json:"timestamp"`
}

type frameStream struct {
	seq   uint64
	frame []byte
}

// SSEEventHandler turns session events into stream notifications. It keeps
// the last frame of every mode so consecutive frames travel as merge patches.
type SSEEventHandler struct {
	sseBroadcaster SSEBroadcaster
	logger         *logger.Logger

	mu      sync.Mutex
	streams map[string]*frameStream
}

// NewSSEEventHandler creates a new SSE event handler
func NewSSEEventHandler(sseBroadcaster SSEBroadcaster, logger *logger.Logger) *SSEEventHandler {
	return &SSEEventHandler{
		sseBroadcaster: sseBroadcaster,
		logger:         logger.WithComponent("sse-event-handler"),
		streams:        make(map[string]*frameStream),
	}
}

// HandleFrameUpdatedEvent broadcasts the frame of one mode, as a snapshot the
// first time and as a merge patch after that. Unchanged frames are dropped.
func (h *SSEEventHandler) HandleFrameUpdatedEvent(ctx context.Context, event *cqrsevents.FrameUpdatedEvent) error {
	data, err := json.Marshal(event.Frame)
	if err != nil {
		h.logger.Error("Failed to marshal frame", zap.String("mode", event.Mode), zap.Error(err))
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	stream, ok := h.streams[event.Mode]
	if !ok {
		stream = &frameStream{seq: 1, frame: data}
		h.streams[event.Mode] = stream
		h.sseBroadcaster.BroadcastToMode(event.Mode, h.snapshot(event.Mode, stream))
		return nil
	}

	patch, err := jsonpatch.CreateMergePatch(stream.frame, data)
	if err != nil {
		h.logger.Error("Failed to diff frames", zap.String("mode", event.Mode), zap.Error(err))
		return nil
	}
	if string(patch) == "{}" {
		return nil
	}

	base := stream.seq
	stream.seq++
	stream.frame = data

	h.sseBroadcaster.BroadcastToMode(event.Mode, jsonrpcx.NewNotification(cqrsevents.MethodFramePatched, FramePatchParams{
		Mode:      event.Mode,
		Seq:       stream.seq,
		BaseSeq:   base,
		Patch:     patch,
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
	}))

	h.logger.Debug("Frame patch broadcast",
		zap.String("mode", event.Mode),
		zap.Uint64("seq", stream.seq),
		zap.Int("patchBytes", len(patch)),
		zap.String("requestId", event.RequestID))

	return nil
}

// HandleTargetsRefreshedEvent tells the clients of a mode why their targets changed
func (h *SSEEventHandler) HandleTargetsRefreshedEvent(ctx context.Context, event *cqrsevents.TargetsRefreshedEvent) error {
	h.logger.Debug("Handling targets refreshed event",
		zap.String("mode", event.Mode),
		zap.String("trigger", event.Trigger),
		zap.Uint64("generation", event.Generation),
		zap.String("requestId", event.RequestID))

	h.sseBroadcaster.BroadcastToMode(event.Mode, jsonrpcx.NewNotification(cqrsevents.MethodTargetsRefreshed, map[string]interface{}{
		"mode":       event.Mode,
		"generation": event.Generation,
		"trigger":    event.Trigger,
		"reached":    event.Reached,
		"timestamp":  event.Timestamp.Format(time.RFC3339),
	}))

	return nil
}

// Greeting returns the frame.snapshot a new client of mode starts from.
// Clients ignore patches whose seq is not above the snapshot seq.
func (h *SSEEventHandler) Greeting(mode string) (jsonrpcx.JsonRpcNotification, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stream, ok := h.streams[mode]
	if !ok {
		return jsonrpcx.JsonRpcNotification{}, false
	}
	return h.snapshot(mode, stream), true
}

func (h *SSEEventHandler) snapshot(mode string, stream *frameStream) jsonrpcx.JsonRpcNotification {
	return jsonrpcx.NewNotification(cqrsevents.MethodFrameSnapshot, FrameSnapshotParams{
		Mode:  mode,
		Seq:   stream.seq,
		Frame: append(json.RawMessage(nil), stream.frame...),
	})
}
