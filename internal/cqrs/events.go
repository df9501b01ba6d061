package cqrs

import (
	"time"

	"github.com/danghamo/proximity/internal/domain/display"
	"github.com/danghamo/proximity/internal/domain/geo"
)

// FrameUpdatedEvent is published whenever a session has a new frame to draw
type FrameUpdatedEvent struct {
	Mode      string        `json:"mode"`
	SessionID string        `json:"session_id"`
	Frame     display.Frame `json:"frame"`
	Timestamp time.Time     `json:"timestamp"`
	RequestID string        `json:"request_id"`
}

// TargetsRefreshedEvent is published when a session replaced its target set
type TargetsRefreshedEvent struct {
	Mode       string           `json:"mode"`
	SessionID  string           `json:"session_id"`
	Generation uint64           `json:"generation"`
	Trigger    string           `json:"trigger"`
	Pivot      geo.Coordinate   `json:"pivot"`
	Targets    []geo.Coordinate `json:"targets"`
	Reached    []int            `json:"reached,omitempty"`
	Timestamp  time.Time        `json:"timestamp"`
	RequestID  string           `json:"request_id"`
}

// Stream notification methods
const (
	MethodFrameSnapshot    = "frame.snapshot"
	MethodFramePatched     = "frame.patched"
	MethodTargetsRefreshed = "targets.refreshed"
)
