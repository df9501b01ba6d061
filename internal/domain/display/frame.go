// Package display turns controller snapshots into frames the map
// collaborator can redraw from.
package display

import (
	"fmt"

	"github.com/danghamo/proximity/internal/domain/geo"
	"github.com/danghamo/proximity/internal/domain/proximity"
)

// Defaults for the OpenStreetMap tile layer
const (
	DefaultZoom        = 16
	DefaultTileURL     = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"
	DefaultAttribution = `&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors`
	DefaultColor       = "orange"
)

// Icon is the image of one marker. Each marker carries its own copy.
type Icon struct {
	URL          string `json:"url"`
	ShadowURL    string `json:"shadow_url,omitempty"`
	Size         [2]int `json:"size"`
	Anchor       [2]int `json:"anchor"`
	PopupAnchor  [2]int `json:"popup_anchor"`
	ShadowSize   [2]int `json:"shadow_size"`
	ShadowAnchor [2]int `json:"shadow_anchor"`
}

// DefaultIcon returns the stock placeholder marker
func DefaultIcon() Icon {
	return Icon{
		URL:          "/assets/placeholder-marker.png",
		ShadowURL:    "/assets/marker-shadow.png",
		Size:         [2]int{32, 32},
		Anchor:       [2]int{16, 32},
		PopupAnchor:  [2]int{0, -32},
		ShadowSize:   [2]int{32, 32},
		ShadowAnchor: [2]int{8, 32},
	}
}

// Settings describes how frames are drawn
type Settings struct {
	Zoom              int
	TileURL           string
	Attribution       string
	OverlayColor      string
	PlayerIcon        Icon
	TargetIcon        Icon
	PlayerPopup       string
	TargetPopupFormat string // fmt verb receives the 1-based target number
}

// DefaultSettings returns the stock map settings
func DefaultSettings() Settings {
	return Settings{
		Zoom:              DefaultZoom,
		TileURL:           DefaultTileURL,
		Attribution:       DefaultAttribution,
		OverlayColor:      DefaultColor,
		PlayerIcon:        DefaultIcon(),
		TargetIcon:        DefaultIcon(),
		PlayerPopup:       "You're here!",
		TargetPopupFormat: "Location %d",
	}
}

// OverlayKind names a drawable
type OverlayKind string

const (
	KindMarker   OverlayKind = "marker"
	KindCircle   OverlayKind = "circle"
	KindPolyline OverlayKind = "polyline"
)

// Overlay is one drawable. Only the fields of its kind are set.
type Overlay struct {
	Kind OverlayKind `json:"kind"`
	// Target is the 1-based target number, 0 for the player.
	Target int `json:"target,omitempty"`

	Position *geo.Coordinate `json:"position,omitempty"`
	Popup    string          `json:"popup,omitempty"`
	Icon     *Icon           `json:"icon,omitempty"`

	Center *geo.Coordinate `json:"center,omitempty"`
	Radius float64         `json:"radius,omitempty"`

	Points []geo.Coordinate `json:"points,omitempty"`
	Color  string           `json:"color,omitempty"`
}

// NewMarker creates a marker overlay
func NewMarker(target int, at geo.Coordinate, popup string, icon Icon) Overlay {
	return Overlay{Kind: KindMarker, Target: target, Position: &at, Popup: popup, Icon: &icon}
}

// NewCircle creates a circle overlay
func NewCircle(target int, center geo.Coordinate, radius float64, color string) Overlay {
	return Overlay{Kind: KindCircle, Target: target, Center: &center, Radius: radius, Color: color}
}

// NewPolyline creates a polyline overlay
func NewPolyline(target int, from, to geo.Coordinate, color string) Overlay {
	return Overlay{Kind: KindPolyline, Target: target, Points: []geo.Coordinate{from, to}, Color: color}
}

// TileLayer is the tile source with its attribution
type TileLayer struct {
	URL         string `json:"url"`
	Attribution string `json:"attribution"`
}

// Frame is everything the collaborator needs for one redraw
type Frame struct {
	Mode       string          `json:"mode,omitempty"`
	Loading    bool            `json:"loading"`
	Center     *geo.Coordinate `json:"center,omitempty"`
	Zoom       int             `json:"zoom"`
	Tiles      TileLayer       `json:"tiles"`
	Overlays   []Overlay       `json:"overlays"`
	State      string          `json:"state"`
	Generation uint64          `json:"generation"`
}

// BuildFrame renders a snapshot. Without a position the frame only says loading.
func BuildFrame(snap proximity.Snapshot, s Settings) Frame {
	frame := Frame{
		Loading:    !snap.HasPosition,
		Zoom:       s.Zoom,
		Tiles:      TileLayer{URL: s.TileURL, Attribution: s.Attribution},
		Overlays:   []Overlay{},
		State:      snap.State.String(),
		Generation: snap.Generation,
	}
	if !snap.HasPosition {
		return frame
	}

	player := snap.Position
	frame.Center = &player

	for i, target := range snap.Targets {
		n := i + 1
		frame.Overlays = append(frame.Overlays,
			NewPolyline(n, player, target, s.OverlayColor),
			NewCircle(n, target, snap.InRangeDistance, s.OverlayColor),
			NewMarker(n, target, fmt.Sprintf(s.TargetPopupFormat, n), s.TargetIcon),
		)
	}
	frame.Overlays = append(frame.Overlays, NewMarker(0, player, s.PlayerPopup, s.PlayerIcon))

	return frame
}
