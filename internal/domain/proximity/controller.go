// Package proximity decides when the set of random targets around the player
// is regenerated.
package proximity

import (
	"fmt"

	"github.com/danghamo/proximity/internal/domain/geo"
	"github.com/danghamo/proximity/internal/domain/position"
	"github.com/danghamo/proximity/internal/domain/shared"
)

// Defaults
const (
	DefaultRandomLocationCount = 3
	DefaultBaseDistance        = 275.0
	DefaultJitter              = 25.0
	DefaultInRangeDistance     = 75.0
)

// Settings controls target placement and arrival detection. Distances are meters.
type Settings struct {
	RandomLocationCount int     `json:"random_location_count"`
	BaseDistance        float64 `json:"base_distance"`
	Jitter              float64 `json:"jitter"`
	InRangeDistance     float64 `json:"in_range_distance"`
}

// DefaultSettings returns the stock game settings
func DefaultSettings() Settings {
	return Settings{
		RandomLocationCount: DefaultRandomLocationCount,
		BaseDistance:        DefaultBaseDistance,
		Jitter:              DefaultJitter,
		InRangeDistance:     DefaultInRangeDistance,
	}
}

// MinDistance is the closest a target may be placed to the pivot
func (s Settings) MinDistance() float64 { return s.BaseDistance - s.Jitter }

// MaxDistance is the farthest a target may be placed from the pivot
func (s Settings) MaxDistance() float64 { return s.BaseDistance + s.Jitter }

// Validate checks the settings
func (s Settings) Validate() error {
	if s.RandomLocationCount < 1 {
		return shared.ErrInvalidInput("random location count must be at least 1")
	}
	if s.InRangeDistance < 0 {
		return shared.ErrInvalidInput("in-range distance cannot be negative")
	}
	if s.Jitter < 0 || s.MinDistance() < 0 {
		return shared.ErrInvalidRangef("jitter %g must be between 0 and base distance %g", s.Jitter, s.BaseDistance)
	}
	return nil
}

// TargetGenerator draws a destination at a distance in [min, max) from origin.
type TargetGenerator interface {
	DestinationInRange(origin geo.Coordinate, min, max float64) (geo.Coordinate, error)
}

// State of the controller
type State int

const (
	AwaitingPosition State = iota
	Idle
	Refreshing
)

func (s State) String() string {
	switch s {
	case AwaitingPosition:
		return "awaiting_position"
	case Idle:
		return "idle"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText
func (s *State) UnmarshalText(text []byte) error {
	for _, st := range []State{AwaitingPosition, Idle, Refreshing} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return shared.ErrInvalidInput(fmt.Sprintf("unknown controller state %q", text))
}

// Trigger names what made a refresh pending.
type Trigger string

const (
	TriggerInitial Trigger = "initial"
	TriggerArrival Trigger = "arrival"
	TriggerManual  Trigger = "manual"
	TriggerCadence Trigger = "cadence"
)

// Refresh describes one regenerated target set.
type Refresh struct {
	Generation uint64           `json:"generation"`
	Trigger    Trigger          `json:"trigger"`
	Pivot      geo.Coordinate   `json:"pivot"`
	Targets    []geo.Coordinate `json:"targets"`
	// Reached lists the indices of the previous set the player arrived at.
	Reached []int `json:"reached,omitempty"`
}

// Snapshot is a copy of the controller state for rendering.
type Snapshot struct {
	Position        geo.Coordinate   `json:"position"`
	HasPosition     bool             `json:"has_position"`
	Targets         []geo.Coordinate `json:"targets"`
	Generation      uint64           `json:"generation"`
	State           State            `json:"state"`
	InRangeDistance float64          `json:"in_range_distance"`
}

// Controller owns the target set. It is not safe for concurrent use; a
// session drives it from a single goroutine.
type Controller struct {
	settings  Settings
	generator TargetGenerator

	position    geo.Coordinate
	hasPosition bool

	// targets is replaced wholesale on refresh, never mutated
	targets    []geo.Coordinate
	generation uint64

	pending bool
	trigger Trigger
	reached []int
}

// NewController creates a controller. A nil generator uses a freshly seeded geo.Generator.
func NewController(settings Settings, generator TargetGenerator) (*Controller, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if generator == nil {
		generator = geo.NewGenerator(nil)
	}
	return &Controller{settings: settings, generator: generator}, nil
}

// Settings returns the controller settings
func (c *Controller) Settings() Settings {
	return c.settings
}

// ApplyPosition records u and runs the arrival check. A pending refresh is
// processed immediately with u as the pivot. The returned Refresh is nil when
// the target set did not change.
func (c *Controller) ApplyPosition(u position.Update) (*Refresh, error) {
	if !u.Known {
		c.hasPosition = false
		return nil, nil
	}

	c.position = u.Coordinate
	c.hasPosition = true

	switch {
	case c.targets == nil:
		c.schedule(TriggerInitial)
	default:
		var reached []int
		for i, target := range c.targets {
			if geo.DistanceBetween(c.position, target) <= c.settings.InRangeDistance {
				reached = append(reached, i)
			}
		}
		if len(reached) > 0 {
			c.schedule(TriggerArrival)
			if c.trigger == TriggerArrival {
				c.reached = reached
			}
		}
	}

	return c.process()
}

// RequestRefresh asks for a new target set
func (c *Controller) RequestRefresh() (*Refresh, error) {
	c.schedule(TriggerManual)
	return c.process()
}

// CadenceElapsed marks a fixed refresh cadence tick
func (c *Controller) CadenceElapsed() (*Refresh, error) {
	c.schedule(TriggerCadence)
	return c.process()
}

// Pending reports whether a refresh is waiting for a position
func (c *Controller) Pending() bool {
	return c.pending
}

// State returns the current state
func (c *Controller) State() State {
	switch {
	case !c.hasPosition:
		return AwaitingPosition
	case c.pending:
		return Refreshing
	default:
		return Idle
	}
}

// Snapshot copies the state for the display layer
func (c *Controller) Snapshot() Snapshot {
	s := Snapshot{
		Position:        c.position,
		HasPosition:     c.hasPosition,
		Generation:      c.generation,
		State:           c.State(),
		InRangeDistance: c.settings.InRangeDistance,
	}
	if !c.hasPosition {
		s.Position = geo.Coordinate{}
	}
	if c.targets != nil {
		s.Targets = append([]geo.Coordinate(nil), c.targets...)
	}
	return s
}

// schedule keeps the first trigger of a pending refresh
func (c *Controller) schedule(t Trigger) {
	if c.pending {
		return
	}
	c.pending = true
	c.trigger = t
	c.reached = nil
}

func (c *Controller) process() (*Refresh, error) {
	if !c.pending || !c.hasPosition {
		return nil, nil
	}

	min, max := c.settings.MinDistance(), c.settings.MaxDistance()
	next := make([]geo.Coordinate, 0, c.settings.RandomLocationCount)
	for i := 0; i < c.settings.RandomLocationCount; i++ {
		target, err := c.generator.DestinationInRange(c.position, min, max)
		if err != nil {
			return nil, err
		}
		next = append(next, target)
	}

	c.targets = next
	c.generation++
	refresh := &Refresh{
		Generation: c.generation,
		Trigger:    c.trigger,
		Pivot:      c.position,
		Targets:    append([]geo.Coordinate(nil), next...),
		Reached:    c.reached,
	}
	c.pending = false
	c.trigger = ""
	c.reached = nil
	return refresh, nil
}
