// Package geo holds the spherical-earth math used to place targets and detect arrival.
//
// All distances are meters, all angles supplied by callers are radians and
// coordinates are decimal degrees. The earth is a sphere of orb.EarthRadius
// (the WGS84 equatorial radius); good enough for a few hundred meters.
package geo

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/paulmach/orb"

	"github.com/danghamo/proximity/internal/domain/shared"
)

// EarthRadius is the sphere radius in meters.
const EarthRadius = orb.EarthRadius

// Coordinate is an immutable latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewCoordinate creates a coordinate
func NewCoordinate(lat, lon float64) Coordinate {
	return Coordinate{Latitude: lat, Longitude: lon}
}

// Point converts the coordinate to an orb point (lon, lat order).
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Longitude, c.Latitude}
}

// String returns string representation of coordinate
func (c Coordinate) String() string {
	return fmt.Sprintf("(%.6f,%.6f)", c.Latitude, c.Longitude)
}

// DistanceBetween returns the haversine great-circle distance between a and b.
func DistanceBetween(a, b Coordinate) float64 {
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(a.Latitude))*math.Cos(toRadians(b.Latitude))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadius * c
}

// DestinationAtBearing returns the point reached from origin travelling
// distance meters along bearing (radians clockwise from north).
func DestinationAtBearing(origin Coordinate, bearing, distance float64) Coordinate {
	angular := distance / EarthRadius
	lat1 := toRadians(origin.Latitude)
	lon1 := toRadians(origin.Longitude)

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(angular) +
		math.Cos(lat1)*math.Sin(angular)*math.Cos(bearing))
	lon2 := lon1 + math.Atan2(math.Sin(bearing)*math.Sin(angular)*math.Cos(lat1),
		math.Cos(angular)-math.Sin(lat1)*math.Sin(lat2))

	return Coordinate{Latitude: toDegrees(lat2), Longitude: toDegrees(lon2)}
}

// Generator draws random destinations from its own random source.
// It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewGenerator creates a generator; a nil source uses a randomly seeded PCG.
func NewGenerator(src rand.Source) *Generator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Generator{rnd: rand.New(src)}
}

func (g *Generator) float64() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Float64()
}

// DestinationAtDistance picks a uniform bearing in [0, 2π) and returns the
// point distance meters away from origin.
func (g *Generator) DestinationAtDistance(origin Coordinate, distance float64) Coordinate {
	bearing := g.float64() * 2 * math.Pi
	return DestinationAtBearing(origin, bearing, distance)
}

// DestinationInRange draws a uniform distance in [min, max) and delegates to
// DestinationAtDistance. min == max yields exactly that distance.
func (g *Generator) DestinationInRange(origin Coordinate, min, max float64) (Coordinate, error) {
	if min < 0 || min > max {
		return Coordinate{}, shared.ErrInvalidRangef("distance range [%g, %g] is invalid", min, max)
	}
	distance := g.float64()*(max-min) + min
	return g.DestinationAtDistance(origin, distance), nil
}

var defaultGenerator = NewGenerator(nil)

// DestinationAtDistance uses the package default generator.
func DestinationAtDistance(origin Coordinate, distance float64) Coordinate {
	return defaultGenerator.DestinationAtDistance(origin, distance)
}

// DestinationInRange uses the package default generator.
func DestinationInRange(origin Coordinate, min, max float64) (Coordinate, error) {
	return defaultGenerator.DestinationInRange(origin, min, max)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func toDegrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
