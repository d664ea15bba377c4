package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gridrun/internal/config"

	"github.com/paulmach/orb"
)

// halfCircumference is the planar extent of the projection in meters: half
// the equatorial circumference of the Earth. Longitude ±180° maps to ±this.
const halfCircumference = 20037508.342789244

// Project converts geographic degrees to planar meters using a fixed
// equatorial-scale cylindrical projection. Pure function; the inverse is
// Unproject. Latitudes numerically at ±90° are not representable.
func Project(lng, lat float64) orb.Point {
	x := lng * halfCircumference / 180.0
	y := math.Log(math.Tan((90.0+lat)*math.Pi/360.0)) * halfCircumference / math.Pi
	return orb.Point{x, y}
}

// Unproject converts planar meters back to geographic degrees.
func Unproject(p orb.Point) (lng, lat float64) {
	lng = p[0] * 180.0 / halfCircumference
	lat = 2.0*math.Atan(math.Exp(p[1]*math.Pi/halfCircumference))*180.0/math.Pi - 90.0
	return lng, lat
}

// PlanarDistance returns the euclidean distance in meters between two
// projected points.
func PlanarDistance(a, b orb.Point) float64 {
	return math.Hypot(a[0]-b[0], a[1]-b[1])
}

// CellIndex identifies one grid cell by its integer column and row on the
// planar grid. Indices are unbounded; cells exist only once claimed.
type CellIndex struct {
	X int
	Y int
}

// CellIndexOf returns the index of the cell containing a planar point.
func CellIndexOf(p orb.Point) CellIndex {
	return CellIndex{
		X: int(math.Floor(p[0] / config.CellSizeMeters)),
		Y: int(math.Floor(p[1] / config.CellSizeMeters)),
	}
}

// Key serializes the index to the canonical "<x>:<y>" cell key. Stored claims
// use this exact format; collaborators must preserve it.
func (c CellIndex) Key() string {
	return fmt.Sprintf("%d:%d", c.X, c.Y)
}

// ParseCellKey parses a "<x>:<y>" key back into a CellIndex. The whole
// string must be consumed; trailing garbage is rejected.
func ParseCellKey(key string) (CellIndex, error) {
	xs, ys, ok := strings.Cut(key, ":")
	if !ok {
		return CellIndex{}, fmt.Errorf("invalid cell key %q", key)
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return CellIndex{}, fmt.Errorf("invalid cell key %q: %w", key, err)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return CellIndex{}, fmt.Errorf("invalid cell key %q: %w", key, err)
	}
	return CellIndex{X: x, Y: y}, nil
}

// CenterPlanar returns the planar center point of the cell.
func (c CellIndex) CenterPlanar() orb.Point {
	return orb.Point{
		(float64(c.X) + 0.5) * config.CellSizeMeters,
		(float64(c.Y) + 0.5) * config.CellSizeMeters,
	}
}

// Center returns the geographic center of the cell as [lng, lat].
func (c CellIndex) Center() orb.Point {
	lng, lat := Unproject(c.CenterPlanar())
	return orb.Point{lng, lat}
}

// Ring renders the cell as a closed four-corner geographic ring, counter
// clockwise from the south-west corner.
func (c CellIndex) Ring() orb.Ring {
	minX := float64(c.X) * config.CellSizeMeters
	minY := float64(c.Y) * config.CellSizeMeters
	maxX := minX + config.CellSizeMeters
	maxY := minY + config.CellSizeMeters

	corners := []orb.Point{
		{minX, minY},
		{maxX, minY},
		{maxX, maxY},
		{minX, maxY},
		{minX, minY},
	}

	ring := make(orb.Ring, 0, len(corners))
	for _, p := range corners {
		lng, lat := Unproject(p)
		ring = append(ring, orb.Point{lng, lat})
	}
	return ring
}

// CellRangeForBound converts a geographic viewport to an inclusive cell index
// range. Corner order does not matter; min/max are normalized.
func CellRangeForBound(minLng, minLat, maxLng, maxLat float64) (CellIndex, CellIndex) {
	a := CellIndexOf(Project(minLng, minLat))
	b := CellIndexOf(Project(maxLng, maxLat))

	lo := CellIndex{X: min(a.X, b.X), Y: min(a.Y, b.Y)}
	hi := CellIndex{X: max(a.X, b.X), Y: max(a.Y, b.Y)}
	return lo, hi
}
