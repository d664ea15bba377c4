package geo

import (
	"log"
	"math"

	"gridrun/internal/config"

	"github.com/paulmach/orb"
)

// Rasterize converts a closed geographic ring into the deduplicated set of
// grid cells whose centers fall inside it. The result order is unspecified
// and independent of the ring's winding direction.
func Rasterize(ring orb.Ring) []CellIndex {
	if len(ring) < 4 {
		return nil
	}

	// Project once; all containment math is planar.
	planar := make(orb.Ring, len(ring))
	for i, p := range ring {
		planar[i] = Project(p[0], p[1])
	}

	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range planar {
		minX = math.Min(minX, p[0])
		maxX = math.Max(maxX, p[0])
		minY = math.Min(minY, p[1])
		maxY = math.Max(maxY, p[1])
	}

	lo := CellIndexOf(orb.Point{minX, minY})
	hi := CellIndexOf(orb.Point{maxX, maxY})

	candidates := (hi.X - lo.X + 1) * (hi.Y - lo.Y + 1)
	if candidates > config.RasterCellWarnLimit {
		// Monitoring signal only; oversized loops still rasterize fully.
		log.Printf("rasterizer: large loop, %d candidate cells (bbox %d..%d x %d..%d)",
			candidates, lo.X, hi.X, lo.Y, hi.Y)
	}

	var cells []CellIndex
	for cx := lo.X; cx <= hi.X; cx++ {
		for cy := lo.Y; cy <= hi.Y; cy++ {
			idx := CellIndex{X: cx, Y: cy}
			if pointInRing(planar, idx.CenterPlanar()) {
				cells = append(cells, idx)
			}
		}
	}
	return cells
}

// pointInRing is the standard even-odd ray-casting test in planar
// coordinates. A point is inside when a ray to +infinity crosses the ring
// boundary an odd number of times.
func pointInRing(ring orb.Ring, pt orb.Point) bool {
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]

		if (yi > pt[1]) != (yj > pt[1]) &&
			pt[0] < (xj-xi)*(pt[1]-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}
