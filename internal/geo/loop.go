package geo

import (
	"gridrun/internal/config"

	"github.com/paulmach/orb"
)

// ClosedWithin reports whether the raw trace starts and ends within the given
// planar tolerance in meters. Evaluated on the uncleaned [lat, lng] sequence;
// a trace that fails this is a normal zero-cell outcome, not an error.
func ClosedWithin(points [][2]float64, tolMeters float64) bool {
	if len(points) < 2 {
		return false
	}
	first := Project(points[0][1], points[0][0])
	last := Project(points[len(points)-1][1], points[len(points)-1][0])
	return PlanarDistance(first, last) <= tolMeters
}

// IsClaimableLoop applies the standard closure tolerance.
func IsClaimableLoop(points [][2]float64) bool {
	return ClosedWithin(points, config.LoopCloseMeters)
}

// CleanRing turns a decoded [lat, lng] sequence into a closed geographic
// ring in [lng, lat] order. Consecutive exact duplicates are dropped and the
// ring is force-closed by appending the first point when needed. Returns nil
// when fewer than 3 distinct points remain or the closed ring has fewer than
// 4 points; callers treat nil as "not a polygon", never as a failure.
func CleanRing(points [][2]float64) orb.Ring {
	cleaned := make(orb.Ring, 0, len(points)+1)
	for _, p := range points {
		pt := orb.Point{p[1], p[0]}
		if len(cleaned) > 0 && cleaned[len(cleaned)-1] == pt {
			continue
		}
		cleaned = append(cleaned, pt)
	}

	if len(cleaned) < 3 {
		return nil
	}

	if cleaned[0] != cleaned[len(cleaned)-1] {
		cleaned = append(cleaned, cleaned[0])
	}

	if len(cleaned) < 4 {
		return nil
	}
	return cleaned
}
