package util

import (
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// HaversineDistance returns the great-circle distance in meters between two
// geographic points. Used for display stats (route length), never for grid
// geometry, which lives in the planar projection.
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	point1 := s2.PointFromLatLng(s2.LatLngFromDegrees(lat1, lng1))
	point2 := s2.PointFromLatLng(s2.LatLngFromDegrees(lat2, lng2))

	angle := s1.Angle(s2.ChordAngleBetweenPoints(point1, point2).Angle())

	earthRadiusMeters := 6371000.0
	return angle.Radians() * earthRadiusMeters
}

// RouteDistance sums the great-circle leg lengths of a [lat, lng] sequence.
func RouteDistance(points [][2]float64) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += HaversineDistance(points[i-1][0], points[i-1][1], points[i][0], points[i][1])
	}
	return total
}
