package util

import "math"

// DecodePolyline converts an encoded polyline string to a slice of lat/lng coordinates
// Implementation based on Google's Encoded Polyline Algorithm Format
// Default precision is 1e-5 (the Google Maps standard)
//
// Decoding is best-effort: an empty or malformed string yields an empty slice
// and truncated trailing bytes are dropped, never reported as an error.
func DecodePolyline(encoded string) [][2]float64 {
	return DecodePolylineWithPrecision(encoded, 1e-5)
}

// DecodePolylineWithPrecision decodes a polyline with a custom precision factor
func DecodePolylineWithPrecision(encoded string, precision float64) [][2]float64 {
	var points [][2]float64
	index, lat, lng := 0, 0, 0

	for index < len(encoded) {
		// Extract latitude
		shift, result := 0, 0
		for {
			if index >= len(encoded) {
				return points
			}
			b := int(encoded[index]) - 63
			index++
			result |= (b & 0x1f) << shift
			shift += 5
			if b < 0x20 {
				break
			}
		}

		// Handle the sign bit for latitude
		if result&1 != 0 {
			lat += ^(result >> 1)
		} else {
			lat += result >> 1
		}

		// Extract longitude
		shift, result = 0, 0
		for {
			if index >= len(encoded) {
				return points
			}
			b := int(encoded[index]) - 63
			index++
			result |= (b & 0x1f) << shift
			shift += 5
			if b < 0x20 {
				break
			}
		}

		// Handle the sign bit for longitude
		if result&1 != 0 {
			lng += ^(result >> 1)
		} else {
			lng += result >> 1
		}

		// Add coordinates in Google standard order: [latitude, longitude]
		points = append(points, [2]float64{float64(lat) * precision, float64(lng) * precision})
	}

	return points
}

// EncodePolyline is the inverse of DecodePolyline, producing a string that
// decodes back to the given [lat, lng] points at 1e-5 precision.
func EncodePolyline(points [][2]float64) string {
	if len(points) == 0 {
		return ""
	}

	buf := make([]byte, 0, len(points)*4)
	prevLat, prevLng := 0, 0

	for _, p := range points {
		lat := int(math.Round(p[0] * 1e5))
		lng := int(math.Round(p[1] * 1e5))

		buf = encodePolylineValue(buf, lat-prevLat)
		buf = encodePolylineValue(buf, lng-prevLng)

		prevLat = lat
		prevLng = lng
	}

	return string(buf)
}

func encodePolylineValue(buf []byte, value int) []byte {
	// Sign bit goes into the lowest position
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}

	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	return append(buf, byte(value)+63)
}
