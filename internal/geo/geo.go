// Package geo holds distance math and geohash cell selection for proximity search.
package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"

	"rideflow/internal/domain"
)

const (
	earthRadiusKm = 6371.0
	kmPerDegree   = 2 * math.Pi * earthRadiusKm / 360

	// MaxPrecision is the finest geohash precision the driver index keeps.
	MaxPrecision uint = 6

	// Above this latitude cell widths collapse and callers must scan.
	polarCutoffLat = 85.0
)

// HaversineKm returns the great-circle distance between a and b in kilometres.
func HaversineKm(a, b domain.GeoPoint) float64 {
	lat1 := degreesToRadians(a.Lat)
	lat2 := degreesToRadians(b.Lat)
	dLat := lat2 - lat1
	dLng := degreesToRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// DistanceMeters returns the haversine distance rounded to whole metres.
func DistanceMeters(a, b domain.GeoPoint) int64 {
	return int64(math.Round(HaversineKm(a, b) * 1000))
}

// Encode returns the geohash of p at the given precision.
func Encode(p domain.GeoPoint, precision uint) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lng, precision)
}

// Cover returns the geohash cells at precision that together contain every
// point within radiusKm of center. ok is false when no cell size fits the
// radius or the search window touches a pole or the antimeridian; callers
// then fall back to a full scan.
func Cover(center domain.GeoPoint, radiusKm float64, maxPrecision uint) (cells []string, precision uint, ok bool) {
	if radiusKm <= 0 || !center.Valid() {
		return nil, 0, false
	}

	latSpan := radiusKm / kmPerDegree
	edgeLat := math.Abs(center.Lat) + latSpan
	if edgeLat >= polarCutoffLat {
		return nil, 0, false
	}
	lngSpan := radiusKm / (kmPerDegree * math.Cos(degreesToRadians(edgeLat)))
	if math.Abs(center.Lng)+lngSpan >= 180 {
		return nil, 0, false
	}

	if maxPrecision > MaxPrecision {
		maxPrecision = MaxPrecision
	}
	for p := maxPrecision; p >= 1; p-- {
		heightDeg, widthDeg := cellSize(p)
		// Margin on width covers the gap between parallel and great-circle distance.
		if heightDeg >= latSpan && widthDeg >= 1.5*lngSpan {
			hash := Encode(center, p)
			return append(geohash.Neighbors(hash), hash), p, true
		}
	}
	return nil, 0, false
}

// cellSize returns the height and width in degrees of a geohash cell.
func cellSize(precision uint) (heightDeg, widthDeg float64) {
	bits := 5 * precision
	lngBits := (bits + 1) / 2
	latBits := bits / 2
	return 180 / math.Exp2(float64(latBits)), 360 / math.Exp2(float64(lngBits))
}

func degreesToRadians(d float64) float64 {
	return d * math.Pi / 180
}
