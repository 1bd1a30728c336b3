package geo

import (
	"math"
	"testing"

	"rideflow/internal/domain"
)

var (
	tunisCenter = domain.GeoPoint{Lat: 36.8065, Lng: 10.1815}
	tunisSouth  = domain.GeoPoint{Lat: 36.7980, Lng: 10.1648}
)

// destination moves distKm from p along bearingDeg.
func destination(p domain.GeoPoint, distKm, bearingDeg float64) domain.GeoPoint {
	lat1 := degreesToRadians(p.Lat)
	lng1 := degreesToRadians(p.Lng)
	brng := degreesToRadians(bearingDeg)
	d := distKm / earthRadiusKm

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(d) + math.Cos(lat1)*math.Sin(d)*math.Cos(brng))
	lng2 := lng1 + math.Atan2(math.Sin(brng)*math.Sin(d)*math.Cos(lat1), math.Cos(d)-math.Sin(lat1)*math.Sin(lat2))
	return domain.GeoPoint{Lat: lat2 * 180 / math.Pi, Lng: lng2 * 180 / math.Pi}
}

func TestHaversineKm(t *testing.T) {
	t.Parallel()

	d := HaversineKm(tunisCenter, tunisSouth)
	if d < 1.7 || d > 2.0 {
		t.Errorf("expected about 1.8 km, got %.3f", d)
	}
	if back := HaversineKm(tunisSouth, tunisCenter); math.Abs(back-d) > 1e-9 {
		t.Errorf("distance not symmetric: %.9f vs %.9f", d, back)
	}
	if z := HaversineKm(tunisCenter, tunisCenter); z != 0 {
		t.Errorf("expected zero distance, got %v", z)
	}
}

func TestDistanceMeters_Rounds(t *testing.T) {
	t.Parallel()

	km := HaversineKm(tunisCenter, tunisSouth)
	if got, want := DistanceMeters(tunisCenter, tunisSouth), int64(math.Round(km*1000)); got != want {
		t.Errorf("expected %d m, got %d", want, got)
	}
}

func TestCover_ContainsEveryPointInRadius(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		center   domain.GeoPoint
		radiusKm float64
	}{
		{"tunis 0.5 km", tunisCenter, 0.5},
		{"tunis 3 km", tunisCenter, 3},
		{"tunis 25 km", tunisCenter, 25},
		{"equator 5 km", domain.GeoPoint{Lat: 0.01, Lng: 0.01}, 5},
		{"oslo 8 km", domain.GeoPoint{Lat: 59.91, Lng: 10.75}, 8},
		{"southern 2 km", domain.GeoPoint{Lat: -33.87, Lng: 151.21}, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cells, precision, ok := Cover(tc.center, tc.radiusKm, MaxPrecision)
			if !ok {
				t.Fatalf("expected a cover for %v", tc.center)
			}
			set := make(map[string]bool, len(cells))
			for _, c := range cells {
				set[c] = true
			}
			for bearing := 0.0; bearing < 360; bearing += 7.5 {
				for _, frac := range []float64{0.25, 0.5, 0.999} {
					p := destination(tc.center, tc.radiusKm*frac, bearing)
					if !set[Encode(p, precision)] {
						t.Fatalf("point %v at bearing %.1f not covered at precision %d", p, bearing, precision)
					}
				}
			}
		})
	}
}

func TestCover_FallsBackNearPolesAndAntimeridian(t *testing.T) {
	t.Parallel()

	if _, _, ok := Cover(domain.GeoPoint{Lat: 84.9, Lng: 0}, 50, MaxPrecision); ok {
		t.Error("expected no cover near the pole")
	}
	if _, _, ok := Cover(domain.GeoPoint{Lat: 0, Lng: 179.99}, 5, MaxPrecision); ok {
		t.Error("expected no cover across the antimeridian")
	}
	if _, _, ok := Cover(tunisCenter, 0, MaxPrecision); ok {
		t.Error("expected no cover for a zero radius")
	}
	if _, _, ok := Cover(tunisCenter, 5000, MaxPrecision); ok {
		t.Error("expected no cover when no cell is wide enough")
	}
}
