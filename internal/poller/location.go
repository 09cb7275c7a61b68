package poller

import (
	"math"

	"github.com/jarvishome/jarvis-tesla-exporter/internal/config"
)

const earthRadiusMeters = 6371000

// resolveLocation maps a position to the first matching geofence name, or
// the fallback when the vehicle is outside all of them.
func resolveLocation(lat, lng float64, geofences []config.Geofence, fallback string) string {
	for _, g := range geofences {
		if haversineMeters(lat, lng, g.Latitude, g.Longitude) < g.RadiusMeters {
			return g.Location
		}
	}
	return fallback
}

func haversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
