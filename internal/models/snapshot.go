package models

import "time"

// MetricKind distinguishes how a point is exposed on the scrape endpoint.
type MetricKind string

const (
	MetricKindGauge   MetricKind = "gauge"
	MetricKindCounter MetricKind = "counter"
)

// Metric names exposed per vehicle.
const (
	MetricChargerPower      = "jarvis_tesla_charger_power_watts"
	MetricChargeEnergyAdded = "jarvis_tesla_charge_energy_added_joules_total"
	MetricOdometer          = "jarvis_tesla_odometer_meters_total"
	MetricBatteryLevel      = "jarvis_tesla_battery_level_percent"
	MetricAvailability      = "jarvis_tesla_availability"
)

// Availability gauge encoding, matching the upstream vehicle conditions.
const (
	AvailabilityOnline    = 1.0
	AvailabilityAsleep    = 0.0
	AvailabilityOffline   = -1.0
	AvailabilityInService = -2.0
)

// MetricPoint is one typed value inside a snapshot.
type MetricPoint struct {
	Name  string
	Help  string
	Kind  MetricKind
	Value float64
}

// Snapshot is the last-known-good value set for one vehicle. It is immutable
// once published: a new poll builds a fresh Snapshot and swaps the pointer,
// so concurrent scrape readers never observe a partial update.
type Snapshot struct {
	ID          string
	DeviceID    string
	VIN         string
	DisplayName string
	Location    string

	Points     []MetricPoint
	CapturedAt time.Time
}

// Age returns how old the snapshot is at the given instant.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.CapturedAt)
}

// Point returns the named point, for carrying values forward between polls.
func (s *Snapshot) Point(name string) (MetricPoint, bool) {
	for _, p := range s.Points {
		if p.Name == name {
			return p, true
		}
	}
	return MetricPoint{}, false
}
