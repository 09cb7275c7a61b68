package poller

import (
	"time"

	"github.com/google/uuid"

	"github.com/jarvishome/jarvis-tesla-exporter/internal/models"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/tesla"
)

// Unit conversions: the Owner API reports miles, kWh and kW.
const (
	metersPerMile  = 1609.344
	joulesPerKWh   = 3600.0 * 1000.0
	wattsPerKW     = 1000.0
	chargePortHeld = "Engaged"
)

// telemetrySnapshot builds a fresh snapshot from a full vehicle_data fetch.
func telemetrySnapshot(device models.DeviceStatus, vd tesla.VehicleData, location string, prev *models.Snapshot, now time.Time) *models.Snapshot {
	chargerPower := 0.0
	chargeEnergy := carriedValue(prev, models.MetricChargeEnergyAdded)
	if vd.ChargeState.ChargePortLatch == chargePortHeld {
		chargerPower = vd.ChargeState.ChargerPower * wattsPerKW
		chargeEnergy = vd.ChargeState.ChargeEnergyAdded * joulesPerKWh
	}

	return &models.Snapshot{
		ID:          uuid.NewString(),
		DeviceID:    device.ID,
		VIN:         device.VIN,
		DisplayName: device.DisplayName,
		Location:    location,
		CapturedAt:  now,
		Points: []models.MetricPoint{
			{Name: models.MetricChargerPower, Help: "Charger power drawn by the vehicle.", Kind: models.MetricKindGauge, Value: chargerPower},
			{Name: models.MetricChargeEnergyAdded, Help: "Energy added during the current charging session.", Kind: models.MetricKindCounter, Value: chargeEnergy},
			{Name: models.MetricOdometer, Help: "Vehicle odometer.", Kind: models.MetricKindCounter, Value: vd.VehicleState.Odometer * metersPerMile},
			{Name: models.MetricBatteryLevel, Help: "Battery state of charge.", Kind: models.MetricKindGauge, Value: vd.ChargeState.BatteryLevel},
			{Name: models.MetricAvailability, Help: "Vehicle availability: 1 online, 0 asleep, -1 offline, -2 in service.", Kind: models.MetricKindGauge, Value: models.AvailabilityOnline},
		},
	}
}

// carrySnapshot republishes the previous values for a vehicle that cannot be
// queried without waking it, refreshing only the availability gauge and the
// capture time. Charger power drops to zero: a sleeping vehicle is not
// charging.
func carrySnapshot(device models.DeviceStatus, availability float64, prev *models.Snapshot, now time.Time) *models.Snapshot {
	snapshot := &models.Snapshot{
		ID:          uuid.NewString(),
		DeviceID:    device.ID,
		VIN:         device.VIN,
		DisplayName: device.DisplayName,
		Location:    "",
		CapturedAt:  now,
		Points: []models.MetricPoint{
			{Name: models.MetricAvailability, Help: "Vehicle availability: 1 online, 0 asleep, -1 offline, -2 in service.", Kind: models.MetricKindGauge, Value: availability},
		},
	}

	if prev == nil {
		return snapshot
	}

	snapshot.Location = prev.Location
	for _, p := range prev.Points {
		switch p.Name {
		case models.MetricAvailability:
		case models.MetricChargerPower:
			p.Value = 0
			snapshot.Points = append(snapshot.Points, p)
		default:
			snapshot.Points = append(snapshot.Points, p)
		}
	}
	return snapshot
}

func carriedValue(prev *models.Snapshot, name string) float64 {
	if prev == nil {
		return 0
	}
	if p, ok := prev.Point(name); ok {
		return p.Value
	}
	return 0
}
