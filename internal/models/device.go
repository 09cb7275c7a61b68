package models

import "time"

// LifecycleState represents where a vehicle is in its polling lifecycle.
type LifecycleState string

const (
	// StateUnknown - vehicle not probed yet, or re-discovering after a cooldown
	StateUnknown LifecycleState = "unknown"
	// StateAsleep - vehicle is sleeping; only lightweight presence checks allowed
	StateAsleep LifecycleState = "asleep"
	// StateWaking - wake command issued, waiting for the vehicle to come online
	StateWaking LifecycleState = "waking"
	// StateOnline - vehicle answers telemetry requests
	StateOnline LifecycleState = "online"
	// StateUnreachable - consecutive failures exceeded the threshold; backing off
	StateUnreachable LifecycleState = "unreachable"
)

// WakePolicy decides whether the exporter may ever wake a sleeping vehicle.
type WakePolicy string

const (
	WakePolicyNever     WakePolicy = "never"
	WakePolicyScheduled WakePolicy = "scheduled"
)

// Device is the per-vehicle record. It is created on first discovery or from
// static configuration, mutated only by its poller, and never destroyed; a
// re-discovered vehicle reuses its existing record.
type Device struct {
	ID          string
	VIN         string
	DisplayName string

	State               LifecycleState
	LastSuccess         time.Time
	ConsecutiveFailures int

	// AsleepCycles counts poll cycles spent asleep since the last presence
	// check, to stretch presence checks onto a longer cadence.
	AsleepCycles int

	// UnreachableSince and ProbeAttempts drive the bounded exponential
	// backoff before an unreachable vehicle is re-probed.
	UnreachableSince time.Time
	ProbeAttempts    int
}

// DeviceStatus is a read-only copy of a Device for the status API and tests.
type DeviceStatus struct {
	ID                  string         `json:"id"`
	VIN                 string         `json:"vin"`
	DisplayName         string         `json:"displayName"`
	State               LifecycleState `json:"state"`
	LastSuccess         time.Time      `json:"lastSuccess"`
	ConsecutiveFailures int            `json:"consecutiveFailures"`
}

func (d *Device) Status() DeviceStatus {
	return DeviceStatus{
		ID:                  d.ID,
		VIN:                 d.VIN,
		DisplayName:         d.DisplayName,
		State:               d.State,
		LastSuccess:         d.LastSuccess,
		ConsecutiveFailures: d.ConsecutiveFailures,
	}
}
