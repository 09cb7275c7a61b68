package poller

import (
	"time"

	"github.com/jarvishome/jarvis-tesla-exporter/internal/models"
)

// Action is what a poll cycle does for a device.
type Action string

const (
	// ActionSkip - do nothing this cycle
	ActionSkip Action = "skip"
	// ActionProbe - lightweight presence check, escalating to a full
	// telemetry fetch only when the vehicle reports itself online
	ActionProbe Action = "probe"
	// ActionWake - issue a wake command (scheduled wake policy only)
	ActionWake Action = "wake"
)

// Inputs are the facts Decide needs besides the lifecycle state.
type Inputs struct {
	// AsleepCycles is the number of cycles spent asleep since the last
	// presence check.
	AsleepCycles       int
	PresenceCheckEvery int
	WakePolicy         models.WakePolicy

	// SinceUnreachable and Cooldown gate the re-probe of an unreachable
	// vehicle.
	SinceUnreachable time.Duration
	Cooldown         time.Duration
}

// Decision is the outcome of the transition table.
type Decision struct {
	Action Action
	// Reset moves an unreachable device back to Unknown before acting.
	Reset bool
}

// Decide is the deterministic transition policy reconciling metric freshness
// against not waking a sleeping vehicle. It is a pure function of (state,
// inputs) so it can be tested without any network dependency.
func Decide(state models.LifecycleState, in Inputs) Decision {
	switch state {
	case models.StateUnknown, models.StateOnline, models.StateWaking:
		return Decision{Action: ActionProbe}

	case models.StateAsleep:
		// A sleeping vehicle is only presence-checked on the long cadence;
		// every other cycle is skipped outright so nothing can wake it.
		if in.AsleepCycles+1 < in.PresenceCheckEvery {
			return Decision{Action: ActionSkip}
		}
		if in.WakePolicy == models.WakePolicyScheduled {
			return Decision{Action: ActionWake}
		}
		return Decision{Action: ActionProbe}

	case models.StateUnreachable:
		if in.SinceUnreachable >= in.Cooldown {
			return Decision{Action: ActionProbe, Reset: true}
		}
		return Decision{Action: ActionSkip}

	default:
		return Decision{Action: ActionSkip}
	}
}
