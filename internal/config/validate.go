package config

import (
	"errors"
	"fmt"

	"github.com/jarvishome/jarvis-tesla-exporter/internal/models"
)

// Validate rejects configurations the engine cannot run with.
func (e *Exporter) Validate() error {
	if e.Auth.RefreshToken == "" {
		return errors.New("auth.refreshToken must be set")
	}

	switch models.WakePolicy(e.WakePolicy) {
	case models.WakePolicyNever, models.WakePolicyScheduled:
	default:
		return fmt.Errorf("invalid wakePolicy %q: must be %q or %q",
			e.WakePolicy, models.WakePolicyNever, models.WakePolicyScheduled)
	}

	switch e.StalenessMode {
	case "flag", "omit":
	default:
		return fmt.Errorf("invalid stalenessMode %q: must be \"flag\" or \"omit\"", e.StalenessMode)
	}

	for name, d := range map[string]interface{ Seconds() float64 }{
		"auth.safetyMargin":       e.Auth.SafetyMargin,
		"api.timeout":             e.API.Timeout,
		"poll.onlineInterval":     e.Poll.OnlineInterval,
		"poll.asleepInterval":     e.Poll.AsleepInterval,
		"poll.staleAfter":         e.Poll.StaleAfter,
		"poll.discoveryInterval":  e.Poll.DiscoveryInterval,
		"unreachableBackoff.init": e.Poll.UnreachableBackoff.Initial,
		"unreachableBackoff.max":  e.Poll.UnreachableBackoff.Max,
	} {
		if d.Seconds() <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if e.Poll.PresenceCheckEvery < 1 {
		return fmt.Errorf("poll.presenceCheckEvery must be at least 1, got %d", e.Poll.PresenceCheckEvery)
	}
	if e.Poll.FailureThreshold < 1 {
		return fmt.Errorf("poll.failureThreshold must be at least 1, got %d", e.Poll.FailureThreshold)
	}

	for i, g := range e.Geofences {
		if g.Location == "" {
			return fmt.Errorf("geofences[%d]: location must be set", i)
		}
		if g.RadiusMeters <= 0 {
			return fmt.Errorf("geofence %q: radiusMeters must be positive", g.Location)
		}
	}

	for _, b := range []struct {
		name   string
		budget RateBudget
	}{
		{"rateLimits.telemetry", e.RateLimits.Telemetry},
		{"rateLimits.wake", e.RateLimits.Wake},
	} {
		if b.budget.Capacity < 1 {
			return fmt.Errorf("%s.capacity must be at least 1", b.name)
		}
		if b.budget.RefillInterval <= 0 {
			return fmt.Errorf("%s.refillInterval must be positive", b.name)
		}
	}

	return nil
}
