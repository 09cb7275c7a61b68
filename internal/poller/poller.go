package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/jarvishome/jarvis-tesla-exporter/internal/auth"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/backoff"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/cache"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/config"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/models"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/ratelimit"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/tesla"
)

var pollCount = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "jarvis_tesla",
		Subsystem: "poller",
		Name:      "cycles_total",
		Help:      "Poll cycles by vehicle and outcome.",
	},
	[]string{"vehicle", "outcome"},
)

// VehicleAPI is the slice of the upstream contract a poller needs. The
// concrete client lives in the tesla package; tests use fakes.
type VehicleAPI interface {
	GetVehicle(ctx context.Context, accessToken, id string) (tesla.Vehicle, error)
	GetVehicleData(ctx context.Context, accessToken, id string) (tesla.VehicleData, error)
	WakeVehicle(ctx context.Context, accessToken, id string) (tesla.Vehicle, error)
}

// TokenSource yields a valid access token, refreshing it when needed.
type TokenSource interface {
	Token(ctx context.Context) (models.Token, error)
}

// Config is the per-poller policy derived from the exporter configuration.
type Config struct {
	PresenceCheckEvery int
	FailureThreshold   int
	WakePolicy         models.WakePolicy
	Geofences          []config.Geofence
	DefaultLocation    string
	UnreachableBackoff backoff.Policy
}

// Result tells the scheduler how the cycle went so it can derive the next
// interval. A deferred cycle carries the instant at which the rate limiter
// will have budget again.
type Result struct {
	Action   Action
	State    models.LifecycleState
	Deferred bool
	RetryAt  time.Time
	Err      error
}

// Poller runs the lifecycle state machine for one vehicle. The device
// record is mutated only here; the scheduler guarantees PollOnce is never
// invoked concurrently for the same device.
type Poller struct {
	cfg     Config
	api     VehicleAPI
	tokens  TokenSource
	limiter *ratelimit.Limiter
	cache   *cache.Cache
	now     func() time.Time
	log     *zap.SugaredLogger

	mu     sync.Mutex
	device *models.Device
}

func NewPoller(device *models.Device, api VehicleAPI, tokens TokenSource, limiter *ratelimit.Limiter, c *cache.Cache, cfg Config) *Poller {
	return &Poller{
		cfg:     cfg,
		api:     api,
		tokens:  tokens,
		limiter: limiter,
		cache:   c,
		now:     time.Now,
		log:     zap.S().Named("poller").With("vehicle", device.ID),
		device:  device,
	}
}

// WithClock replaces the time source, for tests.
func (p *Poller) WithClock(now func() time.Time) *Poller {
	p.now = now
	return p
}

// Status returns a read-only copy of the device record.
func (p *Poller) Status() models.DeviceStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device.Status()
}

// UpdateIdentity refreshes mutable identity fields after re-discovery. The
// device record itself is reused.
func (p *Poller) UpdateIdentity(v tesla.Vehicle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v.DisplayName != "" {
		p.device.DisplayName = v.DisplayName
	}
	if v.VIN != "" {
		p.device.VIN = v.VIN
	}
}

// PollOnce executes one poll cycle: decide, rate-limit, fetch, publish.
func (p *Poller) PollOnce(ctx context.Context) Result {
	p.mu.Lock()
	state := p.device.State
	in := Inputs{
		AsleepCycles:       p.device.AsleepCycles,
		PresenceCheckEvery: p.cfg.PresenceCheckEvery,
		WakePolicy:         p.cfg.WakePolicy,
		SinceUnreachable:   p.now().Sub(p.device.UnreachableSince),
		Cooldown:           p.cooldownLocked(),
	}
	p.mu.Unlock()

	decision := Decide(state, in)

	switch decision.Action {
	case ActionSkip:
		if state == models.StateAsleep {
			p.mu.Lock()
			p.device.AsleepCycles++
			p.mu.Unlock()
		}
		return Result{Action: ActionSkip, State: state}

	case ActionWake:
		return p.wake(ctx)

	default:
		if decision.Reset {
			p.transition(models.StateUnknown)
		}
		return p.probe(ctx)
	}
}

// probe runs the lightweight presence check and escalates to a full
// telemetry fetch only for vehicles that report themselves online.
func (p *Poller) probe(ctx context.Context) Result {
	ok, retryAt := p.limiter.Acquire(ratelimit.ClassTelemetry)
	if !ok {
		pollCount.WithLabelValues(p.device.ID, "deferred").Inc()
		return Result{Action: ActionProbe, State: p.Status().State, Deferred: true, RetryAt: retryAt}
	}

	token, err := p.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrCredentialsRevoked) {
			return Result{Action: ActionProbe, State: p.Status().State, Err: err}
		}
		return p.fail(ActionProbe, err)
	}

	vehicle, err := p.api.GetVehicle(ctx, token.AccessToken, p.device.ID)
	if err != nil {
		return p.fail(ActionProbe, err)
	}

	p.UpdateIdentity(vehicle)

	switch {
	case vehicle.InService:
		return p.settle(ctx, models.StateAsleep, models.AvailabilityInService)
	case vehicle.State == tesla.VehicleStateOnline:
		return p.telemetry(ctx, token)
	case vehicle.State == tesla.VehicleStateOffline:
		return p.settle(ctx, models.StateAsleep, models.AvailabilityOffline)
	default:
		// asleep, plus any state string this exporter does not know;
		// unknown states are treated conservatively so they never wake
		// the vehicle.
		return p.settle(ctx, models.StateAsleep, models.AvailabilityAsleep)
	}
}

// telemetry fetches the full vehicle data and publishes a fresh snapshot.
func (p *Poller) telemetry(ctx context.Context, token models.Token) Result {
	ok, retryAt := p.limiter.Acquire(ratelimit.ClassTelemetry)
	if !ok {
		// Presence already confirmed the vehicle is online; record that and
		// defer the data fetch until the budget recovers. settle already
		// counts the cycle, and the limiter tracks the deferral itself.
		res := p.settle(ctx, models.StateOnline, models.AvailabilityOnline)
		res.Deferred = true
		res.RetryAt = retryAt
		return res
	}

	vd, err := p.api.GetVehicleData(ctx, token.AccessToken, p.device.ID)
	if err != nil {
		return p.fail(ActionProbe, err)
	}

	location := resolveLocation(vd.DriveState.Latitude, vd.DriveState.Longitude, p.cfg.Geofences, p.cfg.DefaultLocation)

	prev := p.previous()
	snapshot := telemetrySnapshot(p.Status(), vd, location, prev, p.now())

	if ctx.Err() != nil {
		// Shutting down; never publish a snapshot built during teardown.
		return Result{Action: ActionProbe, State: p.Status().State, Err: ctx.Err()}
	}
	p.cache.Publish(snapshot)

	p.succeed(models.StateOnline)
	pollCount.WithLabelValues(p.device.ID, "success").Inc()
	p.log.Debugw("telemetry published", "location", location, "points", len(snapshot.Points))
	return Result{Action: ActionProbe, State: models.StateOnline}
}

// settle records a successful presence check for a vehicle that must not be
// queried further, carrying the previous values forward.
func (p *Poller) settle(ctx context.Context, state models.LifecycleState, availability float64) Result {
	if ctx.Err() != nil {
		return Result{Action: ActionProbe, State: p.Status().State, Err: ctx.Err()}
	}

	snapshot := carrySnapshot(p.Status(), availability, p.previous(), p.now())
	p.cache.Publish(snapshot)

	p.succeed(state)
	pollCount.WithLabelValues(p.device.ID, "success").Inc()
	return Result{Action: ActionProbe, State: state}
}

// wake issues the wake command under the scheduled wake policy.
func (p *Poller) wake(ctx context.Context) Result {
	ok, retryAt := p.limiter.Acquire(ratelimit.ClassWake)
	if !ok {
		pollCount.WithLabelValues(p.device.ID, "deferred").Inc()
		return Result{Action: ActionWake, State: p.Status().State, Deferred: true, RetryAt: retryAt}
	}

	token, err := p.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrCredentialsRevoked) {
			return Result{Action: ActionWake, State: p.Status().State, Err: err}
		}
		return p.fail(ActionWake, err)
	}

	p.log.Infow("waking vehicle")
	if _, err := p.api.WakeVehicle(ctx, token.AccessToken, p.device.ID); err != nil {
		return p.fail(ActionWake, err)
	}

	p.mu.Lock()
	p.logTransition(p.device.State, models.StateWaking)
	p.device.State = models.StateWaking
	p.device.AsleepCycles = 0
	p.mu.Unlock()
	pollCount.WithLabelValues(p.device.ID, "wake").Inc()
	return Result{Action: ActionWake, State: models.StateWaking}
}

func (p *Poller) transition(state models.LifecycleState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logTransition(p.device.State, state)
	p.device.State = state
}

// succeed applies a successful cycle: transition, counters, timestamps.
func (p *Poller) succeed(state models.LifecycleState) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.logTransition(p.device.State, state)
	p.device.State = state
	p.device.ConsecutiveFailures = 0
	p.device.AsleepCycles = 0
	p.device.ProbeAttempts = 0
	p.device.LastSuccess = p.now()
}

// fail bumps the failure counter and trips the device into Unreachable past
// the threshold. The previous snapshot is deliberately left untouched.
func (p *Poller) fail(action Action, err error) Result {
	var decodeErr *tesla.DecodeError
	if errors.As(err, &decodeErr) {
		p.log.Errorw("malformed upstream response", "error", err)
	} else {
		p.log.Warnw("poll failed", "error", err)
	}

	p.mu.Lock()
	p.device.ConsecutiveFailures++
	if p.device.ConsecutiveFailures >= p.cfg.FailureThreshold {
		p.logTransition(p.device.State, models.StateUnreachable)
		p.device.State = models.StateUnreachable
		p.device.UnreachableSince = p.now()
		p.device.ProbeAttempts++
	}
	state := p.device.State
	p.mu.Unlock()

	pollCount.WithLabelValues(p.device.ID, "failure").Inc()
	return Result{Action: action, State: state, Err: err}
}

func (p *Poller) previous() *models.Snapshot {
	entry, err := p.cache.Get(p.device.ID)
	if err != nil {
		return nil
	}
	return entry.Snapshot
}

// cooldownLocked derives the current unreachable cooldown from the number
// of consecutive unreachable episodes. Callers hold p.mu.
func (p *Poller) cooldownLocked() time.Duration {
	attempt := p.device.ProbeAttempts - 1
	if attempt < 0 {
		attempt = 0
	}
	return p.cfg.UnreachableBackoff.Interval(attempt)
}

func (p *Poller) logTransition(from, to models.LifecycleState) {
	if from != to {
		p.log.Debugw("state transition", "from", from, "to", to)
	}
}
