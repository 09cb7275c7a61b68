package scheduler

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jarvishome/jarvis-tesla-exporter/internal/auth"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/backoff"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/cache"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/models"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/poller"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/ratelimit"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/tesla"
)

// API is the upstream surface the scheduler needs on top of what each
// poller uses: account-level vehicle discovery.
type API interface {
	poller.VehicleAPI
	ListVehicles(ctx context.Context, accessToken string) ([]tesla.Vehicle, error)
}

// Task is one device's poll cycle driver. Satisfied by *poller.Poller;
// tests substitute fakes.
type Task interface {
	PollOnce(ctx context.Context) poller.Result
	Status() models.DeviceStatus
	UpdateIdentity(v tesla.Vehicle)
}

// Config derives per-state cadences and the discovery rhythm.
type Config struct {
	OnlineInterval    time.Duration
	AsleepInterval    time.Duration
	DiscoveryInterval time.Duration

	// Vehicles is the static allow-list; empty means discover everything
	// on the account.
	Vehicles []string

	Poller poller.Config
}

// Scheduler runs one worker goroutine per tracked device, so polls for a
// single device are strictly sequential while devices proceed concurrently,
// sharing the rate limiter and credential manager.
type Scheduler struct {
	cfg     Config
	api     API
	tokens  poller.TokenSource
	limiter *ratelimit.Limiter
	cache   *cache.Cache
	log     *zap.SugaredLogger

	newTask func(device *models.Device) Task

	mu    sync.Mutex
	tasks map[string]Task

	wg       sync.WaitGroup
	halted   chan struct{}
	haltOnce sync.Once
}

func NewScheduler(api API, tokens poller.TokenSource, limiter *ratelimit.Limiter, c *cache.Cache, cfg Config) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		api:     api,
		tokens:  tokens,
		limiter: limiter,
		cache:   c,
		log:     zap.S().Named("scheduler"),
		tasks:   make(map[string]Task),
		halted:  make(chan struct{}),
	}
	s.newTask = func(device *models.Device) Task {
		return poller.NewPoller(device, api, tokens, limiter, c, cfg.Poller)
	}
	return s
}

// WithTaskFactory replaces the poller constructor, for tests.
func (s *Scheduler) WithTaskFactory(f func(device *models.Device) Task) *Scheduler {
	s.newTask = f
	return s
}

// Run drives discovery and all device workers until the context is
// cancelled or the credentials are revoked. In-flight polls finish before
// it returns; the caller bounds the grace period.
func (s *Scheduler) Run(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Allow-listed vehicles are tracked immediately; identity fills in on
	// the first probe.
	for _, id := range s.cfg.Vehicles {
		s.track(workerCtx, &models.Device{ID: id, State: models.StateUnknown})
	}

	s.wg.Add(1)
	go s.discoveryLoop(workerCtx)

	select {
	case <-ctx.Done():
	case <-s.halted:
		cancel()
	}
	s.wg.Wait()

	select {
	case <-s.halted:
		return auth.ErrCredentialsRevoked
	default:
		return ctx.Err()
	}
}

// Statuses returns every tracked device's state, sorted by identifier.
func (s *Scheduler) Statuses() []models.DeviceStatus {
	s.mu.Lock()
	statuses := make([]models.DeviceStatus, 0, len(s.tasks))
	for _, task := range s.tasks {
		statuses = append(statuses, task.Status())
	}
	s.mu.Unlock()

	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	return statuses
}

func (s *Scheduler) discoveryLoop(ctx context.Context) {
	defer s.wg.Done()

	// First discovery retries with backoff so a flaky upstream at boot
	// does not leave an empty account untracked.
	policy := backoff.Policy{Initial: 5 * time.Second, Max: 5 * time.Minute}
	for attempt := 0; ; attempt++ {
		err := s.discover(ctx)
		if err == nil {
			break
		}
		if errors.Is(err, auth.ErrCredentialsRevoked) {
			s.halt()
			return
		}
		if len(s.cfg.Vehicles) > 0 {
			// Allow-listed devices are already tracked; discovery only
			// refreshes identity, no need to block on it.
			break
		}
		s.log.Warnw("vehicle discovery failed, retrying", "error", err, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return
		case <-time.After(policy.Interval(attempt)):
		}
	}

	ticker := time.NewTicker(s.cfg.DiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := s.discover(ctx); err != nil {
			if errors.Is(err, auth.ErrCredentialsRevoked) {
				s.halt()
				return
			}
			s.log.Warnw("vehicle discovery failed", "error", err)
		}
	}
}

// discover lists the account's vehicles and tracks new ones. Re-discovered
// vehicles reuse their existing device record.
func (s *Scheduler) discover(ctx context.Context) error {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return err
	}

	vehicles, err := s.api.ListVehicles(ctx, token.AccessToken)
	if err != nil {
		return err
	}

	for _, v := range vehicles {
		id := idString(v.ID)
		if !s.allowed(id) {
			continue
		}

		s.mu.Lock()
		task, known := s.tasks[id]
		s.mu.Unlock()
		if known {
			task.UpdateIdentity(v)
			continue
		}

		s.log.Infow("discovered vehicle", "id", id, "name", v.DisplayName)
		s.track(ctx, &models.Device{
			ID:          id,
			VIN:         v.VIN,
			DisplayName: v.DisplayName,
			State:       models.StateUnknown,
		})
	}
	return nil
}

func (s *Scheduler) allowed(id string) bool {
	if len(s.cfg.Vehicles) == 0 {
		return true
	}
	for _, allowed := range s.cfg.Vehicles {
		if allowed == id {
			return true
		}
	}
	return false
}

// track registers a device and starts its worker. Devices are never
// removed during the process lifetime.
func (s *Scheduler) track(ctx context.Context, device *models.Device) {
	s.mu.Lock()
	if _, exists := s.tasks[device.ID]; exists {
		s.mu.Unlock()
		return
	}
	task := s.newTask(device)
	s.tasks[device.ID] = task
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runDevice(ctx, task)
}

// runDevice is the per-device loop. Using a single goroutine per device
// guarantees its polls never overlap.
func (s *Scheduler) runDevice(ctx context.Context, task Task) {
	defer s.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		result := task.PollOnce(ctx)
		if errors.Is(result.Err, auth.ErrCredentialsRevoked) {
			s.halt()
			return
		}
		if ctx.Err() != nil {
			return
		}
		timer.Reset(s.nextInterval(result))
	}
}

// nextInterval derives the cadence from the cycle outcome: aggressive while
// online, sparse while asleep or unreachable, and exactly the limiter's
// retry-at hint after a rate-limit deferral.
func (s *Scheduler) nextInterval(result poller.Result) time.Duration {
	if result.Deferred {
		wait := time.Until(result.RetryAt)
		if wait < time.Second {
			wait = time.Second
		}
		return wait
	}

	switch result.State {
	case models.StateOnline, models.StateWaking, models.StateUnknown:
		return s.cfg.OnlineInterval
	default:
		return s.cfg.AsleepInterval
	}
}

// halt stops all polling for the account; the scrape endpoint keeps serving
// the last-known values.
func (s *Scheduler) halt() {
	s.haltOnce.Do(func() {
		s.log.Error("credentials revoked, halting all polling")
		close(s.halted)
	})
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
