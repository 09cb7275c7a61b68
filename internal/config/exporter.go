package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Exporter is the domain configuration, loaded once at startup from YAML.
type Exporter struct {
	// Location is the label used when a vehicle matches no geofence.
	Location string `yaml:"location" default:"Other" debugmap:"visible"`

	Auth       Auth       `yaml:"auth"`
	API        API        `yaml:"api"`
	Vehicles   []string   `yaml:"vehicles" debugmap:"visible"`
	Geofences  []Geofence `yaml:"geofences"`
	Poll       Poll       `yaml:"poll"`
	WakePolicy string     `yaml:"wakePolicy" default:"never" debugmap:"visible"`
	// StalenessMode controls how stale entries are scraped: "flag" keeps the
	// last-known values alongside an explicit staleness metric, "omit" drops
	// the value metrics and keeps availability alongside the staleness
	// marker.
	StalenessMode string `yaml:"stalenessMode" default:"flag" debugmap:"visible"`

	RateLimits RateLimits `yaml:"rateLimits"`
}

type Auth struct {
	RefreshToken string        `yaml:"refreshToken" debugmap:"sensitive"`
	TokenURL     string        `yaml:"tokenURL" debugmap:"visible"`
	SafetyMargin time.Duration `yaml:"safetyMargin" default:"30s" debugmap:"visible"`
}

type API struct {
	BaseURL string        `yaml:"baseURL" debugmap:"visible"`
	Timeout time.Duration `yaml:"timeout" default:"10s" debugmap:"visible"`
}

type Geofence struct {
	Location     string  `yaml:"location"`
	Latitude     float64 `yaml:"latitude"`
	Longitude    float64 `yaml:"longitude"`
	RadiusMeters float64 `yaml:"radiusMeters" default:"100"`
}

type Poll struct {
	OnlineInterval time.Duration `yaml:"onlineInterval" default:"30s" debugmap:"visible"`
	AsleepInterval time.Duration `yaml:"asleepInterval" default:"1m" debugmap:"visible"`
	// PresenceCheckEvery is the number of asleep cycles between presence
	// checks; intermediate cycles are skipped entirely.
	PresenceCheckEvery int           `yaml:"presenceCheckEvery" default:"15" debugmap:"visible"`
	FailureThreshold   int           `yaml:"failureThreshold" default:"3" debugmap:"visible"`
	StaleAfter         time.Duration `yaml:"staleAfter" default:"5m" debugmap:"visible"`
	// DiscoveryInterval drives account-level vehicle list refreshes.
	DiscoveryInterval time.Duration `yaml:"discoveryInterval" default:"15m" debugmap:"visible"`

	UnreachableBackoff Backoff `yaml:"unreachableBackoff"`
}

type Backoff struct {
	Initial time.Duration `yaml:"initial" default:"1m"`
	Max     time.Duration `yaml:"max" default:"30m"`
}

type RateLimits struct {
	Telemetry RateBudget `yaml:"telemetry"`
	Wake      RateBudget `yaml:"wake"`
}

type RateBudget struct {
	Capacity       int           `yaml:"capacity"`
	RefillInterval time.Duration `yaml:"refillInterval"`
}

// LoadExporter reads, defaults and validates the exporter configuration.
func LoadExporter(path string) (*Exporter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Exporter
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, err
	}
	applyRateLimitDefaults(&cfg.RateLimits)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyRateLimitDefaults keeps the wake budget strict and the telemetry
// budget generous when the file omits them.
func applyRateLimitDefaults(rl *RateLimits) {
	if rl.Telemetry.Capacity == 0 {
		rl.Telemetry = RateBudget{Capacity: 10, RefillInterval: 6 * time.Second}
	}
	if rl.Wake.Capacity == 0 {
		rl.Wake = RateBudget{Capacity: 2, RefillInterval: 5 * time.Minute}
	}
}

// DebugMap returns the settings for startup logging, with secrets masked.
func (e *Exporter) DebugMap() map[string]any {
	token := "(not set)"
	if e.Auth.RefreshToken != "" {
		token = "(masked)"
	}
	return map[string]any{
		"location":       e.Location,
		"refresh-token":  token,
		"vehicles":       len(e.Vehicles),
		"geofences":      len(e.Geofences),
		"wake-policy":    e.WakePolicy,
		"staleness-mode": e.StalenessMode,
		"online-every":   e.Poll.OnlineInterval,
		"asleep-every":   e.Poll.AsleepInterval,
		"stale-after":    e.Poll.StaleAfter,
	}
}
