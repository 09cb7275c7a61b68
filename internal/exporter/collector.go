package exporter

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jarvishome/jarvis-tesla-exporter/internal/cache"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/models"
)

// StalenessMode controls how entries older than the freshness threshold are
// rendered on the scrape endpoint.
type StalenessMode string

const (
	// StalenessModeFlag keeps the last-known values and flags them stale.
	StalenessModeFlag StalenessMode = "flag"
	// StalenessModeOmit drops the value metrics for stale entries, keeping
	// the availability gauge, the staleness marker and the last-poll
	// timestamp.
	StalenessModeOmit StalenessMode = "omit"
)

var vehicleLabels = []string{"id", "name", "vin", "location"}

// Collector renders the metric cache's current snapshots in exposition
// format. It reads the cache only, never the network, so scrapes are fully
// decoupled from poll timing and always answer.
type Collector struct {
	cache *cache.Cache
	mode  StalenessMode

	staleDesc    *prometheus.Desc
	lastPollDesc *prometheus.Desc

	mu    sync.Mutex
	descs map[string]*prometheus.Desc
}

func NewCollector(c *cache.Cache, mode StalenessMode) *Collector {
	return &Collector{
		cache: c,
		mode:  mode,
		staleDesc: prometheus.NewDesc(
			"jarvis_tesla_data_stale",
			"Whether the vehicle's cached values exceeded the freshness threshold.",
			vehicleLabels, nil,
		),
		lastPollDesc: prometheus.NewDesc(
			"jarvis_tesla_last_poll_timestamp_seconds",
			"Unix time of the vehicle's last successful poll.",
			vehicleLabels, nil,
		),
		descs: make(map[string]*prometheus.Desc),
	}
}

// Describe sends nothing: the metric set is driven by whatever points the
// pollers publish, so the collector registers as unchecked and scrapes keep
// answering whichever points a snapshot carries.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, entry := range c.cache.All() {
		s := entry.Snapshot
		labels := []string{s.DeviceID, s.DisplayName, s.VIN, s.Location}

		stale := 0.0
		if entry.Stale {
			stale = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.staleDesc, prometheus.GaugeValue, stale, labels...)
		ch <- prometheus.MustNewConstMetric(c.lastPollDesc, prometheus.GaugeValue, float64(s.CapturedAt.Unix()), labels...)

		for _, point := range s.Points {
			if entry.Stale && c.mode == StalenessModeOmit && point.Name != models.MetricAvailability {
				continue
			}
			ch <- prometheus.MustNewConstMetric(c.desc(point), valueType(point.Kind), point.Value, labels...)
		}
	}
}

func (c *Collector) desc(point models.MetricPoint) *prometheus.Desc {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.descs[point.Name]; ok {
		return d
	}
	d := prometheus.NewDesc(point.Name, point.Help, vehicleLabels, nil)
	c.descs[point.Name] = d
	return d
}

func valueType(kind models.MetricKind) prometheus.ValueType {
	if kind == models.MetricKindCounter {
		return prometheus.CounterValue
	}
	return prometheus.GaugeValue
}
