package config_test

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jarvishome/jarvis-tesla-exporter/internal/config"
)

var _ = Describe("LoadExporter", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	write := func(content string) string {
		path := filepath.Join(dir, "exporter.yaml")
		Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
		return path
	}

	It("should fill defaults for everything but the refresh token", func() {
		cfg, err := config.LoadExporter(write(`
auth:
  refreshToken: rt-1
`))
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Location).To(Equal("Other"))
		Expect(cfg.WakePolicy).To(Equal("never"))
		Expect(cfg.StalenessMode).To(Equal("flag"))
		Expect(cfg.Auth.SafetyMargin).To(Equal(30 * time.Second))
		Expect(cfg.API.Timeout).To(Equal(10 * time.Second))
		Expect(cfg.Poll.OnlineInterval).To(Equal(30 * time.Second))
		Expect(cfg.Poll.AsleepInterval).To(Equal(time.Minute))
		Expect(cfg.Poll.PresenceCheckEvery).To(Equal(15))
		Expect(cfg.Poll.FailureThreshold).To(Equal(3))
		Expect(cfg.Poll.StaleAfter).To(Equal(5 * time.Minute))
		Expect(cfg.Poll.DiscoveryInterval).To(Equal(15 * time.Minute))
		Expect(cfg.Poll.UnreachableBackoff.Initial).To(Equal(time.Minute))
		Expect(cfg.Poll.UnreachableBackoff.Max).To(Equal(30 * time.Minute))
		Expect(cfg.RateLimits.Telemetry.Capacity).To(Equal(10))
		Expect(cfg.RateLimits.Wake.Capacity).To(Equal(2))
		Expect(cfg.RateLimits.Wake.RefillInterval).To(Equal(5 * time.Minute))
	})

	It("should keep explicit values over defaults", func() {
		cfg, err := config.LoadExporter(write(`
location: Garage
auth:
  refreshToken: rt-1
  safetyMargin: 2m
vehicles: ["12345"]
geofences:
  - location: Home
    latitude: 52.1
    longitude: 4.3
poll:
  onlineInterval: 10s
  presenceCheckEvery: 4
wakePolicy: scheduled
stalenessMode: omit
rateLimits:
  telemetry:
    capacity: 5
    refillInterval: 12s
`))
		Expect(err).NotTo(HaveOccurred())

		Expect(cfg.Location).To(Equal("Garage"))
		Expect(cfg.Auth.SafetyMargin).To(Equal(2 * time.Minute))
		Expect(cfg.Vehicles).To(Equal([]string{"12345"}))
		Expect(cfg.WakePolicy).To(Equal("scheduled"))
		Expect(cfg.StalenessMode).To(Equal("omit"))
		Expect(cfg.Poll.OnlineInterval).To(Equal(10 * time.Second))
		Expect(cfg.Poll.PresenceCheckEvery).To(Equal(4))
		Expect(cfg.RateLimits.Telemetry).To(Equal(config.RateBudget{
			Capacity:       5,
			RefillInterval: 12 * time.Second,
		}))

		Expect(cfg.Geofences).To(HaveLen(1))
		Expect(cfg.Geofences[0].Location).To(Equal("Home"))
		Expect(cfg.Geofences[0].RadiusMeters).To(Equal(100.0))
	})

	It("should fail when the file does not exist", func() {
		_, err := config.LoadExporter(filepath.Join(dir, "missing.yaml"))
		Expect(err).To(MatchError(ContainSubstring("reading config file")))
	})

	It("should fail on malformed YAML", func() {
		_, err := config.LoadExporter(write(`auth: [`))
		Expect(err).To(MatchError(ContainSubstring("parsing config file")))
	})

	DescribeTable("rejecting invalid configurations",
		func(content, fragment string) {
			_, err := config.LoadExporter(write(content))
			Expect(err).To(MatchError(ContainSubstring(fragment)))
		},
		Entry("missing refresh token",
			`location: Garage`,
			"auth.refreshToken must be set"),
		Entry("unknown wake policy",
			"auth: {refreshToken: rt-1}\nwakePolicy: aggressive",
			"invalid wakePolicy"),
		Entry("unknown staleness mode",
			"auth: {refreshToken: rt-1}\nstalenessMode: hide",
			"invalid stalenessMode"),
		Entry("negative online interval",
			"auth: {refreshToken: rt-1}\npoll: {onlineInterval: -5s}",
			"poll.onlineInterval must be positive"),
		Entry("negative presence cadence",
			"auth: {refreshToken: rt-1}\npoll: {presenceCheckEvery: -1}",
			"poll.presenceCheckEvery must be at least 1"),
		Entry("geofence without a name",
			"auth: {refreshToken: rt-1}\ngeofences: [{latitude: 1, longitude: 2}]",
			"location must be set"),
		Entry("geofence with a negative radius",
			"auth: {refreshToken: rt-1}\ngeofences: [{location: Home, radiusMeters: -5}]",
			"radiusMeters must be positive"),
		Entry("wake budget without a refill interval",
			"auth: {refreshToken: rt-1}\nrateLimits: {wake: {capacity: 2}}",
			"rateLimits.wake.refillInterval must be positive"),
	)

	It("should mask the refresh token in the debug map", func() {
		cfg, err := config.LoadExporter(write("auth: {refreshToken: rt-secret}"))
		Expect(err).NotTo(HaveOccurred())

		debug := cfg.DebugMap()
		Expect(debug["refresh-token"]).To(Equal("(masked)"))
		for _, v := range debug {
			Expect(v).NotTo(Equal("rt-secret"))
		}
	})
})
