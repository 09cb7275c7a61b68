package tesla_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jarvishome/jarvis-tesla-exporter/internal/tesla"
)

// fakeOwnerAPI serves canned responses per path, recording the requests it
// receives.
type fakeOwnerAPI struct {
	mu        sync.Mutex
	responses map[string]response
	requests  []*http.Request
	bodies    [][]byte
}

type response struct {
	code int
	body string
}

func newFakeOwnerAPI() *fakeOwnerAPI {
	return &fakeOwnerAPI{responses: make(map[string]response)}
}

func (f *fakeOwnerAPI) respond(path string, code int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[path] = response{code: code, body: body}
}

func (f *fakeOwnerAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Clone(context.Background()))
	body, _ := io.ReadAll(r.Body)
	f.bodies = append(f.bodies, body)
	resp, ok := f.responses[r.URL.Path]
	f.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(resp.code)
	_, _ = w.Write([]byte(resp.body))
}

func (f *fakeOwnerAPI) lastRequest() *http.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeOwnerAPI) lastBody() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[len(f.bodies)-1]
}

var _ = Describe("Client", func() {
	var (
		fake   *fakeOwnerAPI
		srv    *httptest.Server
		client *tesla.Client
		ctx    context.Context
	)

	BeforeEach(func() {
		fake = newFakeOwnerAPI()
		srv = httptest.NewServer(fake)
		client = tesla.NewClient(srv.URL, srv.URL+"/oauth2/v3/token", 5*time.Second)
		ctx = context.Background()
	})

	AfterEach(func() {
		srv.Close()
	})

	Describe("refreshing the access token", func() {
		It("should exchange the refresh token and compute the expiry", func() {
			fake.respond("/oauth2/v3/token", http.StatusOK,
				`{"access_token":"at-1","refresh_token":"rt-2","token_type":"bearer","expires_in":3600}`)

			before := time.Now()
			token, err := client.RefreshToken(ctx, "rt-1")
			Expect(err).NotTo(HaveOccurred())

			Expect(token.AccessToken).To(Equal("at-1"))
			Expect(token.RefreshToken).To(Equal("rt-2"))
			Expect(token.ExpiresAt).To(BeTemporally("~", before.Add(time.Hour), time.Minute))

			var body map[string]string
			Expect(json.Unmarshal(fake.lastBody(), &body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("grant_type", "refresh_token"))
			Expect(body).To(HaveKeyWithValue("client_id", "ownerapi"))
			Expect(body).To(HaveKeyWithValue("refresh_token", "rt-1"))
		})

		It("should report rejected credentials as terminal", func() {
			fake.respond("/oauth2/v3/token", http.StatusUnauthorized, `{"error":"invalid_grant"}`)

			_, err := client.RefreshToken(ctx, "rt-revoked")
			Expect(err).To(MatchError(tesla.ErrInvalidCredentials))
			Expect(tesla.IsTransient(err)).To(BeFalse())
		})

		It("should treat upstream outages as transient", func() {
			fake.respond("/oauth2/v3/token", http.StatusServiceUnavailable, ``)

			_, err := client.RefreshToken(ctx, "rt-1")
			Expect(err).To(HaveOccurred())
			Expect(tesla.IsTransient(err)).To(BeTrue())
		})

		It("should reject a response without an access token", func() {
			fake.respond("/oauth2/v3/token", http.StatusOK, `{"token_type":"bearer"}`)

			_, err := client.RefreshToken(ctx, "rt-1")
			var decodeErr *tesla.DecodeError
			Expect(err).To(BeAssignableToTypeOf(decodeErr))
		})
	})

	Describe("listing vehicles", func() {
		It("should unwrap the response envelope", func() {
			fake.respond("/api/1/vehicles", http.StatusOK,
				`{"response":[{"id":42,"vin":"5YJ3E1EA1KF000001","display_name":"Roadrunner","state":"online"}],"count":1}`)

			vehicles, err := client.ListVehicles(ctx, "at-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(vehicles).To(HaveLen(1))
			Expect(vehicles[0].ID).To(Equal(int64(42)))
			Expect(vehicles[0].VIN).To(Equal("5YJ3E1EA1KF000001"))
			Expect(vehicles[0].State).To(Equal(tesla.VehicleStateOnline))

			Expect(fake.lastRequest().Header.Get("Authorization")).To(Equal("Bearer at-1"))
		})

		It("should fail on a missing response field without being transient", func() {
			fake.respond("/api/1/vehicles", http.StatusOK, `{"count":0}`)

			_, err := client.ListVehicles(ctx, "at-1")
			var decodeErr *tesla.DecodeError
			Expect(err).To(BeAssignableToTypeOf(decodeErr))
			Expect(tesla.IsTransient(err)).To(BeFalse())
		})

		It("should surface the envelope's error string", func() {
			fake.respond("/api/1/vehicles", http.StatusOK, `{"error":"account locked"}`)

			_, err := client.ListVehicles(ctx, "at-1")
			Expect(err).To(MatchError(ContainSubstring("account locked")))
		})
	})

	Describe("fetching a single vehicle", func() {
		It("should report the vehicle state without waking it", func() {
			fake.respond("/api/1/vehicles/42", http.StatusOK,
				`{"response":{"id":42,"state":"asleep","in_service":false}}`)

			v, err := client.GetVehicle(ctx, "at-1", "42")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.State).To(Equal(tesla.VehicleStateAsleep))
			Expect(fake.lastRequest().Method).To(Equal(http.MethodGet))
		})

		It("should classify throttling as transient", func() {
			fake.respond("/api/1/vehicles/42", http.StatusTooManyRequests, ``)

			_, err := client.GetVehicle(ctx, "at-1", "42")
			Expect(tesla.IsTransient(err)).To(BeTrue())
		})

		It("should classify an expired access token as transient", func() {
			fake.respond("/api/1/vehicles/42", http.StatusUnauthorized, ``)

			_, err := client.GetVehicle(ctx, "at-1", "42")
			Expect(tesla.IsTransient(err)).To(BeTrue())
		})

		It("should not retry client errors", func() {
			fake.respond("/api/1/vehicles/42", http.StatusNotFound, ``)

			_, err := client.GetVehicle(ctx, "at-1", "42")
			var statusErr *tesla.StatusError
			Expect(err).To(BeAssignableToTypeOf(statusErr))
			Expect(tesla.IsTransient(err)).To(BeFalse())
		})
	})

	Describe("fetching telemetry", func() {
		It("should decode the nested charge, drive and vehicle state", func() {
			fake.respond("/api/1/vehicles/42/vehicle_data", http.StatusOK, `{
				"response": {
					"id": 42,
					"display_name": "Roadrunner",
					"state": "online",
					"charge_state": {
						"battery_level": 72,
						"charge_energy_added": 12.5,
						"charger_power": 11,
						"charge_port_latch": "Engaged",
						"charging_state": "Charging"
					},
					"drive_state": {"latitude": 52.1, "longitude": 4.3},
					"vehicle_state": {"odometer": 12345.6}
				}
			}`)

			vd, err := client.GetVehicleData(ctx, "at-1", "42")
			Expect(err).NotTo(HaveOccurred())
			Expect(vd.ChargeState.BatteryLevel).To(Equal(72.0))
			Expect(vd.ChargeState.ChargeEnergyAdded).To(Equal(12.5))
			Expect(vd.ChargeState.ChargerPower).To(Equal(11.0))
			Expect(vd.ChargeState.ChargePortLatch).To(Equal("Engaged"))
			Expect(vd.DriveState.Latitude).To(Equal(52.1))
			Expect(vd.VehicleState.Odometer).To(Equal(12345.6))
		})

		It("should surface malformed payloads as decode errors", func() {
			fake.respond("/api/1/vehicles/42/vehicle_data", http.StatusOK, `{"response": "not an object"}`)

			_, err := client.GetVehicleData(ctx, "at-1", "42")
			var decodeErr *tesla.DecodeError
			Expect(err).To(BeAssignableToTypeOf(decodeErr))
		})
	})

	Describe("waking a vehicle", func() {
		It("should issue a POST and decode the resulting state", func() {
			fake.respond("/api/1/vehicles/42/wake_up", http.StatusOK,
				`{"response":{"id":42,"state":"online"}}`)

			v, err := client.WakeVehicle(ctx, "at-1", "42")
			Expect(err).NotTo(HaveOccurred())
			Expect(v.State).To(Equal(tesla.VehicleStateOnline))
			Expect(fake.lastRequest().Method).To(Equal(http.MethodPost))
		})
	})

	It("should classify unreachable hosts as transient", func() {
		srv.Close()

		_, err := client.ListVehicles(ctx, "at-1")
		Expect(err).To(HaveOccurred())
		Expect(tesla.IsTransient(err)).To(BeTrue())
	})
})
