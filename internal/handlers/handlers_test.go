package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	v1 "github.com/jarvishome/jarvis-tesla-exporter/api/v1"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/handlers"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/models"
)

type fakeLister struct {
	statuses []models.DeviceStatus
}

func (f *fakeLister) Statuses() []models.DeviceStatus { return f.statuses }

type fakeCredentials struct {
	status models.CredentialStatus
}

func (f *fakeCredentials) Status() models.CredentialStatus { return f.status }

var _ = Describe("Handlers", func() {
	var (
		lister      *fakeLister
		credentials *fakeCredentials
		router      *gin.Engine
	)

	BeforeEach(func() {
		lister = &fakeLister{}
		credentials = &fakeCredentials{status: models.CredentialStatus{Valid: true}}

		router = gin.New()
		v1.RegisterHandlers(router.Group("/api/v1"), handlers.New(lister, credentials))
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(rec, req)
		return rec
	}

	Describe("listing vehicles", func() {
		It("should return an empty list when nothing is tracked", func() {
			rec := get("/api/v1/vehicles")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`[]`))
		})

		It("should return every tracked vehicle's state", func() {
			lastSuccess := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
			lister.statuses = []models.DeviceStatus{
				{ID: "1", VIN: "5YJ3E1EA1KF000001", DisplayName: "Roadrunner", State: models.StateOnline, LastSuccess: lastSuccess},
				{ID: "2", State: models.StateAsleep, ConsecutiveFailures: 2},
			}

			rec := get("/api/v1/vehicles")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp []v1.VehicleStatus
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp).To(HaveLen(2))
			Expect(resp[0].ID).To(Equal("1"))
			Expect(resp[0].DisplayName).To(Equal("Roadrunner"))
			Expect(resp[0].State).To(Equal("online"))
			Expect(resp[0].LastSuccess).To(BeTemporally("==", lastSuccess))
			Expect(resp[1].State).To(Equal("asleep"))
			Expect(resp[1].ConsecutiveFailures).To(Equal(2))
		})
	})

	Describe("exporter status", func() {
		It("should count vehicles by state and report credential health", func() {
			lister.statuses = []models.DeviceStatus{
				{ID: "1", State: models.StateOnline},
				{ID: "2", State: models.StateOnline},
				{ID: "3", State: models.StateAsleep},
			}

			rec := get("/api/v1/status")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp v1.ExporterStatus
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Credentials.Valid).To(BeTrue())
			Expect(resp.Vehicles).To(HaveKeyWithValue("online", 2))
			Expect(resp.Vehicles).To(HaveKeyWithValue("asleep", 1))
		})

		It("should surface revoked credentials", func() {
			credentials.status = models.CredentialStatus{Valid: false, Error: "refresh token rejected by auth endpoint"}

			rec := get("/api/v1/status")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var resp v1.ExporterStatus
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Credentials.Valid).To(BeFalse())
			Expect(resp.Credentials.Error).To(ContainSubstring("rejected"))
		})
	})
})
