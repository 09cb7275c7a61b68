package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/jarvishome/jarvis-tesla-exporter/api/v1"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/models"
)

// DeviceLister exposes the scheduler's tracked device states.
type DeviceLister interface {
	Statuses() []models.DeviceStatus
}

// CredentialReporter exposes credential health.
type CredentialReporter interface {
	Status() models.CredentialStatus
}

type Handler struct {
	devices     DeviceLister
	credentials CredentialReporter
}

func New(devices DeviceLister, credentials CredentialReporter) *Handler {
	return &Handler{devices: devices, credentials: credentials}
}

// ListVehicles returns the tracked vehicles and their lifecycle states
// (GET /vehicles)
func (h *Handler) ListVehicles(c *gin.Context) {
	statuses := h.devices.Statuses()

	resp := make([]v1.VehicleStatus, len(statuses))
	for i, status := range statuses {
		resp[i].FromModel(status)
	}
	c.JSON(http.StatusOK, resp)
}

// GetStatus returns credential health and device counts by state
// (GET /status)
func (h *Handler) GetStatus(c *gin.Context) {
	var resp v1.ExporterStatus
	resp.Credentials.FromModel(h.credentials.Status())

	resp.Vehicles = make(map[string]int)
	for _, status := range h.devices.Statuses() {
		resp.Vehicles[string(status.State)]++
	}
	c.JSON(http.StatusOK, resp)
}
