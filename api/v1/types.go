package v1

import (
	"time"

	"github.com/jarvishome/jarvis-tesla-exporter/internal/models"
)

// VehicleStatus is the API view of one tracked vehicle.
type VehicleStatus struct {
	ID                  string    `json:"id"`
	VIN                 string    `json:"vin,omitempty"`
	DisplayName         string    `json:"displayName,omitempty"`
	State               string    `json:"state"`
	LastSuccess         time.Time `json:"lastSuccess,omitempty"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
}

func (v *VehicleStatus) FromModel(m models.DeviceStatus) {
	v.ID = m.ID
	v.VIN = m.VIN
	v.DisplayName = m.DisplayName
	v.State = string(m.State)
	v.LastSuccess = m.LastSuccess
	v.ConsecutiveFailures = m.ConsecutiveFailures
}

// ExporterStatus summarizes the engine for operators.
type ExporterStatus struct {
	Credentials CredentialStatus `json:"credentials"`
	Vehicles    map[string]int   `json:"vehiclesByState"`
}

type CredentialStatus struct {
	Valid     bool      `json:"valid"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func (s *CredentialStatus) FromModel(m models.CredentialStatus) {
	s.Valid = m.Valid
	s.ExpiresAt = m.ExpiresAt
	s.Error = m.Error
}
