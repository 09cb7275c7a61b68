package tesla

import "encoding/json"

// apiResponse is the Owner API envelope. Unknown fields are ignored so
// schema additions upstream never break decoding.
type apiResponse struct {
	Response json.RawMessage `json:"response"`
	Count    int             `json:"count"`
	Error    string          `json:"error"`
}

type accessTokenRequest struct {
	GrantType    string `json:"grant_type"`
	Scope        string `json:"scope"`
	ClientID     string `json:"client_id"`
	RefreshToken string `json:"refresh_token"`
}

type accessTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Vehicle is the lightweight record returned by the vehicle list and
// per-vehicle endpoints. Fetching it does not wake a sleeping vehicle.
type Vehicle struct {
	ID          int64  `json:"id"`
	VehicleID   int64  `json:"vehicle_id"`
	VIN         string `json:"vin"`
	DisplayName string `json:"display_name"`
	State       string `json:"state"`
	InService   bool   `json:"in_service"`
}

// Vehicle state strings reported by the upstream API.
const (
	VehicleStateOnline  = "online"
	VehicleStateAsleep  = "asleep"
	VehicleStateOffline = "offline"
)

// VehicleData is the full telemetry record. Requesting it resets the
// vehicle's sleep timer, so it must only be fetched from awake vehicles.
type VehicleData struct {
	Vehicle

	ChargeState ChargeState `json:"charge_state"`
	DriveState  DriveState  `json:"drive_state"`
	VehicleState struct {
		Odometer float64 `json:"odometer"` // miles
	} `json:"vehicle_state"`
}

type ChargeState struct {
	BatteryLevel      float64 `json:"battery_level"`
	ChargeEnergyAdded float64 `json:"charge_energy_added"` // kWh
	ChargeRate        float64 `json:"charge_rate"`
	ChargerPower      float64 `json:"charger_power"` // kW
	ChargePortLatch   string  `json:"charge_port_latch"`
	ChargingState     string  `json:"charging_state"`
	Timestamp         int64   `json:"timestamp"`
}

type DriveState struct {
	GpsAsOf   int64   `json:"gps_as_of"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Heading   float64 `json:"heading"`
	Timestamp int64   `json:"timestamp"`
}
