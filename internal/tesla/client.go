package tesla

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jarvishome/jarvis-tesla-exporter/internal/models"
)

const (
	DefaultTokenURL = "https://auth.tesla.com/oauth2/v3/token"
	DefaultBaseURL  = "https://owner-api.teslamotors.com"

	oauthClientID = "ownerapi"
	oauthScope    = "openid email offline_access"
)

// Client talks to the Tesla Owner API. It is stateless: tokens are supplied
// per call by the credential manager.
type Client struct {
	tokenURL string
	baseURL  string
	http     *http.Client
}

func NewClient(baseURL, tokenURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &Client{
		tokenURL: tokenURL,
		baseURL:  baseURL,
		http:     &http.Client{Timeout: timeout},
	}
}

// RefreshToken exchanges the refresh token for a fresh access token.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (models.Token, error) {
	body, err := json.Marshal(accessTokenRequest{
		GrantType:    "refresh_token",
		Scope:        oauthScope,
		ClientID:     oauthClientID,
		RefreshToken: refreshToken,
	})
	if err != nil {
		return models.Token{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, bytes.NewReader(body))
	if err != nil {
		return models.Token{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	zap.S().Named("tesla").Debugw("refreshing access token", "url", c.tokenURL)

	resp, err := c.http.Do(req)
	if err != nil {
		apiRequestCount.WithLabelValues("token", "error").Inc()
		return models.Token{}, &TransientError{Err: err}
	}
	defer resp.Body.Close()
	apiRequestCount.WithLabelValues("token", strconv.Itoa(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return models.Token{}, ErrInvalidCredentials
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return models.Token{}, &TransientError{Err: &StatusError{Endpoint: "token", Code: resp.StatusCode}}
	case resp.StatusCode != http.StatusOK:
		return models.Token{}, &StatusError{Endpoint: "token", Code: resp.StatusCode}
	}

	var tr accessTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return models.Token{}, &DecodeError{Endpoint: "token", Err: err}
	}
	if tr.AccessToken == "" {
		return models.Token{}, &DecodeError{Endpoint: "token", Err: fmt.Errorf("empty access_token")}
	}

	return models.Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// ListVehicles returns all vehicles on the account.
func (c *Client) ListVehicles(ctx context.Context, accessToken string) ([]Vehicle, error) {
	raw, err := c.get(ctx, accessToken, "vehicles", c.baseURL+"/api/1/vehicles")
	if err != nil {
		return nil, err
	}

	var vehicles []Vehicle
	if err := json.Unmarshal(raw, &vehicles); err != nil {
		return nil, &DecodeError{Endpoint: "vehicles", Err: err}
	}
	return vehicles, nil
}

// GetVehicle is the lightweight presence check: it reports the vehicle's
// state without waking it.
func (c *Client) GetVehicle(ctx context.Context, accessToken, id string) (Vehicle, error) {
	raw, err := c.get(ctx, accessToken, "vehicle", fmt.Sprintf("%s/api/1/vehicles/%s", c.baseURL, id))
	if err != nil {
		return Vehicle{}, err
	}

	var v Vehicle
	if err := json.Unmarshal(raw, &v); err != nil {
		return Vehicle{}, &DecodeError{Endpoint: "vehicle", Err: err}
	}
	return v, nil
}

// GetVehicleData fetches full telemetry. This resets the vehicle's sleep
// timer and must only be issued against an awake vehicle.
func (c *Client) GetVehicleData(ctx context.Context, accessToken, id string) (VehicleData, error) {
	raw, err := c.get(ctx, accessToken, "vehicle_data", fmt.Sprintf("%s/api/1/vehicles/%s/vehicle_data", c.baseURL, id))
	if err != nil {
		return VehicleData{}, err
	}

	var vd VehicleData
	if err := json.Unmarshal(raw, &vd); err != nil {
		return VehicleData{}, &DecodeError{Endpoint: "vehicle_data", Err: err}
	}
	return vd, nil
}

// WakeVehicle asks the vehicle to come online. Only ever called under the
// scheduled wake policy.
func (c *Client) WakeVehicle(ctx context.Context, accessToken, id string) (Vehicle, error) {
	url := fmt.Sprintf("%s/api/1/vehicles/%s/wake_up", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return Vehicle{}, err
	}

	raw, err := c.do(req, accessToken, "wake_up")
	if err != nil {
		return Vehicle{}, err
	}

	var v Vehicle
	if err := json.Unmarshal(raw, &v); err != nil {
		return Vehicle{}, &DecodeError{Endpoint: "wake_up", Err: err}
	}
	return v, nil
}

func (c *Client) get(ctx context.Context, accessToken, endpoint, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, accessToken, endpoint)
}

func (c *Client) do(req *http.Request, accessToken, endpoint string) (json.RawMessage, error) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	zap.S().Named("tesla").Debugw("upstream request", "method", req.Method, "url", req.URL.String())

	resp, err := c.http.Do(req)
	if err != nil {
		apiRequestCount.WithLabelValues(endpoint, "error").Inc()
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()
	apiRequestCount.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		// 401 means the access token aged out mid-cycle; the credential
		// manager refreshes it on the next call, so treat it as transient.
		return nil, &TransientError{Err: &StatusError{Endpoint: endpoint, Code: resp.StatusCode}}
	default:
		return nil, &StatusError{Endpoint: endpoint, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	var envelope apiResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &DecodeError{Endpoint: endpoint, Err: err}
	}
	if envelope.Response == nil {
		if envelope.Error != "" {
			return nil, &DecodeError{Endpoint: endpoint, Err: fmt.Errorf("upstream error: %s", envelope.Error)}
		}
		return nil, &DecodeError{Endpoint: endpoint, Err: fmt.Errorf("missing response field")}
	}
	return envelope.Response, nil
}
