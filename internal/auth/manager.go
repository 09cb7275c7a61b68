package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/jarvishome/jarvis-tesla-exporter/internal/models"
	"github.com/jarvishome/jarvis-tesla-exporter/internal/tesla"
)

// ErrCredentialsRevoked is returned for every Token call after the upstream
// auth endpoint has rejected the refresh token. It is terminal until the
// exporter is reconfigured.
var ErrCredentialsRevoked = errors.New("credentials revoked, operator intervention required")

var refreshCount = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "jarvis_tesla",
		Subsystem: "auth",
		Name:      "token_refreshes_total",
		Help:      "Access token refresh attempts by result.",
	},
	[]string{"result"},
)

// Refresher exchanges a refresh token for a fresh token pair.
type Refresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (models.Token, error)
}

// Manager owns the account's token pair. It refreshes proactively when the
// cached token expires within the safety margin, and guarantees at most one
// in-flight refresh: concurrent callers await the same outcome.
type Manager struct {
	refresher Refresher
	margin    time.Duration
	now       func() time.Time

	mu           sync.Mutex
	refreshToken string
	token        models.Token
	refreshing   chan struct{}
	lastErr      error
	revoked      bool
}

func NewManager(refresher Refresher, refreshToken string, margin time.Duration) *Manager {
	return &Manager{
		refresher:    refresher,
		margin:       margin,
		now:          time.Now,
		refreshToken: refreshToken,
	}
}

// Token returns a token valid for at least the safety margin beyond now.
func (m *Manager) Token(ctx context.Context) (models.Token, error) {
	for {
		m.mu.Lock()
		if m.revoked {
			m.mu.Unlock()
			return models.Token{}, ErrCredentialsRevoked
		}
		if m.token.ValidFor(m.now(), m.margin) {
			token := m.token
			m.mu.Unlock()
			return token, nil
		}

		if m.refreshing != nil {
			// Another caller is already refreshing; wait for its outcome
			// and re-check instead of issuing a duplicate refresh.
			done := m.refreshing
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return models.Token{}, ctx.Err()
			case <-done:
			}

			m.mu.Lock()
			token, err := m.token, m.lastErr
			m.mu.Unlock()
			if err != nil {
				return models.Token{}, err
			}
			return token, nil
		}

		done := make(chan struct{})
		m.refreshing = done
		refreshToken := m.refreshToken
		m.mu.Unlock()

		token, err := m.refresher.RefreshToken(ctx, refreshToken)

		m.mu.Lock()
		m.lastErr = err
		m.refreshing = nil
		close(done)
		if err != nil {
			if errors.Is(err, tesla.ErrInvalidCredentials) {
				refreshCount.WithLabelValues("revoked").Inc()
				m.revoked = true
				m.lastErr = ErrCredentialsRevoked
				m.mu.Unlock()
				zap.S().Named("auth").Errorw("refresh token rejected, halting all polling", "error", err)
				return models.Token{}, ErrCredentialsRevoked
			}
			refreshCount.WithLabelValues("failure").Inc()
			m.mu.Unlock()
			zap.S().Named("auth").Warnw("token refresh failed", "error", err)
			return models.Token{}, err
		}

		refreshCount.WithLabelValues("success").Inc()
		m.token = token
		if token.RefreshToken != "" {
			// The auth endpoint may rotate the refresh token.
			m.refreshToken = token.RefreshToken
		}
		m.mu.Unlock()

		zap.S().Named("auth").Infow("access token refreshed", "expiresAt", token.ExpiresAt)
		return token, nil
	}
}

// Status reports credential health for the status API.
func (m *Manager) Status() models.CredentialStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := models.CredentialStatus{
		Valid:     m.token.ValidFor(m.now(), 0) && !m.revoked,
		ExpiresAt: m.token.ExpiresAt,
	}
	if m.lastErr != nil {
		status.Error = m.lastErr.Error()
	}
	return status
}

// Revoked reports whether the credential is terminally invalid.
func (m *Manager) Revoked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revoked
}
