// Package session implements the Session Manager: it owns the bearer
// tokens used by every authenticated call, decodes their expiry from the
// JWT payload, refreshes proactively ahead of expiry, and transparently
// re-authenticates when the server rejects a token as invalid.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/littleironwaltz/moderation-agent/internal/transport"
)

// Credentials identifies the account the agent authenticates as. Immutable
// for the process lifetime.
type Credentials struct {
	Identifier string
	Password   string
}

// tokens holds the opaque access/refresh pair and their decoded expiry
// instants.
type tokens struct {
	access        string
	refresh       string
	accessExpiry  time.Time
	refreshExpiry time.Time
}

// Manager implements the state machine:
// unauth → authed → (refresh ⇄ authed) → unauth.
// Re-entry to unauth happens only when a refresh call reports the server's
// invalid-token error, which triggers an immediate reconnect.
type Manager struct {
	transport *transport.Client
	logger    *slog.Logger
	buffer    time.Duration

	mu     sync.RWMutex
	toks   tokens
	creds  Credentials

	// refreshMu serializes refresh/reconnect attempts so concurrent writers
	// calling CheckRefresh don't each independently refresh.
	refreshMu sync.Mutex
}

// sessionResponse is the shape returned by createSession / refreshSession.
type sessionResponse struct {
	AccessJWT  string `json:"accessJwt"`
	RefreshJWT string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
}

// claims is the minimal JWT payload the agent needs: the expiry instant.
type claims struct {
	Exp int64 `json:"exp"`
}

// New constructs a Manager that borrows transport for its own login and
// refresh calls; it never borrows the Client Facade.
func New(t *transport.Client, refreshBuffer time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		transport: t,
		logger:    logger,
		buffer:    refreshBuffer,
	}
}

// Connect authenticates with credentials via createSession, decoding both
// tokens' expiry instants. Failure here is fatal and propagates.
func (m *Manager) Connect(ctx context.Context, creds Credentials) error {
	var resp sessionResponse
	err := m.transport.Do(ctx, "com.atproto.server.createSession", map[string]string{
		"identifier": creds.Identifier,
		"password":   creds.Password,
	}, &resp, transport.Options{NoLogBody: true})
	if err != nil {
		return fmt.Errorf("session: connect failed: %w", err)
	}

	accessExpiry, err := decodeExpiry(resp.AccessJWT)
	if err != nil {
		return fmt.Errorf("session: decode access token: %w", err)
	}
	refreshExpiry, err := decodeExpiry(resp.RefreshJWT)
	if err != nil {
		return fmt.Errorf("session: decode refresh token: %w", err)
	}

	m.mu.Lock()
	m.creds = creds
	m.toks = tokens{
		access:        resp.AccessJWT,
		refresh:       resp.RefreshJWT,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}
	m.mu.Unlock()

	m.logger.Info("session established", "did", resp.DID, "handle", resp.Handle)
	return nil
}

// CheckRefresh is invoked before every write call. If the access token has
// already expired, or time-to-expiry is below the configured buffer, it
// refreshes (or fully reconnects, on an invalid-token rejection) before
// returning.
func (m *Manager) CheckRefresh(ctx context.Context) error {
	m.mu.RLock()
	expiry := m.toks.accessExpiry
	creds := m.creds
	m.mu.RUnlock()

	now := time.Now()
	if now.Before(expiry) && expiry.Sub(now) >= m.buffer {
		return nil
	}

	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	// Re-check under the refresh lock: another goroutine may have already
	// refreshed while we waited.
	m.mu.RLock()
	expiry = m.toks.accessExpiry
	m.mu.RUnlock()
	now = time.Now()
	if now.Before(expiry) && expiry.Sub(now) >= m.buffer {
		return nil
	}

	var resp sessionResponse
	err := m.transport.Do(ctx, "com.atproto.server.refreshSession", nil, &resp, transport.Options{Bearer: transport.BearerRefresh})
	if err != nil {
		if httpErr, ok := err.(*transport.HTTPError); ok && httpErr.IsInvalidToken() {
			m.logger.Warn("refresh token rejected, reconnecting", "identifier", creds.Identifier)
			return m.Connect(ctx, creds)
		}
		return fmt.Errorf("session: refresh failed: %w", err)
	}

	accessExpiry, err := decodeExpiry(resp.AccessJWT)
	if err != nil {
		return fmt.Errorf("session: decode refreshed access token: %w", err)
	}
	refreshExpiry, err := decodeExpiry(resp.RefreshJWT)
	if err != nil {
		return fmt.Errorf("session: decode refreshed refresh token: %w", err)
	}

	m.mu.Lock()
	m.toks = tokens{
		access:        resp.AccessJWT,
		refresh:       resp.RefreshJWT,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}
	m.mu.Unlock()

	m.logger.Debug("session refreshed")
	return nil
}

// IsReady reports whether a session has been established at least once.
// The Client Facade gates every emission and record write on this before
// attempting a call; emissions attempted before readiness are logged and
// dropped.
func (m *Manager) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.toks.access != ""
}

// AccessToken returns the current access token. Used by the transport for
// every Bearer-access call; callers do not hold the internal lock.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.toks.access
}

// RefreshToken returns the current refresh token; used only by CheckRefresh's
// own refreshSession call.
func (m *Manager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.toks.refresh
}

// decodeExpiry extracts the "exp" claim from a JWT without verifying its
// signature — the agent trusts tokens it just received from the PDS over
// TLS, it isn't validating a third party's token.
func decodeExpiry(token string) (time.Time, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("session: malformed JWT (expected 3 segments, got %d)", len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("session: decode JWT payload: %w", err)
	}

	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return time.Time{}, fmt.Errorf("session: parse JWT claims: %w", err)
	}
	if c.Exp == 0 {
		return time.Time{}, fmt.Errorf("session: JWT missing exp claim")
	}

	return time.Unix(c.Exp, 0), nil
}
