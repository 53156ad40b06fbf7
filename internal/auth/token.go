// Package auth obtains and caches access tokens from OpenID Connect password-grant endpoints.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/OceanOptics/getOC/internal/provider/resilience"
)

// Predefined authentication errors.
var (
	// ErrInvalidCredentials is returned when the login endpoint rejects the username or password.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTokenExpired is returned when a backend reports an expired token.
	ErrTokenExpired = errors.New("token expired")

	// ErrNoAccessToken is returned when the login response carries no access token.
	ErrNoAccessToken = errors.New("login response has no access token")
)

// DefaultExpirySkew is subtracted from the token expiry so a token is renewed
// before it can expire in flight.
const DefaultExpirySkew = 60 * time.Second

// HTTPDoer is an interface for making HTTP requests.
// Both *http.Client and *resilience.Client satisfy this interface.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// TokenSourceConfig holds configuration for a password-grant token source.
type TokenSourceConfig struct {
	// TokenURL is the OpenID Connect token endpoint.
	TokenURL string

	// ClientID is the public client registered with the identity provider.
	ClientID string

	Username string
	Password string

	// HTTPClient is an optional custom HTTP client.
	// If nil, a resilient client with circuit breaker is used.
	HTTPClient HTTPDoer

	// ExpirySkew defaults to DefaultExpirySkew.
	ExpirySkew time.Duration

	Logger zerolog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// TokenSource logs in with a password grant and caches the access token
// until it expires. It is safe for concurrent use.
type TokenSource struct {
	cfg        TokenSourceConfig
	httpClient HTTPDoer
	now        func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	logins    int
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int    `json:"expires_in"`
	TokenType        string `json:"token_type"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// NewTokenSource creates a new token source.
func NewTokenSource(cfg TokenSourceConfig) *TokenSource {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.ClientConfig{
			Name:            "login-" + cfg.ClientID,
			Timeout:         30 * time.Second,
			MaxRetries:      3,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     5 * time.Second,
		})
	}
	if cfg.ExpirySkew == 0 {
		cfg.ExpirySkew = DefaultExpirySkew
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &TokenSource{
		cfg:        cfg,
		httpClient: httpClient,
		now:        now,
	}
}

// Token returns the cached access token, logging in when none is cached or it is about to expire.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && (s.expiresAt.IsZero() || s.now().Add(s.cfg.ExpirySkew).Before(s.expiresAt)) {
		return s.token, nil
	}
	return s.loginLocked(ctx)
}

// Refresh discards the cached token and logs in again.
func (s *TokenSource) Refresh(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	return s.loginLocked(ctx)
}

// Logins returns the number of successful logins performed.
func (s *TokenSource) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

func (s *TokenSource) loginLocked(ctx context.Context) (string, error) {
	form := url.Values{
		"client_id":  {s.cfg.ClientID},
		"username":   {s.cfg.Username},
		"password":   {s.cfg.Password},
		"grant_type": {"password"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read login response: %w", err)
	}

	var tr tokenResponse
	decodeErr := json.Unmarshal(body, &tr)

	switch {
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusBadRequest && tr.Error == "invalid_grant":
		return "", fmt.Errorf("%w: %s", ErrInvalidCredentials, describe(tr, resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("login failed: %s", describe(tr, resp.StatusCode))
	case decodeErr != nil:
		return "", fmt.Errorf("decode login response: %w", decodeErr)
	case tr.AccessToken == "":
		return "", ErrNoAccessToken
	}

	s.token = tr.AccessToken
	s.logins++
	if tr.ExpiresIn > 0 {
		s.expiresAt = s.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	} else if exp, err := Expiry(tr.AccessToken); err == nil {
		s.expiresAt = exp
	} else {
		s.expiresAt = time.Time{}
	}

	s.cfg.Logger.Debug().
		Str("client_id", s.cfg.ClientID).
		Time("expires_at", s.expiresAt).
		Msg("access token acquired")

	return s.token, nil
}

// Expiry reads the exp claim of a JWT without verifying its signature.
func Expiry(token string) (time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, errors.New("token has no exp claim")
	}
	return exp.Time, nil
}

func describe(tr tokenResponse, status int) string {
	switch {
	case tr.ErrorDescription != "":
		return fmt.Sprintf("%d %s", status, tr.ErrorDescription)
	case tr.Error != "":
		return fmt.Sprintf("%d %s", status, tr.Error)
	}
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}
