package download

import (
	"context"
	"fmt"
	"net/http"
)

// Authenticator signs download requests for a backend.
type Authenticator interface {
	// Authorize adds credentials to req.
	Authorize(ctx context.Context, req *http.Request) error

	// Refresh renews expired credentials. It returns false when the
	// credentials cannot be renewed (e.g. static passwords).
	Refresh(ctx context.Context) (bool, error)
}

// TokenProvider hands out access tokens and renews them on demand.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// BasicAuth authenticates with a static username and password (Earthdata login).
type BasicAuth struct {
	Username string
	Password string
}

// Authorize sets the basic authorization header.
func (b BasicAuth) Authorize(_ context.Context, req *http.Request) error {
	req.SetBasicAuth(b.Username, b.Password)
	return nil
}

// Refresh is a no-op: passwords do not expire in band.
func (BasicAuth) Refresh(context.Context) (bool, error) {
	return false, nil
}

// BearerAuth sends the access token in the Authorization header.
type BearerAuth struct {
	Tokens TokenProvider
}

// Authorize sets "Authorization: Bearer <token>".
func (b BearerAuth) Authorize(ctx context.Context, req *http.Request) error {
	token, err := b.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// Refresh logs in again.
func (b BearerAuth) Refresh(ctx context.Context) (bool, error) {
	if _, err := b.Tokens.Refresh(ctx); err != nil {
		return false, fmt.Errorf("refresh access token: %w", err)
	}
	return true, nil
}

// QueryTokenAuth sends the access token as a query parameter.
type QueryTokenAuth struct {
	Tokens TokenProvider

	// Param defaults to "token".
	Param string
}

// Authorize sets the token query parameter, replacing any previous value.
func (q QueryTokenAuth) Authorize(ctx context.Context, req *http.Request) error {
	token, err := q.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("get access token: %w", err)
	}
	param := q.Param
	if param == "" {
		param = "token"
	}

	values := req.URL.Query()
	values.Set(param, token)
	req.URL.RawQuery = values.Encode()
	return nil
}

// Refresh logs in again.
func (q QueryTokenAuth) Refresh(ctx context.Context) (bool, error) {
	if _, err := q.Tokens.Refresh(ctx); err != nil {
		return false, fmt.Errorf("refresh access token: %w", err)
	}
	return true, nil
}
