package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pesio-ai/be-shift-reviews/internal/errors"
)

// ErrAuthUserNotFound is returned when the provider has no such user.
var ErrAuthUserNotFound = errors.New(errors.ErrCodeNotFound, "auth user not found")

// AuthRecord is the subset of an auth-provider account the service reads.
type AuthRecord struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// AuthProviderClient looks up accounts in the external authentication
// provider over its admin REST API.
type AuthProviderClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewAuthProviderClient creates a client. An empty baseURL yields a client
// that reports every user as not found.
func NewAuthProviderClient(baseURL, apiKey string, timeout time.Duration) *AuthProviderClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AuthProviderClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// GetUser returns the account with the given uid.
func (c *AuthProviderClient) GetUser(ctx context.Context, uid string) (*AuthRecord, error) {
	if c.baseURL == "" {
		return nil, ErrAuthUserNotFound
	}
	return c.fetch(ctx, c.baseURL+"/users/"+url.PathEscape(uid))
}

// GetUserByEmail returns the account registered with email.
func (c *AuthProviderClient) GetUserByEmail(ctx context.Context, email string) (*AuthRecord, error) {
	if c.baseURL == "" {
		return nil, ErrAuthUserNotFound
	}
	return c.fetch(ctx, c.baseURL+"/users?email="+url.QueryEscape(email))
}

func (c *AuthProviderClient) fetch(ctx context.Context, endpoint string) (*AuthRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build auth request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth provider request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrAuthUserNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("auth provider returned %d", resp.StatusCode)
	}

	var record AuthRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("decode auth record: %w", err)
	}
	if record.UID == "" {
		return nil, ErrAuthUserNotFound
	}
	return &record, nil
}
