// Package kite exchanges a login request token for the access token the
// ticker connects with. The tokens are opaque credentials; nothing here
// validates them beyond the HTTP status of the exchange.
package kite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.kite.trade"
	loginBaseURL   = "https://kite.trade/connect/login"

	requestTimeout = 7 * time.Second
)

// Client performs the one-shot session calls against the REST API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient builds a session client for the given API key.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// SetBaseURL points the client at a different API host; tests use it.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimRight(u, "/")
}

// LoginURL is where the user completes the interactive login that yields
// the request token.
func (c *Client) LoginURL() string {
	return fmt.Sprintf("%s?api_key=%s&v=3", loginBaseURL, url.QueryEscape(c.apiKey))
}

// UserSession is the token-exchange response.
type UserSession struct {
	UserID        string   `json:"user_id"`
	UserName      string   `json:"user_name"`
	UserShortName string   `json:"user_shortname"`
	Email         string   `json:"email"`
	UserType      string   `json:"user_type"`
	Broker        string   `json:"broker"`
	Exchanges     []string `json:"exchanges"`
	Products      []string `json:"products"`
	OrderTypes    []string `json:"order_types"`

	APIKey       string `json:"api_key"`
	AccessToken  string `json:"access_token"`
	PublicToken  string `json:"public_token"`
	RefreshToken string `json:"refresh_token"`
	LoginTime    string `json:"login_time"`
}

type envelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

// GenerateSession exchanges the request token for an access token. The
// checksum is SHA-256 over api_key + request_token + api_secret.
func (c *Client) GenerateSession(ctx context.Context, requestToken, apiSecret string) (*UserSession, error) {
	sum := sha256.Sum256([]byte(c.apiKey + requestToken + apiSecret))

	form := url.Values{}
	form.Set("api_key", c.apiKey)
	form.Set("request_token", requestToken)
	form.Set("checksum", hex.EncodeToString(sum[:]))

	var session UserSession
	if err := c.postForm(ctx, "/session/token", form, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// InvalidateAccessToken logs the session out server-side.
func (c *Client) InvalidateAccessToken(ctx context.Context, accessToken string) error {
	form := url.Values{}
	form.Set("api_key", c.apiKey)
	form.Set("access_token", accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.baseURL+"/session/token?"+form.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Kite-Version", "3")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Status != "success" {
		return fmt.Errorf("token invalidation failed: %s", env.Message)
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Kite-Version", "3")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Status != "success" {
		return fmt.Errorf("session request failed: %s (%s)", env.Message, env.ErrorType)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode session data: %w", err)
	}
	return nil
}
