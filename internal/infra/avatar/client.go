// Package avatar provides a client for the upstream avatar session token API.
package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

var ErrUpstream = errors.New("avatar upstream request failed")

// DefaultTimeout bounds a single token request.
const DefaultTimeout = 10 * time.Second

// Config represents avatar client configuration.
type Config struct {
	AuthURI string
	Timeout time.Duration
	// RateLimit caps token requests per second. Zero disables the limit.
	RateLimit float64
	Burst     int
}

// Client requests live session tokens.
type Client struct {
	authURI   string
	timeout   time.Duration
	transport http.RoundTripper
}

type personaConfig struct {
	AvatarID               string `json:"avatarId"`
	EnableAudioPassthrough bool   `json:"enableAudioPassthrough"`
}

type sessionTokenRequest struct {
	PersonaConfig personaConfig `json:"personaConfig"`
}

type sessionTokenResponse struct {
	SessionToken string `json:"sessionToken"`
}

// New creates a new avatar client.
func New(cfg Config) (*Client, error) {
	if cfg.AuthURI == "" {
		return nil, errors.New("avatar auth URI is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	var transport http.RoundTripper = http.DefaultTransport
	if cfg.RateLimit > 0 {
		transport = newRateLimitedTransport(transport, cfg.RateLimit, cfg.Burst)
	}

	return &Client{
		authURI:   cfg.AuthURI,
		timeout:   cfg.Timeout,
		transport: transport,
	}, nil
}

// SessionToken exchanges an API key for a session token bound to avatarID.
// Every failure wraps ErrUpstream.
func (c *Client) SessionToken(ctx context.Context, apiKey, avatarID string) (string, error) {
	if apiKey == "" || avatarID == "" {
		return "", errors.New("API key and avatar id are required")
	}

	payload, err := json.Marshal(sessionTokenRequest{
		PersonaConfig: personaConfig{
			AvatarID:               avatarID,
			EnableAudioPassthrough: true,
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURI, bytes.NewReader(payload))
	if err != nil {
		return "", errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := &http.Client{
		Timeout: c.timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: apiKey}),
			Base:   c.transport,
		},
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(ErrUpstream, "failed to reach auth endpoint: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrapf(ErrUpstream, "failed to read response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		zlog.Error().Msgf("avatar API error: status=%d body=%s", resp.StatusCode, string(body))
		return "", errors.Wrapf(ErrUpstream, "auth endpoint responded %d", resp.StatusCode)
	}

	var response sessionTokenResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return "", errors.Wrapf(ErrUpstream, "failed to parse response: %v", err)
	}
	if response.SessionToken == "" {
		return "", errors.Wrap(ErrUpstream, "response has no session token")
	}

	zlog.Debug().Msgf("avatar session token acquired: avatar=%s", avatarID)
	return response.SessionToken, nil
}
