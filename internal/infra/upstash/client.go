// Package upstash provides an atomic counter backed by the Upstash Redis REST API.
package upstash

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Config represents Upstash client configuration.
type Config struct {
	RestURL   string
	RestToken string
}

// Client is an Upstash REST client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new Upstash client.
func New(cfg Config) (*Client, error) {
	if cfg.RestURL == "" || cfg.RestToken == "" {
		return nil, errors.New("upstash REST URL and token are required")
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.RestURL, "/"),
		httpClient: &http.Client{
			Transport: &oauth2.Transport{
				Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.RestToken}),
				Base:   http.DefaultTransport,
			},
		},
	}, nil
}

// Incr atomically increments key and returns the new value.
// Deadlines come from ctx.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	reqURL := c.baseURL + "/incr/" + url.PathEscape(key)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, errors.Errorf("upstash responded %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	v, err := parseCounter(body)
	if err != nil {
		return 0, err
	}
	zlog.Debug().Msgf("upstash incr: key=%s value=%d", key, v)
	return v, nil
}

// parseCounter accepts a bare number, an object with "result",
// or an object with exactly one value.
func parseCounter(body []byte) (int64, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return 0, errors.Wrapf(err, "unable to parse upstash response: %s", string(body))
	}

	value := raw
	if m, ok := raw.(map[string]any); ok {
		if r, ok := m["result"]; ok {
			value = r
		} else if len(m) == 1 {
			for _, v := range m {
				value = v
			}
		}
	}

	if value == nil {
		return 0, errors.Newf("unable to parse upstash response: %s", string(body))
	}

	var n int64
	if err := mapstructure.Decode(value, &n); err != nil {
		return 0, errors.Wrapf(err, "unable to parse upstash response: %s", string(body))
	}
	return n, nil
}

// Ping checks that the REST endpoint accepts the token.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("upstash ping responded %d", resp.StatusCode)
	}
	return nil
}
