package upstash

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	_, err := New(Config{RestURL: "https://example.upstash.io"})
	assert.Error(t, err)
	_, err = New(Config{RestToken: "token"})
	assert.Error(t, err)

	client, err := New(Config{RestURL: "https://example.upstash.io/", RestToken: "token"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.upstash.io", client.baseURL)
}

func TestIncr(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/incr/rotor:investor", r.URL.Path)
		assert.Equal(t, "Bearer test_token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"result": 5}`)
	}))
	defer server.Close()

	client, err := New(Config{RestURL: server.URL, RestToken: "test_token"})
	require.NoError(t, err)

	v, err := client.Incr(context.Background(), "rotor:investor")
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestIncr_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error": "internal"}`)
	}))
	defer server.Close()

	client, err := New(Config{RestURL: server.URL, RestToken: "test_token"})
	require.NoError(t, err)

	_, err = client.Incr(context.Background(), "rotor:coach")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstash responded 500")
}

func TestIncr_ContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	client, err := New(Config{RestURL: server.URL, RestToken: "test_token"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = client.Incr(ctx, "rotor:coach")
	assert.Error(t, err)
}

func TestParseCounter(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int64
		wantErr bool
	}{
		{name: "result object", body: `{"result": 42}`, want: 42},
		{name: "bare number", body: `7`, want: 7},
		{name: "single value object", body: `{"value": 3}`, want: 3},
		{name: "large value", body: `{"result": 9007199254740993}`, want: 9007199254740993},
		{name: "string result", body: `{"result": "5"}`, wantErr: true},
		{name: "bool", body: `true`, wantErr: true},
		{name: "multiple values", body: `{"a": 1, "b": 2}`, wantErr: true},
		{name: "null result", body: `{"result": null}`, wantErr: true},
		{name: "garbage", body: `<html>`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCounter([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPing(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/ping", r.URL.Path)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"result": "PONG"}`)
			}))
			defer server.Close()

			client, err := New(Config{RestURL: server.URL, RestToken: "test_token"})
			require.NoError(t, err)

			err = client.Ping(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
