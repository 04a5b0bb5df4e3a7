package connection

import (
	"errors"
	"net/http"
	"net/url"
	"testing"
)

type queryAuth struct{ token string }

func (a queryAuth) Apply(u *url.URL, h http.Header) error {
	if a.token == "" {
		return errors.New("no token")
	}
	q := u.Query()
	q.Set("token", a.token)
	u.RawQuery = q.Encode()
	h.Set("Authorization", "Bearer "+a.token)
	return nil
}

func TestEndpoint_Resolve(t *testing.T) {
	tests := []struct {
		name     string
		endpoint Endpoint
		channel  string
		want     string
		wantErr  bool
	}{
		{
			name:     "default prefix",
			endpoint: Endpoint{BaseURL: "ws://localhost:8000"},
			channel:  "abc123",
			want:     "ws://localhost:8000/ws/abc123",
		},
		{
			name:     "trailing slash and custom prefix",
			endpoint: Endpoint{BaseURL: "wss://example.com/", PathPrefix: "/api/stream/"},
			channel:  "s1",
			want:     "wss://example.com/api/stream/s1",
		},
		{
			name:     "escapes channel id",
			endpoint: Endpoint{BaseURL: "ws://h"},
			channel:  "a b/c",
			want:     "ws://h/ws/a%20b%2Fc",
		},
		{
			name:     "token in query",
			endpoint: Endpoint{BaseURL: "ws://h", Auth: queryAuth{token: "t0k"}},
			channel:  "s1",
			want:     "ws://h/ws/s1?token=t0k",
		},
		{
			name:     "http scheme rejected",
			endpoint: Endpoint{BaseURL: "http://h"},
			channel:  "s1",
			wantErr:  true,
		},
		{
			name:     "empty channel",
			endpoint: Endpoint{BaseURL: "ws://h"},
			wantErr:  true,
		},
		{
			name:     "credential failure",
			endpoint: Endpoint{BaseURL: "ws://h", Auth: queryAuth{}},
			channel:  "s1",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, header, err := tt.endpoint.Resolve(tt.channel)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
			if tt.endpoint.Auth != nil && header.Get("Authorization") == "" {
				t.Error("credential header not applied")
			}
		})
	}
}

func TestClientFactory(t *testing.T) {
	factory := NewClientFactory(Endpoint{BaseURL: "ws://h"}, DefaultClientConfig(), nil)

	c, err := factory("s1")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if c.IsConnected() {
		t.Error("new client reports connected")
	}

	if _, err := factory(""); err == nil {
		t.Error("factory(\"\") returned nil error")
	}
}
