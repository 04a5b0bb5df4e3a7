package connection

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Authenticator attaches a credential to a channel handshake.
type Authenticator interface {
	Apply(u *url.URL, header http.Header) error
}

// Endpoint maps channel IDs to transport URLs.
type Endpoint struct {
	BaseURL    string        // e.g. wss://host
	PathPrefix string        // joined between BaseURL and the channel ID, default "/ws/"
	Auth       Authenticator // nil = anonymous
}

// Resolve returns the handshake URL and headers for channelID.
func (e Endpoint) Resolve(channelID string) (string, http.Header, error) {
	if channelID == "" {
		return "", nil, fmt.Errorf("resolve endpoint: empty channel id")
	}

	prefix := e.PathPrefix
	if prefix == "" {
		prefix = "/ws/"
	}

	u, err := url.Parse(strings.TrimRight(e.BaseURL, "/") + "/" + strings.Trim(prefix, "/") + "/" + url.PathEscape(channelID))
	if err != nil {
		return "", nil, fmt.Errorf("resolve endpoint %s: %w", channelID, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", nil, fmt.Errorf("resolve endpoint %s: unsupported scheme %q", channelID, u.Scheme)
	}

	header := http.Header{}
	if e.Auth != nil {
		if err := e.Auth.Apply(u, header); err != nil {
			return "", nil, fmt.Errorf("apply credential: %w", err)
		}
	}
	return u.String(), header, nil
}

// ClientFactory creates an unconnected Client for a channel.
type ClientFactory func(channelID string) (Client, error)

// NewClientFactory returns a factory that resolves channel URLs through
// endpoint and builds clients from base.
func NewClientFactory(endpoint Endpoint, base ClientConfig, logger *slog.Logger) ClientFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return func(channelID string) (Client, error) {
		rawURL, header, err := endpoint.Resolve(channelID)
		if err != nil {
			return nil, err
		}
		cfg := base
		cfg.URL = rawURL
		cfg.Header = header
		return NewClient(cfg, logger.With("channel", channelID)), nil
	}
}
