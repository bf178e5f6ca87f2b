package dodo

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

// ClientOption is a function that configures a LiveClient.
type ClientOption func(*LiveClient)

// WithAPIKey sets the Gemini API key. Defaults to the GEMINI_API_KEY or
// GOOGLE_API_KEY environment variable.
func WithAPIKey(key string) ClientOption {
	return func(c *LiveClient) {
		c.apiKey = key
	}
}

// WithHost overrides the live service host (default:
// generativelanguage.googleapis.com).
func WithHost(host string) ClientOption {
	return func(c *LiveClient) {
		c.host = host
	}
}

// WithEndpoint overrides the full websocket endpoint URL. http(s) schemes
// are converted to ws(s). Intended for proxies and tests.
func WithEndpoint(url string) ClientOption {
	return func(c *LiveClient) {
		c.endpoint = url
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *LiveClient) {
		c.logger = l
	}
}

// WithDialer sets a custom websocket dialer.
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *LiveClient) {
		c.dialer = d
	}
}

// WithConnectTimeout bounds Connect when the caller's context carries no
// deadline.
func WithConnectTimeout(d time.Duration) ClientOption {
	return func(c *LiveClient) {
		c.connectTimeout = d
	}
}
