package atlas

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets a fixed API key for the client.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.credentials = StaticCredential(key)
	}
}

// WithCredentialProvider sets the credential source, resolved freshly on
// every wire call.
func WithCredentialProvider(p CredentialProvider) ClientOption {
	return func(c *Client) {
		c.credentials = p
	}
}

// WithBaseURL overrides the HTTP API endpoint. Useful for tests.
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithLiveEndpoint overrides the realtime websocket endpoint. Useful for
// tests.
func WithLiveEndpoint(url string) ClientOption {
	return func(c *Client) {
		c.liveEndpoint = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the logger for the client.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

// WithTracer sets the OpenTelemetry tracer for the client.
func WithTracer(t trace.Tracer) ClientOption {
	return func(c *Client) {
		c.tracer = t
	}
}
