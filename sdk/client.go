// Package atlas provides the Atlas SDK for Go: streaming chat with grounded
// citations, realtime voice sessions, speech synthesis, and long-running
// media generation against the generativelanguage API.
package atlas

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hellohealthy/atlas/pkg/core/gemini"
	"github.com/hellohealthy/atlas/pkg/core/live"
)

// defaultHTTPTimeout bounds every HTTP call, including long SSE streams and
// asset downloads. Override with WithTimeout.
const defaultHTTPTimeout = 10 * time.Minute

// Client is the main entry point for the SDK.
type Client struct {
	Chat   *ChatService
	Live   *LiveService
	Speech *SpeechService
	Media  *MediaService

	// Internal
	credentials  CredentialProvider
	baseURL      string
	liveEndpoint string
	httpClient   *http.Client
	logger       *slog.Logger
	tracer       trace.Tracer

	// At most one realtime session per client. connectMu serializes
	// Connect calls end to end; sessionMu only guards the pointer.
	connectMu     sync.Mutex
	sessionMu     sync.Mutex
	activeSession *Session
}

// NewClient creates a new client. The credential defaults to the
// GEMINI_API_KEY / GOOGLE_API_KEY environment variables.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		credentials:  EnvCredential{},
		baseURL:      gemini.DefaultBaseURL,
		liveEndpoint: live.DefaultEndpoint,
		httpClient:   &http.Client{Timeout: defaultHTTPTimeout},
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.Chat = &ChatService{client: c}
	c.Live = &LiveService{client: c}
	c.Speech = &SpeechService{client: c}
	c.Media = &MediaService{client: c}
	return c
}

// provider resolves the current credential and builds a wire client bound
// to it. Called per operation so credential rotation takes effect
// immediately.
func (c *Client) provider(ctx context.Context) (*gemini.Provider, error) {
	key, err := c.credentials.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	return gemini.New(key,
		gemini.WithBaseURL(c.baseURL),
		gemini.WithHTTPClient(c.httpClient),
	), nil
}

// startSpan opens a tracing span when a tracer is configured.
func (c *Client) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if c.tracer == nil {
		return ctx, nil
	}
	return c.tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}
