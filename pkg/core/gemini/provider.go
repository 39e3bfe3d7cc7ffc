// Package gemini speaks the generativelanguage wire protocol directly:
// JSON request/response bodies, SSE streaming, long-running operations.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	// DefaultBaseURL is the default generativelanguage API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
)

// Provider is a wire client bound to one API credential. Construct a fresh
// one per call site when the credential may rotate; the zero-allocation cost
// of a new Provider is trivial next to the request it carries.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Provider.
type Option func(*Provider)

// WithBaseURL overrides the API endpoint. Useful for tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = url
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = client
	}
}

// New creates a new wire client.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GenerateContent sends a non-streaming generation request.
func (p *Provider) GenerateContent(ctx context.Context, model string, req *Request) (*Response, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model)
	respBody, err := p.doRequest(ctx, url, req)
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

// StreamGenerateContent sends a streaming generation request and returns an
// SSE-backed event stream. The caller must Close the stream.
func (p *Provider) StreamGenerateContent(ctx context.Context, model string, req *Request) (*EventStream, error) {
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", p.baseURL, model)
	body, err := p.doStreamRequest(ctx, url, req)
	if err != nil {
		return nil, err
	}
	return newEventStream(body), nil
}

// doRequest sends a non-streaming request and returns the raw response body.
func (p *Provider) doRequest(ctx context.Context, url string, payload any) ([]byte, error) {
	resp, err := p.do(ctx, url, payload, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return respBody, nil
}

// doStreamRequest sends a streaming request and returns the response body
// for incremental consumption.
func (p *Provider) doStreamRequest(ctx context.Context, url string, payload any) (io.ReadCloser, error) {
	resp, err := p.do(ctx, url, payload, true)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (p *Provider) do(ctx context.Context, url string, payload any, stream bool) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	p.setHeaders(httpReq, stream)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, p.parseError(resp)
	}
	return resp, nil
}

// setHeaders sets the required generativelanguage API headers.
func (p *Provider) setHeaders(req *http.Request, stream bool) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}
}
