package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hellohealthy/atlas/pkg/core"
)

// VideoRequest is the payload for a predictLongRunning video generation call.
type VideoRequest struct {
	Instances  []VideoInstance `json:"instances"`
	Parameters VideoParameters `json:"parameters"`
}

// VideoInstance holds the prompt for one requested video.
type VideoInstance struct {
	Prompt string `json:"prompt"`
}

// VideoParameters controls video output shape.
type VideoParameters struct {
	AspectRatio    string `json:"aspectRatio,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
	NumberOfVideos int    `json:"numberOfVideos,omitempty"`
}

// Operation is a long-running operation resource.
type Operation struct {
	Name     string             `json:"name"`
	Done     bool               `json:"done"`
	Error    *OperationError    `json:"error,omitempty"`
	Response *OperationResponse `json:"response,omitempty"`
}

// OperationError is the failure payload of a finished operation.
type OperationError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// OperationResponse wraps the typed result of a finished operation.
type OperationResponse struct {
	GenerateVideoResponse *GenerateVideoResponse `json:"generateVideoResponse,omitempty"`
}

// GenerateVideoResponse lists the generated samples.
type GenerateVideoResponse struct {
	GeneratedSamples []GeneratedSample `json:"generatedSamples,omitempty"`
}

// GeneratedSample is one generated video asset.
type GeneratedSample struct {
	Video *VideoAsset `json:"video,omitempty"`
}

// VideoAsset points at a downloadable video file.
type VideoAsset struct {
	URI string `json:"uri"`
}

// GenerateVideos submits a video generation request and returns the pending
// operation. Callers poll with GetOperation until Done.
func (p *Provider) GenerateVideos(ctx context.Context, model string, req *VideoRequest) (*Operation, error) {
	url := fmt.Sprintf("%s/models/%s:predictLongRunning", p.baseURL, model)
	respBody, err := p.doRequest(ctx, url, req)
	if err != nil {
		return nil, err
	}

	var op Operation
	if err := json.Unmarshal(respBody, &op); err != nil {
		return nil, fmt.Errorf("unmarshal operation: %w", err)
	}
	return &op, nil
}

// GetOperation fetches the current state of a long-running operation by name.
func (p *Provider) GetOperation(ctx context.Context, name string) (*Operation, error) {
	url := fmt.Sprintf("%s/%s", p.baseURL, strings.TrimPrefix(name, "/"))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, p.parseError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var op Operation
	if err := json.Unmarshal(respBody, &op); err != nil {
		return nil, fmt.Errorf("unmarshal operation: %w", err)
	}
	return &op, nil
}

// DownloadAsset fetches a generated asset. The file endpoint requires the
// credential as a query parameter rather than a header.
func (p *Provider) DownloadAsset(ctx context.Context, uri string) ([]byte, error) {
	sep := "?"
	if strings.Contains(uri, "?") {
		sep = "&"
	}
	url := uri + sep + "key=" + p.apiKey

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, p.parseError(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &core.Error{Type: core.ErrAPI, Message: "read asset: " + err.Error()}
	}
	return data, nil
}
