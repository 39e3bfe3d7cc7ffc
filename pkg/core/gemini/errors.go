package gemini

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/hellohealthy/atlas/pkg/core"
)

// apiError represents an error response from the generativelanguage API.
type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type     string            `json:"@type"`
			Reason   string            `json:"reason,omitempty"`
			Domain   string            `json:"domain,omitempty"`
			Metadata map[string]string `json:"metadata,omitempty"`
		} `json:"details,omitempty"`
	} `json:"error"`
}

// parseError maps an error response onto the core error taxonomy.
func (p *Provider) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		// Can't parse the body, return a generic API error
		return &core.Error{
			Type:    core.ErrAPI,
			Message: strings.TrimSpace(string(body)),
			Code:    http.StatusText(resp.StatusCode),
		}
	}

	var errType core.ErrorType
	switch apiErr.Error.Status {
	case "INVALID_ARGUMENT", "FAILED_PRECONDITION":
		errType = core.ErrInvalidRequest
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		errType = core.ErrCredential
	case "RESOURCE_EXHAUSTED":
		// Quota exhaustion surfaces as a credential problem so callers can
		// prompt for a different key; the status code stays distinguishable.
		errType = core.ErrCredential
	case "NOT_FOUND":
		// A key scoped to the wrong project reports the model as missing.
		if strings.Contains(apiErr.Error.Message, "was not found") {
			errType = core.ErrCredential
		} else {
			errType = core.ErrInvalidRequest
		}
	default:
		errType = core.ErrAPI
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		errType = core.ErrCredential
	}

	return &core.Error{
		Type:    errType,
		Message: apiErr.Error.Message,
		Code:    apiErr.Error.Status,
	}
}
