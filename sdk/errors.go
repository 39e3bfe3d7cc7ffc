package atlas

import (
	"fmt"
	"net/url"

	"github.com/hellohealthy/atlas/pkg/core"
)

// SDK-level error type that wraps core errors
type Error = core.Error

// Error types
const (
	ErrInvalidRequest = core.ErrInvalidRequest
	ErrCredential     = core.ErrCredential
	ErrPermission     = core.ErrPermission
	ErrDecode         = core.ErrDecode
	ErrFormat         = core.ErrFormat
	ErrTimeout        = core.ErrTimeout
	ErrAPI            = core.ErrAPI
)

// Error constructors
var (
	NewInvalidRequestError = core.NewInvalidRequestError
	NewCredentialError     = core.NewCredentialError
	NewPermissionError     = core.NewPermissionError
	NewTimeoutError        = core.NewTimeoutError
	NewAPIError            = core.NewAPIError
)

// Classification helpers
var (
	IsCredential = core.IsCredential
	IsPermission = core.IsPermission
	IsTimeout    = core.IsTimeout
)

// TransportError represents network-level failures (DNS, timeouts,
// connection reset, TLS handshake, websocket drop) while talking to the
// service.
//
// Use errors.As(err, &TransportError{}) to distinguish transport failures
// from canonical API errors (*core.Error).
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLQuery(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// redactURLQuery strips the query string, which may carry the API key on
// websocket and asset URLs.
func redactURLQuery(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.RawQuery = ""
	parsed.User = nil
	return parsed.String()
}
