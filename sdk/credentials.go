package atlas

import (
	"context"
	"os"
	"strings"

	"github.com/hellohealthy/atlas/pkg/core"
)

// CredentialProvider supplies the API credential at call time. Each wire
// call resolves the credential freshly, so a rotated or newly provisioned
// key takes effect without rebuilding the client.
type CredentialProvider interface {
	Ensure(ctx context.Context) (string, error)
}

// CredentialFunc adapts a function to a CredentialProvider.
type CredentialFunc func(ctx context.Context) (string, error)

// Ensure implements CredentialProvider.
func (f CredentialFunc) Ensure(ctx context.Context) (string, error) {
	return f(ctx)
}

// StaticCredential returns a provider that always yields key.
func StaticCredential(key string) CredentialProvider {
	return CredentialFunc(func(context.Context) (string, error) {
		if strings.TrimSpace(key) == "" {
			return "", core.NewCredentialError("api key is empty", "")
		}
		return key, nil
	})
}

// EnvCredential reads the credential from GEMINI_API_KEY, falling back to
// GOOGLE_API_KEY.
type EnvCredential struct{}

// Ensure implements CredentialProvider.
func (EnvCredential) Ensure(context.Context) (string, error) {
	if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
		return key, nil
	}
	if key := strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")); key != "" {
		return key, nil
	}
	return "", core.NewCredentialError("no api key configured (set GEMINI_API_KEY or GOOGLE_API_KEY)", "")
}
