// Package auth verifies bearer credentials against the hosted identity
// provider and carries the resulting identity through request contexts.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/daybreak-app/daybreak/internal/errs"
	"github.com/daybreak-app/daybreak/internal/httpkit"
)

// Identity is what the provider vouches for. UID is the tenant key for
// every operation in the system.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
}

// Verifier checks a bearer credential. The live implementation calls
// the provider's token-lookup endpoint; tests substitute statics.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// HTTPVerifier verifies tokens against a provider lookup endpoint.
type HTTPVerifier struct {
	lookupURL  string
	audience   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPVerifier creates a verifier for the configured endpoint.
func NewHTTPVerifier(lookupURL, audience string, logger *slog.Logger) *HTTPVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPVerifier{
		lookupURL: lookupURL,
		audience:  audience,
		logger:    logger.With("component", "auth"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10 * time.Second),
		),
	}
}

type lookupRequest struct {
	IDToken  string `json:"idToken"`
	Audience string `json:"audience,omitempty"`
}

type lookupResponse struct {
	Users []struct {
		LocalID     string `json:"localId"`
		Email       string `json:"email"`
		DisplayName string `json:"displayName"`
	} `json:"users"`
}

// Verify posts the token to the lookup endpoint. Any provider-side
// rejection maps to ErrUnauthenticated; the provider's reason is
// logged, not forwarded to the client.
func (v *HTTPVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, errs.ErrUnauthenticated
	}

	body, err := json.Marshal(lookupRequest{IDToken: token, Audience: v.audience})
	if err != nil {
		return nil, fmt.Errorf("marshal lookup: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", v.lookupURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		v.logger.Debug("token rejected", "status", resp.StatusCode, "detail", string(detail))
		return nil, errs.ErrUnauthenticated
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity lookup status %d", resp.StatusCode)
	}

	var lr lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("decode lookup response: %w", err)
	}
	if len(lr.Users) == 0 || lr.Users[0].LocalID == "" {
		return nil, errs.ErrUnauthenticated
	}

	u := lr.Users[0]
	return &Identity{UID: u.LocalID, Email: u.Email, DisplayName: u.DisplayName}, nil
}
