package access

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	httputil "github.com/repackradar/repackradar/pkg/http"
)

// defaultCredentialTTL applies when the solver response carries no cookie
// expiry of its own.
const defaultCredentialTTL = 4 * time.Hour

// clearanceCookie is the cookie name the challenge solver must produce.
const clearanceCookie = "cf_clearance"

// Solver talks to the external challenge-solving service, which runs a
// real browser session against a protected site and hands back the
// resulting clearance cookie.
type Solver struct {
	URL       string
	UserAgent string
	client    *httputil.Client
}

// NewSolver creates a solver client. The solver gets a generous timeout of
// its own since challenge solving takes longer than a plain fetch.
func NewSolver(url, userAgent string) *Solver {
	cfg := httputil.DefaultConfig()
	cfg.Timeout = 60 * time.Second
	cfg.MaxRetries = 0
	return &Solver{
		URL:       url,
		UserAgent: userAgent,
		client:    httputil.NewClient(cfg),
	}
}

type solverRequest struct {
	Cmd       string `json:"cmd"`
	URL       string `json:"url"`
	UserAgent string `json:"userAgent"`
}

type solverResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Solution struct {
		Cookies []struct {
			Name    string  `json:"name"`
			Value   string  `json:"value"`
			Expires float64 `json:"expires"`
		} `json:"cookies"`
		Response string `json:"response"`
	} `json:"solution"`
}

// Solve requests a fresh clearance credential for targetURL.
func (s *Solver) Solve(ctx context.Context, targetURL string) (*Credential, error) {
	slog.Info("Requesting fresh clearance credential", "target", targetURL)

	payload, err := json.Marshal(solverRequest{
		Cmd:       "request.get",
		URL:       targetURL,
		UserAgent: s.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode solver request: %w", err)
	}

	resp, err := s.client.Post(ctx, s.URL, "application/json", bytes.NewReader(payload), nil)
	if err != nil {
		return nil, fmt.Errorf("solver request failed: %w", err)
	}

	var result solverResponse
	if err := httputil.DecodeJSONResponse(resp, &result); err != nil {
		return nil, fmt.Errorf("solver request failed: %w", err)
	}
	if result.Status != "ok" {
		return nil, fmt.Errorf("solver error: %s", result.Message)
	}

	for _, cookie := range result.Solution.Cookies {
		if cookie.Name != clearanceCookie {
			continue
		}
		expiresAt := time.Now().Add(defaultCredentialTTL)
		if cookie.Expires > 0 {
			expiresAt = time.Unix(int64(cookie.Expires), 0)
		}
		slog.Info("Obtained clearance credential", "target", targetURL, "expiresAt", expiresAt)
		return &Credential{Token: cookie.Value, ExpiresAt: expiresAt}, nil
	}

	return nil, fmt.Errorf("solver response carried no %s cookie", clearanceCookie)
}
