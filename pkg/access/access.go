// Package access performs the network fetches against the source sites,
// applying each site's anti-bot bypass policy: plain requests, clearance
// cookie authentication, or direct-first with a cookie fallback.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	httputil "github.com/repackradar/repackradar/pkg/http"
)

// Policy selects the bypass strategy for a site.
type Policy int

const (
	// PolicyDirect fetches without any bypass.
	PolicyDirect Policy = iota
	// PolicyCookie always authenticates with a clearance cookie.
	PolicyCookie
	// PolicyDirectThenCookie tries a plain fetch first and falls back to
	// the cookie flow when the response looks blocked.
	PolicyDirectThenCookie
)

// Credential is one site's clearance cookie and its expiry. Replaced
// wholesale on refresh; never mutated in place.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the credential can still be presented.
func (c *Credential) Valid() bool {
	return c != nil && c.Token != "" && time.Now().Before(c.ExpiresAt)
}

// Target identifies the site a fetch belongs to.
type Target struct {
	SiteID string
	Name   string
	Policy Policy
	// SolveURL is the page the solver is pointed at when refreshing the
	// site's credential.
	SolveURL string
	Referer  string
}

// blockedStatuses are the upstream statuses treated as an anti-bot block.
var blockedStatuses = map[int]bool{
	http.StatusForbidden:          true,
	http.StatusServiceUnavailable: true,
}

// challengeMarkers identify a challenge page served with a 200-family
// status but an HTML interstitial body.
var challengeMarkers = []string{
	"cf-browser-verification",
	"Cloudflare",
	"Attention Required",
}

const (
	apiUserAgent  = "repackradar-search/1.0"
	pageUserAgent = "repackradar-link-extractor/1.0"
)

// Fetcher performs policy-aware fetches and owns every site's credential.
type Fetcher struct {
	client *httputil.Client
	solver *Solver

	mu       sync.Mutex
	creds    map[string]*Credential
	limiters map[string]*rate.Limiter
	// perSiteRate throttles outbound requests per site.
	perSiteRate rate.Limit
	burst       int
}

// NewFetcher creates a fetcher backed by the given solver. solver may be
// nil when no configured site needs the cookie flow.
func NewFetcher(client *httputil.Client, solver *Solver) *Fetcher {
	if client == nil {
		client = httputil.NewClient(nil)
	}
	return &Fetcher{
		client:      client,
		solver:      solver,
		creds:       make(map[string]*Credential),
		limiters:    make(map[string]*rate.Limiter),
		perSiteRate: rate.Every(200 * time.Millisecond),
		burst:       4,
	}
}

// FetchPage retrieves url for the target site and returns the body.
// Callers fetching post detail pages are expected to swallow the error and
// carry on with an empty link list; listing callers fold it into the
// site's error slot.
func (f *Fetcher) FetchPage(ctx context.Context, target Target, url string, detail bool) ([]byte, error) {
	userAgent := apiUserAgent
	if detail {
		userAgent = pageUserAgent
	}

	if err := f.limiter(target.SiteID).Wait(ctx); err != nil {
		return nil, err
	}

	switch target.Policy {
	case PolicyCookie:
		return f.fetchWithCookie(ctx, target, url, userAgent)
	case PolicyDirectThenCookie:
		return f.fetchDirectThenCookie(ctx, target, url, userAgent)
	default:
		return f.fetchDirect(ctx, target, url, userAgent)
	}
}

func (f *Fetcher) limiter(siteID string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[siteID]
	if !ok {
		lim = rate.NewLimiter(f.perSiteRate, f.burst)
		f.limiters[siteID] = lim
	}
	return lim
}

func (f *Fetcher) fetchDirect(ctx context.Context, target Target, url, userAgent string) ([]byte, error) {
	resp, err := f.client.Get(ctx, url, f.headers(target, userAgent, ""))
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", target.Name, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &httputil.StatusError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s returned %s", target.Name, resp.Status),
		}
	}
	return httputil.ReadResponseBody(resp)
}

// fetchWithCookie runs the authenticated state machine: ensure a valid
// credential, request, and on a block refresh once and retry exactly once.
func (f *Fetcher) fetchWithCookie(ctx context.Context, target Target, url, userAgent string) ([]byte, error) {
	cred, err := f.validCredential(ctx, target)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Get(ctx, url, f.headers(target, userAgent, cred.Token))
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", target.Name, err)
	}

	if resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		slog.Info("Credential rejected, refreshing", "site", target.SiteID)

		fresh, err := f.refreshCredential(ctx, target)
		if err != nil {
			return nil, err
		}
		resp, err = f.client.Get(ctx, url, f.headers(target, userAgent, fresh.Token))
		if err != nil {
			return nil, fmt.Errorf("%s request failed: %w", target.Name, err)
		}
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &httputil.StatusError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s returned %s (even with fresh credential)", target.Name, resp.Status),
		}
	}
	return httputil.ReadResponseBody(resp)
}

// fetchDirectThenCookie tries an unauthenticated request and only engages
// the cookie flow when the response looks like an anti-bot block.
func (f *Fetcher) fetchDirectThenCookie(ctx context.Context, target Target, url, userAgent string) ([]byte, error) {
	resp, err := f.client.Get(ctx, url, f.headers(target, userAgent, ""))
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", target.Name, err)
	}

	if resp.StatusCode == http.StatusOK {
		return httputil.ReadResponseBody(resp)
	}

	blocked := blockedStatuses[resp.StatusCode]
	body := []byte(nil)
	if !blocked && strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		body, _ = httputil.ReadResponseBody(resp)
		blocked = isChallengePage(body)
	} else {
		resp.Body.Close()
	}

	if !blocked {
		return nil, &httputil.StatusError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s returned %s", target.Name, resp.Status),
		}
	}

	slog.Info("Direct fetch blocked, engaging cookie flow", "site", target.SiteID, "status", resp.StatusCode)
	return f.fetchWithCookie(ctx, target, url, userAgent)
}

func isChallengePage(body []byte) bool {
	text := string(body)
	for _, marker := range challengeMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func (f *Fetcher) headers(target Target, userAgent, token string) map[string]string {
	headers := map[string]string{"User-Agent": userAgent}
	if token != "" {
		headers["Cookie"] = clearanceCookie + "=" + token
	}
	if target.Referer != "" {
		headers["Referer"] = target.Referer
	}
	return headers
}

// validCredential returns the cached credential for the site, refreshing
// it when missing or expired. Concurrent refreshes may race; last write
// wins, and every caller re-reads after the refresh.
func (f *Fetcher) validCredential(ctx context.Context, target Target) (*Credential, error) {
	f.mu.Lock()
	cred := f.creds[target.SiteID]
	f.mu.Unlock()

	if cred.Valid() {
		return cred, nil
	}
	return f.refreshCredential(ctx, target)
}

func (f *Fetcher) refreshCredential(ctx context.Context, target Target) (*Credential, error) {
	if f.solver == nil {
		return nil, fmt.Errorf("no solver configured for site %s", target.SiteID)
	}
	cred, err := f.solver.Solve(ctx, target.SolveURL)
	if err != nil {
		return nil, fmt.Errorf("credential refresh for %s failed: %w", target.SiteID, err)
	}

	f.mu.Lock()
	f.creds[target.SiteID] = cred
	f.mu.Unlock()
	return cred, nil
}

// Credential exposes the cached credential for a site, for callers that
// need to inspect state (tests, the image proxy's cookie reuse).
func (f *Fetcher) Credential(siteID string) *Credential {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds[siteID]
}
