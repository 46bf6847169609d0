// Package decrypt resolves encrypted wrapper hashes into their target
// download URLs, caching results in the key/value store. Resolution goes
// straight to the wrapper's API first and falls back to a relay proxy
// when the direct call is blocked.
package decrypt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/repackradar/repackradar/pkg/database"
	httputil "github.com/repackradar/repackradar/pkg/http"
	"github.com/repackradar/repackradar/pkg/links"
)

const (
	// cacheKeyPrefix namespaces resolved hashes in the shared KV table.
	cacheKeyPrefix = "decrypt:"
	// cacheTTL keeps resolved links for 30 days; the wrapper's mappings
	// are effectively immutable.
	cacheTTL = 30 * 24 * time.Hour

	// SourceDirect marks a result obtained from the wrapper API itself.
	SourceDirect = "direct"
	// SourceProxy marks a result obtained through the relay proxy.
	SourceProxy = "proxy-fallback"
)

// Result is a resolved hash, also the JSON shape served to clients.
type Result struct {
	Success      bool   `json:"success"`
	OriginalHash string `json:"originalHash,omitempty"`
	URL          string `json:"url"`
	Service      string `json:"service"`
	Source       string `json:"source,omitempty"`
	Cached       bool   `json:"cached,omitempty"`
}

// Resolver resolves wrapper hashes.
type Resolver struct {
	client   *httputil.Client
	store    *database.Cache
	apiURL   string
	proxyURL string
}

// New creates a resolver. proxyURL may be empty to disable the fallback.
func New(client *httputil.Client, store *database.Cache, apiURL, proxyURL string) *Resolver {
	if client == nil {
		client = httputil.NewClient(nil)
	}
	if apiURL == "" {
		apiURL = "https://crypt.cybar.xyz/api/decrypt"
	}
	return &Resolver{
		client:   client,
		store:    store,
		apiURL:   apiURL,
		proxyURL: proxyURL,
	}
}

// apiResponse is the wrapper API's answer; older deployments use "url",
// newer ones "resolvedUrl".
type apiResponse struct {
	ResolvedURL string `json:"resolvedUrl"`
	URL         string `json:"url"`
	Service     string `json:"service"`
	Success     bool   `json:"success"`
}

func (r apiResponse) target() string {
	if r.ResolvedURL != "" {
		return r.ResolvedURL
	}
	return r.URL
}

// Resolve answers from the KV store when possible, otherwise resolves the
// hash and caches the result. The returned Result has Cached set on a KV
// hit.
func (r *Resolver) Resolve(ctx context.Context, hash string) (*Result, error) {
	cacheKey := cacheKeyPrefix + hash

	if r.store != nil {
		if raw, found, err := r.store.Get(cacheKey); err != nil {
			slog.Error("Decrypt cache lookup failed", "error", err)
		} else if found {
			var result Result
			if err := json.Unmarshal([]byte(raw), &result); err == nil {
				result.Cached = true
				return &result, nil
			}
		}
	}

	result, err := r.resolveDirect(ctx, hash)
	if err != nil {
		slog.Info("Direct decryption failed, falling back to proxy", "error", err)
		result, err = r.resolveViaProxy(ctx, hash)
		if err != nil {
			return nil, fmt.Errorf("both direct decryption and proxy fallback failed: %w", err)
		}
	}

	if r.store != nil {
		if raw, err := json.Marshal(result); err == nil {
			if err := r.store.Set(cacheKey, string(raw), cacheTTL); err != nil {
				slog.Error("Decrypt cache store failed", "error", err)
			}
		}
	}
	return result, nil
}

// normalizeHash undoes transport mangling: spaces back to the + they were
// before query parsing, then one round of percent-decoding. PathUnescape
// keeps the restored + signs intact.
func normalizeHash(hash string) string {
	restored := strings.ReplaceAll(hash, " ", "+")
	decoded, err := url.PathUnescape(restored)
	if err != nil {
		return restored
	}
	return decoded
}

// browserHeaders imitate a same-origin browser call; the wrapper API
// rejects obvious non-browser clients.
func browserHeaders() map[string]string {
	return map[string]string{
		"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": "en-US,en;q=0.9",
		"Sec-Fetch-Dest":  "empty",
		"Sec-Fetch-Mode":  "cors",
		"Sec-Fetch-Site":  "same-origin",
		"Cache-Control":   "no-cache",
		"Pragma":          "no-cache",
		"Origin":          "https://crypt.cybar.xyz",
		"Referer":         "https://crypt.cybar.xyz/",
	}
}

func (r *Resolver) resolveDirect(ctx context.Context, hash string) (*Result, error) {
	decoded := normalizeHash(hash)

	payload, err := json.Marshal(map[string]string{"hash": decoded})
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Post(ctx, r.apiURL, "application/json", bytes.NewReader(payload), browserHeaders())
	if err != nil {
		return nil, fmt.Errorf("direct decryption request failed: %w", err)
	}

	var data apiResponse
	if err := httputil.DecodeJSONResponse(resp, &data); err != nil {
		return nil, fmt.Errorf("direct decryption failed: %w", err)
	}

	target := data.target()
	if target == "" {
		return nil, fmt.Errorf("decryption response carried no URL")
	}

	service := data.Service
	if service == "" {
		service = links.ResolveService(target)
	}

	return &Result{
		Success:      true,
		OriginalHash: decoded,
		URL:          target,
		Service:      service,
		Source:       SourceDirect,
	}, nil
}

func (r *Resolver) resolveViaProxy(ctx context.Context, hash string) (*Result, error) {
	if r.proxyURL == "" {
		return nil, fmt.Errorf("no decryption proxy configured")
	}

	payload, err := json.Marshal(map[string]string{"hash": hash})
	if err != nil {
		return nil, err
	}

	resp, err := r.client.Post(ctx, r.proxyURL, "application/json", bytes.NewReader(payload), nil)
	if err != nil {
		return nil, fmt.Errorf("proxy decryption request failed: %w", err)
	}

	var data apiResponse
	if err := httputil.DecodeJSONResponse(resp, &data); err != nil {
		return nil, fmt.Errorf("proxy decryption failed: %w", err)
	}
	if !data.Success {
		return nil, fmt.Errorf("proxy declined to decrypt the hash")
	}

	target := data.target()
	service := data.Service
	if service == "" {
		service = links.ResolveService(target)
	}

	return &Result{
		Success:      true,
		OriginalHash: hash,
		URL:          target,
		Service:      service,
		Source:       SourceProxy,
	}, nil
}

// ClearAll drops every cached resolution and reports how many were
// removed.
func (r *Resolver) ClearAll() (int64, error) {
	if r.store == nil {
		return 0, nil
	}
	return r.store.DeletePrefix(cacheKeyPrefix)
}
