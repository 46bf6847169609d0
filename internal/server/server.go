// Package server wires the HTTP surface: routing, CORS and method
// policy, the cache orchestration around the aggregator, and the decrypt
// and image proxy endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/repackradar/repackradar/internal/aggregate"
	"github.com/repackradar/repackradar/internal/decrypt"
	"github.com/repackradar/repackradar/internal/imageproxy"
	"github.com/repackradar/repackradar/pkg/cache"
	httputil "github.com/repackradar/repackradar/pkg/http"
)

const (
	cacheStatusHeader   = "X-Cache-Status"
	decryptSourceHeader = "X-Decrypt-Source"

	recentCacheKey = "recent:all"

	// revalidateTimeout bounds the background refresh after serving stale.
	revalidateTimeout = 2 * time.Minute
)

// Server is the HTTP front of the aggregation service.
type Server struct {
	aggregator *aggregate.Aggregator
	resolver   *decrypt.Resolver
	images     *imageproxy.Proxy
	responses  *cache.SWR
	mux        *http.ServeMux
}

// New assembles the server and its routes.
func New(aggregator *aggregate.Aggregator, resolver *decrypt.Resolver, images *imageproxy.Proxy, responses *cache.SWR) *Server {
	s := &Server{
		aggregator: aggregator,
		resolver:   resolver,
		images:     images,
		responses:  responses,
		mux:        http.NewServeMux(),
	}

	s.mux.HandleFunc("/recent", s.withCORS(s.handleRecent))
	s.mux.HandleFunc("/post", s.withCORS(s.handlePost))
	s.mux.HandleFunc("/decrypt", s.withCORS(s.handleDecrypt))
	s.mux.HandleFunc("/proxy-image", s.withCORS(s.handleImageProxy))
	s.mux.HandleFunc("/clearcache", s.withCORS(s.handleClearCache))
	s.mux.HandleFunc("/clear-decrypt-cache", s.withCORS(s.handleClearDecryptCache))
	// Search is the default route, any unmatched path included.
	s.mux.HandleFunc("/", s.withCORS(s.handleSearch))

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// withCORS applies the CORS headers, answers preflights, and enforces the
// GET/POST-only method policy.
func (s *Server) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "error": message})
}

// writeCachedPayload serves a cached envelope, marking it as such and
// optionally as stale, without re-running the aggregation.
func writeCachedPayload(w http.ResponseWriter, payload []byte, status string, stale bool, errMsg string) {
	var envelope map[string]any
	if err := json.Unmarshal(payload, &envelope); err != nil {
		writeError(w, http.StatusInternalServerError, "corrupt cache entry")
		return
	}
	envelope["cached"] = true
	if stale {
		envelope["stale"] = true
	}
	if errMsg != "" {
		envelope["error"] = errMsg
	}

	w.Header().Set(cacheStatusHeader, status)
	writeJSON(w, http.StatusOK, envelope)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	payload, state, err := s.responses.Lookup(recentCacheKey)
	if err != nil {
		slog.Error("Recent cache lookup failed", "error", err)
	}

	switch state {
	case cache.StateFresh:
		writeCachedPayload(w, payload, cache.StatusHit, false, "")
		return
	case cache.StateStale:
		go s.revalidateRecent()
		writeCachedPayload(w, payload, cache.StatusRevalidate, true, "")
		return
	}

	result := s.aggregator.Recent(r.Context())
	if result.AllFailed() {
		if state == cache.StateExpired {
			writeCachedPayload(w, payload, cache.StatusFallback, true,
				"Fresh data fetch failed. Returning stale data.")
			return
		}
		writeError(w, http.StatusInternalServerError, "All sites failed to respond")
		return
	}

	s.storeAndServe(w, recentCacheKey, result)
}

// revalidateRecent refreshes the recent listing in the background after a
// stale hit was served.
func (s *Server) revalidateRecent() {
	ctx, cancel := context.WithTimeout(context.Background(), revalidateTimeout)
	defer cancel()

	result := s.aggregator.Recent(ctx)
	if result.AllFailed() {
		slog.Warn("Background revalidation failed, keeping stale entry")
		return
	}
	if raw, err := json.Marshal(result); err == nil {
		if err := s.responses.Store(recentCacheKey, raw); err != nil {
			slog.Error("Failed to store revalidated listing", "error", err)
		}
	}
}

func searchCacheKey(query, siteParam string) string {
	return "search:" + url.QueryEscape(query) + ":" + siteParam
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("search"))
	siteParam := r.URL.Query().Get("site")
	if siteParam == "" {
		siteParam = "all"
	}

	if query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Search query required"})
		return
	}

	targets, err := aggregate.ResolveSites(siteParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := searchCacheKey(query, siteParam)
	payload, state, lookupErr := s.responses.Lookup(key)
	if lookupErr != nil {
		slog.Error("Search cache lookup failed", "error", lookupErr)
	}
	if state == cache.StateFresh {
		writeCachedPayload(w, payload, cache.StatusHit, false, "")
		return
	}

	result := s.aggregator.Search(r.Context(), query, targets)
	if result.AllFailed() {
		if payload != nil {
			writeCachedPayload(w, payload, cache.StatusFallback, true,
				"Fresh data fetch failed. Returning stale data.")
			return
		}
		writeError(w, http.StatusInternalServerError, "All sites failed to respond")
		return
	}

	s.storeAndServe(w, key, result)
}

// storeAndServe caches a fresh envelope and serves it as a miss.
func (s *Server) storeAndServe(w http.ResponseWriter, key string, result *aggregate.Result) {
	raw, err := json.Marshal(result)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode results")
		return
	}
	if err := s.responses.Store(key, raw); err != nil {
		slog.Error("Failed to store response cache entry", "key", key, "error", err)
	}

	w.Header().Set(cacheStatusHeader, cache.StatusMiss)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(raw); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	postID := r.URL.Query().Get("id")
	siteID := r.URL.Query().Get("site")

	if postID == "" {
		writeError(w, http.StatusBadRequest, "Missing post ID parameter")
		return
	}
	if siteID == "" {
		writeError(w, http.StatusBadRequest, "Missing site parameter (skidrow, freegog, gamedrive, steamrip)")
		return
	}

	result, err := s.aggregator.PostByID(r.Context(), siteID, postID)
	if err != nil {
		if strings.Contains(err.Error(), "invalid site parameter") {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		writeError(w, http.StatusBadRequest, "Missing hash")
		return
	}

	result, err := s.resolver.Resolve(r.Context(), hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if result.Cached {
		w.Header().Set(cacheStatusHeader, "KV-HIT")
	} else {
		w.Header().Set(cacheStatusHeader, "KV-MISS")
		w.Header().Set(decryptSourceHeader, result.Source)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleImageProxy(w http.ResponseWriter, r *http.Request) {
	imageURL := r.URL.Query().Get("url")

	body, contentType, err := s.images.Fetch(r.Context(), imageURL)
	if err != nil {
		var statusErr *httputil.StatusError
		if errors.As(err, &statusErr) {
			http.Error(w, "Failed to fetch image: "+statusErr.Message, statusErr.StatusCode)
			return
		}
		if imageproxy.ValidateURL(imageURL) != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "Error fetching image: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=604800")
	if _, err := w.Write(body); err != nil {
		slog.Error("Failed to stream image", "error", err)
	}
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.responses.Delete(recentCacheKey); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear cache: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Successfully cleared cache for recent uploads.",
	})
}

func (s *Server) handleClearDecryptCache(w http.ResponseWriter, r *http.Request) {
	count, err := s.resolver.ClearAll()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to clear decrypt cache: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Cleared decrypted links from KV cache",
		"count":   count,
	})
}
