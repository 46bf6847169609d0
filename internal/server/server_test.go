package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/repackradar/repackradar/internal/aggregate"
	"github.com/repackradar/repackradar/internal/decrypt"
	"github.com/repackradar/repackradar/internal/imageproxy"
	"github.com/repackradar/repackradar/internal/transform"
	"github.com/repackradar/repackradar/pkg/access"
	"github.com/repackradar/repackradar/pkg/cache"
	"github.com/repackradar/repackradar/pkg/database"
	httputil "github.com/repackradar/repackradar/pkg/http"
)

type testHarness struct {
	server    *Server
	responses *cache.SWR
	store     *database.Cache
}

// newHarness wires a server against a temp database and the given
// decrypt API endpoint.
func newHarness(t *testing.T, decryptAPI string) *testHarness {
	t.Helper()

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "server.db")})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	responseStore := database.NewCache(db, "response_cache")
	if err := responseStore.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	kvStore := database.NewCache(db, "decrypted_links")
	if err := kvStore.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	client := httputil.NewClient(&httputil.ClientConfig{Timeout: 2 * time.Second})
	fetcher := access.NewFetcher(client, nil)
	transformer := transform.New(fetcher, "")
	responses := cache.New(responseStore, time.Hour, 2*time.Hour)

	srv := New(
		aggregate.New(fetcher, transformer),
		decrypt.New(client, kvStore, decryptAPI, ""),
		imageproxy.New(fetcher, client),
		responses,
	)
	return &testHarness{server: srv, responses: responses, store: kvStore}
}

func (h *testHarness) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response body is not JSON: %v\n%s", err, rec.Body.String())
	}
	return body
}

func TestOptionsPreflight(t *testing.T) {
	h := newHarness(t, "http://unused")
	rec := h.do(t, http.MethodOptions, "/recent")

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
}

func TestMethodPolicy(t *testing.T) {
	h := newHarness(t, "http://unused")

	for _, method := range []string{http.MethodDelete, http.MethodPut, http.MethodPatch} {
		rec := h.do(t, method, "/recent")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s status = %d, want 405", method, rec.Code)
		}
	}

	// POST is accepted everywhere GET is.
	rec := h.do(t, http.MethodPost, "/?search=")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("POST search status = %d, want 400 for empty query", rec.Code)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	h := newHarness(t, "http://unused")

	rec := h.do(t, http.MethodGet, "/?search=%20%20")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["error"] != "Search query required" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestSearchRejectsUnknownSite(t *testing.T) {
	h := newHarness(t, "http://unused")

	rec := h.do(t, http.MethodGet, "/?search=doom&site=myspace")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["success"] != false {
		t.Errorf("success = %v, want false", body["success"])
	}
}

func TestPostParameterValidation(t *testing.T) {
	h := newHarness(t, "http://unused")

	if rec := h.do(t, http.MethodGet, "/post"); rec.Code != http.StatusBadRequest {
		t.Errorf("missing id: status = %d, want 400", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/post?id=123"); rec.Code != http.StatusBadRequest {
		t.Errorf("missing site: status = %d, want 400", rec.Code)
	}
	if rec := h.do(t, http.MethodGet, "/post?id=123&site=myspace"); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown site: status = %d, want 400", rec.Code)
	}
}

func TestRecentServedFromFreshCache(t *testing.T) {
	h := newHarness(t, "http://unused")

	seeded := aggregate.Result{
		Success:       true,
		Type:          "recent_uploads",
		TotalResults:  0,
		SiteStats:     map[string]int{},
		Results:       []transform.UnifiedPost{},
		FetchStrategy: "recent",
	}
	raw, _ := json.Marshal(seeded)
	if err := h.responses.Store("recent:all", raw); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	rec := h.do(t, http.MethodGet, "/recent")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Cache-Status"); got != "HIT" {
		t.Errorf("X-Cache-Status = %q, want HIT", got)
	}
	body := decodeBody(t, rec)
	if body["cached"] != true {
		t.Error("cached flag not set on cache hit")
	}
	if _, hasStale := body["stale"]; hasStale {
		t.Error("stale flag set on a fresh hit")
	}
}

func TestSearchServedFromFreshCache(t *testing.T) {
	h := newHarness(t, "http://unused")

	seeded := aggregate.Result{
		Success:       true,
		Query:         "doom",
		TotalResults:  0,
		SiteStats:     map[string]int{},
		Results:       []transform.UnifiedPost{},
		FetchStrategy: "search",
	}
	raw, _ := json.Marshal(seeded)
	if err := h.responses.Store(searchCacheKey("doom", "all"), raw); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	rec := h.do(t, http.MethodGet, "/?search=doom")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("X-Cache-Status"); got != "HIT" {
		t.Errorf("X-Cache-Status = %q, want HIT", got)
	}
}

func TestDecryptFlow(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"resolvedUrl": "https://gofile.io/d/abc",
			"service":     "Gofile",
		})
	}))
	defer api.Close()

	h := newHarness(t, api.URL)

	rec := h.do(t, http.MethodGet, "/decrypt?hash=abc123")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Cache-Status"); got != "KV-MISS" {
		t.Errorf("X-Cache-Status = %q, want KV-MISS", got)
	}
	if got := rec.Header().Get("X-Decrypt-Source"); got != "direct" {
		t.Errorf("X-Decrypt-Source = %q, want direct", got)
	}

	rec = h.do(t, http.MethodGet, "/decrypt?hash=abc123")
	if got := rec.Header().Get("X-Cache-Status"); got != "KV-HIT" {
		t.Errorf("second call X-Cache-Status = %q, want KV-HIT", got)
	}
	body := decodeBody(t, rec)
	if body["cached"] != true {
		t.Error("cached flag not set on KV hit")
	}
}

func TestDecryptRequiresHash(t *testing.T) {
	h := newHarness(t, "http://unused")

	rec := h.do(t, http.MethodGet, "/decrypt")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Missing hash" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestImageProxyStreams(t *testing.T) {
	image := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"))
	}))
	defer image.Close()

	h := newHarness(t, "http://unused")

	rec := h.do(t, http.MethodGet, "/proxy-image?url="+image.URL+"/cover.png")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\n%s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=604800" {
		t.Errorf("Cache-Control = %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header on image response")
	}
}

func TestImageProxyRejectsBadURL(t *testing.T) {
	h := newHarness(t, "http://unused")

	if rec := h.do(t, http.MethodGet, "/proxy-image"); rec.Code != http.StatusBadRequest {
		t.Errorf("missing url: status = %d, want 400", rec.Code)
	}
	rec := h.do(t, http.MethodGet, "/proxy-image?url=https%3A%2F%2Fsecure.gravatar.com%2Favatar%2Fx.png")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("denylisted url: status = %d, want 400", rec.Code)
	}
}

func TestClearCache(t *testing.T) {
	h := newHarness(t, "http://unused")

	raw, _ := json.Marshal(aggregate.Result{Success: true})
	if err := h.responses.Store("recent:all", raw); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	rec := h.do(t, http.MethodGet, "/clearcache")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}

	if _, state, _ := h.responses.Lookup("recent:all"); state != cache.StateMiss {
		t.Error("recent cache entry survived /clearcache")
	}
}

func TestClearDecryptCache(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"url": "https://gofile.io/d/x"})
	}))
	defer api.Close()

	h := newHarness(t, api.URL)

	if rec := h.do(t, http.MethodGet, "/decrypt?hash=one"); rec.Code != http.StatusOK {
		t.Fatalf("seed decrypt failed: %d", rec.Code)
	}

	rec := h.do(t, http.MethodGet, "/clear-decrypt-cache")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["success"] != true {
		t.Errorf("success = %v", body["success"])
	}
	if body["count"] != float64(1) {
		t.Errorf("count = %v, want 1", body["count"])
	}
}
