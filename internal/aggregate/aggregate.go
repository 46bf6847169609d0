// Package aggregate fans requests out to every selected source site,
// merges the per-site results into one date-sorted list, and folds site
// failures into the envelope instead of failing the whole request.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/repackradar/repackradar/internal/sites"
	"github.com/repackradar/repackradar/internal/transform"
	"github.com/repackradar/repackradar/pkg/access"
)

// Result is the aggregation envelope served for listing and search
// requests. Optional fields stay omitted when empty so cached payloads
// round-trip byte for byte.
type Result struct {
	Success       bool                    `json:"success"`
	Type          string                  `json:"type,omitempty"`
	Query         string                  `json:"query,omitempty"`
	SitesSearched []string                `json:"sitesSearched,omitempty"`
	TotalResults  int                     `json:"totalResults"`
	SiteStats     map[string]int          `json:"siteStats"`
	Results       []transform.UnifiedPost `json:"results"`
	Errors        map[string]string       `json:"errors,omitempty"`
	FetchStrategy string                  `json:"fetchStrategy"`
	Cached        bool                    `json:"cached"`
	Stale         bool                    `json:"stale,omitempty"`
	Error         string                  `json:"error,omitempty"`
}

// AllFailed reports whether every site in the fan-out failed and nothing
// usable came back, the condition under which a stale cache entry beats
// the fresh result.
func (r *Result) AllFailed() bool {
	return len(r.Errors) > 0 && len(r.Errors) == len(r.SiteStats) && r.TotalResults == 0
}

// PostResult wraps a single post lookup.
type PostResult struct {
	Success bool                  `json:"success"`
	Post    transform.UnifiedPost `json:"post"`
	Cached  bool                  `json:"cached"`
}

// Aggregator runs the fan-out.
type Aggregator struct {
	fetcher     *access.Fetcher
	transformer *transform.Transformer
}

// New creates an aggregator.
func New(fetcher *access.Fetcher, transformer *transform.Transformer) *Aggregator {
	return &Aggregator{fetcher: fetcher, transformer: transformer}
}

// ResolveSites maps a site query parameter to the sites to fan out to.
// Empty and "all" select every site; "both" is a legacy alias for the
// original two-site pair; anything else must be a registered site ID.
func ResolveSites(param string) ([]*sites.Site, error) {
	switch param {
	case "", "all":
		return sites.All(), nil
	case "both":
		var pair []*sites.Site
		for _, id := range []string{"skidrow", "freegog"} {
			if site := sites.ByID(id); site != nil {
				pair = append(pair, site)
			}
		}
		return pair, nil
	default:
		site := sites.ByID(param)
		if site == nil {
			return nil, fmt.Errorf("invalid site parameter %q, valid options: skidrow, freegog, gamedrive, steamrip", param)
		}
		return []*sites.Site{site}, nil
	}
}

// siteOutcome is one site's share of a fan-out.
type siteOutcome struct {
	site  *sites.Site
	posts []transform.UnifiedPost
	err   error
}

// Recent aggregates the recent listings of every site. Listing mode never
// extracts download links.
func (a *Aggregator) Recent(ctx context.Context) *Result {
	outcomes := a.fanOut(ctx, sites.All(), "", false)

	result := a.merge(outcomes)
	result.Type = "recent_uploads"
	result.FetchStrategy = "recent"
	return result
}

// Search aggregates search results across targets, extracting download
// links from each matching post.
func (a *Aggregator) Search(ctx context.Context, query string, targets []*sites.Site) *Result {
	outcomes := a.fanOut(ctx, targets, query, true)

	result := a.merge(outcomes)
	result.Query = query
	result.SitesSearched = make([]string, 0, len(targets))
	for _, site := range targets {
		result.SitesSearched = append(result.SitesSearched, site.Name)
	}
	result.FetchStrategy = "search"
	return result
}

// PostByID fetches one post from a site's API and transforms it with
// link extraction on.
func (a *Aggregator) PostByID(ctx context.Context, siteID, postID string) (*PostResult, error) {
	site := sites.ByID(siteID)
	if site == nil {
		return nil, fmt.Errorf("invalid site parameter %q, valid options: skidrow, freegog, gamedrive, steamrip", siteID)
	}

	body, err := a.fetcher.FetchPage(ctx, site.Target(), site.BaseURL+"/"+postID, false)
	if err != nil {
		return nil, fmt.Errorf("fetching post %s from %s: %w", postID, site.Name, err)
	}

	var raw sites.RawPost
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decoding post %s from %s: %w", postID, site.Name, err)
	}

	post := a.transformer.Post(ctx, &raw, site, true)
	return &PostResult{Success: true, Post: post}, nil
}

// fanOut queries every target concurrently; each site's failure lands in
// its own outcome.
func (a *Aggregator) fanOut(ctx context.Context, targets []*sites.Site, query string, fetchLinks bool) []siteOutcome {
	outcomes := make([]siteOutcome, len(targets))

	var wg sync.WaitGroup
	for i, site := range targets {
		wg.Add(1)
		go func(i int, site *sites.Site) {
			defer wg.Done()
			posts, err := a.fetchSite(ctx, site, query, fetchLinks)
			outcomes[i] = siteOutcome{site: site, posts: posts, err: err}
		}(i, site)
	}
	wg.Wait()

	return outcomes
}

func (a *Aggregator) fetchSite(ctx context.Context, site *sites.Site, query string, fetchLinks bool) ([]transform.UnifiedPost, error) {
	url := site.ListingURL(query)
	slog.Debug("Fetching site listing", "site", site.ID, "url", url)

	body, err := a.fetcher.FetchPage(ctx, site.Target(), url, false)
	if err != nil {
		return nil, err
	}

	var raws []sites.RawPost
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("%s returned an unreadable listing: %w", site.Name, err)
	}

	slog.Debug("Got listing", "site", site.ID, "posts", len(raws))
	return a.transformer.Batch(ctx, raws, site, fetchLinks), nil
}

// merge folds per-site outcomes into the envelope: stats and errors per
// site, dateless posts dropped, the rest sorted newest first.
func (a *Aggregator) merge(outcomes []siteOutcome) *Result {
	result := &Result{
		Success:   true,
		SiteStats: make(map[string]int),
		Results:   []transform.UnifiedPost{},
	}

	for _, outcome := range outcomes {
		result.SiteStats[outcome.site.Name] = len(outcome.posts)
		if outcome.err != nil {
			if result.Errors == nil {
				result.Errors = make(map[string]string)
			}
			result.Errors[outcome.site.Name] = outcome.err.Error()
			slog.Warn("Site fetch failed", "site", outcome.site.ID, "error", outcome.err)
		}
		for _, post := range outcome.posts {
			if post.Date == "" {
				continue
			}
			result.Results = append(result.Results, post)
		}
	}

	sortByDateDesc(result.Results)
	result.TotalResults = len(result.Results)
	return result
}

// wpDateLayouts cover the date formats the sites emit; WordPress omits
// the zone by default.
var wpDateLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range wpDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// sortByDateDesc orders posts newest first; unparseable dates sink to the
// end. The sort is stable so same-date posts keep site order.
func sortByDateDesc(posts []transform.UnifiedPost) {
	sort.SliceStable(posts, func(i, j int) bool {
		ti, okI := parseDate(posts[i].Date)
		tj, okJ := parseDate(posts[j].Date)
		if !okI {
			return false
		}
		if !okJ {
			return true
		}
		return ti.After(tj)
	})
}
