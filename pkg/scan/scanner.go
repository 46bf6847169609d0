// Package scan extracts download links from post pages. Each source site
// declares a profile of named extraction rules; the scanner runs the
// site-specific rules first, then the shared hosting, torrent and wrapper
// passes, deduplicating by URL as it goes.
package scan

import (
	"log/slog"

	"github.com/repackradar/repackradar/pkg/links"
)

// DefaultMaxLinks caps the link list for sites without an explicit limit.
const DefaultMaxLinks = 15

// Profile describes how one site's pages are scanned.
type Profile struct {
	SiteID   string
	MaxLinks int
	// Hosters scopes the site anchor pass; empty means the full allow-list.
	Hosters []string
	// Rules are site-specific structural passes, run before everything else.
	Rules []Rule
}

// sharedRules run for every site after the site-specific passes, in order:
// scoped hosting anchors, full-list fallback, torrents, captcha wrappers.
func (pr Profile) passes() []Rule {
	rules := make([]Rule, 0, len(pr.Rules)+4)
	rules = append(rules, pr.Rules...)
	rules = append(rules,
		NewHosterAnchorRule(pr.Hosters),
		NewHosterAnchorRule(nil),
		TorrentAnchorRule{},
		FileCryptRule{},
	)
	return rules
}

// accumulator collects links across rule passes, first writer wins per URL.
type accumulator struct {
	seen  map[string]struct{}
	links []links.DownloadLink
}

func newAccumulator() *accumulator {
	return &accumulator{seen: make(map[string]struct{})}
}

func (a *accumulator) add(found []links.DownloadLink) {
	for _, link := range found {
		if _, dup := a.seen[link.URL]; dup {
			continue
		}
		a.seen[link.URL] = struct{}{}
		a.links = append(a.links, link)
	}
}

// Scan runs the profile's extraction passes over a post page and returns
// the deduplicated, capped link list. A short-circuiting rule discards
// everything after it. Never returns an error: unmatched or malformed
// markup simply yields fewer links.
func Scan(html, postURL string, profile Profile) []links.DownloadLink {
	page := &Page{HTML: html, PostURL: postURL}
	acc := newAccumulator()

	for _, rule := range profile.passes() {
		found, stop := rule.Extract(page)
		acc.add(found)
		if stop {
			slog.Debug("Scan short-circuited",
				"site", profile.SiteID,
				"rule", rule.Name(),
				"links", len(acc.links))
			break
		}
	}

	max := profile.MaxLinks
	if max <= 0 {
		max = DefaultMaxLinks
	}
	// Cap only at the very end so structural rules are never starved by
	// the generic passes.
	if len(acc.links) > max {
		acc.links = acc.links[:max]
	}

	slog.Debug("Scanned post page",
		"site", profile.SiteID,
		"links", len(acc.links))
	return acc.links
}
