// Package sites holds the source-site descriptors and their registry.
// Each site file registers itself in init(), so importing the package is
// enough to make every site available; the registry preserves
// registration order for stable fan-out and envelope ordering.
package sites

import (
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/repackradar/repackradar/pkg/access"
	"github.com/repackradar/repackradar/pkg/scan"
)

// Site describes one WordPress-based source site: where its posts API
// lives, how it must be fetched, and how its pages are scanned for links.
type Site struct {
	ID      string
	Name    string
	BaseURL string
	HomeURL string

	// Categories filters the posts listing when the site mixes game
	// releases with other content.
	Categories string

	MaxPosts int
	MaxLinks int

	Policy access.Policy

	// Hosters scopes the site's anchor pass; nil means the full allow-list.
	Hosters []string
	// Rules are the site-specific extraction passes.
	Rules []scan.Rule

	// ProxyImages rewrites own-domain images through the image proxy so
	// browsers aren't blocked by the site's anti-bot layer.
	ProxyImages bool
	ImageHost   string

	// FeaturedImage pulls a site-specific image field off the raw post,
	// tried before falling back to content extraction.
	FeaturedImage func(*RawPost) string
}

// ListingURL builds the posts API URL. An empty query requests the recent
// listing; otherwise it is a search.
func (s *Site) ListingURL(query string) string {
	params := url.Values{}
	params.Set("orderby", "date")
	params.Set("order", "desc")
	if query != "" {
		params.Set("search", query)
	}
	if s.Categories != "" {
		params.Set("categories", s.Categories)
	}
	params.Set("per_page", strconv.Itoa(s.MaxPosts))
	if query == "" {
		params.Set("page", "1")
	}
	return s.BaseURL + "?" + params.Encode()
}

// Target returns the site's fetch target for the access layer.
func (s *Site) Target() access.Target {
	return access.Target{
		SiteID:   s.ID,
		Name:     s.Name,
		Policy:   s.Policy,
		SolveURL: s.BaseURL,
		Referer:  s.HomeURL + "/",
	}
}

// Profile returns the site's scan profile.
func (s *Site) Profile() scan.Profile {
	return scan.Profile{
		SiteID:   s.ID,
		MaxLinks: s.MaxLinks,
		Hosters:  s.Hosters,
		Rules:    s.Rules,
	}
}

// RawPost is the subset of the WordPress posts API payload the
// transformer consumes.
type RawPost struct {
	ID         int64         `json:"id"`
	Date       string        `json:"date"`
	Slug       string        `json:"slug"`
	Link       string        `json:"link"`
	Title      RenderedField `json:"title"`
	Excerpt    RenderedField `json:"excerpt"`
	Content    RenderedField `json:"content"`
	Categories []int         `json:"categories"`
	Tags       []int         `json:"tags"`

	FeaturedImageSrc        string     `json:"featured_image_src"`
	JetpackFeaturedMediaURL string     `json:"jetpack_featured_media_url"`
	YoastHeadJSON           *YoastHead `json:"yoast_head_json"`
}

// RenderedField is WordPress's {"rendered": "..."} wrapper.
type RenderedField struct {
	Rendered string `json:"rendered"`
}

// YoastHead carries the SEO plugin metadata some sites expose.
type YoastHead struct {
	OGImage []struct {
		URL string `json:"url"`
	} `json:"og_image"`
}

var (
	registryMu sync.RWMutex
	registry   []*Site
	byID       = make(map[string]*Site)
)

// Register adds a site to the registry. Called from each site file's
// init(); duplicate IDs are a programming error.
func Register(site *Site) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := byID[site.ID]; exists {
		panic(fmt.Sprintf("site %s is already registered", site.ID))
	}
	registry = append(registry, site)
	byID[site.ID] = site
}

// All returns every registered site in registration order.
func All() []*Site {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]*Site, len(registry))
	copy(out, registry)
	return out
}

// ByID returns the site registered under id, or nil.
func ByID(id string) *Site {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return byID[id]
}
