// Package transform turns raw WordPress post payloads into the unified
// post shape served by the API, deriving the description, the preview
// image, and (when requested) the extracted download links.
package transform

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/repackradar/repackradar/internal/sites"
	"github.com/repackradar/repackradar/pkg/access"
	"github.com/repackradar/repackradar/pkg/links"
	"github.com/repackradar/repackradar/pkg/scan"
)

// UnifiedPost is the cross-site post shape in API responses.
type UnifiedPost struct {
	ID            string               `json:"id"`
	OriginalID    int64                `json:"originalId"`
	Title         string               `json:"title"`
	Excerpt       string               `json:"excerpt"`
	Link          string               `json:"link"`
	Date          string               `json:"date"`
	Slug          string               `json:"slug"`
	Description   string               `json:"description"`
	Categories    []int                `json:"categories"`
	Tags          []int                `json:"tags"`
	DownloadLinks []links.DownloadLink `json:"downloadLinks"`
	Source        string               `json:"source"`
	SiteType      string               `json:"siteType"`
	Image         string               `json:"image,omitempty"`
}

// defaultBatchSize bounds the concurrent detail-page fetches per site.
const defaultBatchSize = 8

// Transformer converts raw posts, fetching detail pages through the
// access layer when link extraction is on.
type Transformer struct {
	fetcher *access.Fetcher
	// proxyBase is this server's public base URL, used to build
	// /proxy-image links for protected-site images. Empty disables
	// rewriting.
	proxyBase string
	batchSize int
}

// New creates a transformer. proxyBase may be empty.
func New(fetcher *access.Fetcher, proxyBase string) *Transformer {
	return &Transformer{
		fetcher:   fetcher,
		proxyBase: strings.TrimSuffix(proxyBase, "/"),
		batchSize: defaultBatchSize,
	}
}

// Post converts one raw post. With fetchLinks set, the post's page is
// fetched and scanned; a failed fetch degrades to an empty link list.
func (t *Transformer) Post(ctx context.Context, raw *sites.RawPost, site *sites.Site, fetchLinks bool) UnifiedPost {
	downloadLinks := []links.DownloadLink{}
	if fetchLinks {
		downloadLinks = t.extractLinks(ctx, raw, site)
	}

	title := raw.Title.Rendered
	if title == "" {
		title = "No title"
	}

	return UnifiedPost{
		ID:            site.ID + "_" + strconv.FormatInt(raw.ID, 10),
		OriginalID:    raw.ID,
		Title:         title,
		Excerpt:       strings.TrimSpace(links.StripTags(raw.Excerpt.Rendered)),
		Link:          raw.Link,
		Date:          raw.Date,
		Slug:          raw.Slug,
		Description:   ExtractDescription(raw.Content.Rendered),
		Categories:    raw.Categories,
		Tags:          raw.Tags,
		DownloadLinks: downloadLinks,
		Source:        site.Name,
		SiteType:      site.ID,
		Image:         t.image(raw, site),
	}
}

// Batch converts posts in fixed-size batches, posts within a batch in
// parallel with a brief pause between batches to soften the load on
// protected sites. Order is preserved.
func (t *Transformer) Batch(ctx context.Context, raws []sites.RawPost, site *sites.Site, fetchLinks bool) []UnifiedPost {
	out := make([]UnifiedPost, len(raws))
	size := t.batchSize
	if size <= 0 {
		size = defaultBatchSize
	}

	for start := 0; start < len(raws); start += size {
		end := start + size
		if end > len(raws) {
			end = len(raws)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				out[i] = t.Post(ctx, &raws[i], site, fetchLinks)
			}(i)
		}
		wg.Wait()

		if end < len(raws) {
			select {
			case <-ctx.Done():
				return out[:end]
			case <-time.After(time.Millisecond):
			}
		}
	}
	return out
}

func (t *Transformer) extractLinks(ctx context.Context, raw *sites.RawPost, site *sites.Site) []links.DownloadLink {
	if t.fetcher == nil || raw.Link == "" {
		return []links.DownloadLink{}
	}

	body, err := t.fetcher.FetchPage(ctx, site.Target(), raw.Link, true)
	if err != nil {
		slog.Warn("Failed to fetch post page, skipping link extraction",
			"site", site.ID, "url", raw.Link, "error", err)
		return []links.DownloadLink{}
	}

	found := scan.Scan(string(body), raw.Link, site.Profile())
	if found == nil {
		found = []links.DownloadLink{}
	}
	return found
}

// image derives the post's preview image: site-specific featured fields
// first, then the first usable img tag in the content or excerpt, then a
// proxy rewrite for protected-site originals.
func (t *Transformer) image(raw *sites.RawPost, site *sites.Site) string {
	var image string
	if site.FeaturedImage != nil {
		image = site.FeaturedImage(raw)
	}
	if image == "" {
		image = FirstContentImage(raw.Content.Rendered)
	}
	if image == "" {
		image = FirstContentImage(raw.Excerpt.Rendered)
	}
	if image == "" {
		return ""
	}

	if t.proxyBase != "" && site.ProxyImages && strings.Contains(image, site.ImageHost) {
		return t.proxyBase + "/proxy-image?url=" + url.QueryEscape(image)
	}
	return image
}

// invalidImagePatterns excludes decorative markup: emoji sprites, avatar
// services and smiley packs.
var invalidImagePatterns = []*regexp.Regexp{
	regexp.MustCompile(`wordpress\.com/s2/images/smile/`),
	regexp.MustCompile(`gravatar\.com`),
	regexp.MustCompile(`s\.w\.org/images/core/emoji/`),
}

// FirstContentImage returns the first img src in the HTML fragment that
// isn't decorative, or "".
func FirstContentImage(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	var image string
	doc.Find("img[src]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src := strings.TrimSpace(sel.AttrOr("src", ""))
		if src == "" || !validImageURL(src) {
			return true
		}
		image = src
		return false
	})
	return image
}

func validImageURL(src string) bool {
	for _, pattern := range invalidImagePatterns {
		if pattern.MatchString(src) {
			return false
		}
	}
	return true
}

var (
	entryContentRe = regexp.MustCompile(`(?is)<div[^>]*class="entry-content"[^>]*>(.*?)</div>`)
	anchorTextRe   = regexp.MustCompile(`(?is)<a[^>]*>(.*?)</a>`)
	imgTagRe       = regexp.MustCompile(`(?i)<img[^>]*>`)
	// boilerplateRe drops the field labels release posts repeat.
	boilerplateRe = regexp.MustCompile(`(?i)Download Links|Password|Title:|Genre:|Developer:|Publisher:|Release Name:|Game Version:|Size:|Interface Language:|Audio Language:|Subtitles Language:|Crack:|Minimun:|Operating system:|CPU:|RAM:|Hard disk:|Video card:|Installation:|Game Features:|Repack Features:|Description:|Screenshots:`)
)

// ExtractDescription derives a plain-text description from the rendered
// content. It prefers the entry-content block, keeps anchor text while
// dropping the anchors themselves, strips images and boilerplate labels,
// and collapses blank lines.
func ExtractDescription(content string) string {
	if content == "" {
		return ""
	}

	match := entryContentRe.FindStringSubmatch(content)
	if match == nil {
		return strings.TrimSpace(links.StripTags(content))
	}

	text := match[1]
	text = anchorTextRe.ReplaceAllString(text, "$1")
	text = imgTagRe.ReplaceAllString(text, "")
	text = boilerplateRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(links.StripTags(text))

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}
