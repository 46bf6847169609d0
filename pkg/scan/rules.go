package scan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/repackradar/repackradar/pkg/links"
)

// Rule is one named extraction pass over a post page. Extract returns the
// links it found and whether the scan should stop after this rule.
type Rule interface {
	Name() string
	Extract(p *Page) (found []links.DownloadLink, stop bool)
}

// Page is the post document handed to extraction rules. The goquery
// document is parsed lazily since regex-only rules never need it.
type Page struct {
	HTML    string
	PostURL string

	doc *goquery.Document
}

// Doc returns the parsed document, or nil when the HTML does not parse.
func (p *Page) Doc() *goquery.Document {
	if p.doc == nil {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.HTML))
		if err != nil {
			return nil
		}
		p.doc = doc
	}
	return p.doc
}

// eachAnchor visits every anchor with an href attribute.
func (p *Page) eachAnchor(fn func(href, text string)) {
	doc := p.Doc()
	if doc == nil {
		return
	}
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		fn(strings.TrimSpace(href), strings.TrimSpace(sel.Text()))
	})
}

// ExtrasShortCircuitRule aborts extraction when the page mentions bundled
// extras (soundtracks etc.) that make automated link grabbing unreliable,
// and yields a single manual-action link pointing at the post instead.
type ExtrasShortCircuitRule struct {
	pattern *regexp.Regexp
}

// NewExtrasShortCircuitRule builds the rule from a keyword alternation such
// as "soundtrack|mp3".
func NewExtrasShortCircuitRule(keywords string) *ExtrasShortCircuitRule {
	return &ExtrasShortCircuitRule{
		pattern: regexp.MustCompile(`(?i)\b(` + keywords + `)\b`),
	}
}

func (r *ExtrasShortCircuitRule) Name() string { return "extras-short-circuit" }

func (r *ExtrasShortCircuitRule) Extract(p *Page) ([]links.DownloadLink, bool) {
	if !r.pattern.MatchString(p.HTML) {
		return nil, false
	}
	return []links.DownloadLink{{
		Type:    links.TypeManual,
		Service: "Manual Grab",
		URL:     p.PostURL,
		Text:    "Post contains extras, grab manually",
	}}, true
}

// CodeBlockFilenameRule handles styled code blocks that carry a release
// filename, where the nearest preceding anchor supplies the download URL.
type CodeBlockFilenameRule struct{}

var (
	codeBlockRe     = regexp.MustCompile(`(?is)<div class="codecolorer-container[^>]*>.*?<div class="text codecolorer">(.*?)</div>.*?</div>`)
	precedingHrefRe = regexp.MustCompile(`(?is)<a[^>]+href=["']([^"']*)["']`)
)

func (CodeBlockFilenameRule) Name() string { return "code-block-filename" }

func (CodeBlockFilenameRule) Extract(p *Page) ([]links.DownloadLink, bool) {
	var found []links.DownloadLink
	for _, idx := range codeBlockRe.FindAllStringSubmatchIndex(p.HTML, -1) {
		filename := strings.TrimSpace(p.HTML[idx[2]:idx[3]])
		if filename == "" || len(filename) <= 3 || strings.Contains(filename, "Uploading") {
			continue
		}
		before := p.HTML[:idx[0]]
		anchors := precedingHrefRe.FindAllStringSubmatch(before, -1)
		if len(anchors) == 0 {
			continue
		}
		// The nearest anchor above the code block owns the filename.
		url := anchors[len(anchors)-1][1]
		if !links.IsHostingURL(url) {
			continue
		}
		service := links.ResolveService(url)
		found = append(found, links.DownloadLink{
			Type:     links.TypeHosting,
			Service:  service,
			URL:      url,
			Filename: filename,
			Text:     fmt.Sprintf("%s - %s", service, filename),
		})
	}
	return found, false
}

// HosterAnchorRule scans anchors whose href matches a site-scoped hosting
// allow-list and classifies each hit.
type HosterAnchorRule struct {
	hosters []string
}

// NewHosterAnchorRule builds the rule; an empty hoster list means the full
// allow-list.
func NewHosterAnchorRule(hosters []string) *HosterAnchorRule {
	if len(hosters) == 0 {
		hosters = links.HostingDomains()
	}
	return &HosterAnchorRule{hosters: hosters}
}

func (r *HosterAnchorRule) Name() string { return "hoster-anchors" }

func (r *HosterAnchorRule) Extract(p *Page) ([]links.DownloadLink, bool) {
	var found []links.DownloadLink
	p.eachAnchor(func(href, _ string) {
		matched := false
		for _, domain := range r.hosters {
			if strings.Contains(href, domain) {
				matched = true
				break
			}
		}
		if !matched {
			return
		}
		if link := links.Classify(href, ""); link != nil {
			found = append(found, *link)
			return
		}
		// Approved hosts outside the classifier's tables (tracker mirrors
		// on a scoped list) still count as hosting links, labeled by host.
		normalized := links.NormalizeURL(href)
		service := links.ResolveService(normalized)
		found = append(found, links.DownloadLink{
			Type:    links.TypeHosting,
			Service: service,
			URL:     normalized,
			Text:    service,
		})
	})
	return found, false
}

// TorrentAnchorRule matches magnet hrefs and .torrent-suffixed hrefs
// anywhere in the document.
type TorrentAnchorRule struct{}

func (TorrentAnchorRule) Name() string { return "torrent-anchors" }

func (TorrentAnchorRule) Extract(p *Page) ([]links.DownloadLink, bool) {
	var found []links.DownloadLink
	p.eachAnchor(func(href, text string) {
		if !strings.HasPrefix(href, "magnet:") && !strings.Contains(href, ".torrent") {
			return
		}
		if link := links.ClassifyTorrent(href, text); link != nil {
			found = append(found, *link)
		}
	})
	return found, false
}

// DirectFileRule matches anchors pointing straight at archive or image
// files on an approved host.
type DirectFileRule struct {
	pattern *regexp.Regexp
}

// NewDirectFileRule builds the rule from a file-extension alternation such
// as "exe|zip|rar|7z|iso|bin|cue|mdf|mds".
func NewDirectFileRule(extensions string) *DirectFileRule {
	return &DirectFileRule{
		pattern: regexp.MustCompile(`(?i)^https?://.*\.(` + extensions + `)(\?.*)?$`),
	}
}

func (r *DirectFileRule) Name() string { return "direct-file" }

func (r *DirectFileRule) Extract(p *Page) ([]links.DownloadLink, bool) {
	var found []links.DownloadLink
	p.eachAnchor(func(href, text string) {
		if !r.pattern.MatchString(href) || !links.IsHostingURL(href) {
			return
		}
		if text == "" {
			text = "Direct Download"
		}
		found = append(found, links.DownloadLink{
			Type:    links.TypeDirect,
			Service: "Direct Download",
			URL:     href,
			Text:    text,
		})
	})
	return found, false
}

// DownloadButtonRule matches anchors styled as download buttons. When
// cdnHost is set, matching links become Direct downloads labeled with the
// site's own service name; otherwise button links are classified like any
// other hosting anchor.
type DownloadButtonRule struct {
	cdnHost string
	service string
}

// NewDownloadButtonRule builds the rule. cdnHost restricts the button scan
// to a site CDN; service labels the resulting direct links.
func NewDownloadButtonRule(cdnHost, service string) *DownloadButtonRule {
	return &DownloadButtonRule{cdnHost: cdnHost, service: service}
}

var buttonMarkerRe = regexp.MustCompile(`(?i)\b(download|btn|button)\b|download-btn`)

func (r *DownloadButtonRule) Name() string { return "download-button" }

func (r *DownloadButtonRule) Extract(p *Page) ([]links.DownloadLink, bool) {
	doc := p.Doc()
	if doc == nil {
		return nil, false
	}
	var found []links.DownloadLink
	doc.Find("a[href], button[href]").Each(func(_ int, sel *goquery.Selection) {
		class, _ := sel.Attr("class")
		id, _ := sel.Attr("id")
		if !buttonMarkerRe.MatchString(class) && !buttonMarkerRe.MatchString(id) {
			return
		}
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || !strings.HasPrefix(href, "http") {
			return
		}
		text := strings.TrimSpace(sel.Text())

		if r.cdnHost != "" && strings.Contains(href, r.cdnHost) {
			if text == "" {
				text = r.service + " Download"
			}
			found = append(found, links.DownloadLink{
				Type:    links.TypeDirect,
				Service: r.service,
				URL:     href,
				Text:    text,
			})
			return
		}
		if link := links.Classify(href, ""); link != nil && link.Type == links.TypeHosting {
			found = append(found, *link)
		}
	})
	return found, false
}

// CryptLinkRule matches encrypted-link-wrapper URLs carrying a fragment or
// path encoded identifier and reconstructs the canonical wrapper URL.
type CryptLinkRule struct{}

var cryptRe = regexp.MustCompile(`(?i)https?://crypt\.cybar\.xyz/(?:link)?#?([A-Za-z0-9_\-+/=]+)`)

func (CryptLinkRule) Name() string { return "crypt-links" }

func (CryptLinkRule) Extract(p *Page) ([]links.DownloadLink, bool) {
	var found []links.DownloadLink
	for _, match := range cryptRe.FindAllStringSubmatch(p.HTML, -1) {
		found = append(found, links.DownloadLink{
			Type:    links.TypeCrypt,
			Service: "Crypt",
			URL:     "https://crypt.cybar.xyz/link#" + match[1],
			Text:    "Encrypted Link",
		})
	}
	return found, false
}

// FileCryptRule matches captcha-gated wrapper container URLs. It runs for
// every site, appended after the site-specific passes.
type FileCryptRule struct{}

var filecryptRe = regexp.MustCompile(`(?i)https?://filecrypt\.co/(?:Container/|Link/)([A-Z0-9]+)`)

func (FileCryptRule) Name() string { return "filecrypt-links" }

func (FileCryptRule) Extract(p *Page) ([]links.DownloadLink, bool) {
	var found []links.DownloadLink
	for _, match := range filecryptRe.FindAllStringSubmatch(p.HTML, -1) {
		found = append(found, links.DownloadLink{
			Type:            links.TypeFileCrypt,
			Service:         "FileCrypt",
			URL:             match[0],
			Text:            "FileCrypt (Requires CAPTCHA)",
			ID:              match[1],
			RequiresCaptcha: true,
		})
	}
	return found, false
}
