package links

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// hostingDomains is the allow-list of recognized file-hosting domains and
// their display labels. Membership here is what makes an anchor a download
// link at all.
var hostingDomains = map[string]string{
	"mediafire.com":     "Mediafire",
	"mega.nz":           "MEGA",
	"mega.co.nz":        "MEGA",
	"1fichier.com":      "1Fichier",
	"rapidgator.net":    "Rapidgator",
	"uploaded.net":      "Uploaded",
	"turbobit.net":      "Turbobit",
	"nitroflare.com":    "Nitroflare",
	"katfile.com":       "Katfile",
	"pixeldrain.com":    "Pixeldrain",
	"gofile.io":         "Gofile",
	"mixdrop.to":        "Mixdrop",
	"krakenfiles.com":   "KrakenFiles",
	"filefactory.com":   "FileFactory",
	"dailyuploads.net":  "DailyUploads",
	"multiup.io":        "MultiUp",
	"zippyshare.com":    "Zippyshare",
	"drive.google.com":  "Google Drive",
	"dropbox.com":       "Dropbox",
	"onedrive.live.com": "OneDrive",
	"gamedrive.org":     "GameDrive",
	"torrent.cybar.xyz": "CybarTorrent",
	"buzzheavier.com":   "BuzzHeavier",
	"datanodes.to":      "DataNodes",
	"filecrypt.co":      "FileCrypt",
	"megadb.net":        "MegaDB",
	"hitfile.net":       "HitFile",
	"ufile.io":          "UFile",
	"clicknupload.site": "ClicknUpload",
}

// torrentHosts are tracker sites whose URLs count as torrent links even
// without a magnet scheme or .torrent suffix.
var torrentHosts = []string{
	"1337x.to",
	"thepiratebay.org",
	"rarbg.to",
	"kickasstorrents.to",
	"torrentgalaxy.to",
	"torrent.cybar.xyz",
	"eztv.re",
	"yts.mx",
	"torrentz2.eu",
}

// trackerLabels maps tracker URL substrings to friendly names, used for
// magnet and .torrent link annotations.
var trackerLabels = []serviceRule{
	{"1337x", "1337x"},
	{"rarbg", "RARBG"},
	{"piratebay", "PirateBay"},
	{"kickass", "KickAss"},
	{"torrentgalaxy", "TorrentGalaxy"},
}

var (
	trackerParamRe = regexp.MustCompile(`tr=([^&]+)`)
	tagRe          = regexp.MustCompile(`<[^>]*>?`)
)

// StripTags removes HTML tags from a string.
func StripTags(s string) string {
	return tagRe.ReplaceAllString(s, "")
}

// IsHostingURL reports whether the URL belongs to a recognized hosting
// service. Falls back to substring matching when the URL does not parse.
func IsHostingURL(rawURL string) bool {
	parsed, err := url.Parse(NormalizeURL(rawURL))
	if err != nil || parsed.Hostname() == "" {
		for domain := range hostingDomains {
			if strings.Contains(rawURL, domain) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(parsed.Hostname())
	for domain := range hostingDomains {
		if strings.Contains(host, domain) {
			return true
		}
	}
	return false
}

// IsTorrentURL reports whether the URL is a magnet link, a .torrent file or
// a known tracker-site URL.
func IsTorrentURL(rawURL string) bool {
	if strings.HasPrefix(rawURL, "magnet:") || strings.Contains(rawURL, ".torrent") {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		for _, host := range torrentHosts {
			if strings.Contains(rawURL, host) {
				return true
			}
		}
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	for _, site := range torrentHosts {
		if strings.Contains(host, site) {
			return true
		}
	}
	return false
}

// HostingDomains returns the full hosting allow-list, used by the generic
// fallback scan.
func HostingDomains() []string {
	domains := make([]string, 0, len(hostingDomains))
	for domain := range hostingDomains {
		domains = append(domains, domain)
	}
	return domains
}

// Classify builds a DownloadLink for a URL found in post markup. Returns nil
// when the URL is neither a torrent nor a recognized hosting link.
func Classify(rawURL, anchorText string) *DownloadLink {
	if link := ClassifyTorrent(rawURL, anchorText); link != nil {
		return link
	}

	if IsHostingURL(rawURL) {
		normalized := NormalizeURL(rawURL)
		service := ResolveService(normalized)
		// Anchor text on hosting links is noisy across sites; the service
		// label is the display text.
		return &DownloadLink{
			Type:    TypeHosting,
			Service: service,
			URL:     normalized,
			Text:    service,
		}
	}

	return nil
}

// ClassifyTorrent classifies magnet links, .torrent files and
// tracker-hosted URLs. Returns nil for anything else.
func ClassifyTorrent(rawURL, anchorText string) *DownloadLink {
	cleanText := strings.TrimSpace(StripTags(anchorText))

	if strings.HasPrefix(rawURL, "magnet:") {
		info := "Magnet Link"
		if match := trackerParamRe.FindStringSubmatch(rawURL); match != nil {
			tracker, err := url.QueryUnescape(match[1])
			if err != nil {
				tracker = match[1]
			}
			for _, rule := range trackerLabels {
				if strings.Contains(tracker, rule.domain) {
					info = fmt.Sprintf("Magnet Link (%s)", rule.label)
					break
				}
			}
		}
		return &DownloadLink{
			Type:        TypeTorrent,
			Service:     "Magnet",
			URL:         rawURL,
			Text:        preferAnchorText(cleanText, info),
			TorrentInfo: info,
		}
	}

	if strings.Contains(rawURL, ".torrent") {
		hostname := ResolveService(rawURL)
		info := "Torrent File"
		matched := false
		for _, rule := range trackerLabels {
			if strings.Contains(strings.ToLower(hostname), rule.domain) {
				info = fmt.Sprintf("Torrent File (%s)", rule.label)
				matched = true
				break
			}
		}
		if !matched && hostname != rawURL {
			info = fmt.Sprintf("Torrent File (%s)", hostname)
		}
		return &DownloadLink{
			Type:        TypeTorrent,
			Service:     "Torrent",
			URL:         rawURL,
			Text:        preferAnchorText(cleanText, info),
			TorrentInfo: info,
		}
	}

	hostname := ResolveService(rawURL)
	if strings.Contains(strings.ToLower(hostname), "torrent") {
		text := cleanText
		if text == "" {
			text = hostname
		}
		return &DownloadLink{
			Type:        TypeTorrent,
			Service:     hostname,
			URL:         rawURL,
			Text:        text,
			TorrentInfo: fmt.Sprintf("Torrent (%s)", hostname),
		}
	}

	return nil
}

// preferAnchorText keeps the anchor text when it carries information,
// rejecting empty strings and generic "click here" placeholders.
func preferAnchorText(anchorText, fallback string) string {
	lower := strings.ToLower(anchorText)
	if anchorText == "" || strings.Contains(lower, "click") || strings.Contains(lower, "here") {
		return fallback
	}
	return anchorText
}
