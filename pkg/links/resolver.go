package links

import (
	"net/url"
	"strings"
)

// UnknownService is returned when a URL cannot be parsed and matches no
// fallback rule.
const UnknownService = "Unknown"

// serviceRule maps a hostname substring to a display label. Rules are
// checked in order, so overlapping domains must list the more specific
// substring first ("megadb" before "mega").
type serviceRule struct {
	domain string
	label  string
}

var serviceRules = []serviceRule{
	{"gamedrive.org", "GameDrive"},
	{"torrent.cybar.xyz", "CybarTorrent"},
	{"freegogpcgames", "FreeGOG"},
	{"mediafire", "Mediafire"},
	{"megadb", "MegaDB"},
	{"mega", "MEGA"},
	{"1fichier", "1Fichier"},
	{"rapidgator", "Rapidgator"},
	{"uploaded", "Uploaded"},
	{"turbobit", "Turbobit"},
	{"nitroflare", "Nitroflare"},
	{"katfile", "Katfile"},
	{"pixeldrain", "Pixeldrain"},
	{"gofile", "Gofile"},
	{"mixdrop", "Mixdrop"},
	{"krakenfiles", "KrakenFiles"},
	{"filefactory", "FileFactory"},
	{"dailyuploads", "DailyUploads"},
	{"multiup", "MultiUp"},
	{"zippyshare", "Zippyshare"},
	{"drive.google", "Google Drive"},
	{"dropbox", "Dropbox"},
	{"onedrive", "OneDrive"},
	{"torrent", "Torrent"},
	{"buzzheavier", "BuzzHeavier"},
	{"datanodes", "DataNodes"},
	{"filecrypt", "FileCrypt"},
	{"hitfile", "HitFile"},
	{"ufile", "UFile"},
	{"clicknupload", "ClicknUpload"},
}

// fallbackRules is the reduced set checked against the raw string when URL
// parsing fails (malformed markup still carries recognizable hosts).
var fallbackRules = []serviceRule{
	{"megadb", "MegaDB"},
	{"buzzheavier", "BuzzHeavier"},
	{"datanodes", "DataNodes"},
	{"filecrypt", "FileCrypt"},
	{"hitfile", "HitFile"},
	{"ufile", "UFile"},
	{"clicknupload", "ClicknUpload"},
}

// NormalizeURL upgrades protocol-relative URLs (//host/path) to https.
func NormalizeURL(raw string) string {
	if strings.HasPrefix(raw, "//") {
		return "https:" + raw
	}
	return raw
}

// ResolveService maps a URL to a canonical hosting-service label. Unmatched
// hostnames resolve to the hostname itself; unparsable URLs fall back to a
// substring search and finally to UnknownService.
func ResolveService(rawURL string) string {
	parsed, err := url.Parse(NormalizeURL(rawURL))
	if err != nil || parsed.Hostname() == "" {
		for _, rule := range fallbackRules {
			if strings.Contains(rawURL, rule.domain) {
				return rule.label
			}
		}
		return UnknownService
	}

	host := strings.ToLower(parsed.Hostname())
	for _, rule := range serviceRules {
		if strings.Contains(host, rule.domain) {
			return rule.label
		}
	}
	return host
}
