// Package links classifies raw URLs found on repack sites into typed
// download-link records with a canonical hosting-service label.
package links

// LinkType identifies what kind of download a link points at.
type LinkType string

const (
	TypeHosting   LinkType = "hosting"
	TypeTorrent   LinkType = "torrent"
	TypeDirect    LinkType = "direct"
	TypeCrypt     LinkType = "crypt"
	TypeFileCrypt LinkType = "filecrypt"
	TypeManual    LinkType = "manual"
)

// DownloadLink is a single classified download entry for a post.
// Links are unique by URL within one post's list.
type DownloadLink struct {
	Type            LinkType `json:"type"`
	Service         string   `json:"service"`
	URL             string   `json:"url"`
	Text            string   `json:"text"`
	Filename        string   `json:"filename,omitempty"`
	TorrentInfo     string   `json:"torrentInfo,omitempty"`
	ID              string   `json:"id,omitempty"`
	RequiresCaptcha bool     `json:"requiresCaptcha,omitempty"`
}
