package scan

import (
	"fmt"
	"strings"
	"testing"

	"github.com/repackradar/repackradar/pkg/links"
)

const postURL = "https://example.org/post/some-game"

func gamedriveProfile() Profile {
	return Profile{
		SiteID:   "gamedrive",
		MaxLinks: 20,
		Rules: []Rule{
			NewExtrasShortCircuitRule("soundtrack|mp3"),
			CryptLinkRule{},
		},
	}
}

func TestScanDeduplicatesByURL(t *testing.T) {
	html := `
		<a href="https://www.mediafire.com/file/abc">Part 1</a>
		<a href="https://www.mediafire.com/file/abc">Part 1 mirror</a>
		<a href="https://gofile.io/d/xyz">Gofile</a>`

	result := Scan(html, postURL, Profile{SiteID: "test"})

	seen := make(map[string]int)
	for _, link := range result {
		seen[link.URL]++
	}
	for url, count := range seen {
		if count > 1 {
			t.Errorf("url %q appears %d times, want 1", url, count)
		}
	}
	if len(result) != 2 {
		t.Errorf("got %d links, want 2", len(result))
	}
}

func TestScanCapsResultLength(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&sb, `<a href="https://gofile.io/d/file%d">link</a>`, i)
	}

	if got := Scan(sb.String(), postURL, Profile{SiteID: "test", MaxLinks: 15}); len(got) > 15 {
		t.Errorf("got %d links, want <= 15", len(got))
	}
	if got := Scan(sb.String(), postURL, Profile{SiteID: "test", MaxLinks: 20}); len(got) != 20 {
		t.Errorf("got %d links, want 20 with higher cap", len(got))
	}
	if got := Scan(sb.String(), postURL, Profile{SiteID: "test"}); len(got) != DefaultMaxLinks {
		t.Errorf("got %d links, want default cap %d", len(got), DefaultMaxLinks)
	}
}

func TestScanExtrasShortCircuit(t *testing.T) {
	html := `
		<p>Includes the original Soundtrack as a bonus.</p>
		<a href="https://www.mediafire.com/file/abc">Part 1</a>
		<a href="magnet:?xt=urn:btih:ABC">magnet</a>`

	result := Scan(html, postURL, gamedriveProfile())

	if len(result) != 1 {
		t.Fatalf("got %d links, want exactly 1 manual link", len(result))
	}
	link := result[0]
	if link.Type != links.TypeManual {
		t.Errorf("type = %q, want %q", link.Type, links.TypeManual)
	}
	if link.URL != postURL {
		t.Errorf("url = %q, want post url", link.URL)
	}
}

func TestScanHostingAnchor(t *testing.T) {
	html := `<a href="https://www.mediafire.com/file/abc">Part 1</a>`

	result := Scan(html, postURL, Profile{SiteID: "test"})

	if len(result) != 1 {
		t.Fatalf("got %d links, want 1", len(result))
	}
	link := result[0]
	if link.Type != links.TypeHosting || link.Service != "Mediafire" || link.Text != "Mediafire" {
		t.Errorf("got %+v, want hosting link labeled Mediafire", link)
	}
	if link.URL != "https://www.mediafire.com/file/abc" {
		t.Errorf("url = %q", link.URL)
	}
}

func TestScanFirstWriterWins(t *testing.T) {
	// The structural rule sees the URL first and keeps its richer record
	// even though the generic pass would also match it.
	html := `
		<a href="https://pixeldrain.com/u/abc">download</a>
		<div class="codecolorer-container"><div class="text codecolorer">Game.Repack.v1.0.iso</div></div>`

	profile := Profile{
		SiteID: "skidrow",
		Rules:  []Rule{CodeBlockFilenameRule{}},
	}
	result := Scan(html, postURL, profile)

	if len(result) != 1 {
		t.Fatalf("got %d links, want 1", len(result))
	}
	if result[0].Filename != "Game.Repack.v1.0.iso" {
		t.Errorf("filename = %q, want the code-block filename kept", result[0].Filename)
	}
}

func TestCodeBlockSkipsPlaceholderFilenames(t *testing.T) {
	html := `
		<a href="https://pixeldrain.com/u/abc">download</a>
		<div class="codecolorer-container"><div class="text codecolorer">Uploading...</div></div>`

	found, stop := (CodeBlockFilenameRule{}).Extract(&Page{HTML: html, PostURL: postURL})
	if stop {
		t.Error("rule must not short-circuit")
	}
	if len(found) != 0 {
		t.Errorf("got %d links, want 0 for placeholder filename", len(found))
	}
}

func TestCryptLinkRule(t *testing.T) {
	html := `
		<p>https://crypt.cybar.xyz/link#aGVsbG8=</p>
		<p>https://crypt.cybar.xyz/#aGVsbG8=</p>
		<p>https://crypt.cybar.xyz/link#b3RoZXI=</p>`

	result := Scan(html, postURL, gamedriveProfile())

	var crypts []links.DownloadLink
	for _, link := range result {
		if link.Type == links.TypeCrypt {
			crypts = append(crypts, link)
		}
	}
	if len(crypts) != 2 {
		t.Fatalf("got %d crypt links, want 2 unique ids", len(crypts))
	}
	if crypts[0].URL != "https://crypt.cybar.xyz/link#aGVsbG8=" {
		t.Errorf("url = %q, want canonical link#id form", crypts[0].URL)
	}
}

func TestFileCryptRuleRunsForEverySite(t *testing.T) {
	html := `<a href="https://filecrypt.co/Container/ABC123.html">mirror</a>`

	result := Scan(html, postURL, Profile{SiteID: "steamrip"})

	// The anchor pass records the container as a hosting link with its
	// full URL; the wrapper pass adds the captcha-flagged record under
	// the suffix-free URL. Both survive, matching the two entries the
	// sites' pages actually need.
	if len(result) != 2 {
		t.Fatalf("got %d links, want 2", len(result))
	}

	var wrapper *links.DownloadLink
	for i := range result {
		if result[i].Type == links.TypeFileCrypt {
			wrapper = &result[i]
		}
	}
	if wrapper == nil {
		t.Fatal("no filecrypt-typed link in scan result")
	}
	if !wrapper.RequiresCaptcha {
		t.Error("requiresCaptcha = false, want true")
	}
	if wrapper.ID != "ABC123" {
		t.Errorf("id = %q, want ABC123", wrapper.ID)
	}
}

func TestHosterAnchorKeepsApprovedTrackerHost(t *testing.T) {
	html := `<a href="https://1337x.to/torrent/123/some-game/">1337x mirror</a>`

	result := Scan(html, postURL, Profile{
		SiteID:  "gamedrive",
		Hosters: []string{"1337x.to"},
	})

	if len(result) != 1 {
		t.Fatalf("got %d links, want 1", len(result))
	}
	link := result[0]
	if link.Type != links.TypeHosting {
		t.Errorf("type = %q, want %q", link.Type, links.TypeHosting)
	}
	if link.Service != "1337x.to" {
		t.Errorf("service = %q, want the hostname label", link.Service)
	}
	if link.URL != "https://1337x.to/torrent/123/some-game/" {
		t.Errorf("url = %q", link.URL)
	}
}

func TestTorrentAnchorRule(t *testing.T) {
	html := `
		<a href="magnet:?xt=urn:btih:ABC&amp;tr=http%3A%2F%2Ftracker.1337x.to%2Fannounce">Click here</a>
		<a href="https://example.com/game.torrent">Download torrent</a>`

	result := Scan(html, postURL, Profile{SiteID: "test"})

	if len(result) != 2 {
		t.Fatalf("got %d links, want 2", len(result))
	}
	for _, link := range result {
		if link.Type != links.TypeTorrent {
			t.Errorf("type = %q, want torrent", link.Type)
		}
	}
	if result[0].Text != "Magnet Link (1337x)" {
		t.Errorf("magnet text = %q, want tracker label for placeholder anchor", result[0].Text)
	}
}

func TestDownloadButtonRule(t *testing.T) {
	html := `
		<a class="download-btn" href="https://gdl.freegogpcgames.xyz/game-setup.exe">Download Game</a>
		<a class="btn" href="https://www.mediafire.com/file/abc">Mirror</a>
		<a class="nav-link" href="https://example.com/about">About</a>`

	rule := NewDownloadButtonRule("gdl.freegogpcgames.xyz", "FreeGOG")
	found, _ := rule.Extract(&Page{HTML: html, PostURL: postURL})

	if len(found) != 2 {
		t.Fatalf("got %d links, want 2", len(found))
	}
	if found[0].Type != links.TypeDirect || found[0].Service != "FreeGOG" {
		t.Errorf("cdn button link = %+v, want direct FreeGOG", found[0])
	}
	if found[1].Type != links.TypeHosting || found[1].Service != "Mediafire" {
		t.Errorf("hoster button link = %+v, want hosting Mediafire", found[1])
	}
}

func TestDirectFileRule(t *testing.T) {
	html := `
		<a href="https://pixeldrain.com/files/game.iso">Get ISO</a>
		<a href="https://unknownhost.example/file.zip">elsewhere</a>`

	rule := NewDirectFileRule("exe|zip|rar|7z|iso|bin|cue|mdf|mds")
	found, _ := rule.Extract(&Page{HTML: html, PostURL: postURL})

	if len(found) != 1 {
		t.Fatalf("got %d links, want 1 (non-approved host rejected)", len(found))
	}
	if found[0].Type != links.TypeDirect || found[0].Text != "Get ISO" {
		t.Errorf("got %+v", found[0])
	}
}

func TestScanMalformedHTMLReturnsEmpty(t *testing.T) {
	if got := Scan("", postURL, Profile{SiteID: "test"}); len(got) != 0 {
		t.Errorf("empty html got %d links, want 0", len(got))
	}
	if got := Scan("<<<<not html", postURL, Profile{SiteID: "test"}); len(got) != 0 {
		t.Errorf("garbage html got %d links, want 0", len(got))
	}
}
