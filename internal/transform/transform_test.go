package transform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/repackradar/repackradar/internal/sites"
	"github.com/repackradar/repackradar/pkg/access"
	httputil "github.com/repackradar/repackradar/pkg/http"
)

func rendered(s string) sites.RenderedField {
	return sites.RenderedField{Rendered: s}
}

func TestPostBasicFields(t *testing.T) {
	tr := New(nil, "")
	site := sites.ByID("freegog")

	raw := sites.RawPost{
		ID:      123,
		Date:    "2025-06-01T10:00:00",
		Slug:    "some-game",
		Link:    "https://freegogpcgames.com/some-game/",
		Title:   rendered("Some Game v1.2"),
		Excerpt: rendered("<p>A short <b>excerpt</b>.</p>"),
	}

	post := tr.Post(context.Background(), &raw, site, false)

	if post.ID != "freegog_123" {
		t.Errorf("id = %q, want freegog_123", post.ID)
	}
	if post.OriginalID != 123 {
		t.Errorf("originalId = %d", post.OriginalID)
	}
	if post.Excerpt != "A short excerpt." {
		t.Errorf("excerpt = %q, want tags stripped", post.Excerpt)
	}
	if post.Source != "FreeGOGPCGames" || post.SiteType != "freegog" {
		t.Errorf("source = %q siteType = %q", post.Source, post.SiteType)
	}
	if post.DownloadLinks == nil || len(post.DownloadLinks) != 0 {
		t.Errorf("downloadLinks = %v, want empty non-nil slice", post.DownloadLinks)
	}
}

func TestPostMissingTitle(t *testing.T) {
	tr := New(nil, "")
	site := sites.ByID("freegog")

	post := tr.Post(context.Background(), &sites.RawPost{ID: 1}, site, false)
	if post.Title != "No title" {
		t.Errorf("title = %q, want No title placeholder", post.Title)
	}
}

func TestPostExtractsLinksFromDetailPage(t *testing.T) {
	page := `<html><body>
		<a href="https://www.mediafire.com/file/abc/game.rar">Download</a>
	</body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer server.Close()

	fetcher := access.NewFetcher(httputil.NewClient(nil), nil)
	tr := New(fetcher, "")
	site := sites.ByID("freegog")

	raw := sites.RawPost{ID: 5, Link: server.URL, Title: rendered("Game")}
	post := tr.Post(context.Background(), &raw, site, true)

	if len(post.DownloadLinks) != 1 {
		t.Fatalf("downloadLinks = %v, want one Mediafire link", post.DownloadLinks)
	}
	if post.DownloadLinks[0].Service != "Mediafire" {
		t.Errorf("service = %q", post.DownloadLinks[0].Service)
	}
}

func TestPostFetchFailureYieldsEmptyLinks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := access.NewFetcher(httputil.NewClient(nil), nil)
	tr := New(fetcher, "")
	site := sites.ByID("freegog")

	raw := sites.RawPost{ID: 6, Link: server.URL, Title: rendered("Game")}
	post := tr.Post(context.Background(), &raw, site, true)

	if post.DownloadLinks == nil || len(post.DownloadLinks) != 0 {
		t.Errorf("downloadLinks = %v, want empty non-nil slice", post.DownloadLinks)
	}
}

func TestBatchPreservesOrder(t *testing.T) {
	tr := New(nil, "")
	site := sites.ByID("gamedrive")

	raws := make([]sites.RawPost, 20)
	for i := range raws {
		raws[i] = sites.RawPost{ID: int64(i + 1), Title: rendered("Post")}
	}

	posts := tr.Batch(context.Background(), raws, site, false)
	if len(posts) != 20 {
		t.Fatalf("got %d posts, want 20", len(posts))
	}
	for i, post := range posts {
		if post.OriginalID != int64(i+1) {
			t.Fatalf("posts[%d].originalId = %d, order not preserved", i, post.OriginalID)
		}
	}
}

func TestImageFromFeaturedField(t *testing.T) {
	tr := New(nil, "")
	site := sites.ByID("gamedrive")

	raw := sites.RawPost{
		ID:               1,
		FeaturedImageSrc: "https://gamedrive.org/img/cover.jpg",
		Content:          rendered(`<img src="https://gamedrive.org/img/other.jpg">`),
	}
	post := tr.Post(context.Background(), &raw, site, false)
	if post.Image != "https://gamedrive.org/img/cover.jpg" {
		t.Errorf("image = %q, want the featured field", post.Image)
	}
}

func TestImageFallsBackToContent(t *testing.T) {
	tr := New(nil, "")
	site := sites.ByID("freegog")

	raw := sites.RawPost{
		ID:      1,
		Content: rendered(`<p>text</p><img src="https://cdn.example.com/cover.png">`),
	}
	post := tr.Post(context.Background(), &raw, site, false)
	if post.Image != "https://cdn.example.com/cover.png" {
		t.Errorf("image = %q", post.Image)
	}
}

func TestImageSkipsDecorativeSources(t *testing.T) {
	got := FirstContentImage(`
		<img src="https://wordpress.com/s2/images/smile/icon.gif">
		<img src="https://secure.gravatar.com/avatar/abc.png">
		<img src="https://s.w.org/images/core/emoji/11/72x72/1f600.png">
		<img src="https://example.com/real.jpg">`)
	if got != "https://example.com/real.jpg" {
		t.Errorf("image = %q, want the first non-decorative source", got)
	}
}

func TestImageProxyRewriteForProtectedSite(t *testing.T) {
	tr := New(nil, "https://api.example.com")
	site := sites.ByID("steamrip")

	raw := sites.RawPost{
		ID: 1,
		YoastHeadJSON: &sites.YoastHead{OGImage: []struct {
			URL string `json:"url"`
		}{{URL: "https://steamrip.com/wp-content/cover.jpg"}}},
	}
	post := tr.Post(context.Background(), &raw, site, false)

	want := "https://api.example.com/proxy-image?url=" +
		"https%3A%2F%2Fsteamrip.com%2Fwp-content%2Fcover.jpg"
	if post.Image != want {
		t.Errorf("image = %q, want %q", post.Image, want)
	}
}

func TestImageNotProxiedForForeignHost(t *testing.T) {
	tr := New(nil, "https://api.example.com")
	site := sites.ByID("steamrip")

	raw := sites.RawPost{
		ID:      1,
		Content: rendered(`<img src="https://cdn.elsewhere.com/cover.jpg">`),
	}
	post := tr.Post(context.Background(), &raw, site, false)
	if strings.Contains(post.Image, "proxy-image") {
		t.Errorf("image = %q, foreign host should not be proxied", post.Image)
	}
}

func TestExtractDescription(t *testing.T) {
	content := `<div class="entry-content">
Title: Some Game
Genre: Action
<a href="https://example.com/mirror">Mirror One</a>
<img src="https://example.com/shot.png">
A hero sets out on a journey.

Download Links
</div>`

	got := ExtractDescription(content)

	if strings.Contains(got, "Title:") || strings.Contains(got, "Genre:") {
		t.Errorf("description %q still carries boilerplate labels", got)
	}
	if !strings.Contains(got, "Mirror One") {
		t.Errorf("description %q lost anchor text", got)
	}
	if strings.Contains(got, "img") || strings.Contains(got, "shot.png") {
		t.Errorf("description %q still carries image markup", got)
	}
	if !strings.Contains(got, "A hero sets out on a journey.") {
		t.Errorf("description %q lost the prose", got)
	}
	if strings.Contains(got, "\n\n") {
		t.Errorf("description %q carries blank lines", got)
	}
}

func TestExtractDescriptionWithoutEntryContent(t *testing.T) {
	got := ExtractDescription("<p>Plain <b>content</b> here.</p>")
	if got != "Plain content here." {
		t.Errorf("description = %q", got)
	}
}

func TestExtractDescriptionEmpty(t *testing.T) {
	if got := ExtractDescription(""); got != "" {
		t.Errorf("description = %q, want empty", got)
	}
}
