package aggregate

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/repackradar/repackradar/internal/sites"
	"github.com/repackradar/repackradar/internal/transform"
	"github.com/repackradar/repackradar/pkg/links"
	"github.com/repackradar/repackradar/pkg/testutil"
)

// TestRecentEnvelopeGolden pins the serialized envelope shape so field
// renames or omitempty changes show up as a diff.
func TestRecentEnvelopeGolden(t *testing.T) {
	skidrow := &sites.Site{ID: "skidrow", Name: "SkidrowReloaded"}
	freegog := &sites.Site{ID: "freegog", Name: "FreeGOGPCGames"}

	outcomes := []siteOutcome{
		{
			site: skidrow,
			posts: []transform.UnifiedPost{{
				ID:          "skidrow_101",
				OriginalID:  101,
				Title:       "Example Game Update v1.02",
				Excerpt:     "Short teaser",
				Link:        "https://www.skidrowreloaded.com/example-game",
				Date:        "2025-03-02T10:00:00",
				Slug:        "example-game",
				Description: "An example release.",
				Categories:  []int{12},
				Tags:        []int{3, 9},
				DownloadLinks: []links.DownloadLink{{
					Type:    links.TypeHosting,
					Service: "Mediafire",
					URL:     "https://www.mediafire.com/file/abc",
					Text:    "MEDIAFIRE",
				}},
				Source:   "SkidrowReloaded",
				SiteType: "skidrow",
				Image:    "https://example.com/cover.jpg",
			}},
		},
		{
			site: freegog,
			posts: []transform.UnifiedPost{{
				ID:            "freegog_7",
				OriginalID:    7,
				Title:         "Example Adventure",
				Link:          "https://freegogpcgames.com/example-adventure",
				Date:          "2025-03-01T09:30:00",
				Slug:          "example-adventure",
				Description:   "A point and click adventure.",
				Categories:    []int{},
				Tags:          []int{},
				DownloadLinks: []links.DownloadLink{},
				Source:        "FreeGOGPCGames",
				SiteType:      "freegog",
			}},
		},
	}

	result := newAggregator().merge(outcomes)
	result.Type = "recent_uploads"
	result.FetchStrategy = "recent"

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		t.Fatalf("MarshalIndent() error = %v", err)
	}
	testutil.CompareGoldenBytes(t, filepath.Join("testdata", "recent_envelope.golden"), append(out, '\n'))
}
