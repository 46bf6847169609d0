package sites

import (
	"github.com/repackradar/repackradar/pkg/access"
	"github.com/repackradar/repackradar/pkg/scan"
)

// freegogHosters scopes the anchor pass to the mirrors this site uses,
// torrent mirrors included.
var freegogHosters = []string{
	"mediafire",
	"mega",
	"1fichier",
	"rapidgator",
	"uploaded",
	"turbobit",
	"nitroflare",
	"katfile",
	"pixeldrain",
	"gofile",
	"mixdrop",
	"krakenfiles",
	"filefactory",
	"dailyuploads",
	"multiup",
	"drive.google",
	"dropbox",
	"onedrive",
	"hitfile",
	"ufile",
	"clicknupload",
	"torrent",
}

func init() {
	Register(&Site{
		ID:       "freegog",
		Name:     "FreeGOGPCGames",
		BaseURL:  "https://freegogpcgames.com/wp-json/wp/v2/posts",
		HomeURL:  "https://freegogpcgames.com",
		MaxPosts: 100,
		MaxLinks: 20,
		Policy:   access.PolicyDirect,
		// The scoped anchor pass runs first so mirror links win over the
		// direct-file and button passes for the same URL.
		Rules: []scan.Rule{
			scan.NewHosterAnchorRule(freegogHosters),
			scan.NewDirectFileRule("exe|zip|rar|7z|iso|bin|cue|mdf|mds"),
			scan.NewDownloadButtonRule("gdl.freegogpcgames.xyz", "FreeGOG"),
		},
	})
}
