package sites

import (
	"github.com/repackradar/repackradar/pkg/access"
	"github.com/repackradar/repackradar/pkg/scan"
)

// gamedriveHosters is the approved mirror list for the scoped anchor pass.
var gamedriveHosters = []string{
	"mediafire.com",
	"mega.nz",
	"1fichier.com",
	"rapidgator.net",
	"uploaded.net",
	"turbobit.net",
	"nitroflare.com",
	"katfile.com",
	"pixeldrain.com",
	"gofile.io",
	"mixdrop.to",
	"krakenfiles.com",
	"filefactory.com",
	"dailyuploads.net",
	"multiup.io",
	"drive.google.com",
	"dropbox.com",
	"onedrive.live.com",
	"hitfile.net",
	"ufile.io",
	"clicknupload.site",
	"1337x.to",
}

func init() {
	Register(&Site{
		ID:         "gamedrive",
		Name:       "GameDrive",
		BaseURL:    "https://gamedrive.org/wp-json/wp/v2/posts",
		HomeURL:    "https://gamedrive.org",
		Categories: "3",
		MaxPosts:   40,
		MaxLinks:   20,
		Policy:     access.PolicyDirect,
		Hosters:    gamedriveHosters,
		// Posts bundling extras can't be auto-grabbed, so that check runs
		// first and short-circuits; otherwise encrypted wrapper links are
		// collected before the anchor passes.
		Rules: []scan.Rule{
			scan.NewExtrasShortCircuitRule("soundtrack|mp3"),
			scan.CryptLinkRule{},
		},
		FeaturedImage: func(post *RawPost) string {
			if post.FeaturedImageSrc != "" {
				return post.FeaturedImageSrc
			}
			return post.JetpackFeaturedMediaURL
		},
	})
}
