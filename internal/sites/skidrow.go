package sites

import (
	"github.com/repackradar/repackradar/pkg/access"
	"github.com/repackradar/repackradar/pkg/scan"
)

func init() {
	Register(&Site{
		ID:       "skidrow",
		Name:     "SkidrowReloaded",
		BaseURL:  "https://www.skidrowreloaded.com/wp-json/wp/v2/posts",
		HomeURL:  "https://www.skidrowreloaded.com",
		MaxPosts: 40,
		Policy:   access.PolicyDirectThenCookie,
		// Release posts carry styled code blocks with the archive filename
		// next to each mirror link.
		Rules: []scan.Rule{
			scan.CodeBlockFilenameRule{},
		},
		ProxyImages: true,
		ImageHost:   "skidrowreloaded.com",
	})
}
