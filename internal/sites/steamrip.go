package sites

import (
	"github.com/repackradar/repackradar/pkg/access"
)

func init() {
	Register(&Site{
		ID:       "steamrip",
		Name:     "SteamRip",
		BaseURL:  "https://steamrip.com/wp-json/wp/v2/posts",
		HomeURL:  "https://steamrip.com",
		MaxPosts: 40,
		// The whole site sits behind the challenge wall, so every request
		// is cookie-authenticated from the start.
		Policy: access.PolicyCookie,

		ProxyImages: true,
		ImageHost:   "steamrip.com",
		FeaturedImage: func(post *RawPost) string {
			if post.YoastHeadJSON != nil && len(post.YoastHeadJSON.OGImage) > 0 {
				return post.YoastHeadJSON.OGImage[0].URL
			}
			return ""
		},
	})
}
