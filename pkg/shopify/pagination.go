package shopify

import (
	"net/url"
	"strings"
)

// NextPageToken extracts the continuation token from a Link response header.
// The upstream paginates RFC 5988 style:
//
//	Link: <https://shop.example/admin/api/2024-10/orders.json?page_info=abc&limit=250>; rel="next",
//	      <...>; rel="previous"
//
// The token is the page_info query parameter of the rel="next" target. An
// absent header, an absent next relation, or an unparsable target all mean
// the window is exhausted and return "".
func NextPageToken(linkHeader string) string {
	if linkHeader == "" {
		return ""
	}

	for _, part := range strings.Split(linkHeader, ",") {
		target, rel, found := strings.Cut(part, ";")
		if !found || !strings.Contains(rel, `rel="next"`) {
			continue
		}

		target = strings.TrimSpace(target)
		target = strings.TrimPrefix(target, "<")
		target = strings.TrimSuffix(target, ">")

		u, err := url.Parse(target)
		if err != nil {
			return ""
		}
		return u.Query().Get("page_info")
	}

	return ""
}
