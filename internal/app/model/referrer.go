package model

import (
	"net/url"
	"strings"
)

// DirectReferrer is the referrer facet for visits without a Referer header.
const DirectReferrer = "direct"

// ReferrerFacet reduces a Referer header to its host.
func ReferrerFacet(referer string) string {
	referer = strings.TrimSpace(referer)
	if referer == "" {
		return DirectReferrer
	}
	u, err := url.Parse(referer)
	if err != nil || u.Hostname() == "" {
		return UnknownFacet
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
