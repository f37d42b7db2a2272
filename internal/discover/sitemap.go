package discover

import (
	"encoding/xml"
	"fmt"
)

// urlSet models a <urlset> sitemap document.
type urlSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapLoc `xml:"url"`
}

// sitemapIndex models a <sitemapindex> document pointing at child sitemaps.
type sitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// parseSitemap extracts <loc> entries from either sitemap document flavor.
// The second return value reports whether the payload was a sitemap index,
// in which case the entries are child sitemap URLs, not page URLs.
func parseSitemap(body []byte) ([]string, bool, error) {
	var set urlSet
	if err := xml.Unmarshal(body, &set); err == nil && len(set.URLs) > 0 {
		return locStrings(set.URLs), false, nil
	}

	var index sitemapIndex
	if err := xml.Unmarshal(body, &index); err == nil && len(index.Sitemaps) > 0 {
		return locStrings(index.Sitemaps), true, nil
	}

	return nil, false, fmt.Errorf("no <loc> entries found")
}

func locStrings(locs []sitemapLoc) []string {
	out := make([]string, 0, len(locs))
	for _, l := range locs {
		if l.Loc != "" {
			out = append(out, l.Loc)
		}
	}
	return out
}
