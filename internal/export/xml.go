package export

import (
	"encoding/xml"
	"strings"

	"github.com/JakeFAU/site-spider/internal/crawler"
)

const (
	xmlHeader = "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n" +
		"<urlset xmlns=\"http://www.sitemaps.org/schemas/sitemap/0.9\">\n"
	xmlFooter = "</urlset>"
)

// XML renders the successful pages of siteMap as a sitemaps.org urlset,
// ordered by URL.
func XML(siteMap *crawler.SiteMap) string {
	var b strings.Builder
	b.WriteString(xmlHeader)
	for _, p := range siteMap.Pages() {
		if !p.IsSuccess() {
			continue
		}
		b.WriteString("  <url>\n    <loc>")
		// strings.Builder writes never fail.
		_ = xml.EscapeText(&b, []byte(p.URL))
		b.WriteString("</loc>\n  </url>\n")
	}
	b.WriteString(xmlFooter)
	return b.String()
}
