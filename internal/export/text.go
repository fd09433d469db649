package export

import (
	"fmt"
	"strings"

	"github.com/JakeFAU/site-spider/internal/crawler"
)

// Text renders a plain text report: a header with counters followed by one
// section per depth, each listing its pages by URL.
func Text(siteMap *crawler.SiteMap) string {
	r := newReport(siteMap)
	var b strings.Builder
	fmt.Fprintf(&b, "Sitemap for %s\n", r.summary.StartURL)
	fmt.Fprintf(&b, "Generated on %s\n", r.generatedOn())
	fmt.Fprintf(&b, "Total pages: %d\n", r.summary.TotalPages)
	fmt.Fprintf(&b, "Successful pages: %d\n", r.summary.SuccessfulPages)
	fmt.Fprintf(&b, "Failed pages: %d\n\n", r.summary.FailedPages)

	for _, depth := range r.depths {
		pages := r.byDepth[depth]
		fmt.Fprintf(&b, "Depth %d (%d pages):\n", depth, len(pages))
		for _, p := range pages {
			fmt.Fprintf(&b, "  %s - %s\n", p.URL, pageOutcome(p))
		}
		b.WriteString("\n")
	}
	return b.String()
}
