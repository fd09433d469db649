// Package export renders site maps as sitemaps.org XML, plain text reports
// and Markdown reports.
package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/site-spider/internal/crawler"
)

// Format names a rendering.
type Format string

const (
	// FormatXML is the sitemaps.org urlset listing successful pages.
	FormatXML Format = "xml"
	// FormatText is the plain text report grouped by depth.
	FormatText Format = "text"
	// FormatMarkdown is the Markdown report grouped by depth.
	FormatMarkdown Format = "markdown"
)

// Formats lists every supported format in archive order.
var Formats = []Format{FormatXML, FormatText, FormatMarkdown}

// ParseFormat maps a user-supplied name to a Format.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case FormatXML:
		return FormatXML, nil
	case FormatText, "txt":
		return FormatText, nil
	case FormatMarkdown, "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", name)
	}
}

// ContentType returns the HTTP content type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatXML:
		return "application/xml"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "text/plain; charset=utf-8"
	}
}

// Extension returns the file extension used when archiving f.
func (f Format) Extension() string {
	switch f {
	case FormatXML:
		return "xml"
	case FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

// Render produces siteMap in format f.
func Render(f Format, siteMap *crawler.SiteMap) (string, error) {
	switch f {
	case FormatXML:
		return XML(siteMap), nil
	case FormatText:
		return Text(siteMap), nil
	case FormatMarkdown:
		return Markdown(siteMap)
	default:
		return "", fmt.Errorf("unsupported export format %q", f)
	}
}

// report is the single page snapshot every text-based rendering works from.
type report struct {
	summary crawler.Summary
	depths  []int
	byDepth map[int][]crawler.Page
}

func newReport(siteMap *crawler.SiteMap) report {
	pages := siteMap.Pages()
	r := report{
		summary: siteMap.Summary(),
		byDepth: make(map[int][]crawler.Page),
	}
	successful := 0
	for _, p := range pages {
		if p.IsSuccess() {
			successful++
		}
		r.byDepth[p.Depth] = append(r.byDepth[p.Depth], p)
	}
	// Counters come from the same snapshot as the listing.
	r.summary.TotalPages = len(pages)
	r.summary.SuccessfulPages = successful
	r.summary.FailedPages = len(pages) - successful
	for d := range r.byDepth {
		r.depths = append(r.depths, d)
	}
	sort.Ints(r.depths)
	return r
}

func (r report) generatedOn() string {
	if r.summary.EndTime == nil {
		return "in progress"
	}
	return r.summary.EndTime.UTC().Format("2006-01-02T15:04:05Z07:00")
}

func pageOutcome(p crawler.Page) string {
	if p.IsSuccess() {
		return "OK"
	}
	return "ERROR: " + p.ErrorMessage
}
