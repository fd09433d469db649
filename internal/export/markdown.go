package export

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"

	"github.com/JakeFAU/site-spider/internal/crawler"
)

// Markdown renders the depth report as GitHub flavored Markdown tables.
func Markdown(siteMap *crawler.SiteMap) (string, error) {
	r := newReport(siteMap)
	var b strings.Builder
	md := markdown.NewMarkdown(&b)

	md.H1("Sitemap for " + r.summary.StartURL)
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Status", string(r.summary.Status)},
			{"Generated on", r.generatedOn()},
			{"Total pages", strconv.Itoa(r.summary.TotalPages)},
			{"Successful pages", strconv.Itoa(r.summary.SuccessfulPages)},
			{"Failed pages", strconv.Itoa(r.summary.FailedPages)},
		},
	})
	md.PlainText("")

	if len(r.depths) == 0 {
		md.PlainText("No pages recorded.")
	}
	for _, depth := range r.depths {
		pages := r.byDepth[depth]
		md.H2(fmt.Sprintf("Depth %d (%d pages)", depth, len(pages)))
		md.PlainText("")
		rows := make([][]string, 0, len(pages))
		for _, p := range pages {
			rows = append(rows, []string{p.URL, p.Title, pageOutcome(p)})
		}
		md.Table(markdown.TableSet{
			Header: []string{"URL", "Title", "Outcome"},
			Rows:   rows,
		})
		md.PlainText("")
	}

	if err := md.Build(); err != nil {
		return "", fmt.Errorf("build markdown: %w", err)
	}
	return b.String(), nil
}
