package export

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-spider/internal/crawler"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubFetcher struct {
	results map[string]crawler.FetchResult
	errs    map[string]error
}

func (f stubFetcher) Fetch(_ context.Context, url string, _ time.Duration) (crawler.FetchResult, error) {
	if err, ok := f.errs[url]; ok {
		return crawler.FetchResult{}, err
	}
	if res, ok := f.results[url]; ok {
		return res, nil
	}
	return crawler.FetchResult{}, errors.New("connection refused")
}

var generatedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

// crawledSiteMap runs a real crawl against a stub site:
// the root links to /a, /b, /missing and a query URL; /a links to /deep,
// which sits at the depth limit.
func crawledSiteMap(t *testing.T) *crawler.SiteMap {
	t.Helper()
	fetcher := stubFetcher{
		results: map[string]crawler.FetchResult{
			"http://example.com": {StatusCode: 200, Title: "Home", Links: []string{
				"http://example.com/b",
				"http://example.com/a",
				"http://example.com/missing",
				"http://example.com/search?q=a&b=c",
			}},
			"http://example.com/a":              {StatusCode: 200, Title: "A", Links: []string{"http://example.com/deep"}},
			"http://example.com/b":              {StatusCode: 200, Title: "B"},
			"http://example.com/search?q=a&b=c": {StatusCode: 200, Title: "Search"},
		},
		errs: map[string]error{
			"http://example.com/missing": &crawler.HTTPStatusError{StatusCode: 404, Status: "Not Found"},
		},
	}
	clock := fixedClock{now: generatedAt}
	policy := crawler.DefaultPolicy("http://example.com")
	policy.MaxDepth = 2
	policy.MaxWorkers = 2
	policy.RespectRobots = false

	siteMap := crawler.NewSiteMap(policy, clock)
	engine := crawler.NewEngine(fetcher, nil, clock, nil, crawler.EngineConfig{IdleBackoff: time.Millisecond})
	require.NoError(t, engine.Run(context.Background(), "job-1", siteMap))
	require.Equal(t, crawler.StatusCompleted, siteMap.Status())
	return siteMap
}

func TestText(t *testing.T) {
	t.Parallel()
	siteMap := crawledSiteMap(t)

	want := "Sitemap for http://example.com\n" +
		"Generated on 2024-01-02T03:04:05Z\n" +
		"Total pages: 6\n" +
		"Successful pages: 4\n" +
		"Failed pages: 2\n\n" +
		"Depth 0 (1 pages):\n" +
		"  http://example.com - OK\n" +
		"\n" +
		"Depth 1 (4 pages):\n" +
		"  http://example.com/a - OK\n" +
		"  http://example.com/b - OK\n" +
		"  http://example.com/missing - ERROR: HTTP error: 404 Not Found\n" +
		"  http://example.com/search?q=a&b=c - OK\n" +
		"\n" +
		"Depth 2 (1 pages):\n" +
		"  http://example.com/deep - ERROR: \n" +
		"\n"

	got := Text(siteMap)
	assert.Equal(t, want, got)
	assert.Equal(t, got, Text(siteMap), "rendering a finished site map twice must be identical")
}

func TestTextInProgress(t *testing.T) {
	t.Parallel()
	siteMap := crawler.NewSiteMap(crawler.DefaultPolicy("https://example.org"), fixedClock{now: generatedAt})

	want := "Sitemap for https://example.org\n" +
		"Generated on in progress\n" +
		"Total pages: 0\n" +
		"Successful pages: 0\n" +
		"Failed pages: 0\n\n"
	assert.Equal(t, want, Text(siteMap))
}

func TestXML(t *testing.T) {
	t.Parallel()
	siteMap := crawledSiteMap(t)

	want := "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n" +
		"<urlset xmlns=\"http://www.sitemaps.org/schemas/sitemap/0.9\">\n" +
		"  <url>\n    <loc>http://example.com</loc>\n  </url>\n" +
		"  <url>\n    <loc>http://example.com/a</loc>\n  </url>\n" +
		"  <url>\n    <loc>http://example.com/b</loc>\n  </url>\n" +
		"  <url>\n    <loc>http://example.com/search?q=a&amp;b=c</loc>\n  </url>\n" +
		"</urlset>"

	got := XML(siteMap)
	assert.Equal(t, want, got)
	assert.Equal(t, got, XML(siteMap))
}

func TestXMLEmpty(t *testing.T) {
	t.Parallel()
	siteMap := crawler.NewSiteMap(crawler.DefaultPolicy("https://example.org"), fixedClock{now: generatedAt})

	assert.Equal(t,
		"<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n"+
			"<urlset xmlns=\"http://www.sitemaps.org/schemas/sitemap/0.9\">\n"+
			"</urlset>",
		XML(siteMap))
}

func TestMarkdown(t *testing.T) {
	t.Parallel()
	siteMap := crawledSiteMap(t)

	got, err := Markdown(siteMap)
	require.NoError(t, err)

	assert.Contains(t, got, "# Sitemap for http://example.com")
	assert.Contains(t, got, "## Depth 0 (1 pages)")
	assert.Contains(t, got, "## Depth 1 (4 pages)")
	assert.Contains(t, got, "## Depth 2 (1 pages)")
	assert.Contains(t, got, "HTTP error: 404 Not Found")
	assert.Contains(t, got, "COMPLETED")
	assert.Contains(t, got, "2024-01-02T03:04:05Z")

	again, err := Markdown(siteMap)
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestMarkdownEmpty(t *testing.T) {
	t.Parallel()
	siteMap := crawler.NewSiteMap(crawler.DefaultPolicy("https://example.org"), fixedClock{now: generatedAt})

	got, err := Markdown(siteMap)
	require.NoError(t, err)
	assert.Contains(t, got, "No pages recorded.")
	assert.Contains(t, got, "in progress")
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "xml", want: FormatXML},
		{in: "XML", want: FormatXML},
		{in: "text", want: FormatText},
		{in: "txt", want: FormatText},
		{in: "markdown", want: FormatMarkdown},
		{in: " md ", want: FormatMarkdown},
		{in: "json", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatMetadata(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "application/xml", FormatXML.ContentType())
	assert.Equal(t, "text/plain; charset=utf-8", FormatText.ContentType())
	assert.Equal(t, "text/markdown; charset=utf-8", FormatMarkdown.ContentType())
	assert.Equal(t, "xml", FormatXML.Extension())
	assert.Equal(t, "txt", FormatText.Extension())
	assert.Equal(t, "md", FormatMarkdown.Extension())
}

func TestRender(t *testing.T) {
	t.Parallel()
	siteMap := crawledSiteMap(t)

	for _, f := range Formats {
		out, err := Render(f, siteMap)
		require.NoError(t, err, f)
		assert.NotEmpty(t, out, f)
	}
	text, err := Render(FormatText, siteMap)
	require.NoError(t, err)
	assert.Equal(t, Text(siteMap), text)

	_, err = Render(Format("pdf"), siteMap)
	require.Error(t, err)
}
