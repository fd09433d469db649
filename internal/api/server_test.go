package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-spider/internal/config"
	"github.com/JakeFAU/site-spider/internal/crawler"
	"github.com/JakeFAU/site-spider/internal/metrics"
	"github.com/JakeFAU/site-spider/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeIDGen struct {
	mu  sync.Mutex
	ids []string
	n   int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.n < len(g.ids) {
		id := g.ids[g.n]
		g.n++
		return id, nil
	}
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

// siteFetcher serves a small fixed site. When gate is non-nil every fetch
// blocks until it is closed.
type siteFetcher struct {
	gate  chan struct{}
	calls atomic.Int32
}

var testSite = map[string]crawler.FetchResult{
	"https://example.com": {StatusCode: 200, Title: "Home", Links: []string{
		"https://example.com/about",
		"https://example.com/blog",
		"https://other.org/elsewhere",
	}},
	"https://example.com/about": {StatusCode: 200, Title: "About"},
	"https://example.com/blog":  {StatusCode: 200, Title: "Blog", Links: []string{"https://example.com/blog/post"}},
}

func (f *siteFetcher) Fetch(ctx context.Context, url string, _ time.Duration) (crawler.FetchResult, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return crawler.FetchResult{}, ctx.Err()
		}
	}
	if res, ok := testSite[url]; ok {
		return res, nil
	}
	return crawler.FetchResult{}, &crawler.HTTPStatusError{StatusCode: 404, Status: "Not Found"}
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080, RequestTimeout: 5 * time.Second},
		Crawler: config.CrawlerConfig{Defaults: config.PolicyDefaults{
			MaxDepth:            crawler.DefaultMaxDepth,
			MaxWorkers:          2,
			StayOnDomain:        true,
			RespectRobots:       false,
			ConnectionTimeoutMs: crawler.DefaultConnectionTimeoutMs,
		}},
	}
}

func newTestServer(t *testing.T, fetcher crawler.PageFetcher, cfg config.Config) (*Server, *crawler.Registry) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	engine := crawler.NewEngine(fetcher, nil, clock, zap.NewNop(), crawler.EngineConfig{IdleBackoff: time.Millisecond})
	registry := crawler.NewRegistry(memory.NewSiteMapStore(), engine, &fakeIDGen{}, clock, zap.NewNop())
	t.Cleanup(registry.Close)
	return NewServer(registry, cfg, zap.NewNop()), registry
}

func do(t *testing.T, s *Server, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func submit(t *testing.T, s *Server, body string) string {
	t.Helper()
	rec := do(t, s, http.MethodPost, "/v1/sitemaps", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[map[string]string](t, rec)
	require.NotEmpty(t, resp["id"])
	assert.Equal(t, "/v1/sitemaps/"+resp["id"], rec.Header().Get("Location"))
	return resp["id"]
}

func TestServer_Health(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &siteFetcher{}, testConfig())

	rec := do(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, s, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestServer_RequestIDPropagates(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &siteFetcher{}, testConfig())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()
	metrics.Init()
	s, _ := newTestServer(t, &siteFetcher{}, testConfig())

	do(t, s, http.MethodGet, "/healthz", "")
	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_SubmitAndInspect(t *testing.T) {
	t.Parallel()
	s, registry := newTestServer(t, &siteFetcher{}, testConfig())

	id := submit(t, s, `{"start_url":"https://example.com"}`)
	registry.Wait()

	rec := do(t, s, http.MethodGet, "/v1/sitemaps/"+id+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[statusDTO](t, rec)
	assert.Equal(t, id, status.ID)
	assert.Equal(t, crawler.StatusCompleted, status.Status)
	assert.Equal(t, 4, status.TotalPages)
	assert.Equal(t, 3, status.SuccessfulPages)
	assert.Equal(t, 1, status.FailedPages)

	rec = do(t, s, http.MethodGet, "/v1/sitemaps/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[map[string]any](t, rec)
	assert.Equal(t, id, detail["id"])
	assert.Equal(t, "https://example.com", detail["start_url"])
	assert.Equal(t, "COMPLETED", detail["status"])
	policy, ok := detail["policy"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, policy["max_workers"])
	assert.Equal(t, true, policy["stay_on_domain"])

	rec = do(t, s, http.MethodGet, "/v1/sitemaps/"+id+"/tree", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tree := decode[struct {
		Tree []crawler.PageTreeNode `json:"tree"`
	}](t, rec)
	require.Len(t, tree.Tree, 1)
	assert.Equal(t, "https://example.com", tree.Tree[0].Page.URL)
	require.Len(t, tree.Tree[0].Children, 2)

	rec = do(t, s, http.MethodGet, "/v1/sitemaps/"+id+"/children?url=https://example.com/blog", "")
	require.Equal(t, http.StatusOK, rec.Code)
	children := decode[struct {
		Children []crawler.Page `json:"children"`
	}](t, rec)
	require.Len(t, children.Children, 1)
	assert.Equal(t, "https://example.com/blog/post", children.Children[0].URL)
	assert.Equal(t, "HTTP error: 404 Not Found", children.Children[0].ErrorMessage)
}

func TestServer_Pages(t *testing.T) {
	t.Parallel()
	s, registry := newTestServer(t, &siteFetcher{}, testConfig())
	id := submit(t, s, `{"start_url":"https://example.com"}`)
	registry.Wait()

	rec := do(t, s, http.MethodGet, "/v1/sitemaps/"+id+"/pages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	flat := decode[struct {
		Pages []crawler.Page `json:"pages"`
	}](t, rec)
	require.Len(t, flat.Pages, 4)
	assert.Equal(t, "https://example.com", flat.Pages[0].URL)

	rec = do(t, s, http.MethodGet, "/v1/sitemaps/"+id+"/pages?group_by=depth", "")
	require.Equal(t, http.StatusOK, rec.Code)
	byDepth := decode[struct {
		Pages map[string][]crawler.Page `json:"pages_by_depth"`
	}](t, rec)
	assert.Len(t, byDepth.Pages["0"], 1)
	assert.Len(t, byDepth.Pages["1"], 2)
	assert.Len(t, byDepth.Pages["2"], 1)

	rec = do(t, s, http.MethodGet, "/v1/sitemaps/"+id+"/pages?group_by=domain", "")
	require.Equal(t, http.StatusOK, rec.Code)
	byDomain := decode[struct {
		Pages map[string][]crawler.Page `json:"pages_by_domain"`
	}](t, rec)
	assert.Len(t, byDomain.Pages["example.com"], 4)

	rec = do(t, s, http.MethodGet, "/v1/sitemaps/"+id+"/pages?group_by=color", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Export(t *testing.T) {
	t.Parallel()
	s, registry := newTestServer(t, &siteFetcher{}, testConfig())
	id := submit(t, s, `{"start_url":"https://example.com"}`)
	registry.Wait()

	rec := do(t, s, http.MethodGet, "/v1/sitemaps/"+id+"/export/xml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "sitemap.xml")
	assert.Contains(t, rec.Body.String(), "<loc>https://example.com/about</loc>")
	assert.NotContains(t, rec.Body.String(), "blog/post")

	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	req := httptest.NewRequest(http.MethodGet, "/v1/sitemaps/"+id+"/export/xml", nil)
	req.Header.Set("If-None-Match", etag)
	cached := httptest.NewRecorder()
	s.Handler().ServeHTTP(cached, req)
	assert.Equal(t, http.StatusNotModified, cached.Code)
	assert.Empty(t, cached.Body.String())
	assert.Equal(t, etag, cached.Header().Get("ETag"))

	rec = do(t, s, http.MethodGet, "/v1/sitemaps/"+id+"/export/text", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "Sitemap for https://example.com\n"))
	assert.Contains(t, rec.Body.String(), "  https://example.com/blog/post - ERROR: HTTP error: 404 Not Found\n")

	rec = do(t, s, http.MethodGet, "/v1/sitemaps/"+id+"/export/markdown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# Sitemap for https://example.com")

	rec = do(t, s, http.MethodGet, "/v1/sitemaps/"+id+"/export/pdf", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitValidation(t *testing.T) {
	t.Parallel()
	s, registry := newTestServer(t, &siteFetcher{}, testConfig())

	rec := do(t, s, http.MethodPost, "/v1/sitemaps", `{"start_url":"ftp://example.com","max_depth":0,"max_workers":0,"connection_timeout_ms":500}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[validationErrorResponse](t, rec)
	assert.Equal(t, "invalid configuration", resp.Error)
	assert.Equal(t, []string{
		"Start URL must start with http:// or https://",
		"Maximum depth must be at least 1",
		"Maximum threads must be at least 1",
		"Connection timeout must be at least 1000 ms",
	}, resp.Messages)

	rec = do(t, s, http.MethodPost, "/v1/sitemaps", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp = decode[validationErrorResponse](t, rec)
	assert.Equal(t, []string{"Start URL cannot be empty"}, resp.Messages)

	rec = do(t, s, http.MethodPost, "/v1/sitemaps", `{not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid JSON"}`, rec.Body.String())

	assert.Empty(t, registry.List())
}

func TestServer_SubmitPatterns(t *testing.T) {
	t.Parallel()
	s, registry := newTestServer(t, &siteFetcher{}, testConfig())

	id := submit(t, s, `{"start_url":"https://example.com","include_patterns":" /blog , ,","exclude_patterns":["/post", " "]}`)
	registry.Wait()

	siteMap, ok := registry.Get(id)
	require.True(t, ok)
	policy := siteMap.Policy()
	assert.Equal(t, []string{"/blog"}, policy.IncludePatterns)
	assert.Equal(t, []string{"/post"}, policy.ExcludePatterns)

	_, ok = siteMap.Page("https://example.com/blog")
	assert.True(t, ok)
	_, ok = siteMap.Page("https://example.com/about")
	assert.False(t, ok)
	_, ok = siteMap.Page("https://example.com/blog/post")
	assert.False(t, ok)
}

func TestServer_ListFiltersAndPaginates(t *testing.T) {
	t.Parallel()
	s, registry := newTestServer(t, &siteFetcher{}, testConfig())
	first := submit(t, s, `{"start_url":"https://example.com"}`)
	second := submit(t, s, `{"start_url":"https://example.com/about"}`)
	registry.Wait()
	require.True(t, registry.Cancel(second))

	type listResponse struct {
		SiteMaps []map[string]any `json:"sitemaps"`
		Total    int              `json:"total"`
	}

	rec := do(t, s, http.MethodGet, "/v1/sitemaps", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[listResponse](t, rec)
	assert.Equal(t, 2, all.Total)
	require.Len(t, all.SiteMaps, 2)

	rec = do(t, s, http.MethodGet, "/v1/sitemaps?status=completed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	completed := decode[listResponse](t, rec)
	require.Len(t, completed.SiteMaps, 1)
	assert.Equal(t, first, completed.SiteMaps[0]["id"])

	rec = do(t, s, http.MethodGet, "/v1/sitemaps?status=failed", "")
	failed := decode[listResponse](t, rec)
	require.Len(t, failed.SiteMaps, 1)
	assert.Equal(t, second, failed.SiteMaps[0]["id"])

	rec = do(t, s, http.MethodGet, "/v1/sitemaps?limit=1&offset=1", "")
	page := decode[listResponse](t, rec)
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.SiteMaps, 1)

	rec = do(t, s, http.MethodGet, "/v1/sitemaps?offset=10", "")
	assert.Empty(t, decode[listResponse](t, rec).SiteMaps)

	for _, q := range []string{"limit=0", "limit=abc", "offset=-1", "status=sleeping"} {
		rec = do(t, s, http.MethodGet, "/v1/sitemaps?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestServer_CancelKeepsFailed(t *testing.T) {
	t.Parallel()
	fetcher := &siteFetcher{gate: make(chan struct{})}
	s, registry := newTestServer(t, fetcher, testConfig())
	id := submit(t, s, `{"start_url":"https://example.com"}`)

	require.Eventually(t, func() bool { return fetcher.calls.Load() > 0 }, time.Second, time.Millisecond)

	rec := do(t, s, http.MethodPost, "/v1/sitemaps/"+id+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, fmt.Sprintf(`{"id":%q,"status":"FAILED"}`, id), rec.Body.String())

	close(fetcher.gate)
	registry.Wait()

	rec = do(t, s, http.MethodGet, "/v1/sitemaps/"+id+"/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[statusDTO](t, rec)
	assert.Equal(t, crawler.StatusFailed, status.Status)
	assert.Positive(t, status.TotalPages, "workers keep crawling after cancel")
}

func TestServer_Delete(t *testing.T) {
	t.Parallel()
	s, registry := newTestServer(t, &siteFetcher{}, testConfig())
	id := submit(t, s, `{"start_url":"https://example.com"}`)
	registry.Wait()

	rec := do(t, s, http.MethodDelete, "/v1/sitemaps/"+id, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/sitemaps/"+id, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodDelete, "/v1/sitemaps/"+id, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_UnknownJob(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(t, &siteFetcher{}, testConfig())

	paths := []struct{ method, path string }{
		{http.MethodGet, "/v1/sitemaps/nope"},
		{http.MethodGet, "/v1/sitemaps/nope/status"},
		{http.MethodGet, "/v1/sitemaps/nope/tree"},
		{http.MethodGet, "/v1/sitemaps/nope/pages"},
		{http.MethodGet, "/v1/sitemaps/nope/children?url=https://example.com"},
		{http.MethodGet, "/v1/sitemaps/nope/export/xml"},
		{http.MethodPost, "/v1/sitemaps/nope/cancel"},
		{http.MethodDelete, "/v1/sitemaps/nope"},
	}
	for _, p := range paths {
		rec := do(t, s, p.method, p.path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, p.path)
		assert.JSONEq(t, `{"error":"sitemap not found"}`, rec.Body.String(), p.path)
	}
}

func TestServer_ChildrenRequiresURL(t *testing.T) {
	t.Parallel()
	s, registry := newTestServer(t, &siteFetcher{}, testConfig())
	id := submit(t, s, `{"start_url":"https://example.com"}`)
	registry.Wait()

	rec := do(t, s, http.MethodGet, "/v1/sitemaps/"+id+"/children", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/sitemaps/"+id+"/children?url=https://unknown.test", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"children":[]`)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	s, _ := newTestServer(t, &siteFetcher{}, cfg)

	rec := do(t, s, http.MethodGet, "/v1/sitemaps", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/sitemaps", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/v1/sitemaps?api_key=secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code, "probes stay open")
}

type failingRegistry struct{ Registry }

func (failingRegistry) Submit(crawler.Policy) (string, error) {
	return "", errors.New("id generator exhausted")
}

func TestServer_SubmitInternalError(t *testing.T) {
	t.Parallel()
	s := NewServer(failingRegistry{}, testConfig(), nil)

	rec := do(t, s, http.MethodPost, "/v1/sitemaps", `{"start_url":"https://example.com"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"failed to start crawl"}`, rec.Body.String())
}

type panickingRegistry struct{ Registry }

func (panickingRegistry) List() []crawler.JobEntry { panic("boom") }

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()
	s := NewServer(panickingRegistry{}, testConfig(), nil)

	rec := do(t, s, http.MethodGet, "/v1/sitemaps", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
