// Package collyfetcher implements the crawler's page and text fetchers using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/site-spider/internal/crawler"
)

const (
	defaultPageTimeout = 5 * time.Second
	defaultTextTimeout = 10 * time.Second
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// TextTimeout bounds FetchText requests such as robots.txt downloads.
	TextTimeout time.Duration
}

// Waiter paces requests per URL; *ratelimit.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements crawler.PageFetcher and crawler.TextFetcher.
type Fetcher struct {
	cfg       Config
	limiter   Waiter
	transport http.RoundTripper
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil to fetch without pacing.
func New(cfg Config, limiter Waiter) *Fetcher {
	return &Fetcher{
		cfg:       cfg,
		limiter:   limiter,
		transport: newHTTPTransport(),
	}
}

// Fetch downloads pageURL, follows redirects, and parses the title and
// absolute links of the final HTML document.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, timeout time.Duration) (crawler.FetchResult, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, pageURL); err != nil {
			return crawler.FetchResult{}, fmt.Errorf("fetch %s: %w", pageURL, err)
		}
	}
	if timeout <= 0 {
		timeout = defaultPageTimeout
	}
	var (
		result   crawler.FetchResult
		fetchErr error
	)
	collector := f.buildCollector(timeout)
	f.configurePageHooks(collector, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, pageURL, &fetchErr); err != nil {
		return crawler.FetchResult{}, err
	}
	return result, nil
}

// FetchText downloads rawURL and returns its body. Non-2xx responses are errors.
func (f *Fetcher) FetchText(ctx context.Context, rawURL string) (string, error) {
	timeout := f.cfg.TextTimeout
	if timeout <= 0 {
		timeout = defaultTextTimeout
	}
	var (
		body     string
		fetchErr error
	)
	collector := f.buildCollector(timeout)
	f.configureTextHooks(collector, &body, &fetchErr)
	if err := f.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return "", err
	}
	return body, nil
}

// buildCollector returns a fresh collector sharing the pooled transport.
// Cloned collectors share one http.Client, so per-request timeouts would
// race between workers; a new collector per fetch keeps them separate.
// robots.txt is enforced by crawler.RobotsCache and each crawl job keeps its
// own claim set, so colly's robots and revisit bookkeeping are disabled.
func (f *Fetcher) buildCollector(timeout time.Duration) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.Async(false),
		colly.IgnoreRobotsTxt(),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	}
	if f.cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(f.cfg.UserAgent))
	}
	collector := colly.NewCollector(opts...)
	collector.WithTransport(f.transport)
	collector.SetRequestTimeout(timeout)
	return collector
}

func (f *Fetcher) configurePageHooks(hooks collectorHooks, result *crawler.FetchResult, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		if err := statusError(r.StatusCode); err != nil {
			*fetchErr = err
			return
		}
		contentType := headerValue(r, "Content-Type")
		if !isParsableContentType(contentType) {
			*fetchErr = fmt.Errorf("unhandled content type %q", contentType)
			return
		}
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
		if err != nil {
			*fetchErr = fmt.Errorf("parse html: %w", err)
			return
		}
		*result = crawler.FetchResult{
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Title:       strings.TrimSpace(doc.Find("title").First().Text()),
			Links:       extractLinks(doc, r.Request),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) configureTextHooks(hooks collectorHooks, body *string, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		if r.StatusCode < http.StatusOK || r.StatusCode >= http.StatusMultipleChoices {
			*fetchErr = &crawler.HTTPStatusError{StatusCode: r.StatusCode, Status: http.StatusText(r.StatusCode)}
			return
		}
		*body = string(r.Body)
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch %s canceled: %w", url, ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("fetch %s: %w", url, *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("fetch %s: %w", url, err)
		}
		return nil
	}
}

// statusError reports statuses outside 2xx/3xx as *crawler.HTTPStatusError.
// Redirects are followed before the response reaches the hooks.
func statusError(code int) error {
	if code >= http.StatusOK && code < http.StatusBadRequest {
		return nil
	}
	return &crawler.HTTPStatusError{StatusCode: code, Status: http.StatusText(code)}
}

func headerValue(r *colly.Response, key string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers.Get(key)
}

// isParsableContentType accepts text/*, application/xml and application/*+xml.
// A missing header is accepted and left to the parser.
func isParsableContentType(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "text/") ||
		mediaType == "application/xml" ||
		(strings.HasPrefix(mediaType, "application/") && strings.HasSuffix(mediaType, "+xml"))
}

func extractLinks(doc *goquery.Document, req *colly.Request) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		abs := href
		if req != nil {
			abs = req.AbsoluteURL(href)
		}
		if abs != "" {
			links = append(links, abs)
		}
	})
	return links
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
