package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/site-spider/internal/metrics"
)

const (
	defaultIdleBackoff = 100 * time.Millisecond

	robotsBlockedMessage = "Blocked by robots.txt"
)

// Page outcome labels reported to metrics.
const (
	outcomeOK            = "ok"
	outcomeHTTPError     = "http_error"
	outcomeError         = "error"
	outcomeRobotsBlocked = "robots_blocked"
	outcomeDepthLimit    = "depth_limit"
)

// EngineConfig tunes the worker loop.
type EngineConfig struct {
	// IdleBackoff is how long an idle worker sleeps while other workers may
	// still enqueue children. Zero selects 100ms.
	IdleBackoff time.Duration
}

// Engine runs crawl jobs. One Engine serves every job in the process; each
// Run call gets its own frontier, claim set and worker pool.
type Engine struct {
	fetcher     PageFetcher
	robots      RobotsChecker
	clock       Clock
	logger      *zap.Logger
	idleBackoff time.Duration
}

// NewEngine wires an Engine. robots may be nil when no job respects robots.txt.
func NewEngine(fetcher PageFetcher, robots RobotsChecker, clock Clock, logger *zap.Logger, cfg EngineConfig) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	backoff := cfg.IdleBackoff
	if backoff <= 0 {
		backoff = defaultIdleBackoff
	}
	return &Engine{
		fetcher:     fetcher,
		robots:      robots,
		clock:       clock,
		logger:      logger,
		idleBackoff: backoff,
	}
}

// Run crawls siteMap's start URL until the frontier drains, then marks the
// site map COMPLETED. Any error or panic escaping the worker pool marks it
// FAILED instead and is returned.
func (e *Engine) Run(ctx context.Context, jobID string, siteMap *SiteMap) (err error) {
	logger := e.logger.With(zap.String("job_id", jobID))
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("crawl panicked: %v", rec)
		}
		if err != nil {
			siteMap.finish(StatusFailed)
			metrics.ObserveJob(string(StatusFailed))
			logger.Error("crawl failed", zap.Error(err))
		}
	}()

	run := newCrawlRun(e, jobID, siteMap, logger)
	run.frontier.push(crawlItem{url: siteMap.policy.StartURL})
	siteMap.start()
	logger.Info("crawl started",
		zap.String("start_url", siteMap.policy.StartURL),
		zap.Int("workers", siteMap.policy.MaxWorkers),
		zap.Int("max_depth", siteMap.policy.MaxDepth),
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < siteMap.policy.MaxWorkers; i++ {
		g.Go(func() error {
			return run.work(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}

	if siteMap.finish(StatusCompleted) {
		metrics.ObserveJob(string(StatusCompleted))
	}
	stats := siteMap.Stats()
	logger.Info("crawl finished",
		zap.String("status", string(siteMap.Status())),
		zap.Int("total_pages", stats.TotalPages),
		zap.Int("successful_pages", stats.SuccessfulPages),
		zap.Int("failed_pages", stats.FailedPages),
	)
	return nil
}

// crawlRun is the state shared by the workers of one job.
type crawlRun struct {
	engine   *Engine
	jobID    string
	policy   Policy
	pages    *pageStore
	frontier *frontier
	visited  visitTracker
	logger   *zap.Logger

	doneOnce sync.Once
	done     chan struct{}
}

func newCrawlRun(e *Engine, jobID string, siteMap *SiteMap, logger *zap.Logger) *crawlRun {
	return &crawlRun{
		engine:   e,
		jobID:    jobID,
		policy:   siteMap.policy,
		pages:    siteMap.pages,
		frontier: newFrontier(),
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// markComplete sets the completion flag. Any worker may call it, any number of times.
func (r *crawlRun) markComplete() {
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *crawlRun) completed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *crawlRun) work(ctx context.Context, index int) (err error) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("worker %d panicked: %v", index, rec)
		}
	}()

	timer := time.NewTimer(r.engine.idleBackoff)
	timer.Stop()
	defer timer.Stop()

	for !r.completed() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("worker %d: %w", index, err)
		}
		if item, ok := r.frontier.pop(); ok {
			r.processItem(ctx, item)
			continue
		}
		if r.frontier.drained() {
			r.markComplete()
			return nil
		}
		timer.Reset(r.engine.idleBackoff)
		select {
		case <-r.done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("worker %d: %w", index, ctx.Err())
		case <-timer.C:
		}
	}
	return nil
}

// processItem handles one frontier item. Panics are recorded on the page so
// a single bad document never takes down the job.
func (r *crawlRun) processItem(ctx context.Context, item crawlItem) {
	defer r.frontier.release()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("page processing panicked", zap.String("url", item.url), zap.Any("panic", rec))
			r.record(item.url, outcomeError, func(p Page) Page {
				p.ErrorMessage = fmt.Sprintf("Error: %v", rec)
				return p
			})
		}
	}()

	if !r.visited.MarkIfNew(item.url) {
		return
	}
	r.pages.put(Page{
		URL:         item.url,
		Depth:       item.depth,
		ParentURL:   item.parentURL,
		ChildURLs:   []string{},
		LastUpdated: r.engine.clock.Now(),
	})
	if item.parentURL != "" {
		r.pages.update(item.parentURL, func(p Page) Page { return p.withChild(item.url) })
	}

	if item.depth >= r.policy.MaxDepth {
		metrics.ObservePage(item.url, outcomeDepthLimit)
		return
	}
	if r.policy.RespectRobots && r.engine.robots != nil && !r.engine.robots.IsAllowed(ctx, item.url) {
		r.logger.Debug("blocked by robots", zap.String("url", item.url))
		r.record(item.url, outcomeRobotsBlocked, func(p Page) Page {
			p.ErrorMessage = robotsBlockedMessage
			return p
		})
		return
	}

	result, err := r.engine.fetcher.Fetch(ctx, item.url, r.policy.ConnectionTimeout())
	if err != nil {
		r.recordFetchError(item.url, err)
		return
	}
	r.record(item.url, outcomeOK, func(p Page) Page {
		p.Title = result.Title
		p.StatusCode = result.StatusCode
		p.ContentType = result.ContentType
		return p
	})

	for _, link := range r.eligibleLinks(item.url, result.Links) {
		r.frontier.push(crawlItem{url: link, depth: item.depth + 1, parentURL: item.url})
	}
	r.logger.Debug("page crawled",
		zap.String("url", item.url),
		zap.Int("depth", item.depth),
		zap.Int("status", result.StatusCode),
	)
}

func (r *crawlRun) recordFetchError(url string, err error) {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		r.record(url, outcomeHTTPError, func(p Page) Page {
			p.StatusCode = statusErr.StatusCode
			p.ErrorMessage = fmt.Sprintf("HTTP error: %d %s", statusErr.StatusCode, statusErr.Status)
			return p
		})
		r.logger.Debug("page returned error status", zap.String("url", url), zap.Int("status", statusErr.StatusCode))
		return
	}
	r.record(url, outcomeError, func(p Page) Page {
		p.ErrorMessage = "Error: " + err.Error()
		return p
	})
	r.logger.Warn("page fetch failed", zap.String("url", url), zap.Error(err))
}

// record applies fn to the stored page. Child links appended concurrently by
// other workers survive because the update starts from the current value.
func (r *crawlRun) record(url, outcome string, fn func(Page) Page) {
	now := r.engine.clock.Now()
	r.pages.update(url, func(p Page) Page {
		p = fn(p)
		p.LastUpdated = now
		return p
	})
	metrics.ObservePage(url, outcome)
}

// eligibleLinks normalizes and filters links found on pageURL, keeping the
// first occurrence of each.
func (r *crawlRun) eligibleLinks(pageURL string, links []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, link := range links {
		normalized := NormalizeURL(link)
		if _, dup := seen[normalized]; dup {
			continue
		}
		if !Eligible(normalized, pageURL, r.policy) {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
