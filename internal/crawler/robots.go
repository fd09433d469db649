package crawler

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/site-spider/internal/metrics"
)

const disallowPrefix = "disallow:"

// RobotsCache resolves robots.txt rules per host. Rules are fetched once per
// host and kept for the life of the process; fetch failures are cached as an
// empty rule set so crawling continues (fail open).
type RobotsCache struct {
	fetcher TextFetcher
	logger  *zap.Logger
	rules   sync.Map
	group   singleflight.Group
}

// NewRobotsCache builds a RobotsCache that downloads robots.txt through fetcher.
func NewRobotsCache(fetcher TextFetcher, logger *zap.Logger) *RobotsCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsCache{
		fetcher: fetcher,
		logger:  logger,
	}
}

// IsAllowed reports whether rawURL's path is outside every disallowed prefix
// of its host. URLs that cannot be parsed are allowed.
func (c *RobotsCache) IsAllowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return true
	}
	path := u.EscapedPath()
	for _, prefix := range c.rulesFor(ctx, u.Hostname()) {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}

func (c *RobotsCache) rulesFor(ctx context.Context, host string) []string {
	if cached, ok := c.rules.Load(host); ok {
		return cached.([]string) //nolint:forcetypeassert // only []string is stored
	}
	// A caller's cancellation must not leave a permanently empty entry for
	// every other job, so the shared fetch runs detached from ctx.
	detached := context.WithoutCancel(ctx)
	v, _, _ := c.group.Do(host, func() (any, error) {
		if cached, ok := c.rules.Load(host); ok {
			return cached, nil
		}
		rules := c.load(detached, host)
		c.rules.Store(host, rules)
		return rules, nil
	})
	return v.([]string) //nolint:forcetypeassert // load always returns []string
}

func (c *RobotsCache) load(ctx context.Context, host string) []string {
	robotsURL := fmt.Sprintf("https://%s/robots.txt", host)
	body, err := c.fetcher.FetchText(ctx, robotsURL)
	if err != nil {
		c.logger.Warn("robots fetch failed; allowing access", zap.String("host", host), zap.Error(err))
		metrics.ObserveRobotsFetch("error")
		return []string{}
	}
	rules := ParseDisallowRules(body)
	c.logger.Debug("robots rules cached", zap.String("host", host), zap.Int("rules", len(rules)))
	metrics.ObserveRobotsFetch("ok")
	return rules
}

// ParseDisallowRules extracts the path prefix of every Disallow line in a
// robots.txt body, regardless of the user-agent group it belongs to. Empty
// Disallow values are skipped.
func ParseDisallowRules(body string) []string {
	rules := []string{}
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) < len(disallowPrefix) || !strings.EqualFold(line[:len(disallowPrefix)], disallowPrefix) {
			continue
		}
		if path := strings.TrimSpace(line[len(disallowPrefix):]); path != "" {
			rules = append(rules, path)
		}
	}
	return rules
}
