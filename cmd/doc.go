// Package cmd defines the site-spider command line.
//
// Architecture overview:
//   - HTTP API (serve): internal/api.Server exposes health, metrics and site map endpoints. Submitted policies are
//     filled from config defaults, validated, and registered with the crawler.Registry, which starts the crawl in the
//     background and returns the job ID immediately.
//   - Crawl engine: each job runs its own frontier and a fixed pool of MaxWorkers goroutines. Workers claim URLs
//     exactly once, record a Page per URL, and stop when the frontier is empty and no worker is mid-item.
//   - Fetch pipeline: the Colly-based fetcher downloads and parses HTML with goquery, paced per domain by a token
//     bucket. robots.txt Disallow rules are cached per host and fetched at most once.
//   - Persistence & fanout: finished jobs can be archived as XML/text/Markdown exports to the configured BlobStore
//     (memory/local/GCS), and a completion event is published to memory or Pub/Sub when configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Quick checklist:
//   - Configure env vars: SPIDER_SERVER_PORT, SPIDER_CRAWLER_DEFAULTS_MAX_WORKERS, SPIDER_ARCHIVE_ENABLED,
//     SPIDER_NOTIFY_BACKEND and friends; every config key maps to SPIDER_ plus the upper-cased key path.
//   - Run the service: site-spider serve --config config.yaml
//   - One-off crawl: site-spider crawl https://example.com --max-depth 2 --format xml
package cmd
