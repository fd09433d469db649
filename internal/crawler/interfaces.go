package crawler

import (
	"context"
	"io"
	"time"
)

// PageFetcher retrieves and parses an HTML document. Implementations follow
// redirects and return *HTTPStatusError for non-success statuses.
type PageFetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) (FetchResult, error)
}

// TextFetcher retrieves a URL body as raw text.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// RobotsChecker decides whether robots rules permit a URL.
type RobotsChecker interface {
	IsAllowed(ctx context.Context, url string) bool
}

// SiteMapStore holds the registry's site maps keyed by job ID.
type SiteMapStore interface {
	Put(id string, siteMap *SiteMap) error
	Get(id string) (*SiteMap, bool)
	Delete(id string) bool
	List() []JobEntry
}

// JobEntry pairs a job ID with its site map.
type JobEntry struct {
	ID      string
	SiteMap *SiteMap
}

// CompletionHook runs after a job's orchestration returns, whatever its outcome.
type CompletionHook interface {
	OnCompletion(ctx context.Context, jobID string, siteMap *SiteMap)
}

// BlobStore writes rendered artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
