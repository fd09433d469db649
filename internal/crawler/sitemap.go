package crawler

import (
	"sort"
	"sync"
	"time"
)

// SiteMap aggregates the pages discovered by one job together with the job's
// lifecycle metadata. All methods are safe for concurrent use while workers
// are still writing.
type SiteMap struct {
	policy    Policy
	startTime time.Time
	clock     Clock
	pages     *pageStore

	mu      sync.RWMutex
	status  Status
	endTime time.Time
}

// NewSiteMap creates a PENDING site map for policy. The policy is copied.
func NewSiteMap(policy Policy, clock Clock) *SiteMap {
	return &SiteMap{
		policy:    policy.clone(),
		startTime: clock.Now(),
		clock:     clock,
		pages:     newPageStore(),
		status:    StatusPending,
	}
}

// StartURL returns the URL the crawl started from.
func (m *SiteMap) StartURL() string { return m.policy.StartURL }

// Policy returns a copy of the job's policy.
func (m *SiteMap) Policy() Policy { return m.policy.clone() }

// StartTime returns when the job was submitted.
func (m *SiteMap) StartTime() time.Time { return m.startTime }

// Status returns the current lifecycle state.
func (m *SiteMap) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// EndTime returns when the job reached a terminal state. The second result
// is false while the job is still live.
func (m *SiteMap) EndTime() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.endTime, !m.endTime.IsZero()
}

// start moves a PENDING site map to IN_PROGRESS. A job canceled before its
// workers start stays FAILED.
func (m *SiteMap) start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status == StatusPending {
		m.status = StatusInProgress
	}
}

// finish records a terminal status unless one was already recorded, so a
// canceled job is not later reported as COMPLETED.
func (m *SiteMap) finish(status Status) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.IsTerminal() {
		return false
	}
	m.status = status
	m.endTime = m.clock.Now()
	return true
}

// fail forces FAILED from any state and restamps the end time.
func (m *SiteMap) fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = StatusFailed
	m.endTime = m.clock.Now()
}

// Page returns the page stored for url.
func (m *SiteMap) Page(url string) (Page, bool) {
	return m.pages.get(url)
}

// Pages returns every page sorted by URL.
func (m *SiteMap) Pages() []Page {
	return m.pages.snapshot()
}

// Stats holds the derived counters of a site map.
type Stats struct {
	TotalPages      int   `json:"total_pages"`
	SuccessfulPages int   `json:"successful_pages"`
	FailedPages     int   `json:"failed_pages"`
	DurationSeconds int64 `json:"duration_seconds"`
}

// Stats computes the counters from a single page snapshot, so TotalPages
// always equals SuccessfulPages plus FailedPages.
func (m *SiteMap) Stats() Stats {
	pages := m.pages.snapshot()
	stats := Stats{TotalPages: len(pages)}
	for _, p := range pages {
		if p.IsSuccess() {
			stats.SuccessfulPages++
		}
	}
	stats.FailedPages = stats.TotalPages - stats.SuccessfulPages
	stats.DurationSeconds = m.DurationSeconds()
	return stats
}

// TotalPages returns the number of pages recorded so far.
func (m *SiteMap) TotalPages() int { return m.pages.len() }

// SuccessfulPages returns the number of pages fetched successfully.
func (m *SiteMap) SuccessfulPages() int { return m.Stats().SuccessfulPages }

// FailedPages returns the number of recorded pages that are not successful.
func (m *SiteMap) FailedPages() int { return m.Stats().FailedPages }

// DurationSeconds returns whole seconds between start and end, or now while
// the job is live.
func (m *SiteMap) DurationSeconds() int64 {
	end, ok := m.EndTime()
	if !ok {
		end = m.clock.Now()
	}
	return int64(end.Sub(m.startTime) / time.Second)
}

// PagesByDepth groups pages by depth; each group is sorted by URL.
func (m *SiteMap) PagesByDepth() map[int][]Page {
	out := make(map[int][]Page)
	for _, p := range m.pages.snapshot() {
		out[p.Depth] = append(out[p.Depth], p)
	}
	return out
}

// Depths returns the populated depths in ascending order.
func (m *SiteMap) Depths() []int {
	byDepth := m.PagesByDepth()
	depths := make([]int, 0, len(byDepth))
	for d := range byDepth {
		depths = append(depths, d)
	}
	sort.Ints(depths)
	return depths
}

// PagesByDomain groups pages by Page.Domain; each group is sorted by URL.
func (m *SiteMap) PagesByDomain() map[string][]Page {
	out := make(map[string][]Page)
	for _, p := range m.pages.snapshot() {
		d := p.Domain()
		out[d] = append(out[d], p)
	}
	return out
}

// ChildPages returns the stored pages linked from url in discovery order.
// Children that were never stored are skipped.
func (m *SiteMap) ChildPages(url string) []Page {
	parent, ok := m.pages.get(url)
	if !ok {
		return []Page{}
	}
	children := make([]Page, 0, len(parent.ChildURLs))
	for _, child := range parent.ChildURLs {
		if p, ok := m.pages.get(child); ok {
			children = append(children, p)
		}
	}
	return children
}

// Summary is a point-in-time view of a site map's metadata and counters.
type Summary struct {
	StartURL  string     `json:"start_url"`
	Status    Status     `json:"status"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Stats
}

// Summary snapshots metadata and counters together.
func (m *SiteMap) Summary() Summary {
	m.mu.RLock()
	s := Summary{
		StartURL:  m.policy.StartURL,
		Status:    m.status,
		StartTime: m.startTime,
	}
	if !m.endTime.IsZero() {
		end := m.endTime
		s.EndTime = &end
	}
	m.mu.RUnlock()
	s.Stats = m.Stats()
	return s
}
