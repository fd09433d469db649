package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeSite serves canned fetch results and robots.txt bodies and counts calls.
type fakeSite struct {
	pages  map[string]FetchResult
	errs   map[string]error
	robots map[string]string
	panics map[string]bool

	mu          sync.Mutex
	fetched     map[string]int
	robotsCalls atomic.Int32
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		pages:   map[string]FetchResult{},
		errs:    map[string]error{},
		robots:  map[string]string{},
		panics:  map[string]bool{},
		fetched: map[string]int{},
	}
}

func (s *fakeSite) page(url, title string, links ...string) *fakeSite {
	s.pages[url] = FetchResult{StatusCode: 200, ContentType: "text/html", Title: title, Links: links}
	return s
}

func (s *fakeSite) Fetch(ctx context.Context, url string, _ time.Duration) (FetchResult, error) {
	s.mu.Lock()
	s.fetched[url]++
	s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return FetchResult{}, err
	}
	if s.panics[url] {
		panic("parser exploded")
	}
	if err, ok := s.errs[url]; ok {
		return FetchResult{}, err
	}
	if res, ok := s.pages[url]; ok {
		return res, nil
	}
	return FetchResult{}, errors.New("connection refused")
}

func (s *fakeSite) FetchText(_ context.Context, url string) (string, error) {
	s.robotsCalls.Add(1)
	if body, ok := s.robots[url]; ok {
		return body, nil
	}
	return "", &HTTPStatusError{StatusCode: 404, Status: "Not Found"}
}

func (s *fakeSite) fetchCount(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetched[url]
}

type sequenceIDs struct {
	mu sync.Mutex
	n  int
}

func (g *sequenceIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}

func testPolicy(startURL string) Policy {
	p := DefaultPolicy(startURL)
	p.RespectRobots = false
	return p
}

func testEngine(site *fakeSite, clock Clock, robots RobotsChecker) *Engine {
	return NewEngine(site, robots, clock, nil, EngineConfig{IdleBackoff: time.Millisecond})
}
