package crawler

import (
	"sort"
	"sync"
	"sync/atomic"
)

// pageStore maps URLs to immutable Page values. The map itself only grows
// under mu; each entry is swapped atomically so readers always see a whole
// Page and concurrent writers to one URL serialize through compare-and-swap.
type pageStore struct {
	mu    sync.RWMutex
	pages map[string]*atomic.Pointer[Page]
}

func newPageStore() *pageStore {
	return &pageStore{pages: make(map[string]*atomic.Pointer[Page])}
}

func (s *pageStore) entry(url string) (*atomic.Pointer[Page], bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.pages[url]
	return e, ok
}

// put stores page, replacing any previous value for its URL.
func (s *pageStore) put(page Page) {
	if e, ok := s.entry(page.URL); ok {
		e.Store(&page)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pages[page.URL]
	if !ok {
		e = new(atomic.Pointer[Page])
		s.pages[page.URL] = e
	}
	e.Store(&page)
}

// update replaces the page at url with fn(current), retrying when another
// writer got in first. It returns false when url has no entry.
func (s *pageStore) update(url string, fn func(Page) Page) bool {
	e, ok := s.entry(url)
	if !ok {
		return false
	}
	for {
		current := e.Load()
		next := fn(*current)
		if e.CompareAndSwap(current, &next) {
			return true
		}
	}
}

func (s *pageStore) get(url string) (Page, bool) {
	e, ok := s.entry(url)
	if !ok {
		return Page{}, false
	}
	return e.Load().clone(), true
}

// snapshot returns every page sorted by URL.
func (s *pageStore) snapshot() []Page {
	s.mu.RLock()
	out := make([]Page, 0, len(s.pages))
	for _, e := range s.pages {
		out = append(out, e.Load().clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

func (s *pageStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}
