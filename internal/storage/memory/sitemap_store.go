// Package memory provides in-memory stores for site maps and rendered artifacts.
package memory

import (
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/site-spider/internal/crawler"
)

// SiteMapStore keeps site maps in process memory, keyed by job ID.
type SiteMapStore struct {
	mu       sync.RWMutex
	siteMaps map[string]*crawler.SiteMap
}

// NewSiteMapStore constructs a SiteMapStore.
func NewSiteMapStore() *SiteMapStore {
	return &SiteMapStore{
		siteMaps: make(map[string]*crawler.SiteMap),
	}
}

// Put registers a site map under id.
func (s *SiteMapStore) Put(id string, siteMap *crawler.SiteMap) error {
	if id == "" {
		return errors.New("job id is required")
	}
	if siteMap == nil {
		return errors.New("sitemap is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.siteMaps[id]; exists {
		return errors.New("job already exists")
	}
	s.siteMaps[id] = siteMap
	return nil
}

// Get fetches a site map by job ID.
func (s *SiteMapStore) Get(id string) (*crawler.SiteMap, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	siteMap, ok := s.siteMaps[id]
	return siteMap, ok
}

// Delete removes the entry and reports whether it existed.
func (s *SiteMapStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.siteMaps[id]; !ok {
		return false
	}
	delete(s.siteMaps, id)
	return true
}

// List returns every entry, oldest submission first.
func (s *SiteMapStore) List() []crawler.JobEntry {
	s.mu.RLock()
	out := make([]crawler.JobEntry, 0, len(s.siteMaps))
	for id, siteMap := range s.siteMaps {
		out = append(out, crawler.JobEntry{ID: id, SiteMap: siteMap})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].SiteMap.StartTime(), out[j].SiteMap.StartTime()
		if ti.Equal(tj) {
			return out[i].ID < out[j].ID
		}
		return ti.Before(tj)
	})
	return out
}
