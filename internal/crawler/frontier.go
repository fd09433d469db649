package crawler

import (
	"sync"
	"sync/atomic"
)

// crawlItem is one unit of frontier work.
type crawlItem struct {
	url       string
	depth     int
	parentURL string
}

// frontier is the FIFO work queue shared by a job's workers. It also owns
// the active-task counter: pop increments it under the same lock that guards
// the queue, so an item is always either queued or counted, and drained can
// never observe an in-flight item as finished.
type frontier struct {
	mu     sync.Mutex
	items  []crawlItem
	head   int
	active atomic.Int64
}

func newFrontier() *frontier {
	return &frontier{}
}

func (f *frontier) push(item crawlItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item)
}

// pop dequeues the oldest item and marks it active. Callers must call
// release once the item, including every child it enqueues, is handled.
func (f *frontier) pop() (crawlItem, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.head == len(f.items) {
		return crawlItem{}, false
	}
	item := f.items[f.head]
	f.items[f.head] = crawlItem{}
	f.head++
	if f.head > 64 && f.head*2 >= len(f.items) {
		f.items = append([]crawlItem(nil), f.items[f.head:]...)
		f.head = 0
	}
	f.active.Add(1)
	return item, true
}

func (f *frontier) release() {
	f.active.Add(-1)
}

// drained reports whether the queue is empty and no item is in flight.
func (f *frontier) drained() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head == len(f.items) && f.active.Load() == 0
}

func (f *frontier) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items) - f.head
}

// visitTracker provides thread-safe claim tracking so each URL is processed once.
type visitTracker struct {
	seen sync.Map
}

// MarkIfNew claims url and returns true if no earlier caller claimed it.
func (t *visitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(url, struct{}{})
	return !loaded
}
