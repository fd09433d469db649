package crawler

import (
	"fmt"
	"regexp"
	"slices"
	"time"
)

// Status represents the lifecycle state of a site map.
type Status string

const (
	// StatusPending indicates the job is registered but has not started crawling.
	StatusPending Status = "PENDING"
	// StatusInProgress indicates workers are crawling.
	StatusInProgress Status = "IN_PROGRESS"
	// StatusCompleted indicates the frontier drained.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the crawl was canceled or hit an orchestration error.
	StatusFailed Status = "FAILED"
)

// IsTerminal reports whether s is COMPLETED or FAILED.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Page is one discovered URL and the outcome of processing it. Pages are
// values: the page store replaces them whole and never hands out a pointer a
// caller could mutate.
type Page struct {
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Depth        int       `json:"depth"`
	ParentURL    string    `json:"parent_url,omitempty"`
	ChildURLs    []string  `json:"child_urls"`
	StatusCode   int       `json:"status_code,omitempty"`
	ContentType  string    `json:"content_type,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	LastUpdated  time.Time `json:"last_updated"`
}

var domainPattern = regexp.MustCompile(`^https?://([^/]+)`)

// IsSuccess reports whether the page was fetched with a 2xx status and no error.
func (p Page) IsSuccess() bool {
	return p.StatusCode >= 200 && p.StatusCode <= 299 && p.ErrorMessage == ""
}

// Domain returns the authority portion of the URL, port included, or "" when
// the URL is not http(s).
func (p Page) Domain() string {
	m := domainPattern.FindStringSubmatch(p.URL)
	if m == nil {
		return ""
	}
	return m[1]
}

// withChild returns a copy of p whose ChildURLs includes child. Existing
// entries keep their order and duplicates are ignored.
func (p Page) withChild(child string) Page {
	if slices.Contains(p.ChildURLs, child) {
		return p
	}
	children := make([]string, len(p.ChildURLs), len(p.ChildURLs)+1)
	copy(children, p.ChildURLs)
	p.ChildURLs = append(children, child)
	return p
}

func (p Page) clone() Page {
	p.ChildURLs = slices.Clone(p.ChildURLs)
	return p
}

// PageTreeNode is one node of the depth-first page tree view.
type PageTreeNode struct {
	Page     Page           `json:"page"`
	Children []PageTreeNode `json:"children"`
}

// FetchResult is what a PageFetcher returns for a successfully fetched document.
type FetchResult struct {
	StatusCode  int
	ContentType string
	Title       string
	// Links holds absolute outbound link targets in document order.
	Links []string
}

// HTTPStatusError reports a non-success HTTP status from a page fetch.
type HTTPStatusError struct {
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.StatusCode, e.Status)
}
