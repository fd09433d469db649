// Package crawler implements the site-map crawling engine: the crawl policy,
// the robots cache, URL normalization and eligibility rules, the frontier
// driven worker pool with its completion detection, the copy-on-write page
// store, and the job registry that exposes running and finished site maps.
package crawler
