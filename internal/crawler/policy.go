package crawler

import (
	"strings"
	"time"
)

// Policy defaults applied by DefaultPolicy.
const (
	DefaultMaxDepth            = 3
	DefaultMaxWorkers          = 4
	DefaultConnectionTimeoutMs = 5000

	minConnectionTimeoutMs = 1000
)

// Policy bounds a single crawl job. A copy is taken when the job is
// submitted, so later mutation by the caller has no effect on the crawl.
type Policy struct {
	StartURL            string   `json:"start_url"`
	MaxDepth            int      `json:"max_depth"`
	IncludePatterns     []string `json:"include_patterns"`
	ExcludePatterns     []string `json:"exclude_patterns"`
	StayOnDomain        bool     `json:"stay_on_domain"`
	MaxWorkers          int      `json:"max_workers"`
	RespectRobots       bool     `json:"respect_robots"`
	ConnectionTimeoutMs int      `json:"connection_timeout_ms"`
}

// DefaultPolicy returns a Policy for startURL with every other field at its default.
func DefaultPolicy(startURL string) Policy {
	return Policy{
		StartURL:            startURL,
		MaxDepth:            DefaultMaxDepth,
		StayOnDomain:        true,
		MaxWorkers:          DefaultMaxWorkers,
		RespectRobots:       true,
		ConnectionTimeoutMs: DefaultConnectionTimeoutMs,
	}
}

// Validate returns every rule the policy violates. An empty result means the
// policy can be used to start a job.
func (p Policy) Validate() []string {
	var errs []string
	start := strings.TrimSpace(p.StartURL)
	if start == "" {
		errs = append(errs, "Start URL cannot be empty")
	} else if !strings.HasPrefix(start, "http://") && !strings.HasPrefix(start, "https://") {
		errs = append(errs, "Start URL must start with http:// or https://")
	}
	if p.MaxDepth < 1 {
		errs = append(errs, "Maximum depth must be at least 1")
	}
	if p.MaxWorkers < 1 {
		errs = append(errs, "Maximum threads must be at least 1")
	}
	if p.ConnectionTimeoutMs < minConnectionTimeoutMs {
		errs = append(errs, "Connection timeout must be at least 1000 ms")
	}
	return errs
}

// ConnectionTimeout converts ConnectionTimeoutMs into a duration.
func (p Policy) ConnectionTimeout() time.Duration {
	return time.Duration(p.ConnectionTimeoutMs) * time.Millisecond
}

func (p Policy) clone() Policy {
	cp := p
	cp.IncludePatterns = cloneStrings(p.IncludePatterns)
	cp.ExcludePatterns = cloneStrings(p.ExcludePatterns)
	return cp
}

// ConfigValidationError is returned by Registry.Submit when the policy is
// rejected. Messages holds every violated rule.
type ConfigValidationError struct {
	Messages []string
}

func (e *ConfigValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Messages, ", ")
}

// SplitPatterns parses a comma separated pattern list as entered in a form,
// dropping blank entries.
func SplitPatterns(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func cloneStrings(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
