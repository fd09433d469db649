package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-spider/internal/crawler"
	"github.com/JakeFAU/site-spider/internal/export"
	"github.com/JakeFAU/site-spider/internal/hash/sha256"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// submitRequest carries the policy fields of POST /v1/sitemaps. Omitted
// fields take the configured defaults.
type submitRequest struct {
	StartURL            string      `json:"start_url"`
	MaxDepth            *int        `json:"max_depth"`
	IncludePatterns     patternList `json:"include_patterns"`
	ExcludePatterns     patternList `json:"exclude_patterns"`
	StayOnDomain        *bool       `json:"stay_on_domain"`
	MaxWorkers          *int        `json:"max_workers"`
	RespectRobots       *bool       `json:"respect_robots"`
	ConnectionTimeoutMs *int        `json:"connection_timeout_ms"`
}

// patternList accepts either a JSON array of patterns or a single
// comma-separated string, as submitted by HTML forms.
type patternList []string

func (p *patternList) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		*p = crawler.SplitPatterns(raw)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("patterns must be a string or a list of strings: %w", err)
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*p = out
	return nil
}

type validationErrorResponse struct {
	Error    string   `json:"error"`
	Messages []string `json:"messages"`
}

type siteMapDTO struct {
	ID string `json:"id"`
	crawler.Summary
}

type siteMapDetailDTO struct {
	siteMapDTO
	Policy crawler.Policy `json:"policy"`
}

type statusDTO struct {
	ID              string         `json:"id"`
	Status          crawler.Status `json:"status"`
	TotalPages      int            `json:"total_pages"`
	SuccessfulPages int            `json:"successful_pages"`
	FailedPages     int            `json:"failed_pages"`
	DurationSeconds int64          `json:"duration_seconds"`
}

func (s *Server) submitSiteMap(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	policy := s.toPolicy(req)
	jobID, err := s.registry.Submit(policy)
	if err != nil {
		var validationErr *crawler.ConfigValidationError
		if errors.As(err, &validationErr) {
			writeJSON(w, http.StatusBadRequest, validationErrorResponse{
				Error:    "invalid configuration",
				Messages: validationErr.Messages,
			})
			return
		}
		s.logger.Error("submit sitemap failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start crawl")
		return
	}
	w.Header().Set("Location", "/v1/sitemaps/"+jobID)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": jobID})
}

func (s *Server) toPolicy(req submitRequest) crawler.Policy {
	policy := s.cfg.Policy(strings.TrimSpace(req.StartURL))
	policy.MaxDepth = valueOrDefault(req.MaxDepth, policy.MaxDepth)
	policy.MaxWorkers = valueOrDefault(req.MaxWorkers, policy.MaxWorkers)
	policy.StayOnDomain = valueOrDefault(req.StayOnDomain, policy.StayOnDomain)
	policy.RespectRobots = valueOrDefault(req.RespectRobots, policy.RespectRobots)
	policy.ConnectionTimeoutMs = valueOrDefault(req.ConnectionTimeoutMs, policy.ConnectionTimeoutMs)
	policy.IncludePatterns = []string(req.IncludePatterns)
	policy.ExcludePatterns = []string(req.ExcludePatterns)
	return policy
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

// listSiteMaps handles GET /v1/sitemaps?status=&limit=&offset=.
func (s *Server) listSiteMaps(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultListLimit, maxListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var filter *crawler.Status
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := parseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter = &status
	}

	out := make([]siteMapDTO, 0)
	for _, entry := range s.registry.List() {
		summary := entry.SiteMap.Summary()
		if filter != nil && summary.Status != *filter {
			continue
		}
		out = append(out, siteMapDTO{ID: entry.ID, Summary: summary})
	}
	total := len(out)
	out = out[min(offset, total):min(offset+limit, total)]
	writeJSON(w, http.StatusOK, map[string]any{
		"sitemaps": out,
		"total":    total,
	})
}

func (s *Server) getSiteMap(w http.ResponseWriter, r *http.Request) {
	jobID, siteMap, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, siteMapDetailDTO{
		siteMapDTO: siteMapDTO{ID: jobID, Summary: siteMap.Summary()},
		Policy:     siteMap.Policy(),
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	jobID, siteMap, ok := s.lookup(w, r)
	if !ok {
		return
	}
	summary := siteMap.Summary()
	writeJSON(w, http.StatusOK, statusDTO{
		ID:              jobID,
		Status:          summary.Status,
		TotalPages:      summary.TotalPages,
		SuccessfulPages: summary.SuccessfulPages,
		FailedPages:     summary.FailedPages,
		DurationSeconds: summary.DurationSeconds,
	})
}

func (s *Server) getTree(w http.ResponseWriter, r *http.Request) {
	jobID, siteMap, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":   jobID,
		"tree": siteMap.PageTree(),
	})
}

// getPages handles GET /v1/sitemaps/{job_id}/pages?group_by=depth|domain.
func (s *Server) getPages(w http.ResponseWriter, r *http.Request) {
	jobID, siteMap, ok := s.lookup(w, r)
	if !ok {
		return
	}
	switch groupBy := strings.ToLower(r.URL.Query().Get("group_by")); groupBy {
	case "":
		writeJSON(w, http.StatusOK, map[string]any{"id": jobID, "pages": siteMap.Pages()})
	case "depth":
		writeJSON(w, http.StatusOK, map[string]any{"id": jobID, "pages_by_depth": siteMap.PagesByDepth()})
	case "domain":
		writeJSON(w, http.StatusOK, map[string]any{"id": jobID, "pages_by_domain": siteMap.PagesByDomain()})
	default:
		writeError(w, http.StatusBadRequest, "invalid group_by")
	}
}

func (s *Server) getChildren(w http.ResponseWriter, r *http.Request) {
	jobID, siteMap, ok := s.lookup(w, r)
	if !ok {
		return
	}
	pageURL := r.URL.Query().Get("url")
	if pageURL == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       jobID,
		"url":      pageURL,
		"children": siteMap.ChildPages(pageURL),
	})
}

func (s *Server) cancelSiteMap(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !s.registry.Cancel(jobID) {
		writeError(w, http.StatusNotFound, crawler.ErrJobNotFound.Error())
		return
	}
	status := crawler.StatusFailed
	if siteMap, ok := s.registry.Get(jobID); ok {
		status = siteMap.Status()
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": jobID, "status": string(status)})
}

func (s *Server) deleteSiteMap(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !s.registry.Remove(jobID) {
		writeError(w, http.StatusNotFound, crawler.ErrJobNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) exportSiteMap(w http.ResponseWriter, r *http.Request) {
	jobID, siteMap, ok := s.lookup(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(chi.URLParam(r, "format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	body, err := export.Render(format, siteMap)
	if err != nil {
		s.logger.Error("render export failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render export")
		return
	}
	etag := sha256.ETag(body)
	w.Header().Set("ETag", etag)
	if sha256.MatchesETag(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="sitemap.%s"`, format.Extension()))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Warn("export write failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// lookup resolves the job_id URL parameter, writing a 404 when it is unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (string, *crawler.SiteMap, bool) {
	jobID := chi.URLParam(r, "job_id")
	siteMap, ok := s.registry.Get(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, crawler.ErrJobNotFound.Error())
		return "", nil, false
	}
	return jobID, siteMap, true
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (crawler.Status, error) {
	switch strings.ToUpper(strings.ReplaceAll(input, "-", "_")) {
	case string(crawler.StatusPending):
		return crawler.StatusPending, nil
	case string(crawler.StatusInProgress), "RUNNING":
		return crawler.StatusInProgress, nil
	case string(crawler.StatusCompleted), "SUCCESS":
		return crawler.StatusCompleted, nil
	case string(crawler.StatusFailed), "ERROR", "CANCELED":
		return crawler.StatusFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}

// Compile-time check that the registry satisfies the handler contract.
var _ Registry = (*crawler.Registry)(nil)
