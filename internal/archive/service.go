// Package archive persists finished site maps and announces their completion.
//
// Service is registered as a crawler.CompletionHook. For COMPLETED jobs it
// renders every export format into the configured blob store; for every job
// it then publishes a CompletionEvent. Failures are logged and counted but
// never change the job's status.
package archive

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-spider/internal/crawler"
	"github.com/JakeFAU/site-spider/internal/export"
	"github.com/JakeFAU/site-spider/internal/hash/sha256"
	"github.com/JakeFAU/site-spider/internal/metrics"
)

const defaultPrefix = "sitemaps"

// Config controls where exports are written and which topic is notified.
type Config struct {
	Prefix string
	Topic  string
}

// CompletionEvent is the payload published when a job finishes.
type CompletionEvent struct {
	JobID           string            `json:"job_id"`
	StartURL        string            `json:"start_url"`
	Status          crawler.Status    `json:"status"`
	TotalPages      int               `json:"total_pages"`
	SuccessfulPages int               `json:"successful_pages"`
	FailedPages     int               `json:"failed_pages"`
	DurationSeconds int64             `json:"duration_seconds"`
	FinishedAt      *time.Time        `json:"finished_at,omitempty"`
	Exports         map[string]string `json:"exports,omitempty"`
	// Checksums holds the hex SHA-256 of each archived export, keyed like Exports.
	Checksums map[string]string `json:"checksums,omitempty"`
}

// Service implements crawler.CompletionHook. Either dependency may be nil to
// skip that step.
type Service struct {
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New builds a Service.
func New(blobs crawler.BlobStore, publisher crawler.Publisher, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	return &Service{
		blobs:     blobs,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// OnCompletion archives and announces a finished job.
func (s *Service) OnCompletion(ctx context.Context, jobID string, siteMap *crawler.SiteMap) {
	logger := s.logger.With(zap.String("job_id", jobID))
	summary := siteMap.Summary()

	var uris, checksums map[string]string
	if s.blobs != nil && summary.Status == crawler.StatusCompleted {
		uris, checksums = s.archive(ctx, logger, jobID, siteMap)
	}
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}

	event := CompletionEvent{
		JobID:           jobID,
		StartURL:        summary.StartURL,
		Status:          summary.Status,
		TotalPages:      summary.TotalPages,
		SuccessfulPages: summary.SuccessfulPages,
		FailedPages:     summary.FailedPages,
		DurationSeconds: summary.DurationSeconds,
		FinishedAt:      summary.EndTime,
		Exports:         uris,
		Checksums:       checksums,
	}
	id, err := s.publisher.Publish(ctx, s.cfg.Topic, event)
	if err != nil {
		logger.Error("completion event publish failed", zap.String("topic", s.cfg.Topic), zap.Error(err))
		return
	}
	logger.Info("completion event published", zap.String("topic", s.cfg.Topic), zap.String("message_id", id))
}

// archive writes each export format and returns the URIs and digests of the
// ones that succeeded, keyed by format name.
func (s *Service) archive(
	ctx context.Context,
	logger *zap.Logger,
	jobID string,
	siteMap *crawler.SiteMap,
) (map[string]string, map[string]string) {
	uris := make(map[string]string, len(export.Formats))
	checksums := make(map[string]string, len(export.Formats))
	for _, format := range export.Formats {
		uri, digest, err := s.put(ctx, jobID, format, siteMap)
		if err != nil {
			metrics.ObserveExport(string(format), "error")
			logger.Error("export archive failed", zap.String("format", string(format)), zap.Error(err))
			continue
		}
		metrics.ObserveExport(string(format), "ok")
		uris[string(format)] = uri
		checksums[string(format)] = digest
		logger.Debug("export archived", zap.String("format", string(format)), zap.String("uri", uri))
	}
	return uris, checksums
}

func (s *Service) put(
	ctx context.Context,
	jobID string,
	format export.Format,
	siteMap *crawler.SiteMap,
) (uri, digest string, err error) {
	body, err := export.Render(format, siteMap)
	if err != nil {
		return "", "", fmt.Errorf("render %s: %w", format, err)
	}
	uri, err = s.blobs.PutObject(ctx, ObjectPath(s.cfg.Prefix, jobID, format), format.ContentType(), strings.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("store %s: %w", format, err)
	}
	return uri, sha256.Digest(body), nil
}

// ObjectPath returns the blob path of a job's export.
func ObjectPath(prefix, jobID string, format export.Format) string {
	return path.Join(prefix, jobID, "sitemap."+format.Extension())
}
