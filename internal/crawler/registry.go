package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrJobNotFound is returned when a job ID is not registered.
var ErrJobNotFound = errors.New("sitemap not found")

// Registry owns every site map known to the process. Submit starts a crawl
// in the background; the read and administrative calls never wait on one.
type Registry struct {
	store  SiteMapStore
	engine *Engine
	idGen  IDGenerator
	clock  Clock
	hooks  []CompletionHook
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry builds a Registry. Crawls it starts run until their frontier
// drains or Close is called.
func NewRegistry(
	store SiteMapStore,
	engine *Engine,
	idGen IDGenerator,
	clock Clock,
	logger *zap.Logger,
	hooks ...CompletionHook,
) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		store:  store,
		engine: engine,
		idGen:  idGen,
		clock:  clock,
		hooks:  hooks,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit validates policy, registers a PENDING site map and starts crawling
// it asynchronously. It returns *ConfigValidationError when the policy is
// invalid; no job is created in that case.
func (r *Registry) Submit(policy Policy) (string, error) {
	if msgs := policy.Validate(); len(msgs) > 0 {
		return "", &ConfigValidationError{Messages: msgs}
	}
	jobID, err := r.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	siteMap := NewSiteMap(policy, r.clock)
	if err := r.store.Put(jobID, siteMap); err != nil {
		return "", fmt.Errorf("register sitemap: %w", err)
	}
	r.logger.Info("sitemap submitted", zap.String("job_id", jobID), zap.String("start_url", policy.StartURL))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.orchestrate(jobID, siteMap)
	}()
	return jobID, nil
}

func (r *Registry) orchestrate(jobID string, siteMap *SiteMap) {
	if err := r.engine.Run(r.ctx, jobID, siteMap); err != nil {
		r.logger.Warn("crawl ended with error", zap.String("job_id", jobID), zap.Error(err))
	}
	for _, hook := range r.hooks {
		r.runHook(hook, jobID, siteMap)
	}
}

func (r *Registry) runHook(hook CompletionHook, jobID string, siteMap *SiteMap) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("completion hook panicked", zap.String("job_id", jobID), zap.Any("panic", rec))
		}
	}()
	hook.OnCompletion(context.WithoutCancel(r.ctx), jobID, siteMap)
}

// Get returns the site map registered under jobID.
func (r *Registry) Get(jobID string) (*SiteMap, bool) {
	return r.store.Get(jobID)
}

// List returns every registered job.
func (r *Registry) List() []JobEntry {
	return r.store.List()
}

// Cancel marks the job FAILED and stamps its end time. Workers already
// running keep crawling and the page store may keep growing; cancellation
// only changes how the job is reported.
func (r *Registry) Cancel(jobID string) bool {
	siteMap, ok := r.store.Get(jobID)
	if !ok {
		return false
	}
	siteMap.fail()
	r.logger.Info("sitemap canceled", zap.String("job_id", jobID))
	return true
}

// Remove drops the job from the registry. A crawl still running against the
// site map continues until its frontier drains.
func (r *Registry) Remove(jobID string) bool {
	removed := r.store.Delete(jobID)
	if removed {
		r.logger.Info("sitemap removed", zap.String("job_id", jobID))
	}
	return removed
}

// Wait blocks until every crawl started by Submit has returned and its
// completion hooks have run.
func (r *Registry) Wait() {
	r.wg.Wait()
}

// Close stops in-flight crawls and waits for them to return. Jobs that were
// still running are marked FAILED.
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
}
