package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/powersportsmart/catalog-worker/internal/marketplace"
	"github.com/powersportsmart/catalog-worker/internal/metrics"
	"github.com/powersportsmart/catalog-worker/internal/models"
	"github.com/powersportsmart/catalog-worker/internal/repository"
)

const (
	// FullSyncLookbackDays bounds the window of a full scan when no prior
	// successful run exists.
	FullSyncLookbackDays = 120

	// IncrementalOverlap is subtracted from the high-water-mark so changes
	// racing the previous run's window edge are not missed.
	IncrementalOverlap = 2 * time.Minute

	// IndexingLag is subtracted from "now" because the marketplace may still
	// be indexing very recent changes.
	IndexingLag = 2 * time.Minute

	// Pages larger than this are followed by a short pause to stay under the
	// remote rate limit.
	largePageThreshold = 50
	interPageDelay     = time.Second
)

// ErrSyncInProgress means another invocation holds the sync lock.
var ErrSyncInProgress = errors.New("a sync run is already in progress")

// ErrNoListings means a full scan found nothing at all, which usually points
// at misconfigured credentials or the wrong seller account.
var ErrNoListings = errors.New("marketplace returned no listings")

// RateLimitedError aborts a run after the client's retry budget ran out.
// Wait is the total backoff already slept, for operator-facing messages.
type RateLimitedError struct {
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("marketplace rate limit exceeded after %s of backoff", e.Wait)
}

// MarketplaceAPI is the slice of the marketplace client the sync engine uses.
type MarketplaceAPI interface {
	FetchFullListingPage(ctx context.Context, page, pageSize int, dateFrom, dateTo time.Time) *marketplace.PageResult
	FetchChangedSince(ctx context.Context, from, to time.Time, page, pageSize int) *marketplace.PageResult
	FetchItemDetail(ctx context.Context, itemID string) (*marketplace.Item, error)
	FetchStoreCategories(ctx context.Context) ([]marketplace.StoreCategory, error)
}

// ProductStore is the catalog persistence the engine needs.
type ProductStore interface {
	GetByRemoteItemID(ctx context.Context, remoteItemID string) (*models.Product, error)
	Create(ctx context.Context, product *models.Product) error
	Update(ctx context.Context, productID string, fields map[string]interface{}) error
	HideByRemoteItemIDs(ctx context.Context, ids []string) (int, error)
}

// SyncRunStore is the run ledger.
type SyncRunStore interface {
	Create(ctx context.Context, run *models.SyncRun) error
	GetLastSuccessful(ctx context.Context) (*models.SyncRun, error)
	UpdateCounters(ctx context.Context, runID string, processed, added, updated, failed int) error
	MarkCompleted(ctx context.Context, runID string, highWaterMark time.Time) error
	MarkFailed(ctx context.Context, runID string, errMsg string) error
}

// SyncLockStore is the advisory lock guarding concurrent invocations.
type SyncLockStore interface {
	Acquire(ctx context.Context, runID string, staleAfter time.Duration) error
	Release(ctx context.Context, runID string) error
}

// SyncOptions describes one invocation of the engine.
type SyncOptions struct {
	Trigger models.SyncTrigger

	// DateFrom/DateTo force an ad-hoc full scan over the given window. Only
	// the manual trigger surface sets them.
	DateFrom *time.Time
	DateTo   *time.Time
}

// SyncSummary is the result reported to the trigger surface.
type SyncSummary struct {
	RunID     string           `json:"run_id"`
	Mode      models.SyncMode  `json:"mode"`
	Processed int              `json:"processed"`
	Added     int              `json:"added"`
	Updated   int              `json:"updated"`
	Failed    int              `json:"failed"`
}

// SyncProcessor orchestrates one catalog synchronization run: mode selection,
// the page loop, per-item resolution, reconciliation, and the run ledger. One
// run is strictly sequential; the remote rate limit is the binding
// constraint, so there is nothing to gain from parallel pages.
type SyncProcessor struct {
	productRepo ProductStore
	runRepo     SyncRunStore
	lockRepo    SyncLockStore
	client      MarketplaceAPI
	resolver    *FieldResolver
	reconciler  *Reconciler
	log         *zap.SugaredLogger
	metrics     *metrics.Metrics

	pageSize       int
	lockStaleAfter time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

func NewSyncProcessor(
	productRepo ProductStore,
	runRepo SyncRunStore,
	lockRepo SyncLockStore,
	client MarketplaceAPI,
	resolver *FieldResolver,
	log *zap.SugaredLogger,
	m *metrics.Metrics,
	pageSize int,
	lockStaleAfter time.Duration,
) *SyncProcessor {
	return &SyncProcessor{
		productRepo:    productRepo,
		runRepo:        runRepo,
		lockRepo:       lockRepo,
		client:         client,
		resolver:       resolver,
		reconciler:     NewReconciler(productRepo, log, m),
		log:            log,
		metrics:        m,
		pageSize:       pageSize,
		lockStaleAfter: lockStaleAfter,
		now:            time.Now,
		sleep:          time.Sleep,
	}
}

// RunSync executes one synchronization run end to end.
func (p *SyncProcessor) RunSync(ctx context.Context, opts SyncOptions) (*SyncSummary, error) {
	runID := uuid.New().String()

	if err := p.lockRepo.Acquire(ctx, runID, p.lockStaleAfter); err != nil {
		if errors.Is(err, repository.ErrLockHeld) {
			return nil, ErrSyncInProgress
		}
		return nil, fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	defer func() {
		if err := p.lockRepo.Release(context.WithoutCancel(ctx), runID); err != nil {
			p.log.Warnf("Failed to release sync lock for run %s: %v", runID, err)
		}
	}()

	startedAt := p.now()

	mode, from, to, priorMark, err := p.selectMode(ctx, opts, startedAt)
	if err != nil {
		return nil, err
	}

	run := &models.SyncRun{
		ID:        runID,
		Mode:      mode,
		Trigger:   opts.Trigger,
		Status:    models.RunStatusRunning,
		StartedAt: startedAt,
	}
	if err := p.runRepo.Create(ctx, run); err != nil {
		// Cannot write the ledger: run-fatal before any page is fetched.
		return nil, fmt.Errorf("failed to create sync run: %w", err)
	}

	p.log.Infof("Sync run %s started (mode: %s, trigger: %s, window: %s .. %s)",
		runID, mode, opts.Trigger, from.Format(time.RFC3339), to.Format(time.RFC3339))

	summary := &SyncSummary{RunID: runID, Mode: mode}
	inactiveIDs, err := p.runPageLoop(ctx, mode, from, to, summary)
	if err != nil {
		p.finalizeFailed(ctx, runID, summary, err)
		return nil, err
	}

	if len(inactiveIDs) > 0 {
		if _, err := p.reconciler.Reconcile(ctx, inactiveIDs); err != nil {
			// Hidden items will be reported again by the next delta window.
			p.log.Errorf("Reconciliation failed for run %s: %v", runID, err)
		}
	}

	if err := p.runRepo.UpdateCounters(ctx, runID, summary.Processed, summary.Added, summary.Updated, summary.Failed); err != nil {
		p.log.Warnf("Failed to persist final counters for run %s: %v", runID, err)
	}

	// The high-water-mark only ever advances; a manual re-scan of an old
	// window must not rewind it.
	highWaterMark := to
	if priorMark != nil && priorMark.After(highWaterMark) {
		highWaterMark = *priorMark
	}
	if err := p.runRepo.MarkCompleted(ctx, runID, highWaterMark); err != nil {
		return nil, fmt.Errorf("failed to finalize sync run: %w", err)
	}

	p.metrics.ObserveRun(string(mode), models.RunStatusCompleted, p.now().Sub(startedAt))
	p.log.Infof("Sync run %s completed: processed=%d added=%d updated=%d failed=%d",
		runID, summary.Processed, summary.Added, summary.Updated, summary.Failed)

	if mode == models.SyncModeFull && summary.Processed == 0 {
		return summary, ErrNoListings
	}
	return summary, nil
}

// selectMode picks full versus incremental and computes the time window. The
// prior high-water-mark (if any) is returned so finalization can keep it
// monotonic.
func (p *SyncProcessor) selectMode(ctx context.Context, opts SyncOptions, now time.Time) (models.SyncMode, time.Time, time.Time, *time.Time, error) {
	last, err := p.runRepo.GetLastSuccessful(ctx)
	if err != nil {
		return "", time.Time{}, time.Time{}, nil, fmt.Errorf("failed to read sync ledger: %w", err)
	}

	var priorMark *time.Time
	if last != nil {
		priorMark = last.LastSyncTimestamp
	}

	if opts.DateFrom != nil {
		// Operator-forced full scan over an explicit window.
		to := now
		if opts.DateTo != nil {
			to = *opts.DateTo
		}
		return models.SyncModeFull, *opts.DateFrom, to, priorMark, nil
	}

	if last == nil || last.LastSyncTimestamp == nil {
		from := now.AddDate(0, 0, -FullSyncLookbackDays)
		return models.SyncModeFull, from, now, priorMark, nil
	}

	from := last.LastSyncTimestamp.Add(-IncrementalOverlap)
	to := now.Add(-IndexingLag)
	return models.SyncModeIncremental, from, to, priorMark, nil
}

// runPageLoop walks remote pages until exhaustion. It returns the inactive
// identifiers reported by the delta feed, and an error only for run-fatal
// page-fetch failures; individual item failures are tolerated and counted.
func (p *SyncProcessor) runPageLoop(ctx context.Context, mode models.SyncMode, from, to time.Time, summary *SyncSummary) ([]string, error) {
	var inactiveIDs []string
	page := 1

	for {
		var result *marketplace.PageResult
		if mode == models.SyncModeFull {
			result = p.client.FetchFullListingPage(ctx, page, p.pageSize, from, to)
		} else {
			result = p.client.FetchChangedSince(ctx, from, to, page, p.pageSize)
		}

		switch result.Outcome {
		case marketplace.OutcomeRateLimited:
			p.metrics.IncRateLimited()
			return nil, &RateLimitedError{Wait: result.RateLimitWait}
		case marketplace.OutcomeFailed:
			return nil, fmt.Errorf("page %d fetch failed: %w", page, result.Err)
		}

		if len(result.InactiveItemIDs) > 0 {
			inactiveIDs = result.InactiveItemIDs
		}

		if len(result.Items) == 0 {
			break
		}

		for _, item := range result.Items {
			added, err := p.processItem(ctx, item)
			summary.Processed++
			if err != nil {
				summary.Failed++
				p.metrics.AddItems(metrics.ItemFailed, 1)
				p.log.Errorf("Item %s failed: %v", item.ID, err)
				continue
			}
			if added {
				summary.Added++
				p.metrics.AddItems(metrics.ItemAdded, 1)
			} else {
				summary.Updated++
				p.metrics.AddItems(metrics.ItemUpdated, 1)
			}
		}

		if err := p.runRepo.UpdateCounters(ctx, summary.RunID, summary.Processed, summary.Added, summary.Updated, summary.Failed); err != nil {
			p.log.Warnf("Failed to update counters mid-run: %v", err)
		}

		if result.TotalPages > 0 && page >= result.TotalPages {
			break
		}
		if len(result.Items) > largePageThreshold {
			p.sleep(interPageDelay)
		}
		page++
	}

	return inactiveIDs, nil
}

// processItem merges one remote item and upserts the catalog record. The
// returned bool reports whether a new record was created.
func (p *SyncProcessor) processItem(ctx context.Context, item marketplace.Item) (bool, error) {
	if item.ID == "" {
		return false, errors.New("remote item missing identifier")
	}

	existing, err := p.productRepo.GetByRemoteItemID(ctx, item.ID)
	if err != nil {
		return false, err
	}

	merged, err := p.resolver.Resolve(ctx, item, existing)
	if err != nil {
		return false, err
	}

	wasVisible := existing != nil && existing.Visible
	merged.Visible = ComputeVisibility(merged)
	if wasVisible && !merged.Visible {
		p.log.Infof("Item %s lost a shipping dimension, hiding from storefront", item.ID)
	}

	if existing == nil {
		return true, p.productRepo.Create(ctx, merged)
	}
	return false, p.productRepo.Update(ctx, existing.ID, syncUpdateFields(merged))
}

// syncUpdateFields builds the update payload for an existing record. The
// category and active columns are owned by administrators and never written
// by sync.
func syncUpdateFields(p *models.Product) map[string]interface{} {
	return map[string]interface{}{
		"remote_item_id":   p.RemoteItemID,
		"sku":              p.SKU,
		"title":            p.Title,
		"description":      p.Description,
		"price":            p.Price,
		"quantity":         p.Quantity,
		"manufacturer":     p.Manufacturer,
		"model":            p.Model,
		"condition":        p.Condition,
		"weight":           p.Weight,
		"length":           p.Length,
		"width":            p.Width,
		"height":           p.Height,
		"image_url":        p.ImageURL,
		"extra_image_urls": p.ExtraImageURLs,
		"source":           p.Source,
		"visible":          p.Visible,
	}
}

// finalizeFailed records the abort reason in the ledger. Counters reflect
// whatever completed before the failure.
func (p *SyncProcessor) finalizeFailed(ctx context.Context, runID string, summary *SyncSummary, cause error) {
	if err := p.runRepo.UpdateCounters(ctx, runID, summary.Processed, summary.Added, summary.Updated, summary.Failed); err != nil {
		p.log.Warnf("Failed to persist counters for failed run %s: %v", runID, err)
	}
	if err := p.runRepo.MarkFailed(ctx, runID, cause.Error()); err != nil {
		p.log.Errorf("Failed to mark run %s failed: %v", runID, err)
	}
	p.metrics.ObserveRun(string(summary.Mode), models.RunStatusFailed, 0)
	p.log.Errorf("Sync run %s failed: %v", runID, cause)
}
