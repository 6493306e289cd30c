package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/powersportsmart/catalog-worker/internal/marketplace"
	"github.com/powersportsmart/catalog-worker/internal/models"
	"github.com/powersportsmart/catalog-worker/internal/repository"
)

type mockProductStore struct {
	byRemoteID map[string]*models.Product
	created    []*models.Product
	updates    map[string]map[string]interface{}
	hiddenIDs  []string
	hiddenN    int
	getErr     error
}

func newMockProductStore() *mockProductStore {
	return &mockProductStore{
		byRemoteID: make(map[string]*models.Product),
		updates:    make(map[string]map[string]interface{}),
	}
}

func (m *mockProductStore) GetByRemoteItemID(ctx context.Context, remoteItemID string) (*models.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.byRemoteID[remoteItemID], nil
}

func (m *mockProductStore) Create(ctx context.Context, product *models.Product) error {
	m.created = append(m.created, product)
	if product.RemoteItemID != nil {
		m.byRemoteID[*product.RemoteItemID] = product
	}
	return nil
}

func (m *mockProductStore) Update(ctx context.Context, productID string, fields map[string]interface{}) error {
	m.updates[productID] = fields
	return nil
}

func (m *mockProductStore) HideByRemoteItemIDs(ctx context.Context, ids []string) (int, error) {
	m.hiddenIDs = append(m.hiddenIDs, ids...)
	hidden := 0
	for _, id := range ids {
		if _, ok := m.byRemoteID[id]; ok {
			hidden++
		}
	}
	m.hiddenN += hidden
	return hidden, nil
}

type mockRunStore struct {
	lastSuccessful *models.SyncRun
	createdRun     *models.SyncRun
	completedMark  *time.Time
	failedMsg      string
	counters       []int
}

func (m *mockRunStore) Create(ctx context.Context, run *models.SyncRun) error {
	m.createdRun = run
	return nil
}

func (m *mockRunStore) GetLastSuccessful(ctx context.Context) (*models.SyncRun, error) {
	return m.lastSuccessful, nil
}

func (m *mockRunStore) UpdateCounters(ctx context.Context, runID string, processed, added, updated, failed int) error {
	m.counters = []int{processed, added, updated, failed}
	return nil
}

func (m *mockRunStore) MarkCompleted(ctx context.Context, runID string, highWaterMark time.Time) error {
	m.completedMark = &highWaterMark
	return nil
}

func (m *mockRunStore) MarkFailed(ctx context.Context, runID string, errMsg string) error {
	m.failedMsg = errMsg
	return nil
}

type mockLockStore struct {
	acquireErr error
	acquired   bool
	released   bool
}

func (m *mockLockStore) Acquire(ctx context.Context, runID string, staleAfter time.Duration) error {
	if m.acquireErr != nil {
		return m.acquireErr
	}
	m.acquired = true
	return nil
}

func (m *mockLockStore) Release(ctx context.Context, runID string) error {
	m.released = true
	return nil
}

type processorFixture struct {
	processor *SyncProcessor
	products  *mockProductStore
	runs      *mockRunStore
	locks     *mockLockStore
	client    *mockMarketplaceAPI
	now       time.Time
}

func newProcessorFixture() *processorFixture {
	f := &processorFixture{
		products: newMockProductStore(),
		runs:     &mockRunStore{},
		locks:    &mockLockStore{},
		client:   &mockMarketplaceAPI{},
		now:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	log := zap.NewNop().Sugar()
	resolver := NewFieldResolver(f.client, log, nil)
	f.processor = NewSyncProcessor(f.products, f.runs, f.locks, f.client, resolver, log, nil, 100, 30*time.Minute)
	f.processor.now = func() time.Time { return f.now }
	f.processor.sleep = func(time.Duration) {}
	return f
}

func page(items []marketplace.Item, totalPages int, inactive ...string) *marketplace.PageResult {
	return &marketplace.PageResult{
		Outcome:         marketplace.OutcomeOK,
		Items:           items,
		InactiveItemIDs: inactive,
		TotalPages:      totalPages,
	}
}

func TestRunSyncFullModeWhenNoPriorSuccess(t *testing.T) {
	f := newProcessorFixture()

	var gotFrom, gotTo time.Time
	f.client.fetchFullFunc = func(ctx context.Context, p, pageSize int, dateFrom, dateTo time.Time) *marketplace.PageResult {
		gotFrom, gotTo = dateFrom, dateTo
		return page([]marketplace.Item{completeItem()}, 1)
	}

	summary, err := f.processor.RunSync(context.Background(), SyncOptions{Trigger: models.TriggerScheduled})

	require.NoError(t, err)
	assert.Equal(t, models.SyncModeFull, summary.Mode)
	assert.Equal(t, f.now.AddDate(0, 0, -FullSyncLookbackDays), gotFrom)
	assert.Equal(t, f.now, gotTo)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Added)
	assert.True(t, f.locks.released, "lock must be released on completion")
}

func TestRunSyncIncrementalWindow(t *testing.T) {
	f := newProcessorFixture()
	mark := f.now.Add(-6 * time.Hour)
	completed := f.now.Add(-6 * time.Hour)
	f.runs.lastSuccessful = &models.SyncRun{
		Status:            models.RunStatusCompleted,
		CompletedAt:       &completed,
		LastSyncTimestamp: &mark,
	}

	var gotFrom, gotTo time.Time
	f.client.fetchChangedFunc = func(ctx context.Context, from, to time.Time, p, pageSize int) *marketplace.PageResult {
		gotFrom, gotTo = from, to
		return page(nil, 0)
	}

	summary, err := f.processor.RunSync(context.Background(), SyncOptions{Trigger: models.TriggerScheduled})

	require.NoError(t, err)
	assert.Equal(t, models.SyncModeIncremental, summary.Mode)
	assert.Equal(t, mark.Add(-IncrementalOverlap), gotFrom, "window starts before the high-water-mark")
	assert.Equal(t, f.now.Add(-IndexingLag), gotTo, "window ends before now to absorb indexing lag")
}

func TestRunSyncManualWindowForcesFullMode(t *testing.T) {
	f := newProcessorFixture()
	mark := f.now.Add(-time.Hour)
	f.runs.lastSuccessful = &models.SyncRun{LastSyncTimestamp: &mark}

	dateFrom := f.now.AddDate(0, -3, 0)
	dateTo := f.now.AddDate(0, -2, 0)

	f.client.fetchFullFunc = func(ctx context.Context, p, pageSize int, from, to time.Time) *marketplace.PageResult {
		assert.Equal(t, dateFrom, from)
		assert.Equal(t, dateTo, to)
		return page([]marketplace.Item{completeItem()}, 1)
	}

	summary, err := f.processor.RunSync(context.Background(), SyncOptions{
		Trigger:  models.TriggerManual,
		DateFrom: &dateFrom,
		DateTo:   &dateTo,
	})

	require.NoError(t, err)
	assert.Equal(t, models.SyncModeFull, summary.Mode)
	require.NotNil(t, f.runs.completedMark)
	assert.Equal(t, mark, *f.runs.completedMark, "re-scanning an old window must not rewind the high-water-mark")
}

func TestRunSyncLockHeld(t *testing.T) {
	f := newProcessorFixture()
	f.locks.acquireErr = repository.ErrLockHeld

	_, err := f.processor.RunSync(context.Background(), SyncOptions{Trigger: models.TriggerManual})

	assert.ErrorIs(t, err, ErrSyncInProgress)
	assert.Nil(t, f.runs.createdRun, "no ledger entry when the lock is held")
}

func TestRunSyncRateLimitAbortsRun(t *testing.T) {
	f := newProcessorFixture()
	f.client.fetchFullFunc = func(ctx context.Context, p, pageSize int, from, to time.Time) *marketplace.PageResult {
		return &marketplace.PageResult{
			Outcome:       marketplace.OutcomeRateLimited,
			RateLimitWait: 65 * time.Second,
			Err:           marketplace.ErrRateLimited,
		}
	}

	_, err := f.processor.RunSync(context.Background(), SyncOptions{Trigger: models.TriggerScheduled})

	var rateLimited *RateLimitedError
	require.ErrorAs(t, err, &rateLimited)
	assert.Equal(t, 65*time.Second, rateLimited.Wait)
	assert.NotEmpty(t, f.runs.failedMsg, "aborted run recorded as failed")
	assert.True(t, f.locks.released, "lock released even on abort")
}

func TestRunSyncWalksAllPages(t *testing.T) {
	f := newProcessorFixture()

	itemA := completeItem()
	itemB := completeItem()
	itemB.ID = "item-2"
	f.client.fetchFullFunc = func(ctx context.Context, p, pageSize int, from, to time.Time) *marketplace.PageResult {
		switch p {
		case 1:
			return page([]marketplace.Item{itemA}, 2)
		case 2:
			return page([]marketplace.Item{itemB}, 2)
		default:
			t.Fatalf("unexpected page %d", p)
			return nil
		}
	}

	summary, err := f.processor.RunSync(context.Background(), SyncOptions{Trigger: models.TriggerScheduled})

	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Added)
	assert.Len(t, f.products.created, 2)
}

func TestRunSyncUpdatesExistingRecord(t *testing.T) {
	f := newProcessorFixture()
	remoteID := "item-1"
	f.products.byRemoteID[remoteID] = &models.Product{
		ID:           "local-1",
		RemoteItemID: &remoteID,
		Category:     CategoryBoat,
		Active:       true,
	}

	f.client.fetchFullFunc = func(ctx context.Context, p, pageSize int, from, to time.Time) *marketplace.PageResult {
		if p > 1 {
			return page(nil, 1)
		}
		return page([]marketplace.Item{completeItem()}, 1)
	}

	summary, err := f.processor.RunSync(context.Background(), SyncOptions{Trigger: models.TriggerScheduled})

	require.NoError(t, err)
	assert.Equal(t, 0, summary.Added)
	assert.Equal(t, 1, summary.Updated)
	assert.Empty(t, f.products.created)

	fields, ok := f.products.updates["local-1"]
	require.True(t, ok)
	assert.NotContains(t, fields, "category", "sync never writes the category column")
	assert.NotContains(t, fields, "active", "sync never writes the active column")
	assert.Equal(t, 499.99, fields["price"])
}

func TestRunSyncVisibilityGate(t *testing.T) {
	f := newProcessorFixture()

	visible := completeItem()
	noDims := completeItem()
	noDims.ID = "item-2"
	noDims.Weight = nil
	// keep the record complete enough that no detail backfill fires
	noDims.Brand = "Honda"
	noDims.MPN = "X-1"

	f.client.fetchFullFunc = func(ctx context.Context, p, pageSize int, from, to time.Time) *marketplace.PageResult {
		return page([]marketplace.Item{visible, noDims}, 1)
	}
	f.client.fetchDetailFunc = func(ctx context.Context, itemID string) (*marketplace.Item, error) {
		return &marketplace.Item{ID: itemID}, nil
	}

	_, err := f.processor.RunSync(context.Background(), SyncOptions{Trigger: models.TriggerScheduled})

	require.NoError(t, err)
	require.Len(t, f.products.created, 2)
	assert.True(t, f.products.created[0].Visible, "all dimensions present")
	assert.False(t, f.products.created[1].Visible, "missing weight forces the record off the storefront")
}

func TestRunSyncReconcilesInactiveItems(t *testing.T) {
	f := newProcessorFixture()
	mark := f.now.Add(-time.Hour)
	f.runs.lastSuccessful = &models.SyncRun{LastSyncTimestamp: &mark}

	goneA := "gone-1"
	f.products.byRemoteID[goneA] = &models.Product{ID: "local-a", RemoteItemID: &goneA, Visible: true}

	f.client.fetchChangedFunc = func(ctx context.Context, from, to time.Time, p, pageSize int) *marketplace.PageResult {
		return page(nil, 0, "gone-1", "gone-2")
	}

	_, err := f.processor.RunSync(context.Background(), SyncOptions{Trigger: models.TriggerScheduled})

	require.NoError(t, err)
	assert.Equal(t, []string{"gone-1", "gone-2"}, f.products.hiddenIDs)
	assert.Equal(t, 1, f.products.hiddenN, "identifiers without a local record are ignored")
}

func TestRunSyncEmptyFullScanReturnsErrNoListings(t *testing.T) {
	f := newProcessorFixture()
	f.client.fetchFullFunc = func(ctx context.Context, p, pageSize int, from, to time.Time) *marketplace.PageResult {
		return page(nil, 0)
	}

	summary, err := f.processor.RunSync(context.Background(), SyncOptions{Trigger: models.TriggerManual})

	assert.ErrorIs(t, err, ErrNoListings)
	require.NotNil(t, summary)
	assert.Equal(t, 0, summary.Processed)
	require.NotNil(t, f.runs.completedMark, "the run itself still completes")
}

func TestRunSyncItemFailureTolerated(t *testing.T) {
	f := newProcessorFixture()

	good := completeItem()
	bad := marketplace.Item{Title: "missing identifier"}

	f.client.fetchFullFunc = func(ctx context.Context, p, pageSize int, from, to time.Time) *marketplace.PageResult {
		return page([]marketplace.Item{bad, good}, 1)
	}

	summary, err := f.processor.RunSync(context.Background(), SyncOptions{Trigger: models.TriggerScheduled})

	require.NoError(t, err, "one bad item must not fail the run")
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Added)
	assert.Equal(t, 1, summary.Failed)
}

func TestRunSyncThrottlesAfterLargePages(t *testing.T) {
	f := newProcessorFixture()

	bigPage := make([]marketplace.Item, largePageThreshold+1)
	for i := range bigPage {
		item := completeItem()
		item.ID = "bulk-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		bigPage[i] = item
	}

	f.client.fetchFullFunc = func(ctx context.Context, p, pageSize int, from, to time.Time) *marketplace.PageResult {
		if p == 1 {
			return page(bigPage, 2)
		}
		return page(nil, 2)
	}

	var slept []time.Duration
	f.processor.sleep = func(d time.Duration) { slept = append(slept, d) }

	_, err := f.processor.RunSync(context.Background(), SyncOptions{Trigger: models.TriggerScheduled})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{interPageDelay}, slept, "one pause after the oversized page")
}
