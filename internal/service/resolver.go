package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/powersportsmart/catalog-worker/internal/marketplace"
	"github.com/powersportsmart/catalog-worker/internal/metrics"
	"github.com/powersportsmart/catalog-worker/internal/models"
)

// DetailBackfillPolicy decides when a merged record is incomplete enough to
// justify the expensive per-item detail fetch. Manufacturer, model, and
// weight are always worth a second call; the secondary fields (description,
// SKU, images) only trigger one when enough of them are missing at once.
type DetailBackfillPolicy struct {
	MissingSecondaryThreshold int
}

var DefaultDetailBackfillPolicy = DetailBackfillPolicy{
	MissingSecondaryThreshold: 2,
}

// ShouldFetchDetail reports whether the record warrants a detail-level fetch.
func (p DetailBackfillPolicy) ShouldFetchDetail(product *models.Product) bool {
	if product.Manufacturer == "" || product.Model == "" || product.Weight == nil {
		return true
	}

	missing := 0
	if product.Description == "" {
		missing++
	}
	if product.SKU == "" {
		missing++
	}
	if product.ImageURL == nil && len(product.ExtraImageURLs) == 0 {
		missing++
	}
	return missing >= p.MissingSecondaryThreshold
}

// FieldResolver merges one remote item into a catalog record candidate under
// the field-priority policy.
type FieldResolver struct {
	client   MarketplaceAPI
	backfill DetailBackfillPolicy
	log      *zap.SugaredLogger
	metrics  *metrics.Metrics
}

func NewFieldResolver(client MarketplaceAPI, log *zap.SugaredLogger, m *metrics.Metrics) *FieldResolver {
	return &FieldResolver{
		client:   client,
		backfill: DefaultDetailBackfillPolicy,
		log:      log,
		metrics:  m,
	}
}

// SetBackfillPolicy overrides the detail-fetch policy.
func (r *FieldResolver) SetBackfillPolicy(policy DetailBackfillPolicy) {
	r.backfill = policy
}

// Resolve produces the upsert candidate for one remote item. When existing is
// nil the candidate is a brand-new record; otherwise remote fields are merged
// into a copy of the existing record. The category of an existing record is
// administrator-owned and never recomputed here.
func (r *FieldResolver) Resolve(ctx context.Context, item marketplace.Item, existing *models.Product) (*models.Product, error) {
	if item.ID == "" {
		return nil, errors.New("remote item missing identifier")
	}

	merged := &models.Product{}
	if existing != nil {
		*merged = *existing
	} else {
		merged.ID = uuid.New().String()
		merged.Source = models.SourceMarketplace
		merged.Active = true
	}

	remoteID := item.ID
	merged.RemoteItemID = &remoteID

	if item.Title != "" {
		merged.Title = item.Title
	}
	merged.Price = item.Price
	if item.Quantity != nil {
		merged.Quantity = item.Quantity
	}
	if item.Condition != nil {
		merged.Condition = item.Condition
	}
	if item.Description != "" {
		merged.Description = item.Description
	}
	if item.SKU != "" {
		merged.SKU = item.SKU
	}
	if item.Image != nil {
		merged.ImageURL = item.Image
	}
	if len(item.Images) > 0 {
		merged.ExtraImageURLs = item.Images
	}

	// Remote dimensions win; an omitted dimension keeps the local value
	// rather than clearing it.
	mergeDimension(&merged.Weight, item.Weight)
	mergeDimension(&merged.Length, item.Length)
	mergeDimension(&merged.Width, item.Width)
	mergeDimension(&merged.Height, item.Height)

	r.resolveManufacturerModel(ctx, item, merged)

	if existing == nil {
		merged.Category = r.resolveCategory(ctx, item)
	}

	if r.backfill.ShouldFetchDetail(merged) {
		r.backfillFromDetail(ctx, item.ID, merged)
	}

	return merged, nil
}

func mergeDimension(dst **float64, src *float64) {
	if src != nil {
		*dst = src
	}
}

// resolveManufacturerModel applies the precedence chain: explicit item
// fields, then names derived from the store category hierarchy, then the
// existing local value (already present in merged).
func (r *FieldResolver) resolveManufacturerModel(ctx context.Context, item marketplace.Item, merged *models.Product) {
	if item.Brand != "" {
		merged.Manufacturer = item.Brand
	}
	if item.MPN != "" {
		merged.Model = item.MPN
	}
	if merged.Manufacturer != "" && merged.Model != "" {
		return
	}

	primary, secondary := r.storeCategoryNames(ctx, item)
	if merged.Manufacturer == "" && primary != "" {
		merged.Manufacturer = primary
	}
	if merged.Model == "" && secondary != "" {
		merged.Model = secondary
	}
}

// resolveCategory classifies a new record: keyword table over title and
// marketplace category name first, then the store hierarchy name, then the
// catch-all.
func (r *FieldResolver) resolveCategory(ctx context.Context, item marketplace.Item) string {
	if category, ok := matchCategory(item.Title, item.CategoryName); ok {
		return category
	}

	primary, secondary := r.storeCategoryNames(ctx, item)
	if category, ok := matchCategory(primary, secondary); ok {
		return category
	}

	return CategoryOther
}

// storeCategoryNames resolves the item's store category identifiers against
// the (cached) hierarchy. Lookup failures degrade to empty names; the caller
// falls through to the next precedence level.
func (r *FieldResolver) storeCategoryNames(ctx context.Context, item marketplace.Item) (string, string) {
	if item.StoreCategoryID == "" && item.StoreCategory2ID == "" {
		return "", ""
	}

	categories, err := r.client.FetchStoreCategories(ctx)
	if err != nil {
		r.log.Warnf("Store category lookup failed for item %s: %v", item.ID, err)
		return "", ""
	}

	byID := make(map[string]marketplace.StoreCategory, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}

	var primary, secondary string
	if c, ok := byID[item.StoreCategoryID]; ok {
		primary = c.Name
	}
	if c, ok := byID[item.StoreCategory2ID]; ok {
		secondary = c.Name
	}
	return primary, secondary
}

// backfillFromDetail fetches the detail-level view and fills only the fields
// that are still missing. Values already resolved are never overridden.
func (r *FieldResolver) backfillFromDetail(ctx context.Context, itemID string, merged *models.Product) {
	r.metrics.IncDetailFetch()

	detail, err := r.client.FetchItemDetail(ctx, itemID)
	if err != nil {
		// Best effort: the record ships without the backfilled fields and
		// the next run tries again.
		r.log.Warnf("Detail backfill for item %s failed: %v", itemID, err)
		return
	}

	if merged.Manufacturer == "" && detail.Brand != "" {
		merged.Manufacturer = detail.Brand
	}
	if merged.Model == "" && detail.MPN != "" {
		merged.Model = detail.MPN
	}
	if merged.Weight == nil && detail.Weight != nil {
		merged.Weight = detail.Weight
	}
	if merged.Length == nil && detail.Length != nil {
		merged.Length = detail.Length
	}
	if merged.Width == nil && detail.Width != nil {
		merged.Width = detail.Width
	}
	if merged.Height == nil && detail.Height != nil {
		merged.Height = detail.Height
	}
	if merged.Description == "" && detail.Description != "" {
		merged.Description = detail.Description
	}
	if merged.SKU == "" && detail.SKU != "" {
		merged.SKU = detail.SKU
	}
	if merged.ImageURL == nil && detail.Image != nil {
		merged.ImageURL = detail.Image
	}
	if len(merged.ExtraImageURLs) == 0 && len(detail.Images) > 0 {
		merged.ExtraImageURLs = detail.Images
	}
}
