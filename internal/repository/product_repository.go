package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/powersportsmart/catalog-worker/internal/models"
)

type ProductRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// GetByRemoteItemID retrieves the active catalog record mirroring the given
// marketplace listing. Returns (nil, nil) when no such record exists.
func (r *ProductRepository) GetByRemoteItemID(ctx context.Context, remoteItemID string) (*models.Product, error) {
	var product models.Product
	result := r.db.WithContext(ctx).
		Where("remote_item_id = ? AND active = ?", remoteItemID, true).
		First(&product)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get product: %w", result.Error)
	}
	return &product, nil
}

// Create inserts a new catalog record
func (r *ProductRepository) Create(ctx context.Context, product *models.Product) error {
	now := time.Now()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	result := r.db.WithContext(ctx).Create(product)
	if result.Error != nil {
		return fmt.Errorf("failed to create product: %w", result.Error)
	}
	return nil
}

// Update applies the given column values to one record. Callers control
// exactly which fields change; sync updates never include the category
// column.
func (r *ProductRepository) Update(ctx context.Context, productID string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()

	result := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ?", productID).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("failed to update product: %w", result.Error)
	}
	return nil
}

// HideByRemoteItemIDs flips storefront visibility off for every active record
// whose remote identifier is in ids and returns how many records matched.
// Identifiers with no local record are ignored. The active flag is untouched;
// this is a display-hide, not a delete.
func (r *ProductRepository) HideByRemoteItemIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).Model(&models.Product{}).
		Where("remote_item_id IN ? AND active = ?", ids, true).
		Updates(map[string]interface{}{
			"visible":    false,
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to hide products: %w", result.Error)
	}
	return int(result.RowsAffected), nil
}
