package service

import "github.com/powersportsmart/catalog-worker/internal/models"

// ComputeVisibility decides whether a merged record may appear on the public
// storefront: weight, length, width, and height must all be present and
// non-zero. A record that loses a dimension during a sync becomes invisible
// until a later sync or a manual edit supplies the missing value.
func ComputeVisibility(product *models.Product) bool {
	return product.HasDimensions()
}
