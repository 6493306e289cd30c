package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type ProductSource string

const (
	SourceMarketplace ProductSource = "marketplace" // mirrored from the seller account
	SourceManual      ProductSource = "manual"      // entered by an administrator
)

// StringSlice stores an ordered list of strings as a JSON column
type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal string slice: %w", err)
	}
	return string(b), nil
}

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported type for string slice: %T", value)
	}
	return json.Unmarshal(b, s)
}

// Product is one catalog record, usually mirrored from a marketplace listing.
// RemoteItemID is nil only for manually entered records; for marketplace
// records it is unique across non-deleted rows.
type Product struct {
	ID             string        `gorm:"column:id;primaryKey"`
	RemoteItemID   *string       `gorm:"column:remote_item_id;index"`
	SKU            string        `gorm:"column:sku"`
	Title          string        `gorm:"column:title"`
	Description    string        `gorm:"column:description"`
	Price          float64       `gorm:"column:price"`
	Quantity       *int          `gorm:"column:quantity"`
	Manufacturer   string        `gorm:"column:manufacturer"`
	Model          string        `gorm:"column:model"`
	Condition      *string       `gorm:"column:condition"`
	Weight         *float64      `gorm:"column:weight"`
	Length         *float64      `gorm:"column:length"`
	Width          *float64      `gorm:"column:width"`
	Height         *float64      `gorm:"column:height"`
	ImageURL       *string       `gorm:"column:image_url"`
	ExtraImageURLs StringSlice   `gorm:"column:extra_image_urls;type:jsonb"`
	Category       string        `gorm:"column:category"`
	Source         ProductSource `gorm:"column:source"`
	Visible        bool          `gorm:"column:visible"`
	Active         bool          `gorm:"column:active"`
	CreatedAt      time.Time     `gorm:"column:created_at"`
	UpdatedAt      time.Time     `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Product) TableName() string {
	return "products"
}

// HasDimensions reports whether all shipping dimensions are present and non-zero.
func (p *Product) HasDimensions() bool {
	for _, d := range []*float64{p.Weight, p.Length, p.Width, p.Height} {
		if d == nil || *d <= 0 {
			return false
		}
	}
	return true
}
