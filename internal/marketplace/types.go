package marketplace

import (
	"errors"
	"time"
)

// ErrRateLimited is returned (wrapped in a PageResult) once the retry budget
// for a rate-limited page fetch is exhausted.
var ErrRateLimited = errors.New("marketplace rate limit exceeded")

// ErrInvalidCredentials marks authentication failures so callers can tell an
// operator to fix configuration rather than retry later.
var ErrInvalidCredentials = errors.New("marketplace rejected credentials")

// Item is one remote listing as parsed from the seller API.
// Pointer fields are absent when the remote payload omits them.
type Item struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Price       float64  `json:"price"`
	Quantity    *int     `json:"quantity,omitempty"`
	Condition   *string  `json:"condition,omitempty"`
	Brand       string   `json:"brand,omitempty"`
	MPN         string   `json:"mpn,omitempty"`
	Weight      *float64 `json:"weight,omitempty"`
	Length      *float64 `json:"length,omitempty"`
	Width       *float64 `json:"width,omitempty"`
	Height      *float64 `json:"height,omitempty"`
	Description string   `json:"description,omitempty"`
	SKU         string   `json:"sku,omitempty"`
	Image       *string  `json:"image,omitempty"`
	Images      []string `json:"images,omitempty"`

	StoreCategoryID  string `json:"store_category_id,omitempty"`
	StoreCategory2ID string `json:"store_category2_id,omitempty"`
	CategoryID       string `json:"category_id,omitempty"`
	CategoryName     string `json:"category_name,omitempty"`
	URL              string `json:"url,omitempty"`
}

// StoreCategory is one node of the seller's store category hierarchy.
type StoreCategory struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ParentID string `json:"parent_id,omitempty"`
}

// FetchOutcome tags the result of a page fetch so callers branch explicitly
// instead of inspecting client state after the fact.
type FetchOutcome string

const (
	OutcomeOK          FetchOutcome = "ok"
	OutcomeRateLimited FetchOutcome = "rate_limited" // retry budget exhausted, caller should back off
	OutcomeFailed      FetchOutcome = "failed"       // permanent for this run
)

// PageResult is the tagged result of a single page fetch.
//
//	OutcomeOK:          Items/InactiveItemIDs/TotalPages are valid
//	OutcomeRateLimited: RateLimitWait holds the total backoff already slept
//	OutcomeFailed:      Err holds the permanent failure
type PageResult struct {
	Outcome         FetchOutcome
	Items           []Item
	InactiveItemIDs []string
	TotalPages      int
	RateLimitWait   time.Duration
	Err             error
}

// wire envelopes

type listingsEnvelope struct {
	Items           []Item   `json:"items"`
	InactiveItemIDs []string `json:"inactive_item_ids"`
	TotalPages      int      `json:"total_pages"`
}

type itemEnvelope struct {
	Item Item `json:"item"`
}

type categoriesEnvelope struct {
	Categories []StoreCategory `json:"categories"`
}

type apiError struct {
	Code    string `json:"code"`
	Domain  string `json:"domain"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Errors []apiError `json:"errors"`
}
