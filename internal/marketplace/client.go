package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	listingsPath        = "/sell/listings"
	changesPath         = "/sell/listings/changes"
	storeCategoriesPath = "/sell/store/categories"
	tokenPath           = "/oauth2/token"

	storeCategoryTTL      = time.Hour
	storeCategoryCacheKey = "store_categories"
)

// BackoffPolicy controls how rate-limited page fetches are retried.
// The default schedule is 5s, 15s, 45s (65s total).
type BackoffPolicy struct {
	MaxRetries int
	Base       time.Duration
	Multiplier int
}

var DefaultBackoffPolicy = BackoffPolicy{
	MaxRetries: 3,
	Base:       5 * time.Second,
	Multiplier: 3,
}

// Wait returns the backoff duration for the given zero-based attempt.
func (p BackoffPolicy) Wait(attempt int) time.Duration {
	wait := p.Base
	for i := 0; i < attempt; i++ {
		wait *= time.Duration(p.Multiplier)
	}
	return wait
}

// Client talks to the marketplace seller API. Both query modes are idempotent
// reads; every call carries a bearer token obtained through the client
// credentials grant.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     oauth2.TokenSource
	backoff    BackoffPolicy
	sleep      func(time.Duration)
	audit      AuditSink
	log        *zap.SugaredLogger
	categories *cache.Cache
}

func NewClient(baseURL, clientID, clientSecret string, log *zap.SugaredLogger) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	creds := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     baseURL + tokenPath,
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tokens:     creds.TokenSource(context.Background()),
		backoff:    DefaultBackoffPolicy,
		sleep:      time.Sleep,
		audit:      NopAuditSink{},
		log:        log,
		categories: cache.New(storeCategoryTTL, 2*storeCategoryTTL),
	}
}

// SetAuditSink installs the collaborator that receives a copy of every
// request/response summary.
func (c *Client) SetAuditSink(sink AuditSink) {
	c.audit = sink
}

// SetBackoffPolicy overrides the retry schedule for rate-limited fetches.
func (c *Client) SetBackoffPolicy(policy BackoffPolicy) {
	c.backoff = policy
}

// SetTokenSource overrides the OAuth token source. Used by callers that
// already hold a token (and by tests).
func (c *Client) SetTokenSource(ts oauth2.TokenSource) {
	c.tokens = ts
}

// FetchFullListingPage retrieves one page of the full active-listing scan
// within the given date window.
func (c *Client) FetchFullListingPage(ctx context.Context, page, pageSize int, dateFrom, dateTo time.Time) *PageResult {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(pageSize))
	q.Set("start_date", dateFrom.UTC().Format(time.RFC3339))
	q.Set("end_date", dateTo.UTC().Format(time.RFC3339))
	return c.fetchListings(ctx, listingsPath, q)
}

// FetchChangedSince retrieves one page of the changed-since feed. The feed
// additionally reports identifiers of items deactivated in the window.
func (c *Client) FetchChangedSince(ctx context.Context, from, to time.Time, page, pageSize int) *PageResult {
	q := url.Values{}
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("to", to.UTC().Format(time.RFC3339))
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(pageSize))
	return c.fetchListings(ctx, changesPath, q)
}

// FetchItemDetail retrieves the detail-level view of a single listing. This
// is the expensive per-item call; callers decide when it is worth making.
func (c *Client) FetchItemDetail(ctx context.Context, itemID string) (*Item, error) {
	status, body, err := c.doGet(ctx, listingsPath+"/"+url.PathEscape(itemID), nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("detail fetch for item %s failed (status %d): %s", itemID, status, apiErrorMessage(body))
	}

	var env itemEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse item detail: %w", err)
	}
	if env.Item.ID == "" {
		env.Item.ID = itemID
	}
	return &env.Item, nil
}

// FetchStoreCategories retrieves the seller's store category hierarchy, cached
// for an hour because it changes rarely and is read for many items per run.
func (c *Client) FetchStoreCategories(ctx context.Context) ([]StoreCategory, error) {
	if cached, ok := c.categories.Get(storeCategoryCacheKey); ok {
		return cached.([]StoreCategory), nil
	}

	status, body, err := c.doGet(ctx, storeCategoriesPath, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("store category fetch failed (status %d): %s", status, apiErrorMessage(body))
	}

	var env categoriesEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to parse store categories: %w", err)
	}

	c.categories.Set(storeCategoryCacheKey, env.Categories, cache.DefaultExpiration)
	return env.Categories, nil
}

// fetchListings drives the retry loop shared by both query modes and returns
// a tagged result instead of mutating client state.
func (c *Client) fetchListings(ctx context.Context, path string, q url.Values) *PageResult {
	var totalWait time.Duration

	for attempt := 0; attempt < c.backoff.MaxRetries; attempt++ {
		env, retryable, err := c.fetchListingsOnce(ctx, path, q)
		if err == nil {
			return &PageResult{
				Outcome:         OutcomeOK,
				Items:           env.Items,
				InactiveItemIDs: env.InactiveItemIDs,
				TotalPages:      env.TotalPages,
			}
		}
		if !retryable {
			c.log.Errorf("Marketplace fetch %s failed: %v", path, err)
			return &PageResult{Outcome: OutcomeFailed, Err: err}
		}

		wait := c.backoff.Wait(attempt)
		c.log.Warnf("Marketplace rate limited on %s (attempt %d/%d), waiting %s", path, attempt+1, c.backoff.MaxRetries, wait)
		c.sleep(wait)
		totalWait += wait
	}

	return &PageResult{Outcome: OutcomeRateLimited, RateLimitWait: totalWait, Err: ErrRateLimited}
}

// fetchListingsOnce performs a single page request. The boolean reports
// whether the failure was classified as rate limiting and is worth a retry.
func (c *Client) fetchListingsOnce(ctx context.Context, path string, q url.Values) (*listingsEnvelope, bool, error) {
	status, body, err := c.doGet(ctx, path, q)
	if err != nil {
		// Transport and auth errors are not retried at this layer.
		return nil, false, err
	}

	switch {
	case status == http.StatusOK:
		var env listingsEnvelope
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, false, fmt.Errorf("failed to parse listings page: %w", err)
		}
		return &env, false, nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, false, fmt.Errorf("%w (status %d)", ErrInvalidCredentials, status)
	default:
		if isRateLimitResponse(status, body) {
			return nil, true, fmt.Errorf("rate limited (status %d)", status)
		}
		return nil, false, fmt.Errorf("marketplace error (status %d): %s", status, apiErrorMessage(body))
	}
}

// doGet issues one authenticated GET and mirrors the request/response summary
// to the audit sink.
func (c *Client) doGet(ctx context.Context, path string, q url.Values) (int, []byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	tok, err := c.tokens.Token()
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.mirror(AuditEntry{Method: http.MethodGet, URL: u, Duration: time.Since(start), Error: err.Error(), At: start})
		return 0, nil, fmt.Errorf("marketplace request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.mirror(AuditEntry{Method: http.MethodGet, URL: u, Status: resp.StatusCode, Duration: time.Since(start), Error: err.Error(), At: start})
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.mirror(AuditEntry{Method: http.MethodGet, URL: u, Status: resp.StatusCode, Duration: time.Since(start), At: start})
	return resp.StatusCode, body, nil
}

// mirror hands the entry to the audit sink. The mirror must never block or
// fail the call it describes.
func (c *Client) mirror(entry AuditEntry) {
	if c.audit == nil {
		return
	}
	defer func() { _ = recover() }()
	c.audit.Record(entry)
}

// isRateLimitResponse classifies a non-2xx response. A response is rate
// limited when the error payload carries the known code/domain signature, or
// when a server error has a body that cannot be parsed as a valid envelope
// (ambiguous failures count as rate-limit candidates, not permanent ones).
func isRateLimitResponse(status int, body []byte) bool {
	if status == http.StatusTooManyRequests {
		return true
	}

	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Errors) == 0 {
		return status >= http.StatusInternalServerError
	}

	for _, e := range env.Errors {
		if e.Code == "RATE_LIMIT_EXCEEDED" || e.Domain == "rate-limits" {
			return true
		}
	}
	return false
}

// apiErrorMessage extracts a readable message from an error envelope, falling
// back to the raw body.
func apiErrorMessage(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.Errors) > 0 {
		return env.Errors[0].Message
	}
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}
