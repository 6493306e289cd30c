package marketplace

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c := NewClient(baseURL, "test-id", "test-secret", zap.NewNop().Sugar())
	c.SetTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test-token"}))
	c.sleep = func(time.Duration) {}
	return c
}

func TestBackoffPolicyWait(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 5 * time.Second},
		{1, 15 * time.Second},
		{2, 45 * time.Second},
	}
	for _, tt := range tests {
		if got := DefaultBackoffPolicy.Wait(tt.attempt); got != tt.want {
			t.Errorf("Wait(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestFetchFullListingPage(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sell/listings", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		gotQuery = map[string]string{
			"page":       r.URL.Query().Get("page"),
			"per_page":   r.URL.Query().Get("per_page"),
			"start_date": r.URL.Query().Get("start_date"),
			"end_date":   r.URL.Query().Get("end_date"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[{"id":"101","title":"Polaris clutch kit","price":249.99},{"id":"102","title":"Kawasaki brake lever","price":34.5}],"total_pages":3}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)

	res := c.FetchFullListingPage(context.Background(), 2, 100, from, to)

	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, "101", res.Items[0].ID)
	assert.Equal(t, 3, res.TotalPages)
	assert.Equal(t, "2", gotQuery["page"])
	assert.Equal(t, "100", gotQuery["per_page"])
	assert.Equal(t, "2024-01-01T00:00:00Z", gotQuery["start_date"])
	assert.Equal(t, "2024-04-30T00:00:00Z", gotQuery["end_date"])
}

func TestFetchChangedSinceReportsInactiveItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sell/listings/changes", r.URL.Path)
		assert.NotEmpty(t, r.URL.Query().Get("from"))
		assert.NotEmpty(t, r.URL.Query().Get("to"))
		w.Write([]byte(`{"items":[{"id":"201","title":"ATV winch","price":189}],"inactive_item_ids":["301","302"],"total_pages":1}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res := c.FetchChangedSince(context.Background(), time.Now().Add(-time.Hour), time.Now(), 1, 100)

	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, []string{"301", "302"}, res.InactiveItemIDs)
}

func TestFetchListingsBackoffSchedule(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	var sleeps []time.Duration
	c.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }

	res := c.FetchFullListingPage(context.Background(), 1, 100, time.Now().Add(-time.Hour), time.Now())

	assert.Equal(t, OutcomeRateLimited, res.Outcome)
	assert.Equal(t, 3, requests, "retry budget is three attempts")
	assert.Equal(t, []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second}, sleeps)
	assert.Equal(t, 65*time.Second, res.RateLimitWait)
	assert.ErrorIs(t, res.Err, ErrRateLimited)
}

func TestFetchListingsRecoversWithinBudget(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"items":[{"id":"401","title":"Boat prop","price":99}],"total_pages":1}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res := c.FetchFullListingPage(context.Background(), 1, 100, time.Now().Add(-time.Hour), time.Now())

	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Equal(t, 3, requests)
	assert.Len(t, res.Items, 1)
}

func TestFetchListingsInvalidCredentialsNotRetried(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	res := c.FetchFullListingPage(context.Background(), 1, 100, time.Now().Add(-time.Hour), time.Now())

	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, requests, "auth failures must not burn the retry budget")
	assert.ErrorIs(t, res.Err, ErrInvalidCredentials)
}

func TestIsRateLimitResponse(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   bool
	}{
		{"429 always", http.StatusTooManyRequests, "", true},
		{"error code signature", http.StatusBadRequest, `{"errors":[{"code":"RATE_LIMIT_EXCEEDED","message":"slow down"}]}`, true},
		{"error domain signature", http.StatusConflict, `{"errors":[{"domain":"rate-limits","message":"slow down"}]}`, true},
		{"500 with unparseable body", http.StatusInternalServerError, `<html>Bad Gateway</html>`, true},
		{"500 with empty envelope", http.StatusInternalServerError, `{}`, true},
		{"400 with unparseable body", http.StatusBadRequest, `not json`, false},
		{"400 with other error", http.StatusBadRequest, `{"errors":[{"code":"INVALID_PARAM","message":"bad page"}]}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRateLimitResponse(tt.status, []byte(tt.body)))
		})
	}
}

func TestFetchItemDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/sell/listings/501", r.URL.Path)
		w.Write([]byte(`{"item":{"title":"Yamaha outboard gasket","price":12.5,"brand":"Yamaha","mpn":"6G1-45113"}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	item, err := c.FetchItemDetail(context.Background(), "501")

	require.NoError(t, err)
	assert.Equal(t, "501", item.ID, "identifier backfilled when the detail payload omits it")
	assert.Equal(t, "Yamaha", item.Brand)
}

func TestFetchItemDetailNotRetried(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FetchItemDetail(context.Background(), "501")

	require.Error(t, err)
	assert.Equal(t, 1, requests, "detail fetches are best-effort, no backoff")
}

func TestFetchStoreCategoriesCached(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		require.Equal(t, "/sell/store/categories", r.URL.Path)
		w.Write([]byte(`{"categories":[{"id":"1","name":"Motorcycle Parts"},{"id":"2","name":"Helmets","parent_id":"1"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	first, err := c.FetchStoreCategories(context.Background())
	require.NoError(t, err)
	second, err := c.FetchStoreCategories(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, requests, "second read must come from cache")
	assert.Equal(t, first, second)
	assert.Equal(t, "Motorcycle Parts", first[0].Name)
}

type recordingSink struct {
	entries []AuditEntry
}

func (s *recordingSink) Record(e AuditEntry) { s.entries = append(s.entries, e) }

func TestAuditSinkReceivesEveryCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[],"total_pages":0}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	sink := &recordingSink{}
	c.SetAuditSink(sink)

	c.FetchFullListingPage(context.Background(), 1, 100, time.Now().Add(-time.Hour), time.Now())

	require.Len(t, sink.entries, 1)
	assert.Equal(t, http.MethodGet, sink.entries[0].Method)
	assert.Equal(t, http.StatusOK, sink.entries[0].Status)
	assert.Empty(t, sink.entries[0].Error)
}

type panickingSink struct{}

func (panickingSink) Record(AuditEntry) { panic("sink exploded") }

func TestAuditSinkPanicDoesNotFailCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[{"id":"601","title":"Gift card holder","price":5}],"total_pages":1}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.SetAuditSink(panickingSink{})

	res := c.FetchFullListingPage(context.Background(), 1, 100, time.Now().Add(-time.Hour), time.Now())

	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Len(t, res.Items, 1)
}
