package marketplace

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/infrastructure/ratelimit"
)

type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
		c.slept += d
	}
	return nil
}

func (c *fakeClock) Slept() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slept
}

var testAccounts = []AccountConfig{
	{ID: "acc-a", APIKey: "key-a", APISecret: "secret-a"},
	{ID: "acc-b", APIKey: "key-b", APISecret: "secret-b"},
}

// recordedCall is one request seen by the fake marketplace
type recordedCall struct {
	Path   string
	APIKey string
	Body   map[string]any
}

// fakeMarketplace is an httptest server with a pluggable handler
type fakeMarketplace struct {
	t      *testing.T
	server *httptest.Server
	mu     sync.Mutex
	calls  []recordedCall
	handle func(w http.ResponseWriter, call recordedCall, n int)
}

func newFakeMarketplace(t *testing.T, handle func(w http.ResponseWriter, call recordedCall, n int)) *fakeMarketplace {
	t.Helper()
	f := &fakeMarketplace{t: t, handle: handle}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if !assert.NoError(t, err) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		acct := accountByKey(r.Header.Get(HeaderAPIKey))
		if acct == nil || acct.Sign(r.Header.Get(HeaderTimestamp), r.Method, r.URL.Path, raw) != r.Header.Get(HeaderSignature) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		call := recordedCall{Path: r.URL.Path, APIKey: acct.APIKey}
		_ = json.Unmarshal(raw, &call.Body)

		f.mu.Lock()
		f.calls = append(f.calls, call)
		n := len(f.calls)
		f.mu.Unlock()

		f.handle(w, call, n)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeMarketplace) Calls() []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCall(nil), f.calls...)
}

func accountByKey(key string) *AccountConfig {
	for i := range testAccounts {
		if testAccounts[i].APIKey == key {
			return &testAccounts[i]
		}
	}
	return nil
}

func writeEnvelope(w http.ResponseWriter, success bool, results any, messages ...string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":  success,
		"messages": messages,
		"results":  results,
	})
}

func newTestClient(t *testing.T, baseURL string, clock *fakeClock) *Client {
	t.Helper()
	limiters, err := ratelimit.NewRegistry(ratelimit.ScopeGlobal, ratelimit.Config{
		Budgets: map[integration.ResourceClass]ratelimit.Budget{
			integration.ResourceClassOrders:  {PerSecond: 50, PerMinute: 1000},
			integration.ResourceClassDefault: {PerSecond: 50, PerMinute: 1000},
		},
	}, ratelimit.WithClock(clock.Now), ratelimit.WithSleeper(clock.Sleep))
	require.NoError(t, err)

	retry := NewRetryController(RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
		nil, WithRetryClock(clock.Now), WithRetrySleeper(clock.Sleep))

	client, err := NewClient(ClientConfig{BaseURL: baseURL, Accounts: testAccounts}, limiters, retry, nil, WithClock(clock.Now))
	require.NoError(t, err)
	return client
}

func productItems(from, to int) []map[string]any {
	items := make([]map[string]any, 0, to-from)
	for i := from; i < to; i++ {
		items = append(items, map[string]any{
			"id":     "remote-" + strconv.Itoa(i),
			"sku":    "SKU-" + strconv.Itoa(i),
			"name":   "Product " + strconv.Itoa(i),
			"price":  "9.99",
			"stock":  i,
			"status": "approved",
			"owned":  true,
		})
	}
	return items
}
