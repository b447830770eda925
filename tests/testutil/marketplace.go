// Package testutil holds helpers shared by the integration tests: a signed
// fake marketplace and a recording event handler.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/infrastructure/marketplace"
	"github.com/erp/marketsync/internal/infrastructure/ratelimit"
)

// FakeAccounts are the credentials FakeMarketplace accepts by default.
var FakeAccounts = []marketplace.AccountConfig{
	{ID: "acc-a", APIKey: "key-a", APISecret: "secret-a"},
	{ID: "acc-b", APIKey: "key-b", APISecret: "secret-b"},
}

// MarketplaceCall is one signed request seen by FakeMarketplace.
type MarketplaceCall struct {
	Account string
	Path    string
	Body    map[string]any
}

// FakeMarketplace is an in-process marketplace API. It checks request
// signatures, pages products and orders per account, applies product saves
// and order updates, and can be told to fail the next calls to a path.
type FakeMarketplace struct {
	Server *httptest.Server

	mu       sync.Mutex
	accounts map[string]marketplace.AccountConfig
	products map[string][]map[string]any
	orders   map[string][]map[string]any
	failures map[string][]int
	calls    []MarketplaceCall
}

// NewFakeMarketplace starts a fake marketplace that is closed with the test.
func NewFakeMarketplace(t *testing.T, accounts ...marketplace.AccountConfig) *FakeMarketplace {
	t.Helper()
	if len(accounts) == 0 {
		accounts = FakeAccounts
	}
	f := &FakeMarketplace{
		accounts: make(map[string]marketplace.AccountConfig, len(accounts)),
		products: make(map[string][]map[string]any),
		orders:   make(map[string][]map[string]any),
		failures: make(map[string][]int),
	}
	for _, a := range accounts {
		f.accounts[a.APIKey] = a
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Server.Close)
	return f
}

// NewClient returns a marketplace client for the fake with generous rate
// budgets and millisecond retry delays.
func (f *FakeMarketplace) NewClient(t *testing.T, opts ...marketplace.ClientOption) *marketplace.Client {
	t.Helper()

	limiters, err := ratelimit.NewRegistry(ratelimit.ScopeAccount, ratelimit.Config{
		Budgets: map[integration.ResourceClass]ratelimit.Budget{
			integration.ResourceClassOrders:  {PerSecond: 500, PerMinute: 10000},
			integration.ResourceClassDefault: {PerSecond: 500, PerMinute: 10000},
		},
	})
	require.NoError(t, err)

	retry := marketplace.NewRetryController(marketplace.RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}, nil)

	accounts := make([]marketplace.AccountConfig, 0, len(f.accounts))
	for _, a := range FakeAccounts {
		if _, ok := f.accounts[a.APIKey]; ok {
			accounts = append(accounts, a)
		}
	}
	for _, a := range f.accounts {
		if !containsAccount(accounts, a.ID) {
			accounts = append(accounts, a)
		}
	}

	client, err := marketplace.NewClient(marketplace.ClientConfig{BaseURL: f.URL(), Accounts: accounts}, limiters, retry, nil, opts...)
	require.NoError(t, err)
	return client
}

func containsAccount(accounts []marketplace.AccountConfig, id string) bool {
	for _, a := range accounts {
		if a.ID == id {
			return true
		}
	}
	return false
}

// URL is the base URL to configure the marketplace client with.
func (f *FakeMarketplace) URL() string {
	return f.Server.URL
}

// SetProducts replaces the catalog of an account.
func (f *FakeMarketplace) SetProducts(account string, products []map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[account] = products
}

// Products returns a copy of the catalog of an account.
func (f *FakeMarketplace) Products(account string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]any(nil), f.products[account]...)
}

// SetOrders replaces the orders of an account.
func (f *FakeMarketplace) SetOrders(account string, orders []map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[account] = orders
}

// Order returns the stored order with the id, or nil.
func (f *FakeMarketplace) Order(account string, id int64) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findOrder(account, id)
}

// FailNext makes the next calls to path answer with the given statuses in order.
func (f *FakeMarketplace) FailNext(path string, statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[path] = append(f.failures[path], statuses...)
}

// Calls returns every accepted call in arrival order.
func (f *FakeMarketplace) Calls() []MarketplaceCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]MarketplaceCall(nil), f.calls...)
}

// CallCount returns how many accepted calls went to path.
func (f *FakeMarketplace) CallCount(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Path == path {
			n++
		}
	}
	return n
}

func (f *FakeMarketplace) serve(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	acct, ok := f.accounts[r.Header.Get(marketplace.HeaderAPIKey)]
	if !ok || acct.Sign(r.Header.Get(marketplace.HeaderTimestamp), r.Method, r.URL.Path, raw) != r.Header.Get(marketplace.HeaderSignature) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	call := MarketplaceCall{Account: acct.ID, Path: r.URL.Path}
	_ = json.Unmarshal(raw, &call.Body)
	f.calls = append(f.calls, call)

	if pending := f.failures[r.URL.Path]; len(pending) > 0 {
		f.failures[r.URL.Path] = pending[1:]
		w.WriteHeader(pending[0])
		return
	}

	switch r.URL.Path {
	case "/products/list":
		writeFakeEnvelope(w, true, f.list(f.filterProducts(acct.ID, call.Body), call.Body))
	case "/products/save":
		writeFakeEnvelope(w, true, f.saveProducts(acct.ID, call.Body))
	case "/orders/list":
		writeFakeEnvelope(w, true, f.list(f.filterOrders(acct.ID, call.Body), call.Body))
	case "/orders/get":
		order := f.findOrder(acct.ID, orderIDOf(call.Body))
		if order == nil {
			writeFakeEnvelope(w, false, nil, "order not found")
			return
		}
		writeFakeEnvelope(w, true, order)
	case "/orders/acknowledge":
		order := f.findOrder(acct.ID, orderIDOf(call.Body))
		if order == nil {
			writeFakeEnvelope(w, false, nil, "order not found")
			return
		}
		order["acknowledgedAt"] = "2024-03-01T10:00:00Z"
		writeFakeEnvelope(w, true, nil)
	case "/orders/update":
		order := f.findOrder(acct.ID, orderIDOf(call.Body))
		if order == nil {
			writeFakeEnvelope(w, false, nil, "order not found")
			return
		}
		if data, ok := call.Body["data"].(map[string]any); ok {
			order["status"] = data["status"]
		}
		writeFakeEnvelope(w, true, nil)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *FakeMarketplace) filterProducts(account string, body map[string]any) []map[string]any {
	products := f.products[account]
	filters, _ := body["filters"].(map[string]any)
	skus, _ := filters["skus"].([]any)
	if len(skus) == 0 {
		return products
	}
	wanted := make(map[string]bool, len(skus))
	for _, s := range skus {
		if str, ok := s.(string); ok {
			wanted[str] = true
		}
	}
	var out []map[string]any
	for _, p := range products {
		if sku, _ := p["sku"].(string); wanted[sku] {
			out = append(out, p)
		}
	}
	return out
}

func (f *FakeMarketplace) filterOrders(account string, body map[string]any) []map[string]any {
	orders := f.orders[account]
	filters, _ := body["filters"].(map[string]any)
	status, ok := filters["status"].(float64)
	if !ok {
		return orders
	}
	var out []map[string]any
	for _, o := range orders {
		if s, _ := toFloat(o["status"]); s == status {
			out = append(out, o)
		}
	}
	return out
}

func (f *FakeMarketplace) list(items []map[string]any, body map[string]any) map[string]any {
	page, _ := body["currentPage"].(float64)
	perPage, _ := body["itemsPerPage"].(float64)
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 100
	}
	size := int(perPage)
	from := (int(page) - 1) * size
	to := from + size
	if from > len(items) {
		from = len(items)
	}
	if to > len(items) {
		to = len(items)
	}
	totalPages := (len(items) + size - 1) / size
	if totalPages == 0 {
		totalPages = 1
	}
	return map[string]any{
		"items":       append([]map[string]any{}, items[from:to]...),
		"currentPage": int(page),
		"totalPages":  totalPages,
		"totalItems":  len(items),
	}
}

func (f *FakeMarketplace) saveProducts(account string, body map[string]any) []map[string]any {
	data, _ := body["data"].([]any)
	results := make([]map[string]any, 0, len(data))
	for _, item := range data {
		p, ok := item.(map[string]any)
		if !ok {
			continue
		}
		sku, _ := p["sku"].(string)
		if strings.TrimSpace(sku) == "" {
			results = append(results, map[string]any{"sku": sku, "success": false, "errors": []string{"sku is required"}})
			continue
		}
		replaced := false
		for i, existing := range f.products[account] {
			if existing["sku"] == sku {
				f.products[account][i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			f.products[account] = append(f.products[account], p)
		}
		results = append(results, map[string]any{"sku": sku, "success": true})
	}
	return results
}

func (f *FakeMarketplace) findOrder(account string, id int64) map[string]any {
	for _, o := range f.orders[account] {
		if v, ok := toFloat(o["id"]); ok && int64(v) == id {
			return o
		}
	}
	return nil
}

func orderIDOf(body map[string]any) int64 {
	data, _ := body["data"].(map[string]any)
	v, _ := toFloat(data["orderId"])
	return int64(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func writeFakeEnvelope(w http.ResponseWriter, success bool, results any, messages ...string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success":  success,
		"messages": messages,
		"results":  results,
	})
}
