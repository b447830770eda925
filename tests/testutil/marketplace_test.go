package testutil

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/domain/trade"
	"github.com/erp/marketsync/internal/infrastructure/marketplace"
)

func fakeProducts(skus ...string) []map[string]any {
	out := make([]map[string]any, len(skus))
	for i, sku := range skus {
		out[i] = map[string]any{"id": "r-" + sku, "sku": sku, "name": "Product " + sku, "price": "5.00", "stock": i + 1, "owned": true}
	}
	return out
}

func TestFakeMarketplace_PagesCatalog(t *testing.T) {
	fake := NewFakeMarketplace(t)
	fake.SetProducts("acc-a", fakeProducts("A", "B", "C"))
	source := marketplace.NewCatalogSource(fake.NewClient(t))
	ctx := context.Background()

	first, err := source.FetchCatalogPage(ctx, "acc-a", 1, 2, integration.CatalogFilter{})
	require.NoError(t, err)
	require.Len(t, first.Records, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, 3, first.TotalItems)
	assert.Equal(t, "A", first.Records[0].NaturalKey)

	second, err := source.FetchCatalogPage(ctx, "acc-a", 2, 2, integration.CatalogFilter{})
	require.NoError(t, err)
	require.Len(t, second.Records, 1)
	assert.False(t, second.HasMore)

	selective, err := source.FetchCatalogPage(ctx, "acc-a", 1, 10, integration.CatalogFilter{Keys: []string{"C"}})
	require.NoError(t, err)
	require.Len(t, selective.Records, 1)
	assert.Equal(t, "C", selective.Records[0].NaturalKey)

	assert.Equal(t, 3, fake.CallCount("/products/list"))
}

func TestFakeMarketplace_SavesProducts(t *testing.T) {
	fake := NewFakeMarketplace(t)
	source := marketplace.NewCatalogSource(fake.NewClient(t))

	rec, err := integration.NewSyncedRecord("NEW-1", "acc-b")
	require.NoError(t, err)
	rec.Name = "New product"
	rec.Price = decimal.RequireFromString("12.50")

	results, err := source.SaveCatalogRecords(context.Background(), "acc-b", []*integration.SyncedRecord{rec})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)

	products := fake.Products("acc-b")
	require.Len(t, products, 1)
	assert.Equal(t, "NEW-1", products[0]["sku"])
	assert.Empty(t, fake.Products("acc-a"))
}

func TestFakeMarketplace_RetriesInjectedFailure(t *testing.T) {
	fake := NewFakeMarketplace(t)
	fake.SetProducts("acc-a", fakeProducts("A"))
	fake.FailNext("/products/list", http.StatusServiceUnavailable)
	source := marketplace.NewCatalogSource(fake.NewClient(t))

	page, err := source.FetchCatalogPage(context.Background(), "acc-a", 1, 10, integration.CatalogFilter{})
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, 2, fake.CallCount("/products/list"))
}

func TestFakeMarketplace_OrderLifecycle(t *testing.T) {
	fake := NewFakeMarketplace(t)
	fake.SetOrders("acc-a", []map[string]any{{
		"id":            501,
		"status":        1,
		"paymentMethod": "online",
		"currency":      "EUR",
		"total":         "20.00",
		"shippingCost":  "0",
		"customer":      map[string]any{"name": "Ana"},
		"lines": []map[string]any{
			{"id": 1, "sku": "A", "quantity": 2, "unitPrice": "10.00", "status": "active"},
		},
	}})
	gw := marketplace.NewOrderGateway(fake.NewClient(t))
	ctx := context.Background()

	order, err := gw.FetchOrder(ctx, "acc-a", 501)
	require.NoError(t, err)
	assert.Equal(t, trade.OrderStatusNew, order.Status)

	require.NoError(t, gw.AcknowledgeOrder(ctx, "acc-a", 501))
	require.NoError(t, gw.UpdateOrder(ctx, "acc-a", trade.OrderUpdate{OrderID: 501, Status: trade.OrderStatusInProgress}))

	stored := fake.Order("acc-a", 501)
	require.NotNil(t, stored)
	assert.NotNil(t, stored["acknowledgedAt"])
	assert.EqualValues(t, 2, stored["status"])

	_, err = gw.FetchOrder(ctx, "acc-b", 501)
	assert.Error(t, err)
}

func TestFakeMarketplace_RejectsBadSignature(t *testing.T) {
	fake := NewFakeMarketplace(t)

	req, err := http.NewRequest(http.MethodPost, fake.URL()+"/products/list", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	req.Header.Set(marketplace.HeaderAPIKey, "key-a")
	req.Header.Set(marketplace.HeaderTimestamp, "1700000000")
	req.Header.Set(marketplace.HeaderSignature, "forged")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, fake.Calls())
}
