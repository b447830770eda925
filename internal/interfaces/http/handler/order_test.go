package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	syncapp "github.com/erp/marketsync/internal/application/integration"
	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/domain/shared"
	"github.com/erp/marketsync/internal/domain/trade"
	"github.com/erp/marketsync/internal/interfaces/http/dto"
	"github.com/erp/marketsync/internal/interfaces/http/middleware"
)

func newOrderEngine(t *testing.T) (*gin.Engine, *MockOrderUseCases) {
	t.Helper()
	require.NoError(t, middleware.SetupValidator())

	svc := new(MockOrderUseCases)
	h := NewOrderHandler(svc)

	r := gin.New()
	r.Use(middleware.RequestID())
	orders := r.Group("/api/v1/orders")
	orders.POST("/pull", h.PullOrders)
	orders.GET("/:order_id", h.GetOrder)
	orders.POST("/:order_id/acknowledge", h.AcknowledgeOrder)
	orders.PUT("/:order_id/status", h.UpdateOrderStatus)
	orders.POST("/:order_id/storno", h.Storno)
	orders.DELETE("/:order_id/lines/:line_id", h.RemoveOrderLine)
	r.POST("/api/v1/notifications/orders", h.HandleOrderNotification)
	return r, svc
}

func sampleOrder(status trade.OrderStatus) *syncapp.OrderResponse {
	return &syncapp.OrderResponse{
		ID:         1001,
		AccountID:  "acct-a",
		Status:     status.String(),
		StatusCode: int(status),
		Total:      decimal.RequireFromString("25.00"),
		Lines: []syncapp.OrderLineResponse{
			{ID: 1, SKU: "SKU-1", Quantity: 2, UnitPrice: decimal.RequireFromString("12.50"), Amount: decimal.RequireFromString("25.00"), Status: "active"},
		},
		AllowedStatuses: []string{},
	}
}

func TestOrderHandler_GetOrder(t *testing.T) {
	r, svc := newOrderEngine(t)
	svc.On("GetOrder", mock.Anything, int64(1001)).Return(sampleOrder(trade.OrderStatusNew), nil)
	svc.On("GetOrder", mock.Anything, int64(404)).Return(nil, shared.ErrNotFound)

	w := doJSON(r, http.MethodGet, "/api/v1/orders/1001", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp APIResponse[syncapp.OrderResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "new", resp.Data.Status)
	assert.Equal(t, 1, resp.Data.StatusCode)

	w = doJSON(r, http.MethodGet, "/api/v1/orders/404", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, dto.ErrCodeNotFound, decodeError(t, w).Code)

	w = doJSON(r, http.MethodGet, "/api/v1/orders/0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(r, http.MethodGet, "/api/v1/orders/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNumberOfCalls(t, "GetOrder", 2)
}

func TestOrderHandler_AcknowledgeOrder(t *testing.T) {
	r, svc := newOrderEngine(t)
	acked := sampleOrder(trade.OrderStatusInProgress)
	now := time.Now().UTC()
	acked.AcknowledgedAt = &now
	svc.On("AcknowledgeOrder", mock.Anything, int64(1001)).Return(acked, nil).Once()

	w := doJSON(r, http.MethodPost, "/api/v1/orders/1001/acknowledge", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp APIResponse[syncapp.OrderResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "in_progress", resp.Data.Status)
	assert.NotNil(t, resp.Data.AcknowledgedAt)

	t.Run("marketplace rejects the acknowledgement", func(t *testing.T) {
		svc.On("AcknowledgeOrder", mock.Anything, int64(1001)).
			Return(nil, errors.Join(integration.ErrValidation, errors.New("order is canceled"))).Once()

		w := doJSON(r, http.MethodPost, "/api/v1/orders/1001/acknowledge", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, dto.ErrCodeMarketplaceRejected, decodeError(t, w).Code)
	})
}

func TestOrderHandler_UpdateOrderStatus(t *testing.T) {
	t.Run("passes the status through", func(t *testing.T) {
		r, svc := newOrderEngine(t)
		svc.On("UpdateOrderStatus", mock.Anything, int64(1001), syncapp.UpdateOrderStatusRequest{Status: "prepared"}).
			Return(sampleOrder(trade.OrderStatusPrepared), nil)

		w := doJSON(r, http.MethodPut, "/api/v1/orders/1001/status", `{"status":"prepared"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("accepts numeric wire status with lines", func(t *testing.T) {
		r, svc := newOrderEngine(t)
		svc.On("UpdateOrderStatus", mock.Anything, int64(1001), syncapp.UpdateOrderStatusRequest{
			Status: "4",
			Lines:  []syncapp.LineQuantityRequest{{LineID: 1, Quantity: 1}},
		}).Return(sampleOrder(trade.OrderStatusFinalized), nil)

		w := doJSON(r, http.MethodPut, "/api/v1/orders/1001/status", `{"status":"4","lines":[{"line_id":1,"quantity":1}]}`)
		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		r, svc := newOrderEngine(t)
		w := doJSON(r, http.MethodPut, "/api/v1/orders/1001/status", `{"status":"shipped"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		info := decodeError(t, w)
		assert.Equal(t, dto.ErrCodeValidation, info.Code)
		require.NotEmpty(t, info.Details)
		assert.Equal(t, "status", info.Details[0].Field)
		svc.AssertNotCalled(t, "UpdateOrderStatus", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("maps state machine errors", func(t *testing.T) {
		tests := []struct {
			name   string
			err    error
			status int
			code   string
		}{
			{"transition not allowed", shared.NewDomainError(shared.CodeInvalidState, "cannot move from new to finalized"), http.StatusUnprocessableEntity, dto.ErrCodeInvalidState},
			{"guard failed", shared.NewPreconditionFailed("payment not confirmed"), http.StatusPreconditionFailed, dto.ErrCodePreconditionFailed},
			{"stale order", shared.ErrConcurrencyConflict, http.StatusConflict, dto.ErrCodeConcurrencyConflict},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				r, svc := newOrderEngine(t)
				svc.On("UpdateOrderStatus", mock.Anything, int64(1001), mock.Anything).Return(nil, tt.err)

				w := doJSON(r, http.MethodPut, "/api/v1/orders/1001/status", `{"status":"finalized"}`)
				assert.Equal(t, tt.status, w.Code)
				assert.Equal(t, tt.code, decodeError(t, w).Code)
			})
		}
	})
}

func TestOrderHandler_Storno(t *testing.T) {
	r, svc := newOrderEngine(t)
	svc.On("Storno", mock.Anything, int64(1001), syncapp.StornoRequest{
		Lines: []syncapp.LineQuantityRequest{{LineID: 1, Quantity: 0}},
	}).Return(sampleOrder(trade.OrderStatusFinalized), nil)

	w := doJSON(r, http.MethodPost, "/api/v1/orders/1001/storno", `{"lines":[{"line_id":1,"quantity":0}]}`)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/api/v1/orders/1001/storno", `{"lines":[]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/v1/orders/1001/storno", `{"lines":[{"line_id":1,"quantity":-1}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNumberOfCalls(t, "Storno", 1)
}

func TestOrderHandler_RemoveOrderLine(t *testing.T) {
	r, svc := newOrderEngine(t)
	svc.On("RemoveOrderLine", mock.Anything, int64(1001), int64(7), syncapp.RemoveOrderLineRequest{Reason: 2}).
		Return(sampleOrder(trade.OrderStatusInProgress), nil)

	w := doJSON(r, http.MethodDelete, "/api/v1/orders/1001/lines/7?reason=2", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodDelete, "/api/v1/orders/1001/lines/7", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeValidation, decodeError(t, w).Code)

	w = doJSON(r, http.MethodDelete, "/api/v1/orders/1001/lines/0?reason=2", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNumberOfCalls(t, "RemoveOrderLine", 1)
}

func TestOrderHandler_PullOrders(t *testing.T) {
	r, svc := newOrderEngine(t)
	since := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	svc.On("PullOrders", mock.Anything, "acct-a", mock.MatchedBy(func(f trade.OrderListFilter) bool {
		return f.Status != nil && *f.Status == trade.OrderStatusNew &&
			f.ModifiedSince != nil && f.ModifiedSince.Equal(since)
	})).Return(3, nil)

	w := doJSON(r, http.MethodPost, "/api/v1/orders/pull",
		`{"account_id":"acct-a","status":"new","modified_since":"2024-06-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	var resp APIResponse[PullOrdersResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Data.Stored)

	w = doJSON(r, http.MethodPost, "/api/v1/orders/pull", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNumberOfCalls(t, "PullOrders", 1)
}

func TestOrderHandler_HandleOrderNotification(t *testing.T) {
	r, svc := newOrderEngine(t)
	first := syncapp.OrderNotification{NotificationID: "n-1", AccountID: "acct-a", OrderID: 1001}
	svc.On("HandleOrderNotification", mock.Anything, first).Return(true, nil).Once()
	svc.On("HandleOrderNotification", mock.Anything, first).Return(false, nil).Once()

	body := `{"notification_id":"n-1","account_id":"acct-a","order_id":1001}`
	for _, want := range []bool{true, false} {
		w := doJSON(r, http.MethodPost, "/api/v1/notifications/orders", body)
		assert.Equal(t, http.StatusOK, w.Code)
		var resp APIResponse[OrderNotificationResponse]
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, want, resp.Data.Fetched)
	}

	w := doJSON(r, http.MethodPost, "/api/v1/notifications/orders", `{"account_id":"acct-a"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertExpectations(t)
}
