package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	syncapp "github.com/erp/marketsync/internal/application/integration"
	"github.com/erp/marketsync/internal/domain/trade"
)

// OrderUseCases is the part of the order service the HTTP layer drives
type OrderUseCases interface {
	GetOrder(ctx context.Context, id int64) (*syncapp.OrderResponse, error)
	AcknowledgeOrder(ctx context.Context, id int64) (*syncapp.OrderResponse, error)
	UpdateOrderStatus(ctx context.Context, id int64, req syncapp.UpdateOrderStatusRequest) (*syncapp.OrderResponse, error)
	Storno(ctx context.Context, id int64, req syncapp.StornoRequest) (*syncapp.OrderResponse, error)
	RemoveOrderLine(ctx context.Context, id, lineID int64, req syncapp.RemoveOrderLineRequest) (*syncapp.OrderResponse, error)
	HandleOrderNotification(ctx context.Context, n syncapp.OrderNotification) (bool, error)
	PullOrders(ctx context.Context, accountID string, filter trade.OrderListFilter) (int, error)
}

// OrderHandler serves the marketplace order endpoints
type OrderHandler struct {
	BaseHandler
	service OrderUseCases
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(service OrderUseCases) *OrderHandler {
	return &OrderHandler{service: service}
}

// GetOrder returns a stored order with its allowed next statuses.
//
//	GET /orders/:order_id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	var uri OrderURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.ValidationError(c, err)
		return
	}
	h.respond(c)(h.service.GetOrder(c.Request.Context(), uri.OrderID))
}

// AcknowledgeOrder confirms receipt of a new order to the marketplace.
//
//	POST /orders/:order_id/acknowledge
func (h *OrderHandler) AcknowledgeOrder(c *gin.Context) {
	var uri OrderURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.ValidationError(c, err)
		return
	}
	h.respond(c)(h.service.AcknowledgeOrder(c.Request.Context(), uri.OrderID))
}

// UpdateOrderStatus moves an order through the state machine. Lines turn a
// finalized order update into a storno.
//
//	PUT /orders/:order_id/status
func (h *OrderHandler) UpdateOrderStatus(c *gin.Context) {
	var uri OrderURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.ValidationError(c, err)
		return
	}
	var body UpdateOrderStatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.ValidationError(c, err)
		return
	}
	req := syncapp.UpdateOrderStatusRequest{Status: body.Status}
	if len(body.Lines) > 0 {
		req.Lines = toLineRequests(body.Lines)
	}
	h.respond(c)(h.service.UpdateOrderStatus(c.Request.Context(), uri.OrderID, req))
}

// Storno reduces line quantities of a finalized order.
//
//	POST /orders/:order_id/storno
func (h *OrderHandler) Storno(c *gin.Context) {
	var uri OrderURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.ValidationError(c, err)
		return
	}
	var body StornoBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.ValidationError(c, err)
		return
	}
	h.respond(c)(h.service.Storno(c.Request.Context(), uri.OrderID, syncapp.StornoRequest{
		Lines: toLineRequests(body.Lines),
	}))
}

// RemoveOrderLine cancels one line of an open order.
//
//	DELETE /orders/:order_id/lines/:line_id?reason=
func (h *OrderHandler) RemoveOrderLine(c *gin.Context) {
	var uri OrderLineURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.ValidationError(c, err)
		return
	}
	var query RemoveOrderLineQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.ValidationError(c, err)
		return
	}
	h.respond(c)(h.service.RemoveOrderLine(c.Request.Context(), uri.OrderID, uri.LineID,
		syncapp.RemoveOrderLineRequest{Reason: query.Reason}))
}

// PullOrders fetches remote orders of one account into the local store.
//
//	POST /orders/pull
func (h *OrderHandler) PullOrders(c *gin.Context) {
	var body PullOrdersBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.ValidationError(c, err)
		return
	}
	stored, err := h.service.PullOrders(c.Request.Context(), body.AccountID, body.toFilter())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, PullOrdersResponse{AccountID: body.AccountID, Stored: stored})
}

// HandleOrderNotification receives marketplace order pushes. Duplicates and
// orders already acknowledged answer fetched=false.
//
//	POST /notifications/orders
func (h *OrderHandler) HandleOrderNotification(c *gin.Context) {
	var body OrderNotificationBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.ValidationError(c, err)
		return
	}
	fetched, err := h.service.HandleOrderNotification(c.Request.Context(), syncapp.OrderNotification{
		NotificationID: body.NotificationID,
		AccountID:      body.AccountID,
		OrderID:        body.OrderID,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, OrderNotificationResponse{Fetched: fetched})
}

// respond writes an order result or its error
func (h *OrderHandler) respond(c *gin.Context) func(*syncapp.OrderResponse, error) {
	return func(order *syncapp.OrderResponse, err error) {
		if err != nil {
			h.HandleError(c, err)
			return
		}
		h.Success(c, order)
	}
}
