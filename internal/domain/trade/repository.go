package trade

import (
	"context"
	"time"
)

// OrderRepository persists marketplace orders. GetOrder returns a
// shared.ErrNotFound-compatible error when the order is unknown.
type OrderRepository interface {
	GetOrder(ctx context.Context, id int64) (*Order, error)
	UpsertOrder(ctx context.Context, order *Order) error
}

// LineUpdate is one line of an order update request
type LineUpdate struct {
	LineID             int64               `json:"lineId"`
	Quantity           int                 `json:"quantity"`
	CancellationReason *CancellationReason `json:"cancellationReason,omitempty"`
}

// OrderUpdate is the remote order save request
type OrderUpdate struct {
	OrderID int64        `json:"orderId"`
	Status  OrderStatus  `json:"status"`
	Lines   []LineUpdate `json:"lines,omitempty"`
	// Storno marks a partial reversal of a finalized order
	Storno bool `json:"storno"`
}

// OrderListFilter narrows an order listing
type OrderListFilter struct {
	Status        *OrderStatus
	ModifiedSince *time.Time
}

// OrderPage is one page of remote orders
type OrderPage struct {
	Orders  []*Order
	HasMore bool
	// Rejected are listed orders that could not be decoded
	Rejected []RejectedOrder
}

// RejectedOrder is one listed order the marketplace sent malformed
type RejectedOrder struct {
	Index   int
	OrderID int64
	Err     error
}

// OrderGateway is the port to the marketplace order endpoints. Callers
// validate every request against the state machine before calling it.
type OrderGateway interface {
	AcknowledgeOrder(ctx context.Context, accountID string, orderID int64) error
	UpdateOrder(ctx context.Context, accountID string, update OrderUpdate) error
	FetchOrder(ctx context.Context, accountID string, orderID int64) (*Order, error)
	ListOrders(ctx context.Context, accountID string, page, pageSize int, filter OrderListFilter) (*OrderPage, error)
}
