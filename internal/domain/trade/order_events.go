package trade

import (
	"strconv"
	"time"

	"github.com/erp/marketsync/internal/domain/shared"
)

// Aggregate type constant
const AggregateTypeOrder = "Order"

// Event type constants
const (
	EventTypeOrderAcknowledged  = "OrderAcknowledged"
	EventTypeOrderStatusChanged = "OrderStatusChanged"
	EventTypeOrderLineRemoved   = "OrderLineRemoved"
)

// OrderAcknowledgedEvent is raised the first time an order is acknowledged
type OrderAcknowledgedEvent struct {
	shared.BaseDomainEvent
	OrderID    int64       `json:"order_id"`
	AccountID  string      `json:"account_id"`
	FromStatus OrderStatus `json:"from_status"`
	Status     OrderStatus `json:"status"`
}

// NewOrderAcknowledgedEvent creates a new OrderAcknowledgedEvent
func NewOrderAcknowledgedEvent(o *Order, from OrderStatus, at time.Time) *OrderAcknowledgedEvent {
	return &OrderAcknowledgedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeOrderAcknowledged, AggregateTypeOrder, strconv.FormatInt(o.ID, 10), at),
		OrderID:         o.ID,
		AccountID:       o.AccountID,
		FromStatus:      from,
		Status:          o.Status,
	}
}

// OrderStatusChangedEvent is raised after a status update or storno was applied
type OrderStatusChangedEvent struct {
	shared.BaseDomainEvent
	OrderID    int64       `json:"order_id"`
	AccountID  string      `json:"account_id"`
	FromStatus OrderStatus `json:"from_status"`
	ToStatus   OrderStatus `json:"to_status"`
	Storno     bool        `json:"storno"`
}

// NewOrderStatusChangedEvent creates a new OrderStatusChangedEvent
func NewOrderStatusChangedEvent(o *Order, from, to OrderStatus, storno bool, at time.Time) *OrderStatusChangedEvent {
	return &OrderStatusChangedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeOrderStatusChanged, AggregateTypeOrder, strconv.FormatInt(o.ID, 10), at),
		OrderID:         o.ID,
		AccountID:       o.AccountID,
		FromStatus:      from,
		ToStatus:        to,
		Storno:          storno,
	}
}

// OrderLineRemovedEvent is raised when a line is canceled on an open order
type OrderLineRemovedEvent struct {
	shared.BaseDomainEvent
	OrderID   int64              `json:"order_id"`
	AccountID string             `json:"account_id"`
	LineID    int64              `json:"line_id"`
	Reason    CancellationReason `json:"reason"`
}

// NewOrderLineRemovedEvent creates a new OrderLineRemovedEvent
func NewOrderLineRemovedEvent(o *Order, lineID int64, reason CancellationReason, at time.Time) *OrderLineRemovedEvent {
	return &OrderLineRemovedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeOrderLineRemoved, AggregateTypeOrder, strconv.FormatInt(o.ID, 10), at),
		OrderID:         o.ID,
		AccountID:       o.AccountID,
		LineID:          lineID,
		Reason:          reason,
	}
}
