package handler

import (
	"time"

	syncapp "github.com/erp/marketsync/internal/application/integration"
	"github.com/erp/marketsync/internal/domain/trade"
)

// StartSyncBody is the request body of POST /sync/runs
type StartSyncBody struct {
	Mode             string   `json:"mode" binding:"omitempty,sync_mode"`
	Accounts         []string `json:"accounts" binding:"omitempty,dive,required"`
	Keys             []string `json:"keys" binding:"omitempty,max=1000,dive,required,max=128"`
	MaxPages         int      `json:"max_pages" binding:"omitempty,min=1"`
	ItemsPerPage     int      `json:"items_per_page" binding:"omitempty,min=1,max=100"`
	ConflictStrategy string   `json:"conflict_strategy" binding:"omitempty,conflict_strategy"`
	Async            *bool    `json:"async"`
}

// toRequest converts the body. Runs are asynchronous unless async is false.
func (b StartSyncBody) toRequest() syncapp.StartSyncRequest {
	async := true
	if b.Async != nil {
		async = *b.Async
	}
	return syncapp.StartSyncRequest{
		Mode:             b.Mode,
		Accounts:         b.Accounts,
		Keys:             b.Keys,
		MaxPages:         b.MaxPages,
		ItemsPerPage:     b.ItemsPerPage,
		ConflictStrategy: b.ConflictStrategy,
		Async:            async,
	}
}

// SyncHistoryQuery holds the query parameters of GET /sync/runs
type SyncHistoryQuery struct {
	Limit     int    `form:"limit" binding:"omitempty,min=1,max=500"`
	AccountID string `form:"account_id" binding:"omitempty,max=64"`
	Status    string `form:"status" binding:"sync_run_status"`
}

// SyncRunURI binds the run id path parameter
type SyncRunURI struct {
	RunID string `uri:"run_id" binding:"required,uuid"`
}

// PushRecordsBody is the request body of POST /sync/push
type PushRecordsBody struct {
	AccountID string   `json:"account_id" binding:"required,max=64"`
	Keys      []string `json:"keys" binding:"required,min=1,max=1000,dive,required,max=128"`
}

// OrderURI binds the order id path parameter
type OrderURI struct {
	OrderID int64 `uri:"order_id" binding:"required,gt=0"`
}

// OrderLineURI binds the order and line id path parameters
type OrderLineURI struct {
	OrderID int64 `uri:"order_id" binding:"required,gt=0"`
	LineID  int64 `uri:"line_id" binding:"required,gt=0"`
}

// LineQuantityBody is a requested line quantity
type LineQuantityBody struct {
	LineID   int64 `json:"line_id" binding:"required,gt=0"`
	Quantity int   `json:"quantity" binding:"gte=0"`
}

// UpdateOrderStatusBody is the request body of PUT /orders/:order_id/status
type UpdateOrderStatusBody struct {
	Status string             `json:"status" binding:"required,order_status"`
	Lines  []LineQuantityBody `json:"lines" binding:"omitempty,dive"`
}

// StornoBody is the request body of POST /orders/:order_id/storno
type StornoBody struct {
	Lines []LineQuantityBody `json:"lines" binding:"required,min=1,dive"`
}

// RemoveOrderLineQuery holds the cancellation reason of a removed line
type RemoveOrderLineQuery struct {
	Reason int `form:"reason" binding:"required,gt=0"`
}

// PullOrdersBody is the request body of POST /orders/pull
type PullOrdersBody struct {
	AccountID     string     `json:"account_id" binding:"required,max=64"`
	Status        string     `json:"status" binding:"omitempty,order_status"`
	ModifiedSince *time.Time `json:"modified_since"`
}

// toFilter converts the body to an order list filter. Status was validated by binding.
func (b PullOrdersBody) toFilter() trade.OrderListFilter {
	filter := trade.OrderListFilter{ModifiedSince: b.ModifiedSince}
	if b.Status != "" {
		if st, err := trade.ParseOrderStatus(b.Status); err == nil {
			filter.Status = &st
		}
	}
	return filter
}

// PullOrdersResponse reports how many orders a pull stored
type PullOrdersResponse struct {
	AccountID string `json:"account_id"`
	Stored    int    `json:"stored"`
}

// OrderNotificationBody is a marketplace push about a new or changed order
type OrderNotificationBody struct {
	NotificationID string `json:"notification_id" binding:"omitempty,max=128"`
	AccountID      string `json:"account_id" binding:"required,max=64"`
	OrderID        int64  `json:"order_id" binding:"required,gt=0"`
}

// OrderNotificationResponse tells the marketplace whether the order was fetched
type OrderNotificationResponse struct {
	Fetched bool `json:"fetched"`
}

func toLineRequests(lines []LineQuantityBody) []syncapp.LineQuantityRequest {
	out := make([]syncapp.LineQuantityRequest, 0, len(lines))
	for _, l := range lines {
		out = append(out, syncapp.LineQuantityRequest{LineID: l.LineID, Quantity: l.Quantity})
	}
	return out
}
