package integration

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/domain/trade"
)

// ---------------------------------------------------------------------------
// Sync request DTOs
// ---------------------------------------------------------------------------

// StartSyncRequest starts a sync run. Empty Accounts means every configured
// account; empty Mode means incremental; empty ConflictStrategy means the
// configured default.
type StartSyncRequest struct {
	Mode             string   `json:"mode"`
	Accounts         []string `json:"accounts,omitempty"`
	Keys             []string `json:"keys,omitempty"`
	MaxPages         int      `json:"max_pages,omitempty"`
	ItemsPerPage     int      `json:"items_per_page,omitempty"`
	ConflictStrategy string   `json:"conflict_strategy,omitempty"`
	Async            bool     `json:"async"`
}

// SyncHistoryFilter narrows GetSyncHistory
type SyncHistoryFilter struct {
	Limit     int    `json:"limit"`
	AccountID string `json:"account_id,omitempty"`
	Status    string `json:"status,omitempty"`
}

// PushRecordsRequest sends locally stored records of one account to the marketplace
type PushRecordsRequest struct {
	AccountID string   `json:"account_id"`
	Keys      []string `json:"keys"`
}

// ---------------------------------------------------------------------------
// Sync response DTOs
// ---------------------------------------------------------------------------

// SyncRunResponse is the run summary returned to the trigger
type SyncRunResponse struct {
	ID         uuid.UUID                   `json:"id"`
	Mode       string                      `json:"mode"`
	Accounts   []string                    `json:"accounts"`
	Strategy   string                      `json:"conflict_strategy"`
	Options    integration.SyncRunOptions  `json:"options"`
	Status     string                      `json:"status"`
	Counts     integration.SyncCounts      `json:"counts"`
	Errors     []integration.SyncItemError `json:"errors"`
	Flagged    []integration.FlaggedItem   `json:"flagged"`
	Warnings   []string                    `json:"warnings"`
	Canceled   bool                        `json:"canceled"`
	StartedAt  time.Time                   `json:"started_at"`
	ProgressAt time.Time                   `json:"progress_at"`
	FinishedAt *time.Time                  `json:"finished_at,omitempty"`
	DurationMs int64                       `json:"duration_ms"`
	Progress   *SyncProgressResponse       `json:"progress,omitempty"`
}

// SyncProgressResponse is the live progress of a running run
type SyncProgressResponse struct {
	CurrentPage         map[string]int `json:"current_page"`
	ItemsProcessed      int            `json:"items_processed"`
	EstimatedTotal      int            `json:"estimated_total,omitempty"`
	EstimatedCompletion *time.Time     `json:"estimated_completion,omitempty"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// SyncedRecordResponse is one account entry of the catalog
type SyncedRecordResponse struct {
	NaturalKey       string          `json:"natural_key"`
	AccountID        string          `json:"account_id"`
	RemoteID         string          `json:"remote_id,omitempty"`
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	Stock            int             `json:"stock"`
	ValidationStatus string          `json:"validation_status,omitempty"`
	Owned            bool            `json:"owned"`
	SyncStatus       string          `json:"sync_status"`
	LastSyncedAt     *time.Time      `json:"last_synced_at,omitempty"`
}

// AggregatedRecordResponse is one natural key merged across accounts
type AggregatedRecordResponse struct {
	NaturalKey string                 `json:"natural_key"`
	Name       string                 `json:"name"`
	Accounts   []string               `json:"accounts"`
	MinPrice   decimal.Decimal        `json:"min_price"`
	MaxPrice   decimal.Decimal        `json:"max_price"`
	TotalStock int                    `json:"total_stock"`
	Diverged   bool                   `json:"diverged"`
	Flagged    bool                   `json:"flagged"`
	Entries    []SyncedRecordResponse `json:"entries"`
}

// AggregatedCatalogResponse is one page of the aggregated catalog. Total
// counts distinct natural keys.
type AggregatedCatalogResponse struct {
	Items    []AggregatedRecordResponse `json:"items"`
	Page     int                        `json:"page"`
	PageSize int                        `json:"page_size"`
	Total    int64                      `json:"total"`
}

// PushRecordsResponse reports a push of local records
type PushRecordsResponse struct {
	AccountID string                      `json:"account_id"`
	Saved     int                         `json:"saved"`
	Failed    int                         `json:"failed"`
	Missing   []string                    `json:"missing,omitempty"`
	Errors    []integration.SyncItemError `json:"errors,omitempty"`
}

// ToSyncRunResponse converts a run to its response. progress may be nil.
func ToSyncRunResponse(run *integration.SyncRun, progress *integration.SyncProgress, now time.Time) *SyncRunResponse {
	accounts := make([]string, len(run.Accounts))
	for i, a := range run.Accounts {
		accounts[i] = a.String()
	}
	resp := &SyncRunResponse{
		ID:         run.ID,
		Mode:       run.Mode.String(),
		Accounts:   accounts,
		Strategy:   run.Strategy,
		Options:    run.Options,
		Status:     run.Status.String(),
		Counts:     run.Counts,
		Errors:     nonNil(run.Errors),
		Flagged:    nonNil(run.Flagged),
		Warnings:   nonNil(run.Warnings),
		Canceled:   run.Canceled,
		StartedAt:  run.StartedAt,
		ProgressAt: run.ProgressAt,
		FinishedAt: run.FinishedAt,
		DurationMs: run.Duration(now).Milliseconds(),
	}
	if progress != nil {
		pages := make(map[string]int, len(progress.CurrentPage))
		for a, p := range progress.CurrentPage {
			pages[a.String()] = p
		}
		resp.Progress = &SyncProgressResponse{
			CurrentPage:         pages,
			ItemsProcessed:      progress.ItemsProcessed,
			EstimatedTotal:      progress.EstimatedTotal,
			EstimatedCompletion: progress.EstimatedCompletion(),
			UpdatedAt:           progress.UpdatedAt,
		}
	}
	return resp
}

// ToSyncedRecordResponse converts a record to its response
func ToSyncedRecordResponse(r *integration.SyncedRecord) SyncedRecordResponse {
	return SyncedRecordResponse{
		NaturalKey:       r.NaturalKey,
		AccountID:        r.AccountID.String(),
		RemoteID:         r.RemoteID,
		Name:             r.Name,
		Price:            r.Price,
		Stock:            r.Stock,
		ValidationStatus: r.ValidationStatus.String(),
		Owned:            r.Owned,
		SyncStatus:       r.SyncStatus.String(),
		LastSyncedAt:     r.LastSyncedAt,
	}
}

// ToAggregatedRecordResponse converts an aggregated entry to its response
func ToAggregatedRecordResponse(a *integration.AggregatedRecord) AggregatedRecordResponse {
	accounts := make([]string, len(a.Accounts))
	for i, id := range a.Accounts {
		accounts[i] = id.String()
	}
	entries := make([]SyncedRecordResponse, len(a.Entries))
	for i := range a.Entries {
		entries[i] = ToSyncedRecordResponse(&a.Entries[i])
	}
	return AggregatedRecordResponse{
		NaturalKey: a.NaturalKey,
		Name:       a.Name,
		Accounts:   accounts,
		MinPrice:   a.MinPrice,
		MaxPrice:   a.MaxPrice,
		TotalStock: a.TotalStock,
		Diverged:   a.Diverged,
		Flagged:    a.Flagged,
		Entries:    entries,
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// ---------------------------------------------------------------------------
// Order DTOs
// ---------------------------------------------------------------------------

// LineQuantityRequest is a requested line quantity
type LineQuantityRequest struct {
	LineID   int64 `json:"line_id"`
	Quantity int   `json:"quantity"`
}

// UpdateOrderStatusRequest moves an order to Status. Lines are only accepted
// as a storno of a finalized order.
type UpdateOrderStatusRequest struct {
	Status string                `json:"status"`
	Lines  []LineQuantityRequest `json:"lines,omitempty"`
}

// StornoRequest reduces line quantities of a finalized order
type StornoRequest struct {
	Lines []LineQuantityRequest `json:"lines"`
}

// RemoveOrderLineRequest cancels one line of an open order
type RemoveOrderLineRequest struct {
	Reason int `json:"reason"`
}

// OrderNotification is a marketplace push about a new or changed order
type OrderNotification struct {
	NotificationID string `json:"notification_id"`
	AccountID      string `json:"account_id"`
	OrderID        int64  `json:"order_id"`
}

// OrderLineResponse is one order line in API responses
type OrderLineResponse struct {
	ID                 int64           `json:"id"`
	SKU                string          `json:"sku"`
	Name               string          `json:"name"`
	Quantity           int             `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	Amount             decimal.Decimal `json:"amount"`
	Status             string          `json:"status"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
}

// OrderResponse is an order in API responses
type OrderResponse struct {
	ID               int64               `json:"id"`
	AccountID        string              `json:"account_id"`
	Status           string              `json:"status"`
	StatusCode       int                 `json:"status_code"`
	PaymentMethod    string              `json:"payment_method,omitempty"`
	Currency         string              `json:"currency,omitempty"`
	Total            decimal.Decimal     `json:"total"`
	ShippingCost     decimal.Decimal     `json:"shipping_cost"`
	Customer         trade.Customer      `json:"customer"`
	Lines            []OrderLineResponse `json:"lines"`
	ReturnWindowDays int                 `json:"return_window_days"`
	AcknowledgedAt   *time.Time          `json:"acknowledged_at,omitempty"`
	FinalizedAt      *time.Time          `json:"finalized_at,omitempty"`
	CanceledAt       *time.Time          `json:"canceled_at,omitempty"`
	ReturnedAt       *time.Time          `json:"returned_at,omitempty"`
	ReturnDeadline   *time.Time          `json:"return_deadline,omitempty"`
	AllowedStatuses  []string            `json:"allowed_statuses"`
	Warnings         []string            `json:"warnings,omitempty"`
}

// ToOrderResponse converts an order to its response, attaching the totals
// reconciliation warning when the lines disagree with the marketplace total.
func ToOrderResponse(o *trade.Order) *OrderResponse {
	lines := make([]OrderLineResponse, len(o.Lines))
	for i := range o.Lines {
		l := &o.Lines[i]
		lines[i] = OrderLineResponse{
			ID:        l.ID,
			SKU:       l.SKU,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Amount:    l.Amount(),
			Status:    string(l.Status),
		}
		if l.CancellationReason != nil {
			lines[i].CancellationReason = l.CancellationReason.String()
		}
	}
	allowed := make([]string, 0)
	for _, s := range o.Status.AllowedTargets() {
		allowed = append(allowed, s.String())
	}
	resp := &OrderResponse{
		ID:               o.ID,
		AccountID:        o.AccountID,
		Status:           o.Status.String(),
		StatusCode:       int(o.Status),
		PaymentMethod:    string(o.PaymentMethod),
		Currency:         o.Currency,
		Total:            o.Total,
		ShippingCost:     o.ShippingCost,
		Customer:         o.Customer,
		Lines:            lines,
		ReturnWindowDays: o.ReturnWindowDays,
		AcknowledgedAt:   o.AcknowledgedAt,
		FinalizedAt:      o.FinalizedAt,
		CanceledAt:       o.CanceledAt,
		ReturnedAt:       o.ReturnedAt,
		ReturnDeadline:   o.ReturnDeadline(),
		AllowedStatuses:  allowed,
	}
	if warning, ok := o.ReconcileTotals(); !ok {
		resp.Warnings = append(resp.Warnings, warning)
	}
	return resp
}

func toLineQuantities(lines []LineQuantityRequest) []trade.LineQuantity {
	out := make([]trade.LineQuantity, len(lines))
	for i, l := range lines {
		out[i] = trade.LineQuantity{LineID: l.LineID, Quantity: l.Quantity}
	}
	return out
}
