package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/domain/trade"
)

// Order resource names
const (
	ResourceOrders    = "orders"
	ActionGet         = "get"
	ActionAcknowledge = "acknowledge"
	ActionUpdate      = "update"
)

type orderLineDTO struct {
	ID                 int64           `json:"id"`
	SKU                string          `json:"sku"`
	Name               string          `json:"name"`
	Quantity           int             `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unitPrice"`
	Status             string          `json:"status"`
	CancellationReason *int            `json:"cancellationReason"`
}

type orderDTO struct {
	ID               int64           `json:"id"`
	Status           *int            `json:"status"`
	PaymentMethod    string          `json:"paymentMethod"`
	Currency         string          `json:"currency"`
	Total            decimal.Decimal `json:"total"`
	ShippingCost     decimal.Decimal `json:"shippingCost"`
	ReturnWindowDays int             `json:"returnWindowDays"`
	AcknowledgedAt   *time.Time      `json:"acknowledgedAt"`
	FinalizedAt      *time.Time      `json:"finalizedAt"`
	CanceledAt       *time.Time      `json:"canceledAt"`
	ReturnedAt       *time.Time      `json:"returnedAt"`
	ModifiedAt       *time.Time      `json:"modifiedAt"`
	Customer         trade.Customer  `json:"customer"`
	Lines            []orderLineDTO  `json:"lines"`
}

type orderRefDTO struct {
	OrderID int64 `json:"orderId"`
}

// OrderGateway implements trade.OrderGateway over the Client
type OrderGateway struct {
	client *Client
}

// NewOrderGateway creates an order gateway backed by the client
func NewOrderGateway(client *Client) *OrderGateway {
	return &OrderGateway{client: client}
}

// AcknowledgeOrder confirms receipt of an order. A failed acknowledgment is
// re-read before it is reported, since the marketplace may have recorded it.
func (g *OrderGateway) AcknowledgeOrder(ctx context.Context, accountID string, orderID int64) error {
	_, err := g.client.SendAndConfirm(ctx, integration.AccountID(accountID), ResourceOrders, ActionAcknowledge,
		orderRefDTO{OrderID: orderID},
		func(ctx context.Context) (bool, error) {
			o, err := g.FetchOrder(ctx, accountID, orderID)
			if err != nil {
				return false, err
			}
			return o.AcknowledgedAt != nil, nil
		})
	return err
}

// UpdateOrder saves a status change, line changes or a storno. Plain status
// changes that report failure are confirmed against a fresh read; line edits
// and stornos cannot be told apart from a read and are reported as sent.
func (g *OrderGateway) UpdateOrder(ctx context.Context, accountID string, update trade.OrderUpdate) error {
	var confirm func(ctx context.Context) (bool, error)
	if len(update.Lines) == 0 && !update.Storno {
		confirm = func(ctx context.Context) (bool, error) {
			o, err := g.FetchOrder(ctx, accountID, update.OrderID)
			if err != nil {
				return false, err
			}
			return o.Status == update.Status, nil
		}
	}
	_, err := g.client.SendAndConfirm(ctx, integration.AccountID(accountID), ResourceOrders, ActionUpdate, update, confirm)
	return err
}

// FetchOrder reads one order
func (g *OrderGateway) FetchOrder(ctx context.Context, accountID string, orderID int64) (*trade.Order, error) {
	raw, err := g.client.Send(ctx, integration.AccountID(accountID), ResourceOrders, ActionGet, orderRefDTO{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	order, err := decodeOrder(accountID, raw)
	if err != nil {
		return nil, &integration.RemoteError{
			Kind:     integration.ErrProtocolViolation,
			Resource: ResourceOrders,
			Action:   ActionGet,
			Messages: []string{err.Error()},
		}
	}
	return order, nil
}

// ListOrders pages through the account's orders
func (g *OrderGateway) ListOrders(ctx context.Context, accountID string, page, pageSize int, filter trade.OrderListFilter) (*trade.OrderPage, error) {
	filters := map[string]any{}
	if filter.Status != nil {
		filters["status"] = int(*filter.Status)
	}
	if filter.ModifiedSince != nil {
		filters["modifiedSince"] = filter.ModifiedSince.UTC().Format(time.RFC3339)
	}
	if len(filters) == 0 {
		filters = nil
	}

	p, err := g.client.FetchPage(ctx, integration.AccountID(accountID), ResourceOrders, page, pageSize, filters)
	if err != nil {
		return nil, err
	}
	out := &trade.OrderPage{Orders: make([]*trade.Order, 0, len(p.Items)), HasMore: p.HasMore}
	for i, item := range p.Items {
		o, err := decodeOrder(accountID, item)
		if err != nil {
			out.Rejected = append(out.Rejected, trade.RejectedOrder{
				Index:   i,
				OrderID: listedOrderID(item),
				Err: &integration.RemoteError{
					Kind:     integration.ErrProtocolViolation,
					Resource: ResourceOrders,
					Action:   ActionList,
					Messages: []string{fmt.Sprintf("item %d on page %d: %v", i, page, err)},
				},
			})
			continue
		}
		out.Orders = append(out.Orders, o)
	}
	return out, nil
}

// listedOrderID reads the id of an entry that failed to decode, zero when absent
func listedOrderID(raw json.RawMessage) int64 {
	var ref struct {
		ID int64 `json:"id"`
	}
	_ = json.Unmarshal(raw, &ref)
	return ref.ID
}

func decodeOrder(accountID string, raw json.RawMessage) (*trade.Order, error) {
	var dto orderDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return nil, fmt.Errorf("malformed order: %w", err)
	}
	if dto.ID <= 0 {
		return nil, fmt.Errorf("order has no id")
	}
	if dto.Status == nil {
		return nil, fmt.Errorf("order %d has no status", dto.ID)
	}

	o := &trade.Order{
		ID:               dto.ID,
		AccountID:        accountID,
		Status:           trade.OrderStatus(*dto.Status),
		PaymentMethod:    trade.PaymentMethod(dto.PaymentMethod),
		Currency:         dto.Currency,
		Total:            dto.Total,
		ShippingCost:     dto.ShippingCost,
		Customer:         dto.Customer,
		ReturnWindowDays: dto.ReturnWindowDays,
		AcknowledgedAt:   dto.AcknowledgedAt,
		FinalizedAt:      dto.FinalizedAt,
		CanceledAt:       dto.CanceledAt,
		ReturnedAt:       dto.ReturnedAt,
		Lines:            make([]trade.OrderLine, 0, len(dto.Lines)),
	}
	if dto.ModifiedAt != nil {
		o.RemoteModifiedAt = *dto.ModifiedAt
	}
	for _, l := range dto.Lines {
		line := trade.OrderLine{
			ID:        l.ID,
			SKU:       l.SKU,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Status:    trade.LineStatusActive,
		}
		if l.Status == string(trade.LineStatusCanceled) {
			line.Status = trade.LineStatusCanceled
		}
		if l.CancellationReason != nil {
			r := trade.CancellationReason(*l.CancellationReason)
			line.CancellationReason = &r
		}
		o.Lines = append(o.Lines, line)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

var _ trade.OrderGateway = (*OrderGateway)(nil)
