package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/erp/marketsync/internal/domain/trade"
)

// OrderModel is the persistence model for trade.Order. The id is the
// marketplace order id.
type OrderModel struct {
	ID               int64           `gorm:"primaryKey;autoIncrement:false"`
	AccountID        string          `gorm:"type:varchar(64);not null;index"`
	Status           int             `gorm:"not null;index"`
	PaymentMethod    string          `gorm:"type:varchar(32)"`
	Currency         string          `gorm:"type:varchar(3)"`
	Total            decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	ShippingCost     decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Customer         trade.Customer  `gorm:"type:text;serializer:json"`
	ReturnWindowDays int             `gorm:"not null;default:0"`
	AcknowledgedAt   *time.Time
	FinalizedAt      *time.Time
	CanceledAt       *time.Time
	ReturnedAt       *time.Time
	RemoteModifiedAt *time.Time
	UpdatedAt        time.Time        `gorm:"not null"`
	Lines            []OrderLineModel `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM
func (OrderModel) TableName() string {
	return "orders"
}

// OrderLineModel is the persistence model for trade.OrderLine
type OrderLineModel struct {
	ID                 int64           `gorm:"primaryKey;autoIncrement:false"`
	OrderID            int64           `gorm:"not null;index"`
	Position           int             `gorm:"not null;default:0"`
	SKU                string          `gorm:"type:varchar(128)"`
	Name               string          `gorm:"type:varchar(500)"`
	Quantity           int             `gorm:"not null"`
	UnitPrice          decimal.Decimal `gorm:"type:decimal(18,4);not null"`
	Status             string          `gorm:"type:varchar(16);not null"`
	CancellationReason *int
}

// TableName returns the table name for GORM
func (OrderLineModel) TableName() string {
	return "order_lines"
}

// ToDomain converts the persistence model to a domain Order
func (m *OrderModel) ToDomain() *trade.Order {
	o := &trade.Order{
		ID:               m.ID,
		AccountID:        m.AccountID,
		Status:           trade.OrderStatus(m.Status),
		PaymentMethod:    trade.PaymentMethod(m.PaymentMethod),
		Currency:         m.Currency,
		Total:            m.Total,
		ShippingCost:     m.ShippingCost,
		Customer:         m.Customer,
		ReturnWindowDays: m.ReturnWindowDays,
		AcknowledgedAt:   m.AcknowledgedAt,
		FinalizedAt:      m.FinalizedAt,
		CanceledAt:       m.CanceledAt,
		ReturnedAt:       m.ReturnedAt,
		UpdatedAt:        m.UpdatedAt,
		Lines:            make([]trade.OrderLine, len(m.Lines)),
	}
	if m.RemoteModifiedAt != nil {
		o.RemoteModifiedAt = *m.RemoteModifiedAt
	}
	for i, l := range m.Lines {
		line := trade.OrderLine{
			ID:        l.ID,
			SKU:       l.SKU,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Status:    trade.LineStatus(l.Status),
		}
		if l.CancellationReason != nil {
			r := trade.CancellationReason(*l.CancellationReason)
			line.CancellationReason = &r
		}
		o.Lines[i] = line
	}
	return o
}

// OrderModelFromDomain creates a persistence model from a domain Order
func OrderModelFromDomain(o *trade.Order) *OrderModel {
	m := &OrderModel{
		ID:               o.ID,
		AccountID:        o.AccountID,
		Status:           int(o.Status),
		PaymentMethod:    string(o.PaymentMethod),
		Currency:         o.Currency,
		Total:            o.Total,
		ShippingCost:     o.ShippingCost,
		Customer:         o.Customer,
		ReturnWindowDays: o.ReturnWindowDays,
		AcknowledgedAt:   o.AcknowledgedAt,
		FinalizedAt:      o.FinalizedAt,
		CanceledAt:       o.CanceledAt,
		ReturnedAt:       o.ReturnedAt,
		UpdatedAt:        o.UpdatedAt,
		Lines:            make([]OrderLineModel, len(o.Lines)),
	}
	if !o.RemoteModifiedAt.IsZero() {
		t := o.RemoteModifiedAt
		m.RemoteModifiedAt = &t
	}
	for i, l := range o.Lines {
		line := OrderLineModel{
			ID:        l.ID,
			OrderID:   o.ID,
			Position:  i,
			SKU:       l.SKU,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			Status:    string(l.Status),
		}
		if l.CancellationReason != nil {
			r := int(*l.CancellationReason)
			line.CancellationReason = &r
		}
		m.Lines[i] = line
	}
	return m
}
