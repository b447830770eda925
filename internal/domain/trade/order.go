package trade

import (
	"fmt"
	"time"

	"github.com/erp/marketsync/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// PaymentMethod is how the customer pays for the order
type PaymentMethod string

const (
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentMethodBankTransfer   PaymentMethod = "bank_transfer"
	PaymentMethodOnline         PaymentMethod = "online"
)

// IsValid checks if the payment method is known
func (p PaymentMethod) IsValid() bool {
	switch p {
	case PaymentMethodCashOnDelivery, PaymentMethodBankTransfer, PaymentMethodOnline:
		return true
	}
	return false
}

// IsOnline reports whether the order was paid through an online instrument
func (p PaymentMethod) IsOnline() bool {
	return p == PaymentMethodOnline
}

// LineStatus is the status of a single order line
type LineStatus string

const (
	LineStatusActive   LineStatus = "active"
	LineStatusCanceled LineStatus = "canceled"
)

// CancellationReason is the fixed set of reasons a line can be canceled for
type CancellationReason int

const (
	CancellationReasonCustomerRequest CancellationReason = 1
	CancellationReasonOutOfStock      CancellationReason = 2
	CancellationReasonPriceError      CancellationReason = 3
	CancellationReasonDuplicate       CancellationReason = 4
	CancellationReasonFraudSuspected  CancellationReason = 5
	CancellationReasonReturned        CancellationReason = 6
	CancellationReasonOther           CancellationReason = 99
)

var cancellationReasonNames = map[CancellationReason]string{
	CancellationReasonCustomerRequest: "customer_request",
	CancellationReasonOutOfStock:      "out_of_stock",
	CancellationReasonPriceError:      "price_error",
	CancellationReasonDuplicate:       "duplicate_order",
	CancellationReasonFraudSuspected:  "fraud_suspected",
	CancellationReasonReturned:        "returned",
	CancellationReasonOther:           "other",
}

// IsValid checks if the reason is part of the fixed enumeration
func (r CancellationReason) IsValid() bool {
	_, ok := cancellationReasonNames[r]
	return ok
}

// String returns the string representation of CancellationReason
func (r CancellationReason) String() string {
	if name, ok := cancellationReasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(r))
}

// Customer is the customer snapshot taken by the marketplace at checkout
type Customer struct {
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// OrderLine is a child of Order. ID is assigned by the marketplace and is the
// handle for later partial updates.
type OrderLine struct {
	ID                 int64
	SKU                string
	Name               string
	Quantity           int
	UnitPrice          decimal.Decimal
	Status             LineStatus
	CancellationReason *CancellationReason
}

// IsActive reports whether the line counts towards the order total
func (l *OrderLine) IsActive() bool {
	return l.Status != LineStatusCanceled
}

// Amount returns quantity * unit price
func (l *OrderLine) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

func (l *OrderLine) cancel(reason CancellationReason) {
	l.Status = LineStatusCanceled
	r := reason
	l.CancellationReason = &r
}

// LineQuantity is a requested new quantity for one line
type LineQuantity struct {
	LineID   int64 `json:"line_id"`
	Quantity int   `json:"quantity"`
}

// ---------------------------------------------------------------------------
// Order Aggregate
// ---------------------------------------------------------------------------

// Order is the marketplace order aggregate. The engine never creates or
// deletes orders: it fetches, acknowledges and updates them.
type Order struct {
	shared.BaseAggregateRoot
	ID               int64
	AccountID        string
	Status           OrderStatus
	PaymentMethod    PaymentMethod
	Currency         string
	Total            decimal.Decimal
	ShippingCost     decimal.Decimal
	Customer         Customer
	Lines            []OrderLine
	ReturnWindowDays int
	AcknowledgedAt   *time.Time
	FinalizedAt      *time.Time
	CanceledAt       *time.Time
	ReturnedAt       *time.Time
	RemoteModifiedAt time.Time
	UpdatedAt        time.Time
}

// Validate checks the structural invariants of an order received from the marketplace
func (o *Order) Validate() error {
	if o.ID <= 0 {
		return shared.NewDomainError("INVALID_ORDER_ID", "Order ID must be positive")
	}
	if !o.Status.IsValid() {
		return shared.NewDomainError("INVALID_STATUS", fmt.Sprintf("Unknown order status %d", int(o.Status)))
	}
	if o.PaymentMethod != "" && !o.PaymentMethod.IsValid() {
		return shared.NewDomainError("INVALID_PAYMENT_METHOD", fmt.Sprintf("Unknown payment method %q", o.PaymentMethod))
	}
	for i := range o.Lines {
		l := &o.Lines[i]
		if l.Quantity < 0 || (l.Quantity == 0 && l.IsActive() && o.Status != OrderStatusCanceled) {
			return shared.NewDomainError("INVALID_QUANTITY", fmt.Sprintf("Line %d must have a positive quantity", l.ID))
		}
		if l.UnitPrice.IsNegative() {
			return shared.NewDomainError("INVALID_PRICE", fmt.Sprintf("Line %d has a negative unit price", l.ID))
		}
	}
	return nil
}

// IsAcknowledged reports whether the order was acknowledged. Acknowledged
// orders receive no further duplicate notifications.
func (o *Order) IsAcknowledged() bool {
	return o.AcknowledgedAt != nil
}

// Line returns the line with the given id, nil when absent
func (o *Order) Line(lineID int64) *OrderLine {
	for i := range o.Lines {
		if o.Lines[i].ID == lineID {
			return &o.Lines[i]
		}
	}
	return nil
}

// ActiveLines returns the lines that count towards the total
func (o *Order) ActiveLines() []OrderLine {
	active := make([]OrderLine, 0, len(o.Lines))
	for _, l := range o.Lines {
		if l.IsActive() {
			active = append(active, l)
		}
	}
	return active
}

// LinesTotal returns the sum of active line amounts
func (o *Order) LinesTotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range o.ActiveLines() {
		total = total.Add(l.Amount())
	}
	return total
}

// ReconcileTotals compares active lines plus shipping against the remote
// total. A mismatch is returned as a warning; nothing is corrected.
func (o *Order) ReconcileTotals() (string, bool) {
	expected := o.LinesTotal().Add(o.ShippingCost)
	if expected.Equal(o.Total) {
		return "", true
	}
	return fmt.Sprintf("order %d: lines %s + shipping %s = %s, marketplace total %s",
		o.ID, o.LinesTotal().StringFixed(2), o.ShippingCost.StringFixed(2),
		expected.StringFixed(2), o.Total.StringFixed(2)), false
}

// ReturnDeadline is the last moment the order may move to Returned
func (o *Order) ReturnDeadline() *time.Time {
	if o.FinalizedAt == nil {
		return nil
	}
	days := o.ReturnWindowDays
	if days <= 0 {
		days = DefaultReturnWindowDays
	}
	deadline := o.FinalizedAt.Add(time.Duration(days)*24*time.Hour + ReturnGracePeriod)
	return &deadline
}

// ---------------------------------------------------------------------------
// State machine
// ---------------------------------------------------------------------------

// CanTransitionTo checks the transition matrix, its time windows and the
// acknowledgment requirement. Every rejection is a precondition failure.
func (o *Order) CanTransitionTo(target OrderStatus, now time.Time) error {
	if !target.IsValid() {
		return shared.NewPreconditionFailed(fmt.Sprintf("Unknown target status %d", int(target)))
	}
	guard, ok := orderTransitions[o.Status][target]
	if !ok {
		return shared.NewPreconditionFailed(fmt.Sprintf("Cannot move order %d from %s to %s", o.ID, o.Status, target))
	}
	return o.checkGuard(guard, target, now)
}

func (o *Order) checkGuard(guard transitionGuard, target OrderStatus, now time.Time) error {
	switch guard {
	case guardNone:
		return nil
	case guardAcknowledgment:
		return shared.NewPreconditionFailed(fmt.Sprintf("Order %d must be acknowledged before it moves to %s", o.ID, target))
	case guardFinalizationWindow:
		if o.FinalizedAt == nil || now.Sub(*o.FinalizedAt) > ReversalWindow {
			return shared.NewPreconditionFailed(fmt.Sprintf("Order %d can only leave finalized within %s of finalization", o.ID, ReversalWindow))
		}
		return nil
	case guardReturnWindow:
		deadline := o.ReturnDeadline()
		if deadline == nil || now.After(*deadline) {
			return shared.NewPreconditionFailed(fmt.Sprintf("Return window of order %d has expired", o.ID))
		}
		return nil
	case guardCancellationWindow:
		if o.CanceledAt == nil || now.Sub(*o.CanceledAt) > ReversalWindow {
			return shared.NewPreconditionFailed(fmt.Sprintf("Order %d can only be reactivated within %s of cancellation", o.ID, ReversalWindow))
		}
		return nil
	}
	return shared.NewPreconditionFailed("Unknown transition condition")
}

// TransitionTo applies a status change through the generic save path.
// New -> InProgress is only reachable through Acknowledge.
func (o *Order) TransitionTo(target OrderStatus, now time.Time) error {
	if err := o.CanTransitionTo(target, now); err != nil {
		return err
	}
	o.apply(target, now, false)
	return nil
}

// Acknowledge confirms receipt of the order. It is idempotent and the only
// way out of New; it returns false when the order was already acknowledged.
func (o *Order) Acknowledge(now time.Time) bool {
	if o.IsAcknowledged() {
		return false
	}
	o.AcknowledgedAt = &now
	o.UpdatedAt = now
	from := o.Status
	if o.Status == OrderStatusNew {
		o.Status = OrderStatusInProgress
	}
	o.AddDomainEvent(NewOrderAcknowledgedEvent(o, from, now))
	return true
}

func (o *Order) apply(target OrderStatus, now time.Time, storno bool) {
	from := o.Status
	o.Status = target
	switch target {
	case OrderStatusFinalized:
		o.FinalizedAt = &now
	case OrderStatusCanceled:
		o.CanceledAt = &now
	case OrderStatusReturned:
		o.ReturnedAt = &now
	}
	o.UpdatedAt = now
	o.AddDomainEvent(NewOrderStatusChangedEvent(o, from, target, storno, now))
}

// ---------------------------------------------------------------------------
// Storno
// ---------------------------------------------------------------------------

// StornoPlan is a validated partial reversal ready to be sent to the marketplace
type StornoPlan struct {
	OrderID      int64
	Lines        []LineQuantity
	ResultStatus OrderStatus
}

// PlanStorno validates a partial reversal of a finalized order. At least one
// line must be reduced and none increased. When every active line ends at
// zero the order becomes Returned, otherwise it stays Finalized.
func (o *Order) PlanStorno(changes []LineQuantity, now time.Time) (*StornoPlan, error) {
	if o.Status != OrderStatusFinalized {
		return nil, shared.NewPreconditionFailed(fmt.Sprintf("Storno requires a finalized order, order %d is %s", o.ID, o.Status))
	}
	if len(changes) == 0 {
		return nil, shared.NewPreconditionFailed("Storno requires at least one reduced line")
	}

	requested := make(map[int64]int, len(changes))
	reduced := false
	for _, c := range changes {
		if _, dup := requested[c.LineID]; dup {
			return nil, shared.NewPreconditionFailed(fmt.Sprintf("Line %d appears twice", c.LineID))
		}
		line := o.Line(c.LineID)
		if line == nil || !line.IsActive() {
			return nil, shared.NewPreconditionFailed(fmt.Sprintf("Line %d is not an active line of order %d", c.LineID, o.ID))
		}
		if c.Quantity < 0 {
			return nil, shared.NewPreconditionFailed(fmt.Sprintf("Line %d quantity cannot be negative", c.LineID))
		}
		if c.Quantity > line.Quantity {
			return nil, shared.NewPreconditionFailed(fmt.Sprintf("Storno cannot increase line %d from %d to %d", c.LineID, line.Quantity, c.Quantity))
		}
		if c.Quantity < line.Quantity {
			reduced = true
		}
		requested[c.LineID] = c.Quantity
	}
	if !reduced {
		return nil, shared.NewPreconditionFailed("Storno requires at least one reduced line")
	}

	allZero := true
	for _, l := range o.ActiveLines() {
		q, ok := requested[l.ID]
		if !ok {
			q = l.Quantity
		}
		if q > 0 {
			allZero = false
			break
		}
	}

	result := OrderStatusFinalized
	if allZero {
		if err := o.CanTransitionTo(OrderStatusReturned, now); err != nil {
			return nil, err
		}
		result = OrderStatusReturned
	}

	return &StornoPlan{
		OrderID:      o.ID,
		Lines:        append([]LineQuantity(nil), changes...),
		ResultStatus: result,
	}, nil
}

// ApplyStorno applies a plan accepted by the marketplace. Lines reduced to
// zero are canceled with reason "returned".
func (o *Order) ApplyStorno(plan *StornoPlan, now time.Time) {
	for _, c := range plan.Lines {
		line := o.Line(c.LineID)
		if line == nil {
			continue
		}
		line.Quantity = c.Quantity
		if c.Quantity == 0 {
			line.cancel(CancellationReasonReturned)
		}
	}
	if plan.ResultStatus == OrderStatusReturned {
		o.apply(OrderStatusReturned, now, true)
		return
	}
	o.UpdatedAt = now
	o.AddDomainEvent(NewOrderStatusChangedEvent(o, o.Status, o.Status, true, now))
}

// ---------------------------------------------------------------------------
// Line removal
// ---------------------------------------------------------------------------

// CheckLineRemoval validates removing one line before anything is submitted.
// Removal is limited to InProgress and Prepared orders and never allowed for
// online payments.
func (o *Order) CheckLineRemoval(lineID int64, reason CancellationReason) error {
	if o.Status != OrderStatusInProgress && o.Status != OrderStatusPrepared {
		return shared.NewPreconditionFailed(fmt.Sprintf("Lines of order %d cannot be removed in status %s", o.ID, o.Status))
	}
	if o.PaymentMethod.IsOnline() {
		return shared.NewPreconditionFailed(fmt.Sprintf("Lines of order %d cannot be removed: paid online", o.ID))
	}
	if !reason.IsValid() {
		return shared.NewPreconditionFailed(fmt.Sprintf("Unknown cancellation reason %d", int(reason)))
	}
	line := o.Line(lineID)
	if line == nil {
		return shared.NewDomainError(shared.CodeNotFound, fmt.Sprintf("Line %d not found on order %d", lineID, o.ID))
	}
	if !line.IsActive() {
		return shared.NewPreconditionFailed(fmt.Sprintf("Line %d is already canceled", lineID))
	}
	if len(o.ActiveLines()) == 1 {
		return shared.NewPreconditionFailed(fmt.Sprintf("Line %d is the last active line, cancel the order instead", lineID))
	}
	return nil
}

// RemoveLine cancels one line after CheckLineRemoval passed
func (o *Order) RemoveLine(lineID int64, reason CancellationReason, now time.Time) error {
	if err := o.CheckLineRemoval(lineID, reason); err != nil {
		return err
	}
	o.Line(lineID).cancel(reason)
	o.UpdatedAt = now
	o.AddDomainEvent(NewOrderLineRemovedEvent(o, lineID, reason, now))
	return nil
}
