package trade

import (
	"errors"
	"testing"
	"time"

	"github.com/erp/marketsync/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

// Test helpers
func createTestOrder(status OrderStatus) *Order {
	return &Order{
		ID:            1001,
		AccountID:     "acc-a",
		Status:        status,
		PaymentMethod: PaymentMethodCashOnDelivery,
		Currency:      "EUR",
		ShippingCost:  decimal.RequireFromString("4.90"),
		Total:         decimal.RequireFromString("34.90"),
		Lines: []OrderLine{
			{ID: 1, SKU: "SKU-1", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00"), Status: LineStatusActive},
			{ID: 2, SKU: "SKU-2", Quantity: 1, UnitPrice: decimal.RequireFromString("10.00"), Status: LineStatusActive},
		},
		ReturnWindowDays: 14,
	}
}

func finalizedAt(o *Order, at time.Time) *Order {
	o.FinalizedAt = &at
	return o
}

func canceledAt(o *Order, at time.Time) *Order {
	o.CanceledAt = &at
	return o
}

func assertPrecondition(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrPreconditionFailed), "expected precondition failure, got %v", err)
}

// ============================================
// OrderStatus Tests
// ============================================

func TestOrderStatus_IsValid(t *testing.T) {
	for _, s := range AllOrderStatuses() {
		assert.True(t, s.IsValid(), s.String())
	}
	assert.False(t, OrderStatus(6).IsValid())
	assert.False(t, OrderStatus(-1).IsValid())
	assert.Equal(t, "unknown(9)", OrderStatus(9).String())
}

func TestOrderStatus_WireValues(t *testing.T) {
	assert.Equal(t, 0, int(OrderStatusCanceled))
	assert.Equal(t, 1, int(OrderStatusNew))
	assert.Equal(t, 2, int(OrderStatusInProgress))
	assert.Equal(t, 3, int(OrderStatusPrepared))
	assert.Equal(t, 4, int(OrderStatusFinalized))
	assert.Equal(t, 5, int(OrderStatusReturned))
}

func TestParseOrderStatus(t *testing.T) {
	s, err := ParseOrderStatus("in_progress")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusInProgress, s)

	s, err = ParseOrderStatus("4")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusFinalized, s)

	_, err = ParseOrderStatus("7")
	assert.Error(t, err)
	_, err = ParseOrderStatus("shipped")
	assert.Error(t, err)
}

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	allowed := map[OrderStatus][]OrderStatus{
		OrderStatusNew:        {OrderStatusInProgress},
		OrderStatusInProgress: {OrderStatusPrepared, OrderStatusFinalized, OrderStatusCanceled},
		OrderStatusPrepared:   {OrderStatusFinalized, OrderStatusCanceled},
		OrderStatusFinalized:  {OrderStatusPrepared, OrderStatusCanceled, OrderStatusReturned},
		OrderStatusCanceled:   {OrderStatusInProgress, OrderStatusPrepared, OrderStatusFinalized},
		OrderStatusReturned:   {},
	}

	for from, targets := range allowed {
		for _, to := range AllOrderStatuses() {
			want := false
			for _, a := range targets {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
	assert.True(t, OrderStatusReturned.IsTerminal())
	assert.False(t, OrderStatusCanceled.IsTerminal())
}

// ============================================
// State machine soundness
// ============================================

func TestOrder_CanTransitionTo_RejectsEveryPairOutsideMatrix(t *testing.T) {
	for _, from := range AllOrderStatuses() {
		for _, to := range AllOrderStatuses() {
			if from.CanTransitionTo(to) {
				continue
			}
			o := canceledAt(finalizedAt(createTestOrder(from), testNow), testNow)
			err := o.CanTransitionTo(to, testNow)
			assertPrecondition(t, err)
			assert.Equal(t, from, o.Status)
		}
	}
}

func TestOrder_TransitionTo(t *testing.T) {
	tests := []struct {
		name    string
		order   *Order
		to      OrderStatus
		wantErr bool
	}{
		{"new to in progress needs acknowledgment", createTestOrder(OrderStatusNew), OrderStatusInProgress, true},
		{"in progress to prepared", createTestOrder(OrderStatusInProgress), OrderStatusPrepared, false},
		{"in progress to finalized", createTestOrder(OrderStatusInProgress), OrderStatusFinalized, false},
		{"in progress to canceled", createTestOrder(OrderStatusInProgress), OrderStatusCanceled, false},
		{"prepared to finalized", createTestOrder(OrderStatusPrepared), OrderStatusFinalized, false},
		{"finalized to prepared within 48h", finalizedAt(createTestOrder(OrderStatusFinalized), testNow.Add(-47*time.Hour)), OrderStatusPrepared, false},
		{"finalized to prepared after 48h", finalizedAt(createTestOrder(OrderStatusFinalized), testNow.Add(-49*time.Hour)), OrderStatusPrepared, true},
		{"finalized to canceled after 48h", finalizedAt(createTestOrder(OrderStatusFinalized), testNow.Add(-72*time.Hour)), OrderStatusCanceled, true},
		{"finalized to returned within window", finalizedAt(createTestOrder(OrderStatusFinalized), testNow.Add(-18*24*time.Hour)), OrderStatusReturned, false},
		{"finalized to returned after window plus grace", finalizedAt(createTestOrder(OrderStatusFinalized), testNow.Add(-20*24*time.Hour)), OrderStatusReturned, true},
		{"canceled reactivated within 48h", canceledAt(createTestOrder(OrderStatusCanceled), testNow.Add(-time.Hour)), OrderStatusInProgress, false},
		{"canceled reactivated after 48h", canceledAt(createTestOrder(OrderStatusCanceled), testNow.Add(-50*time.Hour)), OrderStatusFinalized, true},
		{"canceled without timestamp", createTestOrder(OrderStatusCanceled), OrderStatusPrepared, true},
		{"returned is terminal", createTestOrder(OrderStatusReturned), OrderStatusFinalized, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.order.Status
			err := tt.order.TransitionTo(tt.to, testNow)
			if tt.wantErr {
				assertPrecondition(t, err)
				assert.Equal(t, before, tt.order.Status)
				assert.Empty(t, tt.order.GetDomainEvents())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.to, tt.order.Status)
			require.Len(t, tt.order.GetDomainEvents(), 1)
			evt := tt.order.GetDomainEvents()[0].(*OrderStatusChangedEvent)
			assert.Equal(t, before, evt.FromStatus)
			assert.Equal(t, tt.to, evt.ToStatus)
		})
	}
}

func TestOrder_TransitionSetsTimestamps(t *testing.T) {
	o := createTestOrder(OrderStatusPrepared)
	require.NoError(t, o.TransitionTo(OrderStatusFinalized, testNow))
	require.NotNil(t, o.FinalizedAt)
	assert.Equal(t, testNow, *o.FinalizedAt)

	later := testNow.Add(time.Hour)
	require.NoError(t, o.TransitionTo(OrderStatusCanceled, later))
	require.NotNil(t, o.CanceledAt)
	assert.Equal(t, later, *o.CanceledAt)
}

// ============================================
// Acknowledgment
// ============================================

func TestOrder_Acknowledge(t *testing.T) {
	o := createTestOrder(OrderStatusNew)

	assert.True(t, o.Acknowledge(testNow))
	assert.Equal(t, OrderStatusInProgress, o.Status)
	require.NotNil(t, o.AcknowledgedAt)
	assert.True(t, o.IsAcknowledged())

	// idempotent
	assert.False(t, o.Acknowledge(testNow.Add(time.Minute)))
	assert.Equal(t, testNow, *o.AcknowledgedAt)
	assert.Equal(t, OrderStatusInProgress, o.Status)
	assert.Len(t, o.GetDomainEvents(), 1)
}

func TestOrder_AcknowledgeOutsideNewKeepsStatus(t *testing.T) {
	o := createTestOrder(OrderStatusPrepared)
	assert.True(t, o.Acknowledge(testNow))
	assert.Equal(t, OrderStatusPrepared, o.Status)
	assert.True(t, o.IsAcknowledged())
}

// ============================================
// Storno
// ============================================

func TestOrder_PlanStorno(t *testing.T) {
	t.Run("partial storno stays finalized", func(t *testing.T) {
		o := finalizedAt(createTestOrder(OrderStatusFinalized), testNow.Add(-24*time.Hour))
		plan, err := o.PlanStorno([]LineQuantity{{LineID: 1, Quantity: 1}}, testNow)
		require.NoError(t, err)
		assert.Equal(t, OrderStatusFinalized, plan.ResultStatus)

		o.ApplyStorno(plan, testNow)
		assert.Equal(t, OrderStatusFinalized, o.Status)
		assert.Equal(t, 1, o.Line(1).Quantity)
		assert.True(t, o.Line(1).IsActive())
		evt := o.GetDomainEvents()[0].(*OrderStatusChangedEvent)
		assert.True(t, evt.Storno)
	})

	t.Run("all lines to zero returns the order", func(t *testing.T) {
		o := finalizedAt(createTestOrder(OrderStatusFinalized), testNow.Add(-24*time.Hour))
		plan, err := o.PlanStorno([]LineQuantity{{LineID: 1, Quantity: 0}, {LineID: 2, Quantity: 0}}, testNow)
		require.NoError(t, err)
		assert.Equal(t, OrderStatusReturned, plan.ResultStatus)

		o.ApplyStorno(plan, testNow)
		assert.Equal(t, OrderStatusReturned, o.Status)
		require.NotNil(t, o.ReturnedAt)
		for _, l := range o.Lines {
			assert.Equal(t, LineStatusCanceled, l.Status)
			require.NotNil(t, l.CancellationReason)
			assert.Equal(t, CancellationReasonReturned, *l.CancellationReason)
		}
	})

	t.Run("zeroing one line of two stays finalized", func(t *testing.T) {
		o := finalizedAt(createTestOrder(OrderStatusFinalized), testNow)
		plan, err := o.PlanStorno([]LineQuantity{{LineID: 2, Quantity: 0}}, testNow)
		require.NoError(t, err)
		assert.Equal(t, OrderStatusFinalized, plan.ResultStatus)
	})

	rejections := []struct {
		name    string
		order   *Order
		changes []LineQuantity
	}{
		{"not finalized", createTestOrder(OrderStatusPrepared), []LineQuantity{{LineID: 1, Quantity: 1}}},
		{"no changes", finalizedAt(createTestOrder(OrderStatusFinalized), testNow), nil},
		{"nothing reduced", finalizedAt(createTestOrder(OrderStatusFinalized), testNow), []LineQuantity{{LineID: 1, Quantity: 2}}},
		{"increase", finalizedAt(createTestOrder(OrderStatusFinalized), testNow), []LineQuantity{{LineID: 1, Quantity: 1}, {LineID: 2, Quantity: 3}}},
		{"unknown line", finalizedAt(createTestOrder(OrderStatusFinalized), testNow), []LineQuantity{{LineID: 9, Quantity: 0}}},
		{"negative", finalizedAt(createTestOrder(OrderStatusFinalized), testNow), []LineQuantity{{LineID: 1, Quantity: -1}}},
		{"duplicate line", finalizedAt(createTestOrder(OrderStatusFinalized), testNow), []LineQuantity{{LineID: 1, Quantity: 1}, {LineID: 1, Quantity: 0}}},
		{"full return after window", finalizedAt(createTestOrder(OrderStatusFinalized), testNow.Add(-30*24*time.Hour)), []LineQuantity{{LineID: 1, Quantity: 0}, {LineID: 2, Quantity: 0}}},
	}
	for _, tt := range rejections {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			_, err := tt.order.PlanStorno(tt.changes, testNow)
			assertPrecondition(t, err)
		})
	}
}

// ============================================
// Line removal
// ============================================

func TestOrder_RemoveLine(t *testing.T) {
	o := createTestOrder(OrderStatusInProgress)
	require.NoError(t, o.RemoveLine(2, CancellationReasonOutOfStock, testNow))

	line := o.Line(2)
	assert.Equal(t, LineStatusCanceled, line.Status)
	assert.Equal(t, CancellationReasonOutOfStock, *line.CancellationReason)
	assert.Len(t, o.ActiveLines(), 1)

	// last active line
	assertPrecondition(t, o.RemoveLine(1, CancellationReasonOutOfStock, testNow))
	// already canceled
	assertPrecondition(t, o.RemoveLine(2, CancellationReasonOutOfStock, testNow))
}

func TestOrder_CheckLineRemoval(t *testing.T) {
	online := createTestOrder(OrderStatusPrepared)
	online.PaymentMethod = PaymentMethodOnline

	transfer := createTestOrder(OrderStatusPrepared)
	transfer.PaymentMethod = PaymentMethodBankTransfer

	assertPrecondition(t, createTestOrder(OrderStatusNew).CheckLineRemoval(1, CancellationReasonOther))
	assertPrecondition(t, createTestOrder(OrderStatusFinalized).CheckLineRemoval(1, CancellationReasonOther))
	assertPrecondition(t, online.CheckLineRemoval(1, CancellationReasonOther))
	assertPrecondition(t, transfer.CheckLineRemoval(1, CancellationReason(42)))
	assert.NoError(t, transfer.CheckLineRemoval(1, CancellationReasonPriceError))

	err := transfer.CheckLineRemoval(77, CancellationReasonOther)
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

// ============================================
// Totals and validation
// ============================================

func TestOrder_ReconcileTotals(t *testing.T) {
	o := createTestOrder(OrderStatusInProgress)
	warning, ok := o.ReconcileTotals()
	assert.True(t, ok)
	assert.Empty(t, warning)

	o.Total = decimal.RequireFromString("30.00")
	warning, ok = o.ReconcileTotals()
	assert.False(t, ok)
	assert.Contains(t, warning, "marketplace total 30.00")
	// never corrected
	assert.True(t, o.Total.Equal(decimal.RequireFromString("30.00")))
}

func TestOrder_Validate(t *testing.T) {
	assert.NoError(t, createTestOrder(OrderStatusNew).Validate())

	o := createTestOrder(OrderStatusNew)
	o.ID = 0
	assert.Error(t, o.Validate())

	o = createTestOrder(OrderStatusNew)
	o.Lines[0].Quantity = 0
	assert.Error(t, o.Validate())

	o = createTestOrder(OrderStatusNew)
	o.Lines[0].Quantity = 0
	o.Lines[0].Status = LineStatusCanceled
	assert.NoError(t, o.Validate())

	o = createTestOrder(OrderStatusNew)
	o.PaymentMethod = "crypto"
	assert.Error(t, o.Validate())
}

func TestOrder_ReturnDeadline(t *testing.T) {
	o := createTestOrder(OrderStatusFinalized)
	assert.Nil(t, o.ReturnDeadline())

	finalizedAt(o, testNow)
	o.ReturnWindowDays = 0
	deadline := o.ReturnDeadline()
	require.NotNil(t, deadline)
	assert.Equal(t, testNow.Add(19*24*time.Hour), *deadline)
}
