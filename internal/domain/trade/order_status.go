package trade

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// OrderStatus is the marketplace order processing status. The numeric values
// are the ones the marketplace uses on the wire.
type OrderStatus int

const (
	OrderStatusCanceled   OrderStatus = 0
	OrderStatusNew        OrderStatus = 1
	OrderStatusInProgress OrderStatus = 2
	OrderStatusPrepared   OrderStatus = 3
	OrderStatusFinalized  OrderStatus = 4
	OrderStatusReturned   OrderStatus = 5
)

var orderStatusNames = map[OrderStatus]string{
	OrderStatusCanceled:   "canceled",
	OrderStatusNew:        "new",
	OrderStatusInProgress: "in_progress",
	OrderStatusPrepared:   "prepared",
	OrderStatusFinalized:  "finalized",
	OrderStatusReturned:   "returned",
}

// IsValid checks if the status is a valid OrderStatus
func (s OrderStatus) IsValid() bool {
	_, ok := orderStatusNames[s]
	return ok
}

// String returns the string representation of OrderStatus
func (s OrderStatus) String() string {
	if name, ok := orderStatusNames[s]; ok {
		return name
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

// IsTerminal reports whether no transition leaves the status
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// ParseOrderStatus accepts a status name or its numeric wire value
func ParseOrderStatus(s string) (OrderStatus, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		st := OrderStatus(n)
		if st.IsValid() {
			return st, nil
		}
		return 0, fmt.Errorf("unknown order status %d", n)
	}
	for st, name := range orderStatusNames {
		if name == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown order status %q", s)
}

// ---------------------------------------------------------------------------
// Transition table
// ---------------------------------------------------------------------------

// transitionGuard is the condition attached to an allowed transition
type transitionGuard int

const (
	guardNone transitionGuard = iota
	// guardAcknowledgment: only the acknowledgment call may take this edge
	guardAcknowledgment
	// guardFinalizationWindow: within ReversalWindow of finalization
	guardFinalizationWindow
	// guardReturnWindow: within the order's return window plus ReturnGracePeriod
	guardReturnWindow
	// guardCancellationWindow: within ReversalWindow of cancellation
	guardCancellationWindow
)

const (
	// ReversalWindow bounds reopening a finalized order and reactivating a canceled one
	ReversalWindow = 48 * time.Hour
	// ReturnGracePeriod is added to the order's return window for Finalized -> Returned
	ReturnGracePeriod = 5 * 24 * time.Hour
	// DefaultReturnWindowDays applies when the marketplace does not report one
	DefaultReturnWindowDays = 14
)

// orderTransitions is the authoritative matrix. Pairs absent from it are illegal.
var orderTransitions = map[OrderStatus]map[OrderStatus]transitionGuard{
	OrderStatusNew: {
		OrderStatusInProgress: guardAcknowledgment,
	},
	OrderStatusInProgress: {
		OrderStatusPrepared:  guardNone,
		OrderStatusFinalized: guardNone,
		OrderStatusCanceled:  guardNone,
	},
	OrderStatusPrepared: {
		OrderStatusFinalized: guardNone,
		OrderStatusCanceled:  guardNone,
	},
	OrderStatusFinalized: {
		OrderStatusPrepared: guardFinalizationWindow,
		OrderStatusCanceled: guardFinalizationWindow,
		OrderStatusReturned: guardReturnWindow,
	},
	OrderStatusCanceled: {
		OrderStatusInProgress: guardCancellationWindow,
		OrderStatusPrepared:   guardCancellationWindow,
		OrderStatusFinalized:  guardCancellationWindow,
	},
	OrderStatusReturned: {},
}

// CanTransitionTo reports whether the matrix contains the edge, ignoring time
// windows and the acknowledgment requirement.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	_, ok := orderTransitions[s][target]
	return ok
}

// AllowedTargets lists the statuses reachable from s according to the matrix
func (s OrderStatus) AllowedTargets() []OrderStatus {
	targets := make([]OrderStatus, 0, len(orderTransitions[s]))
	for _, st := range AllOrderStatuses() {
		if s.CanTransitionTo(st) {
			targets = append(targets, st)
		}
	}
	return targets
}

// AllOrderStatuses returns every status in wire order
func AllOrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusCanceled,
		OrderStatusNew,
		OrderStatusInProgress,
		OrderStatusPrepared,
		OrderStatusFinalized,
		OrderStatusReturned,
	}
}
