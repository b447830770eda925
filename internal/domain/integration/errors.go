package integration

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/marketsync/internal/domain/shared"
)

// Error taxonomy shared by the transport, the retry controller and the
// orchestrator. Adapters wrap these with %w so callers classify with errors.Is.
var (
	// ErrAuthentication means the account credentials were rejected. Fatal for that account only.
	ErrAuthentication = errors.New("integration: authentication failed")
	// ErrRateLimitExceeded means the marketplace reported the budget as exhausted. Recoverable.
	ErrRateLimitExceeded = errors.New("integration: rate limit exceeded")
	// ErrRateLimitExhausted means retries after rate-limit responses ran out.
	ErrRateLimitExhausted = errors.New("integration: rate limit retries exhausted")
	// ErrValidation means the payload or a business rule was rejected. Fatal per item.
	ErrValidation = errors.New("integration: validation failed")
	// ErrProtocolViolation means the response envelope is missing required fields. Fatal per item.
	ErrProtocolViolation = errors.New("integration: protocol violation")
	// ErrTransientNetwork means a timeout, connection failure or 5xx. Retried.
	ErrTransientNetwork = errors.New("integration: transient network error")
	// ErrConflictFlagged marks a record held for manual review. Reported, never raised as a failure.
	ErrConflictFlagged = errors.New("integration: conflict flagged for review")
	// ErrPreconditionFailed is a client-side rejection raised before any remote call.
	ErrPreconditionFailed = shared.ErrPreconditionFailed
)

// Lifecycle errors
var (
	ErrSyncRunNotFound      = errors.New("integration: sync run not found")
	ErrSyncRunTerminal      = errors.New("integration: sync run already finished")
	ErrSyncRecordNotFound   = errors.New("integration: synced record not found")
	ErrUnknownAccount       = errors.New("integration: unknown account")
	ErrInvalidSyncMode      = errors.New("integration: invalid sync mode")
	ErrInvalidStrategy      = errors.New("integration: invalid conflict strategy")
	ErrInvalidNaturalKey    = errors.New("integration: natural key cannot be empty")
	ErrInvalidAccountID     = errors.New("integration: account id cannot be empty")
	ErrInvalidPageSize      = errors.New("integration: page size must be between 1 and 100")
	ErrSelectiveWithoutKeys = errors.New("integration: selective sync requires at least one key")
)

// Error codes recorded on SyncRun item errors
const (
	ErrorCodeAuthentication     = "AUTHENTICATION"
	ErrorCodeRateLimited        = "RATE_LIMITED"
	ErrorCodeRateLimitExhausted = "RATE_LIMIT_EXHAUSTED"
	ErrorCodeValidation         = "VALIDATION"
	ErrorCodeProtocolViolation  = "PROTOCOL_VIOLATION"
	ErrorCodeTransientNetwork   = "TRANSIENT_NETWORK"
	ErrorCodePreconditionFailed = "PRECONDITION_FAILED"
	ErrorCodeCanceled           = "CANCELED"
	ErrorCodeStale              = "STALE"
	ErrorCodeInternal           = "INTERNAL"
)

// ErrorCode maps an error to the code stored in the sync log.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuthentication):
		return ErrorCodeAuthentication
	case errors.Is(err, ErrRateLimitExhausted):
		return ErrorCodeRateLimitExhausted
	case errors.Is(err, ErrRateLimitExceeded):
		return ErrorCodeRateLimited
	case errors.Is(err, ErrProtocolViolation):
		return ErrorCodeProtocolViolation
	case errors.Is(err, ErrValidation):
		return ErrorCodeValidation
	case errors.Is(err, ErrTransientNetwork):
		return ErrorCodeTransientNetwork
	case errors.Is(err, ErrPreconditionFailed):
		return ErrorCodePreconditionFailed
	default:
		return ErrorCodeInternal
	}
}

// RateLimitInfo is the budget metadata the marketplace attaches to responses.
type RateLimitInfo struct {
	// Remaining is the server-reported remaining budget, -1 when absent
	Remaining int
	// ResetAt is when the server budget window resets
	ResetAt time.Time
	// RetryAfter is the server-suggested wait, zero when absent
	RetryAfter time.Duration
}

// RemoteError is a failed marketplace call. Kind is one of the taxonomy
// sentinels and is exposed through Unwrap.
type RemoteError struct {
	Kind       error
	Resource   string
	Action     string
	StatusCode int
	Messages   []string
	RateLimit  *RateLimitInfo
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Resource != "" {
		fmt.Fprintf(&b, " (%s/%s", e.Resource, e.Action)
		if e.StatusCode != 0 {
			fmt.Fprintf(&b, ", status %d", e.StatusCode)
		}
		b.WriteString(")")
	}
	if len(e.Messages) > 0 {
		b.WriteString(": ")
		b.WriteString(strings.Join(e.Messages, "; "))
	}
	return b.String()
}

// Unwrap exposes the taxonomy sentinel
func (e *RemoteError) Unwrap() error {
	return e.Kind
}

// IsAccountFatal reports whether err must abort the worker of the affected account.
func IsAccountFatal(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// IsItemFatal reports whether err only invalidates the item it was raised for.
func IsItemFatal(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrProtocolViolation)
}
