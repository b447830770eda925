package integration

import (
	"context"
	"time"
)

// MaxPageSize is the largest page the marketplace accepts
const MaxPageSize = 100

// CatalogFilter narrows a catalog listing
type CatalogFilter struct {
	// ModifiedSince restricts to records modified at or after this time (incremental mode)
	ModifiedSince *time.Time
	// Keys restricts to these natural keys (selective mode)
	Keys []string
}

// CatalogPage is one page of remote catalog records
type CatalogPage struct {
	Records []*SyncedRecord
	// HasMore is true when a following page exists
	HasMore bool
	// TotalItems is the server-reported total, zero when unknown
	TotalItems int
	// ItemErrors are the entries of the page that could not be decoded
	ItemErrors []ItemError
}

// ItemError is one listed entry that could not be turned into a record
type ItemError struct {
	// Index is the position of the entry on its page
	Index int
	// NaturalKey is the key the entry carried, empty when it had none
	NaturalKey string
	Err        error
}

// CatalogSource is the port through which the orchestrator pages the remote
// catalog of one account. Implementations gate every call through the rate
// limiter and the retry controller.
type CatalogSource interface {
	FetchCatalogPage(ctx context.Context, account AccountID, page, pageSize int, filter CatalogFilter) (*CatalogPage, error)
}

// ItemResult is the outcome of writing one record to the marketplace
type ItemResult struct {
	NaturalKey string
	Err        error
}

// CatalogWriter publishes local records to the remote catalog of one account.
// Item failures are reported per record; the returned error is reserved for
// failures that stop the whole batch.
type CatalogWriter interface {
	SaveCatalogRecords(ctx context.Context, account AccountID, records []*SyncedRecord) ([]ItemResult, error)
}
