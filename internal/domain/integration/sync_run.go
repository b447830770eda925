package integration

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Enums
// ---------------------------------------------------------------------------

// SyncMode selects which remote records a run visits
type SyncMode string

const (
	// SyncModeFull pages through the entire catalog
	SyncModeFull SyncMode = "full"
	// SyncModeIncremental only visits records modified since the last successful run
	SyncModeIncremental SyncMode = "incremental"
	// SyncModeSelective only visits the natural keys named in the request
	SyncModeSelective SyncMode = "selective"
)

// IsValid returns true if the mode is valid
func (m SyncMode) IsValid() bool {
	switch m {
	case SyncModeFull, SyncModeIncremental, SyncModeSelective:
		return true
	default:
		return false
	}
}

// String returns the string representation of SyncMode
func (m SyncMode) String() string {
	return string(m)
}

// ParseSyncMode parses a mode name, defaulting to incremental when empty
func ParseSyncMode(s string) (SyncMode, error) {
	if s == "" {
		return SyncModeIncremental, nil
	}
	m := SyncMode(strings.ToLower(s))
	if !m.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSyncMode, s)
	}
	return m, nil
}

// SyncRunStatus is the lifecycle status of a SyncRun
type SyncRunStatus string

const (
	SyncRunStatusRunning   SyncRunStatus = "running"
	SyncRunStatusCompleted SyncRunStatus = "completed"
	SyncRunStatusFailed    SyncRunStatus = "failed"
	SyncRunStatusPartial   SyncRunStatus = "partial"
)

// IsValid returns true if the status is valid
func (s SyncRunStatus) IsValid() bool {
	switch s {
	case SyncRunStatusRunning, SyncRunStatusCompleted, SyncRunStatusFailed, SyncRunStatusPartial:
		return true
	default:
		return false
	}
}

// IsTerminal returns true once the run can no longer change
func (s SyncRunStatus) IsTerminal() bool {
	return s == SyncRunStatusCompleted || s == SyncRunStatusFailed || s == SyncRunStatusPartial
}

// String returns the string representation of SyncRunStatus
func (s SyncRunStatus) String() string {
	return string(s)
}

// Outcome is what happened to one processed remote record
type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeUpdated
	OutcomeUnchanged
	OutcomeFlagged
	OutcomeFailed
)

// ---------------------------------------------------------------------------
// SyncRun Aggregate
// ---------------------------------------------------------------------------

// SyncCounts are the per-run counters returned to the trigger
type SyncCounts struct {
	Processed    int `json:"processed"`
	Created      int `json:"created"`
	Updated      int `json:"updated"`
	Unchanged    int `json:"unchanged"`
	Failed       int `json:"failed"`
	Flagged      int `json:"flagged"`
	DistinctKeys int `json:"distinct_keys"`
	PagesFetched int `json:"pages_fetched"`
}

// SyncItemError is one entry of the ordered per-item error list
type SyncItemError struct {
	AccountID  AccountID `json:"account_id"`
	NaturalKey string    `json:"natural_key,omitempty"`
	Page       int       `json:"page,omitempty"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FlaggedItem is a record held for manual review
type FlaggedItem struct {
	AccountID   AccountID `json:"account_id"`
	NaturalKey  string    `json:"natural_key"`
	LocalPrice  string    `json:"local_price,omitempty"`
	RemotePrice string    `json:"remote_price"`
	LocalStock  *int      `json:"local_stock,omitempty"`
	RemoteStock int       `json:"remote_stock"`
	Reason      string    `json:"reason"`
}

// SyncRunOptions are the request parameters recorded on the run
type SyncRunOptions struct {
	// Keys restricts a selective run to these natural keys
	Keys []string `json:"keys,omitempty"`
	// MaxPages caps the pages fetched per account, zero means unbounded
	MaxPages int `json:"max_pages,omitempty"`
	// ItemsPerPage is the page size, at most 100
	ItemsPerPage int `json:"items_per_page"`
}

// SyncRun is one invocation of the orchestrator. It is created at invocation
// start, mutated only by the owning orchestrator and immutable once terminal.
type SyncRun struct {
	ID         uuid.UUID
	Mode       SyncMode
	Accounts   []AccountID
	Strategy   string
	Options    SyncRunOptions
	Status     SyncRunStatus
	Counts     SyncCounts
	Errors     []SyncItemError
	Flagged    []FlaggedItem
	Warnings   []string
	StartedAt  time.Time
	ProgressAt time.Time
	FinishedAt *time.Time
	Canceled   bool

	seenKeys map[string]struct{}
}

// NewSyncRun creates a running SyncRun
func NewSyncRun(mode SyncMode, accounts []AccountID, strategy ConflictStrategy, opts SyncRunOptions, now time.Time) (*SyncRun, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSyncMode, mode)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("%w: account scope is empty", ErrUnknownAccount)
	}
	for _, a := range accounts {
		if !a.IsValid() {
			return nil, ErrInvalidAccountID
		}
	}
	if opts.ItemsPerPage < 0 || opts.ItemsPerPage > MaxPageSize {
		return nil, ErrInvalidPageSize
	}
	if opts.ItemsPerPage == 0 {
		opts.ItemsPerPage = MaxPageSize
	}
	if opts.MaxPages < 0 {
		opts.MaxPages = 0
	}
	if mode == SyncModeSelective && len(opts.Keys) == 0 {
		return nil, ErrSelectiveWithoutKeys
	}
	if strategy == nil {
		strategy = DefaultConflictStrategy()
	}

	return &SyncRun{
		ID:         uuid.New(),
		Mode:       mode,
		Accounts:   append([]AccountID(nil), accounts...),
		Strategy:   strategy.Name(),
		Options:    opts,
		Status:     SyncRunStatusRunning,
		Errors:     make([]SyncItemError, 0),
		Flagged:    make([]FlaggedItem, 0),
		Warnings:   make([]string, 0),
		StartedAt:  now,
		ProgressAt: now,
		seenKeys:   make(map[string]struct{}),
	}, nil
}

// ConflictStrategy returns the typed strategy the run was started with
func (r *SyncRun) ConflictStrategy() ConflictStrategy {
	s, err := ParseConflictStrategy(r.Strategy)
	if err != nil {
		return DefaultConflictStrategy()
	}
	return s
}

// CoversCatalog reports whether the run visited every remote record it
// could see, so its start time is a safe incremental watermark. Selective
// runs and page-capped runs do not.
func (r *SyncRun) CoversCatalog() bool {
	if r.Options.MaxPages > 0 {
		return false
	}
	return r.Mode == SyncModeFull || r.Mode == SyncModeIncremental
}

// IsTerminal returns true once the run finished
func (r *SyncRun) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// Record counts one processed remote record. The natural key feeds the
// cross-account distinct count.
func (r *SyncRun) Record(naturalKey string, outcome Outcome) {
	if r.IsTerminal() {
		return
	}
	r.Counts.Processed++
	switch outcome {
	case OutcomeCreated:
		r.Counts.Created++
	case OutcomeUpdated:
		r.Counts.Updated++
	case OutcomeUnchanged:
		r.Counts.Unchanged++
	case OutcomeFlagged:
		r.Counts.Flagged++
	case OutcomeFailed:
		r.Counts.Failed++
	}
	if naturalKey != "" {
		if r.seenKeys == nil {
			r.seenKeys = make(map[string]struct{})
		}
		r.seenKeys[naturalKey] = struct{}{}
		r.Counts.DistinctKeys = len(r.seenKeys)
	}
}

// AddError appends an entry to the ordered error list
func (r *SyncRun) AddError(e SyncItemError) {
	if r.IsTerminal() {
		return
	}
	r.Errors = append(r.Errors, e)
}

// AddFlagged appends a record held for review
func (r *SyncRun) AddFlagged(item FlaggedItem) {
	if r.IsTerminal() {
		return
	}
	r.Flagged = append(r.Flagged, item)
}

// AddWarning appends a non-error observation
func (r *SyncRun) AddWarning(msg string) {
	if r.IsTerminal() {
		return
	}
	r.Warnings = append(r.Warnings, msg)
}

// PageFetched counts a successfully fetched page and refreshes the progress timestamp
func (r *SyncRun) PageFetched(now time.Time) {
	if r.IsTerminal() {
		return
	}
	r.Counts.PagesFetched++
	r.ProgressAt = now
}

// Touch refreshes the progress timestamp used for stuck-run detection
func (r *SyncRun) Touch(now time.Time) {
	if r.IsTerminal() {
		return
	}
	r.ProgressAt = now
}

// HasErrors reports whether any error was recorded
func (r *SyncRun) HasErrors() bool {
	return len(r.Errors) > 0
}

// Finish moves the run to its terminal status. A canceled run is partial;
// otherwise the run is completed without errors, failed when not a single
// page was fetched, and partial in every other case.
func (r *SyncRun) Finish(canceled bool, now time.Time) error {
	if r.IsTerminal() {
		return ErrSyncRunTerminal
	}
	r.Canceled = canceled
	switch {
	case canceled:
		r.Status = SyncRunStatusPartial
	case !r.HasErrors():
		r.Status = SyncRunStatusCompleted
	case r.Counts.PagesFetched == 0:
		r.Status = SyncRunStatusFailed
	default:
		r.Status = SyncRunStatusPartial
	}
	r.ProgressAt = now
	r.FinishedAt = &now
	return nil
}

// MarkStale fails a run whose progress stopped without reaching a terminal status
func (r *SyncRun) MarkStale(now time.Time) error {
	if r.IsTerminal() {
		return ErrSyncRunTerminal
	}
	r.Errors = append(r.Errors, SyncItemError{
		Code:       ErrorCodeStale,
		Message:    fmt.Sprintf("no progress since %s", r.ProgressAt.UTC().Format(time.RFC3339)),
		OccurredAt: now,
	})
	r.Status = SyncRunStatusFailed
	r.FinishedAt = &now
	return nil
}

// IsStale reports whether a running run made no progress for longer than after
func (r *SyncRun) IsStale(now time.Time, after time.Duration) bool {
	return r.Status == SyncRunStatusRunning && now.Sub(r.ProgressAt) > after
}

// Duration returns the elapsed time, up to now for running runs
func (r *SyncRun) Duration(now time.Time) time.Duration {
	if r.FinishedAt != nil {
		return r.FinishedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}

// IncludesAccount reports whether the account is in the run scope
func (r *SyncRun) IncludesAccount(id AccountID) bool {
	for _, a := range r.Accounts {
		if a == id {
			return true
		}
	}
	return false
}

// Snapshot returns a deep copy safe to hand to readers while the run is live
func (r *SyncRun) Snapshot() *SyncRun {
	c := *r
	c.Accounts = append([]AccountID(nil), r.Accounts...)
	c.Options.Keys = append([]string(nil), r.Options.Keys...)
	c.Errors = append([]SyncItemError(nil), r.Errors...)
	c.Flagged = append([]FlaggedItem(nil), r.Flagged...)
	c.Warnings = append([]string(nil), r.Warnings...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	c.seenKeys = nil
	return &c
}

// ---------------------------------------------------------------------------
// SyncProgress
// ---------------------------------------------------------------------------

// SyncProgress is the live progress of a running SyncRun. It is overwritten in
// place and discarded when the run terminates.
type SyncProgress struct {
	RunID          uuid.UUID
	CurrentPage    map[AccountID]int
	ItemsProcessed int
	EstimatedTotal int
	StartedAt      time.Time
	UpdatedAt      time.Time
}

// NewSyncProgress creates progress for a run
func NewSyncProgress(runID uuid.UUID, now time.Time) *SyncProgress {
	return &SyncProgress{
		RunID:       runID,
		CurrentPage: make(map[AccountID]int),
		StartedAt:   now,
		UpdatedAt:   now,
	}
}

// Advance records that page of account finished with items records
func (p *SyncProgress) Advance(account AccountID, page, items int, now time.Time) {
	p.CurrentPage[account] = page
	p.ItemsProcessed += items
	p.UpdatedAt = now
}

// AddEstimate adds an account's reported total to the estimate
func (p *SyncProgress) AddEstimate(total int) {
	if total > 0 {
		p.EstimatedTotal += total
	}
}

// EstimatedCompletion extrapolates the finish time from the throughput so far.
// Returns nil while there is not enough data.
func (p *SyncProgress) EstimatedCompletion() *time.Time {
	if p.EstimatedTotal <= 0 || p.ItemsProcessed <= 0 {
		return nil
	}
	elapsed := p.UpdatedAt.Sub(p.StartedAt)
	if elapsed <= 0 {
		return nil
	}
	remaining := p.EstimatedTotal - p.ItemsProcessed
	if remaining < 0 {
		remaining = 0
	}
	perItem := elapsed / time.Duration(p.ItemsProcessed)
	eta := p.UpdatedAt.Add(perItem * time.Duration(remaining))
	return &eta
}

// Clone returns a copy safe to hand to readers
func (p *SyncProgress) Clone() *SyncProgress {
	c := *p
	c.CurrentPage = make(map[AccountID]int, len(p.CurrentPage))
	for k, v := range p.CurrentPage {
		c.CurrentPage[k] = v
	}
	return &c
}
