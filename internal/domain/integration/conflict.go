package integration

import (
	"fmt"
	"strings"
)

// Decision is the outcome of conflict resolution for one record.
type Decision int

const (
	// DecisionApply writes the remote values locally
	DecisionApply Decision = iota + 1
	// DecisionKeep leaves the local record untouched
	DecisionKeep
	// DecisionFlag holds the record for human review
	DecisionFlag
)

// String returns the string representation of Decision
func (d Decision) String() string {
	switch d {
	case DecisionApply:
		return "apply"
	case DecisionKeep:
		return "keep"
	case DecisionFlag:
		return "flag"
	default:
		return "unknown"
	}
}

// ConflictStrategy is the closed set of conflict resolution strategies.
// The unexported marker method keeps the set closed to this package.
type ConflictStrategy interface {
	Name() string
	conflictStrategy()
}

// RemotePriority always applies the remote values. It is the default.
type RemotePriority struct{}

// LocalPriority keeps the local record unless none exists yet.
type LocalPriority struct{}

// NewestWins applies the remote record only when it was modified after the local one.
type NewestWins struct{}

// Manual flags every divergence for human review and never writes.
type Manual struct{}

func (RemotePriority) Name() string { return "remote_priority" }
func (LocalPriority) Name() string  { return "local_priority" }
func (NewestWins) Name() string     { return "newest_wins" }
func (Manual) Name() string         { return "manual" }

func (RemotePriority) conflictStrategy() {}
func (LocalPriority) conflictStrategy()  {}
func (NewestWins) conflictStrategy()     {}
func (Manual) conflictStrategy()         {}

// DefaultConflictStrategy returns the strategy used when none is configured
func DefaultConflictStrategy() ConflictStrategy {
	return RemotePriority{}
}

// ParseConflictStrategy maps a configuration or request value to a strategy.
// An empty value selects the default.
func ParseConflictStrategy(name string) (ConflictStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return DefaultConflictStrategy(), nil
	case RemotePriority{}.Name():
		return RemotePriority{}, nil
	case LocalPriority{}.Name():
		return LocalPriority{}, nil
	case NewestWins{}.Name():
		return NewestWins{}, nil
	case Manual{}.Name():
		return Manual{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, name)
	}
}

// ConflictStrategyNames lists the accepted strategy names
func ConflictStrategyNames() []string {
	return []string{RemotePriority{}.Name(), LocalPriority{}.Name(), NewestWins{}.Name(), Manual{}.Name()}
}

// Resolve decides what to do with a freshly fetched remote record given the
// locally stored one (nil when absent). It is a pure function: validation
// status is carried as data and never gates the decision.
func Resolve(remote, local *SyncedRecord, strategy ConflictStrategy) Decision {
	if strategy == nil {
		strategy = DefaultConflictStrategy()
	}
	switch strategy.(type) {
	case RemotePriority:
		return DecisionApply
	case LocalPriority:
		if local == nil {
			return DecisionApply
		}
		return DecisionKeep
	case NewestWins:
		if local == nil || remote.ModifiedAt.After(local.ModifiedAt) {
			return DecisionApply
		}
		return DecisionKeep
	case Manual:
		return DecisionFlag
	}
	// unreachable while the strategy set is closed
	return DecisionFlag
}
