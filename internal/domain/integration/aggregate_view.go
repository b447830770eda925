package integration

import (
	"sort"

	"github.com/shopspring/decimal"
)

// AggregatedRecord is the cross-account view of one natural key. Each natural
// key appears exactly once however many accounts carry it.
type AggregatedRecord struct {
	NaturalKey string
	Name       string
	Accounts   []AccountID
	Entries    []SyncedRecord
	MinPrice   decimal.Decimal
	MaxPrice   decimal.Decimal
	TotalStock int
	// Diverged is true when the accounts disagree on price or stock
	Diverged bool
	// Flagged is true when any account entry is held for review
	Flagged bool
}

// AggregateByNaturalKey merges per-account records into one entry per natural
// key. Output is ordered by natural key, entries by account.
func AggregateByNaturalKey(records []SyncedRecord) []AggregatedRecord {
	byKey := make(map[string]*AggregatedRecord)
	for i := range records {
		rec := records[i]
		agg, ok := byKey[rec.NaturalKey]
		if !ok {
			agg = &AggregatedRecord{
				NaturalKey: rec.NaturalKey,
				Name:       rec.Name,
				MinPrice:   rec.Price,
				MaxPrice:   rec.Price,
			}
			byKey[rec.NaturalKey] = agg
		}
		agg.Entries = append(agg.Entries, rec)
		agg.TotalStock += rec.Stock
		if rec.Price.LessThan(agg.MinPrice) {
			agg.MinPrice = rec.Price
		}
		if rec.Price.GreaterThan(agg.MaxPrice) {
			agg.MaxPrice = rec.Price
		}
		if agg.Name == "" {
			agg.Name = rec.Name
		}
		if rec.SyncStatus == RecordSyncStatusConflict {
			agg.Flagged = true
		}
	}

	out := make([]AggregatedRecord, 0, len(byKey))
	for _, agg := range byKey {
		sort.Slice(agg.Entries, func(i, j int) bool {
			return agg.Entries[i].AccountID < agg.Entries[j].AccountID
		})
		agg.Accounts = make([]AccountID, 0, len(agg.Entries))
		for _, e := range agg.Entries {
			if len(agg.Accounts) == 0 || agg.Accounts[len(agg.Accounts)-1] != e.AccountID {
				agg.Accounts = append(agg.Accounts, e.AccountID)
			}
			if !e.Price.Equal(agg.Entries[0].Price) || e.Stock != agg.Entries[0].Stock {
				agg.Diverged = true
			}
		}
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NaturalKey < out[j].NaturalKey
	})
	return out
}
