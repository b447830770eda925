package integration

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/erp/marketsync/internal/domain/integration"
	"github.com/erp/marketsync/internal/infrastructure/telemetry"
)

// runAccounts fans out one worker per account. Pages are strictly ordered
// within an account; accounts are not ordered against each other. A worker
// never fails the group: its errors are recorded on the run.
func (s *SyncService) runAccounts(ctx context.Context, ar *activeRun, log *zap.Logger) {
	var g errgroup.Group
	for _, account := range ar.run.Accounts {
		g.Go(func() error {
			s.syncAccount(ctx, ar, account, log.With(zap.String("account_id", account.String())))
			return nil
		})
	}
	_ = g.Wait()
}

func (s *SyncService) syncAccount(ctx context.Context, ar *activeRun, account integration.AccountID, log *zap.Logger) {
	if s.jitter != nil {
		if err := s.sleep(ctx, s.jitter(account)); err != nil {
			return
		}
	}

	filter, err := s.catalogFilter(ctx, ar, account)
	if err != nil {
		ar.addError(s.itemError(account, "", 0, err))
		log.Error("Failed to build catalog filter", zap.Error(err))
		return
	}

	opts := ar.run.Options
	strategy := ar.run.ConflictStrategy()
	failures := 0

	for page := 1; ; page++ {
		if ctx.Err() != nil {
			return
		}
		if opts.MaxPages > 0 && page > opts.MaxPages {
			log.Debug("Page limit reached", zap.Int("max_pages", opts.MaxPages))
			return
		}

		result, err := s.source.FetchCatalogPage(ctx, account, page, opts.ItemsPerPage, filter)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ar.addError(s.itemError(account, "", page, err))
			if integration.IsAccountFatal(err) {
				log.Error("Account worker aborted", zap.Int("page", page), zap.Error(err))
				return
			}
			failures++
			log.Warn("Catalog page failed", zap.Int("page", page), zap.Int("consecutive_failures", failures), zap.Error(err))
			if failures >= s.config.MaxConsecutivePageFailures {
				ar.addWarning(fmt.Sprintf("account %s stopped after %d consecutive failed pages", account, failures))
				return
			}
			continue
		}
		failures = 0
		ar.pageFetched(page, result.TotalItems, s.now())

		// the fetched page is always reconciled in full, even when
		// cancellation arrives while it is processed
		pageCtx := context.WithoutCancel(ctx)
		for _, item := range result.ItemErrors {
			s.rejectItem(pageCtx, ar, account, page, item, log)
		}
		for _, remote := range result.Records {
			s.processRecord(pageCtx, ar, account, page, strategy, remote, log)
		}
		ar.advance(account, page, len(result.Records)+len(result.ItemErrors), s.now())
		s.persistProgress(ctx, ar)

		log.Debug("Catalog page reconciled", zap.Int("page", page), zap.Int("items", len(result.Records)))
		if !result.HasMore {
			return
		}
	}
}

// catalogFilter narrows the remote listing by mode: incremental runs ask for
// records modified since the start of the account's last completed run,
// selective runs for the requested keys.
func (s *SyncService) catalogFilter(ctx context.Context, ar *activeRun, account integration.AccountID) (integration.CatalogFilter, error) {
	var filter integration.CatalogFilter
	switch ar.run.Mode {
	case integration.SyncModeSelective:
		filter.Keys = ar.run.Options.Keys
	case integration.SyncModeIncremental:
		last, err := s.runs.LastSuccessfulRun(ctx, account)
		if err != nil {
			return filter, err
		}
		if last != nil {
			since := last.StartedAt
			filter.ModifiedSince = &since
		}
	}
	return filter, nil
}

// processRecord reconciles one remote record under the per-key lock and
// counts the outcome on the run.
func (s *SyncService) processRecord(
	ctx context.Context,
	ar *activeRun,
	account integration.AccountID,
	page int,
	strategy integration.ConflictStrategy,
	remote *integration.SyncedRecord,
	log *zap.Logger,
) {
	if remote == nil {
		return
	}
	if remote.AccountID == "" {
		remote.AccountID = account
	}

	outcome, flagged, err := s.reconcileRecord(ctx, remote, strategy)
	if err != nil {
		outcome = integration.OutcomeFailed
		ar.addError(s.itemError(account, remote.NaturalKey, page, err))
		log.Warn("Record failed", zap.String("natural_key", remote.NaturalKey), zap.Error(err))
	}
	if flagged != nil {
		ar.addFlagged(*flagged)
	}
	ar.record(remote.NaturalKey, outcome)
	s.metrics.ItemProcessed(ctx, account.String(), outcomeName(outcome))
}

// rejectItem counts a listed entry the source could not decode as failed.
// The rest of the page is reconciled normally.
func (s *SyncService) rejectItem(
	ctx context.Context,
	ar *activeRun,
	account integration.AccountID,
	page int,
	item integration.ItemError,
	log *zap.Logger,
) {
	ar.addError(s.itemError(account, item.NaturalKey, page, item.Err))
	ar.record(item.NaturalKey, integration.OutcomeFailed)
	s.metrics.ItemProcessed(ctx, account.String(), outcomeName(integration.OutcomeFailed))
	log.Warn("Listed record rejected",
		zap.Int("page", page),
		zap.Int("index", item.Index),
		zap.String("natural_key", item.NaturalKey),
		zap.Error(item.Err),
	)
}

func (s *SyncService) reconcileRecord(
	ctx context.Context,
	remote *integration.SyncedRecord,
	strategy integration.ConflictStrategy,
) (integration.Outcome, *integration.FlaggedItem, error) {
	if err := remote.Validate(); err != nil {
		if !errors.Is(err, integration.ErrValidation) {
			err = fmt.Errorf("%w: %w", integration.ErrValidation, err)
		}
		return integration.OutcomeFailed, nil, err
	}

	ctx, span := telemetry.StartSpan(ctx, "sync.reconcile",
		telemetry.WithAttribute(telemetry.SpanAttrAccountID, remote.AccountID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrNaturalKey, remote.NaturalKey),
	)
	defer span.End()

	unlock, err := s.locker.Lock(ctx, remote.Key().String())
	if err != nil {
		return integration.OutcomeFailed, nil, err
	}
	defer unlock()

	local, err := s.records.GetSyncedRecord(ctx, remote.NaturalKey, remote.AccountID)
	switch {
	case errors.Is(err, integration.ErrSyncRecordNotFound):
		local = nil
	case err != nil:
		telemetry.RecordError(span, err)
		return integration.OutcomeFailed, nil, err
	}

	if local != nil && local.SameContent(remote) {
		if local.SyncStatus != integration.RecordSyncStatusSynced {
			if err := s.records.UpdateSyncStatus(ctx, local.Key(), integration.RecordSyncStatusSynced); err != nil {
				return integration.OutcomeFailed, nil, err
			}
		}
		return integration.OutcomeUnchanged, nil, nil
	}

	now := s.now()
	switch integration.Resolve(remote, local, strategy) {
	case integration.DecisionApply:
		if local == nil {
			created := remote.Clone()
			created.MarkSynced(now)
			if err := s.records.UpsertSyncedRecord(ctx, created); err != nil {
				return integration.OutcomeFailed, nil, err
			}
			return integration.OutcomeCreated, nil, nil
		}
		local.ApplyRemote(remote, now)
		if err := s.records.UpsertSyncedRecord(ctx, local); err != nil {
			return integration.OutcomeFailed, nil, err
		}
		return integration.OutcomeUpdated, nil, nil

	case integration.DecisionKeep:
		return integration.OutcomeUnchanged, nil, nil

	default:
		item := flaggedItem(remote, local, strategy)
		if local != nil {
			if err := s.records.UpdateSyncStatus(ctx, local.Key(), integration.RecordSyncStatusConflict); err != nil {
				return integration.OutcomeFailed, nil, err
			}
		}
		return integration.OutcomeFlagged, &item, nil
	}
}

func flaggedItem(remote, local *integration.SyncedRecord, strategy integration.ConflictStrategy) integration.FlaggedItem {
	item := integration.FlaggedItem{
		AccountID:   remote.AccountID,
		NaturalKey:  remote.NaturalKey,
		RemotePrice: remote.Price.String(),
		RemoteStock: remote.Stock,
		Reason:      fmt.Sprintf("%s: no local record", strategy.Name()),
	}
	if local != nil {
		stock := local.Stock
		item.LocalPrice = local.Price.String()
		item.LocalStock = &stock
		item.Reason = fmt.Sprintf("%s: remote differs from local", strategy.Name())
	}
	return item
}

func (s *SyncService) itemError(account integration.AccountID, key string, page int, err error) integration.SyncItemError {
	return integration.SyncItemError{
		AccountID:  account,
		NaturalKey: key,
		Page:       page,
		Code:       integration.ErrorCode(err),
		Message:    err.Error(),
		OccurredAt: s.now(),
	}
}

func outcomeName(o integration.Outcome) string {
	switch o {
	case integration.OutcomeCreated:
		return "created"
	case integration.OutcomeUpdated:
		return "updated"
	case integration.OutcomeUnchanged:
		return "unchanged"
	case integration.OutcomeFlagged:
		return "flagged"
	default:
		return "failed"
	}
}
