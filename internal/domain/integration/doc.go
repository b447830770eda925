// Package integration contains the marketplace synchronization bounded context.
// It reconciles catalog data between the local system of record and a
// rate-limited, paginated marketplace API reached under two seller accounts.
//
// Key concepts:
//   - SyncedRecord: catalog entry scoped to one account, identified by (natural key, account)
//   - SyncRun: one orchestrator invocation with counts, item errors and flagged items
//   - SyncProgress: live, in-place progress of a running SyncRun
//   - ConflictStrategy: closed set of strategies deciding Apply, Keep or Flag
//   - CatalogSource: port for paging through the marketplace catalog
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
