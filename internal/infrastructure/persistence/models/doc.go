// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer pure and free
// from ORM concerns.
//
// Structure:
//   - sync.go: synced records and the sync run log
//   - order.go: marketplace orders and their lines
package models
