package db

import (
	"context"

	"gorm.io/gorm"
)

// DefineTables prepare a database with the wallet tables
//
// Production deployments manage the schema with the Atlas migration binary; this is meant
// for unit-testing and for local sqlite stores.
func DefineTables(_ context.Context, db *gorm.DB) error {
	return db.AutoMigrate(
		AuditEventDBEntry{},
		ValidationRecordDBEntry{},
		LockoutRecordDBEntry{},
		CardDBEntry{},
	)
}
