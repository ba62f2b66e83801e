package db

import "github.com/alwitt/cardvault/models"

// --------------------------------------------------------------------------------------
// Audit events

// AuditEventDBEntry audit event DB entry
type AuditEventDBEntry struct {
	models.AuditEvent
}

// TableName hard code table name
func (AuditEventDBEntry) TableName() string {
	return "audit_events"
}

// --------------------------------------------------------------------------------------
// Validation records

// ValidationRecordDBEntry validation sentence DB entry
type ValidationRecordDBEntry struct {
	models.ValidationRecord
}

// TableName hard code table name
func (ValidationRecordDBEntry) TableName() string {
	return "validation_records"
}

// --------------------------------------------------------------------------------------
// Lockout records

// LockoutRecordDBEntry lockout ledger DB entry
type LockoutRecordDBEntry struct {
	models.LockoutRecord
}

// TableName hard code table name
func (LockoutRecordDBEntry) TableName() string {
	return "lockout_records"
}

// --------------------------------------------------------------------------------------
// Cards

// CardDBEntry card DB entry
type CardDBEntry struct {
	models.Card
}

// TableName hard code table name
func (CardDBEntry) TableName() string {
	return "cards"
}
