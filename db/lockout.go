package db

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/cardvault/models"
)

// getLockoutEntry fetch the lockout entry of a user
//
// If the entry does not exist, initialize a new one.
func (d *databaseImpl) getLockoutEntry(ownerID string) (LockoutRecordDBEntry, error) {
	var entries []LockoutRecordDBEntry
	dbErr := d.db.Where("owner_id = ?", ownerID).Find(&entries).Error
	if dbErr != nil {
		return LockoutRecordDBEntry{}, fmt.Errorf("failed to read lockout table [%w]", dbErr)
	}
	if len(entries) == 0 {
		// Make a new one
		newEntry := LockoutRecordDBEntry{
			LockoutRecord: models.LockoutRecord{OwnerID: ownerID},
		}
		if err := d.validator.Struct(&newEntry); err != nil {
			return LockoutRecordDBEntry{}, fmt.Errorf(
				"new lockout record of %s is invalid [%w]", ownerID, err,
			)
		}
		if dbErr = d.db.Create(&newEntry).Error; dbErr != nil {
			return LockoutRecordDBEntry{}, fmt.Errorf(
				"failed to setup lockout record of %s [%w]", ownerID, dbErr,
			)
		}
		return newEntry, nil
	}
	return entries[0], nil
}

/*
GetLockoutRecord fetch the lockout record of a user

If the user has no record yet, a cleared one is created.

	@param ctx context.Context - execution context
	@param ownerID string - the user
	@returns the lockout record
*/
func (d *databaseImpl) GetLockoutRecord(
	_ context.Context, ownerID string,
) (models.LockoutRecord, error) {
	entry, err := d.getLockoutEntry(ownerID)
	if err != nil {
		return models.LockoutRecord{}, fmt.Errorf(
			"unable to fetch lockout record of %s [%w]", ownerID, err,
		)
	}
	return entry.LockoutRecord, nil
}

/*
UpdateLockoutRecord persist the failure counter and lockout timestamp of a user

	@param ctx context.Context - execution context
	@param ownerID string - the user
	@param failedAttempts uint - failure counter
	@param lockoutUntil *time.Time - lockout expiry, nil to clear
	@returns the updated lockout record
*/
func (d *databaseImpl) UpdateLockoutRecord(
	_ context.Context, ownerID string, failedAttempts uint, lockoutUntil *time.Time,
) (models.LockoutRecord, error) {
	entry, err := d.getLockoutEntry(ownerID)
	if err != nil {
		return models.LockoutRecord{}, fmt.Errorf(
			"unable to fetch lockout record of %s [%w]", ownerID, err,
		)
	}

	// Zero values are skipped by Updates with a struct, so use a map
	if tmp := d.db.Model(&entry).Updates(map[string]interface{}{
		"failed_attempts": failedAttempts,
		"lockout_until":   lockoutUntil,
	}); tmp.Error != nil {
		return models.LockoutRecord{}, fmt.Errorf(
			"lockout record of %s update failed [%w]", ownerID, tmp.Error,
		)
	}

	entry.FailedAttempts = failedAttempts
	entry.LockoutUntil = lockoutUntil

	return entry.LockoutRecord, nil
}
