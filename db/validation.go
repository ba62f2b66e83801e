package db

import (
	"context"
	"fmt"

	"github.com/alwitt/cardvault/models"
)

/*
DefineValidationRecord record the encrypted validation sentence of a user

	@param ctx context.Context - execution context
	@param ownerID string - the user
	@param validationString models.EncryptedField - encrypted validation sentence
	@returns the validation record
*/
func (d *databaseImpl) DefineValidationRecord(
	ctx context.Context, ownerID string, validationString models.EncryptedField,
) (models.ValidationRecord, error) {
	newEntry := ValidationRecordDBEntry{
		ValidationRecord: models.ValidationRecord{
			OwnerID:          ownerID,
			ValidationString: validationString,
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.ValidationRecord{}, fmt.Errorf(
			"new validation record of %s is invalid [%w]", ownerID, err,
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.ValidationRecord{}, fmt.Errorf(
			"new validation record of %s insert failed [%w]", ownerID, tmp.Error,
		)
	}

	// Record this event
	if _, err := d.RecordAuditEvent(
		ctx, ownerID, models.AuditEventTypeEnrolled, nil,
	); err != nil {
		return models.ValidationRecord{}, fmt.Errorf(
			"failed to log enrollment audit event [%w]", err,
		)
	}

	return newEntry.ValidationRecord, nil
}

/*
GetValidationRecord fetch the validation record of a user

	@param ctx context.Context - execution context
	@param ownerID string - the user
	@returns the validation record
*/
func (d *databaseImpl) GetValidationRecord(
	_ context.Context, ownerID string,
) (models.ValidationRecord, error) {
	var entry ValidationRecordDBEntry
	if tmp := d.db.Where("owner_id = ?", ownerID).First(&entry); tmp.Error != nil {
		return models.ValidationRecord{}, fmt.Errorf(
			"failed to fetch validation record of %s [%w]", ownerID, notFoundAware(tmp.Error),
		)
	}
	return entry.ValidationRecord, nil
}
