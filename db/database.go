package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
)

// ErrRecordNotFound the requested entry does not exist in the owner's partition
var ErrRecordNotFound = errors.New("record not found")

// CommonListEntryQueryFilter common query filter when listing data entries
type CommonListEntryQueryFilter struct {
	Limit  *int
	Offset *int
}

// AuditEventQueryFilter audit event query filter conditions
type AuditEventQueryFilter struct {
	CommonListEntryQueryFilter
	// OwnerID fetch only events of this user
	OwnerID *string
	// EventTypes the specific event types to query for
	EventTypes []models.AuditEventTypeENUMType
	// EventsAfter filter for events after this timestamp
	EventsAfter *time.Time
	// EventsBefore filter for events before this timestamp
	EventsBefore *time.Time
}

// CardQueryFilter card query filter conditions
type CardQueryFilter struct {
	CommonListEntryQueryFilter
	// OwnerID the owner partition to list. Required.
	OwnerID string
}

// Database the database handle to interacting with the data base
//
// Every user owned entry is partitioned by its owner ID; calls never cross partitions.
type Database interface {
	// ------------------------------------------------------------------------------------
	// Audit events

	/*
		RecordAuditEvent record a new audit event

			@param ctx context.Context - execution context
			@param ownerID string - the user the event relates to
			@param eventType models.AuditEventTypeENUMType - event type
			@param metadata interface{} - optional event metadata
			@returns the event entry
	*/
	RecordAuditEvent(
		ctx context.Context,
		ownerID string,
		eventType models.AuditEventTypeENUMType,
		metadata interface{},
	) (models.AuditEvent, error)

	/*
		ListAuditEvents list captured audit events

			@param ctx context.Context - execution context
			@param filters AuditEventQueryFilter - entry listing filter
			@return list of audit events
	*/
	ListAuditEvents(
		ctx context.Context, filters AuditEventQueryFilter,
	) ([]models.AuditEvent, error)

	// ------------------------------------------------------------------------------------
	// Validation records

	/*
		DefineValidationRecord record the encrypted validation sentence of a user

			@param ctx context.Context - execution context
			@param ownerID string - the user
			@param validationString models.EncryptedField - encrypted validation sentence
			@returns the validation record
	*/
	DefineValidationRecord(
		ctx context.Context, ownerID string, validationString models.EncryptedField,
	) (models.ValidationRecord, error)

	/*
		GetValidationRecord fetch the validation record of a user

			@param ctx context.Context - execution context
			@param ownerID string - the user
			@returns the validation record
	*/
	GetValidationRecord(ctx context.Context, ownerID string) (models.ValidationRecord, error)

	// ------------------------------------------------------------------------------------
	// Lockout records

	/*
		GetLockoutRecord fetch the lockout record of a user

		If the user has no record yet, a cleared one is created.

			@param ctx context.Context - execution context
			@param ownerID string - the user
			@returns the lockout record
	*/
	GetLockoutRecord(ctx context.Context, ownerID string) (models.LockoutRecord, error)

	/*
		UpdateLockoutRecord persist the failure counter and lockout timestamp of a user

			@param ctx context.Context - execution context
			@param ownerID string - the user
			@param failedAttempts uint - failure counter
			@param lockoutUntil *time.Time - lockout expiry, nil to clear
			@returns the updated lockout record
	*/
	UpdateLockoutRecord(
		ctx context.Context, ownerID string, failedAttempts uint, lockoutUntil *time.Time,
	) (models.LockoutRecord, error)

	// ------------------------------------------------------------------------------------
	// Cards

	/*
		DefineNewCard record a new card

			@param ctx context.Context - execution context
			@param card models.Card - the card. A new ID is assigned if not set.
			@returns card entry
	*/
	DefineNewCard(ctx context.Context, card models.Card) (models.Card, error)

	/*
		GetCard fetch a card by ID

			@param ctx context.Context - execution context
			@param ownerID string - the owning user
			@param cardID string - card ID
			@returns card entry
	*/
	GetCard(ctx context.Context, ownerID string, cardID string) (models.Card, error)

	/*
		ListCards list the cards of one user

			@param ctx context.Context - execution context
			@param filters CardQueryFilter - entry listing filter
			@return list of cards
	*/
	ListCards(ctx context.Context, filters CardQueryFilter) ([]models.Card, error)

	/*
		UpdateCard replace the fields of an existing card

			@param ctx context.Context - execution context
			@param card models.Card - the new card content
			@returns card entry
	*/
	UpdateCard(ctx context.Context, card models.Card) (models.Card, error)

	/*
		DeleteCard delete a card

			@param ctx context.Context - execution context
			@param ownerID string - the owning user
			@param cardID string - card ID
	*/
	DeleteCard(ctx context.Context, ownerID string, cardID string) error
}

// databaseImpl implements Database
type databaseImpl struct {
	goutils.Component
	db        *gorm.DB
	validator *validator.Validate
}

// newDatabase define a new database client
func newDatabase(_ context.Context, sqlClient *gorm.DB) (Database, error) {
	logTags := log.Fields{"package": "cardvault", "module": "db", "component": "db-client"}

	instance := &databaseImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db:        sqlClient,
		validator: validator.New(),
	}

	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	return instance, nil
}

// notFoundAware convert GORM not found errors into ErrRecordNotFound
func notFoundAware(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	return err
}
