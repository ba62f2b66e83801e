package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

// AuditEventTypeENUMType wallet audit event type ENUM value type
type AuditEventTypeENUMType string

const (
	// AuditEventTypeEnrolled user enrolled a validation sentence
	AuditEventTypeEnrolled AuditEventTypeENUMType = "ENROLLED"

	// AuditEventTypeUnlockSucceeded unlock attempt succeeded
	AuditEventTypeUnlockSucceeded AuditEventTypeENUMType = "UNLOCK_SUCCEEDED"

	// AuditEventTypeUnlockFailed unlock attempt failed
	AuditEventTypeUnlockFailed AuditEventTypeENUMType = "UNLOCK_FAILED"

	// AuditEventTypeAccountLocked user reached the failure threshold
	AuditEventTypeAccountLocked AuditEventTypeENUMType = "ACCOUNT_LOCKED"

	// AuditEventTypeAddCard new card is added
	AuditEventTypeAddCard AuditEventTypeENUMType = "ADD_CARD"

	// AuditEventTypeUpdateCard card is updated
	AuditEventTypeUpdateCard AuditEventTypeENUMType = "UPDATE_CARD"

	// AuditEventTypeDeleteCard card is deleted
	AuditEventTypeDeleteCard AuditEventTypeENUMType = "DELETE_CARD"
)

// AuditEvent recording of security relevant events of one user
type AuditEvent struct {
	// ID audit entry ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`
	// OwnerID the user the event relates to
	OwnerID string `json:"owner_id" gorm:"column:owner_id;not null;index" validate:"required"`
	// EventType audit event type
	EventType AuditEventTypeENUMType `json:"type" gorm:"column:type;not null" validate:"required,audit_event_type"`
	// Metadata a metadata relating to the event
	Metadata datatypes.JSON `json:"metadata,omitempty" gorm:"column:metadata;default:null"`
	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// ParseMetadata parse the metadata based on the event type
func (a AuditEvent) ParseMetadata(validator *validator.Validate) (interface{}, error) {
	switch a.EventType {
	// Authentication related audit events
	case AuditEventTypeUnlockFailed:
		fallthrough
	case AuditEventTypeAccountLocked:
		var parsed AuditEventLockoutRelated
		if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("audit event '%s' metadata parse failed [%w]", a.EventType, err)
		}
		return parsed, validator.Struct(&parsed)

	// Card related audit events
	case AuditEventTypeAddCard:
		fallthrough
	case AuditEventTypeUpdateCard:
		fallthrough
	case AuditEventTypeDeleteCard:
		var parsed AuditEventCardRelated
		if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("audit event '%s' metadata parse failed [%w]", a.EventType, err)
		}
		return parsed, validator.Struct(&parsed)
	}
	return nil, nil
}

// AuditEventLockoutRelated audit event metadata related to failed unlocks
type AuditEventLockoutRelated struct {
	// FailedAttempts failure count after the event
	FailedAttempts uint `json:"failed_attempts" validate:"required"`
	// LockoutUntil set when the event locked the user
	LockoutUntil *time.Time `json:"lockout_until,omitempty"`
}

// AuditEventCardRelated audit event metadata related to a card
type AuditEventCardRelated struct {
	// CardID the card ID
	CardID string `json:"card_id" validate:"required,uuid_rfc4122"`
}
