package models

import (
	"fmt"
	"time"
)

// ValidationRecord the encrypted validation sentence of one user
//
// The record is created once at enrollment. A candidate passphrase is accepted when it
// decrypts this record to a non-empty value.
type ValidationRecord struct {
	// OwnerID the owning user
	OwnerID string `json:"owner_id" gorm:"column:owner_id;primaryKey;unique" validate:"required"`

	// ValidationString the encrypted validation sentence
	ValidationString EncryptedField `json:"validation_string" gorm:"column:validation_string;not null" validate:"required,encrypted_field"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// LockoutRecord per user failed authentication ledger
type LockoutRecord struct {
	// OwnerID the owning user
	OwnerID string `json:"owner_id" gorm:"column:owner_id;primaryKey;unique" validate:"required"`

	// FailedAttempts consecutive failed unlock attempts
	FailedAttempts uint `json:"failed_attempts" gorm:"column:failed_attempts;not null;default:0"`

	// LockoutUntil the user is locked out until this time
	LockoutUntil *time.Time `json:"lockout_until,omitempty" gorm:"column:lockout_until;default:null"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// LockedAt whether the record is locked at the given time
func (r LockoutRecord) LockedAt(now time.Time) bool {
	return r.LockoutUntil != nil && now.Before(*r.LockoutUntil)
}

// AuthStateENUMType authentication state ENUM
type AuthStateENUMType string

const (
	// AuthStateUnenrolled user has no validation record
	AuthStateUnenrolled AuthStateENUMType = "UNENROLLED"
	// AuthStateEnrolling validation record is being created
	AuthStateEnrolling AuthStateENUMType = "ENROLLING"
	// AuthStateLocked user is enrolled, no session passphrase is held
	AuthStateLocked AuthStateENUMType = "LOCKED"
	// AuthStateUnlocking an unlock attempt is in progress
	AuthStateUnlocking AuthStateENUMType = "UNLOCKING"
	// AuthStateUnlocked a session passphrase is held
	AuthStateUnlocked AuthStateENUMType = "UNLOCKED"
)

// ValidateAuthTransition verify the authentication state machine can move between states
func ValidateAuthTransition(current, next AuthStateENUMType) error {
	statesWithTransitions := map[AuthStateENUMType]map[AuthStateENUMType]bool{
		AuthStateUnenrolled: {
			AuthStateUnenrolled: true,
			AuthStateEnrolling:  true,
		},
		AuthStateEnrolling: {
			AuthStateUnenrolled: true,
			AuthStateUnlocked:   true,
		},
		AuthStateLocked: {
			AuthStateLocked:    true,
			AuthStateUnlocking: true,
		},
		AuthStateUnlocking: {
			AuthStateLocked:   true,
			AuthStateUnlocked: true,
		},
		AuthStateUnlocked: {
			AuthStateUnlocked:  true,
			AuthStateLocked:    true,
			AuthStateUnlocking: true,
		},
	}

	availableNextStates, ok := statesWithTransitions[current]
	if !ok {
		return fmt.Errorf("auth can't transition out of state '%s'", current)
	}

	if _, ok := availableNextStates[next]; !ok {
		return fmt.Errorf("auth can't transition from '%s' to '%s'", current, next)
	}

	return nil
}
