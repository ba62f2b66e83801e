// Package auth - passphrase authentication and brute force lockout
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alwitt/cardvault/db"
	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// LockoutStatus lockout state of one user
type LockoutStatus struct {
	// Locked whether the user is currently locked out
	Locked bool
	// FailedAttempts consecutive failed attempts
	FailedAttempts uint
	// LockoutUntil lockout expiry, if one was set
	LockoutUntil *time.Time
	// Remaining remaining lockout time, 0 when not locked
	Remaining time.Duration
	// MinutesLeft remaining lockout time rounded up to whole minutes
	MinutesLeft int
}

// AsError the status as *models.AccountLockedError, or nil if not locked
func (s LockoutStatus) AsError() error {
	if !s.Locked || s.LockoutUntil == nil {
		return nil
	}
	return &models.AccountLockedError{Until: *s.LockoutUntil, MinutesLeft: s.MinutesLeft}
}

/*
LockoutLedger persisted per user failure counter and lockout timestamp.

A record store failure is reported wrapping models.ErrStoreUnavailable.
*/
type LockoutLedger interface {
	/*
		Check read the lockout state of a user

			@param ctx context.Context - execution context
			@param userID string - the user
			@param activeDBClient db.Database - existing database transaction
			@returns the lockout status
	*/
	Check(ctx context.Context, userID string, activeDBClient db.Database) (LockoutStatus, error)

	/*
		RecordFailure increment the failure counter, setting the lockout once the counter
		reaches the threshold

		Concurrent calls for the same user are serialized.

			@param ctx context.Context - execution context
			@param userID string - the user
			@param activeDBClient db.Database - existing database transaction
			@returns the lockout status after the update
	*/
	RecordFailure(
		ctx context.Context, userID string, activeDBClient db.Database,
	) (LockoutStatus, error)

	/*
		RecordSuccess clear the failure counter and the lockout

			@param ctx context.Context - execution context
			@param userID string - the user
			@param activeDBClient db.Database - existing database transaction
	*/
	RecordSuccess(ctx context.Context, userID string, activeDBClient db.Database) error
}

// LockoutParams lockout ledger parameters
type LockoutParams struct {
	// MaxAttempts failures before lockout
	MaxAttempts uint `validate:"gte=1"`
	// Duration lockout duration
	Duration time.Duration `validate:"gte=1ms"`
}

// DefaultLockoutParams the default lockout policy: 3 failures lock for 15 minutes
func DefaultLockoutParams() LockoutParams {
	return LockoutParams{MaxAttempts: 3, Duration: time.Minute * 15}
}

// lockoutLedger implements LockoutLedger
type lockoutLedger struct {
	goutils.Component
	persistence db.Client
	params      LockoutParams
	userLocks   *userMutex
	nowFn       func() time.Time
}

/*
NewLockoutLedger define new lockout ledger

	@param persistence db.Client - persistence layer client
	@param params LockoutParams - lockout policy
	@param nowFn func() time.Time - clock, nil for time.Now
	@returns ledger instance
*/
func NewLockoutLedger(
	persistence db.Client, params LockoutParams, nowFn func() time.Time,
) (LockoutLedger, error) {
	if err := validator.New().Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid lockout parameters [%w]", err)
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	logTags := log.Fields{"module": "auth", "component": "lockout-ledger"}
	return &lockoutLedger{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: persistence,
		params:      params,
		userLocks:   newUserMutex(),
		nowFn:       nowFn,
	}, nil
}

// statusOf evaluate a lockout record at a point in time
func statusOf(record models.LockoutRecord, now time.Time) LockoutStatus {
	status := LockoutStatus{
		FailedAttempts: record.FailedAttempts, LockoutUntil: record.LockoutUntil,
	}
	if record.LockedAt(now) {
		status.Locked = true
		status.Remaining = record.LockoutUntil.Sub(now)
		status.MinutesLeft = int((status.Remaining + time.Minute - 1) / time.Minute)
	}
	return status
}

// storeError mark a persistence failure as recoverable
func storeError(msg string, err error) error {
	if errors.Is(err, models.ErrStoreUnavailable) {
		return fmt.Errorf("%s [%w]", msg, err)
	}
	return fmt.Errorf("%s: %w [%w]", msg, models.ErrStoreUnavailable, err)
}

func (l *lockoutLedger) Check(
	ctx context.Context, userID string, activeDBClient db.Database,
) (LockoutStatus, error) {
	var record models.LockoutRecord
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, l.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			record, err = dbClient.GetLockoutRecord(dbCtx, userID)
			return err
		},
	); dbErr != nil {
		return LockoutStatus{}, storeError("failed to read lockout record", dbErr)
	}
	return statusOf(record, l.nowFn()), nil
}

func (l *lockoutLedger) RecordFailure(
	ctx context.Context, userID string, activeDBClient db.Database,
) (LockoutStatus, error) {
	release := l.userLocks.Lock(userID)
	defer release()

	now := l.nowFn()
	var record models.LockoutRecord
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, l.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			current, err := dbClient.GetLockoutRecord(dbCtx, userID)
			if err != nil {
				return err
			}
			attempts := current.FailedAttempts + 1
			var until *time.Time
			if attempts >= l.params.MaxAttempts {
				lockoutEnd := now.Add(l.params.Duration)
				until = &lockoutEnd
			}
			record, err = dbClient.UpdateLockoutRecord(dbCtx, userID, attempts, until)
			if err != nil {
				return err
			}

			eventType := models.AuditEventTypeUnlockFailed
			if until != nil {
				eventType = models.AuditEventTypeAccountLocked
			}
			_, err = dbClient.RecordAuditEvent(
				dbCtx,
				userID,
				eventType,
				models.AuditEventLockoutRelated{FailedAttempts: attempts, LockoutUntil: until},
			)
			return err
		},
	); dbErr != nil {
		return LockoutStatus{}, storeError("failed to record failed attempt", dbErr)
	}

	status := statusOf(record, now)
	if status.Locked {
		logTags := l.GetLogTagsForContext(ctx)
		log.WithFields(logTags).
			WithField("user", userID).
			WithField("attempts", status.FailedAttempts).
			Warn("Account locked")
	}
	return status, nil
}

func (l *lockoutLedger) RecordSuccess(
	ctx context.Context, userID string, activeDBClient db.Database,
) error {
	release := l.userLocks.Lock(userID)
	defer release()

	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, l.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			_, err := dbClient.UpdateLockoutRecord(dbCtx, userID, 0, nil)
			return err
		},
	); dbErr != nil {
		return storeError("failed to clear lockout record", dbErr)
	}
	return nil
}
