package db_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alwitt/cardvault/db"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

func TestDBLockoutRecordInit(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/cardvault_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)

	assert.Nil(uut.RunSQLInTransaction(utCtx, db.DefineTables))

	testUser := uuid.NewString()

	// Read lockout record
	assert.Nil(
		uut.UseDatabaseInTransaction(
			utCtx, func(ctx context.Context, dbClient db.Database) error {
				record, err := dbClient.GetLockoutRecord(ctx, testUser)
				assert.Nil(err)
				assert.Equal(testUser, record.OwnerID)
				assert.Equal(uint(0), record.FailedAttempts)
				assert.Nil(record.LockoutUntil)
				return err
			},
		),
	)

	// Read again
	assert.Nil(
		uut.UseDatabaseInTransaction(
			utCtx, func(ctx context.Context, dbClient db.Database) error {
				record, err := dbClient.GetLockoutRecord(ctx, testUser)
				assert.Nil(err)
				assert.Equal(testUser, record.OwnerID)
				assert.Equal(uint(0), record.FailedAttempts)
				return err
			},
		),
	)
}

// TestDBLockoutRecordUpdate verifies the failure counter and lockout timestamp are
// persisted, cleared, and kept separate per user.
func TestDBLockoutRecordUpdate(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/cardvault_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)

	assert.Nil(uut.RunSQLInTransaction(utCtx, db.DefineTables))

	testUser1 := uuid.NewString()
	testUser2 := uuid.NewString()
	lockedUntil := time.Now().UTC().Add(time.Minute * 15).Truncate(time.Second)

	// Case 0: lock user 1
	assert.Nil(
		uut.UseDatabaseInTransaction(
			utCtx, func(ctx context.Context, dbClient db.Database) error {
				record, err := dbClient.UpdateLockoutRecord(ctx, testUser1, 3, &lockedUntil)
				assert.Nil(err)
				assert.Equal(uint(3), record.FailedAttempts)
				return err
			},
		),
	)
	assert.Nil(
		uut.UseDatabaseInTransaction(
			utCtx, func(ctx context.Context, dbClient db.Database) error {
				record, err := dbClient.GetLockoutRecord(ctx, testUser1)
				assert.Nil(err)
				assert.Equal(uint(3), record.FailedAttempts)
				assert.NotNil(record.LockoutUntil)
				if record.LockoutUntil != nil {
					assert.True(lockedUntil.Equal(*record.LockoutUntil))
				}
				assert.True(record.LockedAt(time.Now()))
				assert.False(record.LockedAt(lockedUntil.Add(time.Second)))
				return err
			},
		),
	)

	// Case 1: user 2 is unaffected
	assert.Nil(
		uut.UseDatabaseInTransaction(
			utCtx, func(ctx context.Context, dbClient db.Database) error {
				record, err := dbClient.GetLockoutRecord(ctx, testUser2)
				assert.Nil(err)
				assert.Equal(uint(0), record.FailedAttempts)
				assert.Nil(record.LockoutUntil)
				return err
			},
		),
	)

	// Case 2: clear user 1
	assert.Nil(
		uut.UseDatabaseInTransaction(
			utCtx, func(ctx context.Context, dbClient db.Database) error {
				_, err := dbClient.UpdateLockoutRecord(ctx, testUser1, 0, nil)
				return err
			},
		),
	)
	assert.Nil(
		uut.UseDatabaseInTransaction(
			utCtx, func(ctx context.Context, dbClient db.Database) error {
				record, err := dbClient.GetLockoutRecord(ctx, testUser1)
				assert.Nil(err)
				assert.Equal(uint(0), record.FailedAttempts)
				assert.Nil(record.LockoutUntil)
				return err
			},
		),
	)
}
