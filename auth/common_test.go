package auth_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/cardvault/auth"
	"github.com/alwitt/cardvault/db"
	"github.com/alwitt/cardvault/encryption"
	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/cardvault/ratelimit"
	"github.com/alwitt/cardvault/secret"
	"github.com/alwitt/cardvault/session"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

type testClock struct {
	lock sync.Mutex
	now  time.Time
}

func (c *testClock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

func setupTestDB(t *testing.T) db.Client {
	assert := assert.New(t)
	testDB := fmt.Sprintf("/tmp/cardvault_ut_%s.db", ulid.Make().String())
	log.WithField("db", testDB).Debug("Test database")

	uut, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	assert.Nil(uut.RunSQLInTransaction(context.Background(), db.DefineTables))
	return uut
}

type authTestHarness struct {
	persistence db.Client
	secrets     *secret.Registry
	codec       encryption.Codec
	ledger      auth.LockoutLedger
	limiter     ratelimit.Limiter
	broadcaster session.Broadcaster
	uut         auth.Authenticator
}

func setupAuthTest(
	t *testing.T, params auth.AuthenticatorParams, nowFn func() time.Time,
) authTestHarness {
	return setupAuthTestWithBudgets(t, params, ratelimit.DefaultBudgets(), nowFn)
}

func setupAuthTestWithBudgets(
	t *testing.T,
	params auth.AuthenticatorParams,
	budgets map[ratelimit.ActionCategory]ratelimit.Budget,
	nowFn func() time.Time,
) authTestHarness {
	assert := assert.New(t)
	harness := authTestHarness{
		persistence: setupTestDB(t),
		secrets:     secret.NewRegistry(0),
		limiter:     ratelimit.NewLimiter(budgets, nowFn),
		broadcaster: session.NewBroadcaster(),
	}

	var err error
	harness.codec, err = encryption.NewCodec(encryption.CodecParams{
		Scheme:           models.EncryptionSchemeCBC,
		PBKDF2Iterations: 1000,
		Argon2:           encryption.DefaultArgon2Params(),
		Secrets:          harness.secrets,
	})
	assert.Nil(err)

	harness.ledger, err = auth.NewLockoutLedger(
		harness.persistence, auth.DefaultLockoutParams(), nowFn,
	)
	assert.Nil(err)

	harness.uut, err = auth.NewAuthenticator(auth.AuthenticatorDependencies{
		Persistence: harness.persistence,
		Codec:       harness.codec,
		Ledger:      harness.ledger,
		Limiter:     harness.limiter,
		Secrets:     harness.secrets,
		Broadcaster: harness.broadcaster,
	}, params, nowFn)
	assert.Nil(err)

	return harness
}
