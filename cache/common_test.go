package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/cardvault/encryption"
	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/cardvault/secret"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
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

func setupTestCodec(t *testing.T, secrets *secret.Registry) encryption.Codec {
	assert := assert.New(t)
	uut, err := encryption.NewCodec(encryption.CodecParams{
		Scheme:           models.EncryptionSchemeAEAD,
		PBKDF2Iterations: 1000,
		Argon2:           encryption.Argon2Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1},
		Secrets:          secrets,
	})
	assert.Nil(err)
	return uut
}

type testCardPlain struct {
	number string
	holder string
	cvv    string
	expiry string
	name   string
	bank   string
}

func makeTestCard(
	t *testing.T, codec encryption.Codec, ownerID, passphrase string, plain testCardPlain,
) models.Card {
	assert := assert.New(t)
	utCtx := context.Background()

	encrypt := func(value string) models.EncryptedField {
		field, err := codec.Encrypt(utCtx, value, passphrase)
		assert.Nil(err)
		return field
	}

	split, err := codec.EncryptSplit(utCtx, plain.number, passphrase)
	assert.Nil(err)
	return models.Card{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		CardNumberFirst: split.Prefix,
		CardNumberLast4: split.Last4,
		CardHolder:      encrypt(plain.holder),
		CVV:             encrypt(plain.cvv),
		Expiry:          encrypt(plain.expiry),
		CardName:        encrypt(plain.name),
		BankName:        encrypt(plain.bank),
		NetworkName:     encrypt("Visa"),
		UpdatedAt:       time.Now().UTC(),
	}
}
