package encryption_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/alwitt/cardvault/encryption"
	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/cardvault/secret"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func testCodecParams(
	scheme models.EncryptionSchemeENUMType, secrets *secret.Registry,
) encryption.CodecParams {
	return encryption.CodecParams{
		Scheme:           scheme,
		PBKDF2Iterations: 1000,
		Argon2:           encryption.Argon2Params{Time: 1, MemoryKiB: 8 * 1024, Threads: 1},
		Secrets:          secrets,
	}
}

func TestCodecInit(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	secrets := secret.NewRegistry(0)

	// Case 0: unknown scheme
	{
		_, err := encryption.NewCodec(testCodecParams("v1", secrets))
		assert.Error(err)
	}

	// Case 1: too few iterations
	{
		params := testCodecParams(models.EncryptionSchemeCBC, secrets)
		params.PBKDF2Iterations = 10
		_, err := encryption.NewCodec(params)
		assert.Error(err)
	}

	// Case 2: no secret registry
	{
		_, err := encryption.NewCodec(testCodecParams(models.EncryptionSchemeCBC, nil))
		assert.Error(err)
	}

	// Case 3: defaults
	{
		uut, err := encryption.NewCodec(encryption.DefaultCodecParams(secrets))
		assert.Nil(err)
		assert.Equal(models.EncryptionSchemeCBC, uut.Scheme())
	}
}

func TestCodecRoundTrip(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	secrets := secret.NewRegistry(0)

	for _, scheme := range []models.EncryptionSchemeENUMType{
		models.EncryptionSchemeCBC, models.EncryptionSchemeAEAD,
	} {
		uut, err := encryption.NewCodec(testCodecParams(scheme, secrets))
		assert.Nil(err)

		testCases := []string{
			"",
			"I had coffee today",
			"4111111111111111",
			"Ünïcödé ✓ 🙂",
			"exactly 16 bytes",
		}
		for _, plainText := range testCases {
			field, err := uut.Encrypt(utCtx, plainText, "Secr3t!Pass")
			assert.Nil(err)
			assert.Equal(scheme, field.Scheme())
			assert.Len(field.Parts(), models.EncryptedFieldPartCount)
			assert.NotContains(string(field), plainText+":")

			decrypted, err := uut.Decrypt(utCtx, field, "Secr3t!Pass")
			assert.Nil(err)
			assert.Equal(plainText, decrypted, fmt.Sprintf("%s: '%s'", scheme, plainText))
		}

		// Same input encrypts differently each time
		field1, err := uut.Encrypt(utCtx, "737", "Secr3t!Pass")
		assert.Nil(err)
		field2, err := uut.Encrypt(utCtx, "737", "Secr3t!Pass")
		assert.Nil(err)
		assert.NotEqual(field1, field2)
	}
}

func TestCodecCrossScheme(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	secrets := secret.NewRegistry(0)

	cbc, err := encryption.NewCodec(testCodecParams(models.EncryptionSchemeCBC, secrets))
	assert.Nil(err)
	aead, err := encryption.NewCodec(testCodecParams(models.EncryptionSchemeAEAD, secrets))
	assert.Nil(err)

	// Either codec reads fields of both schemes
	oldField, err := cbc.Encrypt(utCtx, "12/29", "Secr3t!Pass")
	assert.Nil(err)
	newField, err := aead.Encrypt(utCtx, "12/29", "Secr3t!Pass")
	assert.Nil(err)

	for _, uut := range []encryption.Codec{cbc, aead} {
		for _, field := range []models.EncryptedField{oldField, newField} {
			decrypted, err := uut.Decrypt(utCtx, field, "Secr3t!Pass")
			assert.Nil(err)
			assert.Equal("12/29", decrypted)
		}
	}
}

func TestCodecWrongPassphrase(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	secrets := secret.NewRegistry(0)

	// Case 0: v2 never reproduces the plain text and never errors
	{
		uut, err := encryption.NewCodec(testCodecParams(models.EncryptionSchemeCBC, secrets))
		assert.Nil(err)
		field, err := uut.Encrypt(utCtx, "I had coffee today", "Secr3t!Pass")
		assert.Nil(err)
		for _, candidate := range []string{"wrong", "Secr3t!Pas", "secr3t!pass", ""} {
			decrypted, err := uut.Decrypt(utCtx, field, candidate)
			assert.Nil(err)
			assert.NotEqual("I had coffee today", decrypted)
		}
	}

	// Case 1: v3 fails deterministically
	{
		uut, err := encryption.NewCodec(testCodecParams(models.EncryptionSchemeAEAD, secrets))
		assert.Nil(err)
		field, err := uut.Encrypt(utCtx, "I had coffee today", "Secr3t!Pass")
		assert.Nil(err)
		_, err = uut.Decrypt(utCtx, field, "wrong")
		assert.True(errors.Is(err, models.ErrDecryptionFailed))
	}
}

func TestCodecMalformedField(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	secrets := secret.NewRegistry(0)

	uut, err := encryption.NewCodec(testCodecParams(models.EncryptionSchemeCBC, secrets))
	assert.Nil(err)

	testCases := []models.EncryptedField{
		"",
		"plain text",
		"v2:only:three",
		"v1:c2FsdA==:aXY=:Y2lwaGVy",
		"v2:!!!:aXY=:Y2lwaGVy",
		"v2:c2FsdA==:aXY=:Y2lwaGVy",
		"v2:c2FsdA==::Y2lwaGVy",
		"v3:c2FsdA==:aXY=:Y2lwaGVy",
		// nonce one byte short of, and one byte over, the XChaCha20 nonce length
		"v3:c2FsdA==:bm5ubm5ubm5ubm5ubm5ubm5ubm5ubm4=:Y2NjY2NjY2NjY2NjY2NjY2NjY2NjY2NjY2NjY2NjY2M=",
		"v3:c2FsdA==:bm5ubm5ubm5ubm5ubm5ubm5ubm5ubm5ubg==:Y2NjY2NjY2NjY2NjY2NjY2NjY2NjY2NjY2NjY2NjY2M=",
	}
	for _, field := range testCases {
		_, err := uut.Decrypt(utCtx, field, "Secr3t!Pass")
		assert.True(errors.Is(err, models.ErrMalformedField), string(field))
		_, err = uut.DecryptSecure(utCtx, field, "Secr3t!Pass")
		assert.True(errors.Is(err, models.ErrMalformedField), string(field))
	}
	assert.Equal(0, secrets.Live())
}

func TestCodecDecryptSecure(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	secrets := secret.NewRegistry(0)

	uut, err := encryption.NewCodec(testCodecParams(models.EncryptionSchemeCBC, secrets))
	assert.Nil(err)

	field, err := uut.Encrypt(utCtx, "123", "Secr3t!Pass")
	assert.Nil(err)

	buf, err := uut.DecryptSecure(utCtx, field, "Secr3t!Pass")
	assert.Nil(err)
	assert.Equal(1, secrets.Live())
	value, err := buf.Read()
	assert.Nil(err)
	assert.Equal("123", value)

	assert.Equal(1, secrets.WipeAll(utCtx))
	_, err = buf.Read()
	assert.True(errors.Is(err, models.ErrUseAfterZero))
}

func TestCodecRoundTripPrintableASCII(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	secrets := secret.NewRegistry(0)
	rng := rand.New(rand.NewSource(20241018))

	randomPrintable := func(length int) string {
		value := make([]byte, length)
		for idx := range value {
			// 0x20 through 0x7e
			value[idx] = byte(0x20 + rng.Intn(0x7f-0x20))
		}
		return string(value)
	}

	for _, scheme := range []models.EncryptionSchemeENUMType{
		models.EncryptionSchemeCBC, models.EncryptionSchemeAEAD,
	} {
		uut, err := encryption.NewCodec(testCodecParams(scheme, secrets))
		assert.Nil(err)

		for itr := 0; itr < 32; itr++ {
			plainText := randomPrintable(rng.Intn(65))
			passphrase := randomPrintable(8 + rng.Intn(24))

			field, err := uut.Encrypt(utCtx, plainText, passphrase)
			assert.Nil(err)
			decrypted, err := uut.Decrypt(utCtx, field, passphrase)
			assert.Nil(err)
			assert.Equal(plainText, decrypted, fmt.Sprintf("%s: '%s'", scheme, plainText))
		}
	}
}
