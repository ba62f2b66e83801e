package encryption

import (
	"context"
	"fmt"

	cgoCrypto "github.com/alwitt/cgoutils/crypto"
	"github.com/alwitt/cardvault/models"
	"github.com/apex/log"
	"github.com/awnumar/memguard"
)

// setupAEAD prepare AEAD
func (c *codec) setupAEAD(
	ctx context.Context, key []byte, nonce []byte,
) (cgoCrypto.AEAD, error) {
	aead, err := c.crypto.GetAEAD(ctx, cgoCrypto.AEADTypeXChaCha20Poly1305)
	if err != nil {
		return nil, fmt.Errorf("unable to define AEAD client [%w]", err)
	}

	// Set the AEAD encryption key
	keyBuffer, err := c.crypto.AllocateSecureCSlice(aead.ExpectedKeyLen())
	if err != nil {
		return nil, fmt.Errorf("failed to init AEAD key buffer [%w]", err)
	}
	keyBufferCore, err := keyBuffer.GetSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to access AEAD key buffer core [%w]", err)
	}
	if copied := copy(keyBufferCore, key); copied != aead.ExpectedKeyLen() {
		return nil, fmt.Errorf(
			"failed to fill AEAD key buffer core %d =/= %d", copied, aead.ExpectedKeyLen(),
		)
	}
	if err := aead.SetKey(keyBuffer); err != nil {
		return nil, fmt.Errorf("failed to install AEAD key [%w]", err)
	}

	// Set the AEAD nonce
	if len(nonce) > 0 {
		if len(nonce) != aead.ExpectedNonceLen() {
			return nil, fmt.Errorf(
				"nonce length %d =/= %d [%w]",
				len(nonce),
				aead.ExpectedNonceLen(),
				models.ErrMalformedField,
			)
		}
		nonceBuffer, err := c.crypto.AllocateSecureCSlice(aead.ExpectedNonceLen())
		if err != nil {
			return nil, fmt.Errorf("failed to init AEAD nonce buffer [%w]", err)
		}
		nonceBufferCore, err := nonceBuffer.GetSlice()
		if err != nil {
			return nil, fmt.Errorf("failed to access AEAD nonce buffer core [%w]", err)
		}
		if copied := copy(nonceBufferCore, nonce); copied != aead.ExpectedNonceLen() {
			return nil, fmt.Errorf(
				"failed to fill AEAD nonce buffer core %d =/= %d", copied, aead.ExpectedNonceLen(),
			)
		}
		if err := aead.SetNonce(nonceBuffer); err != nil {
			return nil, fmt.Errorf("failed to install AEAD nonce [%w]", err)
		}
	} else {
		// Generate random nonce
		nonceBuffer, err := c.crypto.GetRandomBuf(ctx, aead.ExpectedNonceLen())
		if err != nil {
			return nil, fmt.Errorf("failed to init AEAD nonce [%w]", err)
		}
		if err := aead.SetNonce(nonceBuffer); err != nil {
			return nil, fmt.Errorf("failed to install AEAD nonce [%w]", err)
		}
	}

	return aead, nil
}

// aeadKeyLen expected key length of the AEAD
func (c *codec) aeadKeyLen(ctx context.Context) (int, error) {
	aead, err := c.crypto.GetAEAD(ctx, cgoCrypto.AEADTypeXChaCha20Poly1305)
	if err != nil {
		return 0, fmt.Errorf("unable to define AEAD client [%w]", err)
	}
	return aead.ExpectedKeyLen(), nil
}

// encryptAEAD scheme "v3" encryption
func (c *codec) encryptAEAD(
	ctx context.Context, plainText []byte, passphrase []byte,
) (models.EncryptedField, error) {
	salt, err := c.randomBytes(fieldSaltLen)
	if err != nil {
		return "", err
	}
	keyLen, err := c.aeadKeyLen(ctx)
	if err != nil {
		return "", err
	}
	key := deriveAEADKey(passphrase, salt, c.argon2, keyLen)
	defer memguard.WipeBytes(key)

	aead, err := c.setupAEAD(ctx, key, nil)
	if err != nil {
		return "", fmt.Errorf("failed to setup AEAD client [%w]", err)
	}

	// Grab the nonce
	nonce, err := aead.Nonce().GetSlice()
	if err != nil {
		return "", fmt.Errorf("failed to get nonce [%w]", err)
	}
	nonceCopy := make([]byte, aead.ExpectedNonceLen())
	if copied := copy(nonceCopy, nonce); copied != aead.ExpectedNonceLen() {
		return "", fmt.Errorf("failed to copy nonce %d =/= %d", copied, aead.ExpectedNonceLen())
	}

	// Encrypt the plain text
	cipherText := make([]byte, aead.ExpectedCipherLen(int64(len(plainText))))
	if err := aead.Seal(ctx, 0, plainText, nil, cipherText); err != nil {
		return "", fmt.Errorf("failed to encrypt plain text [%w]", err)
	}

	return formatField(models.EncryptionSchemeAEAD, salt, nonceCopy, cipherText), nil
}

// decryptAEAD scheme "v3" decryption
func (c *codec) decryptAEAD(
	ctx context.Context, field parsedField, passphrase []byte,
) ([]byte, error) {
	keyLen, err := c.aeadKeyLen(ctx)
	if err != nil {
		return nil, err
	}
	key := deriveAEADKey(passphrase, field.salt, c.argon2, keyLen)
	defer memguard.WipeBytes(key)

	aead, err := c.setupAEAD(ctx, key, field.iv)
	if err != nil {
		return nil, fmt.Errorf("failed to setup AEAD client [%w]", err)
	}

	if len(field.cipherText) < int(aead.ExpectedCipherLen(0)) {
		return nil, fmt.Errorf("v3 cipher text too short [%w]", models.ErrMalformedField)
	}

	plainText := make([]byte, aead.ExpectedPlainTextLen(int64(len(field.cipherText))))
	if err := aead.Unseal(ctx, 0, field.cipherText, nil, plainText); err != nil {
		logTags := c.GetLogTagsForContext(ctx)
		log.WithError(err).WithFields(logTags).Debug("AEAD unseal rejected cipher text")
		return nil, fmt.Errorf("failed to decrypt cipher text [%w]", models.ErrDecryptionFailed)
	}

	return plainText, nil
}
