package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"unicode/utf8"

	"github.com/alwitt/cardvault/models"
	"github.com/awnumar/memguard"
)

// pkcs7Pad pad to a multiple of the block size. Empty input becomes one full padding block.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for itr := len(data); itr < len(padded); itr++ {
		padded[itr] = byte(padLen)
	}
	return padded
}

// pkcs7Unpad strip the padding, reporting false if the padding is not valid
func pkcs7Unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, false
		}
	}
	return data[:len(data)-padLen], true
}

// encryptCBC scheme "v2" encryption
func (c *codec) encryptCBC(plainText []byte, passphrase []byte) (models.EncryptedField, error) {
	salt, err := c.randomBytes(fieldSaltLen)
	if err != nil {
		return "", err
	}
	iv, err := c.randomBytes(aes.BlockSize)
	if err != nil {
		return "", err
	}

	key := deriveCBCKey(passphrase, salt, c.pbkdf2Iterations)
	defer memguard.WipeBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to define AES cipher [%w]", err)
	}

	padded := pkcs7Pad(plainText, aes.BlockSize)
	defer memguard.WipeBytes(padded)
	cipherText := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(cipherText, padded)

	return formatField(models.EncryptionSchemeCBC, salt, iv, cipherText), nil
}

// decryptCBC scheme "v2" decryption
//
// A wrong passphrase surfaces as bad padding or a non UTF-8 result, both reported as an
// empty plain text without error.
func (c *codec) decryptCBC(field parsedField, passphrase []byte) ([]byte, error) {
	if len(field.iv) != aes.BlockSize || len(field.cipherText)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("bad v2 block layout [%w]", models.ErrMalformedField)
	}

	key := deriveCBCKey(passphrase, field.salt, c.pbkdf2Iterations)
	defer memguard.WipeBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to define AES cipher [%w]", err)
	}

	decrypted := make([]byte, len(field.cipherText))
	cipher.NewCBCDecrypter(block, field.iv).CryptBlocks(decrypted, field.cipherText)

	plainText, ok := pkcs7Unpad(decrypted, aes.BlockSize)
	if !ok || !utf8.Valid(plainText) {
		memguard.WipeBytes(decrypted)
		return []byte{}, nil
	}

	// Drop the padding tail
	result := make([]byte, len(plainText))
	copy(result, plainText)
	memguard.WipeBytes(decrypted)
	return result, nil
}
