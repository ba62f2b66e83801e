// Package encryption - passphrase based field encryption codec
package encryption

import (
	"context"
	"fmt"
	"io"

	cgoCrypto "github.com/alwitt/cgoutils/crypto"
	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/cardvault/secret"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

/*
Codec the wallet's field codec. It is solely responsible for turning a plain text value
and a passphrase into an EncryptedField, and back.

The codec keeps no key material between calls: every field carries its own salt, and
the working key is derived from the passphrase on each call.
*/
type Codec interface {
	/*
		Scheme the scheme new fields are encrypted with

			@returns the codec scheme
	*/
	Scheme() models.EncryptionSchemeENUMType

	/*
		Encrypt encrypt one plain text value

		An empty plain text produces a valid cipher text which decrypts back to empty.

			@param ctx context.Context - execution context
			@param plainText string - the value to encrypt
			@param passphrase string - the user passphrase
			@returns the encrypted field
	*/
	Encrypt(ctx context.Context, plainText string, passphrase string) (models.EncryptedField, error)

	/*
		Decrypt decrypt one field

		For fields of scheme "v2", a wrong passphrase is not reported as an error: the
		result is usually empty, and occasionally a non-empty garbage string. For fields of
		scheme "v3", a wrong passphrase returns models.ErrDecryptionFailed. A field which can
		not be parsed returns models.ErrMalformedField.

			@param ctx context.Context - execution context
			@param field models.EncryptedField - the field to decrypt
			@param passphrase string - the user passphrase
			@returns the plain text
	*/
	Decrypt(ctx context.Context, field models.EncryptedField, passphrase string) (string, error)

	/*
		DecryptSecure decrypt one field directly into a registered secret buffer

			@param ctx context.Context - execution context
			@param field models.EncryptedField - the field to decrypt
			@param passphrase string - the user passphrase
			@returns the secret buffer holding the plain text
	*/
	DecryptSecure(
		ctx context.Context, field models.EncryptedField, passphrase string,
	) (*secret.Buffer, error)

	/*
		EncryptSplit split a card number into prefix and last 4 digits, and encrypt each
		part as an independent field

			@param ctx context.Context - execution context
			@param cardNumber string - the card number
			@param passphrase string - the user passphrase
			@returns the encrypted parts
	*/
	EncryptSplit(ctx context.Context, cardNumber string, passphrase string) (EncryptedSplit, error)
}

// codec implements Codec
type codec struct {
	goutils.Component

	crypto  cgoCrypto.Engine
	secrets *secret.Registry

	scheme           models.EncryptionSchemeENUMType
	pbkdf2Iterations int
	argon2           Argon2Params
}

// DefaultPBKDF2Iterations default PBKDF2 iteration count of scheme "v2"
const DefaultPBKDF2Iterations = 100000

// CodecParams codec init parameters
type CodecParams struct {
	// Scheme the scheme used to encrypt new fields
	Scheme models.EncryptionSchemeENUMType `validate:"required,codec_scheme"`
	// PBKDF2Iterations PBKDF2 iteration count of scheme "v2". Changing it makes existing
	// "v2" fields unreadable.
	PBKDF2Iterations int `validate:"gte=1000"`
	// Argon2 Argon2id parameters of scheme "v3"
	Argon2 Argon2Params
	// Secrets registry for the secret buffers produced by DecryptSecure
	Secrets *secret.Registry `validate:"-"`
}

// DefaultCodecParams the default codec parameters
func DefaultCodecParams(secrets *secret.Registry) CodecParams {
	return CodecParams{
		Scheme:           models.EncryptionSchemeCBC,
		PBKDF2Iterations: DefaultPBKDF2Iterations,
		Argon2:           DefaultArgon2Params(),
		Secrets:          secrets,
	}
}

/*
NewCodec define new field codec

	@param params CodecParams - codec parameters
	@returns codec instance
*/
func NewCodec(params CodecParams) (Codec, error) {
	validate := validator.New()
	if err := models.RegisterWithValidator(validate); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}
	if err := validate.Struct(&params); err != nil {
		return nil, fmt.Errorf("invalid codec init parameters [%w]", err)
	}
	if params.Secrets == nil {
		return nil, fmt.Errorf("codec requires a secret registry")
	}

	// Prepare core crypto engine
	engine, err := cgoCrypto.NewEngine(log.Fields{
		"package": "cgoutils", "module": "crypto", "component": "crypto-engine",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare core cryptography [%w]", err)
	}

	logTags := log.Fields{
		"module": "encryption", "component": "codec", "scheme": string(params.Scheme),
	}

	return &codec{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		crypto:           engine,
		secrets:          params.Secrets,
		scheme:           params.Scheme,
		pbkdf2Iterations: params.PBKDF2Iterations,
		argon2:           params.Argon2,
	}, nil
}

func (c *codec) Scheme() models.EncryptionSchemeENUMType {
	return c.scheme
}

// randomBytes read n bytes from the engine RNG
func (c *codec) randomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.crypto.GetRNGReader(), buf); err != nil {
		return nil, fmt.Errorf("failed to read %d bytes from RNG [%w]", n, err)
	}
	return buf, nil
}

func (c *codec) Encrypt(
	ctx context.Context, plainText string, passphrase string,
) (models.EncryptedField, error) {
	switch c.scheme {
	case models.EncryptionSchemeAEAD:
		return c.encryptAEAD(ctx, []byte(plainText), []byte(passphrase))
	default:
		return c.encryptCBC([]byte(plainText), []byte(passphrase))
	}
}

// decryptBytes decrypt a field with the scheme named by its prefix
func (c *codec) decryptBytes(
	ctx context.Context, field models.EncryptedField, passphrase string,
) ([]byte, error) {
	parsed, err := parseField(field)
	if err != nil {
		return nil, err
	}
	switch parsed.scheme {
	case models.EncryptionSchemeAEAD:
		return c.decryptAEAD(ctx, parsed, []byte(passphrase))
	default:
		return c.decryptCBC(parsed, []byte(passphrase))
	}
}

func (c *codec) Decrypt(
	ctx context.Context, field models.EncryptedField, passphrase string,
) (string, error) {
	plainText, err := c.decryptBytes(ctx, field, passphrase)
	if err != nil {
		return "", err
	}
	return string(plainText), nil
}

func (c *codec) DecryptSecure(
	ctx context.Context, field models.EncryptedField, passphrase string,
) (*secret.Buffer, error) {
	plainText, err := c.decryptBytes(ctx, field, passphrase)
	if err != nil {
		return nil, err
	}
	return c.secrets.Create(plainText), nil
}

func (c *codec) EncryptSplit(
	ctx context.Context, cardNumber string, passphrase string,
) (EncryptedSplit, error) {
	parts, err := SplitCardNumber(cardNumber)
	if err != nil {
		return EncryptedSplit{}, err
	}
	prefix, err := c.Encrypt(ctx, parts.Prefix, passphrase)
	if err != nil {
		return EncryptedSplit{}, fmt.Errorf("failed to encrypt card number prefix [%w]", err)
	}
	last4, err := c.Encrypt(ctx, parts.Last4, passphrase)
	if err != nil {
		return EncryptedSplit{}, fmt.Errorf("failed to encrypt card number last 4 [%w]", err)
	}
	return EncryptedSplit{Prefix: prefix, Last4: last4}, nil
}
