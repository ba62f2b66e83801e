package encryption

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/alwitt/cardvault/models"
)

// parsedField the decoded components of an EncryptedField
type parsedField struct {
	scheme     models.EncryptionSchemeENUMType
	salt       []byte
	iv         []byte
	cipherText []byte
}

// formatField serialize the components into an EncryptedField
func formatField(
	scheme models.EncryptionSchemeENUMType, salt []byte, iv []byte, cipherText []byte,
) models.EncryptedField {
	return models.EncryptedField(strings.Join([]string{
		string(scheme),
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(cipherText),
	}, ":"))
}

// parseField decode an EncryptedField. Any parse failure is models.ErrMalformedField.
func parseField(field models.EncryptedField) (parsedField, error) {
	parts := field.Parts()
	if len(parts) != models.EncryptedFieldPartCount {
		return parsedField{}, fmt.Errorf(
			"expected %d parts, found %d [%w]",
			models.EncryptedFieldPartCount,
			len(parts),
			models.ErrMalformedField,
		)
	}

	result := parsedField{scheme: models.EncryptionSchemeENUMType(parts[0])}
	switch result.scheme {
	case models.EncryptionSchemeCBC, models.EncryptionSchemeAEAD:
	default:
		return parsedField{}, fmt.Errorf(
			"unknown scheme '%s' [%w]", result.scheme, models.ErrMalformedField,
		)
	}

	var err error
	if result.salt, err = base64.StdEncoding.DecodeString(parts[1]); err != nil {
		return parsedField{}, fmt.Errorf("bad salt encoding [%w]", models.ErrMalformedField)
	}
	if result.iv, err = base64.StdEncoding.DecodeString(parts[2]); err != nil {
		return parsedField{}, fmt.Errorf("bad iv encoding [%w]", models.ErrMalformedField)
	}
	if result.cipherText, err = base64.StdEncoding.DecodeString(parts[3]); err != nil {
		return parsedField{}, fmt.Errorf("bad cipher text encoding [%w]", models.ErrMalformedField)
	}
	if len(result.salt) == 0 || len(result.iv) == 0 || len(result.cipherText) == 0 {
		return parsedField{}, fmt.Errorf("empty field component [%w]", models.ErrMalformedField)
	}

	return result, nil
}
