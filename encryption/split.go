package encryption

import (
	"fmt"
	"strings"

	"github.com/alwitt/cardvault/models"
)

// CardNumberParts a card number split for independent storage
type CardNumberParts struct {
	// Prefix every digit but the last 4
	Prefix string
	// Last4 the last 4 digits
	Last4 string
}

// EncryptedSplit the encrypted card number parts
type EncryptedSplit struct {
	Prefix models.EncryptedField
	Last4  models.EncryptedField
}

// minSplitDigits a split must leave a non-empty prefix
const minSplitDigits = 5

// maskRune display placeholder for a hidden digit
const maskRune = "•"

/*
SplitCardNumber split a card number into its prefix and last 4 digits

Spaces and dashes are stripped first.

	@param cardNumber string - the card number
	@returns the split parts
*/
func SplitCardNumber(cardNumber string) (CardNumberParts, error) {
	normalized := models.NormalizeCardNumber(cardNumber)
	if len(normalized) < minSplitDigits {
		return CardNumberParts{}, fmt.Errorf(
			"card number needs at least %d digits, found %d", minSplitDigits, len(normalized),
		)
	}
	return CardNumberParts{
		Prefix: normalized[:len(normalized)-4],
		Last4:  normalized[len(normalized)-4:],
	}, nil
}

// Recombine concatenate the prefix and last 4 back into the full card number
func Recombine(prefix string, last4 string) string {
	return prefix + last4
}

// MaskCardNumber mask every digit but the last 4 for display
func MaskCardNumber(last4 string, length int) string {
	if length < len(last4) {
		length = len(last4)
	}
	if len(last4) < 4 {
		return strings.Repeat(maskRune, 4)
	}
	return strings.Repeat(maskRune, length-len(last4)) + last4
}

// FormatCardNumber group the digits of a card number by 4 for display
func FormatCardNumber(cardNumber string) string {
	normalized := models.NormalizeCardNumber(cardNumber)
	if normalized == "" {
		return strings.TrimSpace(strings.Repeat(strings.Repeat(maskRune, 4)+" ", 4))
	}
	groups := []string{}
	for start := 0; start < len(normalized); start += 4 {
		end := start + 4
		if end > len(normalized) {
			end = len(normalized)
		}
		groups = append(groups, normalized[start:end])
	}
	return strings.Join(groups, " ")
}
