package models

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// StoreDriverENUMType record store driver ENUM value type
type StoreDriverENUMType string

const (
	// StoreDriverSqlite file backed sqlite store
	StoreDriverSqlite StoreDriverENUMType = "sqlite"
	// StoreDriverPostgres postgres store
	StoreDriverPostgres StoreDriverENUMType = "postgres"
)

var (
	cardNumberRegex = regexp.MustCompile(`^[0-9]{13,19}$`)
	cardExpiryRegex = regexp.MustCompile(`^(0[1-9]|1[0-2])/[0-9]{2}$`)
)

/*
RegisterWithValidator register with the validator this custom validation support

	@param v *validator.Validate - the validator to register against
	@return whether successful
*/
func RegisterWithValidator(v *validator.Validate) error {
	if err := v.RegisterValidation(
		"encrypted_field", validateEncryptedField,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"codec_scheme", validateCodecScheme,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"audit_event_type", validateAuditEventType,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"store_driver", validateStoreDriver,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"card_number", validateCardNumber,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"card_expiry", validateCardExpiry,
	); err != nil {
		return err
	}

	return nil
}

// NormalizeCardNumber strip the spaces and dashes from a card number
func NormalizeCardNumber(number string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(number)
}

func isKnownScheme(scheme EncryptionSchemeENUMType) bool {
	switch scheme {
	case EncryptionSchemeCBC:
		fallthrough
	case EncryptionSchemeAEAD:
		return true
	}
	return false
}

func validateEncryptedField(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	field := EncryptedField(fl.Field().String())
	if !isKnownScheme(field.Scheme()) {
		return false
	}
	return len(field.Parts()) == EncryptedFieldPartCount
}

func validateCodecScheme(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return isKnownScheme(EncryptionSchemeENUMType(fl.Field().String()))
}

func validateStoreDriver(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch StoreDriverENUMType(fl.Field().String()) {
	case StoreDriverSqlite:
		fallthrough
	case StoreDriverPostgres:
		return true
	}
	return false
}

func validateAuditEventType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch AuditEventTypeENUMType(fl.Field().String()) {
	case AuditEventTypeEnrolled:
		fallthrough
	case AuditEventTypeUnlockSucceeded:
		fallthrough
	case AuditEventTypeUnlockFailed:
		fallthrough
	case AuditEventTypeAccountLocked:
		fallthrough
	case AuditEventTypeAddCard:
		fallthrough
	case AuditEventTypeUpdateCard:
		fallthrough
	case AuditEventTypeDeleteCard:
		return true
	}
	return false
}

func validateCardNumber(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return cardNumberRegex.MatchString(NormalizeCardNumber(fl.Field().String()))
}

func validateCardExpiry(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return cardExpiryRegex.MatchString(fl.Field().String())
}
