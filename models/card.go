// Package models - wallet data models
package models

import (
	"strings"
	"time"
)

// EncryptedField opaque cipher text of one sensitive value.
//
// The value is only ever produced by the codec. Its layout is
// `<scheme>:<salt>:<iv or nonce>:<cipher text>` with all binary parts base64 encoded.
type EncryptedField string

// EncryptionSchemeENUMType codec scheme ENUM value type
type EncryptionSchemeENUMType string

const (
	// EncryptionSchemeCBC PBKDF2 + AES-256-CBC, no integrity tag
	EncryptionSchemeCBC EncryptionSchemeENUMType = "v2"
	// EncryptionSchemeAEAD Argon2id + XChaCha20-Poly1305
	EncryptionSchemeAEAD EncryptionSchemeENUMType = "v3"
)

// EncryptedFieldPartCount number of ':' separated parts in an EncryptedField
const EncryptedFieldPartCount = 4

// Scheme the scheme prefix of the field, or empty string if the field has none
func (f EncryptedField) Scheme() EncryptionSchemeENUMType {
	idx := strings.Index(string(f), ":")
	if idx <= 0 {
		return ""
	}
	return EncryptionSchemeENUMType(f[:idx])
}

// Parts split the field into its scheme, salt, iv / nonce, and cipher text components
func (f EncryptedField) Parts() []string {
	return strings.Split(string(f), ":")
}

// Card one card record owned by a user
//
// Every sensitive field is an EncryptedField at creation and at rest. Decrypted views of
// a card are separate types; plain text is never assigned back onto a Card.
type Card struct {
	// ID card ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required,uuid_rfc4122"`

	// OwnerID the owning user. The store partitions all records by this value.
	OwnerID string `json:"owner_id" gorm:"column:owner_id;not null;index" validate:"required"`

	// CardNumberFirst card number without the last 4 digits
	CardNumberFirst EncryptedField `json:"card_number_first" gorm:"column:card_number_first;not null" validate:"required,encrypted_field"`
	// CardNumberLast4 last 4 digits of the card number
	CardNumberLast4 EncryptedField `json:"card_number_last4" gorm:"column:card_number_last4;not null" validate:"required,encrypted_field"`
	// CardHolder card holder name
	CardHolder EncryptedField `json:"card_holder" gorm:"column:card_holder;not null" validate:"required,encrypted_field"`
	// CVV card verification value
	CVV EncryptedField `json:"cvv" gorm:"column:cvv;not null" validate:"required,encrypted_field"`
	// Expiry card expiry MM/YY
	Expiry EncryptedField `json:"expiry" gorm:"column:expiry;not null" validate:"required,encrypted_field"`
	// CardName user chosen card label
	CardName EncryptedField `json:"card_name" gorm:"column:card_name;not null" validate:"required,encrypted_field"`
	// BankName card issuer name
	BankName EncryptedField `json:"bank_name" gorm:"column:bank_name;not null" validate:"required,encrypted_field"`
	// NetworkName card network name
	NetworkName EncryptedField `json:"network_name" gorm:"column:network_name;not null" validate:"required,encrypted_field"`

	// Theme display theme
	Theme string `json:"theme" gorm:"column:theme"`
	// IsAmex whether the card uses the Amex layout
	IsAmex bool `json:"is_amex" gorm:"column:is_amex"`
	// BillGenerationDay day of month the statement is generated
	BillGenerationDay *int `json:"bill_generation_day,omitempty" gorm:"column:bill_generation_day" validate:"omitempty,min=1,max=31"`
	// BillDueDay day of month the payment is due
	BillDueDay *int `json:"bill_due_day,omitempty" gorm:"column:bill_due_day" validate:"omitempty,min=1,max=31"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// CardDetails plain text card details supplied when adding or updating a card
type CardDetails struct {
	CardNumber  string `validate:"required,card_number"`
	CardHolder  string `validate:"required"`
	CVV         string `validate:"required,numeric,min=3,max=4"`
	Expiry      string `validate:"required,card_expiry"`
	CardName    string
	BankName    string
	NetworkName string

	Theme             string
	IsAmex            bool
	BillGenerationDay *int `validate:"omitempty,min=1,max=31"`
	BillDueDay        *int `validate:"omitempty,min=1,max=31"`
}
