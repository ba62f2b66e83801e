// Package cache - tiered decryption caches
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/alwitt/cardvault/models"
)

// Entry one cached generation of decrypted data
type Entry[T any] struct {
	// Data the cached value
	Data T
	// CreatedAt when the generation was published
	CreatedAt time.Time
	// Fingerprint identity of the inputs the generation was computed from
	Fingerprint string
}

// ValidFor whether the entry can serve a request with this fingerprint at this time
func (e *Entry[T]) ValidFor(fingerprint string, now time.Time, ttl time.Duration) bool {
	return e != nil && e.Fingerprint == fingerprint && now.Sub(e.CreatedAt) < ttl
}

/*
Fingerprint hash of the passphrase and the identity of every card record

Any change of the passphrase, the record set, or any cipher text changes the fingerprint.

	@param passphrase string - the session passphrase
	@param cards []models.Card - the records
	@returns hex encoded SHA-256 digest
*/
func Fingerprint(passphrase string, cards []models.Card) string {
	hasher := sha256.New()
	write := func(value string) {
		hasher.Write([]byte(value))
		hasher.Write([]byte{0})
	}
	write(passphrase)
	for _, card := range cards {
		write(card.ID)
		write(string(card.CardNumberFirst))
		write(string(card.CardNumberLast4))
		write(string(card.CardHolder))
		write(string(card.CVV))
		write(string(card.Expiry))
		write(string(card.CardName))
		write(string(card.BankName))
		write(string(card.NetworkName))
		write(card.UpdatedAt.UTC().Format(time.RFC3339Nano))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
