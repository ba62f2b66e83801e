package cardvault_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alwitt/cardvault"
	"github.com/alwitt/cardvault/config"
	"github.com/alwitt/cardvault/models"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

// TestWalletEndToEnd enrolls a user, stores cards, reveals them, locks and unlocks the
// wallet, and finally closes it.
func TestWalletEndToEnd(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	ctx := context.Background()

	// ------------------------------------------------------------------
	// 1. Prepare a wallet over a temporary SQLite database
	// ------------------------------------------------------------------
	cfg := config.DefaultConfig()
	cfg.Store.DSN = fmt.Sprintf("/tmp/cardvault_ut_%s.db", ulid.Make().String())
	cfg.Codec.PBKDF2Iterations = 1000
	cfg.Auth.MinAttemptInterval = 0

	uut, err := cardvault.NewWallet(ctx, cfg, logger.Error)
	assert.Nil(err)

	const user = "user1"
	const passphrase = "Secr3t!Pass"
	const sentence = "the quick brown fox jumps"

	// ------------------------------------------------------------------
	// 2. Enroll
	// ------------------------------------------------------------------
	state, err := uut.State(ctx, user)
	assert.Nil(err)
	assert.Equal(models.AuthStateUnenrolled, state)

	_, err = uut.ListCards(ctx, user)
	assert.True(errors.Is(err, models.ErrSessionLocked))

	assert.Nil(uut.Enroll(ctx, user, sentence, passphrase))
	state, err = uut.State(ctx, user)
	assert.Nil(err)
	assert.Equal(models.AuthStateUnlocked, state)

	// ------------------------------------------------------------------
	// 3. Store cards
	// ------------------------------------------------------------------
	dailyID, err := uut.AddCard(ctx, user, models.CardDetails{
		CardNumber:  "4111 1111 1111 1111",
		CardHolder:  "Jane Doe",
		CVV:         "123",
		Expiry:      "09/29",
		CardName:    "Daily",
		BankName:    "First Bank",
		NetworkName: "Visa",
	})
	assert.Nil(err)
	travelID, err := uut.AddCard(ctx, user, models.CardDetails{
		CardNumber:  "378282246310005",
		CardHolder:  "John Doe",
		CVV:         "4321",
		Expiry:      "01/28",
		CardName:    "Travel",
		BankName:    "Second Bank",
		NetworkName: "Amex",
		IsAmex:      true,
	})
	assert.Nil(err)

	cards, err := uut.ListCards(ctx, user)
	assert.Nil(err)
	assert.Len(cards, 2)
	assert.Equal(dailyID, cards[0].ID)
	assert.Equal("Daily", cards[0].CardName)
	assert.Equal("1111", cards[0].Last4)
	assert.Equal(travelID, cards[1].ID)
	assert.Equal("0005", cards[1].Last4)

	// Another user sees nothing of these cards
	_, err = uut.RevealDetails(ctx, "user2", dailyID)
	assert.True(errors.Is(err, models.ErrSessionLocked))

	// ------------------------------------------------------------------
	// 4. Reveal
	// ------------------------------------------------------------------
	number, err := uut.RevealNumber(ctx, user, travelID)
	assert.Nil(err)
	plain, err := number.Number.Read()
	assert.Nil(err)
	assert.Equal("378282246310005", plain)

	details, err := uut.RevealDetails(ctx, user, dailyID)
	assert.Nil(err)
	cvv, err := details.CVV.Read()
	assert.Nil(err)
	assert.Equal("123", cvv)
	assert.Equal("09/29", details.Expiry)

	all, err := uut.RevealAll(ctx, user)
	assert.Nil(err)
	assert.Len(all, 2)
	plain, err = all[0].Number.Read()
	assert.Nil(err)
	assert.Equal("4111111111111111", plain)

	uut.Hide(user, dailyID)
	assert.True(details.CVV.IsZeroed())

	// ------------------------------------------------------------------
	// 5. Lock zeroes the revealed secrets
	// ------------------------------------------------------------------
	uut.Lock(ctx, user)
	state, err = uut.State(ctx, user)
	assert.Nil(err)
	assert.Equal(models.AuthStateLocked, state)
	assert.True(number.Number.IsZeroed())
	assert.True(all[0].Number.IsZeroed())
	assert.True(all[1].CVV.IsZeroed())
	_, err = uut.AddCard(ctx, user, models.CardDetails{})
	assert.True(errors.Is(err, models.ErrSessionLocked))

	// ------------------------------------------------------------------
	// 6. Unlock
	// ------------------------------------------------------------------
	_, err = uut.Unlock(ctx, user, "wrong passphrase")
	assert.True(errors.Is(err, models.ErrInvalidPassphrase))
	status, err := uut.LockoutStatus(ctx, user)
	assert.Nil(err)
	assert.Equal(uint(1), status.FailedAttempts)
	assert.False(status.Locked)

	shown, err := uut.Unlock(ctx, user, passphrase)
	assert.Nil(err)
	assert.Equal(sentence, shown)
	status, err = uut.LockoutStatus(ctx, user)
	assert.Nil(err)
	assert.Equal(uint(0), status.FailedAttempts)

	// ------------------------------------------------------------------
	// 7. Update and delete
	// ------------------------------------------------------------------
	assert.Nil(uut.UpdateCard(ctx, user, dailyID, models.CardDetails{
		CardNumber: "4111 1111 1111 1111",
		CardHolder: "Jane Doe",
		CVV:        "123",
		Expiry:     "09/30",
		CardName:   "Groceries",
	}))
	cards, err = uut.ListCards(ctx, user)
	assert.Nil(err)
	assert.Equal("Groceries", cards[0].CardName)
	assert.Equal("Card", cards[0].NetworkName)

	err = uut.DeleteCard(ctx, user, travelID, "wrong passphrase")
	assert.True(errors.Is(err, models.ErrInvalidPassphrase))
	assert.Nil(uut.DeleteCard(ctx, user, travelID, passphrase))
	cards, err = uut.ListCards(ctx, user)
	assert.Nil(err)
	assert.Len(cards, 1)

	// ------------------------------------------------------------------
	// 8. Audit trail
	// ------------------------------------------------------------------
	events, err := uut.AuditTrail(ctx, user)
	assert.Nil(err)
	seen := map[models.AuditEventTypeENUMType]int{}
	for _, event := range events {
		seen[event.EventType]++
	}
	assert.Equal(1, seen[models.AuditEventTypeEnrolled])
	assert.Equal(2, seen[models.AuditEventTypeAddCard])
	assert.Equal(1, seen[models.AuditEventTypeUpdateCard])
	assert.Equal(1, seen[models.AuditEventTypeDeleteCard])
	assert.Equal(2, seen[models.AuditEventTypeUnlockFailed])

	// ------------------------------------------------------------------
	// 9. Close
	// ------------------------------------------------------------------
	cards, err = uut.ListCards(ctx, user)
	assert.Nil(err)
	revealed, err := uut.RevealDetails(ctx, user, cards[0].ID)
	assert.Nil(err)
	uut.Close(ctx)
	assert.True(revealed.CVV.IsZeroed())
	state, err = uut.State(ctx, user)
	assert.Nil(err)
	assert.Equal(models.AuthStateLocked, state)
}
