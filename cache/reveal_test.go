package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alwitt/cardvault/cache"
	"github.com/alwitt/cardvault/encryption"
	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/cardvault/secret"
	"github.com/alwitt/cardvault/session"
	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
)

func TestRevealCacheItems(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	secrets := secret.NewRegistry(0)
	codec := setupTestCodec(t, secrets)

	passphrase := "correct horse battery staple"
	card := makeTestCard(t, codec, "user1", passphrase, testCardPlain{
		number: "4111111111111111", holder: "Jane Doe", cvv: "123", expiry: "09/29",
		name: "Daily", bank: "First Bank",
	})

	params := cache.DefaultRevealParams()
	params.AutoHide = time.Millisecond * 200
	uut := cache.NewRevealCache("user1", codec, secrets, params, nil, nil)
	defer uut.Close()

	// Case 0: reveal the number, then auto hide
	{
		revealed, err := uut.RevealNumber(utCtx, passphrase, card, "1111")
		assert.Nil(err)
		number, err := revealed.Number.Read()
		assert.Nil(err)
		assert.Equal("4111111111111111", number)
		assert.Equal(1, uut.Revealed())
		assert.Equal(1, secrets.Live())

		assert.Eventually(func() bool {
			return revealed.Number.IsZeroed()
		}, time.Second, time.Millisecond*20)
		assert.Equal(0, uut.Revealed())
		assert.Equal(0, secrets.Live())
		_, err = revealed.Number.Read()
		assert.ErrorIs(err, models.ErrUseAfterZero)
	}

	// Case 1: reveal details, then hide explicitly
	{
		revealed, err := uut.RevealDetails(utCtx, passphrase, card)
		assert.Nil(err)
		cvv, err := revealed.CVV.Read()
		assert.Nil(err)
		assert.Equal("123", cvv)
		assert.Equal("09/29", revealed.Expiry)

		uut.HideDetails(card.ID)
		assert.True(revealed.CVV.IsZeroed())
		assert.Equal(0, uut.Revealed())
	}

	// Case 2: revealing again replaces the previous item
	{
		first, err := uut.RevealNumber(utCtx, passphrase, card, "1111")
		assert.Nil(err)
		second, err := uut.RevealNumber(utCtx, passphrase, card, "1111")
		assert.Nil(err)
		assert.True(first.Number.IsZeroed())
		assert.False(second.Number.IsZeroed())
		assert.Equal(1, secrets.Live())

		uut.HideNumber(card.ID)
		assert.True(second.Number.IsZeroed())
		assert.Equal(0, secrets.Live())
	}

	// Case 3: wrong passphrase
	{
		_, err := uut.RevealNumber(utCtx, "wrong passphrase", card, "1111")
		assert.True(errors.Is(err, models.ErrDecryptionFailed))
		_, err = uut.RevealDetails(utCtx, "wrong passphrase", card)
		assert.True(errors.Is(err, models.ErrDecryptionFailed))
		assert.Equal(0, uut.Revealed())
		assert.Equal(0, secrets.Live())
	}

	// Case 4: Hide covers both items
	{
		number, err := uut.RevealNumber(utCtx, passphrase, card, "1111")
		assert.Nil(err)
		details, err := uut.RevealDetails(utCtx, passphrase, card)
		assert.Nil(err)
		assert.Equal(1, uut.Revealed())
		uut.Hide(card.ID)
		assert.True(number.Number.IsZeroed())
		assert.True(details.CVV.IsZeroed())
		assert.Equal(0, secrets.Live())
	}
}

func TestRevealCacheBatch(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	secrets := secret.NewRegistry(0)
	codec := setupTestCodec(t, secrets)
	clock := &testClock{now: time.Now().UTC()}

	passphrase := "correct horse battery staple"
	cards := []models.Card{
		makeTestCard(t, codec, "user1", passphrase, testCardPlain{
			number: "4111111111111111", holder: "Jane Doe", cvv: "123", expiry: "09/29",
			name: "Daily", bank: "First Bank",
		}),
		makeTestCard(t, codec, "user1", passphrase, testCardPlain{
			number: "378282246310005", holder: "John Doe", cvv: "4321", expiry: "01/28",
			name: "Travel", bank: "Second Bank",
		}),
	}

	params := cache.RevealParams{
		AutoHide:        time.Second * 30,
		BatchTTL:        time.Second * 30,
		InactivityClear: time.Minute,
		Concurrency:     2,
	}
	uut := cache.NewRevealCache("user1", codec, secrets, params, nil, clock.Now)
	defer uut.Close()

	// Case 0: decrypt everything
	var first []cache.RevealedCard
	{
		result, err := uut.GetAll(utCtx, passphrase, cards)
		assert.Nil(err)
		assert.Len(result, 2)
		number, err := result[0].Number.Read()
		assert.Nil(err)
		assert.Equal("4111111111111111", number)
		cvv, err := result[1].CVV.Read()
		assert.Nil(err)
		assert.Equal("4321", cvv)
		assert.Equal("01/28", result[1].Expiry)
		assert.Equal("John Doe", result[1].CardHolder)
		assert.Equal(4, secrets.Live())
		assert.True(uut.Cached())
		first = result
	}

	// Case 1: reuse within the batch TTL
	{
		clock.Advance(time.Second * 10)
		result, err := uut.GetAll(utCtx, passphrase, cards)
		assert.Nil(err)
		assert.Same(&first[0], &result[0])
		assert.Equal(4, secrets.Live())
	}

	// Case 2: batch TTL expiry zeroes the previous batch
	{
		clock.Advance(time.Second * 30)
		result, err := uut.GetAll(utCtx, passphrase, cards)
		assert.Nil(err)
		assert.NotSame(&first[0], &result[0])
		assert.True(first[0].Number.IsZeroed())
		assert.True(first[1].CVV.IsZeroed())
		assert.Equal(4, secrets.Live())
		first = result
	}

	// Case 3: wrong passphrase leaves secrets unset
	{
		result, err := uut.GetAll(utCtx, "wrong passphrase", cards)
		assert.Nil(err)
		assert.Nil(result[0].Number)
		assert.Nil(result[0].CVV)
		assert.Equal(cache.FallbackExpiry, result[0].Expiry)
		assert.Equal(cache.FallbackLast4, result[0].Last4)
		assert.True(first[0].Number.IsZeroed())
		assert.Equal(0, secrets.Live())
	}

	// Case 4: Clear zeroes everything
	{
		result, err := uut.GetAll(utCtx, passphrase, cards)
		assert.Nil(err)
		revealed, err := uut.RevealNumber(utCtx, passphrase, cards[1], "0005")
		assert.Nil(err)
		assert.Equal(5, secrets.Live())

		uut.Clear()
		assert.False(uut.Cached())
		assert.Equal(0, uut.Revealed())
		assert.Equal(0, secrets.Live())
		assert.True(result[0].Number.IsZeroed())
		assert.True(revealed.Number.IsZeroed())
	}

	// Case 5: cancelled context
	{
		cancelCtx, cancel := context.WithCancel(utCtx)
		cancel()
		_, err := uut.GetAll(cancelCtx, passphrase, cards)
		assert.Error(err)
		assert.False(uut.Cached())
		assert.Equal(0, secrets.Live())
	}
}

func TestRevealCacheInactivityClear(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	secrets := secret.NewRegistry(0)
	codec := setupTestCodec(t, secrets)
	broadcaster := session.NewBroadcaster()

	passphrase := "correct horse battery staple"
	cards := []models.Card{
		makeTestCard(t, codec, "user1", passphrase, testCardPlain{
			number: "4111111111111111", holder: "Jane Doe", cvv: "123", expiry: "09/29",
			name: "Daily", bank: "First Bank",
		}),
	}

	params := cache.RevealParams{
		AutoHide:        time.Second * 30,
		BatchTTL:        time.Minute,
		InactivityClear: time.Millisecond * 300,
		Concurrency:     1,
	}
	uut := cache.NewRevealCache("user1", codec, secrets, params, broadcaster, nil)
	defer uut.Close()

	// Case 0: no hits clears the batch
	{
		result, err := uut.GetAll(utCtx, passphrase, cards)
		assert.Nil(err)
		assert.Eventually(func() bool {
			return !uut.Cached()
		}, time.Second*2, time.Millisecond*20)
		assert.True(result[0].Number.IsZeroed())
		assert.Equal(0, secrets.Live())
	}

	// Case 1: session end clears the batch
	{
		result, err := uut.GetAll(utCtx, passphrase, cards)
		assert.Nil(err)
		assert.True(uut.Cached())
		broadcaster.Broadcast(utCtx, session.Event{Type: session.EventLogout, UserID: "user1"})
		assert.False(uut.Cached())
		assert.True(result[0].CVV.IsZeroed())
		assert.Equal(0, secrets.Live())
	}
}

// gatedCodec blocks DecryptSecure until released
type gatedCodec struct {
	encryption.Codec
	entered chan struct{}
	release chan struct{}
}

func (c *gatedCodec) DecryptSecure(
	ctx context.Context, field models.EncryptedField, passphrase string,
) (*secret.Buffer, error) {
	c.entered <- struct{}{}
	<-c.release
	return c.Codec.DecryptSecure(ctx, field, passphrase)
}

func TestRevealCacheClearDuringReveal(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	secrets := secret.NewRegistry(0)
	codec := setupTestCodec(t, secrets)
	broadcaster := session.NewBroadcaster()

	passphrase := "correct horse battery staple"
	card := makeTestCard(t, codec, "user1", passphrase, testCardPlain{
		number: "4111111111111111", holder: "Jane Doe", cvv: "123", expiry: "09/29",
		name: "Daily", bank: "First Bank",
	})

	gated := &gatedCodec{
		Codec: codec, entered: make(chan struct{}, 1), release: make(chan struct{}),
	}
	uut := cache.NewRevealCache(
		"user1", gated, secrets, cache.DefaultRevealParams(), broadcaster, nil,
	)
	defer uut.Close()

	// Case 0: session end while the CVV is decrypting
	{
		type outcome struct {
			revealed cache.RevealedDetails
			err      error
		}
		done := make(chan outcome, 1)
		go func() {
			revealed, err := uut.RevealDetails(utCtx, passphrase, card)
			done <- outcome{revealed: revealed, err: err}
		}()
		<-gated.entered
		broadcaster.Broadcast(utCtx, session.Event{Type: session.EventLogout, UserID: "user1"})
		close(gated.release)

		result := <-done
		assert.ErrorIs(result.err, models.ErrSessionLocked)
		assert.Nil(result.revealed.CVV)
		assert.Equal(0, uut.Revealed())
		assert.Equal(0, secrets.Live())
	}

	// Case 1: session end while the number is decrypting
	{
		gated.release = make(chan struct{})
		type outcome struct {
			revealed cache.RevealedNumber
			err      error
		}
		done := make(chan outcome, 1)
		go func() {
			revealed, err := uut.RevealNumber(utCtx, passphrase, card, "1111")
			done <- outcome{revealed: revealed, err: err}
		}()
		<-gated.entered
		uut.Clear()
		close(gated.release)

		result := <-done
		assert.ErrorIs(result.err, models.ErrSessionLocked)
		assert.Nil(result.revealed.Number)
		assert.Equal(0, uut.Revealed())
		assert.Equal(0, secrets.Live())
	}

	// Case 2: a reveal after the session end is unaffected
	{
		gated.release = make(chan struct{})
		close(gated.release)
		revealed, err := uut.RevealDetails(utCtx, passphrase, card)
		assert.Nil(err)
		cvv, err := revealed.CVV.Read()
		assert.Nil(err)
		assert.Equal("123", cvv)
		uut.HideDetails(card.ID)
		assert.Equal(0, secrets.Live())
	}
}
