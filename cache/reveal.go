package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/cardvault/encryption"
	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/cardvault/secret"
	"github.com/alwitt/cardvault/session"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
)

// RevealedNumber a revealed card number
type RevealedNumber struct {
	CardID string
	// Number the full card number
	Number *secret.Buffer
}

// RevealedDetails revealed CVV and expiry of a card
type RevealedDetails struct {
	CardID string
	CVV    *secret.Buffer
	Expiry string
}

// RevealedCard the fully decrypted view of a card
type RevealedCard struct {
	ID          string
	Theme       string
	IsAmex      bool
	CardName    string
	BankName    string
	NetworkName string
	CardHolder  string
	Last4       string
	Expiry      string
	// Number the full card number, nil if it did not decrypt
	Number *secret.Buffer
	// CVV nil if it did not decrypt
	CVV *secret.Buffer
}

// RevealParams reveal tier parameters
type RevealParams struct {
	// AutoHide lifetime of one revealed item
	AutoHide time.Duration `validate:"gte=1ms"`
	// BatchTTL how long a batch decrypt is reused
	BatchTTL time.Duration `validate:"gte=0"`
	// InactivityClear the batch is cleared after this long without a hit
	InactivityClear time.Duration `validate:"gte=1ms"`
	// Concurrency max concurrent card decrypts
	Concurrency int `validate:"gte=1"`
}

// DefaultRevealParams the default reveal tier parameters
func DefaultRevealParams() RevealParams {
	return RevealParams{
		AutoHide:        time.Second * 30,
		BatchTTL:        time.Second * 30,
		InactivityClear: time.Minute,
		Concurrency:     4,
	}
}

// revealedItem one revealed item with its auto hide timer
type revealedItem struct {
	buffers []*secret.Buffer
	timer   *time.Timer
}

func (i *revealedItem) zero() {
	if i.timer != nil {
		i.timer.Stop()
	}
	for _, buf := range i.buffers {
		buf.Zero()
	}
}

/*
RevealCache the reveal tier.

High sensitivity values only exist as secret buffers. Each revealed item is hidden, and its
buffers zeroed, after the auto hide period. A batch decrypt of every card is reused for the
batch TTL, and cleared after a period without hits. Clear zeroes everything synchronously.
*/
type RevealCache struct {
	goutils.Component
	codec       encryption.Codec
	secrets     *secret.Registry
	params      RevealParams
	nowFn       func() time.Time
	ownerID     string
	unsubscribe func()

	lock       sync.Mutex
	numbers    map[string]*revealedItem
	details    map[string]*revealedItem
	batch      *Entry[[]RevealedCard]
	batchItem  *revealedItem
	generation uint64
}

/*
NewRevealCache define new reveal tier cache

	@param ownerID string - the user whose cards are cached
	@param codec encryption.Codec - field codec
	@param secrets *secret.Registry - registry for the revealed secrets
	@param params RevealParams - cache parameters
	@param broadcaster session.Broadcaster - session end signals, optional
	@param nowFn func() time.Time - clock, nil for time.Now
	@returns cache instance
*/
func NewRevealCache(
	ownerID string,
	codec encryption.Codec,
	secrets *secret.Registry,
	params RevealParams,
	broadcaster session.Broadcaster,
	nowFn func() time.Time,
) *RevealCache {
	if nowFn == nil {
		nowFn = time.Now
	}
	if params.Concurrency < 1 {
		params.Concurrency = 1
	}
	logTags := log.Fields{"module": "cache", "component": "reveal-tier", "owner": ownerID}
	instance := &RevealCache{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		codec:   codec,
		secrets: secrets,
		params:  params,
		nowFn:   nowFn,
		ownerID: ownerID,
		numbers: make(map[string]*revealedItem),
		details: make(map[string]*revealedItem),
	}
	if broadcaster != nil {
		instance.unsubscribe = broadcaster.Subscribe(func(ctx context.Context, event session.Event) {
			if event.UserID == "" || event.UserID == ownerID {
				instance.Clear()
			}
		})
	}
	return instance
}

func (c *RevealCache) currentGeneration() uint64 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.generation
}

// store replace the revealed item of a card, arming its auto hide timer. Caller holds the lock.
func (c *RevealCache) store(items map[string]*revealedItem, cardID string, item *revealedItem) {
	if previous, ok := items[cardID]; ok {
		previous.zero()
	}
	items[cardID] = item
	item.timer = time.AfterFunc(c.params.AutoHide, func() {
		c.lock.Lock()
		defer c.lock.Unlock()
		if current, ok := items[cardID]; ok && current == item {
			delete(items, cardID)
		}
		item.zero()
	})
}

// hide zero the revealed item of a card. Caller holds the lock.
func hide(items map[string]*revealedItem, cardID string) {
	if item, ok := items[cardID]; ok {
		item.zero()
		delete(items, cardID)
	}
}

/*
RevealNumber decrypt the full card number

Only the prefix is decrypted; the caller supplies the last 4 digits from the partial tier.

	@param ctx context.Context - execution context
	@param passphrase string - the session passphrase
	@param card models.Card - the card record
	@param last4 string - the already decrypted last 4 digits
	@returns the revealed number, zeroed after the auto hide period
*/
func (c *RevealCache) RevealNumber(
	ctx context.Context, passphrase string, card models.Card, last4 string,
) (RevealedNumber, error) {
	startGeneration := c.currentGeneration()
	var number *secret.Buffer
	if err := secret.WithSecret(
		ctx,
		func(ctx context.Context) (*secret.Buffer, error) {
			return c.codec.DecryptSecure(ctx, card.CardNumberFirst, passphrase)
		},
		func(_ context.Context, prefix *secret.Buffer) error {
			if prefix.Len() == 0 {
				return fmt.Errorf("card number prefix is empty [%w]", models.ErrDecryptionFailed)
			}
			return prefix.Use(func(prefixBytes []byte) error {
				full := make([]byte, 0, len(prefixBytes)+len(last4))
				full = append(full, prefixBytes...)
				full = append(full, last4...)
				number = c.secrets.Create(full)
				return nil
			})
		},
	); err != nil {
		return RevealedNumber{}, fmt.Errorf("unable to reveal number of card %s [%w]", card.ID, err)
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.generation != startGeneration {
		number.Zero()
		return RevealedNumber{}, fmt.Errorf(
			"reveal of card %s superseded [%w]", card.ID, models.ErrSessionLocked,
		)
	}
	c.store(c.numbers, card.ID, &revealedItem{buffers: []*secret.Buffer{number}})

	return RevealedNumber{CardID: card.ID, Number: number}, nil
}

/*
HideNumber zero the revealed number of a card

	@param cardID string - the card
*/
func (c *RevealCache) HideNumber(cardID string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	hide(c.numbers, cardID)
}

/*
RevealDetails decrypt the CVV and the expiry of a card

	@param ctx context.Context - execution context
	@param passphrase string - the session passphrase
	@param card models.Card - the card record
	@returns the revealed details, zeroed after the auto hide period
*/
func (c *RevealCache) RevealDetails(
	ctx context.Context, passphrase string, card models.Card,
) (RevealedDetails, error) {
	startGeneration := c.currentGeneration()
	cvv, err := c.codec.DecryptSecure(ctx, card.CVV, passphrase)
	if err != nil {
		return RevealedDetails{}, fmt.Errorf("unable to reveal CVV of card %s [%w]", card.ID, err)
	}
	if err := ctx.Err(); err != nil {
		cvv.Zero()
		return RevealedDetails{}, err
	}
	expiry := decryptOrFallback(
		ctx, c.codec, card.Expiry, passphrase, FallbackExpiry, c.GetLogTagsForContext(ctx),
	)

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.generation != startGeneration {
		cvv.Zero()
		return RevealedDetails{}, fmt.Errorf(
			"reveal of card %s superseded [%w]", card.ID, models.ErrSessionLocked,
		)
	}
	c.store(c.details, card.ID, &revealedItem{buffers: []*secret.Buffer{cvv}})

	return RevealedDetails{CardID: card.ID, CVV: cvv, Expiry: expiry}, nil
}

/*
HideDetails zero the revealed details of a card

	@param cardID string - the card
*/
func (c *RevealCache) HideDetails(cardID string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	hide(c.details, cardID)
}

/*
Hide zero every revealed item of a card

	@param cardID string - the card
*/
func (c *RevealCache) Hide(cardID string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	hide(c.numbers, cardID)
	hide(c.details, cardID)
}

// decryptSecureOrNil decrypt a field into a buffer, nil on any failure or empty result
func (c *RevealCache) decryptSecureOrNil(
	ctx context.Context, field models.EncryptedField, passphrase string, logTags log.Fields,
) *secret.Buffer {
	if field == "" {
		return nil
	}
	buf, err := c.codec.DecryptSecure(ctx, field, passphrase)
	if err != nil {
		log.WithError(err).WithFields(logTags).Debug("Secure field decrypt failed")
		return nil
	}
	if buf.Len() == 0 {
		buf.Zero()
		return nil
	}
	return buf
}

// revealCard fully decrypt one card, recording every buffer it creates
func (c *RevealCache) revealCard(
	ctx context.Context,
	passphrase string,
	card models.Card,
	track func(*secret.Buffer),
	logTags log.Fields,
) RevealedCard {
	theme := card.Theme
	if theme == "" {
		theme = DefaultTheme
	}
	result := RevealedCard{
		ID:          card.ID,
		Theme:       theme,
		IsAmex:      card.IsAmex,
		CardName:    decryptOrFallback(ctx, c.codec, card.CardName, passphrase, FallbackCardName, logTags),
		BankName:    decryptOrFallback(ctx, c.codec, card.BankName, passphrase, FallbackBankName, logTags),
		NetworkName: decryptOrFallback(ctx, c.codec, card.NetworkName, passphrase, FallbackNetworkName, logTags),
		CardHolder:  decryptOrFallback(ctx, c.codec, card.CardHolder, passphrase, FallbackCardHolder, logTags),
		Last4:       decryptOrFallback(ctx, c.codec, card.CardNumberLast4, passphrase, FallbackLast4, logTags),
		Expiry:      decryptOrFallback(ctx, c.codec, card.Expiry, passphrase, FallbackExpiry, logTags),
	}

	// The number is only recombined from a decrypted last 4
	var prefix *secret.Buffer
	if result.Last4 != FallbackLast4 {
		prefix = c.decryptSecureOrNil(ctx, card.CardNumberFirst, passphrase, logTags)
	}
	if prefix != nil {
		_ = prefix.Use(func(prefixBytes []byte) error {
			full := make([]byte, 0, len(prefixBytes)+len(result.Last4))
			full = append(full, prefixBytes...)
			full = append(full, result.Last4...)
			result.Number = c.secrets.Create(full)
			return nil
		})
		prefix.Zero()
		if result.Number != nil {
			track(result.Number)
		}
	}
	if result.CVV = c.decryptSecureOrNil(ctx, card.CVV, passphrase, logTags); result.CVV != nil {
		track(result.CVV)
	}
	return result
}

/*
GetAll fully decrypt every card

The batch is reused while the passphrase and the record set are unchanged, for up to the
batch TTL. Every hit restarts the inactivity clear timer.

	@param ctx context.Context - execution context
	@param passphrase string - the session passphrase
	@param cards []models.Card - the card records
	@returns the decrypted cards, in the order of the records
*/
func (c *RevealCache) GetAll(
	ctx context.Context, passphrase string, cards []models.Card,
) ([]RevealedCard, error) {
	if passphrase == "" || len(cards) == 0 {
		return []RevealedCard{}, nil
	}

	fingerprint := Fingerprint(passphrase, cards)

	c.lock.Lock()
	if c.batch.ValidFor(fingerprint, c.nowFn(), c.params.BatchTTL) {
		result := c.batch.Data
		c.armBatchClear(c.batchItem)
		c.lock.Unlock()
		return result, nil
	}
	startGeneration := c.generation
	c.lock.Unlock()

	logTags := c.GetLogTagsForContext(ctx)

	trackLock := sync.Mutex{}
	created := []*secret.Buffer{}
	track := func(buf *secret.Buffer) {
		trackLock.Lock()
		defer trackLock.Unlock()
		created = append(created, buf)
	}
	zeroCreated := func() {
		trackLock.Lock()
		defer trackLock.Unlock()
		for _, buf := range created {
			buf.Zero()
		}
	}

	result := make([]RevealedCard, len(cards))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.params.Concurrency)
	for idx, card := range cards {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			result[idx] = c.revealCard(groupCtx, passphrase, card, track, logTags)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		zeroCreated()
		return nil, fmt.Errorf("batch decrypt interrupted [%w]", err)
	}
	if err := ctx.Err(); err != nil {
		zeroCreated()
		return nil, fmt.Errorf("batch decrypt interrupted [%w]", err)
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.generation != startGeneration {
		// Cleared while decrypting
		zeroCreated()
		return nil, fmt.Errorf("batch decrypt superseded [%w]", models.ErrSessionLocked)
	}
	if c.batchItem != nil {
		c.batchItem.zero()
	}
	c.batch = &Entry[[]RevealedCard]{Data: result, CreatedAt: c.nowFn(), Fingerprint: fingerprint}
	c.batchItem = &revealedItem{buffers: created}
	c.armBatchClear(c.batchItem)

	log.WithFields(logTags).WithField("cards", len(result)).Debug("Reveal batch recomputed")
	return result, nil
}

// armBatchClear (re)start the batch inactivity clear timer. Caller holds the lock.
func (c *RevealCache) armBatchClear(item *revealedItem) {
	if item.timer != nil {
		item.timer.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(c.params.InactivityClear, func() {
		c.lock.Lock()
		defer c.lock.Unlock()
		if item.timer != timer {
			// Re-armed by a later hit
			return
		}
		if c.batchItem == item {
			c.batch = nil
			c.batchItem = nil
		}
		item.zero()
	})
	item.timer = timer
}

// Revealed number of cards with a revealed number or revealed details
func (c *RevealCache) Revealed() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	cards := map[string]bool{}
	for cardID := range c.numbers {
		cards[cardID] = true
	}
	for cardID := range c.details {
		cards[cardID] = true
	}
	return len(cards)
}

// Cached whether a batch is currently held
func (c *RevealCache) Cached() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.batch != nil
}

// Clear zero every buffer of this tier before returning
func (c *RevealCache) Clear() {
	c.lock.Lock()
	defer c.lock.Unlock()
	for cardID := range c.numbers {
		hide(c.numbers, cardID)
	}
	for cardID := range c.details {
		hide(c.details, cardID)
	}
	if c.batchItem != nil {
		c.batchItem.zero()
	}
	c.batch = nil
	c.batchItem = nil
	c.generation++
}

// Close clear the cache and stop listening to session end events
func (c *RevealCache) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.Clear()
}
