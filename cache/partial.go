package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/cardvault/encryption"
	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/cardvault/session"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"golang.org/x/sync/errgroup"
)

// Display fallbacks used when a field does not decrypt
const (
	FallbackCardName    = "Card"
	FallbackBankName    = "Bank"
	FallbackNetworkName = "Card"
	FallbackLast4       = "••••"
	FallbackCardHolder  = "Card Holder"
	FallbackNumber      = "••••••••••••••••"
	FallbackCVV         = "•••"
	FallbackExpiry      = "MM/YY"
	DefaultTheme        = "#6a3de8"
)

// PartialCard the low sensitivity view of a card
//
// High sensitivity fields stay as cipher text for reveal on demand.
type PartialCard struct {
	ID          string
	Theme       string
	IsAmex      bool
	CardName    string
	BankName    string
	NetworkName string
	CardHolder  string
	Last4       string

	BillGenerationDay *int
	BillDueDay        *int

	CardNumberFirst models.EncryptedField
	CVV             models.EncryptedField
	Expiry          models.EncryptedField
}

// PartialParams partial tier parameters
type PartialParams struct {
	// SoftTTL how long a generation is reused
	SoftTTL time.Duration `validate:"gte=0"`
	// Concurrency max concurrent field decrypts
	Concurrency int `validate:"gte=1"`
}

// DefaultPartialParams the default partial tier parameters
func DefaultPartialParams() PartialParams {
	return PartialParams{SoftTTL: time.Minute, Concurrency: 8}
}

/*
PartialCache the partial decryption tier.

It only decrypts the metadata needed to display a card list. A generation is reused while
the passphrase and the record set are unchanged and the generation is younger than the
soft TTL. It is cleared by session end events.
*/
type PartialCache struct {
	goutils.Component
	codec       encryption.Codec
	params      PartialParams
	nowFn       func() time.Time
	ownerID     string
	unsubscribe func()

	lock       sync.Mutex
	entry      *Entry[[]PartialCard]
	generation uint64
}

/*
NewPartialCache define new partial tier cache

	@param ownerID string - the user whose cards are cached
	@param codec encryption.Codec - field codec
	@param params PartialParams - cache parameters
	@param broadcaster session.Broadcaster - session end signals, optional
	@param nowFn func() time.Time - clock, nil for time.Now
	@returns cache instance
*/
func NewPartialCache(
	ownerID string,
	codec encryption.Codec,
	params PartialParams,
	broadcaster session.Broadcaster,
	nowFn func() time.Time,
) *PartialCache {
	if nowFn == nil {
		nowFn = time.Now
	}
	if params.Concurrency < 1 {
		params.Concurrency = 1
	}
	logTags := log.Fields{"module": "cache", "component": "partial-tier", "owner": ownerID}
	instance := &PartialCache{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		codec:   codec,
		params:  params,
		nowFn:   nowFn,
		ownerID: ownerID,
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

// decryptOrFallback decrypt one field, substituting the fallback on any failure
func decryptOrFallback(
	ctx context.Context,
	codec encryption.Codec,
	field models.EncryptedField,
	passphrase string,
	fallback string,
	logTags log.Fields,
) string {
	if field == "" {
		return fallback
	}
	value, err := codec.Decrypt(ctx, field, passphrase)
	if err != nil {
		log.WithError(err).WithFields(logTags).Debug("Field decrypt failed, using fallback")
		return fallback
	}
	if value == "" {
		return fallback
	}
	return value
}

/*
Get the partial view of the cards

	@param ctx context.Context - execution context
	@param passphrase string - the session passphrase
	@param cards []models.Card - the card records
	@returns the partial views, in the order of the records
*/
func (c *PartialCache) Get(
	ctx context.Context, passphrase string, cards []models.Card,
) ([]PartialCard, error) {
	if passphrase == "" || len(cards) == 0 {
		return []PartialCard{}, nil
	}

	fingerprint := Fingerprint(passphrase, cards)

	c.lock.Lock()
	if c.entry.ValidFor(fingerprint, c.nowFn(), c.params.SoftTTL) {
		result := c.entry.Data
		c.lock.Unlock()
		return result, nil
	}
	startGeneration := c.generation
	c.lock.Unlock()

	logTags := c.GetLogTagsForContext(ctx)

	result := make([]PartialCard, len(cards))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.params.Concurrency)
	for idx, card := range cards {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			theme := card.Theme
			if theme == "" {
				theme = DefaultTheme
			}
			result[idx] = PartialCard{
				ID:                card.ID,
				Theme:             theme,
				IsAmex:            card.IsAmex,
				CardName:          decryptOrFallback(groupCtx, c.codec, card.CardName, passphrase, FallbackCardName, logTags),
				BankName:          decryptOrFallback(groupCtx, c.codec, card.BankName, passphrase, FallbackBankName, logTags),
				NetworkName:       decryptOrFallback(groupCtx, c.codec, card.NetworkName, passphrase, FallbackNetworkName, logTags),
				CardHolder:        decryptOrFallback(groupCtx, c.codec, card.CardHolder, passphrase, FallbackCardHolder, logTags),
				Last4:             decryptOrFallback(groupCtx, c.codec, card.CardNumberLast4, passphrase, FallbackLast4, logTags),
				BillGenerationDay: card.BillGenerationDay,
				BillDueDay:        card.BillDueDay,
				CardNumberFirst:   card.CardNumberFirst,
				CVV:               card.CVV,
				Expiry:            card.Expiry,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("partial decrypt interrupted [%w]", err)
	}

	// Publish the generation, unless the cache was cleared in the meantime
	c.lock.Lock()
	if c.generation == startGeneration {
		c.entry = &Entry[[]PartialCard]{
			Data: result, CreatedAt: c.nowFn(), Fingerprint: fingerprint,
		}
	}
	c.lock.Unlock()

	log.WithFields(logTags).WithField("cards", len(result)).Debug("Partial tier recomputed")
	return result, nil
}

// Cached whether a generation is currently held
func (c *PartialCache) Cached() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.entry != nil
}

// Clear drop the cached generation
func (c *PartialCache) Clear() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.entry = nil
	c.generation++
}

// Close clear the cache and stop listening to session end events
func (c *PartialCache) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.Clear()
}
