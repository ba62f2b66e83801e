// Package cardvault - passphrase protected card wallet
package cardvault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alwitt/cardvault/auth"
	"github.com/alwitt/cardvault/cache"
	"github.com/alwitt/cardvault/config"
	"github.com/alwitt/cardvault/db"
	"github.com/alwitt/cardvault/encryption"
	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/cardvault/ratelimit"
	"github.com/alwitt/cardvault/secret"
	"github.com/alwitt/cardvault/session"
	"github.com/alwitt/cardvault/store"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"gorm.io/gorm/logger"
)

// rateLimitJanitorInterval how often idle rate limit windows are dropped
const rateLimitJanitorInterval = time.Minute * 5

// userCaches the decryption caches of one user
type userCaches struct {
	partial *cache.PartialCache
	reveal  *cache.RevealCache
}

/*
Wallet one wallet instance, wiring the authenticator, the card store, and the decryption
caches over a single record store.

Every card operation needs an unlocked session of the user; the session passphrase is
read out of its secret buffer only for the duration of the call.
*/
type Wallet struct {
	goutils.Component

	cfg         config.Config
	persistence db.Client
	secrets     *secret.Registry
	codec       encryption.Codec
	limiter     ratelimit.Limiter
	broadcaster session.Broadcaster
	ledger      auth.LockoutLedger
	auth        auth.Authenticator
	cards       store.CardStore

	stopJanitor context.CancelFunc

	lock   sync.Mutex
	caches map[string]*userCaches
}

/*
NewWallet initialize a wallet instance.

Each instance is backed by a SQL database; two instances using the same database share
the same users and cards.

	@param ctx context.Context - execution context
	@param cfg config.Config - wallet configuration
	@param dbLogLevel logger.LogLevel - SQL log level
	@returns new wallet instance
*/
func NewWallet(ctx context.Context, cfg config.Config, dbLogLevel logger.LogLevel) (*Wallet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Prepare persistence
	dialector, err := db.GetDialector(string(cfg.Store.Driver), cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	persistence, err := db.NewConnection(dialector, dbLogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized persistence client [%w]", err)
	}
	if cfg.Store.Driver == models.StoreDriverSqlite {
		if err := persistence.RunSQLInTransaction(ctx, db.DefineTables); err != nil {
			return nil, fmt.Errorf("failed to prepare sqlite tables [%w]", err)
		}
	}

	logTags := log.Fields{"module": "cardvault", "component": "wallet"}
	instance := &Wallet{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		cfg:         cfg,
		persistence: persistence,
		secrets:     secret.NewRegistry(cfg.Secrets.FailsafeTimeout),
		limiter:     ratelimit.NewLimiter(cfg.RateLimits, nil),
		broadcaster: session.NewBroadcaster(),
		caches:      make(map[string]*userCaches),
	}

	// Prepare the codec
	instance.codec, err = encryption.NewCodec(cfg.CodecParams(instance.secrets))
	if err != nil {
		return nil, fmt.Errorf("failed to initialized codec [%w]", err)
	}

	// Prepare authentication
	instance.ledger, err = auth.NewLockoutLedger(persistence, cfg.LockoutParams(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized lockout ledger [%w]", err)
	}
	instance.auth, err = auth.NewAuthenticator(
		auth.AuthenticatorDependencies{
			Persistence: persistence,
			Codec:       instance.codec,
			Ledger:      instance.ledger,
			Limiter:     instance.limiter,
			Secrets:     instance.secrets,
			Broadcaster: instance.broadcaster,
		},
		cfg.AuthenticatorParams(),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized authenticator [%w]", err)
	}

	instance.cards, err = store.NewCardStore(persistence, instance.codec, instance.limiter)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized card store [%w]", err)
	}

	// A session end event without a user ends every session: no secret may outlive it
	instance.broadcaster.Subscribe(func(ctx context.Context, event session.Event) {
		if event.UserID == "" {
			instance.secrets.WipeAll(ctx)
		}
	})

	janitorCtx, cancel := context.WithCancel(context.Background())
	if err := instance.limiter.StartJanitor(janitorCtx, rateLimitJanitorInterval); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start rate limit janitor [%w]", err)
	}
	instance.stopJanitor = cancel

	return instance, nil
}

// cachesOf the decryption caches of a user, defined on first use
func (w *Wallet) cachesOf(userID string) *userCaches {
	w.lock.Lock()
	defer w.lock.Unlock()
	if entry, ok := w.caches[userID]; ok {
		return entry
	}
	entry := &userCaches{
		partial: cache.NewPartialCache(
			userID, w.codec, w.cfg.PartialParams(), w.broadcaster, nil,
		),
		reveal: cache.NewRevealCache(
			userID, w.codec, w.secrets, w.cfg.RevealParams(), w.broadcaster, nil,
		),
	}
	w.caches[userID] = entry
	return entry
}

// passphraseOf read the passphrase of the open session of a user, counting it as activity
func (w *Wallet) passphraseOf(userID string) (string, error) {
	active, err := w.auth.Session(userID)
	if err != nil {
		return "", err
	}
	passphrase, err := active.Passphrase()
	if err != nil {
		return "", err
	}
	active.Touch()
	return passphrase, nil
}

/*
State the authentication state of a user

	@param ctx context.Context - execution context
	@param userID string - the user
	@returns the current state
*/
func (w *Wallet) State(ctx context.Context, userID string) (models.AuthStateENUMType, error) {
	return w.auth.State(ctx, userID)
}

/*
Enroll define the validation sentence of a new user, leaving the wallet unlocked

	@param ctx context.Context - execution context
	@param userID string - the user
	@param sentence string - validation sentence
	@param passphrase string - the chosen passphrase
*/
func (w *Wallet) Enroll(ctx context.Context, userID, sentence, passphrase string) error {
	_, err := w.auth.Enroll(ctx, userID, sentence, passphrase)
	return err
}

/*
Unlock authenticate a user, opening a session

	@param ctx context.Context - execution context
	@param userID string - the user
	@param passphrase string - candidate passphrase
	@returns the validation sentence
*/
func (w *Wallet) Unlock(ctx context.Context, userID, passphrase string) (string, error) {
	result, err := w.auth.Unlock(ctx, userID, passphrase)
	if err != nil {
		return "", err
	}
	return result.Sentence, nil
}

/*
Lock end the session of a user. The caches of the user are cleared by the logout.

	@param ctx context.Context - execution context
	@param userID string - the user
*/
func (w *Wallet) Lock(ctx context.Context, userID string) {
	w.auth.Lock(ctx, userID)
}

/*
LockoutStatus the lockout state of a user

	@param ctx context.Context - execution context
	@param userID string - the user
	@returns the lockout status
*/
func (w *Wallet) LockoutStatus(ctx context.Context, userID string) (auth.LockoutStatus, error) {
	return w.ledger.Check(ctx, userID, nil)
}

/*
AuditTrail list the audit events of a user, oldest first

	@param ctx context.Context - execution context
	@param userID string - the user
	@returns the audit events
*/
func (w *Wallet) AuditTrail(ctx context.Context, userID string) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	if err := w.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			events, err = dbClient.ListAuditEvents(dbCtx, db.AuditEventQueryFilter{OwnerID: &userID})
			return err
		},
	); err != nil {
		return nil, fmt.Errorf("failed to list audit events of %s [%w]", userID, err)
	}
	return events, nil
}

/*
AddCard encrypt and store a new card

	@param ctx context.Context - execution context
	@param userID string - the owning user
	@param details models.CardDetails - plain text card details
	@returns the stored card ID
*/
func (w *Wallet) AddCard(ctx context.Context, userID string, details models.CardDetails) (string, error) {
	passphrase, err := w.passphraseOf(userID)
	if err != nil {
		return "", err
	}
	card, err := w.cards.AddCard(ctx, userID, passphrase, details, nil)
	if err != nil {
		return "", err
	}
	return card.ID, nil
}

/*
UpdateCard replace the content of a card

	@param ctx context.Context - execution context
	@param userID string - the owning user
	@param cardID string - the card
	@param details models.CardDetails - plain text card details
*/
func (w *Wallet) UpdateCard(
	ctx context.Context, userID string, cardID string, details models.CardDetails,
) error {
	passphrase, err := w.passphraseOf(userID)
	if err != nil {
		return err
	}
	if _, err := w.cards.UpdateCard(ctx, userID, cardID, passphrase, details, nil); err != nil {
		return err
	}
	w.cachesOf(userID).reveal.Hide(cardID)
	return nil
}

/*
DeleteCard delete a card after the user re-confirms the passphrase

	@param ctx context.Context - execution context
	@param userID string - the owning user
	@param cardID string - the card
	@param passphrase string - the re-entered passphrase
*/
func (w *Wallet) DeleteCard(ctx context.Context, userID, cardID, passphrase string) error {
	if _, err := w.passphraseOf(userID); err != nil {
		return err
	}
	if err := w.auth.VerifyPassphrase(ctx, userID, passphrase); err != nil {
		return err
	}
	if err := w.cards.DeleteCard(ctx, userID, cardID, nil); err != nil {
		return err
	}
	w.cachesOf(userID).reveal.Hide(cardID)
	return nil
}

/*
ListCards the partial view of every card of a user

	@param ctx context.Context - execution context
	@param userID string - the owning user
	@returns the partial views
*/
func (w *Wallet) ListCards(ctx context.Context, userID string) ([]cache.PartialCard, error) {
	passphrase, err := w.passphraseOf(userID)
	if err != nil {
		return nil, err
	}
	cards, err := w.cards.ListCards(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	return w.cachesOf(userID).partial.Get(ctx, passphrase, cards)
}

/*
RevealNumber reveal the full number of a card

	@param ctx context.Context - execution context
	@param userID string - the owning user
	@param cardID string - the card
	@returns the number, zeroed once the reveal period ends
*/
func (w *Wallet) RevealNumber(
	ctx context.Context, userID string, cardID string,
) (cache.RevealedNumber, error) {
	passphrase, err := w.passphraseOf(userID)
	if err != nil {
		return cache.RevealedNumber{}, err
	}
	cards, err := w.cards.ListCards(ctx, userID, nil)
	if err != nil {
		return cache.RevealedNumber{}, err
	}
	caches := w.cachesOf(userID)
	partials, err := caches.partial.Get(ctx, passphrase, cards)
	if err != nil {
		return cache.RevealedNumber{}, err
	}
	for idx, partial := range partials {
		if partial.ID != cardID {
			continue
		}
		if partial.Last4 == cache.FallbackLast4 {
			return cache.RevealedNumber{}, fmt.Errorf(
				"last 4 digits of card %s did not decrypt [%w]", cardID, models.ErrDecryptionFailed,
			)
		}
		return caches.reveal.RevealNumber(ctx, passphrase, cards[idx], partial.Last4)
	}
	return cache.RevealedNumber{}, fmt.Errorf("card %s [%w]", cardID, db.ErrRecordNotFound)
}

/*
RevealDetails reveal the CVV and expiry of a card

	@param ctx context.Context - execution context
	@param userID string - the owning user
	@param cardID string - the card
	@returns the details, the CVV zeroed once the reveal period ends
*/
func (w *Wallet) RevealDetails(
	ctx context.Context, userID string, cardID string,
) (cache.RevealedDetails, error) {
	passphrase, err := w.passphraseOf(userID)
	if err != nil {
		return cache.RevealedDetails{}, err
	}
	card, err := w.cards.GetCard(ctx, userID, cardID, nil)
	if err != nil {
		return cache.RevealedDetails{}, err
	}
	return w.cachesOf(userID).reveal.RevealDetails(ctx, passphrase, card)
}

/*
RevealAll fully decrypt every card of a user

	@param ctx context.Context - execution context
	@param userID string - the owning user
	@returns the decrypted cards
*/
func (w *Wallet) RevealAll(ctx context.Context, userID string) ([]cache.RevealedCard, error) {
	passphrase, err := w.passphraseOf(userID)
	if err != nil {
		return nil, err
	}
	cards, err := w.cards.ListCards(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	return w.cachesOf(userID).reveal.GetAll(ctx, passphrase, cards)
}

/*
Hide zero the revealed secrets of one card

	@param userID string - the owning user
	@param cardID string - the card
*/
func (w *Wallet) Hide(userID string, cardID string) {
	w.cachesOf(userID).reveal.Hide(cardID)
}

/*
Close lock every session and zero every live secret

	@param ctx context.Context - execution context
*/
func (w *Wallet) Close(ctx context.Context) {
	w.broadcaster.Broadcast(ctx, session.Event{Type: session.EventLogout})

	w.lock.Lock()
	for _, entry := range w.caches {
		entry.partial.Close()
		entry.reveal.Close()
	}
	w.caches = make(map[string]*userCaches)
	w.lock.Unlock()

	w.stopJanitor()

	logTags := w.GetLogTagsForContext(ctx)
	log.WithFields(logTags).WithField("live-secrets", w.secrets.Live()).Info("Wallet closed")
}
