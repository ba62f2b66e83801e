// Package store - data storage controllers
package store

import (
	"context"
	"fmt"

	"github.com/alwitt/cardvault/db"
	"github.com/alwitt/cardvault/encryption"
	"github.com/alwitt/cardvault/models"
	"github.com/alwitt/cardvault/ratelimit"
	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// CardStore stores cards after encrypting every sensitive field
type CardStore interface {
	/*
		AddCard encrypt and record a new card

			@param ctx context.Context - execution context
			@param ownerID string - the owning user
			@param passphrase string - the session passphrase
			@param details models.CardDetails - plain text card details
			@param activeDBClient Database - existing database transaction
			@returns the stored card
	*/
	AddCard(
		ctx context.Context,
		ownerID string,
		passphrase string,
		details models.CardDetails,
		activeDBClient db.Database,
	) (models.Card, error)

	/*
		UpdateCard re-encrypt and replace the content of an existing card

			@param ctx context.Context - execution context
			@param ownerID string - the owning user
			@param cardID string - the card
			@param passphrase string - the session passphrase
			@param details models.CardDetails - plain text card details
			@param activeDBClient Database - existing database transaction
			@returns the stored card
	*/
	UpdateCard(
		ctx context.Context,
		ownerID string,
		cardID string,
		passphrase string,
		details models.CardDetails,
		activeDBClient db.Database,
	) (models.Card, error)

	/*
		DeleteCard delete a card

			@param ctx context.Context - execution context
			@param ownerID string - the owning user
			@param cardID string - the card
			@param activeDBClient Database - existing database transaction
	*/
	DeleteCard(ctx context.Context, ownerID string, cardID string, activeDBClient db.Database) error

	/*
		ListCards list the cards of a user

			@param ctx context.Context - execution context
			@param ownerID string - the owning user
			@param activeDBClient Database - existing database transaction
			@returns the encrypted cards
	*/
	ListCards(ctx context.Context, ownerID string, activeDBClient db.Database) ([]models.Card, error)

	/*
		GetCard fetch one card of a user

			@param ctx context.Context - execution context
			@param ownerID string - the owning user
			@param cardID string - the card
			@param activeDBClient Database - existing database transaction
			@returns the encrypted card
	*/
	GetCard(
		ctx context.Context, ownerID string, cardID string, activeDBClient db.Database,
	) (models.Card, error)
}

// cardStoreImpl implements CardStore
type cardStoreImpl struct {
	goutils.Component

	persistence db.Client
	codec       encryption.Codec
	limiter     ratelimit.Limiter
	validate    *validator.Validate
}

/*
NewCardStore define new card store

	@param persistence db.Client - persistence layer client
	@param codec encryption.Codec - field codec
	@param limiter ratelimit.Limiter - gate for card mutations
	@returns store instance
*/
func NewCardStore(
	persistence db.Client, codec encryption.Codec, limiter ratelimit.Limiter,
) (CardStore, error) {
	if persistence == nil || codec == nil || limiter == nil {
		return nil, fmt.Errorf("card store is missing a dependency")
	}

	logTags := log.Fields{"module": "store", "component": "card-store"}

	validate := validator.New()
	if err := models.RegisterWithValidator(validate); err != nil {
		return nil, fmt.Errorf("failed to register custom validators [%w]", err)
	}

	return &cardStoreImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: persistence,
		codec:       codec,
		limiter:     limiter,
		validate:    validate,
	}, nil
}

// encryptCard encrypt every sensitive field of the card details
func (s *cardStoreImpl) encryptCard(
	ctx context.Context, ownerID string, passphrase string, details models.CardDetails,
) (models.Card, error) {
	if passphrase == "" {
		return models.Card{}, fmt.Errorf("no passphrase [%w]", models.ErrSessionLocked)
	}
	if err := s.validate.Struct(&details); err != nil {
		return models.Card{}, fmt.Errorf("card details are not valid [%w]", err)
	}

	split, err := s.codec.EncryptSplit(ctx, details.CardNumber, passphrase)
	if err != nil {
		return models.Card{}, fmt.Errorf("failed to encrypt card number [%w]", err)
	}

	card := models.Card{
		OwnerID:           ownerID,
		CardNumberFirst:   split.Prefix,
		CardNumberLast4:   split.Last4,
		Theme:             details.Theme,
		IsAmex:            details.IsAmex,
		BillGenerationDay: details.BillGenerationDay,
		BillDueDay:        details.BillDueDay,
	}

	fields := []struct {
		name  string
		value string
		dest  *models.EncryptedField
	}{
		{name: "card holder", value: details.CardHolder, dest: &card.CardHolder},
		{name: "CVV", value: details.CVV, dest: &card.CVV},
		{name: "expiry", value: details.Expiry, dest: &card.Expiry},
		{name: "card name", value: details.CardName, dest: &card.CardName},
		{name: "bank name", value: details.BankName, dest: &card.BankName},
		{name: "network name", value: details.NetworkName, dest: &card.NetworkName},
	}
	for _, field := range fields {
		if *field.dest, err = s.codec.Encrypt(ctx, field.value, passphrase); err != nil {
			return models.Card{}, fmt.Errorf("failed to encrypt %s [%w]", field.name, err)
		}
	}

	return card, nil
}

func (s *cardStoreImpl) AddCard(
	ctx context.Context,
	ownerID string,
	passphrase string,
	details models.CardDetails,
	activeDBClient db.Database,
) (models.Card, error) {
	if err := s.limiter.Check(ratelimit.ActionRecordCreate, ownerID); err != nil {
		return models.Card{}, err
	}

	card, err := s.encryptCard(ctx, ownerID, passphrase, details)
	if err != nil {
		return models.Card{}, err
	}

	var stored models.Card
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			stored, err = dbClient.DefineNewCard(dbCtx, card)
			return err
		},
	); dbErr != nil {
		return models.Card{}, fmt.Errorf("failed to store new card [%w]", dbErr)
	}

	logTags := s.GetLogTagsForContext(ctx)
	log.WithFields(logTags).WithField("owner", ownerID).WithField("card", stored.ID).Info("Card added")
	return stored, nil
}

func (s *cardStoreImpl) UpdateCard(
	ctx context.Context,
	ownerID string,
	cardID string,
	passphrase string,
	details models.CardDetails,
	activeDBClient db.Database,
) (models.Card, error) {
	if err := s.limiter.Check(ratelimit.ActionRecordUpdate, ownerID); err != nil {
		return models.Card{}, err
	}

	card, err := s.encryptCard(ctx, ownerID, passphrase, details)
	if err != nil {
		return models.Card{}, err
	}
	card.ID = cardID

	var stored models.Card
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			stored, err = dbClient.UpdateCard(dbCtx, card)
			return err
		},
	); dbErr != nil {
		return models.Card{}, fmt.Errorf("failed to update card %s [%w]", cardID, dbErr)
	}

	logTags := s.GetLogTagsForContext(ctx)
	log.WithFields(logTags).WithField("owner", ownerID).WithField("card", cardID).Info("Card updated")
	return stored, nil
}

func (s *cardStoreImpl) DeleteCard(
	ctx context.Context, ownerID string, cardID string, activeDBClient db.Database,
) error {
	if err := s.limiter.Check(ratelimit.ActionRecordDelete, ownerID); err != nil {
		return err
	}

	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			return dbClient.DeleteCard(dbCtx, ownerID, cardID)
		},
	); dbErr != nil {
		return fmt.Errorf("failed to delete card %s [%w]", cardID, dbErr)
	}

	logTags := s.GetLogTagsForContext(ctx)
	log.WithFields(logTags).WithField("owner", ownerID).WithField("card", cardID).Info("Card deleted")
	return nil
}

func (s *cardStoreImpl) ListCards(
	ctx context.Context, ownerID string, activeDBClient db.Database,
) ([]models.Card, error) {
	var cards []models.Card
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			cards, err = dbClient.ListCards(dbCtx, db.CardQueryFilter{OwnerID: ownerID})
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf("failed to list cards of %s [%w]", ownerID, dbErr)
	}
	return cards, nil
}

func (s *cardStoreImpl) GetCard(
	ctx context.Context, ownerID string, cardID string, activeDBClient db.Database,
) (models.Card, error) {
	var card models.Card
	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			card, err = dbClient.GetCard(dbCtx, ownerID, cardID)
			return err
		},
	); dbErr != nil {
		return models.Card{}, fmt.Errorf("failed to fetch card %s [%w]", cardID, dbErr)
	}
	return card, nil
}
