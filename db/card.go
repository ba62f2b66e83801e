package db

import (
	"context"
	"fmt"

	"github.com/alwitt/cardvault/models"
	"github.com/google/uuid"
)

/*
DefineNewCard record a new card

	@param ctx context.Context - execution context
	@param card models.Card - the card. A new ID is assigned if not set.
	@returns card entry
*/
func (d *databaseImpl) DefineNewCard(ctx context.Context, card models.Card) (models.Card, error) {
	if card.ID == "" {
		card.ID = uuid.NewString()
	}
	newEntry := CardDBEntry{Card: card}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.Card{}, fmt.Errorf("new card %s is not valid [%w]", card.ID, err)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.Card{}, fmt.Errorf("new card %s failed insert [%w]", card.ID, tmp.Error)
	}

	// Record this event
	if _, err := d.RecordAuditEvent(
		ctx,
		card.OwnerID,
		models.AuditEventTypeAddCard,
		models.AuditEventCardRelated{CardID: newEntry.ID},
	); err != nil {
		return models.Card{}, fmt.Errorf(
			"failed to log add new card %s audit event [%w]", newEntry.ID, err,
		)
	}

	return newEntry.Card, nil
}

// getCardEntry find a card by ID within the owner partition
func (d *databaseImpl) getCardEntry(ownerID string, cardID string) (CardDBEntry, error) {
	var entry CardDBEntry
	err := d.db.Where("owner_id = ? AND id = ?", ownerID, cardID).First(&entry).Error
	return entry, notFoundAware(err)
}

/*
GetCard fetch a card by ID

	@param ctx context.Context - execution context
	@param ownerID string - the owning user
	@param cardID string - card ID
	@returns card entry
*/
func (d *databaseImpl) GetCard(
	_ context.Context, ownerID string, cardID string,
) (models.Card, error) {
	entry, err := d.getCardEntry(ownerID, cardID)
	if err != nil {
		return models.Card{}, fmt.Errorf("failed to fetch card %s [%w]", cardID, err)
	}

	return entry.Card, nil
}

/*
ListCards list the cards of one user

	@param ctx context.Context - execution context
	@param filters CardQueryFilter - entry listing filter
	@return list of cards
*/
func (d *databaseImpl) ListCards(
	_ context.Context, filters CardQueryFilter,
) ([]models.Card, error) {
	if filters.OwnerID == "" {
		return nil, fmt.Errorf("card listing requires an owner")
	}

	query := d.db.Model(&CardDBEntry{}).Where("owner_id = ?", filters.OwnerID)

	if filters.Limit != nil {
		query = query.Limit(*filters.Limit)
	}
	if filters.Offset != nil {
		query = query.Offset(*filters.Offset)
	}

	query = query.Order("created_at").Order("id")

	var entries []CardDBEntry
	if tmp := query.Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to list cards [%w]", tmp.Error)
	}

	result := []models.Card{}
	for _, entry := range entries {
		result = append(result, entry.Card)
	}

	return result, nil
}

/*
UpdateCard replace the fields of an existing card

	@param ctx context.Context - execution context
	@param card models.Card - the new card content
	@returns card entry
*/
func (d *databaseImpl) UpdateCard(ctx context.Context, card models.Card) (models.Card, error) {
	entry, err := d.getCardEntry(card.OwnerID, card.ID)
	if err != nil {
		return models.Card{}, fmt.Errorf("failed to fetch card %s [%w]", card.ID, err)
	}

	card.CreatedAt = entry.CreatedAt
	updated := CardDBEntry{Card: card}
	if err := d.validator.Struct(&updated); err != nil {
		return models.Card{}, fmt.Errorf("updated card %s is not valid [%w]", card.ID, err)
	}

	if tmp := d.db.Save(&updated); tmp.Error != nil {
		return models.Card{}, fmt.Errorf("card %s update failed [%w]", card.ID, tmp.Error)
	}

	// Record this event
	if _, err := d.RecordAuditEvent(
		ctx,
		card.OwnerID,
		models.AuditEventTypeUpdateCard,
		models.AuditEventCardRelated{CardID: card.ID},
	); err != nil {
		return models.Card{}, fmt.Errorf(
			"failed to log update card %s audit event [%w]", card.ID, err,
		)
	}

	return updated.Card, nil
}

/*
DeleteCard delete a card

	@param ctx context.Context - execution context
	@param ownerID string - the owning user
	@param cardID string - card ID
*/
func (d *databaseImpl) DeleteCard(ctx context.Context, ownerID string, cardID string) error {
	entry, err := d.getCardEntry(ownerID, cardID)
	if err != nil {
		return fmt.Errorf("failed to fetch card %s [%w]", cardID, err)
	}

	if tmp := d.db.Delete(&entry); tmp.Error != nil {
		return fmt.Errorf("failed to delete card %s [%w]", cardID, tmp.Error)
	}

	// Record this event
	if _, err := d.RecordAuditEvent(
		ctx,
		ownerID,
		models.AuditEventTypeDeleteCard,
		models.AuditEventCardRelated{CardID: cardID},
	); err != nil {
		return fmt.Errorf("failed to log delete card %s audit event [%w]", cardID, err)
	}

	return nil
}
