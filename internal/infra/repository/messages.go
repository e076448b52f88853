package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/milkmarket/milkd/internal/domain"
	"github.com/milkmarket/milkd/internal/infra/database/models"
)

// MessageRepository stores decrypted messages by inner id. The read flag
// is only ever written locally, so an existing row is never overwritten by
// a re-decrypted copy.
type MessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) Get(ctx context.Context, id string) (*domain.Message, error) {
	var row models.CachedMessage
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	msg := toMessage(row)
	return &msg, nil
}

func (r *MessageRepository) Save(ctx context.Context, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]models.CachedMessage, 0, len(msgs))
	for _, msg := range msgs {
		rows = append(rows, models.CachedMessage{
			ID:           msg.ID,
			Author:       msg.Author,
			Counterparty: msg.Counterparty,
			Subject:      msg.Subject,
			Content:      msg.Content,
			CreatedAt:    msg.CreatedAt,
			Outgoing:     msg.Outgoing,
			Read:         msg.Read,
		})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		DoNothing: true,
	}).Create(&rows).Error
}

// MarkRead flips the local read flag for every message in a thread.
func (r *MessageRepository) MarkRead(ctx context.Context, counterparty string) error {
	return r.db.WithContext(ctx).
		Model(&models.CachedMessage{}).
		Where("counterparty = ? AND read = false", counterparty).
		Update("read", true).Error
}

func toMessage(row models.CachedMessage) domain.Message {
	return domain.Message{
		ID:           row.ID,
		Author:       row.Author,
		Counterparty: row.Counterparty,
		Subject:      row.Subject,
		Content:      row.Content,
		CreatedAt:    row.CreatedAt,
		Outgoing:     row.Outgoing,
		Read:         row.Read,
	}
}
