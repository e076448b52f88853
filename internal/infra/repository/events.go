package repository

import (
	"context"
	"encoding/json"

	"github.com/nbd-wtf/go-nostr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/milkmarket/milkd"
	"github.com/milkmarket/milkd/internal/infra/database/models"
)

// EventRepository is the durable record cache behind the cache-first
// reconciler.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Query(ctx context.Context, kinds []int, authors []string) ([]nostr.Event, error) {
	query := r.db.WithContext(ctx).Where("kind IN ?", kinds)
	if len(authors) > 0 {
		query = query.Where("pub_key IN ?", authors)
	}

	var rows []models.CachedEvent
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}

	events := make([]nostr.Event, 0, len(rows))
	for _, row := range rows {
		ev, err := toEvent(row)
		if err != nil {
			// A corrupt row degrades to a cache miss for that record.
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func (r *EventRepository) Save(ctx context.Context, events []nostr.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]models.CachedEvent, 0, len(events))
	for _, ev := range events {
		row, err := toRow(ev)
		if err != nil {
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	// Records are immutable: re-saving a known id is a no-op.
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		DoNothing: true,
	}).Create(&rows).Error
}

func (r *EventRepository) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.CachedEvent{}).Error
}

func toRow(ev nostr.Event) (models.CachedEvent, error) {
	tags, err := json.Marshal(ev.Tags)
	if err != nil {
		return models.CachedEvent{}, err
	}
	dTag, _ := milkmarket.TagValue(ev, "d")
	return models.CachedEvent{
		ID:        ev.ID,
		PubKey:    ev.PubKey,
		Kind:      ev.Kind,
		CreatedAt: int64(ev.CreatedAt),
		DTag:      dTag,
		Tags:      string(tags),
		Content:   ev.Content,
		Sig:       ev.Sig,
	}, nil
}

func toEvent(row models.CachedEvent) (nostr.Event, error) {
	var tags nostr.Tags
	if row.Tags != "" {
		if err := json.Unmarshal([]byte(row.Tags), &tags); err != nil {
			return nostr.Event{}, err
		}
	}
	return nostr.Event{
		ID:        row.ID,
		PubKey:    row.PubKey,
		Kind:      row.Kind,
		CreatedAt: nostr.Timestamp(row.CreatedAt),
		Tags:      tags,
		Content:   row.Content,
		Sig:       row.Sig,
	}, nil
}
