package models

import (
	"time"
)

// CachedEvent is one raw record held in the durable cache between refresh
// cycles. Tags are stored as JSON; the d-tag and kind are denormalized for
// query paths.
type CachedEvent struct {
	ID        string    `json:"id" gorm:"primaryKey;type:text"`
	PubKey    string    `json:"pubkey" gorm:"type:text;index"`
	Kind      int       `json:"kind" gorm:"index"`
	CreatedAt int64     `json:"createdAt"`
	DTag      string    `json:"dTag" gorm:"type:text;index"`
	Tags      string    `json:"tags" gorm:"type:text"`
	Content   string    `json:"content" gorm:"type:text"`
	Sig       string    `json:"sig" gorm:"type:text"`
	CDate     time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// CachedMessage is one decrypted message, keyed by the inner rumor id.
// The read flag is local state and survives refreshes.
type CachedMessage struct {
	ID           string    `json:"id" gorm:"primaryKey;type:text"`
	Author       string    `json:"author" gorm:"type:text"`
	Counterparty string    `json:"counterparty" gorm:"type:text;index"`
	Subject      string    `json:"subject" gorm:"type:text"`
	Content      string    `json:"content" gorm:"type:text"`
	CreatedAt    int64     `json:"createdAt"`
	Outgoing     bool      `json:"outgoing"`
	Read         bool      `json:"read"`
	CDate        time.Time `json:"cdate" gorm:"->;<-:create;type:timestamp with time zone;not null;default:clock_timestamp()"`
}

// Setting is one persisted key/value of local state (relay lists, mints,
// wot level), JSON-encoded.
type Setting struct {
	Key   string `json:"key" gorm:"primaryKey;type:text"`
	Value string `json:"value" gorm:"type:text"`
}
