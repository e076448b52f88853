package domain

import "sort"

// Subjects a decrypted message may carry. Anything else is dropped by the
// pipeline before it reaches a thread.
var AllowedSubjects = map[string]struct{}{
	"listing-inquiry": {},
	"order-payment":   {},
	"order-info":      {},
	"payment-change":  {},
	"order-receipt":   {},
	"shipping-info":   {},
}

// Message is a fully unwrapped and verified direct message. ID is the inner
// rumor id, not the randomized gift-wrap id.
type Message struct {
	ID           string `json:"id"`
	Author       string `json:"author"`
	Counterparty string `json:"counterparty"`
	Subject      string `json:"subject"`
	Content      string `json:"content"`
	CreatedAt    int64  `json:"createdAt"`
	Outgoing     bool   `json:"outgoing"`
	Read         bool   `json:"read"`
}

// Thread is the ordered conversation with one counterparty.
type Thread struct {
	Counterparty string    `json:"counterparty"`
	Messages     []Message `json:"messages"`
}

// SortAscending orders messages oldest-first. Only bulk loads sort; single
// incremental arrivals are inserted directionally instead so an open
// conversation does not reshuffle under the reader.
func (t *Thread) SortAscending() {
	sort.SliceStable(t.Messages, func(i, j int) bool {
		if t.Messages[i].CreatedAt == t.Messages[j].CreatedAt {
			return t.Messages[i].ID < t.Messages[j].ID
		}
		return t.Messages[i].CreatedAt < t.Messages[j].CreatedAt
	})
}

// LastActivity is the timestamp of the newest message, regardless of
// insertion order.
func (t *Thread) LastActivity() int64 {
	var latest int64
	for _, m := range t.Messages {
		if m.CreatedAt > latest {
			latest = m.CreatedAt
		}
	}
	return latest
}

// Insert places one incremental message: outgoing messages append,
// incoming messages prepend.
func (t *Thread) Insert(m Message) {
	if m.Outgoing {
		t.Messages = append(t.Messages, m)
		return
	}
	t.Messages = append([]Message{m}, t.Messages...)
}

// DropReason explains why the pipeline excluded a record, so behavior is
// inspectable in tests without log scraping.
type DropReason string

const (
	DropUndecryptableWrap DropReason = "undecryptable-wrap"
	DropUndecryptableSeal DropReason = "undecryptable-seal"
	DropMalformedSeal     DropReason = "malformed-seal"
	DropMalformedRumor    DropReason = "malformed-rumor"
	DropAuthorMismatch    DropReason = "author-mismatch"
	DropSubjectRejected   DropReason = "subject-rejected"
	DropNoCounterparty    DropReason = "no-counterparty"
	DropDuplicate         DropReason = "duplicate"
)

// Drop pairs a discarded record id with its reason.
type Drop struct {
	EventID string     `json:"eventId"`
	Reason  DropReason `json:"reason"`
}
