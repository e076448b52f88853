package usecase

import (
	"context"

	"github.com/nbd-wtf/go-nostr"

	"github.com/milkmarket/milkd"
	"github.com/milkmarket/milkd/internal/domain"
)

// Fetcher is the multi-relay query coordinator: it fans the filter set out
// over every relay, absorbs per-relay failures, and returns the deduplicated
// union. No ordering is guaranteed.
type Fetcher interface {
	Fetch(ctx context.Context, filters []nostr.Filter, relays []string) ([]nostr.Event, error)
	Publish(ctx context.Context, ev nostr.Event, relays []string) error
}

// Signer is the local key capability. Encrypt/Decrypt operate on the
// conversation key between the local key and peer.
type Signer interface {
	PublicKey() string
	Sign(ev *nostr.Event) error
	Encrypt(peer string, plaintext string) (string, error)
	Decrypt(peer string, ciphertext string) (string, error)
	// Wrap seals and gift-wraps a rumor for peer under a throwaway wrap key.
	Wrap(peer string, rumor nostr.Event) (nostr.Event, error)
}

// EventCache is the durable record cache hydrated at cycle start and
// rewritten at cycle end.
type EventCache interface {
	Query(ctx context.Context, kinds []int, authors []string) ([]nostr.Event, error)
	Save(ctx context.Context, events []nostr.Event) error
	Delete(ctx context.Context, ids []string) error
}

// MessageCache stores decrypted messages by inner id, preserving local
// flags (read state) across refreshes.
type MessageCache interface {
	Get(ctx context.Context, id string) (*domain.Message, error)
	Save(ctx context.Context, msgs []domain.Message) error
}

// MintClient talks to one Cashu mint. CheckSpent returns a slice aligned
// with the input: true means the mint positively confirmed the proof as
// spent.
type MintClient interface {
	CheckSpent(ctx context.Context, mintURL string, proofs []milkmarket.Proof) ([]bool, error)
	Info(ctx context.Context, mintURL string) (domain.MintInfo, error)
	MeltQuote(ctx context.Context, mintURL string, invoice string) (domain.MeltQuote, error)
}

// Settings is the persisted local state read at cycle start and written at
// cycle end: relay lists, mint list, wot level.
type Settings interface {
	GetStrings(ctx context.Context, key string) ([]string, error)
	SetStrings(ctx context.Context, key string, values []string) error
	GetInt(ctx context.Context, key string) (int, error)
	SetInt(ctx context.Context, key string, value int) error
}

// Settings keys.
const (
	SettingRelays         = "relays"
	SettingReadRelays     = "readRelays"
	SettingWriteRelays    = "writeRelays"
	SettingBlossomServers = "blossomServers"
	SettingMints          = "mints"
	SettingWot            = "wot"
)
