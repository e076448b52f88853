package usecase

import (
	"context"
	"errors"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/milkmarket/milkd"
	"github.com/milkmarket/milkd/internal/domain"
)

// --- shared mocks ---

// mockSigner "decrypts" ciphertexts of the form "enc:<plaintext>" and
// rejects everything else, which is enough to exercise the fail-closed
// paths without real cryptography.
type mockSigner struct {
	pubkey string
}

func (s *mockSigner) PublicKey() string { return s.pubkey }

func (s *mockSigner) Sign(ev *nostr.Event) error {
	ev.ID = ev.GetID()
	ev.Sig = "signed"
	return nil
}

func (s *mockSigner) Encrypt(peer, plaintext string) (string, error) {
	return "enc:" + plaintext, nil
}

func (s *mockSigner) Decrypt(peer, ciphertext string) (string, error) {
	if !strings.HasPrefix(ciphertext, "enc:") {
		return "", errors.New("not for us")
	}
	return ciphertext[4:], nil
}

func (s *mockSigner) Wrap(peer string, rumor nostr.Event) (nostr.Event, error) {
	return nostr.Event{Kind: milkmarket.KindGiftWrap, Tags: nostr.Tags{{"p", peer}}}, nil
}

type mockFetcher struct {
	// events returned for every Fetch call, keyed by first filter kind.
	byKind    map[int][]nostr.Event
	published []nostr.Event
	fetchErr  error
}

func (f *mockFetcher) Fetch(ctx context.Context, filters []nostr.Filter, relays []string) ([]nostr.Event, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	var out []nostr.Event
	seen := map[string]struct{}{}
	for _, filter := range filters {
		for _, kind := range filter.Kinds {
			for _, ev := range f.byKind[kind] {
				if len(filter.Authors) > 0 && !contains(filter.Authors, ev.PubKey) {
					continue
				}
				if _, dup := seen[ev.ID]; dup {
					continue
				}
				seen[ev.ID] = struct{}{}
				out = append(out, ev)
			}
		}
	}
	return out, nil
}

func (f *mockFetcher) Publish(ctx context.Context, ev nostr.Event, relays []string) error {
	f.published = append(f.published, ev)
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type mockEventCache struct {
	events  map[string]nostr.Event
	deleted []string
	readErr error
}

func newMockEventCache() *mockEventCache {
	return &mockEventCache{events: map[string]nostr.Event{}}
}

func (c *mockEventCache) Query(ctx context.Context, kinds []int, authors []string) ([]nostr.Event, error) {
	if c.readErr != nil {
		return nil, c.readErr
	}
	var out []nostr.Event
	for _, ev := range c.events {
		for _, kind := range kinds {
			if ev.Kind == kind {
				out = append(out, ev)
				break
			}
		}
	}
	return out, nil
}

func (c *mockEventCache) Save(ctx context.Context, events []nostr.Event) error {
	for _, ev := range events {
		c.events[ev.ID] = ev
	}
	return nil
}

func (c *mockEventCache) Delete(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(c.events, id)
		c.deleted = append(c.deleted, id)
	}
	return nil
}

type mockMessageCache struct {
	messages map[string]domain.Message
	saved    []domain.Message
}

func newMockMessageCache() *mockMessageCache {
	return &mockMessageCache{messages: map[string]domain.Message{}}
}

func (c *mockMessageCache) Get(ctx context.Context, id string) (*domain.Message, error) {
	if msg, ok := c.messages[id]; ok {
		copied := msg
		return &copied, nil
	}
	return nil, nil
}

func (c *mockMessageCache) Save(ctx context.Context, msgs []domain.Message) error {
	for _, msg := range msgs {
		c.messages[msg.ID] = msg
		c.saved = append(c.saved, msg)
	}
	return nil
}

// mockMintClient confirms the secrets listed in spent and fails whole
// mints listed in failing.
type mockMintClient struct {
	spent   map[string]bool
	failing map[string]bool
	calls   int
}

func (m *mockMintClient) CheckSpent(ctx context.Context, mintURL string, proofs []milkmarket.Proof) ([]bool, error) {
	m.calls++
	if m.failing[mintURL] {
		return nil, errors.New("mint unreachable")
	}
	out := make([]bool, len(proofs))
	for i, p := range proofs {
		out[i] = m.spent[p.Secret]
	}
	return out, nil
}

func (m *mockMintClient) Info(ctx context.Context, mintURL string) (domain.MintInfo, error) {
	if m.failing[mintURL] {
		return domain.MintInfo{}, errors.New("mint unreachable")
	}
	return domain.MintInfo{Name: mintURL}, nil
}

func (m *mockMintClient) MeltQuote(ctx context.Context, mintURL string, invoice string) (domain.MeltQuote, error) {
	if m.failing[mintURL] {
		return domain.MeltQuote{}, errors.New("mint unreachable")
	}
	return domain.MeltQuote{Quote: "quote-" + invoice, Amount: 21, FeeReserve: 1}, nil
}

type mockSettings struct {
	strings map[string][]string
	ints    map[string]int
}

func newMockSettings() *mockSettings {
	return &mockSettings{strings: map[string][]string{}, ints: map[string]int{}}
}

func (s *mockSettings) GetStrings(ctx context.Context, key string) ([]string, error) {
	return s.strings[key], nil
}

func (s *mockSettings) SetStrings(ctx context.Context, key string, values []string) error {
	s.strings[key] = values
	return nil
}

func (s *mockSettings) GetInt(ctx context.Context, key string) (int, error) {
	if v, ok := s.ints[key]; ok {
		return v, nil
	}
	return 0, domain.ErrNotFound
}

func (s *mockSettings) SetInt(ctx context.Context, key string, value int) error {
	s.ints[key] = value
	return nil
}
