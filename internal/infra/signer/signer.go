// Package signer holds the local nostr key and the encryption built on it.
package signer

import (
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/nbd-wtf/go-nostr/nip44"
	"github.com/pkg/errors"

	"github.com/milkmarket/milkd"
)

// Timestamps on sealed layers are smeared backwards so the envelope does
// not leak when the inner message was written.
const maxTimestampJitter = 2 * 24 * time.Hour

type LocalSigner struct {
	privateKey string
	publicKey  string
}

// NewLocalSigner accepts the secret key as hex or nsec.
func NewLocalSigner(secretKey string) (*LocalSigner, error) {
	if strings.HasPrefix(secretKey, "nsec1") {
		prefix, decoded, err := nip19.Decode(secretKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode nsec")
		}
		if prefix != "nsec" {
			return nil, errors.Errorf("expected nsec, got %s", prefix)
		}
		secretKey = decoded.(string)
	}

	publicKey, err := nostr.GetPublicKey(secretKey)
	if err != nil {
		return nil, errors.Wrap(err, "invalid secret key")
	}

	return &LocalSigner{privateKey: secretKey, publicKey: publicKey}, nil
}

func (s *LocalSigner) PublicKey() string {
	return s.publicKey
}

func (s *LocalSigner) Sign(ev *nostr.Event) error {
	return ev.Sign(s.privateKey)
}

func (s *LocalSigner) Encrypt(peer string, plaintext string) (string, error) {
	key, err := nip44.GenerateConversationKey(peer, s.privateKey)
	if err != nil {
		return "", err
	}
	return nip44.Encrypt(plaintext, key)
}

func (s *LocalSigner) Decrypt(peer string, ciphertext string) (string, error) {
	key, err := nip44.GenerateConversationKey(peer, s.privateKey)
	if err != nil {
		return "", err
	}
	return nip44.Decrypt(ciphertext, key)
}

// Wrap seals the rumor with the local key and gift-wraps the seal under a
// throwaway key, so relays see neither author nor content.
func (s *LocalSigner) Wrap(peer string, rumor nostr.Event) (nostr.Event, error) {
	rumorJSON, err := json.Marshal(rumor)
	if err != nil {
		return nostr.Event{}, err
	}

	sealContent, err := s.Encrypt(peer, string(rumorJSON))
	if err != nil {
		return nostr.Event{}, errors.Wrap(err, "failed to encrypt rumor")
	}

	seal := nostr.Event{
		Kind:      milkmarket.KindSeal,
		CreatedAt: jitteredNow(),
		Tags:      nostr.Tags{},
		Content:   sealContent,
	}
	if err := seal.Sign(s.privateKey); err != nil {
		return nostr.Event{}, errors.Wrap(err, "failed to sign seal")
	}

	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nostr.Event{}, err
	}

	wrapKey := nostr.GeneratePrivateKey()
	conversationKey, err := nip44.GenerateConversationKey(peer, wrapKey)
	if err != nil {
		return nostr.Event{}, err
	}
	wrapContent, err := nip44.Encrypt(string(sealJSON), conversationKey)
	if err != nil {
		return nostr.Event{}, errors.Wrap(err, "failed to encrypt seal")
	}

	wrap := nostr.Event{
		Kind:      milkmarket.KindGiftWrap,
		CreatedAt: jitteredNow(),
		Tags:      nostr.Tags{{"p", peer}},
		Content:   wrapContent,
	}
	if err := wrap.Sign(wrapKey); err != nil {
		return nostr.Event{}, errors.Wrap(err, "failed to sign gift wrap")
	}
	return wrap, nil
}

func jitteredNow() nostr.Timestamp {
	jitter := time.Duration(rand.Int63n(int64(maxTimestampJitter)))
	return nostr.Timestamp(time.Now().Add(-jitter).Unix())
}
