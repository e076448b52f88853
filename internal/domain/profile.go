package domain

import (
	"encoding/json"

	"github.com/nbd-wtf/go-nostr"
)

// Profile is the projection of a kind-0 user metadata record. Exactly one
// profile per pubkey is current at a time; a newer record replaces the
// whole projection, never merges into it.
type Profile struct {
	PubKey    string `json:"pubkey"`
	Name      string `json:"name,omitempty"`
	About     string `json:"about,omitempty"`
	Picture   string `json:"picture,omitempty"`
	Banner    string `json:"banner,omitempty"`
	NIP05     string `json:"nip05,omitempty"`
	LUD16     string `json:"lud16,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

func ProfileFromEvent(ev nostr.Event) (Profile, error) {
	var content struct {
		Name    string `json:"name"`
		About   string `json:"about"`
		Picture string `json:"picture"`
		Banner  string `json:"banner"`
		NIP05   string `json:"nip05"`
		LUD16   string `json:"lud16"`
	}
	if err := json.Unmarshal([]byte(ev.Content), &content); err != nil {
		return Profile{}, ErrMalformedContent
	}
	return Profile{
		PubKey:    ev.PubKey,
		Name:      content.Name,
		About:     content.About,
		Picture:   content.Picture,
		Banner:    content.Banner,
		NIP05:     content.NIP05,
		LUD16:     content.LUD16,
		CreatedAt: int64(ev.CreatedAt),
	}, nil
}

// ShopProfile is the projection of a kind-30019 shop descriptor.
type ShopProfile struct {
	PubKey    string `json:"pubkey"`
	Name      string `json:"name,omitempty"`
	About     string `json:"about,omitempty"`
	UI        ShopUI `json:"ui"`
	CreatedAt int64  `json:"createdAt"`
}

// ShopUI carries the decoration fields the storefront renders.
type ShopUI struct {
	Picture string `json:"picture,omitempty"`
	Banner  string `json:"banner,omitempty"`
	Theme   string `json:"theme,omitempty"`
}

func ShopProfileFromEvent(ev nostr.Event) (ShopProfile, error) {
	var content struct {
		Name  string `json:"name"`
		About string `json:"about"`
		UI    ShopUI `json:"ui"`
	}
	if err := json.Unmarshal([]byte(ev.Content), &content); err != nil {
		return ShopProfile{}, ErrMalformedContent
	}
	return ShopProfile{
		PubKey:    ev.PubKey,
		Name:      content.Name,
		About:     content.About,
		UI:        content.UI,
		CreatedAt: int64(ev.CreatedAt),
	}, nil
}
