package milkmarket

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("30402:abc123:my-listing")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if addr.Kind != 30402 || addr.PubKey != "abc123" || addr.DTag != "my-listing" {
		t.Fatalf("unexpected address: %+v", addr)
	}
}

func TestParseAddressDTagWithColons(t *testing.T) {
	addr, err := ParseAddress("31555:pub:a:30402:merchant:product")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if addr.DTag != "a:30402:merchant:product" {
		t.Fatalf("d-tag split too eagerly: %q", addr.DTag)
	}
}

func TestParseAddressMalformed(t *testing.T) {
	for _, s := range []string{"", "30402", "30402:pub", "x:pub:d", "30402::d"} {
		if _, err := ParseAddress(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestAddressOf(t *testing.T) {
	ev := nostr.Event{
		Kind:   KindListing,
		PubKey: "merchant",
		Tags:   nostr.Tags{{"d", "widget"}, {"t", MarketTag}},
	}
	addr, ok := AddressOf(ev)
	if !ok {
		t.Fatalf("expected addressable record")
	}
	if addr.String() != "30402:merchant:widget" {
		t.Fatalf("unexpected address: %s", addr)
	}

	if _, ok := AddressOf(nostr.Event{Kind: KindProfile, PubKey: "x"}); ok {
		t.Fatalf("profile must not be addressable")
	}
	if _, ok := AddressOf(nostr.Event{Kind: KindListing, PubKey: "x"}); ok {
		t.Fatalf("listing without d-tag must not be addressable")
	}
}

func TestDedupProofs(t *testing.T) {
	a := Proof{ID: "ks1", Amount: 4, Secret: "s1", C: "c1"}
	b := Proof{ID: "ks1", Amount: 4, Secret: "s2", C: "c2"}
	got := DedupProofs([]Proof{a, b, a, a})
	if len(got) != 2 {
		t.Fatalf("expected 2 proofs, got %d", len(got))
	}
	if SumProofs(got) != 8 {
		t.Fatalf("expected total 8, got %d", SumProofs(got))
	}
}

func TestParseRelayList(t *testing.T) {
	ev := nostr.Event{
		Kind: KindRelayList,
		Tags: nostr.Tags{
			{"r", "wss://relay.one/"},
			{"r", "wss://relay.two", "read"},
			{"r", "wss://relay.three", "write"},
		},
	}
	entries := ParseRelayList(ev)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].URL != "wss://relay.one" || !entries[0].Read || !entries[0].Write {
		t.Fatalf("untagged entry should serve both directions: %+v", entries[0])
	}
	if entries[1].Write || !entries[1].Read {
		t.Fatalf("read entry wrong: %+v", entries[1])
	}
	if entries[2].Read || !entries[2].Write {
		t.Fatalf("write entry wrong: %+v", entries[2])
	}
}

func TestParseEventRefs(t *testing.T) {
	refs := ParseEventRefs(nostr.Tags{
		{"e", "id1", "", "created"},
		{"e", "id2", "", "destroyed"},
		{"e", "id3"},
		{"p", "somebody"},
	})
	if len(refs) != 3 {
		t.Fatalf("expected 3 refs, got %d", len(refs))
	}
	if refs[0].Marker != "created" || refs[1].Marker != "destroyed" || refs[2].Marker != "" {
		t.Fatalf("unexpected markers: %+v", refs)
	}
}

func TestNormalizeRelayURL(t *testing.T) {
	if got := NormalizeRelayURL("WSS://Relay.One/"); got != "wss://Relay.One" {
		t.Fatalf("unexpected: %q", got)
	}
	if got := NormalizeRelayURL("relay.bare"); got != "wss://relay.bare" {
		t.Fatalf("unexpected: %q", got)
	}
}
