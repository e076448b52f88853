package milkmarket

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/zeebo/xxh3"
)

// Record kinds understood by the engine. The numeric values are part of the
// relay-network protocol and must not be changed.
const (
	KindProfile         = 0
	KindFollowList      = 3
	KindDeletion        = 5
	KindSeal            = 13
	KindGiftWrap        = 1059
	KindProofBundle     = 7375
	KindSpendingHistory = 7376
	KindRelayList       = 10002
	KindBlossomList     = 10063
	KindWalletMeta      = 17375
	KindShopProfile     = 30019
	KindListing         = 30402
	KindReview          = 31555
	KindWalletMetaOld   = 37375
)

// Marketplace tags stamped on listing records.
const (
	MarketTag     = "MilkMarket"
	FreeMarketTag = "FREEMILK"
)

// Address identifies the logical entity a record replaces across
// republications: all records sharing (kind, pubkey, d-tag) describe the
// same entity and the newest createdAt wins.
type Address struct {
	Kind   int    `json:"kind"`
	PubKey string `json:"pubkey"`
	DTag   string `json:"dTag"`
}

func (a Address) String() string {
	return fmt.Sprintf("%d:%s:%s", a.Kind, a.PubKey, a.DTag)
}

// ParseAddress parses a "kind:pubkey:dTag" reference. The d-tag itself may
// contain colons, so only the first two separators split.
func ParseAddress(s string) (Address, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Address{}, fmt.Errorf("malformed address: %s", s)
	}
	kind, err := strconv.Atoi(parts[0])
	if err != nil {
		return Address{}, fmt.Errorf("malformed address kind: %s", s)
	}
	if parts[1] == "" {
		return Address{}, fmt.Errorf("malformed address pubkey: %s", s)
	}
	return Address{Kind: kind, PubKey: parts[1], DTag: parts[2]}, nil
}

// AddressOf derives the address of an addressable (parameterized
// replaceable) record. ok is false for records outside the addressable
// range or without a d-tag.
func AddressOf(ev nostr.Event) (Address, bool) {
	if ev.Kind < 30000 || ev.Kind >= 40000 {
		return Address{}, false
	}
	d, ok := TagValue(ev, "d")
	if !ok {
		return Address{}, false
	}
	return Address{Kind: ev.Kind, PubKey: ev.PubKey, DTag: d}, true
}

// Proof is a bearer ecash token fragment held against a mint keyset.
// Proofs are fungible: identity is full structural equality, never the
// identity of the record that carried them.
type Proof struct {
	ID     string `json:"id"`
	Amount uint64 `json:"amount"`
	Secret string `json:"secret"`
	C      string `json:"C"`
}

// Fingerprint returns a structural-equality key for deduplication.
func (p Proof) Fingerprint() [2]uint64 {
	sum := xxh3.HashString128(p.ID + "\x00" + strconv.FormatUint(p.Amount, 10) + "\x00" + p.Secret + "\x00" + p.C)
	return [2]uint64{sum.Hi, sum.Lo}
}

// SumProofs returns the total face value of a proof set.
func SumProofs(proofs []Proof) uint64 {
	var total uint64
	for _, p := range proofs {
		total += p.Amount
	}
	return total
}

// DedupProofs collapses structurally equal proofs to one, preserving first
// occurrence order. Republished bundles must not double-count value.
func DedupProofs(proofs []Proof) []Proof {
	seen := make(map[[2]uint64]struct{}, len(proofs))
	out := make([]Proof, 0, len(proofs))
	for _, p := range proofs {
		key := p.Fingerprint()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}
