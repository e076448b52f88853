package usecase

import (
	"sort"
	"strconv"

	"github.com/nbd-wtf/go-nostr"

	"github.com/milkmarket/milkd"
)

// Reconcile merges a cache snapshot with a fresh full-scan result.
//
// Fresh records win: any cached id absent from the fresh set is tombstoned
// and excluded from the merged view. Records sharing an entity key
// (address for addressable kinds, kind+author for replaceable kinds)
// resolve latest-createdAt-wins; an exact timestamp tie is broken by the
// lexicographically smaller id so the outcome is reproducible.
//
// The same routine serves listings, profiles and shop profiles. It is pure:
// eviction of tombstoned ids from the cache is the caller's job.
func Reconcile(cached, fresh []nostr.Event) (merged []nostr.Event, tombstones []string) {
	present := make(map[string]struct{}, len(fresh))
	for _, ev := range fresh {
		present[ev.ID] = struct{}{}
	}

	seen := make(map[string]struct{}, len(cached))
	for _, ev := range cached {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		if _, ok := present[ev.ID]; !ok {
			tombstones = append(tombstones, ev.ID)
		}
	}
	sort.Strings(tombstones)

	byKey := make(map[string]nostr.Event, len(fresh))
	for _, ev := range fresh {
		key := entityKey(ev)
		current, ok := byKey[key]
		if !ok || newerThan(ev, current) {
			byKey[key] = ev
		}
	}

	merged = make([]nostr.Event, 0, len(byKey))
	for _, ev := range byKey {
		merged = append(merged, ev)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt == merged[j].CreatedAt {
			return merged[i].ID < merged[j].ID
		}
		return merged[i].CreatedAt > merged[j].CreatedAt
	})
	return merged, tombstones
}

// newerThan reports whether a supersedes b under latest-wins with the
// deterministic id tiebreak.
func newerThan(a, b nostr.Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID < b.ID
}

// entityKey identifies the logical entity a record belongs to. Addressable
// records key by address, replaceable records by kind+author, everything
// else by its own id. Shop profiles are the exception among addressable
// kinds: a merchant has exactly one current shop descriptor, so the d-tag
// is ignored and the newest record per author wins.
func entityKey(ev nostr.Event) string {
	if ev.Kind != milkmarket.KindShopProfile {
		if addr, ok := milkmarket.AddressOf(ev); ok {
			return addr.String()
		}
	}
	if isReplaceable(ev.Kind) || ev.Kind == milkmarket.KindShopProfile {
		return strconv.Itoa(ev.Kind) + ":" + ev.PubKey
	}
	return ev.ID
}

func isReplaceable(kind int) bool {
	return kind == 0 || kind == 3 || (kind >= 10000 && kind < 20000)
}
