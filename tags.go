package milkmarket

import (
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// Tag access helpers. All positional tag reads go through here so the rest
// of the codebase never indexes raw string slices.

// TagValue returns the second element of the first tag named key.
func TagValue(ev nostr.Event, key string) (string, bool) {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == key {
			return tag[1], true
		}
	}
	return "", false
}

// TagValues returns the second element of every tag named key, in order.
func TagValues(ev nostr.Event, key string) []string {
	var out []string
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == key {
			out = append(out, tag[1])
		}
	}
	return out
}

// RelayEntry is one entry of a relay-list record: a relay URL plus its
// read/write marker. An entry without a marker serves both directions.
type RelayEntry struct {
	URL   string
	Read  bool
	Write bool
}

// ParseRelayList decodes a kind-10002 record into relay entries.
func ParseRelayList(ev nostr.Event) []RelayEntry {
	var out []RelayEntry
	for _, tag := range ev.Tags {
		if len(tag) < 2 || tag[0] != "r" || tag[1] == "" {
			continue
		}
		entry := RelayEntry{URL: NormalizeRelayURL(tag[1]), Read: true, Write: true}
		if len(tag) >= 3 {
			switch tag[2] {
			case "read":
				entry.Write = false
			case "write":
				entry.Read = false
			}
		}
		out = append(out, entry)
	}
	return out
}

// ParseServerList decodes a kind-10063 media-server list.
func ParseServerList(ev nostr.Event) []string {
	return TagValues(ev, "server")
}

// EventRef is an e-tag reference carried by a spending-history record,
// marking a proof-bundle record as created or destroyed by a transaction.
type EventRef struct {
	EventID string
	Marker  string
}

// ParseEventRefs returns all e-tag references with their markers (the
// fourth tag element; empty when absent).
func ParseEventRefs(tags nostr.Tags) []EventRef {
	var out []EventRef
	for _, tag := range tags {
		if len(tag) < 2 || tag[0] != "e" || tag[1] == "" {
			continue
		}
		ref := EventRef{EventID: tag[1]}
		if len(tag) >= 4 {
			ref.Marker = tag[3]
		}
		out = append(out, ref)
	}
	return out
}

// NormalizeRelayURL lowercases the scheme and strips a trailing slash
// so the same relay never appears twice under cosmetic spelling variants.
func NormalizeRelayURL(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimSuffix(raw, "/")
	if raw == "" {
		return raw
	}
	if i := strings.Index(raw, "://"); i >= 0 {
		return strings.ToLower(raw[:i+3]) + raw[i+3:]
	}
	return "wss://" + raw
}
