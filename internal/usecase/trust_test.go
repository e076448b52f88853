package usecase

import (
	"context"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/milkmarket/milkd"
)

func followList(id, author string, createdAt int64, follows ...string) nostr.Event {
	tags := nostr.Tags{}
	for _, pk := range follows {
		tags = append(tags, nostr.Tag{"p", pk})
	}
	return nostr.Event{
		ID:        id,
		PubKey:    author,
		Kind:      milkmarket.KindFollowList,
		CreatedAt: nostr.Timestamp(createdAt),
		Tags:      tags,
	}
}

func TestTrustGraphTwoHopAdmission(t *testing.T) {
	fetcher := &mockFetcher{byKind: map[int][]nostr.Event{
		milkmarket.KindFollowList: {
			followList("root-list", "root", 10, "f1", "f2", "f3"),
			followList("l1", "f1", 10, "c1", "c2"),
			followList("l2", "f2", 10, "c1"),
			followList("l3", "f3", 10, "c2", "root"),
		},
	}}
	b := NewTrustGraphBuilder(fetcher, "seed")

	graph, err := b.Build(context.Background(), "root", 2, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	if len(graph.FirstDegree) != 3 {
		t.Fatalf("expected 3 first-degree, got %v", graph.FirstDegree)
	}
	// c1 referenced by f1+f2 (2 >= 2), c2 by f1+f3 (2 >= 2).
	if len(graph.SecondDegree) != 2 {
		t.Fatalf("expected 2 admitted candidates, got %v", graph.SecondDegree)
	}
	if !graph.Contains("c1") || !graph.Contains("c2") {
		t.Fatalf("admitted candidates missing from members")
	}
	if graph.Contains("nobody") {
		t.Fatalf("unknown pubkey must not be a member")
	}
	if graph.UsedFallback {
		t.Fatalf("fallback must not trigger for a rooted graph")
	}
}

func TestTrustGraphThreshold(t *testing.T) {
	fetcher := &mockFetcher{byKind: map[int][]nostr.Event{
		milkmarket.KindFollowList: {
			followList("root-list", "root", 10, "f1", "f2"),
			followList("l1", "f1", 10, "c1"),
			followList("l2", "f2", 10, "c2"),
		},
	}}
	b := NewTrustGraphBuilder(fetcher, "seed")

	graph, err := b.Build(context.Background(), "root", 2, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(graph.SecondDegree) != 0 {
		t.Fatalf("single-occurrence candidates must not be admitted at threshold 2: %v", graph.SecondDegree)
	}
}

func TestTrustGraphOversizedThresholdAdmitsNothing(t *testing.T) {
	fetcher := &mockFetcher{byKind: map[int][]nostr.Event{
		milkmarket.KindFollowList: {
			followList("root-list", "root", 10, "f1"),
			followList("l1", "f1", 10, "c1", "c2", "c3"),
		},
	}}
	b := NewTrustGraphBuilder(fetcher, "seed")

	graph, err := b.Build(context.Background(), "root", 99, nil)
	if err != nil {
		t.Fatalf("oversized threshold must not error: %v", err)
	}
	if len(graph.SecondDegree) != 0 {
		t.Fatalf("oversized threshold must admit nothing, got %v", graph.SecondDegree)
	}
	if len(graph.FirstDegree) != 1 {
		t.Fatalf("first degree unaffected by threshold, got %v", graph.FirstDegree)
	}
}

func TestTrustGraphSeedFallback(t *testing.T) {
	fetcher := &mockFetcher{byKind: map[int][]nostr.Event{
		milkmarket.KindFollowList: {
			followList("seed-list", "seed", 10, "f1", "f2"),
			followList("l1", "f1", 10, "c1"),
			followList("l2", "f2", 10, "c1"),
		},
	}}
	b := NewTrustGraphBuilder(fetcher, "seed")

	graph, err := b.Build(context.Background(), "newcomer", 2, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if !graph.UsedFallback {
		t.Fatalf("expected fallback to seed identity")
	}
	if graph.Root != "seed" {
		t.Fatalf("fallback graph must be rooted at the seed, got %s", graph.Root)
	}

	// The fallback result equals running the procedure on the seed itself.
	direct, err := b.Build(context.Background(), "seed", 2, nil)
	if err != nil {
		t.Fatalf("direct build failed: %v", err)
	}
	if len(direct.Members) != len(graph.Members) {
		t.Fatalf("fallback graph differs from direct seed graph")
	}
	for pk := range direct.Members {
		if !graph.Members[pk] {
			t.Fatalf("fallback graph missing %s", pk)
		}
	}
}

func TestTrustGraphNewestFollowListWins(t *testing.T) {
	fetcher := &mockFetcher{byKind: map[int][]nostr.Event{
		milkmarket.KindFollowList: {
			followList("old", "root", 10, "stale"),
			followList("new", "root", 20, "fresh"),
		},
	}}
	b := NewTrustGraphBuilder(fetcher, "seed")

	graph, err := b.Build(context.Background(), "root", 1, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(graph.FirstDegree) != 1 || graph.FirstDegree[0] != "fresh" {
		t.Fatalf("expected newest follow list to win, got %v", graph.FirstDegree)
	}
}
