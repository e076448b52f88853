package usecase

import (
	"context"
	"sort"

	"github.com/nbd-wtf/go-nostr"
	"go.opentelemetry.io/otel"

	"github.com/milkmarket/milkd"
	"github.com/milkmarket/milkd/internal/domain"
)

var trustTracer = otel.Tracer("trust")

// TrustGraphBuilder expands a root identity's follow list two hops out.
// Second-degree candidates are admitted only when enough distinct
// first-degree follows reference them.
type TrustGraphBuilder struct {
	fetcher Fetcher
	// seed is the identity the graph falls back to when the root has no
	// follow list, so a fresh user never sees an empty marketplace.
	seed string
}

func NewTrustGraphBuilder(fetcher Fetcher, seed string) *TrustGraphBuilder {
	return &TrustGraphBuilder{fetcher: fetcher, seed: seed}
}

// Build computes the follow graph for root at the given admission
// threshold. A threshold larger than the candidate pool admits nothing; it
// never errors.
func (b *TrustGraphBuilder) Build(ctx context.Context, root string, threshold int, relays []string) (*domain.FollowGraph, error) {
	ctx, span := trustTracer.Start(ctx, "TrustGraphBuilder.Build")
	defer span.End()

	if threshold < 1 {
		threshold = 1
	}

	firstDegree, err := b.follows(ctx, root, relays)
	if err != nil {
		return nil, err
	}
	if len(firstDegree) == 0 && root != b.seed && b.seed != "" {
		graph, err := b.Build(ctx, b.seed, threshold, relays)
		if err != nil {
			return nil, err
		}
		graph.UsedFallback = true
		return graph, nil
	}

	graph := &domain.FollowGraph{
		Root:        root,
		Threshold:   threshold,
		FirstDegree: firstDegree,
		Members:     make(map[string]bool, len(firstDegree)),
	}
	first := make(map[string]struct{}, len(firstDegree))
	for _, pk := range firstDegree {
		first[pk] = struct{}{}
		graph.Members[pk] = true
	}

	if len(firstDegree) == 0 {
		return graph, nil
	}

	lists, err := b.fetcher.Fetch(ctx, []nostr.Filter{{
		Kinds:   []int{milkmarket.KindFollowList},
		Authors: firstDegree,
	}}, relays)
	if err != nil {
		return nil, err
	}

	// Each first-degree author contributes at most one follow list (the
	// newest) and counts each candidate once.
	newest := map[string]nostr.Event{}
	for _, ev := range lists {
		if current, ok := newest[ev.PubKey]; !ok || newerThan(ev, current) {
			newest[ev.PubKey] = ev
		}
	}

	occurrences := map[string]int{}
	for _, ev := range newest {
		counted := map[string]struct{}{}
		for _, candidate := range milkmarket.TagValues(ev, "p") {
			if candidate == root {
				continue
			}
			if _, ok := first[candidate]; ok {
				continue
			}
			if _, ok := counted[candidate]; ok {
				continue
			}
			counted[candidate] = struct{}{}
			occurrences[candidate]++
		}
	}

	for candidate, count := range occurrences {
		if count >= threshold {
			graph.SecondDegree = append(graph.SecondDegree, candidate)
			graph.Members[candidate] = true
		}
	}
	sort.Strings(graph.SecondDegree)

	return graph, nil
}

// follows returns the first-degree pubkeys from root's newest follow list.
func (b *TrustGraphBuilder) follows(ctx context.Context, root string, relays []string) ([]string, error) {
	events, err := b.fetcher.Fetch(ctx, []nostr.Filter{{
		Kinds:   []int{milkmarket.KindFollowList},
		Authors: []string{root},
	}}, relays)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}

	newest := events[0]
	for _, ev := range events[1:] {
		if newerThan(ev, newest) {
			newest = ev
		}
	}

	var out []string
	seen := map[string]struct{}{}
	for _, pk := range milkmarket.TagValues(newest, "p") {
		if pk == root {
			continue
		}
		if _, ok := seen[pk]; ok {
			continue
		}
		seen[pk] = struct{}{}
		out = append(out, pk)
	}
	return out, nil
}
