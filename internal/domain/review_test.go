package domain

import (
	"math"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/milkmarket/milkd"
)

func reviewEvent(reviewer, dTag string, ratings ...nostr.Tag) nostr.Event {
	tags := nostr.Tags{{"d", dTag}}
	tags = append(tags, ratings...)
	return nostr.Event{
		ID:        "rev-" + reviewer,
		PubKey:    reviewer,
		Kind:      milkmarket.KindReview,
		CreatedAt: 50,
		Tags:      tags,
	}
}

func TestReviewFromEvent(t *testing.T) {
	ev := reviewEvent("alice", "a:30402:merchant:whole-milk",
		nostr.Tag{"rating", "1", "thumb"},
		nostr.Tag{"rating", "0", "communication"},
	)
	r, err := ReviewFromEvent(ev)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if r.Merchant != "merchant" || r.Product != "whole-milk" || r.Reviewer != "alice" {
		t.Fatalf("unexpected review: %+v", r)
	}
	if len(r.Ratings) != 2 {
		t.Fatalf("expected 2 ratings, got %d", len(r.Ratings))
	}
}

func TestReviewFromEventRejectsBadAddress(t *testing.T) {
	for _, d := range []string{"", "whole-milk", "a:31555:merchant:x", "a:30402::x"} {
		ev := reviewEvent("bob", d)
		if _, err := ReviewFromEvent(ev); err == nil {
			t.Fatalf("expected error for d-tag %q", d)
		}
	}
}

func TestReviewScoreWeighting(t *testing.T) {
	cases := []struct {
		name    string
		ratings []Rating
		want    float64
	}{
		{"thumb only", []Rating{{"thumb", 1}}, 1.0},
		{"no ratings", nil, 0},
		{"thumb plus one facet", []Rating{{"thumb", 1}, {"quality", 0}}, 0.5},
		{"thumb plus two facets", []Rating{{"thumb", 1}, {"quality", 1}, {"delivery", 0}}, 0.75},
		{"facets only", []Rating{{"quality", 1}, {"delivery", 1}}, 0.5},
	}
	for _, tc := range cases {
		got := Review{Ratings: tc.ratings}.Score()
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}
