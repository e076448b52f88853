package usecase

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/milkmarket/milkd/internal/domain"
)

// ReviewSet is the folded output of the review aggregator.
type ReviewSet struct {
	// MerchantScores holds every current weighted score per merchant,
	// unfiltered, for averaging by the consumer.
	MerchantScores map[string][]float64 `json:"merchantScores"`
	// ProductReviews holds the latest review per reviewer per product:
	// merchant -> product d-tag -> reviewer -> review.
	ProductReviews map[string]map[string]map[string]domain.Review `json:"productReviews"`
}

// AggregateReviews folds review records into per-merchant and per-product
// maps. Per (merchant, product, reviewer) the newest record wins, with the
// lexicographically smaller id breaking exact timestamp ties. Malformed
// records are skipped.
func AggregateReviews(events []nostr.Event) ReviewSet {
	type slot struct {
		review    domain.Review
		createdAt nostr.Timestamp
		id        string
	}
	latest := map[string]slot{}

	for _, ev := range events {
		review, err := domain.ReviewFromEvent(ev)
		if err != nil {
			continue
		}
		key := review.Merchant + "\x00" + review.Product + "\x00" + review.Reviewer
		current, ok := latest[key]
		if ok {
			if ev.CreatedAt < current.createdAt {
				continue
			}
			if ev.CreatedAt == current.createdAt && ev.ID >= current.id {
				continue
			}
		}
		latest[key] = slot{review: review, createdAt: ev.CreatedAt, id: ev.ID}
	}

	set := ReviewSet{
		MerchantScores: map[string][]float64{},
		ProductReviews: map[string]map[string]map[string]domain.Review{},
	}
	for _, s := range latest {
		review := s.review
		// createdAt served only as the tiebreak key.
		review.CreatedAt = 0

		set.MerchantScores[review.Merchant] = append(set.MerchantScores[review.Merchant], review.Score())

		products, ok := set.ProductReviews[review.Merchant]
		if !ok {
			products = map[string]map[string]domain.Review{}
			set.ProductReviews[review.Merchant] = products
		}
		reviewers, ok := products[review.Product]
		if !ok {
			reviewers = map[string]domain.Review{}
			products[review.Product] = reviewers
		}
		reviewers[review.Reviewer] = review
	}
	return set
}
