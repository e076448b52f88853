package domain

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/milkmarket/milkd"
)

// Review is the projection of a kind-31555 record whose d-tag addresses a
// listing as "a:<kind>:<merchant>:<product>".
type Review struct {
	Reviewer  string   `json:"reviewer"`
	Merchant  string   `json:"merchant"`
	Product   string   `json:"product"`
	Ratings   []Rating `json:"ratings"`
	Content   string   `json:"content,omitempty"`
	CreatedAt int64    `json:"createdAt"`
}

// Rating is one rating tag: a category and its value in [0,1]. The "thumb"
// category is the overall verdict; the rest are quality facets.
type Rating struct {
	Category string  `json:"category"`
	Value    float64 `json:"value"`
}

// ReviewFromEvent parses a review record, decoding the addressed listing
// out of the d-tag.
func ReviewFromEvent(ev nostr.Event) (Review, error) {
	d, ok := milkmarket.TagValue(ev, "d")
	if !ok || len(d) < 2 || d[:2] != "a:" {
		return Review{}, ErrMissingTag
	}
	addr, err := milkmarket.ParseAddress(d[2:])
	if err != nil {
		return Review{}, ErrMalformedTag
	}
	if addr.Kind != milkmarket.KindListing {
		return Review{}, ErrMalformedTag
	}

	r := Review{
		Reviewer:  ev.PubKey,
		Merchant:  addr.PubKey,
		Product:   addr.DTag,
		Content:   ev.Content,
		CreatedAt: int64(ev.CreatedAt),
	}
	for _, tag := range ev.Tags {
		if len(tag) < 3 || tag[0] != "rating" {
			continue
		}
		value := 0.0
		if tag[1] == "1" {
			value = 1.0
		}
		r.Ratings = append(r.Ratings, Rating{Category: tag[2], Value: value})
	}
	return r, nil
}

// Score folds the ratings into one weighted value: the thumb verdict
// carries half the weight and the remaining categories split the other
// half evenly. A review with no ratings scores zero.
func (r Review) Score() float64 {
	var thumb float64
	var others []float64
	for _, rating := range r.Ratings {
		if rating.Category == "thumb" {
			thumb = rating.Value
		} else {
			others = append(others, rating.Value)
		}
	}
	if len(others) == 0 {
		return thumb
	}
	score := thumb * 0.5
	share := 0.5 / float64(len(others))
	for _, v := range others {
		score += v * share
	}
	return score
}
