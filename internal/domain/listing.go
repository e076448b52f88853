package domain

import (
	"strconv"

	"github.com/nbd-wtf/go-nostr"

	"github.com/milkmarket/milkd"
)

// Listing is the projection of a kind-30402 product record.
type Listing struct {
	ID         string             `json:"id"`
	Address    milkmarket.Address `json:"address"`
	Merchant   string             `json:"merchant"`
	Title      string             `json:"title"`
	Summary    string             `json:"summary,omitempty"`
	Price      float64            `json:"price"`
	Currency   string             `json:"currency"`
	Shipping   []ShippingOption   `json:"shipping,omitempty"`
	Categories []string           `json:"categories,omitempty"`
	Images     []string           `json:"images,omitempty"`
	Location   string             `json:"location,omitempty"`
	Status     string             `json:"status,omitempty"`
	Content    string             `json:"content,omitempty"`
	CreatedAt  int64              `json:"createdAt"`
}

// ShippingOption is one shipping method/cost pair offered on a listing.
type ShippingOption struct {
	Method string  `json:"method"`
	Cost   float64 `json:"cost"`
}

// ListingFromEvent parses a listing record into its projection. Records
// without a price or d-tag are rejected; a marketplace listing without a
// price is not displayable state.
func ListingFromEvent(ev nostr.Event) (Listing, error) {
	addr, ok := milkmarket.AddressOf(ev)
	if !ok {
		return Listing{}, ErrMissingTag
	}

	l := Listing{
		ID:        ev.ID,
		Address:   addr,
		Merchant:  ev.PubKey,
		Content:   ev.Content,
		CreatedAt: int64(ev.CreatedAt),
	}

	for _, tag := range ev.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "title":
			l.Title = tag[1]
		case "summary":
			l.Summary = tag[1]
		case "price":
			price, err := strconv.ParseFloat(tag[1], 64)
			if err != nil {
				return Listing{}, ErrMalformedTag
			}
			l.Price = price
			if len(tag) >= 3 {
				l.Currency = tag[2]
			}
		case "shipping":
			cost := 0.0
			if len(tag) >= 3 {
				if parsed, err := strconv.ParseFloat(tag[2], 64); err == nil {
					cost = parsed
				}
			}
			l.Shipping = append(l.Shipping, ShippingOption{Method: tag[1], Cost: cost})
		case "t":
			l.Categories = append(l.Categories, tag[1])
		case "image":
			l.Images = append(l.Images, tag[1])
		case "location":
			l.Location = tag[1]
		case "status":
			l.Status = tag[1]
		}
	}

	if l.Currency == "" {
		return Listing{}, ErrMissingTag
	}
	return l, nil
}
