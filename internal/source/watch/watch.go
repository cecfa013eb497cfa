// Package watch prices items from a poe.watch-style search API.
//
// Selection rule: the first row whose normalized name matches exactly; the
// quoted value is the row's median listing price.
package watch

import (
	"context"
	"net/url"
	"time"

	"pricearbiter/internal/fetch"
	"pricearbiter/internal/item"
	"pricearbiter/internal/pricing"
)

const SourceID = "watch"

// lowVolumeCutoff marks a quote low-confidence when daily trade volume is
// below this.
const lowVolumeCutoff = 5

type Source struct {
	client *fetch.Client
}

func New(client *fetch.Client) *Source {
	return &Source{client: client}
}

func (s *Source) ID() string { return SourceID }

type row struct {
	Name          string  `json:"name"`
	BaseType      string  `json:"type"`
	Category      string  `json:"category"`
	Mean          float64 `json:"mean"`
	Median        float64 `json:"median"`
	Daily         int     `json:"daily"`
	LowConfidence bool    `json:"lowConfidence"`
}

func (s *Source) FindQuote(ctx context.Context, id item.Identity, market item.Market) (*pricing.Quote, error) {
	switch id.Rarity {
	case item.RarityCurrency, item.RarityUnique, item.RarityGem:
	default:
		return nil, nil
	}

	params := url.Values{}
	params.Set("league", market.League)
	params.Set("name", id.DisplayName())
	if id.Category != "" {
		params.Set("category", id.Category)
	}

	var rows []row
	if err := s.client.GetJSON(ctx, "/api/search", params, &rows); err != nil {
		return nil, err
	}

	want := item.NormalizeName(id.DisplayName())
	wantBase := item.NormalizeName(id.BaseType)
	for _, r := range rows {
		if item.NormalizeName(r.Name) != want {
			continue
		}
		if id.Rarity == item.RarityUnique && wantBase != "" && r.BaseType != "" &&
			item.NormalizeName(r.BaseType) != wantBase {
			continue
		}
		return &pricing.Quote{
			SourceID:      SourceID,
			ChaosValue:    r.Median,
			SampleSize:    r.Daily,
			LowConfidence: r.LowConfidence || r.Daily < lowVolumeCutoff,
			FetchedAt:     time.Now().UTC(),
		}, nil
	}
	return nil, nil
}
