// Package ninja prices items from a poe.ninja-style bulk overview API.
//
// The upstream publishes whole-league overviews per item class, so one cached
// payload answers many lookups. Selection rule: the first line whose
// normalized name (and base type, when the identity carries one) matches
// exactly.
package ninja

import (
	"context"
	"net/url"
	"time"

	"pricearbiter/internal/fetch"
	"pricearbiter/internal/item"
	"pricearbiter/internal/pricing"
)

// SourceID is the stable identifier used in decision provenance.
const SourceID = "ninja"

// lowSampleCutoff marks a quote low-confidence when the upstream aggregated
// fewer listings than this.
const lowSampleCutoff = 10

// typeByCategory maps parser categories onto overview types.
var typeByCategory = map[string]string{
	"weapon":    "UniqueWeapon",
	"armour":    "UniqueArmour",
	"accessory": "UniqueAccessory",
	"jewel":     "UniqueJewel",
	"flask":     "UniqueFlask",
	"map":       "UniqueMap",
	"card":      "DivinationCard",
}

type Source struct {
	client *fetch.Client
}

func New(client *fetch.Client) *Source {
	return &Source{client: client}
}

func (s *Source) ID() string { return SourceID }

func (s *Source) FindQuote(ctx context.Context, id item.Identity, market item.Market) (*pricing.Quote, error) {
	switch id.Rarity {
	case item.RarityCurrency:
		return s.findCurrency(ctx, id, market)
	case item.RarityGem:
		return s.findItem(ctx, id, market, "SkillGem")
	case item.RarityUnique:
		typ, ok := typeByCategory[id.Category]
		if !ok {
			// Unknown class: this source cannot pick an overview to search.
			return nil, nil
		}
		return s.findItem(ctx, id, market, typ)
	default:
		// Rare/magic/normal need a mod-based valuation, not a name lookup.
		return nil, nil
	}
}

type currencyOverview struct {
	Lines []currencyLine `json:"lines"`
}

type currencyLine struct {
	CurrencyTypeName string  `json:"currencyTypeName"`
	ChaosEquivalent  float64 `json:"chaosEquivalent"`
	Receive          *struct {
		Count int `json:"count"`
	} `json:"receive"`
}

func (s *Source) findCurrency(ctx context.Context, id item.Identity, market item.Market) (*pricing.Quote, error) {
	params := url.Values{}
	params.Set("league", market.League)
	params.Set("type", "Currency")

	var overview currencyOverview
	if err := s.client.GetJSON(ctx, apiPath(market, "currencyoverview"), params, &overview); err != nil {
		return nil, err
	}

	want := item.NormalizeName(id.DisplayName())
	for _, line := range overview.Lines {
		if item.NormalizeName(line.CurrencyTypeName) != want {
			continue
		}
		sample := 0
		if line.Receive != nil {
			sample = line.Receive.Count
		}
		return &pricing.Quote{
			SourceID:      SourceID,
			ChaosValue:    line.ChaosEquivalent,
			SampleSize:    sample,
			LowConfidence: sample < lowSampleCutoff,
			FetchedAt:     time.Now().UTC(),
		}, nil
	}
	return nil, nil
}

type itemOverview struct {
	Lines []itemLine `json:"lines"`
}

type itemLine struct {
	Name         string  `json:"name"`
	BaseType     string  `json:"baseType"`
	ChaosValue   float64 `json:"chaosValue"`
	Count        int     `json:"count"`
	ListingCount int     `json:"listingCount"`
}

func (s *Source) findItem(ctx context.Context, id item.Identity, market item.Market, overviewType string) (*pricing.Quote, error) {
	params := url.Values{}
	params.Set("league", market.League)
	params.Set("type", overviewType)

	var overview itemOverview
	if err := s.client.GetJSON(ctx, apiPath(market, "itemoverview"), params, &overview); err != nil {
		return nil, err
	}

	wantName := item.NormalizeName(id.DisplayName())
	wantBase := item.NormalizeName(id.BaseType)
	for _, line := range overview.Lines {
		if item.NormalizeName(line.Name) != wantName {
			continue
		}
		if wantBase != "" && line.BaseType != "" && item.NormalizeName(line.BaseType) != wantBase {
			continue
		}
		sample := line.ListingCount
		if sample == 0 {
			sample = line.Count
		}
		return &pricing.Quote{
			SourceID:      SourceID,
			ChaosValue:    line.ChaosValue,
			SampleSize:    sample,
			LowConfidence: sample < lowSampleCutoff,
			FetchedAt:     time.Now().UTC(),
		}, nil
	}
	return nil, nil
}

func apiPath(market item.Market, endpoint string) string {
	if market.Game == item.GamePoE2 {
		return "/poe2/api/data/" + endpoint
	}
	return "/api/data/" + endpoint
}
