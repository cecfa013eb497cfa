// Package trade prices unique items from an official-trade-API-style service:
// a search request returning listing ids, then a fetch request for the first
// page of listings.
//
// Selection rule: the median of the chaos-denominated listings on the first
// page. Listings priced in other currencies are skipped rather than converted,
// so the quote never depends on a second lookup.
package trade

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"pricearbiter/internal/fetch"
	"pricearbiter/internal/item"
	"pricearbiter/internal/pricing"
)

const SourceID = "trade"

// pageSize is how many listing ids one fetch call accepts upstream.
const pageSize = 10

// lowSampleCutoff marks a quote low-confidence below this many chaos listings.
const lowSampleCutoff = 5

type Source struct {
	client *fetch.Client
}

func New(client *fetch.Client) *Source {
	return &Source{client: client}
}

func (s *Source) ID() string { return SourceID }

type searchRequest struct {
	Query searchQuery `json:"query"`
}

type searchQuery struct {
	Name   string       `json:"name,omitempty"`
	Type   string       `json:"type,omitempty"`
	Status statusOnline `json:"status"`
	Sort   priceSortAsc `json:"sort"`
}

type statusOnline struct {
	Option string `json:"option"`
}

type priceSortAsc struct {
	Price string `json:"price"`
}

type searchResponse struct {
	ID     string   `json:"id"`
	Result []string `json:"result"`
}

type fetchResponse struct {
	Result []struct {
		Listing struct {
			Price struct {
				Amount   float64 `json:"amount"`
				Currency string  `json:"currency"`
			} `json:"price"`
		} `json:"listing"`
	} `json:"result"`
}

func (s *Source) FindQuote(ctx context.Context, id item.Identity, market item.Market) (*pricing.Quote, error) {
	// Listing search only works for named items; currency goes through the
	// bulk exchange and is covered by the overview sources.
	if id.Rarity != item.RarityUnique {
		return nil, nil
	}

	req := searchRequest{Query: searchQuery{
		Name:   id.DisplayName(),
		Type:   id.BaseType,
		Status: statusOnline{Option: "online"},
		Sort:   priceSortAsc{Price: "asc"},
	}}
	var search searchResponse
	if err := s.client.PostJSON(ctx, "/api/trade/search/"+url.PathEscape(market.League), req, &search); err != nil {
		return nil, err
	}
	if len(search.Result) == 0 {
		return nil, nil
	}

	ids := search.Result
	if len(ids) > pageSize {
		ids = ids[:pageSize]
	}
	params := url.Values{}
	params.Set("query", search.ID)
	var page fetchResponse
	if err := s.client.GetJSON(ctx, "/api/trade/fetch/"+strings.Join(ids, ","), params, &page); err != nil {
		return nil, err
	}

	chaos := make([]float64, 0, len(page.Result))
	for _, r := range page.Result {
		if r.Listing.Price.Currency == "chaos" && r.Listing.Price.Amount > 0 {
			chaos = append(chaos, r.Listing.Price.Amount)
		}
	}
	if len(chaos) == 0 {
		return nil, nil
	}

	return &pricing.Quote{
		SourceID:      SourceID,
		ChaosValue:    median(chaos),
		SampleSize:    len(chaos),
		LowConfidence: len(chaos) < lowSampleCutoff,
		FetchedAt:     time.Now().UTC(),
	}, nil
}

func median(vs []float64) float64 {
	sort.Float64s(vs)
	n := len(vs)
	if n%2 == 1 {
		return vs[n/2]
	}
	return (vs[n/2-1] + vs[n/2]) / 2
}
