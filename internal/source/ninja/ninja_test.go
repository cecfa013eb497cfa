package ninja_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"pricearbiter/internal/fetch"
	"pricearbiter/internal/item"
	"pricearbiter/internal/source/ninja"
)

const currencyBody = `{"lines":[
	{"currencyTypeName":"Divine Orb","chaosEquivalent":213.5,"receive":{"count":4312}},
	{"currencyTypeName":"Mirror of Kalandra","chaosEquivalent":98000,"receive":{"count":3}}
]}`

const uniqueBody = `{"lines":[
	{"name":"Headhunter","baseType":"Leather Belt","chaosValue":7200,"count":120,"listingCount":460},
	{"name":"Mageblood","baseType":"Heavy Belt","chaosValue":31000,"count":80,"listingCount":2}
]}`

func testSource(t *testing.T) (*ninja.Source, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/api/data/currencyoverview":
			require.Equal(t, "Currency", r.URL.Query().Get("type"))
			_, _ = w.Write([]byte(currencyBody))
		case "/api/data/itemoverview":
			require.Equal(t, "UniqueAccessory", r.URL.Query().Get("type"))
			_, _ = w.Write([]byte(uniqueBody))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return ninja.New(fetch.New(fetch.Config{Name: "ninja", BaseURL: srv.URL, MaxRetries: 1})), &hits
}

var market = item.Market{League: "Standard", Game: item.GamePoE1}

func TestFindQuote_Currency(t *testing.T) {
	t.Parallel()
	s, _ := testSource(t)

	q, err := s.FindQuote(context.Background(), item.Identity{BaseType: "Divine Orb", Rarity: item.RarityCurrency}, market)
	require.NoError(t, err)
	require.NotNil(t, q)
	require.Equal(t, "ninja", q.SourceID)
	require.Equal(t, 213.5, q.ChaosValue)
	require.Equal(t, 4312, q.SampleSize)
	require.False(t, q.LowConfidence)
}

func TestFindQuote_Currency_NameNormalization(t *testing.T) {
	t.Parallel()
	s, _ := testSource(t)

	q, err := s.FindQuote(context.Background(), item.Identity{BaseType: "mirror-of-KALANDRA", Rarity: item.RarityCurrency}, market)
	require.NoError(t, err)
	require.NotNil(t, q)
	require.Equal(t, 98000.0, q.ChaosValue)
	require.True(t, q.LowConfidence, "3 samples is below the cutoff")
}

func TestFindQuote_Unique(t *testing.T) {
	t.Parallel()
	s, _ := testSource(t)

	q, err := s.FindQuote(context.Background(), item.Identity{
		Name: "Headhunter", BaseType: "Leather Belt", Rarity: item.RarityUnique, Category: "accessory",
	}, market)
	require.NoError(t, err)
	require.NotNil(t, q)
	require.Equal(t, 7200.0, q.ChaosValue)
	require.Equal(t, 460, q.SampleSize)
	require.False(t, q.LowConfidence)
}

func TestFindQuote_NotFoundIsNil(t *testing.T) {
	t.Parallel()
	s, _ := testSource(t)

	q, err := s.FindQuote(context.Background(), item.Identity{
		Name: "Nonexistent Belt", Rarity: item.RarityUnique, Category: "accessory",
	}, market)
	require.NoError(t, err)
	require.Nil(t, q)
}

func TestFindQuote_RareItemsSkipLookup(t *testing.T) {
	t.Parallel()
	s, hits := testSource(t)

	for _, r := range []item.Rarity{item.RarityRare, item.RarityMagic, item.RarityNormal} {
		q, err := s.FindQuote(context.Background(), item.Identity{Name: "Doom Clutch", Rarity: r}, market)
		require.NoError(t, err)
		require.Nil(t, q)
	}
	require.EqualValues(t, 0, hits.Load(), "mod-based rarities must not hit the network")
}

func TestFindQuote_UnknownCategoryIsNil(t *testing.T) {
	t.Parallel()
	s, hits := testSource(t)

	q, err := s.FindQuote(context.Background(), item.Identity{Name: "Headhunter", Rarity: item.RarityUnique, Category: "mystery"}, market)
	require.NoError(t, err)
	require.Nil(t, q)
	require.EqualValues(t, 0, hits.Load())
}
