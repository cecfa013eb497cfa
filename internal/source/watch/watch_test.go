package watch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"pricearbiter/internal/fetch"
	"pricearbiter/internal/item"
	"pricearbiter/internal/source/watch"
)

const searchBody = `[
	{"name":"Shavronne's Wrappings","type":"Occultist's Vestment","category":"armour","mean":150.2,"median":145.0,"daily":38,"lowConfidence":false},
	{"name":"Shavronne's Revelation","type":"Moonstone Ring","category":"accessory","mean":12.0,"median":10.0,"daily":2,"lowConfidence":true}
]`

func testSource(t *testing.T) *watch.Source {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/search", r.URL.Path)
		require.Equal(t, "Hardcore", r.URL.Query().Get("league"))
		_, _ = w.Write([]byte(searchBody))
	}))
	t.Cleanup(srv.Close)
	return watch.New(fetch.New(fetch.Config{Name: "watch", BaseURL: srv.URL, MaxRetries: 1}))
}

var market = item.Market{League: "Hardcore", Game: item.GamePoE1}

func TestFindQuote_ExactMatchMedian(t *testing.T) {
	t.Parallel()
	s := testSource(t)

	q, err := s.FindQuote(context.Background(), item.Identity{Name: "Shavronne's Wrappings", Rarity: item.RarityUnique}, market)
	require.NoError(t, err)
	require.NotNil(t, q)
	require.Equal(t, "watch", q.SourceID)
	require.Equal(t, 145.0, q.ChaosValue, "quotes the median, not the mean")
	require.Equal(t, 38, q.SampleSize)
	require.False(t, q.LowConfidence)
}

func TestFindQuote_LowVolumeFlagged(t *testing.T) {
	t.Parallel()
	s := testSource(t)

	q, err := s.FindQuote(context.Background(), item.Identity{Name: "Shavronne's Revelation", Rarity: item.RarityUnique}, market)
	require.NoError(t, err)
	require.NotNil(t, q)
	require.True(t, q.LowConfidence)
}

func TestFindQuote_NoExactMatchIsNil(t *testing.T) {
	t.Parallel()
	s := testSource(t)

	// "Shavronne's" alone must not fuzzy-match either row.
	q, err := s.FindQuote(context.Background(), item.Identity{Name: "Shavronne's", Rarity: item.RarityUnique}, market)
	require.NoError(t, err)
	require.Nil(t, q)
}

func TestFindQuote_RareIsNil(t *testing.T) {
	t.Parallel()
	s := testSource(t)

	q, err := s.FindQuote(context.Background(), item.Identity{Name: "Corpse Nail", Rarity: item.RarityRare}, market)
	require.NoError(t, err)
	require.Nil(t, q)
}
