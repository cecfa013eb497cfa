package main

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pricearbiter/internal/arbiter"
	"pricearbiter/internal/item"
	"pricearbiter/internal/ledger"
	"pricearbiter/internal/pricing"
)

type fakeSource struct {
	id    string
	quote *pricing.Quote
}

func (f fakeSource) ID() string { return f.id }

func (f fakeSource) FindQuote(context.Context, item.Identity, item.Market) (*pricing.Quote, error) {
	return f.quote, nil
}

func testEngine() *arbiter.Engine {
	e := arbiter.New()
	e.Register(fakeSource{id: "ninja", quote: &pricing.Quote{SourceID: "ninja", ChaosValue: 100, SampleSize: 40, FetchedAt: time.Now()}})
	e.Register(fakeSource{id: "watch", quote: &pricing.Quote{SourceID: "watch", ChaosValue: 105, SampleSize: 20, FetchedAt: time.Now()}})
	return e
}

func TestHandlePrice_OK(t *testing.T) {
	body := `{"item":{"name":"Headhunter","base_type":"Leather Belt","rarity":"unique"},"market":{"league":"Standard"}}`
	req := httptest.NewRequest("POST", "/api/price", strings.NewReader(body))
	rr := httptest.NewRecorder()

	handlePrice(rr, req, testEngine())
	require.Equal(t, 200, rr.Code, rr.Body.String())

	var d pricing.Decision
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &d))
	require.Equal(t, 100.0, d.ChaosValue)
	require.Equal(t, pricing.ConfidenceHigh, d.Confidence)
	require.Equal(t, "ninja, validated by watch", d.DecisionSource)
	require.Len(t, d.Quotes, 2)
}

func TestHandlePrice_InvalidIdentityIs400(t *testing.T) {
	body := `{"item":{"rarity":"unique"},"market":{"league":"Standard"}}`
	req := httptest.NewRequest("POST", "/api/price", strings.NewReader(body))
	rr := httptest.NewRecorder()

	handlePrice(rr, req, testEngine())
	require.Equal(t, 400, rr.Code)
}

func TestHandlePrice_BadJSONIs400(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/price", strings.NewReader(`{"item":`))
	rr := httptest.NewRecorder()

	handlePrice(rr, req, testEngine())
	require.Equal(t, 400, rr.Code)
}

func TestHandlePrice_GetIs405(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/price", nil)
	rr := httptest.NewRecorder()

	handlePrice(rr, req, testEngine())
	require.Equal(t, 405, rr.Code)
}

func TestHandleHistory_DisabledIs503(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/history?name=Headhunter&league=Standard", nil)
	rr := httptest.NewRecorder()

	handleHistory(rr, req, nil)
	require.Equal(t, 503, rr.Code)
}

func TestHandleHistory_ReturnsRecentRows(t *testing.T) {
	store := ledger.NewMemoryStore()
	led := ledger.New(store, ledger.Config{})
	led.Record(
		item.Identity{Name: "Headhunter", Rarity: item.RarityUnique},
		item.Market{League: "Standard", Game: item.GamePoE1},
		[]pricing.Quote{{SourceID: "ninja", ChaosValue: 100, FetchedAt: time.Now()}},
		pricing.Decision{ChaosValue: 100, Confidence: pricing.ConfidenceMedium, DecisionSource: "ninja only"},
	)
	led.Close()

	req := httptest.NewRequest("GET", "/api/history?name=Headhunter&league=Standard", nil)
	rr := httptest.NewRecorder()
	handleHistory(rr, req, led)
	require.Equal(t, 200, rr.Code, rr.Body.String())

	var resp historyResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Quotes, 1)
	require.Equal(t, "ninja", resp.Quotes[0].Quote.SourceID)
}

func TestHandleHistory_MissingParamsIs400(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/history?name=Headhunter", nil)
	rr := httptest.NewRecorder()
	handleHistory(rr, req, ledger.New(ledger.NewMemoryStore(), ledger.Config{}))
	require.Equal(t, 400, rr.Code)
}
