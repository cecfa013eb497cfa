package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"pricearbiter/internal/arbiter"
	"pricearbiter/internal/item"
	"pricearbiter/internal/ledger"
)

type priceRequest struct {
	Item   item.Identity `json:"item"`
	Market item.Market   `json:"market"`
}

// handlePrice resolves one item to a decision. Invalid identities are the
// caller's fault and come back as 400; everything else degrades inside the
// engine and still yields a decision.
func handlePrice(w http.ResponseWriter, r *http.Request, engine *arbiter.Engine) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req priceRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Market.Game == "" {
		req.Market.Game = item.GamePoE1
	}

	decision, err := engine.Resolve(r.Context(), req.Item, req.Market)
	if err != nil {
		if errors.Is(err, arbiter.ErrInvalidIdentity) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "lookup failed", http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(decision)
}

type historyResponse struct {
	Quotes []ledger.QuoteRow `json:"quotes"`
}

// handleHistory serves recent ledger rows for one item.
func handleHistory(w http.ResponseWriter, r *http.Request, led *ledger.Ledger) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if led == nil {
		http.Error(w, "history disabled", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	name := strings.TrimSpace(q.Get("name"))
	league := strings.TrimSpace(q.Get("league"))
	if name == "" || league == "" {
		http.Error(w, "missing name or league query param", http.StatusBadRequest)
		return
	}
	game := item.Game(q.Get("game"))
	if game == "" {
		game = item.GamePoE1
	}
	limit := 50
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := led.RecentQuotes(r.Context(),
		item.Identity{Name: name}, item.Market{League: league, Game: game}, limit)
	if err != nil {
		http.Error(w, "history query failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(historyResponse{Quotes: rows})
}
