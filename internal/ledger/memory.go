package ledger

import (
	"context"
	"sync"

	"pricearbiter/internal/item"
)

// MemoryStore keeps ledger rows in process. Used by the CLI and by tests.
type MemoryStore struct {
	mu        sync.Mutex
	quotes    []QuoteRow
	decisions []DecisionRow
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{} }

func (s *MemoryStore) SaveQuotes(_ context.Context, rows []QuoteRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = append(s.quotes, rows...)
	return nil
}

func (s *MemoryStore) SaveDecision(_ context.Context, row DecisionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, row)
	return nil
}

func (s *MemoryStore) RecentQuotes(_ context.Context, id item.Identity, market item.Market, limit int) ([]QuoteRow, error) {
	if limit <= 0 {
		limit = 50
	}
	want := item.NormalizeName(id.DisplayName())
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []QuoteRow
	// newest first
	for i := len(s.quotes) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.quotes[i]
		if item.NormalizeName(r.Item.DisplayName()) == want &&
			r.Market.League == market.League && r.Market.Game == market.Game {
			out = append(out, r)
		}
	}
	return out, nil
}

// Decisions returns a copy of all recorded decisions, newest last.
func (s *MemoryStore) Decisions() []DecisionRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DecisionRow, len(s.decisions))
	copy(out, s.decisions)
	return out
}

var _ Store = (*MemoryStore)(nil)
