// Package pricing defines the normalized quote shape every source produces
// and the decision shape the arbitration engine returns.
package pricing

import (
	"context"
	"time"

	"pricearbiter/internal/item"
)

// Quote is one source's answer for one lookup, normalized to chaos value.
// Quotes are immutable; a fresh one is produced on every lookup.
type Quote struct {
	SourceID      string    `json:"source_id"`
	ChaosValue    float64   `json:"chaos_value"`
	SampleSize    int       `json:"sample_size"` // underlying listings, 0 if unknown
	LowConfidence bool      `json:"low_confidence"`
	FetchedAt     time.Time `json:"fetched_at"`
}

// Confidence summarizes how much cross-source agreement backs a decision.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
	ConfidenceNone   Confidence = "none"
)

// Decision is the reconciled output of one lookup. It carries the quotes it
// was derived from for audit and display; the engine keeps no reference to it
// after returning.
type Decision struct {
	ChaosValue     float64    `json:"chaos_value"`
	Confidence     Confidence `json:"confidence"`
	DecisionSource string     `json:"decision_source"` // e.g. "ninja, validated by watch"
	Quotes         []Quote    `json:"contributing_quotes,omitempty"`
}

// Source is one external pricing service. A source returns at most one quote
// per lookup: when the upstream offers several candidate listings the adapter
// picks the representative one by its own documented rule.
//
// A nil quote with a nil error means the source does not know the item; that
// is a normal outcome, not an error. Network-level failures propagate so the
// engine can decide how a missing source affects confidence.
type Source interface {
	ID() string
	FindQuote(ctx context.Context, id item.Identity, market item.Market) (*Quote, error)
}
