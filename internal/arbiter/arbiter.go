// Package arbiter reconciles the quotes of all registered pricing sources
// into a single decision with a confidence label.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"pricearbiter/internal/item"
	"pricearbiter/internal/metrics"
	"pricearbiter/internal/pricing"
)

// ErrInvalidIdentity is returned when a lookup is rejected before any source
// is called.
var ErrInvalidIdentity = errors.New("arbiter: invalid item identity")

// DefaultThreshold is the relative difference above which quotes are averaged
// instead of one being trusted.
const DefaultThreshold = 0.20

// Recorder receives every arbitration round for persistence. Implementations
// must not block; the engine calls it on the lookup path.
type Recorder interface {
	Record(id item.Identity, market item.Market, quotes []pricing.Quote, decision pricing.Decision)
}

type Option func(*Engine)

// WithThreshold overrides the divergence threshold (default 0.20).
func WithThreshold(t float64) Option {
	return func(e *Engine) { e.threshold = t }
}

// WithPrimary designates the source whose value wins when quotes agree.
// Default: the first registered source.
func WithPrimary(sourceID string) Option {
	return func(e *Engine) { e.primary = sourceID }
}

// WithTimeout bounds one lookup. On expiry the engine arbitrates over
// whatever quotes have arrived; in-flight source calls are abandoned.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithRecorder attaches a ledger. Recording is fire-and-forget: it never
// changes or delays the decision.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// Engine fans a lookup out to every registered source and runs the consensus
// algorithm over the answers. Safe for concurrent use; registration must
// finish before the first Resolve.
type Engine struct {
	sources   []pricing.Source
	threshold float64
	primary   string
	timeout   time.Duration
	recorder  Recorder
	log       *logrus.Entry
}

func New(opts ...Option) *Engine {
	e := &Engine{
		threshold: DefaultThreshold,
		log:       logrus.WithField("component", "arbiter"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds a source. The first registered source is the primary unless
// WithPrimary said otherwise.
func (e *Engine) Register(s pricing.Source) {
	e.sources = append(e.sources, s)
	if e.primary == "" {
		e.primary = s.ID()
	}
}

// Resolve runs one lookup: validate, query all sources, reconcile.
// A failing individual source degrades confidence; it never fails the lookup.
func (e *Engine) Resolve(ctx context.Context, id item.Identity, market item.Market) (pricing.Decision, error) {
	if err := id.Validate(); err != nil {
		return pricing.Decision{Confidence: pricing.ConfidenceNone, DecisionSource: "invalid identity"},
			fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if err := market.Validate(); err != nil {
		return pricing.Decision{Confidence: pricing.ConfidenceNone, DecisionSource: "invalid identity"},
			fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}

	start := time.Now()
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	quotes := e.collect(ctx, id, market)
	decision := e.decide(quotes)

	metrics.LookupsTotal.WithLabelValues(string(decision.Confidence)).Inc()
	metrics.LookupDuration.WithLabelValues(string(market.Game)).Observe(time.Since(start).Seconds())

	if e.recorder != nil {
		e.recorder.Record(id, market, quotes, decision)
	}
	return decision, nil
}

type sourceResult struct {
	idx   int
	quote *pricing.Quote
	err   error
}

// collect queries every source concurrently and returns the quotes that
// arrived before ctx expired, in registration order.
func (e *Engine) collect(ctx context.Context, id item.Identity, market item.Market) []pricing.Quote {
	ch := make(chan sourceResult, len(e.sources))
	for i, s := range e.sources {
		go func(i int, s pricing.Source) {
			q, err := s.FindQuote(ctx, id, market)
			ch <- sourceResult{idx: i, quote: q, err: err}
		}(i, s)
	}

	byIdx := make([]*pricing.Quote, len(e.sources))
	pending := len(e.sources)
	for pending > 0 {
		select {
		case r := <-ch:
			pending--
			if r.err != nil {
				metrics.SourceErrorsTotal.WithLabelValues(e.sources[r.idx].ID()).Inc()
				e.log.WithFields(logrus.Fields{
					"source": e.sources[r.idx].ID(),
					"item":   id.DisplayName(),
					"league": market.League,
				}).WithError(r.err).Warn("source lookup failed")
				continue
			}
			byIdx[r.idx] = r.quote
		case <-ctx.Done():
			// Arbitrate over what arrived; late results are discarded.
			e.log.WithFields(logrus.Fields{
				"item":    id.DisplayName(),
				"pending": pending,
			}).Info("lookup timed out, using partial quotes")
			pending = 0
		}
	}

	out := make([]pricing.Quote, 0, len(byIdx))
	for _, q := range byIdx {
		if q != nil {
			out = append(out, *q)
		}
	}
	return out
}

// decide implements the consensus algorithm over 0..N quotes.
func (e *Engine) decide(quotes []pricing.Quote) pricing.Decision {
	switch len(quotes) {
	case 0:
		return pricing.Decision{
			ChaosValue:     0,
			Confidence:     pricing.ConfidenceNone,
			DecisionSource: "not found",
		}
	case 1:
		// A single source is never High: there is nothing to cross-validate.
		return pricing.Decision{
			ChaosValue:     quotes[0].ChaosValue,
			Confidence:     pricing.ConfidenceMedium,
			DecisionSource: quotes[0].SourceID + " only",
			Quotes:         quotes,
		}
	}

	lo, hi := quotes[0].ChaosValue, quotes[0].ChaosValue
	anyLow := false
	for _, q := range quotes {
		if q.ChaosValue < lo {
			lo = q.ChaosValue
		}
		if q.ChaosValue > hi {
			hi = q.ChaosValue
		}
		anyLow = anyLow || q.LowConfidence
	}

	// A zero minimum makes the relative difference undefined; treat it as
	// maximal divergence. Zero itself is legitimate data, so the quote still
	// participates in the average.
	diverged := lo == 0 || (hi-lo)/lo > e.threshold

	if diverged {
		sum := 0.0
		ids := make([]string, len(quotes))
		for i, q := range quotes {
			sum += q.ChaosValue
			ids[i] = q.SourceID
		}
		return pricing.Decision{
			ChaosValue:     sum / float64(len(quotes)),
			Confidence:     pricing.ConfidenceMedium,
			DecisionSource: "averaged(" + strings.Join(ids, ",") + ")",
			Quotes:         quotes,
		}
	}

	picked := quotes[0]
	for _, q := range quotes {
		if q.SourceID == e.primary {
			picked = q
			break
		}
	}
	others := make([]string, 0, len(quotes)-1)
	for _, q := range quotes {
		if q.SourceID != picked.SourceID {
			others = append(others, q.SourceID)
		}
	}
	conf := pricing.ConfidenceHigh
	if anyLow {
		conf = pricing.ConfidenceMedium
	}
	return pricing.Decision{
		ChaosValue:     picked.ChaosValue,
		Confidence:     conf,
		DecisionSource: picked.SourceID + ", validated by " + strings.Join(others, ", "),
		Quotes:         quotes,
	}
}
