// Package ledger persists every quote and decision an arbitration round
// produced, for price history and auditing. Writes are fire-and-forget: a
// full queue or a failing store is logged and never reaches the lookup path.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pricearbiter/internal/item"
	"pricearbiter/internal/metrics"
	"pricearbiter/internal/pricing"
)

// QuoteRow is one persisted source answer.
type QuoteRow struct {
	ID         uuid.UUID     `json:"id"`
	Item       item.Identity `json:"item"`
	Market     item.Market   `json:"market"`
	Quote      pricing.Quote `json:"quote"`
	RecordedAt time.Time     `json:"recorded_at"`
}

// DecisionRow is one persisted arbitration outcome.
type DecisionRow struct {
	ID         uuid.UUID        `json:"id"`
	Item       item.Identity    `json:"item"`
	Market     item.Market      `json:"market"`
	Decision   pricing.Decision `json:"decision"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// Store is the persistence backend. Implementations: PostgresStore, MemoryStore.
type Store interface {
	SaveQuotes(ctx context.Context, rows []QuoteRow) error
	SaveDecision(ctx context.Context, row DecisionRow) error
	RecentQuotes(ctx context.Context, id item.Identity, market item.Market, limit int) ([]QuoteRow, error)
}

// Config tunes the background writer.
type Config struct {
	QueueSize     int           // pending rounds before drops, default 256
	BatchSize     int           // rounds per flush, default 16
	FlushInterval time.Duration // default 2s
	WriteTimeout  time.Duration // per flush, default 5s
}

func (c *Config) defaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 2 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
}

type round struct {
	quotes   []QuoteRow
	decision DecisionRow
}

// Ledger batches arbitration rounds into store writes off the lookup path.
type Ledger struct {
	store Store
	cfg   Config
	log   *logrus.Entry

	ch   chan round
	done chan struct{}

	mu     sync.Mutex
	closed bool
}

func New(store Store, cfg Config) *Ledger {
	cfg.defaults()
	l := &Ledger{
		store: store,
		cfg:   cfg,
		log:   logrus.WithField("component", "ledger"),
		ch:    make(chan round, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

// Record enqueues one arbitration round. It never blocks: when the queue is
// full the round is dropped and counted.
func (l *Ledger) Record(id item.Identity, market item.Market, quotes []pricing.Quote, decision pricing.Decision) {
	now := time.Now().UTC()
	r := round{
		decision: DecisionRow{ID: uuid.New(), Item: id, Market: market, Decision: decision, RecordedAt: now},
	}
	for _, q := range quotes {
		r.quotes = append(r.quotes, QuoteRow{ID: uuid.New(), Item: id, Market: market, Quote: q, RecordedAt: now})
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		metrics.LedgerDropsTotal.Inc()
		l.log.WithField("item", id.DisplayName()).Warn("ledger closed, dropping round")
		return
	}
	select {
	case l.ch <- r:
	default:
		metrics.LedgerDropsTotal.Inc()
		l.log.WithField("item", id.DisplayName()).Warn("write queue full, dropping round")
	}
}

// RecentQuotes reads history straight from the store.
func (l *Ledger) RecentQuotes(ctx context.Context, id item.Identity, market item.Market, limit int) ([]QuoteRow, error) {
	return l.store.RecentQuotes(ctx, id, market, limit)
}

// Close flushes pending rounds and stops the writer. It is idempotent, and
// rounds recorded after it are dropped, not panicked on.
func (l *Ledger) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.mu.Unlock()
	close(l.ch)
	<-l.done
}

func (l *Ledger) run() {
	defer close(l.done)
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	var buf []round
	for {
		select {
		case r, ok := <-l.ch:
			if !ok {
				l.flush(buf)
				return
			}
			buf = append(buf, r)
			if len(buf) >= l.cfg.BatchSize {
				l.flush(buf)
				buf = nil
			}
		case <-ticker.C:
			if len(buf) > 0 {
				l.flush(buf)
				buf = nil
			}
		}
	}
}

func (l *Ledger) flush(rounds []round) {
	if len(rounds) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
	defer cancel()

	var quotes []QuoteRow
	for _, r := range rounds {
		quotes = append(quotes, r.quotes...)
	}
	if len(quotes) > 0 {
		if err := l.store.SaveQuotes(ctx, quotes); err != nil {
			l.log.WithError(err).Error("saving quotes failed")
		}
	}
	for _, r := range rounds {
		if err := l.store.SaveDecision(ctx, r.decision); err != nil {
			l.log.WithError(err).Error("saving decision failed")
		}
	}
}
