package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pricearbiter/internal/item"
	"pricearbiter/internal/ledger"
	"pricearbiter/internal/pricing"
)

var (
	hh     = item.Identity{Name: "Headhunter", BaseType: "Leather Belt", Rarity: item.RarityUnique}
	std    = item.Market{League: "Standard", Game: item.GamePoE1}
	sample = []pricing.Quote{
		{SourceID: "ninja", ChaosValue: 100, SampleSize: 40, FetchedAt: time.Now()},
		{SourceID: "watch", ChaosValue: 105, SampleSize: 12, FetchedAt: time.Now()},
	}
	decision = pricing.Decision{ChaosValue: 100, Confidence: pricing.ConfidenceHigh, DecisionSource: "ninja, validated by watch"}
)

func TestRecord_FlushedOnClose(t *testing.T) {
	t.Parallel()
	store := ledger.NewMemoryStore()
	l := ledger.New(store, ledger.Config{})

	l.Record(hh, std, sample, decision)
	l.Close()

	rows, err := store.RecentQuotes(context.Background(), hh, std, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.NotEqual(t, "", r.ID.String())
		require.Equal(t, "Standard", r.Market.League)
	}
	ds := store.Decisions()
	require.Len(t, ds, 1)
	require.Equal(t, 100.0, ds[0].Decision.ChaosValue)
}

func TestRecord_BatchFlush(t *testing.T) {
	t.Parallel()
	store := ledger.NewMemoryStore()
	l := ledger.New(store, ledger.Config{BatchSize: 2, FlushInterval: time.Hour})
	defer l.Close()

	l.Record(hh, std, sample, decision)
	l.Record(hh, std, sample, decision)

	// Two rounds hit the batch size; the writer flushes without the ticker.
	require.Eventually(t, func() bool {
		rows, err := store.RecentQuotes(context.Background(), hh, std, 10)
		return err == nil && len(rows) == 4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecentQuotes_FiltersByItemAndMarket(t *testing.T) {
	t.Parallel()
	store := ledger.NewMemoryStore()
	l := ledger.New(store, ledger.Config{})

	other := item.Market{League: "Hardcore", Game: item.GamePoE1}
	l.Record(hh, std, sample, decision)
	l.Record(hh, other, sample, decision)
	l.Close()

	rows, err := l.RecentQuotes(context.Background(), hh, other, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.Equal(t, "Hardcore", r.Market.League)
	}
}

func TestRecord_AfterCloseIsDroppedNotPanicked(t *testing.T) {
	t.Parallel()
	store := ledger.NewMemoryStore()
	l := ledger.New(store, ledger.Config{})

	l.Record(hh, std, sample, decision)
	l.Close()

	require.NotPanics(t, func() {
		l.Record(hh, std, sample, decision)
		l.Close() // idempotent
	})

	rows, err := store.RecentQuotes(context.Background(), hh, std, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2, "only the pre-close round is persisted")
}

type failStore struct{}

func (failStore) SaveQuotes(context.Context, []ledger.QuoteRow) error {
	return errors.New("disk on fire")
}

func (failStore) SaveDecision(context.Context, ledger.DecisionRow) error {
	return errors.New("disk on fire")
}

func (failStore) RecentQuotes(context.Context, item.Identity, item.Market, int) ([]ledger.QuoteRow, error) {
	return nil, errors.New("disk on fire")
}

func TestRecord_StoreFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	l := ledger.New(failStore{}, ledger.Config{})

	// Must neither panic nor block the caller.
	l.Record(hh, std, sample, decision)
	l.Close()
}

func TestRecord_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()
	// A slow store with a tiny queue: Record must return promptly regardless.
	l := ledger.New(slowStore{}, ledger.Config{
		QueueSize:     1,
		BatchSize:     1,
		FlushInterval: time.Hour,
		WriteTimeout:  20 * time.Millisecond,
	})
	defer l.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			l.Record(hh, std, sample, decision)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked on a full queue")
	}
}

type slowStore struct{}

func (slowStore) SaveQuotes(ctx context.Context, _ []ledger.QuoteRow) error {
	<-ctx.Done()
	return ctx.Err()
}

func (slowStore) SaveDecision(ctx context.Context, _ ledger.DecisionRow) error {
	<-ctx.Done()
	return ctx.Err()
}

func (slowStore) RecentQuotes(context.Context, item.Identity, item.Market, int) ([]ledger.QuoteRow, error) {
	return nil, nil
}
