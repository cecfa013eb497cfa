package ledger

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"pricearbiter/internal/item"
)

// PostgresStore persists ledger rows in two flat tables keyed by the
// normalized item name, league and game.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

// EnsureSchema creates the ledger tables when missing. Schema migration
// beyond this is out of scope.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS quotes (
			id UUID PRIMARY KEY,
			item_name TEXT NOT NULL,
			base_type TEXT NOT NULL DEFAULT '',
			rarity TEXT NOT NULL DEFAULT '',
			league TEXT NOT NULL,
			game TEXT NOT NULL,
			source_id TEXT NOT NULL,
			chaos_value DOUBLE PRECISION NOT NULL,
			sample_size INT NOT NULL DEFAULT 0,
			low_confidence BOOLEAN NOT NULL DEFAULT FALSE,
			fetched_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS quotes_item_idx ON quotes (item_name, league, game, recorded_at DESC);
		CREATE TABLE IF NOT EXISTS decisions (
			id UUID PRIMARY KEY,
			item_name TEXT NOT NULL,
			base_type TEXT NOT NULL DEFAULT '',
			rarity TEXT NOT NULL DEFAULT '',
			league TEXT NOT NULL,
			game TEXT NOT NULL,
			chaos_value DOUBLE PRECISION NOT NULL,
			confidence TEXT NOT NULL,
			decision_source TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS decisions_item_idx ON decisions (item_name, league, game, recorded_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveQuotes(ctx context.Context, rows []QuoteRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO quotes (id, item_name, base_type, rarity, league, game,
			source_id, chaos_value, sample_size, low_confidence, fetched_at, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.ID, item.NormalizeName(r.Item.DisplayName()), r.Item.BaseType, string(r.Item.Rarity),
			r.Market.League, string(r.Market.Game),
			r.Quote.SourceID, r.Quote.ChaosValue, r.Quote.SampleSize, r.Quote.LowConfidence,
			r.Quote.FetchedAt, r.RecordedAt,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert quote %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveDecision(ctx context.Context, row DecisionRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (id, item_name, base_type, rarity, league, game,
			chaos_value, confidence, decision_source, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		row.ID, item.NormalizeName(row.Item.DisplayName()), row.Item.BaseType, string(row.Item.Rarity),
		row.Market.League, string(row.Market.Game),
		row.Decision.ChaosValue, string(row.Decision.Confidence), row.Decision.DecisionSource,
		row.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert decision %s: %w", row.ID, err)
	}
	return nil
}

func (s *PostgresStore) RecentQuotes(ctx context.Context, id item.Identity, market item.Market, limit int) ([]QuoteRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_name, base_type, rarity, league, game,
			source_id, chaos_value, sample_size, low_confidence, fetched_at, recorded_at
		FROM quotes
		WHERE item_name = $1 AND league = $2 AND game = $3
		ORDER BY recorded_at DESC
		LIMIT $4`,
		item.NormalizeName(id.DisplayName()), market.League, string(market.Game), limit)
	if err != nil {
		return nil, fmt.Errorf("query quotes: %w", err)
	}
	defer rows.Close()

	var out []QuoteRow
	for rows.Next() {
		var r QuoteRow
		var rarity, game string
		if err := rows.Scan(
			&r.ID, &r.Item.Name, &r.Item.BaseType, &rarity, &r.Market.League, &game,
			&r.Quote.SourceID, &r.Quote.ChaosValue, &r.Quote.SampleSize, &r.Quote.LowConfidence,
			&r.Quote.FetchedAt, &r.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		r.Item.Rarity = item.Rarity(rarity)
		r.Market.Game = item.Game(game)
		out = append(out, r)
	}
	return out, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
