package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/efreitasn/predictbook/internal/domain"
)

// FillJournal is an append-only SQLite log of executed fills. Fills are
// written after the market lock is released; the engine stays
// authoritative, so the journal is a history, not a recovery source.
type FillJournal struct {
	db *sql.DB
}

// OpenFillJournal opens (or creates) the journal at path. Use ":memory:"
// for a throwaway journal.
func OpenFillJournal(path string) (*FillJournal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" journals coherent and serializes
	// writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS fills (
			fill_id          TEXT PRIMARY KEY,
			market_id        TEXT NOT NULL,
			seq              INTEGER NOT NULL,
			maker_order_id   TEXT NOT NULL,
			taker_order_id   TEXT NOT NULL,
			maker_account_id TEXT NOT NULL,
			taker_account_id TEXT NOT NULL,
			maker_side       TEXT NOT NULL,
			price            INTEGER NOT NULL,
			taker_price      INTEGER NOT NULL,
			quantity         INTEGER NOT NULL,
			executed_at      INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS fills_market_seq ON fills (market_id, seq);
		CREATE INDEX IF NOT EXISTS fills_maker_account ON fills (maker_account_id);
		CREATE INDEX IF NOT EXISTS fills_taker_account ON fills (taker_account_id);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create fills table: %w", err)
	}

	return &FillJournal{db: db}, nil
}

// Append writes fills in one transaction. Re-appending a fill is a no-op.
func (j *FillJournal) Append(ctx context.Context, fills []*domain.Fill) error {
	if len(fills) == 0 {
		return nil
	}
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fills (fill_id, market_id, seq, maker_order_id, taker_order_id,
			maker_account_id, taker_account_id, maker_side, price, taker_price, quantity, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fill_id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range fills {
		_, err := stmt.ExecContext(ctx,
			f.FillID, f.MarketID, int64(f.Sequence), f.MakerOrderID, f.TakerOrderID,
			f.MakerAccountID, f.TakerAccountID, string(f.MakerSide),
			f.Price, f.TakerPrice, f.Quantity, f.ExecutedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("insert fill %s: %w", f.FillID, err)
		}
	}
	return tx.Commit()
}

const fillColumns = `fill_id, market_id, seq, maker_order_id, taker_order_id,
	maker_account_id, taker_account_id, maker_side, price, taker_price, quantity, executed_at`

// ListByMarket returns the most recent fills of a market, newest first.
// A non-positive limit returns every fill.
func (j *FillJournal) ListByMarket(ctx context.Context, marketID string, limit int) ([]*domain.Fill, error) {
	if limit <= 0 {
		limit = -1
	}
	return j.query(ctx, `SELECT `+fillColumns+`
		FROM fills WHERE market_id = ? ORDER BY seq DESC LIMIT ?`,
		marketID, limit,
	)
}

// ListSince returns the fills of a market executed at or after since,
// oldest first.
func (j *FillJournal) ListSince(ctx context.Context, marketID string, since time.Time) ([]*domain.Fill, error) {
	return j.query(ctx, `SELECT `+fillColumns+`
		FROM fills WHERE market_id = ? AND executed_at >= ? ORDER BY seq ASC`,
		marketID, since.UnixNano(),
	)
}

// ListByAccount returns every fill an account took part in, on either
// side, oldest first per market.
func (j *FillJournal) ListByAccount(ctx context.Context, accountID string) ([]*domain.Fill, error) {
	return j.query(ctx, `SELECT `+fillColumns+`
		FROM fills WHERE maker_account_id = ? OR taker_account_id = ?
		ORDER BY market_id, seq ASC`,
		accountID, accountID,
	)
}

func (j *FillJournal) query(ctx context.Context, query string, args ...any) ([]*domain.Fill, error) {
	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	fills := make([]*domain.Fill, 0)
	for rows.Next() {
		var (
			f          domain.Fill
			seq        int64
			side       string
			executedAt int64
		)
		err := rows.Scan(&f.FillID, &f.MarketID, &seq, &f.MakerOrderID, &f.TakerOrderID,
			&f.MakerAccountID, &f.TakerAccountID, &side, &f.Price, &f.TakerPrice, &f.Quantity, &executedAt)
		if err != nil {
			return nil, fmt.Errorf("scan fill: %w", err)
		}
		f.Sequence = uint64(seq)
		f.MakerSide = domain.Side(side)
		f.ExecutedAt = time.Unix(0, executedAt).UTC()
		fills = append(fills, &f)
	}
	return fills, rows.Err()
}

// Volume returns the number of shares traded in a market.
func (j *FillJournal) Volume(ctx context.Context, marketID string) (int64, error) {
	var v sql.NullInt64
	err := j.db.QueryRowContext(ctx, "SELECT SUM(quantity) FROM fills WHERE market_id = ?", marketID).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("sum volume: %w", err)
	}
	return v.Int64, nil
}

// Close closes the underlying database.
func (j *FillJournal) Close() error {
	return j.db.Close()
}
