// Package sqlite keeps an optional on-disk journal of completed trades.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/tdawg5587/tradesim1/internal/session"
)

// Journal persists completed trades to SQLite.
type Journal struct {
	mu  sync.Mutex
	db  *sql.DB
	log *slog.Logger

	// reaction of the open trade, carried from its entered event
	pendingReaction *float64

	// OnWrite, if set, receives the duration of each insert.
	OnWrite func(time.Duration)
}

// Open opens (or creates) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	j := &Journal{db: db, log: slog.Default().With(slog.String("component", "journal"))}
	j.log.Info("opened trade journal", slog.String("path", path))
	return j, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			kind        TEXT    NOT NULL,
			result      TEXT    NOT NULL,
			entry_price TEXT    NOT NULL,
			exit_price  TEXT    NOT NULL,
			score_delta INTEGER NOT NULL,
			reaction_ms REAL,
			entered_at  INTEGER NOT NULL,
			exited_at   INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trades_exited_at ON trades(exited_at);
	`)
	return err
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// Run consumes session events until ctx is cancelled or ch is closed.
// Entered events remember the reaction time; exited events are written.
func (j *Journal) Run(ctx context.Context, ch <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := j.Record(ctx, ev); err != nil {
				j.log.Warn("journal write failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Record applies one session event to the journal.
func (j *Journal) Record(ctx context.Context, ev session.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	switch ev.Type {
	case session.EventEntered:
		j.pendingReaction = nil
		if ev.Reacted && ev.ReactionMs > 0 {
			ms := ev.ReactionMs
			j.pendingReaction = &ms
		}
		return nil
	case session.EventCancelled:
		j.pendingReaction = nil
		return nil
	case session.EventExited:
	default:
		return nil
	}

	if ev.Trade == nil {
		return fmt.Errorf("exit event without trade")
	}

	start := time.Now()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (kind, result, entry_price, exit_price, score_delta, reaction_ms, entered_at, exited_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Trade.Kind.String(),
		ev.Result.String(),
		ev.Trade.EntryPrice.String(),
		ev.ExitPrice.String(),
		ev.ScoreDelta,
		j.pendingReaction,
		ev.Trade.EnteredAt.UnixMilli(),
		ev.At.UnixMilli(),
	)
	j.pendingReaction = nil
	if j.OnWrite != nil {
		j.OnWrite(time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// TradeRecord represents a row from the trades table.
type TradeRecord struct {
	ID         int64           `json:"id"`
	Kind       string          `json:"kind"`
	Result     string          `json:"result"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	ExitPrice  decimal.Decimal `json:"exit_price"`
	ScoreDelta int             `json:"score_delta"`
	ReactionMs *float64        `json:"reaction_ms,omitempty"`
	EnteredAt  time.Time       `json:"entered_at"`
	ExitedAt   time.Time       `json:"exited_at"`
}

// Recent returns the last limit trades, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, kind, result, entry_price, exit_price, score_delta, reaction_ms, entered_at, exited_at
		 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var (
			t                 TradeRecord
			entry, exit       string
			reaction          sql.NullFloat64
			enteredMs, exitMs int64
		)
		if err := rows.Scan(&t.ID, &t.Kind, &t.Result, &entry, &exit, &t.ScoreDelta,
			&reaction, &enteredMs, &exitMs); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		if t.EntryPrice, err = decimal.NewFromString(entry); err != nil {
			return nil, fmt.Errorf("trade %d entry price: %w", t.ID, err)
		}
		if t.ExitPrice, err = decimal.NewFromString(exit); err != nil {
			return nil, fmt.Errorf("trade %d exit price: %w", t.ID, err)
		}
		if reaction.Valid {
			ms := reaction.Float64
			t.ReactionMs = &ms
		}
		t.EnteredAt = time.UnixMilli(enteredMs).UTC()
		t.ExitedAt = time.UnixMilli(exitMs).UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}
