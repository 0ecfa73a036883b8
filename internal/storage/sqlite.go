// Package storage persists candles, trades, blacklist entries and the
// portfolio state in a single SQLite database. The core tolerates an
// empty database and rebuilds from reconciliation.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gpreviti/cryptomind/pkg/types"
)

type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database and ensures the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// churn between the loop and the refresh workers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS candles (
		exchange  TEXT NOT NULL,
		pair      TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		ts        INTEGER NOT NULL,
		open      REAL NOT NULL,
		high      REAL NOT NULL,
		low       REAL NOT NULL,
		close     REAL NOT NULL,
		volume    REAL NOT NULL,
		UNIQUE(exchange, pair, timeframe, ts)
	);
	CREATE TABLE IF NOT EXISTS trades (
		id          TEXT PRIMARY KEY,
		ts          INTEGER NOT NULL,
		account     TEXT NOT NULL,
		pair        TEXT NOT NULL,
		side        TEXT NOT NULL,
		quantity    REAL NOT NULL,
		price       REAL NOT NULL,
		notional    REAL NOT NULL,
		fees        REAL NOT NULL,
		realized_pnl REAL NOT NULL,
		pnl_percent REAL,
		reason      TEXT
	);
	CREATE TABLE IF NOT EXISTS blacklist (
		pair        TEXT PRIMARY KEY,
		reason      TEXT NOT NULL,
		inserted_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS portfolio (
		id            INTEGER PRIMARY KEY CHECK (id = 1),
		initial_value REAL NOT NULL,
		liquid        REAL NOT NULL,
		realized_pnl  REAL NOT NULL
	);
	CREATE TABLE IF NOT EXISTS positions (
		pair        TEXT PRIMARY KEY,
		quantity    REAL NOT NULL,
		avg_price   REAL NOT NULL,
		fees        REAL NOT NULL,
		opened_at   INTEGER NOT NULL,
		take_profit REAL,
		stop_loss   REAL
	);
	CREATE TABLE IF NOT EXISTS assets (
		symbol   TEXT PRIMARY KEY,
		quantity REAL NOT NULL
	);`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCandles upserts a fetched window; duplicate timestamps replace the
// stored bar so corrections from the exchange win.
func (s *Store) SaveCandles(exchange, pair, timeframe string, candles []types.Candle) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO candles
		(exchange, pair, timeframe, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(exchange, pair, timeframe,
			c.Timestamp.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("save candle %s %s: %w", pair, timeframe, err)
		}
	}
	return tx.Commit()
}

// Candles returns the newest `limit` bars ordered ascending.
func (s *Store) Candles(exchange, pair, timeframe string, limit int) ([]types.Candle, error) {
	rows, err := s.db.Query(`SELECT ts, open, high, low, close, volume
		FROM candles WHERE exchange = ? AND pair = ? AND timeframe = ?
		ORDER BY ts DESC LIMIT ?`, exchange, pair, timeframe, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Candle
	for rows.Next() {
		var ts int64
		var c types.Candle
		if err := rows.Scan(&ts, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		c.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse into ascending order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// TradeRecord is the persisted form of a ledger trade.
type TradeRecord struct {
	ID          string
	Timestamp   time.Time
	Account     string
	Pair        string
	Side        string
	Quantity    float64
	Price       float64
	Notional    float64
	Fees        float64
	RealizedPnL float64
	PnLPercent  *float64
	Reason      string
}

func (s *Store) SaveTrade(t TradeRecord) error {
	var pnlPct sql.NullFloat64
	if t.PnLPercent != nil {
		pnlPct = sql.NullFloat64{Float64: *t.PnLPercent, Valid: true}
	}
	_, err := s.db.Exec(`INSERT INTO trades
		(id, ts, account, pair, side, quantity, price, notional, fees, realized_pnl, pnl_percent, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Timestamp.UnixMilli(), t.Account, t.Pair, t.Side,
		t.Quantity, t.Price, t.Notional, t.Fees, t.RealizedPnL, pnlPct, t.Reason)
	if err != nil {
		return fmt.Errorf("save trade %s: %w", t.ID, err)
	}
	return nil
}

// Trades returns the most recent trades, newest first. A non-positive
// limit returns everything.
func (s *Store) Trades(limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT id, ts, account, pair, side, quantity, price,
		notional, fees, realized_pnl, pnl_percent, reason
		FROM trades ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var ts int64
		var pnlPct sql.NullFloat64
		if err := rows.Scan(&t.ID, &ts, &t.Account, &t.Pair, &t.Side, &t.Quantity,
			&t.Price, &t.Notional, &t.Fees, &t.RealizedPnL, &pnlPct, &t.Reason); err != nil {
			return nil, err
		}
		t.Timestamp = time.UnixMilli(ts).UTC()
		if pnlPct.Valid {
			v := pnlPct.Float64
			t.PnLPercent = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// BlacklistEntry is a permanently excluded pair.
type BlacklistEntry struct {
	Pair       string
	Reason     string
	InsertedAt time.Time
}

func (s *Store) AddBlacklist(pair, reason string, at time.Time) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO blacklist (pair, reason, inserted_at)
		VALUES (?, ?, ?)`, pair, reason, at.UnixMilli())
	return err
}

func (s *Store) RemoveBlacklist(pair string) error {
	_, err := s.db.Exec(`DELETE FROM blacklist WHERE pair = ?`, pair)
	return err
}

func (s *Store) BlacklistEntries() ([]BlacklistEntry, error) {
	rows, err := s.db.Query(`SELECT pair, reason, inserted_at FROM blacklist`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BlacklistEntry
	for rows.Next() {
		var e BlacklistEntry
		var ts int64
		if err := rows.Scan(&e.Pair, &e.Reason, &ts); err != nil {
			return nil, err
		}
		e.InsertedAt = time.UnixMilli(ts).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// PortfolioRecord is the persisted scalar state of the ledger.
type PortfolioRecord struct {
	InitialValue float64
	Liquid       float64
	RealizedPnL  float64
}

// PositionRecord is the persisted form of an open position.
type PositionRecord struct {
	Pair       string
	Quantity   float64
	AvgPrice   float64
	Fees       float64
	OpenedAt   time.Time
	TakeProfit *float64
	StopLoss   *float64
}

// SavePortfolio replaces the portfolio state, positions and asset map in
// one transaction.
func (s *Store) SavePortfolio(p PortfolioRecord, positions []PositionRecord, assets map[string]float64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO portfolio (id, initial_value, liquid, realized_pnl)
		VALUES (1, ?, ?, ?)`, p.InitialValue, p.Liquid, p.RealizedPnL); err != nil {
		return err
	}

	if _, err := tx.Exec(`DELETE FROM positions`); err != nil {
		return err
	}
	for _, pos := range positions {
		var tp, sl sql.NullFloat64
		if pos.TakeProfit != nil {
			tp = sql.NullFloat64{Float64: *pos.TakeProfit, Valid: true}
		}
		if pos.StopLoss != nil {
			sl = sql.NullFloat64{Float64: *pos.StopLoss, Valid: true}
		}
		if _, err := tx.Exec(`INSERT INTO positions (pair, quantity, avg_price, fees, opened_at, take_profit, stop_loss)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			pos.Pair, pos.Quantity, pos.AvgPrice, pos.Fees, pos.OpenedAt.UnixMilli(), tp, sl); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`DELETE FROM assets`); err != nil {
		return err
	}
	for symbol, qty := range assets {
		if _, err := tx.Exec(`INSERT INTO assets (symbol, quantity) VALUES (?, ?)`, symbol, qty); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadPortfolio returns the persisted state, or ok=false on a fresh
// database.
func (s *Store) LoadPortfolio() (p PortfolioRecord, positions []PositionRecord, assets map[string]float64, ok bool, err error) {
	row := s.db.QueryRow(`SELECT initial_value, liquid, realized_pnl FROM portfolio WHERE id = 1`)
	if err = row.Scan(&p.InitialValue, &p.Liquid, &p.RealizedPnL); err != nil {
		if err == sql.ErrNoRows {
			return PortfolioRecord{}, nil, nil, false, nil
		}
		return PortfolioRecord{}, nil, nil, false, err
	}

	rows, err := s.db.Query(`SELECT pair, quantity, avg_price, fees, opened_at, take_profit, stop_loss FROM positions`)
	if err != nil {
		return PortfolioRecord{}, nil, nil, false, err
	}
	defer rows.Close()
	for rows.Next() {
		var pos PositionRecord
		var ts int64
		var tp, sl sql.NullFloat64
		if err = rows.Scan(&pos.Pair, &pos.Quantity, &pos.AvgPrice, &pos.Fees, &ts, &tp, &sl); err != nil {
			return PortfolioRecord{}, nil, nil, false, err
		}
		pos.OpenedAt = time.UnixMilli(ts).UTC()
		if tp.Valid {
			v := tp.Float64
			pos.TakeProfit = &v
		}
		if sl.Valid {
			v := sl.Float64
			pos.StopLoss = &v
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return PortfolioRecord{}, nil, nil, false, err
	}

	assets = make(map[string]float64)
	arows, err := s.db.Query(`SELECT symbol, quantity FROM assets`)
	if err != nil {
		return PortfolioRecord{}, nil, nil, false, err
	}
	defer arows.Close()
	for arows.Next() {
		var symbol string
		var qty float64
		if err = arows.Scan(&symbol, &qty); err != nil {
			return PortfolioRecord{}, nil, nil, false, err
		}
		assets[symbol] = qty
	}
	return p, positions, assets, true, arows.Err()
}
