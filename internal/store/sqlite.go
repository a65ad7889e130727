package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"binance-trader/internal/models"
)

// SQLiteStore implements TradeStore using SQLite. Timestamps are stored as
// UTC unix nanoseconds so ordering survives the round trip exactly.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and creates if needed) the trade database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Append-only record of executed trades
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		quantity REAL NOT NULL,
		commission REAL NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL,
		status TEXT NOT NULL,
		origin TEXT NOT NULL,
		exchange_order_id TEXT,
		reason TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_trades_timestamp ON trades(timestamp, id);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// AppendTrade inserts a trade. IDs are never reused; inserting an existing ID
// fails.
func (s *SQLiteStore) AppendTrade(ctx context.Context, trade models.Trade) (models.Trade, error) {
	if trade.ID == "" {
		trade.ID = uuid.Must(uuid.NewV7()).String()
	}
	if trade.Status == "" {
		trade.Status = models.TradeFilled
	}
	if err := trade.Validate(); err != nil {
		return models.Trade{}, fmt.Errorf("invalid trade: %w", err)
	}
	trade.Timestamp = trade.Timestamp.UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, symbol, side, price, quantity, commission, timestamp, status, origin, exchange_order_id, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, trade.Symbol, string(trade.Side), trade.Price, trade.Quantity, trade.Commission,
		trade.Timestamp.UnixNano(), string(trade.Status), string(trade.Origin), trade.ExchangeOrderID, trade.Reason)
	if err != nil {
		return models.Trade{}, fmt.Errorf("failed to append trade: %w", err)
	}
	return trade, nil
}

const tradeColumns = "id, symbol, side, price, quantity, commission, timestamp, status, origin, exchange_order_id, reason"

// ListTrades returns all trades in ledger order.
func (s *SQLiteStore) ListTrades(ctx context.Context) ([]models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+tradeColumns+" FROM trades ORDER BY timestamp ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

// QueryTrades retrieves trades matching filter, newest first.
func (s *SQLiteStore) QueryTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := "SELECT " + tradeColumns + " FROM trades WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Side != "" {
		query += " AND side = ?"
		args = append(args, string(filter.Side))
	}
	if filter.Origin != "" {
		query += " AND origin = ?"
		args = append(args, string(filter.Origin))
	}
	if !filter.StartDate.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.StartDate.UnixNano())
	}
	if !filter.EndDate.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, filter.EndDate.UnixNano())
	}

	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()
	return scanTrades(rows)
}

func scanTrades(rows *sql.Rows) ([]models.Trade, error) {
	var trades []models.Trade
	for rows.Next() {
		var (
			t                  models.Trade
			side, status, orig string
			ts                 int64
			exchangeID, reason sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Price, &t.Quantity, &t.Commission, &ts, &status, &orig, &exchangeID, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = models.OrderSide(side)
		t.Status = models.TradeStatus(status)
		t.Origin = models.TradeOrigin(orig)
		t.Timestamp = time.Unix(0, ts).UTC()
		t.ExchangeOrderID = exchangeID.String
		t.Reason = reason.String
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}
