package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"binance-trader/internal/models"
)

// barModel is a row of the market_data table. Times are unix milliseconds.
type barModel struct {
	ID        int64   `gorm:"column:id;primaryKey"`
	Symbol    string  `gorm:"column:symbol;uniqueIndex:idx_market_data_key"`
	Interval  string  `gorm:"column:interval;uniqueIndex:idx_market_data_key"`
	OpenTime  int64   `gorm:"column:open_time;uniqueIndex:idx_market_data_key"`
	Open      float64 `gorm:"column:open"`
	High      float64 `gorm:"column:high"`
	Low       float64 `gorm:"column:low"`
	Close     float64 `gorm:"column:close"`
	Volume    float64 `gorm:"column:volume"`
	CloseTime int64   `gorm:"column:close_time"`
	IsClosed  bool    `gorm:"column:is_closed"`
}

func (barModel) TableName() string { return "market_data" }

// GormBarStore caches klines in SQLite through gorm.
type GormBarStore struct {
	db *gorm.DB
}

// NewGormBarStore opens the bar cache at path.
func NewGormBarStore(path string) (*GormBarStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := gorm.Open(sqlite.Open(path+"?_journal_mode=WAL&_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open bar store: %w", err)
	}
	return NewGormBarStoreFromDB(db)
}

// NewGormBarStoreFromDB migrates the schema on an existing connection.
func NewGormBarStoreFromDB(db *gorm.DB) (*GormBarStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db is nil")
	}
	if err := db.AutoMigrate(&barModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate market_data: %w", err)
	}
	return &GormBarStore{db: db}, nil
}

// UpsertBars inserts bars, replacing any row with the same symbol, interval
// and open time.
func (s *GormBarStore) UpsertBars(ctx context.Context, bars []models.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	rows := make([]barModel, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, toBarModel(b))
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "interval"}, {Name: "open_time"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume", "close_time", "is_closed"}),
	}).CreateInBatches(rows, 500).Error
}

// GetBars returns bars with open time in [from, to], oldest first. A zero
// bound is open.
func (s *GormBarStore) GetBars(ctx context.Context, symbol, interval string, from, to time.Time) ([]models.Bar, error) {
	q := s.db.WithContext(ctx).Where("symbol = ? AND interval = ?", symbol, interval)
	if !from.IsZero() {
		q = q.Where("open_time >= ?", from.UnixMilli())
	}
	if !to.IsZero() {
		q = q.Where("open_time <= ?", to.UnixMilli())
	}

	var rows []barModel
	if err := q.Order("open_time ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	bars := make([]models.Bar, 0, len(rows))
	for _, r := range rows {
		bars = append(bars, r.toBar())
	}
	return bars, nil
}

// LatestBarTime returns the newest cached open time, or zero when none.
func (s *GormBarStore) LatestBarTime(ctx context.Context, symbol, interval string) (time.Time, error) {
	var row barModel
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND interval = ?", symbol, interval).
		Order("open_time DESC").
		Limit(1).
		Find(&row).Error
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query latest bar: %w", err)
	}
	if row.ID == 0 {
		return time.Time{}, nil
	}
	return time.UnixMilli(row.OpenTime).UTC(), nil
}

// Close closes the underlying connection.
func (s *GormBarStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toBarModel(b models.Bar) barModel {
	return barModel{
		Symbol:    b.Symbol,
		Interval:  b.Interval,
		OpenTime:  b.OpenTime.UnixMilli(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
		CloseTime: b.CloseTime.UnixMilli(),
		IsClosed:  b.IsClosed,
	}
}

func (r barModel) toBar() models.Bar {
	return models.Bar{
		Symbol:    r.Symbol,
		Interval:  r.Interval,
		OpenTime:  time.UnixMilli(r.OpenTime).UTC(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
		CloseTime: time.UnixMilli(r.CloseTime).UTC(),
		IsClosed:  r.IsClosed,
	}
}
