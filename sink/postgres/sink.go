// Package postgres persists market events into bars, quotes, trades and
// polymarket_markets tables through gorm.
//
// Each batch is inserted inside one transaction. Conflicting tick rows are
// ignored, so a batch retried after a partial failure is never duplicated.
// Market listings are upserted on condition_id so the table tracks the latest
// state of every market.
package postgres

import (
	"context"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"tickflow/internal/logging"
	"tickflow/sink"
)

func init() {
	sink.Register("postgres", func(path string) (sink.Sink, error) {
		cfg, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		return New(cfg)
	})
}

type Sink struct {
	cfg Config
	db  *gorm.DB
}

var _ sink.Sink = (*Sink)(nil)

// New opens the connection pool and pings the server.
func New(cfg Config) (*Sink, error) {
	return open(cfg, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
}

func open(cfg Config, gc *gorm.Config) (*Sink, error) {
	applyDefaults(&cfg)
	dsn, err := cfg.dsn()
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(postgres.Open(dsn), gc)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdle)
	return &Sink{cfg: cfg, db: db}, nil
}

func (s *Sink) Name() string { return "postgres" }

// Init creates or migrates the tables. Running it again is a no-op.
func (s *Sink) Init(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&BarRow{}, &QuoteRow{}, &TradeRow{}, &MarketRow{}); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	logging.L().Info("postgres schema ready", "tables", []string{"bars", "quotes", "trades", "polymarket_markets"})
	return nil
}

func (s *Sink) Write(ctx context.Context, batch sink.Batch) error {
	rs, err := splitBatch(batch)
	if err != nil {
		return fmt.Errorf("postgres: encode batch: %w", err)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.insert(tx, skipConflicts, rs.bars, len(rs.bars)); err != nil {
			return fmt.Errorf("bars: %w", err)
		}
		if err := s.insert(tx, skipConflicts, rs.quotes, len(rs.quotes)); err != nil {
			return fmt.Errorf("quotes: %w", err)
		}
		if err := s.insert(tx, skipConflicts, rs.trades, len(rs.trades)); err != nil {
			return fmt.Errorf("trades: %w", err)
		}
		if err := s.insert(tx, upsertMarket, rs.markets, len(rs.markets)); err != nil {
			return fmt.Errorf("markets: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: write batch of %d: %w", len(batch), err)
	}
	return nil
}

var (
	skipConflicts = clause.OnConflict{DoNothing: true}
	upsertMarket  = clause.OnConflict{
		Columns:   []clause.Column{{Name: "condition_id"}},
		UpdateAll: true,
	}
)

func (s *Sink) insert(tx *gorm.DB, onConflict clause.OnConflict, rows any, n int) error {
	if n == 0 {
		return nil
	}
	return tx.Clauses(onConflict).CreateInBatches(rows, s.cfg.ChunkSize).Error
}

func (s *Sink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
