package db

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"kite_clickhouse/config"
	"kite_clickhouse/models"
	"kite_clickhouse/monitoring"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS kite_ticks (
    timestamp DateTime,
    instrument_token UInt32,
    mode String,
    last_price Float64,
    last_quantity UInt32,
    average_price Float64,
    volume UInt32,
    total_buy_quantity UInt32,
    total_sell_quantity UInt32,
    open_price Float64,
    high_price Float64,
    low_price Float64,
    close_price Float64,
    oi UInt32
) ENGINE = MergeTree()
ORDER BY (timestamp, instrument_token)
`

type ClickHouseDB struct {
	conn         driver.Conn
	queryTimeout time.Duration
}

func NewClickHouseDB(cfg *config.Config) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.ClickHouse.Host, cfg.ClickHouse.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.User,
			Password: cfg.ClickHouse.Password,
		},
		Protocol:        clickhouse.Native,
		Debug:           cfg.ClickHouse.Debug,
		MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
		MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	db := &ClickHouseDB{conn: conn, queryTimeout: cfg.ClickHouse.QueryTimeout}
	if err := db.createTable(); err != nil {
		return nil, err
	}
	return db, nil
}

func (db *ClickHouseDB) createTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), db.queryTimeout)
	defer cancel()
	return db.conn.Exec(ctx, createTableSQL)
}

// Ping reports storage reachability for the health endpoint.
func (db *ClickHouseDB) Ping(ctx context.Context) error {
	return db.conn.Ping(ctx)
}

// InsertTicks writes one batch of rows.
func (db *ClickHouseDB) InsertTicks(ctx context.Context, ticks []models.MarketTick) error {
	start := time.Now()
	defer func() {
		monitoring.QueryDuration.WithLabelValues("insert").Observe(time.Since(start).Seconds())
	}()

	batch, err := db.conn.PrepareBatch(ctx, "INSERT INTO kite_ticks")
	if err != nil {
		return err
	}

	for i := range ticks {
		if err := batch.AppendStruct(&ticks[i]); err != nil {
			return err
		}
	}

	return batch.Send()
}

// LastInserted returns the most recent stored row for an instrument, used
// by the periodic verification loop.
func (db *ClickHouseDB) LastInserted(ctx context.Context, instrumentToken uint32) (*models.MarketTick, error) {
	start := time.Now()
	defer func() {
		monitoring.QueryDuration.WithLabelValues("verify").Observe(time.Since(start).Seconds())
	}()

	var tick models.MarketTick
	row := db.conn.QueryRow(ctx, `
		SELECT timestamp, instrument_token, mode, last_price, volume
		FROM kite_ticks
		WHERE instrument_token = ?
		ORDER BY timestamp DESC
		LIMIT 1`, instrumentToken)
	if err := row.Scan(&tick.Timestamp, &tick.InstrumentToken, &tick.Mode, &tick.LastPrice, &tick.Volume); err != nil {
		return nil, err
	}
	return &tick, nil
}

func (db *ClickHouseDB) Close() error {
	return db.conn.Close()
}
