package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Go2NetMon/internal/config"
	"Go2NetMon/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// HistoryTable is the ClickHouse table holding archived windows.
const HistoryTable = "window_history"

// ReplacingMergeTree keyed on WindowID keeps the newest copy of a re-processed window.
const createTableStatement = `
CREATE TABLE IF NOT EXISTS window_history (
    WindowID          String,
    StartTime         DateTime,
    EndTime           DateTime,
    TotalFlows        Int64,
    TotalPackets      Int64,
    TotalPayloadBytes Int64,
    BenignFlows       Int64,
    AttackFlows       Int64,
    UnknownFlows      Int64,
    LabelCounts       Map(String, Int64),
    FeatureStats      String,
    Narrative         String,
    UpdatedAt         DateTime64(3)
) ENGINE = ReplacingMergeTree(UpdatedAt)
PARTITION BY toYYYYMM(StartTime)
ORDER BY (StartTime, WindowID);
`

// ClickHouseWriter archives windows into the window_history table.
type ClickHouseWriter struct {
	conn   driver.Conn
	addr   string
	logger *zap.Logger
}

// NewClickHouseWriter connects and ensures the history table exists.
func NewClickHouseWriter(def config.ArchiveSinkDef, logger *zap.Logger) (model.Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := Connect(context.Background(), def.ClickHouse)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to clickhouse")
	}

	if err := conn.Exec(context.Background(), createTableStatement); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to create table")
	}
	logger.Info("Successfully connected to ClickHouse and ensured table exists.",
		zap.String("table", HistoryTable))

	return &ClickHouseWriter{conn: conn, addr: address(def.ClickHouse), logger: logger}, nil
}

func address(cfg config.ClickHouseConfig) string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// Connect opens and pings a ClickHouse connection.
func Connect(ctx context.Context, cfg config.ClickHouseConfig) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{address(cfg)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to ping clickhouse")
	}
	return conn, nil
}

// Name implements model.Writer.
func (w *ClickHouseWriter) Name() string { return "clickhouse:" + w.addr }

// Write inserts one row for the window.
func (w *ClickHouseWriter) Write(ctx context.Context, window *model.Window) error {
	stats, err := json.Marshal(window.FeatureStats)
	if err != nil {
		return errors.Wrap(err, "failed to encode feature stats")
	}
	labels := window.LabelCounts
	if labels == nil {
		labels = map[string]int64{}
	}
	updated := window.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+HistoryTable)
	if err != nil {
		return errors.Wrap(err, "failed to prepare batch")
	}
	err = batch.Append(
		window.ID,
		window.StartTime.UTC(),
		window.EndTime.UTC(),
		window.TotalFlows,
		window.TotalPackets,
		window.TotalPayloadBytes,
		window.BenignFlows,
		window.AttackFlows,
		window.UnknownFlows,
		labels,
		string(stats),
		window.Narrative,
		updated.UTC(),
	)
	if err != nil {
		batch.Abort()
		return errors.Wrap(err, "failed to append window to batch")
	}
	if err := batch.Send(); err != nil {
		return errors.Wrap(err, "failed to send batch")
	}

	w.logger.Debug("Window written to ClickHouse", zap.String("window_id", window.ID))
	return nil
}

// Close closes the connection.
func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
