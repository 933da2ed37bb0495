package logger

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// ClickHouseSink batches RequestLog entries into a single ClickHouse table.
// The target table is expected to already exist; this sink never issues DDL.
type ClickHouseSink struct {
	conn  clickhouse.Conn
	table string
}

// ClickHouseConfig holds connection parameters for NewClickHouseSink.
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// NewClickHouseSink opens a ClickHouse connection and verifies it with Ping.
func NewClickHouseSink(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseSink, error) {
	table := cfg.Table
	if table == "" {
		table = "request_logs"
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}

	return &ClickHouseSink{conn: conn, table: table}, nil
}

// Insert writes batch as a single ClickHouse batch insert.
func (s *ClickHouseSink) Insert(ctx context.Context, batch []RequestLog) error {
	if len(batch) == 0 {
		return nil
	}

	stmt := fmt.Sprintf(
		"INSERT INTO %s (id, provider, model, input_tokens, output_tokens, latency_ms, status, cached, score, overhead_us, created_at)",
		s.table,
	)
	b, err := s.conn.PrepareBatch(ctx, stmt)
	if err != nil {
		return fmt.Errorf("clickhouse: prepare batch: %w", err)
	}

	for _, e := range batch {
		if err := b.Append(
			e.ID.String(),
			e.Provider,
			e.Model,
			uint32(e.InputTokens),
			uint32(e.OutputTokens),
			uint16(e.LatencyMs),
			uint16(e.Status),
			e.Cached,
			e.Score,
			e.OverheadUs,
			normalizeTime(e.CreatedAt),
		); err != nil {
			return fmt.Errorf("clickhouse: append row: %w", err)
		}
	}

	return b.Send()
}

// Close releases the underlying connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
