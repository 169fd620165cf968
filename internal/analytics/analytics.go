// Package analytics appends settled spend rows to the ClickHouse store.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/modelrelay/modelrelay/internal/config"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/shopspring/decimal"
)

// SpendRow is one append-only analytical record. Costs are materialized by
// the table schema from token counts and per-token rates.
type SpendRow struct {
	Timestamp    time.Time
	Endpoint     string
	DurationMS   uint64
	AccountID    uint64
	KeyID        uint64
	Provider     string
	Model        string
	DeploymentID uint64
	InputTokens  uint64
	OutputTokens uint64

	InputCostPerToken  decimal.Decimal
	OutputCostPerToken decimal.Decimal
}

// Inserter writes spend rows to the analytical store.
type Inserter interface {
	InsertSpendRows(ctx context.Context, rows []SpendRow) error
}

// Client is the ClickHouse-backed Inserter.
type Client struct {
	conn driver.Conn
}

// Open connects to ClickHouse and verifies the connection.
func Open(cfg config.ClickHouseConfig) (*Client, error) {
	options, errParse := clickhouse.ParseDSN(cfg.URL)
	if errParse != nil {
		return nil, fmt.Errorf("analytics: parse dsn: %w", errParse)
	}
	if cfg.Database != "" {
		options.Auth.Database = cfg.Database
	}
	if cfg.Username != "" {
		options.Auth.Username = cfg.Username
	}
	if cfg.Password != "" {
		options.Auth.Password = cfg.Password
	}

	conn, errOpen := clickhouse.Open(options)
	if errOpen != nil {
		return nil, fmt.Errorf("analytics: open: %w", errOpen)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if errPing := conn.Ping(pingCtx); errPing != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("analytics: ping: %w", errPing)
	}
	return &Client{conn: conn}, nil
}

// spendLogsSchema creates the append-only spend table: partitioned by month,
// ordered for per-key reads, rows expiring after one year.
const spendLogsSchema = `
CREATE TABLE IF NOT EXISTS spend_logs (
	timestamp             DateTime64(3),
	endpoint              LowCardinality(String),
	duration_ms           UInt64,
	account_id            UInt64,
	key_id                UInt64,
	provider              LowCardinality(String),
	model                 String,
	deployment_id         UInt64,
	input_tokens          UInt64,
	output_tokens         UInt64,
	input_cost_per_token  Decimal(20, 10),
	output_cost_per_token Decimal(20, 10),
	input_cost            Decimal(38, 10) MATERIALIZED input_tokens * input_cost_per_token,
	output_cost           Decimal(38, 10) MATERIALIZED output_tokens * output_cost_per_token,
	total_cost            Decimal(38, 10) MATERIALIZED (input_tokens * input_cost_per_token) + (output_tokens * output_cost_per_token)
)
ENGINE = MergeTree
PARTITION BY toYYYYMM(timestamp)
ORDER BY (account_id, key_id, timestamp)
TTL toDateTime(timestamp) + INTERVAL 1 YEAR
`

// EnsureSchema creates the spend table when missing.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if errExec := c.conn.Exec(ctx, spendLogsSchema); errExec != nil {
		return fmt.Errorf("analytics: ensure schema: %w", errExec)
	}
	return nil
}

// InsertSpendRows appends one row per settled record in a single batch.
// Failures propagate so the worker can log them.
func (c *Client) InsertSpendRows(ctx context.Context, rows []SpendRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch, errPrepare := c.conn.PrepareBatch(ctx, "INSERT INTO spend_logs")
	if errPrepare != nil {
		return fmt.Errorf("analytics: prepare batch: %w", errPrepare)
	}
	for _, row := range rows {
		if errAppend := batch.Append(
			row.Timestamp,
			row.Endpoint,
			row.DurationMS,
			row.AccountID,
			row.KeyID,
			row.Provider,
			row.Model,
			row.DeploymentID,
			row.InputTokens,
			row.OutputTokens,
			row.InputCostPerToken,
			row.OutputCostPerToken,
		); errAppend != nil {
			return fmt.Errorf("analytics: append row: %w", errAppend)
		}
	}
	if errSend := batch.Send(); errSend != nil {
		return fmt.Errorf("analytics: send batch: %w", errSend)
	}
	return nil
}

// Close releases the connection.
func (c *Client) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
