package diagnostics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/worldbrain/capi-gateway/internal/pkg/logger"
)

// Schema creates the delivery log table. It only holds identifier presence
// flags and outcomes.
const Schema = `
CREATE TABLE IF NOT EXISTS capi_deliveries (
	id                BIGSERIAL PRIMARY KEY,
	event_name        TEXT        NOT NULL,
	event_id          TEXT        NOT NULL,
	status            TEXT        NOT NULL,
	platform_event_id TEXT,
	has_fbc           BOOLEAN     NOT NULL DEFAULT FALSE,
	has_fbp           BOOLEAN     NOT NULL DEFAULT FALSE,
	has_ip            BOOLEAN     NOT NULL DEFAULT FALSE,
	error             TEXT,
	latency_ms        INTEGER     NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_capi_deliveries_created ON capi_deliveries (created_at);
`

// PostgresRecorder appends deliveries to the capi_deliveries table.
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder wraps an open *sql.DB (driver "postgres").
func NewPostgresRecorder(db *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: db}
}

// EnsureSchema creates the table if it does not exist.
func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("diagnostics: ensure schema: %w", err)
	}
	return nil
}

// Record implements Recorder. Failures are logged and dropped.
func (r *PostgresRecorder) Record(ctx context.Context, d Delivery) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO capi_deliveries (event_name, event_id, status, platform_event_id, has_fbc, has_fbp, has_ip, error, latency_ms, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NULLIF($8, ''), $9, $10)
	`, d.EventName, d.EventID, string(d.Status), d.PlatformEventID,
		d.HasClickID, d.HasPixelID, d.HasClientIP, d.Error, d.Latency.Milliseconds(), d.At)
	if err != nil {
		logger.Error("diagnostics: insert delivery failed", "event", d.EventName, "err", err)
	}
}

// StatusCount is the number of deliveries per event and status.
type StatusCount struct {
	EventName   string
	Status      Status
	Count       int64
	WithClickID int64
	WithPixelID int64
	WithIP      int64
}

// Stats summarizes the deliveries recorded since the given time, grouped by
// event name and status. The identifier columns count deliveries that
// carried the identifier, which is how attribution coverage is monitored.
func (r *PostgresRecorder) Stats(ctx context.Context, since time.Time) ([]StatusCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT event_name, status, COUNT(*),
		       COUNT(*) FILTER (WHERE has_fbc),
		       COUNT(*) FILTER (WHERE has_fbp),
		       COUNT(*) FILTER (WHERE has_ip)
		FROM capi_deliveries
		WHERE created_at >= $1
		GROUP BY event_name, status
		ORDER BY event_name, status
	`, since)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: query stats: %w", err)
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var sc StatusCount
		var status string
		if err := rows.Scan(&sc.EventName, &status, &sc.Count, &sc.WithClickID, &sc.WithPixelID, &sc.WithIP); err != nil {
			return nil, fmt.Errorf("diagnostics: scan stats: %w", err)
		}
		sc.Status = Status(status)
		out = append(out, sc)
	}
	return out, rows.Err()
}
