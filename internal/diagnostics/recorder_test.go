package diagnostics

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldbrain/capi-gateway/internal/pkg/logger"
)

func sampleDelivery() Delivery {
	return Delivery{
		EventName:       "Lead",
		EventID:         "evt-1",
		Status:          StatusSent,
		PlatformEventID: "trace-1",
		HasClickID:      true,
		HasPixelID:      true,
		HasClientIP:     false,
		Latency:         120 * time.Millisecond,
		At:              time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPostgresRecorderRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	d := sampleDelivery()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO capi_deliveries")).
		WithArgs("Lead", "evt-1", "sent", "trace-1", true, true, false, "", int64(120), d.At).
		WillReturnResult(sqlmock.NewResult(1, 1))

	NewPostgresRecorder(db).Record(context.Background(), d)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecorderSwallowsErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var buf bytes.Buffer
	prev := logger.SetOutput(&buf)
	defer logger.SetOutput(prev)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO capi_deliveries")).
		WillReturnError(errors.New("connection reset"))

	NewPostgresRecorder(db).Record(context.Background(), sampleDelivery())

	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, buf.String(), "insert delivery failed")
}

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS capi_deliveries")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewPostgresRecorder(db).EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogRecorderWarnsOnFailure(t *testing.T) {
	var buf bytes.Buffer
	prev := logger.SetOutput(&buf)
	defer logger.SetOutput(prev)

	d := sampleDelivery()
	d.Status = StatusFailed
	d.Error = "dial tcp: connection refused"
	LogRecorder{}.Record(context.Background(), d)

	assert.Contains(t, buf.String(), `"level":"WARN"`)
	assert.Contains(t, buf.String(), "connection refused")
}

type countingRecorder struct{ n int }

func (c *countingRecorder) Record(context.Context, Delivery) { c.n++ }

func TestMulti(t *testing.T) {
	a, b := &countingRecorder{}, &countingRecorder{}
	Multi{a, nil, b}.Record(context.Background(), sampleDelivery())
	assert.Equal(t, 1, a.n)
	assert.Equal(t, 1, b.n)
}

func TestPostgresRecorderStats(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"event_name", "status", "count", "fbc", "fbp", "ip"}).
		AddRow("Lead", "failed", 2, 0, 2, 2).
		AddRow("Lead", "sent", 40, 12, 40, 39)
	mock.ExpectQuery(regexp.QuoteMeta("FROM capi_deliveries")).
		WithArgs(since).
		WillReturnRows(rows)

	stats, err := NewPostgresRecorder(db).Stats(context.Background(), since)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, StatusCount{EventName: "Lead", Status: StatusSent, Count: 40, WithClickID: 12, WithPixelID: 40, WithIP: 39}, stats[1])
	assert.Equal(t, StatusFailed, stats[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecorderStatsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM capi_deliveries")).WillReturnError(errors.New("boom"))

	_, err = NewPostgresRecorder(db).Stats(context.Background(), time.Now())
	assert.Error(t, err)
}
