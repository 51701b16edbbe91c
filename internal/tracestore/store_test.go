package tracestore

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobtrace/internal/tracing"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStoreWithDB(sqlx.NewDb(db, "postgres")), mock
}

func sampleBatch() tracing.Batch {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return tracing.Batch{
		Transactions: []tracing.TransactionData{{
			ID:        "6f1b7c1e-0000-4000-8000-000000000001",
			Name:      "demo.fanout",
			Type:      tracing.TypeJob,
			Result:    tracing.ResultSuccess,
			StartedAt: started,
			Duration:  1500 * time.Microsecond,
			Context:   map[string]any{"Payload": json.RawMessage(`{"count":2}`)},
		}},
		Segments: []tracing.SegmentData{{
			ID:            "6f1b7c1e-0000-4000-8000-000000000002",
			TransactionID: "6f1b7c1e-0000-4000-8000-000000000001",
			Type:          "job",
			Label:         "demo.sleep",
			StartedAt:     started.Add(time.Millisecond),
			Duration:      400 * time.Microsecond,
			Ended:         true,
		}},
	}
}

func TestStore_Export(t *testing.T) {
	store, mock := newMockStore(t)
	batch := sampleBatch()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WithArgs(
			batch.Transactions[0].ID, "demo.fanout", tracing.TypeJob, "success",
			batch.Transactions[0].StartedAt, int64(1500), []byte(`{"Payload":{"count":2}}`),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO segments")).
		WithArgs(
			batch.Segments[0].ID, batch.Segments[0].TransactionID, "job", "demo.sleep",
			batch.Segments[0].StartedAt, int64(400), true, []byte(`{}`),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Export(context.Background(), batch))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ExportRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO transactions")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.Export(context.Background(), sampleBatch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ExportEmptyBatch(t *testing.T) {
	store, mock := newMockStore(t)

	require.NoError(t, store.Export(context.Background(), tracing.Batch{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuildListQuery(t *testing.T) {
	cursorTime := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		filter    TransactionFilter
		wantParts []string
		wantArgs  []interface{}
	}{
		{
			name:      "no filters",
			filter:    TransactionFilter{PageSize: 10},
			wantParts: []string{"ORDER BY started_at DESC, transaction_id DESC", "LIMIT $1"},
			wantArgs:  []interface{}{11},
		},
		{
			name:      "name and result",
			filter:    TransactionFilter{Name: "demo.sleep", Result: "error", PageSize: 5},
			wantParts: []string{"AND name = $1", "AND result = $2", "LIMIT $3"},
			wantArgs:  []interface{}{"demo.sleep", "error", 6},
		},
		{
			name: "cursor",
			filter: TransactionFilter{
				PageSize: 20,
				Cursor:   &Cursor{StartedAt: cursorTime, TransactionID: "abc"},
			},
			wantParts: []string{"AND (started_at, transaction_id) < ($1, $2)", "LIMIT $3"},
			wantArgs:  []interface{}{cursorTime, "abc", 21},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildListQuery(tt.filter)
			for _, part := range tt.wantParts {
				assert.Contains(t, query, part)
			}
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

var transactionColumns = []string{
	"transaction_id", "name", "type", "result", "started_at", "duration_us", "context",
}

func TestStore_ListTransactions(t *testing.T) {
	store, mock := newMockStore(t)
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM transactions")).
		WithArgs("demo.sleep", 3).
		WillReturnRows(sqlmock.NewRows(transactionColumns).
			AddRow("id-2", "demo.sleep", "job", "success", started.Add(time.Second), int64(2000), []byte(`{}`)).
			AddRow("id-1", "demo.sleep", "job", "error", started, int64(1000), []byte(`{"Payload":"x"}`)))

	rows, err := store.ListTransactions(context.Background(), TransactionFilter{Name: "demo.sleep", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "id-2", rows[0].TransactionID)
	assert.Equal(t, 2*time.Millisecond, rows[0].Duration())
	assert.JSONEq(t, `{"Payload":"x"}`, rows[1].Context.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetTransaction(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("WHERE transaction_id = $1")).
			WithArgs("id-1").
			WillReturnRows(sqlmock.NewRows(transactionColumns).
				AddRow("id-1", "demo.fanout", "job", "success", started, int64(5000), []byte(`{}`)))
		mock.ExpectQuery(regexp.QuoteMeta("FROM segments")).
			WithArgs("id-1").
			WillReturnRows(sqlmock.NewRows([]string{
				"segment_id", "transaction_id", "type", "label", "started_at", "duration_us", "ended", "context",
			}).AddRow("seg-1", "id-1", "job", "demo.sleep", started, int64(100), true, []byte(`{}`)))

		trace, err := store.GetTransaction(context.Background(), "id-1")
		require.NoError(t, err)
		assert.Equal(t, "demo.fanout", trace.Transaction.Name)
		require.Len(t, trace.Segments, 1)
		assert.Equal(t, "demo.sleep", trace.Segments[0].Label)
		assert.True(t, trace.Segments[0].Ended)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		store, mock := newMockStore(t)

		mock.ExpectQuery(regexp.QuoteMeta("WHERE transaction_id = $1")).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(transactionColumns))

		_, err := store.GetTransaction(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrTransactionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestEncodeContext(t *testing.T) {
	empty, err := encodeContext(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", empty.String())

	_, err = encodeContext(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}

func TestEncodeContext_StripsNUL(t *testing.T) {
	tests := []struct {
		name    string
		context map[string]any
		want    string
	}{
		{
			name:    "plain string payload",
			context: map[string]any{"payload": "a\x00b"},
			want:    `{"payload":"ab"}`,
		},
		{
			name:    "escaped NUL inside JSON payload",
			context: map[string]any{"Payload": json.RawMessage(`{"name":"x\u0000y","list":["\u0000",1.50]}`)},
			want:    `{"Payload":{"list":["",1.50],"name":"xy"}}`,
		},
		{
			name:    "escaped backslash is not a NUL",
			context: map[string]any{"Payload": json.RawMessage(`{"path":"c:\\u0000"}`)},
			want:    `{"Payload":{"path":"c:\\u0000"}}`,
		},
		{
			name:    "JSON without NUL is kept verbatim",
			context: map[string]any{"Payload": json.RawMessage(`{"count":2}`)},
			want:    `{"Payload":{"count":2}}`,
		},
		{
			name:    "NUL in key",
			context: map[string]any{"pay\x00load": 1},
			want:    `{"payload":1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := encodeContext(tt.context)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
			assert.NotContains(t, got.String(), `"\u0000`)
		})
	}
}

func TestStore_Migrate(t *testing.T) {
	store, mock := newMockStore(t)

	files, err := migrationFiles()
	require.NoError(t, err)
	require.NotEmpty(t, files)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS transactions")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_MigrateFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

	err := store.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to apply migration migrations/0001_create_traces.sql")
}
