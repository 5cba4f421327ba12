package warehouse

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T) (*SnowflakeExecutor, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &SnowflakeExecutor{db: db, logger: slog.Default()}, mock
}

func TestSnowflakeExecutor_Execute_ScansRows(t *testing.T) {
	exec, mock := newTestExecutor(t)

	rows := sqlmock.NewRows([]string{"REGION", "TOTAL"}).
		AddRow("west", 12).
		AddRow("east", 7)
	mock.ExpectQuery(`SELECT .* FROM "ACCOUNTS"`).WillReturnRows(rows)

	result, err := exec.Execute(context.Background(), `SELECT region, total FROM "ACCOUNTS"`, time.Second)
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "west", result.Rows[0]["REGION"])
	assert.Len(t, result.Columns, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnowflakeExecutor_Execute_PropagatesDriverError(t *testing.T) {
	exec, mock := newTestExecutor(t)

	mock.ExpectQuery(`SELECT .*`).WillReturnError(assertErr("SQL compilation error: invalid identifier 'FOO'"))

	_, err := exec.Execute(context.Background(), `SELECT foo FROM "ACCOUNTS"`, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid identifier 'FOO'")
}

func TestSnowflakeExecutor_Explain_PrefixesStatement(t *testing.T) {
	exec, mock := newTestExecutor(t)

	mock.ExpectQuery(`EXPLAIN SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"rows"}).AddRow(5))

	result, err := exec.Explain(context.Background(), "SELECT 1", time.Second)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSnowflakeExecutor_SetsSessionTagWhenPresent(t *testing.T) {
	exec, mock := newTestExecutor(t)

	mock.ExpectExec(`ALTER SESSION SET QUERY_TAG`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))

	ctx := WithSessionTag(context.Background(), "queryagent:req-1")
	_, err := exec.Execute(ctx, "SELECT 1", time.Second)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
