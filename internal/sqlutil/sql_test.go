package sqlutil

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTransaction_CommitsOnSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE muc").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = WithTransaction(db, func(txn *sql.Tx) error {
		_, err := txn.Exec("UPDATE muc SET is_open = 1")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = WithTransaction(db, func(txn *sql.Tx) error {
		return boom
	})
	assert.Equal(t, boom, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransaction_SurfacesCommitFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))

	err = WithTransaction(db, func(txn *sql.Tx) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestStatementList_PrepareStopsAtFirstFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPrepare("SELECT 1")
	mock.ExpectPrepare("SELECT nonsense").WillReturnError(errors.New("syntax error"))

	var first, second, third *sql.Stmt
	err = StatementList{
		{&first, "SELECT 1"},
		{&second, "SELECT nonsense"},
		{&third, "SELECT 3"},
	}.Prepare(db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
	assert.NotNil(t, first)
	assert.Nil(t, third)
}

func TestTxStmt_NilTransactionPassesThrough(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPrepare("SELECT 1")
	stmt, err := db.Prepare("SELECT 1")
	require.NoError(t, err)
	assert.Same(t, stmt, TxStmt(nil, stmt))
}
