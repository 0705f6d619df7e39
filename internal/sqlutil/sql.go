package sqlutil

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// A Transaction is something that can be committed or rolled back.
type Transaction interface {
	Commit() error
	Rollback() error
}

// EndTransaction ends a transaction. If the transaction succeeded then it is
// committed, otherwise it is rolled back. The first return error is the
// error from the transaction itself, the second is from ending it.
func EndTransaction(txn Transaction, succeeded *bool) error {
	if *succeeded {
		return txn.Commit()
	}
	return txn.Rollback()
}

// WithTransaction runs a block of code passing in an SQL transaction.
// If the code returns an error or panics then the transaction is rolled back,
// otherwise it is committed.
func WithTransaction(db *sql.DB, fn func(txn *sql.Tx) error) (err error) {
	txn, err := db.Begin()
	if err != nil {
		return fmt.Errorf("sqlutil.WithTransaction.Begin: %w", err)
	}
	succeeded := false
	defer func() {
		if endErr := EndTransaction(txn, &succeeded); err == nil && endErr != nil {
			err = fmt.Errorf("sqlutil.WithTransaction.EndTransaction: %w", endErr)
		}
	}()

	err = fn(txn)
	if err != nil {
		return
	}

	succeeded = true
	return
}

// TxStmt wraps an SQL stmt inside an optional transaction.
func TxStmt(transaction *sql.Tx, statement *sql.Stmt) *sql.Stmt {
	if transaction != nil {
		statement = transaction.Stmt(statement)
	}
	return statement
}

// CloseAndLogIfError closes io and logs any resulting error.
func CloseAndLogIfError(io interface{ Close() error }, message string) {
	if io == nil {
		return
	}
	if err := io.Close(); err != nil {
		logrus.WithError(err).Error(message)
	}
}

// StatementPair pairs a destination for a prepared statement with the SQL
// text to prepare.
type StatementPair struct {
	Statement **sql.Stmt
	SQL       string
}

// StatementList prepares multiple statements in one call.
type StatementList []StatementPair

// Prepare the SQL for each statement in the list and assign the result to
// the given pointer.
func (s StatementList) Prepare(db *sql.DB) (err error) {
	for _, pair := range s {
		if *pair.Statement, err = db.Prepare(pair.SQL); err != nil {
			return fmt.Errorf("error %q while preparing statement: %s", err, pair.SQL)
		}
	}
	return
}
