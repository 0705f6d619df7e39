package sqlutil

import "database/sql"

// The Writer interface serialises database writes where the underlying
// engine needs it. SQLite supports a single writer at a time and returns
// "database is locked" errors otherwise, so all writes are funnelled
// through an ExclusiveWriter. PostgreSQL needs no serialisation and uses
// the DummyWriter.
type Writer interface {
	// Do queues a task to be run by the writer. If db is non-nil and txn
	// is nil, the task runs inside a new transaction which is committed
	// on success and rolled back on error. If txn is non-nil the task
	// joins the ongoing transaction.
	Do(db *sql.DB, txn *sql.Tx, f func(txn *sql.Tx) error) error
}
