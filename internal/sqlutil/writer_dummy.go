package sqlutil

import "database/sql"

// DummyWriter implements sqlutil.Writer without any synchronisation, for
// database engines that deal with concurrent writes natively.
type DummyWriter struct{}

func NewDummyWriter() Writer {
	return &DummyWriter{}
}

func (w *DummyWriter) Do(db *sql.DB, txn *sql.Tx, f func(txn *sql.Tx) error) error {
	if db != nil && txn == nil {
		return WithTransaction(db, f)
	}
	return f(txn)
}
