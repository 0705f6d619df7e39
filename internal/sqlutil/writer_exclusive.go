package sqlutil

import (
	"database/sql"
	"sync"
)

// ExclusiveWriter implements sqlutil.Writer by holding a mutex for the
// duration of each write, so that only one write transaction is in flight
// at a time. Reentrant calls (a task already holding the writer passing
// its transaction down) are supported by joining the supplied transaction
// without re-locking.
type ExclusiveWriter struct {
	mutex sync.Mutex
}

func NewExclusiveWriter() Writer {
	return &ExclusiveWriter{}
}

func (w *ExclusiveWriter) Do(db *sql.DB, txn *sql.Tx, f func(txn *sql.Tx) error) error {
	if txn != nil {
		// already inside a write transaction owned by this writer
		return f(txn)
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if db == nil {
		return f(nil)
	}
	return WithTransaction(db, f)
}
