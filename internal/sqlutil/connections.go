package sqlutil

import (
	"database/sql"
	"fmt"
	"net/url"

	"github.com/horazont/muchopper/setup/config"
)

// Open opens a database connection for the given data source and returns
// both the connection and a Writer appropriate for the engine behind it.
func Open(dbProperties *config.DatabaseOptions) (*sql.DB, Writer, error) {
	var driverName string
	var writer Writer
	cs := string(dbProperties.ConnectionString)
	switch {
	case dbProperties.ConnectionString.IsSQLite():
		driverName = "sqlite3"
		writer = NewExclusiveWriter()
		var err error
		if cs, err = sqliteDSN(cs); err != nil {
			return nil, nil, err
		}
	case dbProperties.ConnectionString.IsPostgres():
		driverName = "postgres"
		writer = NewDummyWriter()
	default:
		return nil, nil, fmt.Errorf("unknown database connection string %q", cs)
	}
	db, err := sql.Open(driverName, cs)
	if err != nil {
		return nil, nil, err
	}
	if driverName == "sqlite3" {
		// SQLite only ever supports a single writer, and with the
		// exclusive writer in place there is no benefit to multiple
		// read connections either.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(dbProperties.MaxOpenConnections)
		db.SetMaxIdleConns(dbProperties.MaxIdleConnections)
		db.SetConnMaxLifetime(dbProperties.ConnMaxLifetime)
	}
	return db, writer, nil
}

// sqliteDSN rewrites a file: URI so that foreign key enforcement is
// always on. The schema relies on ON DELETE CASCADE.
func sqliteDSN(cs string) (string, error) {
	uri, err := url.Parse(cs)
	if err != nil {
		return "", fmt.Errorf("invalid SQLite connection string %q: %w", cs, err)
	}
	q := uri.Query()
	q.Set("_foreign_keys", "on")
	if q.Get("_busy_timeout") == "" {
		q.Set("_busy_timeout", "5000")
	}
	uri.RawQuery = q.Encode()
	return uri.String(), nil
}
