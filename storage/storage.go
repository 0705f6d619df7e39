package storage

import (
	"fmt"

	"github.com/horazont/muchopper/internal/caching"
	"github.com/horazont/muchopper/setup/config"
	"github.com/horazont/muchopper/storage/postgres"
	"github.com/horazont/muchopper/storage/shared"
	"github.com/horazont/muchopper/storage/sqlite3"
)

// NewDatabase opens the database backend matching the connection
// string.
func NewDatabase(dbProperties *config.DatabaseOptions, limits *config.Limits, caches *caching.Caches) (Database, error) {
	var db *shared.Database
	var err error
	switch {
	case dbProperties.ConnectionString.IsSQLite():
		db, err = sqlite3.NewDatabase(dbProperties, limits)
	case dbProperties.ConnectionString.IsPostgres():
		db, err = postgres.NewDatabase(dbProperties, limits)
	default:
		return nil, fmt.Errorf("unexpected database type")
	}
	if err != nil {
		return nil, err
	}
	db.Caches = caches
	return db, nil
}
