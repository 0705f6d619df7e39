package sqlite3

import (
	"context"
	"database/sql"
	"time"

	"github.com/horazont/muchopper/internal/sqlutil"
	"github.com/horazont/muchopper/storage/tables"
)

const domainsSchema = `
CREATE TABLE IF NOT EXISTS domain (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    domain TEXT NOT NULL UNIQUE,
    last_seen TIMESTAMP,
    software_name TEXT,
    software_version TEXT,
    software_os TEXT,
    delisted BOOLEAN NOT NULL DEFAULT 0
);
`

const selectDomainByNameSQL = "" +
	"SELECT id, domain, last_seen, software_name, software_version, software_os, delisted" +
	" FROM domain WHERE domain = $1"

const insertDomainSQL = "" +
	"INSERT INTO domain (domain, last_seen) VALUES ($1, $2)" +
	" ON CONFLICT (domain) DO UPDATE SET last_seen = COALESCE($2, last_seen)"

// SQLite binds parameters by position, so numbering follows the order
// of occurrence, unlike the postgres variants.
const updateDomainLastSeenSQL = "" +
	"UPDATE domain SET last_seen = $1 WHERE id = $2"

const updateDomainSoftwareSQL = "" +
	"UPDATE domain SET software_name = $1, software_version = $2, software_os = $3 WHERE id = $4"

const selectScannableDomainsSQL = "" +
	"SELECT d.domain, d.last_seen, di.domain_id IS NOT NULL" +
	" FROM domain AS d" +
	" LEFT OUTER JOIN domain_identity AS di" +
	" ON d.id = di.domain_id AND di.category = 'conference' AND di.type = 'text'" +
	" WHERE NOT d.delisted"

const selectExpiredDomainsSQL = "" +
	"SELECT domain FROM domain WHERE last_seen <= $1 AND NOT delisted"

const deleteExpiredDomainsSQL = "" +
	"DELETE FROM domain WHERE last_seen <= $1 AND NOT delisted"

type domainsStatements struct {
	selectDomainByNameStmt     *sql.Stmt
	insertDomainStmt           *sql.Stmt
	updateDomainLastSeenStmt   *sql.Stmt
	updateDomainSoftwareStmt   *sql.Stmt
	selectScannableDomainsStmt *sql.Stmt
	selectExpiredDomainsStmt   *sql.Stmt
	deleteExpiredDomainsStmt   *sql.Stmt
}

func CreateDomainsTable(db *sql.DB) error {
	_, err := db.Exec(domainsSchema)
	return err
}

func PrepareDomainsTable(db *sql.DB) (tables.Domains, error) {
	s := &domainsStatements{}
	return s, sqlutil.StatementList{
		{Statement: &s.selectDomainByNameStmt, SQL: selectDomainByNameSQL},
		{Statement: &s.insertDomainStmt, SQL: insertDomainSQL},
		{Statement: &s.updateDomainLastSeenStmt, SQL: updateDomainLastSeenSQL},
		{Statement: &s.updateDomainSoftwareStmt, SQL: updateDomainSoftwareSQL},
		{Statement: &s.selectScannableDomainsStmt, SQL: selectScannableDomainsSQL},
		{Statement: &s.selectExpiredDomainsStmt, SQL: selectExpiredDomainsSQL},
		{Statement: &s.deleteExpiredDomainsStmt, SQL: deleteExpiredDomainsSQL},
	}.Prepare(db)
}

func (s *domainsStatements) SelectDomainByName(
	ctx context.Context, txn *sql.Tx, domain string,
) (*tables.DomainRow, error) {
	var row tables.DomainRow
	err := sqlutil.TxStmt(txn, s.selectDomainByNameStmt).QueryRowContext(ctx, domain).Scan(
		&row.ID, &row.Domain, &row.LastSeen,
		&row.SoftwareName, &row.SoftwareVersion, &row.SoftwareOS, &row.Delisted,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// InsertDomain upserts and then re-selects because SQLite predates
// RETURNING in the versions we still support.
func (s *domainsStatements) InsertDomain(
	ctx context.Context, txn *sql.Tx, domain string, lastSeen *time.Time,
) (int64, error) {
	var seen sql.NullTime
	if lastSeen != nil {
		seen = sql.NullTime{Time: *lastSeen, Valid: true}
	}
	if _, err := sqlutil.TxStmt(txn, s.insertDomainStmt).ExecContext(ctx, domain, seen); err != nil {
		return 0, err
	}
	row, err := s.SelectDomainByName(ctx, txn, domain)
	if err != nil {
		return 0, err
	}
	return row.ID, nil
}

func (s *domainsStatements) UpdateLastSeen(
	ctx context.Context, txn *sql.Tx, id int64, lastSeen time.Time,
) error {
	_, err := sqlutil.TxStmt(txn, s.updateDomainLastSeenStmt).ExecContext(ctx, lastSeen, id)
	return err
}

func (s *domainsStatements) UpdateSoftware(
	ctx context.Context, txn *sql.Tx, id int64, name, version, os *string,
) error {
	_, err := sqlutil.TxStmt(txn, s.updateDomainSoftwareStmt).ExecContext(
		ctx, nullString(name), nullString(version), nullString(os), id,
	)
	return err
}

func (s *domainsStatements) SelectScannableDomains(
	ctx context.Context, txn *sql.Tx,
) ([]tables.ScannableDomain, error) {
	rows, err := sqlutil.TxStmt(txn, s.selectScannableDomainsStmt).QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer sqlutil.CloseAndLogIfError(rows, "SelectScannableDomains: rows.Close() failed")
	var result []tables.ScannableDomain
	for rows.Next() {
		var d tables.ScannableDomain
		var lastSeen sql.NullTime
		if err = rows.Scan(&d.Domain, &lastSeen, &d.IsChatService); err != nil {
			return nil, err
		}
		if lastSeen.Valid {
			t := lastSeen.Time
			d.LastSeen = &t
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (s *domainsStatements) DeleteExpiredDomains(
	ctx context.Context, txn *sql.Tx, threshold time.Time,
) ([]string, error) {
	rows, err := sqlutil.TxStmt(txn, s.selectExpiredDomainsStmt).QueryContext(ctx, threshold)
	if err != nil {
		return nil, err
	}
	defer sqlutil.CloseAndLogIfError(rows, "DeleteExpiredDomains: rows.Close() failed")
	var deleted []string
	for rows.Next() {
		var domain string
		if err = rows.Scan(&domain); err != nil {
			return nil, err
		}
		deleted = append(deleted, domain)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	_, err = sqlutil.TxStmt(txn, s.deleteExpiredDomainsStmt).ExecContext(ctx, threshold)
	return deleted, err
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
