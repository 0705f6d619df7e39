package postgres

import (
	"context"
	"database/sql"

	"github.com/horazont/muchopper/internal/sqlutil"
	"github.com/horazont/muchopper/storage/tables"
)

const domainContactsSchema = `
CREATE TABLE IF NOT EXISTS domain_contact (
    id BIGSERIAL PRIMARY KEY,
    domain_id BIGINT NOT NULL REFERENCES domain(id) ON DELETE CASCADE ON UPDATE CASCADE,
    role TEXT NOT NULL,
    address TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS domain_contact_domain_id_idx ON domain_contact(domain_id);
`

const deleteContactsSQL = "" +
	"DELETE FROM domain_contact WHERE domain_id = $1 AND role = $2"

const insertContactSQL = "" +
	"INSERT INTO domain_contact (domain_id, role, address) VALUES ($1, $2, $3)"

const selectContactsSQL = "" +
	"SELECT address FROM domain_contact WHERE domain_id = $1 AND role = $2"

type domainContactsStatements struct {
	deleteContactsStmt *sql.Stmt
	insertContactStmt  *sql.Stmt
	selectContactsStmt *sql.Stmt
}

func CreateDomainContactsTable(db *sql.DB) error {
	_, err := db.Exec(domainContactsSchema)
	return err
}

func PrepareDomainContactsTable(db *sql.DB) (tables.DomainContacts, error) {
	s := &domainContactsStatements{}
	return s, sqlutil.StatementList{
		{Statement: &s.deleteContactsStmt, SQL: deleteContactsSQL},
		{Statement: &s.insertContactStmt, SQL: insertContactSQL},
		{Statement: &s.selectContactsStmt, SQL: selectContactsSQL},
	}.Prepare(db)
}

func (s *domainContactsStatements) ReplaceContacts(
	ctx context.Context, txn *sql.Tx, domainID int64, role string, addresses []string,
) error {
	if _, err := sqlutil.TxStmt(txn, s.deleteContactsStmt).ExecContext(ctx, domainID, role); err != nil {
		return err
	}
	for _, address := range addresses {
		if _, err := sqlutil.TxStmt(txn, s.insertContactStmt).ExecContext(ctx, domainID, role, address); err != nil {
			return err
		}
	}
	return nil
}

func (s *domainContactsStatements) SelectContacts(
	ctx context.Context, txn *sql.Tx, domainID int64, role string,
) ([]string, error) {
	rows, err := sqlutil.TxStmt(txn, s.selectContactsStmt).QueryContext(ctx, domainID, role)
	if err != nil {
		return nil, err
	}
	defer sqlutil.CloseAndLogIfError(rows, "SelectContacts: rows.Close() failed")
	var addresses []string
	for rows.Next() {
		var address string
		if err = rows.Scan(&address); err != nil {
			return nil, err
		}
		addresses = append(addresses, address)
	}
	return addresses, rows.Err()
}
