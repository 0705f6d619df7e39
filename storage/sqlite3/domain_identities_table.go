package sqlite3

import (
	"context"
	"database/sql"

	"github.com/horazont/muchopper/internal/sqlutil"
	"github.com/horazont/muchopper/storage/tables"
)

const domainIdentitiesSchema = `
CREATE TABLE IF NOT EXISTS domain_identity (
    domain_id INTEGER NOT NULL REFERENCES domain(id) ON DELETE CASCADE ON UPDATE CASCADE,
    category TEXT NOT NULL,
    type TEXT NOT NULL,
    PRIMARY KEY (domain_id, category, type)
);
`

const deleteIdentitiesSQL = "" +
	"DELETE FROM domain_identity WHERE domain_id = $1"

const insertIdentitySQL = "" +
	"INSERT INTO domain_identity (domain_id, category, type) VALUES ($1, $2, $3)" +
	" ON CONFLICT DO NOTHING"

type domainIdentitiesStatements struct {
	deleteIdentitiesStmt *sql.Stmt
	insertIdentityStmt   *sql.Stmt
}

func CreateDomainIdentitiesTable(db *sql.DB) error {
	_, err := db.Exec(domainIdentitiesSchema)
	return err
}

func PrepareDomainIdentitiesTable(db *sql.DB) (tables.DomainIdentities, error) {
	s := &domainIdentitiesStatements{}
	return s, sqlutil.StatementList{
		{Statement: &s.deleteIdentitiesStmt, SQL: deleteIdentitiesSQL},
		{Statement: &s.insertIdentityStmt, SQL: insertIdentitySQL},
	}.Prepare(db)
}

func (s *domainIdentitiesStatements) ReplaceIdentities(
	ctx context.Context, txn *sql.Tx, domainID int64, identities [][2]string,
) error {
	if _, err := sqlutil.TxStmt(txn, s.deleteIdentitiesStmt).ExecContext(ctx, domainID); err != nil {
		return err
	}
	for _, identity := range identities {
		_, err := sqlutil.TxStmt(txn, s.insertIdentityStmt).ExecContext(
			ctx, domainID, identity[0], identity[1],
		)
		if err != nil {
			return err
		}
	}
	return nil
}
