package sqlite3

import (
	"context"
	"database/sql"

	"github.com/horazont/muchopper/internal/sqlutil"
	"github.com/horazont/muchopper/storage/tables"
)

const avatarsSchema = `
CREATE TABLE IF NOT EXISTS avatar (
    address TEXT NOT NULL PRIMARY KEY REFERENCES public_muc(address) ON DELETE CASCADE ON UPDATE CASCADE,
    last_updated TIMESTAMP NOT NULL,
    mime_type TEXT NOT NULL,
    data BLOB NOT NULL,
    hash TEXT NOT NULL
);
`

const selectAvatarHashSQL = "" +
	"SELECT hash FROM avatar WHERE address = $1"

const selectAvatarSQL = "" +
	"SELECT address, last_updated, mime_type, data, hash FROM avatar WHERE address = $1"

const upsertAvatarSQL = "" +
	"INSERT INTO avatar (address, last_updated, mime_type, data, hash)" +
	" VALUES ($1, $2, $3, $4, $5)" +
	" ON CONFLICT (address) DO UPDATE SET last_updated = $2, mime_type = $3, data = $4, hash = $5"

const deleteAvatarSQL = "" +
	"DELETE FROM avatar WHERE address = $1"

type avatarsStatements struct {
	selectAvatarHashStmt *sql.Stmt
	selectAvatarStmt     *sql.Stmt
	upsertAvatarStmt     *sql.Stmt
	deleteAvatarStmt     *sql.Stmt
}

func CreateAvatarsTable(db *sql.DB) error {
	_, err := db.Exec(avatarsSchema)
	return err
}

func PrepareAvatarsTable(db *sql.DB) (tables.Avatars, error) {
	s := &avatarsStatements{}
	return s, sqlutil.StatementList{
		{Statement: &s.selectAvatarHashStmt, SQL: selectAvatarHashSQL},
		{Statement: &s.selectAvatarStmt, SQL: selectAvatarSQL},
		{Statement: &s.upsertAvatarStmt, SQL: upsertAvatarSQL},
		{Statement: &s.deleteAvatarStmt, SQL: deleteAvatarSQL},
	}.Prepare(db)
}

func (s *avatarsStatements) SelectAvatarHash(
	ctx context.Context, txn *sql.Tx, address string,
) (hash string, err error) {
	err = sqlutil.TxStmt(txn, s.selectAvatarHashStmt).QueryRowContext(ctx, address).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return
}

func (s *avatarsStatements) SelectAvatar(
	ctx context.Context, txn *sql.Tx, address string,
) (*tables.AvatarRow, error) {
	var row tables.AvatarRow
	err := sqlutil.TxStmt(txn, s.selectAvatarStmt).QueryRowContext(ctx, address).Scan(
		&row.Address, &row.LastUpdated, &row.MIMEType, &row.Data, &row.Hash,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *avatarsStatements) UpsertAvatar(
	ctx context.Context, txn *sql.Tx, row *tables.AvatarRow,
) error {
	_, err := sqlutil.TxStmt(txn, s.upsertAvatarStmt).ExecContext(ctx,
		row.Address, row.LastUpdated, row.MIMEType, row.Data, row.Hash,
	)
	return err
}

func (s *avatarsStatements) DeleteAvatar(
	ctx context.Context, txn *sql.Tx, address string,
) error {
	_, err := sqlutil.TxStmt(txn, s.deleteAvatarStmt).ExecContext(ctx, address)
	return err
}
