package sqlite3

import (
	"context"
	"database/sql"

	"github.com/horazont/muchopper/internal/sqlutil"
	"github.com/horazont/muchopper/storage/tables"
)

const tagsSchema = `
CREATE TABLE IF NOT EXISTS tag (
    key TEXT NOT NULL PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS public_muc_tags (
    tag TEXT NOT NULL REFERENCES tag(key) ON DELETE CASCADE ON UPDATE CASCADE,
    public_muc TEXT NOT NULL REFERENCES public_muc(address) ON DELETE CASCADE ON UPDATE CASCADE,
    PRIMARY KEY (tag, public_muc)
);
`

const insertTagSQL = "" +
	"INSERT INTO tag (key) VALUES ($1) ON CONFLICT DO NOTHING"

const deleteRoomTagsSQL = "" +
	"DELETE FROM public_muc_tags WHERE public_muc = $1"

const insertRoomTagSQL = "" +
	"INSERT INTO public_muc_tags (tag, public_muc) VALUES ($1, $2) ON CONFLICT DO NOTHING"

const selectRoomTagsSQL = "" +
	"SELECT tag FROM public_muc_tags WHERE public_muc = $1 ORDER BY tag"

type tagsStatements struct {
	insertTagStmt      *sql.Stmt
	deleteRoomTagsStmt *sql.Stmt
	insertRoomTagStmt  *sql.Stmt
	selectRoomTagsStmt *sql.Stmt
}

func CreateTagsTable(db *sql.DB) error {
	_, err := db.Exec(tagsSchema)
	return err
}

func PrepareTagsTable(db *sql.DB) (tables.Tags, error) {
	s := &tagsStatements{}
	return s, sqlutil.StatementList{
		{Statement: &s.insertTagStmt, SQL: insertTagSQL},
		{Statement: &s.deleteRoomTagsStmt, SQL: deleteRoomTagsSQL},
		{Statement: &s.insertRoomTagStmt, SQL: insertRoomTagSQL},
		{Statement: &s.selectRoomTagsStmt, SQL: selectRoomTagsSQL},
	}.Prepare(db)
}

func (s *tagsStatements) ReplaceRoomTags(
	ctx context.Context, txn *sql.Tx, address string, tags []string,
) error {
	if _, err := sqlutil.TxStmt(txn, s.deleteRoomTagsStmt).ExecContext(ctx, address); err != nil {
		return err
	}
	for _, tag := range tags {
		if _, err := sqlutil.TxStmt(txn, s.insertTagStmt).ExecContext(ctx, tag); err != nil {
			return err
		}
		if _, err := sqlutil.TxStmt(txn, s.insertRoomTagStmt).ExecContext(ctx, tag, address); err != nil {
			return err
		}
	}
	return nil
}

func (s *tagsStatements) SelectRoomTags(
	ctx context.Context, txn *sql.Tx, address string,
) ([]string, error) {
	rows, err := sqlutil.TxStmt(txn, s.selectRoomTagsStmt).QueryContext(ctx, address)
	if err != nil {
		return nil, err
	}
	defer sqlutil.CloseAndLogIfError(rows, "SelectRoomTags: rows.Close() failed")
	var tags []string
	for rows.Next() {
		var tag string
		if err = rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}
