package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/horazont/muchopper/internal/sqlutil"
	"github.com/horazont/muchopper/storage/tables"
)

const publicRoomsSchema = `
CREATE TABLE IF NOT EXISTS public_muc (
    address TEXT NOT NULL PRIMARY KEY REFERENCES muc(address) ON DELETE CASCADE ON UPDATE CASCADE,
    subject TEXT,
    name TEXT,
    description TEXT,
    language TEXT,
    http_logs_url TEXT,
    web_chat_url TEXT,
    last_message_ts TIMESTAMPTZ
);
`

const selectPublicRoomSQL = "" +
	"SELECT address, subject, name, description, language, http_logs_url, web_chat_url, last_message_ts" +
	" FROM public_muc WHERE address = $1"

const insertPublicRoomSQL = "" +
	"INSERT INTO public_muc (address, subject, name, description, language," +
	" http_logs_url, web_chat_url, last_message_ts)" +
	" VALUES ($1, $2, $3, $4, $5, $6, $7, $8)"

const updatePublicRoomSQL = "" +
	"UPDATE public_muc SET subject = $2, name = $3, description = $4, language = $5," +
	" http_logs_url = $6, web_chat_url = $7, last_message_ts = $8" +
	" WHERE address = $1"

const deletePublicRoomSQL = "" +
	"DELETE FROM public_muc WHERE address = $1"

const selectPublicRoomAddressesSQL = "" +
	"SELECT address FROM public_muc ORDER BY address"

const countPublicRoomsSQL = "" +
	"SELECT COUNT(*) FROM public_muc"

// searchBaseSQL joins the room metadata needed by the listing queries.
// The keyword conditions and the pagination cursor are appended at
// query time, so this is not a prepared statement.
const searchBaseSQL = "" +
	"SELECT m.address, m.nusers_moving_average, m.is_open, m.anonymity_mode," +
	" p.name, p.description, p.language, p.http_logs_url, p.web_chat_url," +
	" a.address IS NOT NULL" +
	" FROM muc AS m" +
	" JOIN public_muc AS p ON m.address = p.address" +
	" LEFT OUTER JOIN avatar AS a ON m.address = a.address" +
	" WHERE NOT m.is_hidden"

type publicRoomsStatements struct {
	db                            *sql.DB
	selectPublicRoomStmt          *sql.Stmt
	insertPublicRoomStmt          *sql.Stmt
	updatePublicRoomStmt          *sql.Stmt
	deletePublicRoomStmt          *sql.Stmt
	selectPublicRoomAddressesStmt *sql.Stmt
	countPublicRoomsStmt          *sql.Stmt
}

func CreatePublicRoomsTable(db *sql.DB) error {
	_, err := db.Exec(publicRoomsSchema)
	return err
}

func PreparePublicRoomsTable(db *sql.DB) (tables.PublicRooms, error) {
	s := &publicRoomsStatements{db: db}
	return s, sqlutil.StatementList{
		{Statement: &s.selectPublicRoomStmt, SQL: selectPublicRoomSQL},
		{Statement: &s.insertPublicRoomStmt, SQL: insertPublicRoomSQL},
		{Statement: &s.updatePublicRoomStmt, SQL: updatePublicRoomSQL},
		{Statement: &s.deletePublicRoomStmt, SQL: deletePublicRoomSQL},
		{Statement: &s.selectPublicRoomAddressesStmt, SQL: selectPublicRoomAddressesSQL},
		{Statement: &s.countPublicRoomsStmt, SQL: countPublicRoomsSQL},
	}.Prepare(db)
}

func (s *publicRoomsStatements) SelectPublicRoom(
	ctx context.Context, txn *sql.Tx, address string,
) (*tables.PublicRoomRow, error) {
	var row tables.PublicRoomRow
	err := sqlutil.TxStmt(txn, s.selectPublicRoomStmt).QueryRowContext(ctx, address).Scan(
		&row.Address, &row.Subject, &row.Name, &row.Description,
		&row.Language, &row.HTTPLogsURL, &row.WebChatURL, &row.LastMessageTS,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *publicRoomsStatements) InsertPublicRoom(
	ctx context.Context, txn *sql.Tx, row *tables.PublicRoomRow,
) error {
	_, err := sqlutil.TxStmt(txn, s.insertPublicRoomStmt).ExecContext(ctx,
		row.Address, row.Subject, row.Name, row.Description,
		row.Language, row.HTTPLogsURL, row.WebChatURL, row.LastMessageTS,
	)
	return err
}

func (s *publicRoomsStatements) UpdatePublicRoom(
	ctx context.Context, txn *sql.Tx, row *tables.PublicRoomRow,
) error {
	_, err := sqlutil.TxStmt(txn, s.updatePublicRoomStmt).ExecContext(ctx,
		row.Address, row.Subject, row.Name, row.Description,
		row.Language, row.HTTPLogsURL, row.WebChatURL, row.LastMessageTS,
	)
	return err
}

func (s *publicRoomsStatements) DeletePublicRoom(
	ctx context.Context, txn *sql.Tx, address string,
) (bool, error) {
	result, err := sqlutil.TxStmt(txn, s.deletePublicRoomStmt).ExecContext(ctx, address)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

func (s *publicRoomsStatements) SearchPublicRooms(
	ctx context.Context, txn *sql.Tx, filter *tables.SearchFilter, after *tables.PageKey, limit int,
) ([]tables.PublicRoomView, error) {
	var sb strings.Builder
	sb.WriteString(searchBaseSQL)
	var params []interface{}
	next := func(v interface{}) string {
		params = append(params, v)
		return fmt.Sprintf("$%d", len(params))
	}

	if !filter.IncludeClosed {
		sb.WriteString(" AND m.is_open")
	}
	if filter.MinUsers > 0 {
		sb.WriteString(" AND m.nusers_moving_average >= " + next(filter.MinUsers))
	}
	// a row matches when any keyword hits any enabled scope
	var conditions []string
	for _, keyword := range filter.Keywords {
		pattern := "%" + keyword + "%"
		if filter.SearchAddress {
			conditions = append(conditions, "m.address ILIKE "+next(pattern))
		}
		if filter.SearchDescription {
			conditions = append(conditions, "p.description ILIKE "+next(pattern))
		}
		if filter.SearchName {
			conditions = append(conditions, "p.name ILIKE "+next(pattern))
		}
	}
	if len(conditions) > 0 {
		sb.WriteString(" AND (" + strings.Join(conditions, " OR ") + ")")
	}
	if after != nil {
		switch {
		case filter.OrderByAddress:
			sb.WriteString(" AND m.address > " + next(after.Address))
		case after.Address == "":
			// bare activity cursor, as handed out by the search service
			sb.WriteString(" AND COALESCE(m.nusers_moving_average, 0) < " + next(after.Activity))
		default:
			activity := next(after.Activity)
			sb.WriteString(fmt.Sprintf(
				" AND (COALESCE(m.nusers_moving_average, 0) < %s"+
					" OR (COALESCE(m.nusers_moving_average, 0) = %s AND m.address > %s))",
				activity, activity, next(after.Address),
			))
		}
	}
	if filter.OrderByAddress {
		sb.WriteString(" ORDER BY m.address ASC")
	} else {
		sb.WriteString(" ORDER BY COALESCE(m.nusers_moving_average, 0) DESC, m.address ASC")
	}
	sb.WriteString(" LIMIT " + next(limit))

	stmt, err := s.db.Prepare(sb.String())
	if err != nil {
		return nil, err
	}
	defer sqlutil.CloseAndLogIfError(stmt, "SearchPublicRooms: stmt.Close() failed")
	rows, err := sqlutil.TxStmt(txn, stmt).QueryContext(ctx, params...)
	if err != nil {
		return nil, err
	}
	defer sqlutil.CloseAndLogIfError(rows, "SearchPublicRooms: rows.Close() failed")
	var result []tables.PublicRoomView
	for rows.Next() {
		var view tables.PublicRoomView
		if err = rows.Scan(
			&view.Address, &view.NUsersMovingAverage, &view.IsOpen, &view.AnonymityMode,
			&view.Name, &view.Description, &view.Language,
			&view.HTTPLogsURL, &view.WebChatURL, &view.HasAvatar,
		); err != nil {
			return nil, err
		}
		result = append(result, view)
	}
	return result, rows.Err()
}

func (s *publicRoomsStatements) SelectPublicRoomAddresses(
	ctx context.Context, txn *sql.Tx,
) ([]string, error) {
	rows, err := sqlutil.TxStmt(txn, s.selectPublicRoomAddressesStmt).QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer sqlutil.CloseAndLogIfError(rows, "SelectPublicRoomAddresses: rows.Close() failed")
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

func (s *publicRoomsStatements) CountPublicRooms(
	ctx context.Context, txn *sql.Tx,
) (count int64, err error) {
	err = sqlutil.TxStmt(txn, s.countPublicRoomsStmt).QueryRowContext(ctx).Scan(&count)
	return
}
