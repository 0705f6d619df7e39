package sqlite3

import (
	"context"
	"database/sql"
	"time"

	"github.com/horazont/muchopper/internal/sqlutil"
	"github.com/horazont/muchopper/storage/tables"
)

const roomsSchema = `
CREATE TABLE IF NOT EXISTS muc (
    address TEXT NOT NULL PRIMARY KEY,
    domain_id INTEGER NOT NULL REFERENCES domain(id) ON DELETE CASCADE,
    last_seen TIMESTAMP,
    nusers INTEGER,
    nusers_moving_average REAL,
    moving_average_last_update TIMESTAMP,
    is_open BOOLEAN NOT NULL,
    is_hidden BOOLEAN NOT NULL DEFAULT 0,
    was_kicked BOOLEAN NOT NULL,
    anonymity_mode TEXT
);

CREATE INDEX IF NOT EXISTS muc_nusers_moving_average_idx ON muc(nusers_moving_average DESC);
`

const selectRoomSQL = "" +
	"SELECT address, domain_id, last_seen, nusers, nusers_moving_average," +
	" moving_average_last_update, is_open, is_hidden, was_kicked, anonymity_mode" +
	" FROM muc WHERE address = $1"

const insertRoomSQL = "" +
	"INSERT INTO muc (address, domain_id, last_seen, nusers, nusers_moving_average," +
	" moving_average_last_update, is_open, is_hidden, was_kicked, anonymity_mode)" +
	" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)"

// SQLite binds parameters by position, so numbering follows the order
// of occurrence, unlike the postgres variant.
const updateRoomSQL = "" +
	"UPDATE muc SET last_seen = $1, nusers = $2, nusers_moving_average = $3," +
	" moving_average_last_update = $4, is_open = $5, is_hidden = $6," +
	" was_kicked = $7, anonymity_mode = $8" +
	" WHERE address = $9"

const selectAllRoomAddressesSQL = "" +
	"SELECT address FROM muc"

const selectJoinableRoomsSQL = "" +
	"SELECT address, nusers FROM muc WHERE is_open AND nusers >= $1"

const deleteRoomSQL = "" +
	"DELETE FROM muc WHERE address = $1"

const selectExpiredRoomsSQL = "" +
	"SELECT address FROM muc WHERE last_seen <= $1"

const deleteExpiredRoomsSQL = "" +
	"DELETE FROM muc WHERE last_seen <= $1"

type roomsStatements struct {
	selectRoomStmt             *sql.Stmt
	insertRoomStmt             *sql.Stmt
	updateRoomStmt             *sql.Stmt
	selectAllRoomAddressesStmt *sql.Stmt
	selectJoinableRoomsStmt    *sql.Stmt
	deleteRoomStmt             *sql.Stmt
	selectExpiredRoomsStmt     *sql.Stmt
	deleteExpiredRoomsStmt     *sql.Stmt
}

func CreateRoomsTable(db *sql.DB) error {
	_, err := db.Exec(roomsSchema)
	return err
}

func PrepareRoomsTable(db *sql.DB) (tables.Rooms, error) {
	s := &roomsStatements{}
	return s, sqlutil.StatementList{
		{Statement: &s.selectRoomStmt, SQL: selectRoomSQL},
		{Statement: &s.insertRoomStmt, SQL: insertRoomSQL},
		{Statement: &s.updateRoomStmt, SQL: updateRoomSQL},
		{Statement: &s.selectAllRoomAddressesStmt, SQL: selectAllRoomAddressesSQL},
		{Statement: &s.selectJoinableRoomsStmt, SQL: selectJoinableRoomsSQL},
		{Statement: &s.deleteRoomStmt, SQL: deleteRoomSQL},
		{Statement: &s.selectExpiredRoomsStmt, SQL: selectExpiredRoomsSQL},
		{Statement: &s.deleteExpiredRoomsStmt, SQL: deleteExpiredRoomsSQL},
	}.Prepare(db)
}

func (s *roomsStatements) SelectRoom(
	ctx context.Context, txn *sql.Tx, address string,
) (*tables.RoomRow, error) {
	var row tables.RoomRow
	err := sqlutil.TxStmt(txn, s.selectRoomStmt).QueryRowContext(ctx, address).Scan(
		&row.Address, &row.DomainID, &row.LastSeen, &row.NUsers,
		&row.NUsersMovingAverage, &row.MovingAverageLastUpdate,
		&row.IsOpen, &row.IsHidden, &row.WasKicked, &row.AnonymityMode,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *roomsStatements) InsertRoom(
	ctx context.Context, txn *sql.Tx, row *tables.RoomRow,
) error {
	_, err := sqlutil.TxStmt(txn, s.insertRoomStmt).ExecContext(ctx,
		row.Address, row.DomainID, row.LastSeen, row.NUsers,
		row.NUsersMovingAverage, row.MovingAverageLastUpdate,
		row.IsOpen, row.IsHidden, row.WasKicked, row.AnonymityMode,
	)
	return err
}

func (s *roomsStatements) UpdateRoom(
	ctx context.Context, txn *sql.Tx, row *tables.RoomRow,
) error {
	_, err := sqlutil.TxStmt(txn, s.updateRoomStmt).ExecContext(ctx,
		row.LastSeen, row.NUsers,
		row.NUsersMovingAverage, row.MovingAverageLastUpdate,
		row.IsOpen, row.IsHidden, row.WasKicked, row.AnonymityMode,
		row.Address,
	)
	return err
}

func (s *roomsStatements) SelectAllRoomAddresses(
	ctx context.Context, txn *sql.Tx,
) ([]string, error) {
	rows, err := sqlutil.TxStmt(txn, s.selectAllRoomAddressesStmt).QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer sqlutil.CloseAndLogIfError(rows, "SelectAllRoomAddresses: rows.Close() failed")
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

func (s *roomsStatements) SelectJoinableRooms(
	ctx context.Context, txn *sql.Tx, minUsers int64,
) ([]tables.JoinableRoom, error) {
	rows, err := sqlutil.TxStmt(txn, s.selectJoinableRoomsStmt).QueryContext(ctx, minUsers)
	if err != nil {
		return nil, err
	}
	defer sqlutil.CloseAndLogIfError(rows, "SelectJoinableRooms: rows.Close() failed")
	var result []tables.JoinableRoom
	for rows.Next() {
		var room tables.JoinableRoom
		var nusers sql.NullInt64
		if err = rows.Scan(&room.Address, &nusers); err != nil {
			return nil, err
		}
		room.NUsers = nusers.Int64
		result = append(result, room)
	}
	return result, rows.Err()
}

func (s *roomsStatements) DeleteRoom(
	ctx context.Context, txn *sql.Tx, address string,
) (bool, error) {
	result, err := sqlutil.TxStmt(txn, s.deleteRoomStmt).ExecContext(ctx, address)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	return affected > 0, err
}

func (s *roomsStatements) DeleteExpiredRooms(
	ctx context.Context, txn *sql.Tx, threshold time.Time,
) ([]string, error) {
	rows, err := sqlutil.TxStmt(txn, s.selectExpiredRoomsStmt).QueryContext(ctx, threshold)
	if err != nil {
		return nil, err
	}
	defer sqlutil.CloseAndLogIfError(rows, "DeleteExpiredRooms: rows.Close() failed")
	var deleted []string
	for rows.Next() {
		var address string
		if err = rows.Scan(&address); err != nil {
			return nil, err
		}
		deleted = append(deleted, address)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	_, err = sqlutil.TxStmt(txn, s.deleteExpiredRoomsStmt).ExecContext(ctx, threshold)
	return deleted, err
}
