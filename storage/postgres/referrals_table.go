package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/horazont/muchopper/internal/sqlutil"
	"github.com/horazont/muchopper/storage/tables"
)

const referralsSchema = `
CREATE TABLE IF NOT EXISTS muc_referral (
    from_address TEXT NOT NULL REFERENCES public_muc(address) ON DELETE CASCADE ON UPDATE CASCADE,
    to_address TEXT NOT NULL REFERENCES public_muc(address) ON DELETE CASCADE ON UPDATE CASCADE,
    count BIGINT NOT NULL,
    last_referral_ts TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (from_address, to_address)
);
`

const upsertReferralSQL = "" +
	"INSERT INTO muc_referral (from_address, to_address, count, last_referral_ts)" +
	" VALUES ($1, $2, 1, $3)" +
	" ON CONFLICT (from_address, to_address)" +
	" DO UPDATE SET count = muc_referral.count + 1, last_referral_ts = $3"

const selectReferralCountSQL = "" +
	"SELECT count FROM muc_referral WHERE from_address = $1 AND to_address = $2"

type referralsStatements struct {
	upsertReferralStmt      *sql.Stmt
	selectReferralCountStmt *sql.Stmt
}

func CreateReferralsTable(db *sql.DB) error {
	_, err := db.Exec(referralsSchema)
	return err
}

func PrepareReferralsTable(db *sql.DB) (tables.Referrals, error) {
	s := &referralsStatements{}
	return s, sqlutil.StatementList{
		{Statement: &s.upsertReferralStmt, SQL: upsertReferralSQL},
		{Statement: &s.selectReferralCountStmt, SQL: selectReferralCountSQL},
	}.Prepare(db)
}

func (s *referralsStatements) UpsertReferral(
	ctx context.Context, txn *sql.Tx, fromAddress, toAddress string, ts time.Time,
) error {
	_, err := sqlutil.TxStmt(txn, s.upsertReferralStmt).ExecContext(ctx, fromAddress, toAddress, ts)
	return err
}

func (s *referralsStatements) SelectReferralCount(
	ctx context.Context, txn *sql.Tx, fromAddress, toAddress string,
) (count int64, err error) {
	err = sqlutil.TxStmt(txn, s.selectReferralCountStmt).QueryRowContext(ctx, fromAddress, toAddress).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return
}
