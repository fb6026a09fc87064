package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/maco144/pickle/internal/domain"
)

// ─── Payout Ledger ──────────────────────────────────────────────────────────

// InsertPayouts books a batch of payouts in one transaction. Each payout
// gets its row plus a DEBIT on the curve account and a matching CREDIT on
// the validator's account.
func (d *DB) InsertPayouts(payouts []domain.Payout) error {
	if len(payouts) == 0 {
		return nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	insPayout, err := tx.Prepare(
		`INSERT INTO payouts (id, session, epoch, unit, validator_id, work_id, category, price, reward, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare payout insert: %w", err)
	}
	defer insPayout.Close()

	insEntry, err := tx.Prepare(
		`INSERT INTO ledger (payout_id, timestamp, session, epoch, entry_type, account, amount)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("prepare ledger insert: %w", err)
	}
	defer insEntry.Close()

	for _, p := range payouts {
		ts := p.At.UnixMilli()
		if _, err := insPayout.Exec(p.ID, p.Session, int64(p.Epoch), int64(p.Unit), p.ValidatorID,
			p.WorkID, string(p.Category), p.Price, p.Reward, ts); err != nil {
			return fmt.Errorf("insert payout %s: %w", p.ID, err)
		}
		if _, err := insEntry.Exec(p.ID, ts, p.Session, int64(p.Epoch),
			string(domain.EntryDebit), domain.CurveAccount, p.Reward); err != nil {
			return fmt.Errorf("debit %s: %w", domain.CurveAccount, err)
		}
		account := domain.ValidatorAccount(p.ValidatorID)
		if _, err := insEntry.Exec(p.ID, ts, p.Session, int64(p.Epoch),
			string(domain.EntryCredit), account, p.Reward); err != nil {
			return fmt.Errorf("credit %s: %w", account, err)
		}
	}
	return tx.Commit()
}

// LedgerTotals aggregates one session epoch.
func (d *DB) LedgerTotals(session string, epoch uint64) (domain.LedgerTotals, error) {
	totals := domain.LedgerTotals{
		Session:     session,
		Epoch:       epoch,
		ByValidator: make(map[int]float64),
	}

	err := d.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(reward), 0) FROM payouts WHERE session = ? AND epoch = ?`,
		session, int64(epoch),
	).Scan(&totals.Payouts, &totals.PrizePool)
	if err != nil {
		return totals, fmt.Errorf("sum payouts: %w", err)
	}

	err = d.db.QueryRow(
		`SELECT
			COALESCE(SUM(CASE WHEN entry_type = ? THEN amount END), 0),
			COALESCE(SUM(CASE WHEN entry_type = ? THEN amount END), 0)
		 FROM ledger WHERE session = ? AND epoch = ?`,
		string(domain.EntryDebit), string(domain.EntryCredit), session, int64(epoch),
	).Scan(&totals.Debits, &totals.Credits)
	if err != nil {
		return totals, fmt.Errorf("sum ledger: %w", err)
	}

	rows, err := d.db.Query(
		`SELECT validator_id, SUM(reward) FROM payouts
		 WHERE session = ? AND epoch = ? GROUP BY validator_id`,
		session, int64(epoch),
	)
	if err != nil {
		return totals, fmt.Errorf("sum by validator: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int
		var earned float64
		if err := rows.Scan(&id, &earned); err != nil {
			return totals, err
		}
		totals.ByValidator[id] = earned
	}
	return totals, rows.Err()
}

// RecentPayouts returns the newest payouts of a session, newest first.
func (d *DB) RecentPayouts(session string, limit int) ([]domain.Payout, error) {
	rows, err := d.db.Query(
		`SELECT id, session, epoch, unit, validator_id, work_id, category, price, reward, created_at
		 FROM payouts WHERE session = ? ORDER BY created_at DESC, epoch DESC, unit DESC LIMIT ?`,
		session, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payouts []domain.Payout
	for rows.Next() {
		var p domain.Payout
		var epoch, unit, ts int64
		var category string
		err := rows.Scan(&p.ID, &p.Session, &epoch, &unit, &p.ValidatorID,
			&p.WorkID, &category, &p.Price, &p.Reward, &ts)
		if err != nil {
			return nil, err
		}
		p.Epoch = uint64(epoch)
		p.Unit = uint64(unit)
		p.Category = domain.Category(category)
		p.At = time.UnixMilli(ts)
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// LatestEpoch returns the highest epoch booked for session.
func (d *DB) LatestEpoch(session string) (uint64, error) {
	var epoch sql.NullInt64
	err := d.db.QueryRow(`SELECT MAX(epoch) FROM payouts WHERE session = ?`, session).Scan(&epoch)
	if err != nil {
		return 0, err
	}
	return uint64(epoch.Int64), nil
}

// LedgerEntries returns the newest entries posted to account within a
// session, newest first.
func (d *DB) LedgerEntries(session, account string, limit int) ([]domain.LedgerEntry, error) {
	rows, err := d.db.Query(
		`SELECT id, payout_id, timestamp, session, epoch, entry_type, account, amount
		 FROM ledger WHERE session = ? AND account = ? ORDER BY id DESC LIMIT ?`,
		session, account, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var ts, epoch int64
		var entryType string
		if err := rows.Scan(&e.ID, &e.PayoutID, &ts, &e.Session, &epoch, &entryType, &e.Account, &e.Amount); err != nil {
			return nil, err
		}
		e.Timestamp = time.UnixMilli(ts)
		e.Epoch = uint64(epoch)
		e.EntryType = domain.EntryType(entryType)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
