// Package ledger holds per-participant stake balances. Every mutation runs on
// the caller's transaction and is journaled in ledger_entries, so a batch of
// moves either commits together or not at all.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"truelens/internal/db"
	"truelens/internal/domain"
)

const (
	KindDeposit = "deposit"
	KindLock    = "lock"
	KindRelease = "release"
	KindSettle  = "settle"
)

type Balance struct {
	ParticipantID string `json:"participant_id"`
	Available     int64  `json:"available"`
	Locked        int64  `json:"locked"`
}

func (b Balance) Total() int64 { return b.Available + b.Locked }

// InvariantError reports a ledger move that can only happen if an upstream
// component is wrong, e.g. settling more than is locked.
type InvariantError struct {
	Op            string
	ParticipantID string
	Amount        int64
	Reason        string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("ledger %s %s amount=%d: %s", e.Op, e.ParticipantID, e.Amount, e.Reason)
}

func (e *InvariantError) Unwrap() error { return domain.ErrInvariant }

type Ledger struct {
	Now func() time.Time
}

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now()
}

func checkMove(op, participantID string, amount int64) error {
	if participantID == "" {
		return &InvariantError{Op: op, Amount: amount, Reason: "empty participant id"}
	}
	if amount <= 0 {
		return &InvariantError{Op: op, ParticipantID: participantID, Amount: amount, Reason: "amount must be positive"}
	}
	return nil
}

// Deposit credits available stake. It is the stake provider's entry point and
// creates the participant on first use.
func (l Ledger) Deposit(ctx context.Context, tx db.Querier, participantID string, amount int64, ref string) error {
	if err := checkMove(KindDeposit, participantID, amount); err != nil {
		return err
	}
	if err := l.credit(ctx, tx, participantID, amount); err != nil {
		return err
	}
	return l.journal(ctx, tx, KindDeposit, participantID, "", amount, ref)
}

// Lock moves amount from available to locked. Unknown participants have a
// zero balance. No partial locks.
func (l Ledger) Lock(ctx context.Context, tx db.Querier, participantID string, amount int64, ref string) error {
	if err := checkMove(KindLock, participantID, amount); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE participants SET available=available-?, locked=locked+? WHERE id=? AND available>=?`,
		amount, amount, participantID, amount)
	if err != nil {
		return fmt.Errorf("lock stake: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrInsufficientFunds
	}
	return l.journal(ctx, tx, KindLock, participantID, "", amount, ref)
}

// Release moves amount from locked back to available.
func (l Ledger) Release(ctx context.Context, tx db.Querier, participantID string, amount int64, ref string) error {
	if err := checkMove(KindRelease, participantID, amount); err != nil {
		return err
	}
	if err := l.debitLocked(ctx, tx, KindRelease, participantID, amount); err != nil {
		return err
	}
	if err := l.credit(ctx, tx, participantID, amount); err != nil {
		return err
	}
	return l.journal(ctx, tx, KindRelease, participantID, "", amount, ref)
}

// Settle moves amount from the locked balance of from to the available
// balance of to.
func (l Ledger) Settle(ctx context.Context, tx db.Querier, from, to string, amount int64, ref string) error {
	if err := checkMove(KindSettle, from, amount); err != nil {
		return err
	}
	if to == "" {
		return &InvariantError{Op: KindSettle, ParticipantID: from, Amount: amount, Reason: "empty counterparty"}
	}
	if err := l.debitLocked(ctx, tx, KindSettle, from, amount); err != nil {
		return err
	}
	if err := l.credit(ctx, tx, to, amount); err != nil {
		return err
	}
	return l.journal(ctx, tx, KindSettle, from, to, amount, ref)
}

func (l Ledger) debitLocked(ctx context.Context, tx db.Querier, op, participantID string, amount int64) error {
	res, err := tx.ExecContext(ctx, `UPDATE participants SET locked=locked-? WHERE id=? AND locked>=?`, amount, participantID, amount)
	if err != nil {
		return fmt.Errorf("%s stake: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &InvariantError{Op: op, ParticipantID: participantID, Amount: amount, Reason: "insufficient locked balance"}
	}
	return nil
}

func (l Ledger) credit(ctx context.Context, tx db.Querier, participantID string, amount int64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO participants(id,available,locked,created_at) VALUES (?,?,0,?)
ON CONFLICT(id) DO UPDATE SET available=available+excluded.available`,
		participantID, amount, l.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("credit %s: %w", participantID, err)
	}
	return nil
}

func (l Ledger) journal(ctx context.Context, tx db.Querier, kind, participantID, counterparty string, amount int64, ref string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ledger_entries(kind,participant_id,counterparty,amount,reference,created_at) VALUES (?,?,?,?,?,?)`,
		kind, participantID, nullable(counterparty), amount, nullable(ref), l.now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("journal %s: %w", kind, err)
	}
	return nil
}

// Balance returns the participant's balances. Unknown participants read as zero.
func (l Ledger) Balance(ctx context.Context, q db.Querier, participantID string) (Balance, error) {
	b := Balance{ParticipantID: participantID}
	err := q.QueryRowContext(ctx, `SELECT available, locked FROM participants WHERE id=?`, participantID).Scan(&b.Available, &b.Locked)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return b, err
	}
	return b, nil
}

// Exists reports whether the participant has ever held stake.
func (l Ledger) Exists(ctx context.Context, q db.Querier, participantID string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM participants WHERE id=?`, participantID).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Total sums available and locked stake over all participants.
func (l Ledger) Total(ctx context.Context, q db.Querier) (int64, error) {
	var total int64
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(SUM(available+locked),0) FROM participants`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// Deposited sums every deposit ever journaled. With no deposits in flight it
// equals Total.
func (l Ledger) Deposited(ctx context.Context, q db.Querier) (int64, error) {
	var total int64
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount),0) FROM ledger_entries WHERE kind='deposit'`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// Entries returns the participant's journal, newest first.
func (l Ledger) Entries(ctx context.Context, q db.Querier, participantID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.QueryContext(ctx, `SELECT id,kind,participant_id,COALESCE(counterparty,''),amount,COALESCE(reference,''),created_at FROM ledger_entries
WHERE participant_id=? OR counterparty=? ORDER BY id DESC LIMIT ?`, participantID, participantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var created int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.ParticipantID, &e.Counterparty, &e.Amount, &e.Reference, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
