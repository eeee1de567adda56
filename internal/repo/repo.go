package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"truelens/internal/db"
	"truelens/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = domain.ErrNotFound

// q picks the transaction when one is in flight. Reads issued during a write
// must go through it or they would wait on the single connection.
func (r Repo) q(tx *sql.Tx) db.Querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// Millis converts a timestamp to the integer form stored in the database.
func Millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromMillis is the inverse of Millis.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

const itemColumns = `id,COALESCE(title,''),COALESCE(source,''),COALESCE(url,''),COALESCE(content_hash,''),state,created_by,created_at,closes_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (domain.ContentItem, error) {
	var it domain.ContentItem
	var state string
	var createdAt, closesAt int64
	err := row.Scan(&it.ID, &it.Title, &it.Source, &it.URL, &it.ContentHash, &state, &it.CreatedBy, &createdAt, &closesAt)
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.State = domain.ItemState(state)
	it.CreatedAt = FromMillis(createdAt)
	it.ClosesAt = FromMillis(closesAt)
	return it, nil
}

func (r Repo) InsertItemTx(ctx context.Context, tx *sql.Tx, it domain.ContentItem) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO items(id,title,source,url,content_hash,state,created_by,created_at,closes_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		it.ID, nullable(it.Title), nullable(it.Source), nullable(it.URL), nullable(it.ContentHash), string(it.State), it.CreatedBy, Millis(it.CreatedAt), Millis(it.ClosesAt))
	return err
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.ContentItem, error) {
	return r.GetItemTx(ctx, nil, id)
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.ContentItem, error) {
	return scanItem(r.q(tx).QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id))
}

type ItemFilters struct {
	State  string
	Limit  int
	Offset int
}

func (r Repo) ListItems(ctx context.Context, f ItemFilters) ([]domain.ContentItem, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, f.State)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM items WHERE %s ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`, itemColumns, strings.Join(clauses, " AND "))
	args = append(args, limit, f.Offset)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ContentItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

// ListDueItemIDs returns unsettled items whose window has ended or that were
// closed early, oldest deadline first.
func (r Repo) ListDueItemIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM items WHERE state='closed' OR (state='open' AND closes_at<=?) ORDER BY closes_at ASC, id ASC LIMIT ?`,
		Millis(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateItemStateTx moves an item from one state to the next. It fails when
// the stored state is not the expected one.
func (r Repo) UpdateItemStateTx(ctx context.Context, tx *sql.Tx, id string, from, to domain.ItemState) error {
	res, err := tx.ExecContext(ctx, `UPDATE items SET state=? WHERE id=? AND state=?`, string(to), id, string(from))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: item %s is not %s", domain.ErrInvariant, id, from)
	}
	return nil
}

func (r Repo) InsertSettlementTx(ctx context.Context, tx *sql.Tx, s domain.SettlementResult) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO settlements(content_id,outcome,consensus_ratio,verify_weight,flag_weight,settled_at) VALUES (?,?,?,?,?,?)`,
		s.ContentID, string(s.Outcome), s.ConsensusRatio.String(), s.VerifyWeight, s.FlagWeight, Millis(s.SettledAt))
	if err != nil {
		return err
	}
	for _, e := range s.Entries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO settlement_entries(content_id,participant_id,choice,stake,stake_returned,stake_lost,reward,correct) VALUES (?,?,?,?,?,?,?,?)`,
			s.ContentID, e.ParticipantID, string(e.Choice), e.Stake, e.StakeReturned, e.StakeLost, e.Reward, e.Correct); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetSettlement(ctx context.Context, contentID string) (domain.SettlementResult, error) {
	return r.GetSettlementTx(ctx, nil, contentID)
}

func (r Repo) GetSettlementTx(ctx context.Context, tx *sql.Tx, contentID string) (domain.SettlementResult, error) {
	q := r.q(tx)
	var s domain.SettlementResult
	var outcome, ratio string
	var settledAt int64
	err := q.QueryRowContext(ctx, `SELECT content_id,outcome,consensus_ratio,verify_weight,flag_weight,settled_at FROM settlements WHERE content_id=?`, contentID).
		Scan(&s.ContentID, &outcome, &ratio, &s.VerifyWeight, &s.FlagWeight, &settledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Outcome = domain.Outcome(outcome)
	s.SettledAt = FromMillis(settledAt)
	if s.ConsensusRatio, err = decimal.NewFromString(ratio); err != nil {
		return s, fmt.Errorf("settlement %s ratio: %w", contentID, err)
	}
	rows, err := q.QueryContext(ctx, `SELECT participant_id,choice,stake,stake_returned,stake_lost,reward,correct FROM settlement_entries WHERE content_id=? ORDER BY participant_id`, contentID)
	if err != nil {
		return s, err
	}
	defer rows.Close()
	for rows.Next() {
		var e domain.SettlementEntry
		var choice string
		if err := rows.Scan(&e.ParticipantID, &choice, &e.Stake, &e.StakeReturned, &e.StakeLost, &e.Reward, &e.Correct); err != nil {
			return s, err
		}
		e.Choice = domain.Choice(choice)
		s.Entries = append(s.Entries, e)
	}
	return s, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
