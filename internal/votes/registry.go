package votes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"truelens/internal/db"
	"truelens/internal/domain"
)

type Registry struct {
	Now func() time.Time
}

// Tally aggregates the stake behind each choice on one item.
type Tally struct {
	Verify int64
	Flag   int64
	Count  int
}

func (t Tally) Total() int64 { return t.Verify + t.Flag }

func (r Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Admit checks, without writing, that the participant may still vote on the
// item. It fails with ErrItemClosed when the item is not open or its window
// has ended, and with ErrDuplicateVote when the participant already voted.
func (r Registry) Admit(ctx context.Context, q db.Querier, contentID, participantID string) error {
	var state string
	var closesAt int64
	err := q.QueryRowContext(ctx, `SELECT state, closes_at FROM items WHERE id=?`, contentID).Scan(&state, &closesAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load item %s: %w", contentID, err)
	}
	if domain.ItemState(state) != domain.StateOpen || r.now().UTC().UnixMilli() >= closesAt {
		return domain.ErrItemClosed
	}
	var existing int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(1) FROM votes WHERE content_id=? AND participant_id=?`, contentID, participantID).Scan(&existing); err != nil {
		return err
	}
	if existing > 0 {
		return domain.ErrDuplicateVote
	}
	return nil
}

// Record stores a vote. It applies the same checks as Admit.
func (r Registry) Record(ctx context.Context, tx db.Querier, v domain.Vote) (domain.Vote, error) {
	if !v.Choice.Valid() || v.Stake <= 0 || v.ParticipantID == "" {
		return v, domain.ErrInvalidInput
	}
	now := r.now().UTC()
	if err := r.Admit(ctx, tx, v.ContentID, v.ParticipantID); err != nil {
		return v, err
	}

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.SubmittedAt = now
	res, err := tx.ExecContext(ctx, `INSERT INTO votes(id,content_id,participant_id,choice,stake,submitted_at) VALUES (?,?,?,?,?,?)`,
		v.ID, v.ContentID, v.ParticipantID, string(v.Choice), v.Stake, now.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: votes.content_id") {
			return v, domain.ErrDuplicateVote
		}
		return v, fmt.Errorf("insert vote: %w", err)
	}
	if v.Seq, err = res.LastInsertId(); err != nil {
		return v, err
	}
	return v, nil
}

// VotesFor returns every vote on the item in insertion order.
func (r Registry) VotesFor(ctx context.Context, q db.Querier, contentID string) ([]domain.Vote, error) {
	rows, err := q.QueryContext(ctx, `SELECT seq,id,content_id,participant_id,choice,stake,submitted_at FROM votes WHERE content_id=? ORDER BY seq ASC`, contentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vote
	for rows.Next() {
		var v domain.Vote
		var choice string
		var submitted int64
		if err := rows.Scan(&v.Seq, &v.ID, &v.ContentID, &v.ParticipantID, &choice, &v.Stake, &submitted); err != nil {
			return nil, err
		}
		v.Choice = domain.Choice(choice)
		v.SubmittedAt = time.UnixMilli(submitted).UTC()
		res = append(res, v)
	}
	return res, rows.Err()
}

// TotalStaked sums the stake behind one choice.
func (r Registry) TotalStaked(ctx context.Context, q db.Querier, contentID string, choice domain.Choice) (int64, error) {
	var total int64
	err := q.QueryRowContext(ctx, `SELECT COALESCE(SUM(stake),0) FROM votes WHERE content_id=? AND choice=?`, contentID, string(choice)).Scan(&total)
	return total, err
}

// Tally returns both stake sums and the vote count in one query.
func (r Registry) Tally(ctx context.Context, q db.Querier, contentID string) (Tally, error) {
	var t Tally
	err := q.QueryRowContext(ctx, `SELECT
  COALESCE(SUM(CASE WHEN choice='verify' THEN stake ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN choice='flag' THEN stake ELSE 0 END),0),
  COUNT(1)
FROM votes WHERE content_id=?`, contentID).Scan(&t.Verify, &t.Flag, &t.Count)
	return t, err
}

// VotesBy returns the participant's votes, newest first.
func (r Registry) VotesBy(ctx context.Context, q db.Querier, participantID string, limit int) ([]domain.Vote, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.QueryContext(ctx, `SELECT seq,id,content_id,participant_id,choice,stake,submitted_at FROM votes WHERE participant_id=? ORDER BY seq DESC LIMIT ?`, participantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vote
	for rows.Next() {
		var v domain.Vote
		var choice string
		var submitted int64
		if err := rows.Scan(&v.Seq, &v.ID, &v.ContentID, &v.ParticipantID, &choice, &v.Stake, &submitted); err != nil {
			return nil, err
		}
		v.Choice = domain.Choice(choice)
		v.SubmittedAt = time.UnixMilli(submitted).UTC()
		res = append(res, v)
	}
	return res, rows.Err()
}
