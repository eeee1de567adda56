package reputation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"truelens/internal/config"
	"truelens/internal/db"
	"truelens/internal/domain"
)

type Tracker struct {
	Config config.Reputation
	Now    func() time.Time
}

// LevelOf derives a participant's level from their correct votes. Incorrect
// votes cost score, not level, so it never decreases.
func LevelOf(successes, threshold int) int {
	if threshold <= 0 || successes < 0 {
		return 1
	}
	return 1 + successes/threshold
}

func accuracy(successes, failures int) int {
	if successes+failures == 0 {
		return 0
	}
	return successes * 100 / (successes + failures)
}

func (t Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t Tracker) nextScore(score int, correct bool) int {
	if correct {
		score += t.Config.CorrectDelta
		if score > t.Config.MaxScore {
			score = t.Config.MaxScore
		}
		return score
	}
	score -= t.Config.IncorrectDelta
	if score < t.Config.MinScore {
		score = t.Config.MinScore
	}
	return score
}

// RecordOutcome credits one settled vote to the participant and appends it to
// their history.
func (t Tracker) RecordOutcome(ctx context.Context, tx db.Querier, rec domain.HistoryRecord) error {
	if rec.ParticipantID == "" {
		return fmt.Errorf("record outcome: %w", domain.ErrInvalidInput)
	}
	now := t.now().UTC()
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = now
	}
	var score int
	err := tx.QueryRowContext(ctx, `SELECT score FROM reputation WHERE participant_id=?`, rec.ParticipantID).Scan(&score)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		score = t.Config.InitialScore
		if _, err := tx.ExecContext(ctx, `INSERT INTO reputation(participant_id,successes,failures,score,rewards_earned,updated_at) VALUES (?,0,0,?,0,?)`,
			rec.ParticipantID, score, now.Format(time.RFC3339)); err != nil {
			return fmt.Errorf("init reputation: %w", err)
		}
	case err != nil:
		return err
	}

	success, failure := 0, 0
	if rec.Correct {
		success = 1
	} else {
		failure = 1
	}
	if _, err := tx.ExecContext(ctx, `UPDATE reputation SET successes=successes+?, failures=failures+?, score=?, rewards_earned=rewards_earned+?, updated_at=? WHERE participant_id=?`,
		success, failure, t.nextScore(score, rec.Correct), rec.Reward, now.Format(time.RFC3339), rec.ParticipantID); err != nil {
		return fmt.Errorf("update reputation: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO reputation_history(participant_id,content_id,choice,stake,correct,reward,stake_lost,recorded_at) VALUES (?,?,?,?,?,?,?,?)`,
		rec.ParticipantID, rec.ContentID, string(rec.Choice), rec.Stake, rec.Correct, rec.Reward, rec.StakeLost, rec.RecordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (t Tracker) fill(r *domain.Reputation) {
	r.Level = LevelOf(r.Successes, t.Config.LevelThreshold)
	r.Accuracy = accuracy(r.Successes, r.Failures)
}

// Profile returns the participant's reputation. Participants without settled
// votes get the starting profile.
func (t Tracker) Profile(ctx context.Context, q db.Querier, participantID string) (domain.Reputation, error) {
	r := domain.Reputation{ParticipantID: participantID, Score: t.Config.InitialScore}
	err := q.QueryRowContext(ctx, `SELECT successes,failures,score,rewards_earned FROM reputation WHERE participant_id=?`, participantID).
		Scan(&r.Successes, &r.Failures, &r.Score, &r.RewardsEarned)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return r, err
	}
	t.fill(&r)
	return r, nil
}

// History returns settled votes for the participant, newest first.
func (t Tracker) History(ctx context.Context, q db.Querier, participantID string, limit int) ([]domain.HistoryRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.QueryContext(ctx, `SELECT participant_id,content_id,choice,stake,correct,reward,stake_lost,recorded_at FROM reputation_history
WHERE participant_id=? ORDER BY id DESC LIMIT ?`, participantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HistoryRecord
	for rows.Next() {
		var h domain.HistoryRecord
		var choice string
		var recorded int64
		if err := rows.Scan(&h.ParticipantID, &h.ContentID, &choice, &h.Stake, &h.Correct, &h.Reward, &h.StakeLost, &recorded); err != nil {
			return nil, err
		}
		h.Choice = domain.Choice(choice)
		h.RecordedAt = time.UnixMilli(recorded).UTC()
		res = append(res, h)
	}
	return res, rows.Err()
}

// Top returns the leaderboard ordered by score, then successes, then id.
func (t Tracker) Top(ctx context.Context, q db.Querier, limit int) ([]domain.Reputation, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := q.QueryContext(ctx, `SELECT participant_id,successes,failures,score,rewards_earned FROM reputation
ORDER BY score DESC, successes DESC, participant_id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reputation
	for rows.Next() {
		var r domain.Reputation
		if err := rows.Scan(&r.ParticipantID, &r.Successes, &r.Failures, &r.Score, &r.RewardsEarned); err != nil {
			return nil, err
		}
		t.fill(&r)
		res = append(res, r)
	}
	return res, rows.Err()
}
