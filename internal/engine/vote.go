package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"truelens/internal/consensus"
	"truelens/internal/domain"
	"truelens/internal/events"
)

type VoteInput struct {
	ContentID     string
	ParticipantID string
	Choice        domain.Choice
	Stake         int64
}

func (in VoteInput) validate(poolID string) error {
	switch {
	case strings.TrimSpace(in.ContentID) == "":
		return fmt.Errorf("%w: content id required", domain.ErrInvalidInput)
	case strings.TrimSpace(in.ParticipantID) == "":
		return fmt.Errorf("%w: participant id required", domain.ErrInvalidInput)
	case in.ParticipantID == poolID:
		return fmt.Errorf("%w: the reward pool cannot vote", domain.ErrInvalidInput)
	case !in.Choice.Valid():
		return fmt.Errorf("%w: choice must be verify or flag", domain.ErrInvalidInput)
	case in.Stake <= 0:
		return fmt.Errorf("%w: stake must be positive", domain.ErrInvalidInput)
	}
	return nil
}

func isVoteRejection(err error) bool {
	return errors.Is(err, domain.ErrDuplicateVote) || errors.Is(err, domain.ErrItemClosed) || errors.Is(err, domain.ErrInsufficientFunds)
}

// SubmitVote locks the stake and records the vote in one transaction. When the
// vote is rejected the lock is released again and only the rejection is
// committed. A vote that tips the item over the early-closure threshold
// closes it.
func (e Engine) SubmitVote(ctx context.Context, in VoteInput) (domain.Vote, error) {
	vote, err := e.submitVote(ctx, in)
	if err != nil && errors.Is(err, domain.ErrInvariant) {
		e.alert(ctx, in.ContentID, err)
	}
	return vote, err
}

func (e Engine) submitVote(ctx context.Context, in VoteInput) (domain.Vote, error) {
	if err := in.validate(e.Config.Consensus.RewardPoolID); err != nil {
		return domain.Vote{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.Vote{}, err
	}
	unlock := e.locks.lock(in.ContentID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Vote{}, err
	}
	defer tx.Rollback()

	item, err := e.Repo.GetItemTx(ctx, tx, in.ContentID)
	if err != nil {
		return domain.Vote{}, err
	}
	l := e.ledger()
	ev := e.events()

	reject := func(cause error) (domain.Vote, error) {
		if err := ev.Append(ctx, tx, events.VoteRejected, "item", in.ContentID, in.ParticipantID, events.EventPayload{
			"choice": string(in.Choice),
			"stake":  in.Stake,
			"reason": rejectionCode(cause),
		}); err != nil {
			return domain.Vote{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.Vote{}, err
		}
		return domain.Vote{}, cause
	}

	// A retry or a late vote is reported as such even when the stake could
	// no longer be locked.
	if err := e.votes().Admit(ctx, tx, in.ContentID, in.ParticipantID); err != nil {
		if isVoteRejection(err) {
			return reject(err)
		}
		return domain.Vote{}, err
	}
	if err := l.Lock(ctx, tx, in.ParticipantID, in.Stake, in.ContentID); err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			return reject(err)
		}
		return domain.Vote{}, err
	}
	vote, err := e.votes().Record(ctx, tx, domain.Vote{
		ContentID:     in.ContentID,
		ParticipantID: in.ParticipantID,
		Choice:        in.Choice,
		Stake:         in.Stake,
	})
	if err != nil {
		if !isVoteRejection(err) {
			return domain.Vote{}, err
		}
		if rerr := l.Release(ctx, tx, in.ParticipantID, in.Stake, in.ContentID); rerr != nil {
			return domain.Vote{}, rerr
		}
		return reject(err)
	}
	if err := ev.Append(ctx, tx, events.VoteRecorded, "item", in.ContentID, in.ParticipantID, events.EventPayload{
		"vote_id": vote.ID,
		"choice":  string(vote.Choice),
		"stake":   vote.Stake,
	}); err != nil {
		return domain.Vote{}, err
	}

	tally, err := e.votes().Tally(ctx, tx, in.ContentID)
	if err != nil {
		return domain.Vote{}, err
	}
	if consensus.ShouldClose(item, tally, e.now(), e.Params()) {
		if err := e.closeItem(ctx, tx, item, tally.Verify, tally.Flag, "early", in.ParticipantID); err != nil {
			return domain.Vote{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Vote{}, err
	}
	e.Log().Debug("vote recorded",
		zap.String("content_id", vote.ContentID),
		zap.String("participant_id", vote.ParticipantID),
		zap.String("choice", string(vote.Choice)),
		zap.Int64("stake", vote.Stake))
	return vote, nil
}

// rejectionCode is the wire code of a rejected vote.
func rejectionCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrDuplicateVote):
		return "duplicate_vote"
	case errors.Is(err, domain.ErrItemClosed):
		return "item_closed"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	default:
		return "rejected"
	}
}
