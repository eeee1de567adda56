package consensus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"truelens/internal/domain"
	"truelens/internal/events"
	"truelens/internal/ledger"
	"truelens/internal/repo"
	"truelens/internal/reputation"
	"truelens/internal/votes"
)

// Settler applies a computed Result to the ledger and reputation tables.
type Settler struct {
	Repo       repo.Repo
	Ledger     ledger.Ledger
	Votes      votes.Registry
	Reputation reputation.Tracker
	Events     events.Writer
	Params     Params
	Now        func() time.Time
}

func (s Settler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Settle settles a closed item inside tx. Settling an item twice fails with
// ErrAlreadySettled. Any ledger invariant violation is returned unchanged and
// the caller must roll tx back.
func (s Settler) Settle(ctx context.Context, tx *sql.Tx, item domain.ContentItem, actorID string) (domain.SettlementResult, error) {
	switch item.State {
	case domain.StateSettled:
		return domain.SettlementResult{}, domain.ErrAlreadySettled
	case domain.StateClosed:
	default:
		return domain.SettlementResult{}, fmt.Errorf("settle %s in state %s: %w", item.ID, item.State, domain.ErrNotDue)
	}
	if _, err := s.Repo.GetSettlementTx(ctx, tx, item.ID); err == nil {
		return domain.SettlementResult{}, domain.ErrAlreadySettled
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.SettlementResult{}, err
	}

	vs, err := s.Votes.VotesFor(ctx, tx, item.ID)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("load votes: %w", err)
	}
	plan, err := Compute(vs, s.Params)
	if err != nil {
		return domain.SettlementResult{}, err
	}
	if err := s.apply(ctx, tx, item.ID, plan); err != nil {
		return domain.SettlementResult{}, err
	}

	res := domain.SettlementResult{
		ContentID:      item.ID,
		Outcome:        plan.Outcome,
		ConsensusRatio: plan.Ratio,
		VerifyWeight:   plan.VerifyWeight,
		FlagWeight:     plan.FlagWeight,
		Entries:        plan.Entries,
		SettledAt:      s.now().UTC(),
	}
	if plan.Outcome != domain.OutcomeNoConsensus {
		for _, e := range plan.Entries {
			if err := s.Reputation.RecordOutcome(ctx, tx, domain.HistoryRecord{
				ContentID:     item.ID,
				ParticipantID: e.ParticipantID,
				Choice:        e.Choice,
				Stake:         e.Stake,
				Correct:       e.Correct,
				Reward:        e.Reward,
				StakeLost:     e.StakeLost,
				RecordedAt:    res.SettledAt,
			}); err != nil {
				return domain.SettlementResult{}, err
			}
		}
	}
	if err := s.Repo.InsertSettlementTx(ctx, tx, res); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("store settlement: %w", err)
	}
	if err := s.Repo.UpdateItemStateTx(ctx, tx, item.ID, domain.StateClosed, domain.StateSettled); err != nil {
		return domain.SettlementResult{}, err
	}
	lost, rewarded := res.Totals()
	if err := s.Events.Append(ctx, tx, events.ItemSettled, "item", item.ID, actorID, events.EventPayload{
		"outcome":         string(res.Outcome),
		"consensus_ratio": res.ConsensusRatio.String(),
		"verify_weight":   res.VerifyWeight,
		"flag_weight":     res.FlagWeight,
		"stake_lost":      lost,
		"rewarded":        rewarded,
		"entries":         len(res.Entries),
	}); err != nil {
		return domain.SettlementResult{}, err
	}
	return res, nil
}

// apply moves stake: losers to the pool, winners get their stake back, then
// the pool pays each reward out of a fresh lock.
func (s Settler) apply(ctx context.Context, tx *sql.Tx, contentID string, plan Result) error {
	pool := s.Params.RewardPoolID
	for _, e := range plan.Entries {
		if e.StakeLost > 0 {
			if err := s.Ledger.Settle(ctx, tx, e.ParticipantID, pool, e.StakeLost, contentID); err != nil {
				return err
			}
		}
		if e.StakeReturned > 0 {
			if err := s.Ledger.Release(ctx, tx, e.ParticipantID, e.StakeReturned, contentID); err != nil {
				return err
			}
		}
	}
	for _, e := range plan.Entries {
		if e.Reward <= 0 {
			continue
		}
		if err := s.Ledger.Lock(ctx, tx, pool, e.Reward, contentID); err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				return &ledger.InvariantError{Op: ledger.KindLock, ParticipantID: pool, Amount: e.Reward, Reason: "reward pool short of slashed stake"}
			}
			return err
		}
		if err := s.Ledger.Settle(ctx, tx, pool, e.ParticipantID, e.Reward, contentID); err != nil {
			return err
		}
	}
	return nil
}
