package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"truelens/internal/consensus"
	"truelens/internal/domain"
	"truelens/internal/events"
)

// SettleReport describes what CloseAndSettleIfDue did.
type SettleReport struct {
	ContentID  string                   `json:"content_id"`
	Action     string                   `json:"action" enum:"settled,not_due,already_settled"`
	Settlement *domain.SettlementResult `json:"settlement,omitempty"`
}

const (
	ActionSettled        = "settled"
	ActionNotDue         = "not_due"
	ActionAlreadySettled = "already_settled"
)

func ensureItemTransition(from, to domain.ItemState) error {
	switch from {
	case domain.StateOpen:
		if to == domain.StateClosed {
			return nil
		}
	case domain.StateClosed:
		if to == domain.StateSettled {
			return nil
		}
	}
	return fmt.Errorf("%w: item cannot move from %s to %s", domain.ErrInvariant, from, to)
}

func (e Engine) closeItem(ctx context.Context, tx *sql.Tx, item domain.ContentItem, verify, flag int64, reason, actorID string) error {
	if err := ensureItemTransition(item.State, domain.StateClosed); err != nil {
		return err
	}
	if err := e.Repo.UpdateItemStateTx(ctx, tx, item.ID, domain.StateOpen, domain.StateClosed); err != nil {
		return err
	}
	return e.events().Append(ctx, tx, events.ItemClosed, "item", item.ID, actorOrSystem(actorID), events.EventPayload{
		"reason":        reason,
		"verify_weight": verify,
		"flag_weight":   flag,
	})
}

// CloseAndSettleIfDue closes and settles the item when its window has ended or
// it was closed early. Items that are not due or already settled are left
// alone.
func (e Engine) CloseAndSettleIfDue(ctx context.Context, contentID string) (SettleReport, error) {
	rep, err := e.settle(ctx, contentID, "system", false)
	if err != nil && errors.Is(err, domain.ErrInvariant) {
		e.alert(ctx, contentID, err)
	}
	return rep, err
}

// Settle settles an item on request. Settling twice fails with
// ErrAlreadySettled and an item still inside its window fails with ErrNotDue.
func (e Engine) Settle(ctx context.Context, contentID, actorID string) (domain.SettlementResult, error) {
	rep, err := e.settle(ctx, contentID, actorID, true)
	if err != nil {
		if errors.Is(err, domain.ErrInvariant) {
			e.alert(ctx, contentID, err)
		}
		return domain.SettlementResult{}, err
	}
	return *rep.Settlement, nil
}

func (e Engine) settle(ctx context.Context, contentID, actorID string, strict bool) (SettleReport, error) {
	rep := SettleReport{ContentID: contentID}
	unlock := e.locks.lock(contentID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return rep, err
	}
	defer tx.Rollback()

	item, err := e.Repo.GetItemTx(ctx, tx, contentID)
	if err != nil {
		return rep, err
	}
	switch item.State {
	case domain.StateSettled:
		if strict {
			return rep, domain.ErrAlreadySettled
		}
		rep.Action = ActionAlreadySettled
		return rep, nil
	case domain.StateOpen:
		tally, err := e.votes().Tally(ctx, tx, contentID)
		if err != nil {
			return rep, err
		}
		if !consensus.ShouldClose(item, tally, e.now(), e.Params()) {
			if strict {
				return rep, domain.ErrNotDue
			}
			rep.Action = ActionNotDue
			return rep, nil
		}
		reason := "deadline"
		if e.now().Before(item.ClosesAt) {
			reason = "early"
		}
		if err := e.closeItem(ctx, tx, item, tally.Verify, tally.Flag, reason, actorID); err != nil {
			return rep, err
		}
		item.State = domain.StateClosed
	}

	res, err := e.settler().Settle(ctx, tx, item, actorOrSystem(actorID))
	if err != nil {
		return rep, err
	}
	if err := tx.Commit(); err != nil {
		return rep, err
	}
	lost, rewarded := res.Totals()
	e.Log().Info("item settled",
		zap.String("content_id", contentID),
		zap.String("outcome", string(res.Outcome)),
		zap.String("consensus_ratio", res.ConsensusRatio.String()),
		zap.Int64("stake_lost", lost),
		zap.Int64("rewarded", rewarded))
	rep.Action = ActionSettled
	rep.Settlement = &res
	return rep, nil
}

// alert reports a broken invariant. The failing transaction has already been
// rolled back; the alert itself is recorded in a fresh one.
func (e Engine) alert(ctx context.Context, contentID string, cause error) {
	e.Log().Error("invariant violation",
		zap.String("content_id", contentID),
		zap.Error(cause))
	ctx = context.WithoutCancel(ctx)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		e.Log().Error("record invariant alert", zap.Error(err))
		return
	}
	defer tx.Rollback()
	if err := e.events().Append(ctx, tx, events.InvariantAlert, "item", contentID, "system", events.EventPayload{
		"error": cause.Error(),
	}); err != nil {
		e.Log().Error("record invariant alert", zap.Error(err))
		return
	}
	if err := tx.Commit(); err != nil {
		e.Log().Error("record invariant alert", zap.Error(err))
	}
}
