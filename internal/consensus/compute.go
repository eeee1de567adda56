// Package consensus decides the outcome of a closed item and turns it into
// stake movements. Compute is pure; Settler applies its result inside the
// caller's transaction.
package consensus

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"truelens/internal/config"
	"truelens/internal/domain"
	"truelens/internal/votes"
)

type Params struct {
	EarlyCloseStake int64
	Supermajority   decimal.Decimal
	MinMargin       decimal.Decimal
	RewardPoolID    string
}

func ParamsFrom(c config.Consensus) Params {
	return Params{
		EarlyCloseStake: c.EarlyCloseStake,
		Supermajority:   c.Supermajority,
		MinMargin:       c.MinMargin,
		RewardPoolID:    c.RewardPoolID,
	}
}

var half = decimal.New(5, -1)

// Result is the full settlement plan for one item.
type Result struct {
	Outcome      domain.Outcome
	Ratio        decimal.Decimal
	VerifyWeight int64
	FlagWeight   int64
	Pool         int64
	// Entries are sorted by participant id.
	Entries []domain.SettlementEntry
}

// Ratio is max(verify, flag) / (verify + flag), zero when nothing is staked.
// It is for display; decisions compare by cross-multiplication.
func Ratio(verify, flag int64) decimal.Decimal {
	total := verify + flag
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(max(verify, flag)).DivRound(decimal.NewFromInt(total), 8)
}

// atLeast reports max/total >= threshold without dividing.
func atLeast(maxWeight, total int64, threshold decimal.Decimal) bool {
	return decimal.NewFromInt(maxWeight).GreaterThanOrEqual(threshold.Mul(decimal.NewFromInt(total)))
}

// ShouldClose is true when the voting window has ended, or when enough stake
// is in and one side holds a supermajority of it.
func ShouldClose(item domain.ContentItem, t votes.Tally, now time.Time, p Params) bool {
	if !now.Before(item.ClosesAt) {
		return true
	}
	total := t.Total()
	if total == 0 || total < p.EarlyCloseStake {
		return false
	}
	return atLeast(max(t.Verify, t.Flag), total, p.Supermajority)
}

// Project returns the outcome the current tally would settle to.
func Project(t votes.Tally, p Params) domain.Outcome {
	total := t.Total()
	if total == 0 || t.Verify == t.Flag {
		return domain.OutcomeNoConsensus
	}
	if !atLeast(max(t.Verify, t.Flag), total, half.Add(p.MinMargin)) {
		return domain.OutcomeNoConsensus
	}
	if t.Verify > t.Flag {
		return domain.OutcomeVerified
	}
	return domain.OutcomeFlagged
}

// Compute derives the settlement of an item from its votes. The result
// depends only on per-participant stakes and choices, never on vote order.
func Compute(vs []domain.Vote, p Params) (Result, error) {
	var t votes.Tally
	seen := make(map[string]struct{}, len(vs))
	entries := make([]domain.SettlementEntry, 0, len(vs))
	for _, v := range vs {
		if _, dup := seen[v.ParticipantID]; dup {
			return Result{}, fmt.Errorf("%w: participant %s voted twice on %s", domain.ErrInvariant, v.ParticipantID, v.ContentID)
		}
		seen[v.ParticipantID] = struct{}{}
		if v.Stake <= 0 {
			return Result{}, fmt.Errorf("%w: non-positive stake from %s", domain.ErrInvariant, v.ParticipantID)
		}
		switch v.Choice {
		case domain.ChoiceVerify:
			t.Verify += v.Stake
		case domain.ChoiceFlag:
			t.Flag += v.Stake
		default:
			return Result{}, fmt.Errorf("%w: unknown choice %q", domain.ErrInvariant, v.Choice)
		}
		t.Count++
		entries = append(entries, domain.SettlementEntry{ParticipantID: v.ParticipantID, Choice: v.Choice, Stake: v.Stake})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ParticipantID < entries[j].ParticipantID })

	res := Result{
		Outcome:      Project(t, p),
		Ratio:        Ratio(t.Verify, t.Flag),
		VerifyWeight: t.Verify,
		FlagWeight:   t.Flag,
		Entries:      entries,
	}
	if res.Outcome == domain.OutcomeNoConsensus {
		for i := range res.Entries {
			res.Entries[i].StakeReturned = res.Entries[i].Stake
		}
		return res, nil
	}

	winning := domain.ChoiceVerify
	if res.Outcome == domain.OutcomeFlagged {
		winning = domain.ChoiceFlag
	}
	var majority int64
	for i := range res.Entries {
		e := &res.Entries[i]
		if e.Choice == winning {
			e.Correct = true
			e.StakeReturned = e.Stake
			majority += e.Stake
		} else {
			e.StakeLost = e.Stake
			res.Pool += e.Stake
		}
	}
	distribute(res.Entries, res.Pool, majority)

	lost, rewarded := domain.SettlementResult{Entries: res.Entries}.Totals()
	if lost != rewarded {
		return Result{}, fmt.Errorf("%w: rewards %d != slashed %d", domain.ErrInvariant, rewarded, lost)
	}
	return res, nil
}

// distribute shares pool across correct entries pro rata to stake, rounding
// down. The remainder goes to the largest correct stake, lowest id on ties.
func distribute(entries []domain.SettlementEntry, pool, majority int64) {
	if pool == 0 || majority == 0 {
		return
	}
	poolD := decimal.NewFromInt(pool)
	majorityD := decimal.NewFromInt(majority)
	paid := int64(0)
	top := -1
	for i := range entries {
		e := &entries[i]
		if !e.Correct {
			continue
		}
		q, _ := poolD.Mul(decimal.NewFromInt(e.Stake)).QuoRem(majorityD, 0)
		e.Reward = q.IntPart()
		paid += e.Reward
		if top < 0 || e.Stake > entries[top].Stake {
			top = i
		}
	}
	entries[top].Reward += pool - paid
}
