package consensus

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"truelens/internal/config"
	"truelens/internal/domain"
	"truelens/internal/votes"
)

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

func defaultParams() Params {
	return ParamsFrom(config.Default().Consensus)
}

func vote(p string, c domain.Choice, stake int64) domain.Vote {
	return domain.Vote{ContentID: "c1", ParticipantID: p, Choice: c, Stake: stake}
}

func TestComputeVerifiedSplitsPoolProRata(t *testing.T) {
	res, err := Compute([]domain.Vote{
		vote("A", domain.ChoiceVerify, 100),
		vote("B", domain.ChoiceVerify, 50),
		vote("C", domain.ChoiceFlag, 30),
	}, defaultParams())
	require.NoError(t, err)

	want := Result{
		Outcome:      domain.OutcomeVerified,
		Ratio:        decimal.RequireFromString("0.83333333"),
		VerifyWeight: 150,
		FlagWeight:   30,
		Pool:         30,
		Entries: []domain.SettlementEntry{
			{ParticipantID: "A", Choice: domain.ChoiceVerify, Stake: 100, StakeReturned: 100, Reward: 20, Correct: true},
			{ParticipantID: "B", Choice: domain.ChoiceVerify, Stake: 50, StakeReturned: 50, Reward: 10, Correct: true},
			{ParticipantID: "C", Choice: domain.ChoiceFlag, Stake: 30, StakeLost: 30},
		},
	}
	if diff := cmp.Diff(want, res, decimalEqual); diff != "" {
		t.Fatalf("settlement mismatch (-want +got):\n%s", diff)
	}
}

func TestComputeEvenSplitIsNoConsensus(t *testing.T) {
	res, err := Compute([]domain.Vote{
		vote("A", domain.ChoiceVerify, 50),
		vote("B", domain.ChoiceFlag, 50),
	}, defaultParams())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoConsensus, res.Outcome)
	assert.True(t, res.Ratio.Equal(decimal.RequireFromString("0.5")))
	for _, e := range res.Entries {
		assert.Equal(t, e.Stake, e.StakeReturned)
		assert.Zero(t, e.StakeLost)
		assert.Zero(t, e.Reward)
	}
}

func TestComputeBelowMarginIsNoConsensus(t *testing.T) {
	// 54/100 is under 0.5 + 0.05.
	res, err := Compute([]domain.Vote{
		vote("A", domain.ChoiceFlag, 54),
		vote("B", domain.ChoiceVerify, 46),
	}, defaultParams())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoConsensus, res.Outcome)

	// 55/100 sits exactly on the threshold.
	res, err = Compute([]domain.Vote{
		vote("A", domain.ChoiceFlag, 55),
		vote("B", domain.ChoiceVerify, 45),
	}, defaultParams())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeFlagged, res.Outcome)
	a, _ := domain.SettlementResult{Entries: res.Entries}.Entry("A")
	assert.Equal(t, int64(45), a.Reward)
}

func TestComputeZeroVotes(t *testing.T) {
	res, err := Compute(nil, defaultParams())
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNoConsensus, res.Outcome)
	assert.True(t, res.Ratio.IsZero())
	assert.Empty(t, res.Entries)
}

func TestComputeRemainderGoesToLargestStake(t *testing.T) {
	// pool 10 over stakes 3,3,1 -> floors 4,4,1 = 9; one unit left over.
	res, err := Compute([]domain.Vote{
		vote("z", domain.ChoiceVerify, 3),
		vote("y", domain.ChoiceVerify, 3),
		vote("x", domain.ChoiceVerify, 1),
		vote("w", domain.ChoiceFlag, 10),
	}, Params{EarlyCloseStake: 1, Supermajority: decimal.RequireFromString("0.9"), MinMargin: decimal.Zero, RewardPoolID: "pool"})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeFlagged, res.Outcome)

	res, err = Compute([]domain.Vote{
		vote("z", domain.ChoiceVerify, 3),
		vote("y", domain.ChoiceVerify, 3),
		vote("x", domain.ChoiceVerify, 1),
		vote("w", domain.ChoiceFlag, 3),
	}, Params{EarlyCloseStake: 1, Supermajority: decimal.RequireFromString("0.9"), MinMargin: decimal.Zero, RewardPoolID: "pool"})
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeVerified, res.Outcome)
	// pool 3 over 3,3,1 of 7: floors 1,1,0 -> remainder 1 to y (lowest id of the tied largest).
	got := map[string]int64{}
	for _, e := range res.Entries {
		got[e.ParticipantID] = e.Reward
	}
	assert.Equal(t, map[string]int64{"w": 0, "x": 0, "y": 2, "z": 1}, got)
	lost, rewarded := domain.SettlementResult{Entries: res.Entries}.Totals()
	assert.Equal(t, lost, rewarded)
}

func TestComputeIsOrderIndependent(t *testing.T) {
	base := []domain.Vote{
		vote("p1", domain.ChoiceVerify, 17),
		vote("p2", domain.ChoiceVerify, 23),
		vote("p3", domain.ChoiceFlag, 11),
		vote("p4", domain.ChoiceVerify, 5),
		vote("p5", domain.ChoiceFlag, 3),
		vote("p6", domain.ChoiceVerify, 41),
	}
	want, err := Compute(base, defaultParams())
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		shuffled := append([]domain.Vote(nil), base...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, err := Compute(shuffled, defaultParams())
		require.NoError(t, err)
		if diff := cmp.Diff(want, got, decimalEqual); diff != "" {
			t.Fatalf("permutation %d differs (-want +got):\n%s", i, diff)
		}
	}
}

func TestComputeConservesStakeAcrossRandomSets(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		n := 1 + rng.Intn(12)
		vs := make([]domain.Vote, n)
		for j := range vs {
			c := domain.ChoiceVerify
			if rng.Intn(3) == 0 {
				c = domain.ChoiceFlag
			}
			vs[j] = domain.Vote{ParticipantID: string(rune('a' + j)), Choice: c, Stake: 1 + rng.Int63n(997)}
		}
		res, err := Compute(vs, defaultParams())
		require.NoError(t, err)
		lost, rewarded := domain.SettlementResult{Entries: res.Entries}.Totals()
		require.Equal(t, lost, rewarded)
		require.Equal(t, res.Pool, lost)
	}
}

func TestComputeRejectsDuplicateParticipant(t *testing.T) {
	_, err := Compute([]domain.Vote{
		vote("A", domain.ChoiceVerify, 1),
		vote("A", domain.ChoiceFlag, 1),
	}, defaultParams())
	require.ErrorIs(t, err, domain.ErrInvariant)
}

func TestShouldClose(t *testing.T) {
	p := defaultParams()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	item := domain.ContentItem{ClosesAt: now.Add(time.Hour)}

	assert.False(t, ShouldClose(item, votes.Tally{}, now, p))
	assert.True(t, ShouldClose(item, votes.Tally{}, now.Add(time.Hour), p))
	// enough stake but not lopsided
	assert.False(t, ShouldClose(item, votes.Tally{Verify: 800, Flag: 200}, now, p))
	// lopsided but not enough stake
	assert.False(t, ShouldClose(item, votes.Tally{Verify: 950}, now, p))
	// exactly 0.90 of exactly the quorum
	assert.True(t, ShouldClose(item, votes.Tally{Verify: 900, Flag: 100}, now, p))
	assert.True(t, ShouldClose(item, votes.Tally{Verify: 10, Flag: 1990}, now, p))
}

func TestProject(t *testing.T) {
	p := defaultParams()
	assert.Equal(t, domain.OutcomeNoConsensus, Project(votes.Tally{}, p))
	assert.Equal(t, domain.OutcomeVerified, Project(votes.Tally{Verify: 150, Flag: 30}, p))
	assert.Equal(t, domain.OutcomeFlagged, Project(votes.Tally{Verify: 1, Flag: 9}, p))
	assert.Equal(t, domain.OutcomeNoConsensus, Project(votes.Tally{Verify: 5, Flag: 5}, Params{MinMargin: decimal.Zero}))
}
