package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ItemState string

const (
	StateOpen    ItemState = "open"
	StateClosed  ItemState = "closed"
	StateSettled ItemState = "settled"
)

type Choice string

const (
	ChoiceVerify Choice = "verify"
	ChoiceFlag   Choice = "flag"
)

// Valid reports whether c is one of the two ballot options.
func (c Choice) Valid() bool {
	return c == ChoiceVerify || c == ChoiceFlag
}

type Outcome string

const (
	OutcomeVerified    Outcome = "verified"
	OutcomeFlagged     Outcome = "flagged"
	OutcomeNoConsensus Outcome = "no_consensus"
)

type Participant struct {
	ID        string `json:"id"`
	Available int64  `json:"available"`
	Locked    int64  `json:"locked"`
	Level     int    `json:"level"`
}

// Total is the participant's full stake, available plus locked.
func (p Participant) Total() int64 {
	return p.Available + p.Locked
}

type ContentItem struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	Source      string    `json:"source,omitempty"`
	URL         string    `json:"url,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	State       ItemState `json:"state" enum:"open,closed,settled"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at" format:"date-time"`
	ClosesAt    time.Time `json:"closes_at" format:"date-time"`
}

type Vote struct {
	ID            string    `json:"id"`
	Seq           int64     `json:"seq"`
	ContentID     string    `json:"content_id"`
	ParticipantID string    `json:"participant_id"`
	Choice        Choice    `json:"choice" enum:"verify,flag"`
	Stake         int64     `json:"stake"`
	SubmittedAt   time.Time `json:"submitted_at" format:"date-time"`
}

type SettlementEntry struct {
	ParticipantID string `json:"participant_id"`
	Choice        Choice `json:"choice" enum:"verify,flag"`
	Stake         int64  `json:"stake"`
	StakeReturned int64  `json:"stake_returned"`
	StakeLost     int64  `json:"stake_lost"`
	Reward        int64  `json:"reward"`
	Correct       bool   `json:"correct"`
}

// SettlementResult is written once per item by the consensus engine and never
// modified afterwards. Entries are sorted by participant id.
type SettlementResult struct {
	ContentID      string            `json:"content_id"`
	Outcome        Outcome           `json:"outcome" enum:"verified,flagged,no_consensus"`
	ConsensusRatio decimal.Decimal   `json:"consensus_ratio"`
	VerifyWeight   int64             `json:"verify_weight"`
	FlagWeight     int64             `json:"flag_weight"`
	Entries        []SettlementEntry `json:"entries"`
	SettledAt      time.Time         `json:"settled_at" format:"date-time"`
}

// Entry returns the settlement line for a participant.
func (r SettlementResult) Entry(participantID string) (SettlementEntry, bool) {
	for _, e := range r.Entries {
		if e.ParticipantID == participantID {
			return e, true
		}
	}
	return SettlementEntry{}, false
}

// Totals sums stake lost and rewards over all entries.
func (r SettlementResult) Totals() (lost, rewarded int64) {
	for _, e := range r.Entries {
		lost += e.StakeLost
		rewarded += e.Reward
	}
	return lost, rewarded
}

type Status struct {
	ContentID        string          `json:"content_id"`
	State            ItemState       `json:"state" enum:"open,closed,settled"`
	VerifyWeight     int64           `json:"verify_weight"`
	FlagWeight       int64           `json:"flag_weight"`
	ConsensusRatio   decimal.Decimal `json:"consensus_ratio"`
	VoteCount        int             `json:"vote_count"`
	ClosesAt         time.Time       `json:"closes_at" format:"date-time"`
	ProjectedOutcome Outcome         `json:"projected_outcome" enum:"verified,flagged,no_consensus"`
	Outcome          *Outcome        `json:"outcome,omitempty"`
}

type LedgerEntry struct {
	ID            int64     `json:"id"`
	Kind          string    `json:"kind" enum:"deposit,lock,release,settle"`
	ParticipantID string    `json:"participant_id"`
	Counterparty  string    `json:"counterparty,omitempty"`
	Amount        int64     `json:"amount"`
	Reference     string    `json:"reference,omitempty"`
	CreatedAt     time.Time `json:"created_at" format:"date-time"`
}

type Reputation struct {
	ParticipantID string `json:"participant_id"`
	Successes     int    `json:"successes"`
	Failures      int    `json:"failures"`
	Level         int    `json:"level"`
	Score         int    `json:"score"`
	Accuracy      int    `json:"accuracy_percentage"`
	RewardsEarned int64  `json:"rewards_earned"`
}

type HistoryRecord struct {
	ContentID     string    `json:"content_id"`
	ParticipantID string    `json:"participant_id"`
	Choice        Choice    `json:"choice" enum:"verify,flag"`
	Stake         int64     `json:"stake"`
	Correct       bool      `json:"correct"`
	Reward        int64     `json:"reward"`
	StakeLost     int64     `json:"stake_lost"`
	RecordedAt    time.Time `json:"recorded_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID            string `json:"id"`
	ParticipantID string `json:"participant_id"`
	Name          string `json:"name,omitempty"`
	KeyHash       string `json:"key_hash"`
	CreatedAt     string `json:"created_at" format:"date-time"`
}
