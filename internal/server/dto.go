package server

import (
	"encoding/json"
	"time"

	"truelens/internal/domain"
	"truelens/internal/engine"
	"truelens/internal/ledger"
)

// Request payloads

type CreateItemRequest struct {
	ID      string `json:"id,omitempty" doc:"Explicit id; derived from the content when empty"`
	Title   string `json:"title,omitempty"`
	Source  string `json:"source,omitempty"`
	URL     string `json:"url,omitempty" format:"uri"`
	Content string `json:"content,omitempty" doc:"Full text; only its SHA-256 is stored"`
	Window  string `json:"window,omitempty" example:"6h" doc:"Voting window override (Go duration)"`
}

type SubmitVoteRequest struct {
	ParticipantID string `json:"participant_id,omitempty" doc:"Defaults to the authenticated participant"`
	Choice        string `json:"choice" enum:"verify,flag"`
	Stake         int64  `json:"stake" example:"50"`
}

type DepositRequest struct {
	Amount    int64  `json:"amount" example:"1000"`
	Reference string `json:"reference,omitempty"`
}

// Response payloads

type VoteResponse struct {
	OK   bool        `json:"ok"`
	Vote domain.Vote `json:"vote"`
}

type StatusResponse struct {
	ContentID        string    `json:"content_id"`
	State            string    `json:"state" enum:"open,closed,settled"`
	VerifyWeight     int64     `json:"verify_weight"`
	FlagWeight       int64     `json:"flag_weight"`
	ConsensusRatio   string    `json:"consensus_ratio" example:"0.83333333"`
	VoteCount        int       `json:"vote_count"`
	ClosesAt         time.Time `json:"closes_at" format:"date-time"`
	ProjectedOutcome string    `json:"projected_outcome" enum:"verified,flagged,no_consensus"`
	Outcome          *string   `json:"outcome,omitempty" enum:"verified,flagged,no_consensus"`
}

type SettlementResponse struct {
	ContentID      string                   `json:"content_id"`
	Outcome        string                   `json:"outcome" enum:"verified,flagged,no_consensus"`
	ConsensusRatio string                   `json:"consensus_ratio"`
	VerifyWeight   int64                    `json:"verify_weight"`
	FlagWeight     int64                    `json:"flag_weight"`
	Entries        []domain.SettlementEntry `json:"entries"`
	SettledAt      time.Time                `json:"settled_at" format:"date-time"`
}

type BalanceResponse struct {
	ParticipantID string `json:"participant_id"`
	Available     int64  `json:"available"`
	Locked        int64  `json:"locked"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ParticipantID string `json:"participant_id"`
	Source        string `json:"source" enum:"jwt,api_key,legacy_header"`
	Operator      bool   `json:"operator"`
}

type ProfileResponse = engine.Profile

func statusResponse(st domain.Status) StatusResponse {
	res := StatusResponse{
		ContentID:        st.ContentID,
		State:            string(st.State),
		VerifyWeight:     st.VerifyWeight,
		FlagWeight:       st.FlagWeight,
		ConsensusRatio:   st.ConsensusRatio.String(),
		VoteCount:        st.VoteCount,
		ClosesAt:         st.ClosesAt,
		ProjectedOutcome: string(st.ProjectedOutcome),
	}
	if st.Outcome != nil {
		out := string(*st.Outcome)
		res.Outcome = &out
	}
	return res
}

func settlementResponse(r domain.SettlementResult) SettlementResponse {
	entries := r.Entries
	if entries == nil {
		entries = []domain.SettlementEntry{}
	}
	return SettlementResponse{
		ContentID:      r.ContentID,
		Outcome:        string(r.Outcome),
		ConsensusRatio: r.ConsensusRatio.String(),
		VerifyWeight:   r.VerifyWeight,
		FlagWeight:     r.FlagWeight,
		Entries:        entries,
		SettledAt:      r.SettledAt,
	}
}

func balanceResponse(participantID string, b ledger.Balance) BalanceResponse {
	return BalanceResponse{ParticipantID: participantID, Available: b.Available, Locked: b.Locked}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
