package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"truelens/internal/db"
)

// Event types written by the engine.
const (
	ItemCreated    = "item.created"
	ItemClosed     = "item.closed"
	ItemSettled    = "item.settled"
	VoteRecorded   = "vote.recorded"
	VoteRejected   = "vote.rejected"
	LedgerDeposit  = "ledger.deposit"
	APIKeyCreated  = "apikey.created"
	InvariantAlert = "invariant.violation"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one audit row using the caller's transaction.
func (w Writer) Append(ctx context.Context, tx db.Querier, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append event %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
