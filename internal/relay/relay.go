// Package relay forwards committed audit events to outside systems: signed
// webhooks and a NATS subject. Each sink keeps its own cursor into the events
// table and only advances it after a successful delivery.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"truelens/internal/config"
	"truelens/internal/domain"
	"truelens/internal/repo"
)

const (
	defaultInterval = 2 * time.Second
	defaultBatch    = 100
)

// Sink receives events one at a time, in id order.
type Sink interface {
	Name() string
	Accepts(evtType string) bool
	Deliver(ctx context.Context, evt domain.Event) error
}

type Relay struct {
	Repo      repo.Repo
	Sinks     []Sink
	Interval  time.Duration
	BatchSize int
	Logger    *zap.Logger

	mu      sync.Mutex
	cursors map[string]int64
	closers []func()
}

// New builds a relay from config. The caller must Close it to drop the NATS
// connection.
func New(r repo.Repo, cfg config.Relay, logger *zap.Logger) (*Relay, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rl := &Relay{Repo: r, Interval: cfg.Interval, BatchSize: cfg.BatchSize, Logger: logger}
	for i, hook := range cfg.Webhooks {
		if !hook.Enabled || strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if hook.ID == "" {
			hook.ID = fmt.Sprintf("webhook-%d", i)
		}
		rl.Sinks = append(rl.Sinks, NewWebhookSink(hook))
	}
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("truelens-relay"), nats.MaxReconnects(-1))
		if err != nil {
			return nil, fmt.Errorf("connect nats %s: %w", cfg.NATS.URL, err)
		}
		rl.closers = append(rl.closers, nc.Close)
		rl.Sinks = append(rl.Sinks, NewNATSSink(nc, cfg.NATS.Subject, nil))
	}
	return rl, nil
}

func (r *Relay) Close() {
	for _, c := range r.closers {
		c()
	}
	r.closers = nil
}

func (r *Relay) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

// Prime starts every sink at the newest event so only events committed from
// now on are relayed.
func (r *Relay) Prime(ctx context.Context) error {
	latest, err := r.Repo.LatestEventID(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cursors == nil {
		r.cursors = make(map[string]int64)
	}
	for _, s := range r.Sinks {
		if _, ok := r.cursors[s.Name()]; !ok {
			r.cursors[s.Name()] = latest
		}
	}
	return nil
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	if len(r.Sinks) == 0 {
		<-ctx.Done()
		return nil
	}
	if err := r.Prime(ctx); err != nil {
		return err
	}
	interval := r.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers pending events to every sink. A sink that fails stops
// at the failing event and retries it on the next pass.
func (r *Relay) DispatchOnce(ctx context.Context) {
	for _, s := range r.Sinks {
		if ctx.Err() != nil {
			return
		}
		r.dispatch(ctx, s)
	}
}

func (r *Relay) dispatch(ctx context.Context, s Sink) {
	batch := r.BatchSize
	if batch <= 0 {
		batch = defaultBatch
	}
	cursor := r.cursor(s.Name())
	evts, err := r.Repo.EventsAfter(ctx, batch, cursor)
	if err != nil {
		r.logger().Warn("relay: fetch events failed", zap.String("sink", s.Name()), zap.Error(err))
		return
	}
	for _, evt := range evts {
		if s.Accepts(evt.Type) {
			if err := s.Deliver(ctx, evt); err != nil {
				r.logger().Warn("relay: delivery failed",
					zap.String("sink", s.Name()),
					zap.Int64("event_id", evt.ID),
					zap.Error(err))
				return
			}
		}
		r.setCursor(s.Name(), evt.ID)
	}
}

func (r *Relay) cursor(name string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursors[name]
}

func (r *Relay) setCursor(name string, id int64) {
	r.mu.Lock()
	if r.cursors == nil {
		r.cursors = make(map[string]int64)
	}
	r.cursors[name] = id
	r.mu.Unlock()
}

// Envelope is the wire form of a relayed event.
type Envelope struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
}

func encode(evt domain.Event) ([]byte, error) {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return json.Marshal(Envelope{
		ID:         evt.ID,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
	})
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
