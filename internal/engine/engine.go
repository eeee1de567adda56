package engine

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"truelens/internal/config"
	"truelens/internal/consensus"
	"truelens/internal/domain"
	"truelens/internal/engine/auth"
	"truelens/internal/events"
	"truelens/internal/ledger"
	"truelens/internal/repo"
	"truelens/internal/reputation"
	"truelens/internal/votes"
)

// Engine is the verification service. Copies share the item locks, so build
// it with New.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Auth   auth.Service
	Logger *zap.Logger
	Now    func() time.Time

	locks *itemLocks
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Auth:   auth.Service{Operators: cfg.Auth.Operators},
		Logger: zap.NewNop(),
		Now:    time.Now,
		locks:  newItemLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Log returns the engine logger, or a no-op logger when none is set.
func (e Engine) Log() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) events() events.Writer { return events.Writer{Now: e.now} }

func (e Engine) ledger() ledger.Ledger { return ledger.Ledger{Now: e.now} }

func (e Engine) votes() votes.Registry { return votes.Registry{Now: e.now} }

func (e Engine) reputation() reputation.Tracker {
	return reputation.Tracker{Config: e.Config.Reputation, Now: e.now}
}

// Params returns the consensus parameters in effect.
func (e Engine) Params() consensus.Params { return consensus.ParamsFrom(e.Config.Consensus) }

func (e Engine) settler() consensus.Settler {
	return consensus.Settler{
		Repo:       e.Repo,
		Ledger:     e.ledger(),
		Votes:      e.votes(),
		Reputation: e.reputation(),
		Events:     e.events(),
		Params:     e.Params(),
		Now:        e.now,
	}
}

// ContentID derives the content-addressed id of an item from its metadata.
func ContentID(source, url, title, body string) string {
	h := sha256.New()
	for _, part := range []string{source, url, title, body} {
		h.Write([]byte(strings.TrimSpace(part)))
		h.Write([]byte{0})
	}
	return base58.Encode(h.Sum(nil))
}

// NewItem describes an item to open for verification.
type NewItem struct {
	ID     string
	Title  string
	Source string
	URL    string
	Body   string
	// Window overrides the configured voting window when positive.
	Window  time.Duration
	ActorID string
}

func (e Engine) CreateItem(ctx context.Context, opts NewItem) (domain.ContentItem, error) {
	if strings.TrimSpace(opts.ID+opts.Title+opts.URL+opts.Body) == "" {
		return domain.ContentItem{}, fmt.Errorf("%w: id, title, url or body required", domain.ErrInvalidInput)
	}
	if opts.Window < 0 {
		return domain.ContentItem{}, fmt.Errorf("%w: window must be positive", domain.ErrInvalidInput)
	}
	window := e.Config.Consensus.VotingWindow
	if opts.Window > 0 {
		window = opts.Window
	}
	now := e.now().UTC().Truncate(time.Millisecond)
	it := domain.ContentItem{
		ID:        strings.TrimSpace(opts.ID),
		Title:     opts.Title,
		Source:    opts.Source,
		URL:       opts.URL,
		State:     domain.StateOpen,
		CreatedBy: actorOrSystem(opts.ActorID),
		CreatedAt: now,
		ClosesAt:  now.Add(window),
	}
	if opts.Body != "" {
		sum := sha256.Sum256([]byte(opts.Body))
		it.ContentHash = hex.EncodeToString(sum[:])
	}
	if it.ID == "" {
		it.ID = ContentID(opts.Source, opts.URL, opts.Title, opts.Body)
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ContentItem{}, err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetItemTx(ctx, tx, it.ID); err == nil {
		return domain.ContentItem{}, fmt.Errorf("item %s: %w", it.ID, domain.ErrItemExists)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.ContentItem{}, err
	}
	if err := e.Repo.InsertItemTx(ctx, tx, it); err != nil {
		return domain.ContentItem{}, fmt.Errorf("insert item: %w", err)
	}
	if err := e.events().Append(ctx, tx, events.ItemCreated, "item", it.ID, it.CreatedBy, events.EventPayload{
		"title":     it.Title,
		"source":    it.Source,
		"url":       it.URL,
		"closes_at": it.ClosesAt.Format(time.RFC3339),
	}); err != nil {
		return domain.ContentItem{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ContentItem{}, err
	}
	return it, nil
}

// Deposit credits stake from the stake provider.
func (e Engine) Deposit(ctx context.Context, participantID string, amount int64, reference, actorID string) (ledger.Balance, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" || amount <= 0 {
		return ledger.Balance{}, fmt.Errorf("%w: participant and positive amount required", domain.ErrInvalidInput)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Balance{}, err
	}
	defer tx.Rollback()
	l := e.ledger()
	if err := l.Deposit(ctx, tx, participantID, amount, reference); err != nil {
		return ledger.Balance{}, err
	}
	if err := e.events().Append(ctx, tx, events.LedgerDeposit, "participant", participantID, actorOrSystem(actorID), events.EventPayload{
		"amount":    amount,
		"reference": reference,
	}); err != nil {
		return ledger.Balance{}, err
	}
	bal, err := l.Balance(ctx, tx, participantID)
	if err != nil {
		return ledger.Balance{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Balance{}, err
	}
	return bal, nil
}

// Item returns one content item.
func (e Engine) Item(ctx context.Context, id string) (domain.ContentItem, error) {
	return e.Repo.GetItem(ctx, id)
}

func (e Engine) ListItems(ctx context.Context, f repo.ItemFilters) ([]domain.ContentItem, error) {
	return e.Repo.ListItems(ctx, f)
}

// Votes returns an item's votes in submission order.
func (e Engine) Votes(ctx context.Context, contentID string) ([]domain.Vote, error) {
	if _, err := e.Repo.GetItem(ctx, contentID); err != nil {
		return nil, err
	}
	return e.votes().VotesFor(ctx, e.DB, contentID)
}

// Settlement returns the stored result of a settled item.
func (e Engine) Settlement(ctx context.Context, contentID string) (domain.SettlementResult, error) {
	return e.Repo.GetSettlement(ctx, contentID)
}

// GetStatus reports the live tally of an item. It never writes.
func (e Engine) GetStatus(ctx context.Context, contentID string) (domain.Status, error) {
	it, err := e.Repo.GetItem(ctx, contentID)
	if err != nil {
		return domain.Status{}, err
	}
	tally, err := e.votes().Tally(ctx, e.DB, contentID)
	if err != nil {
		return domain.Status{}, err
	}
	st := domain.Status{
		ContentID:        it.ID,
		State:            it.State,
		VerifyWeight:     tally.Verify,
		FlagWeight:       tally.Flag,
		ConsensusRatio:   consensus.Ratio(tally.Verify, tally.Flag),
		VoteCount:        tally.Count,
		ClosesAt:         it.ClosesAt,
		ProjectedOutcome: consensus.Project(tally, e.Params()),
	}
	if it.State == domain.StateOpen && !e.now().Before(it.ClosesAt) {
		st.State = domain.StateClosed
	}
	if it.State == domain.StateSettled {
		res, err := e.Repo.GetSettlement(ctx, contentID)
		if err != nil {
			return domain.Status{}, fmt.Errorf("settled item %s without result: %w", contentID, err)
		}
		st.Outcome = &res.Outcome
	}
	return st, nil
}

// Profile joins a participant's balances with their reputation.
type Profile struct {
	Participant domain.Participant `json:"participant"`
	Reputation  domain.Reputation  `json:"reputation"`
}

func (e Engine) Participant(ctx context.Context, participantID string) (Profile, error) {
	l := e.ledger()
	exists, err := l.Exists(ctx, e.DB, participantID)
	if err != nil {
		return Profile{}, err
	}
	if !exists {
		return Profile{}, fmt.Errorf("participant %s: %w", participantID, domain.ErrNotFound)
	}
	bal, err := l.Balance(ctx, e.DB, participantID)
	if err != nil {
		return Profile{}, err
	}
	rep, err := e.reputation().Profile(ctx, e.DB, participantID)
	if err != nil {
		return Profile{}, err
	}
	return Profile{
		Participant: domain.Participant{ID: participantID, Available: bal.Available, Locked: bal.Locked, Level: rep.Level},
		Reputation:  rep,
	}, nil
}

func (e Engine) History(ctx context.Context, participantID string, limit int) ([]domain.HistoryRecord, error) {
	return e.reputation().History(ctx, e.DB, participantID, limit)
}

func (e Engine) LedgerEntries(ctx context.Context, participantID string, limit int) ([]domain.LedgerEntry, error) {
	return e.ledger().Entries(ctx, e.DB, participantID, limit)
}

// TotalStake sums every participant's balance, the reward pool included.
func (e Engine) TotalStake(ctx context.Context) (int64, error) {
	return e.ledger().Total(ctx, e.DB)
}

func (e Engine) Leaderboard(ctx context.Context, limit int) ([]domain.Reputation, error) {
	return e.reputation().Top(ctx, e.DB, limit)
}

func (e Engine) Events(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}

// CreateAPIKey mints a key bound to a participant. The raw key is returned
// once; only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, participantID, name, actorID string) (domain.APIKey, string, error) {
	if strings.TrimSpace(participantID) == "" {
		return domain.APIKey{}, "", fmt.Errorf("%w: participant required", domain.ErrInvalidInput)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := "tl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		Name:          name,
		KeyHash:       repo.HashAPIKey(raw),
		CreatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := e.events().Append(ctx, tx, events.APIKeyCreated, "api_key", key.ID, actorOrSystem(actorID), events.EventPayload{
		"participant_id": participantID,
		"name":           name,
	}); err != nil {
		return domain.APIKey{}, "", err
	}
	if err := tx.Commit(); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}

func actorOrSystem(actorID string) string {
	if strings.TrimSpace(actorID) == "" {
		return "system"
	}
	return actorID
}
