package relay_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"truelens/internal/config"
	"truelens/internal/db"
	"truelens/internal/engine"
	"truelens/internal/migrate"
	"truelens/internal/relay"
)

func newEngine(t *testing.T) engine.Engine {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return engine.New(conn, config.Default())
}

type received struct {
	mu       sync.Mutex
	bodies   [][]byte
	sigs     []string
	types    []string
	failNext atomic.Bool
}

func (r *received) handler(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	if r.failNext.CompareAndSwap(true, false) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
		return
	}
	r.mu.Lock()
	r.bodies = append(r.bodies, body)
	r.sigs = append(r.sigs, req.Header.Get(relay.SignatureHeader))
	r.types = append(r.types, req.Header.Get("X-Truelens-Event"))
	r.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func TestWebhookDeliveryIsSignedAndFiltered(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	_, err := eng.Deposit(ctx, "before", 10, "", "tester")
	require.NoError(t, err)

	rec := &received{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	rl, err := relay.New(eng.Repo, config.Relay{Webhooks: []config.Webhook{{
		ID: "hook", URL: srv.URL, Secret: "s3cret", Enabled: true, Events: []string{"item.created", "vote.recorded"},
	}}}, nil)
	require.NoError(t, err)
	defer rl.Close()
	require.NoError(t, rl.Prime(ctx))

	it, err := eng.CreateItem(ctx, engine.NewItem{Title: "relayed"})
	require.NoError(t, err)
	_, err = eng.Deposit(ctx, "A", 100, "", "tester")
	require.NoError(t, err)
	_, err = eng.SubmitVote(ctx, engine.VoteInput{ContentID: it.ID, ParticipantID: "A", Choice: "verify", Stake: 10})
	require.NoError(t, err)

	rl.DispatchOnce(ctx)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Equal(t, []string{"item.created", "vote.recorded"}, rec.types)
	for i, body := range rec.bodies {
		assert.Equal(t, relay.Sign("s3cret", body), rec.sigs[i])
	}
	var env relay.Envelope
	require.NoError(t, json.Unmarshal(rec.bodies[0], &env))
	assert.Equal(t, it.ID, env.EntityID)
	assert.Contains(t, string(env.Payload), "relayed")
}

func TestWebhookFailureRetriesSameEvent(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t)
	rec := &received{}
	srv := httptest.NewServer(http.HandlerFunc(rec.handler))
	defer srv.Close()

	rl, err := relay.New(eng.Repo, config.Relay{Webhooks: []config.Webhook{{ID: "hook", URL: srv.URL, Enabled: true}}}, nil)
	require.NoError(t, err)
	require.NoError(t, rl.Prime(ctx))

	_, err = eng.Deposit(ctx, "A", 5, "", "tester")
	require.NoError(t, err)
	rec.failNext.Store(true)
	rl.DispatchOnce(ctx)
	rl.DispatchOnce(ctx)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"ledger.deposit"}, rec.types)
}

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
}

func (f *fakePublisher) Publish(subject string, _ []byte) error {
	f.mu.Lock()
	f.subjects = append(f.subjects, subject)
	f.mu.Unlock()
	return nil
}

func (f *fakePublisher) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subjects...)
}

func TestNATSSinkRunPublishesUntilCancelled(t *testing.T) {
	eng := newEngine(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pub := &fakePublisher{}
	rl := &relay.Relay{
		Repo:     eng.Repo,
		Sinks:    []relay.Sink{relay.NewNATSSink(pub, "truelens.events", []string{"item.created"})},
		Interval: 10 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rl.Run(ctx) }()

	require.Eventually(t, func() bool {
		if _, err := eng.CreateItem(context.Background(), engine.NewItem{Title: "ping " + time.Now().String()}); err != nil {
			return false
		}
		return len(pub.seen()) > 0
	}, 2*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, "truelens.events.item.created", pub.seen()[0])
}
