package truelenssdk_test

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"truelens/internal/config"
	"truelens/internal/db"
	"truelens/internal/engine"
	"truelens/internal/engine/auth"
	"truelens/internal/migrate"
	"truelens/internal/server"
	truelenssdk "truelens/sdk/go"
)

const secret = "sdk-secret"

type harness struct {
	url    string
	engine engine.Engine
	clock  *atomic.Int64
}

func newHarness(t *testing.T) harness {
	t.Helper()
	workspace := t.TempDir()
	_, err := db.EnsureWorkspace(workspace)
	require.NoError(t, err)
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default()
	cfg.Auth.JWTSecret = secret
	cfg.Auth.Operators = []string{"ops"}
	clock := &atomic.Int64{}
	clock.Store(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Unix(0, clock.Load()).UTC() }

	handler, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: secret}})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return harness{url: srv.URL, engine: e, clock: clock}
}

func (h harness) clientFor(t *testing.T, participantID string) *truelenssdk.Client {
	t.Helper()
	tok, err := auth.IssueToken(secret, participantID, time.Hour, time.Now())
	require.NoError(t, err)
	c := truelenssdk.New(h.url)
	c.BearerToken = tok
	return c
}

func TestClientVoteAndSettle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ops := h.clientFor(t, "ops")

	for _, id := range []string{"A", "B", "C"} {
		bal, err := ops.Deposit(ctx, id, 1000, "seed")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), bal.Available)
	}

	item, err := ops.CreateItem(ctx, truelenssdk.NewItem{Title: "Bridge closed for repairs", Source: "wire"})
	require.NoError(t, err)
	assert.Equal(t, "open", item.State)

	for _, v := range []struct {
		who    string
		choice string
		stake  int64
	}{{"A", "verify", 100}, {"B", "verify", 50}, {"C", "flag", 30}} {
		vote, err := h.clientFor(t, v.who).SubmitVote(ctx, item.ID, "", v.choice, v.stake)
		require.NoError(t, err)
		assert.Equal(t, v.who, vote.ParticipantID)
	}

	a := h.clientFor(t, "A")
	_, err = a.SubmitVote(ctx, item.ID, "", "flag", 10)
	require.Error(t, err)
	assert.True(t, truelenssdk.IsCode(err, "duplicate_vote"), err.Error())

	st, err := a.Status(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), st.VerifyWeight)
	assert.Equal(t, int64(30), st.FlagWeight)
	assert.Equal(t, 3, st.VoteCount)

	votes, err := a.Votes(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, votes, 3)
	assert.Equal(t, "A", votes[0].ParticipantID)

	h.clock.Add(int64(25 * time.Hour))
	res, err := a.Settle(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "verified", res.Outcome)
	assert.Equal(t, "0.83333333", res.ConsensusRatio)

	stored, err := a.Settlement(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Entries, stored.Entries)

	prof, err := h.clientFor(t, "C").Participant(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, int64(970), prof.Participant.Available)
	assert.Equal(t, 1, prof.Reputation.Failures)

	hist, err := a.History(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.True(t, hist[0].Correct)
	assert.Equal(t, int64(20), hist[0].Reward)

	top, err := a.Leaderboard(ctx, 3)
	require.NoError(t, err)
	require.NotEmpty(t, top)
	assert.NotEqual(t, "C", top[0].ParticipantID)

	settled, err := a.Items(ctx, "settled", 10)
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, item.ID, settled[0].ID)
}

func TestClientErrorsAndAuth(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	anon := truelenssdk.New(h.url)
	_, err := anon.WhoAmI(ctx)
	require.Error(t, err)
	assert.True(t, truelenssdk.IsCode(err, "unauthorized"), err.Error())

	_, raw, err := h.engine.CreateAPIKey(ctx, "ops", "ci", "ops")
	require.NoError(t, err)
	keyed := truelenssdk.New(h.url)
	keyed.APIKey = raw
	me, err := keyed.WhoAmI(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ops", me.ParticipantID)
	assert.True(t, me.Operator)

	a := h.clientFor(t, "A")
	_, err = a.Deposit(ctx, "A", 10, "")
	assert.True(t, truelenssdk.IsCode(err, "forbidden"), err.Error())

	_, err = a.Item(ctx, "missing")
	var apiErr *truelenssdk.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.Equal(t, "not_found", apiErr.Code)

	_, err = keyed.CreateItem(ctx, truelenssdk.NewItem{Title: "Rates unchanged"})
	require.NoError(t, err)
	page, err := keyed.EventsPage(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "item.created", page.Items[0].Type)
	assert.NotEmpty(t, page.NextCursor)

	rest, err := keyed.EventsPage(ctx, 10, page.NextCursor)
	require.NoError(t, err)
	for _, evt := range rest.Items {
		assert.Less(t, evt.ID, page.Items[0].ID)
	}
}
