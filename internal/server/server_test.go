package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"truelens/internal/config"
	"truelens/internal/db"
	"truelens/internal/domain"
	"truelens/internal/engine"
	"truelens/internal/engine/auth"
	"truelens/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	clock  *atomic.Int64
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func (s *testServer) advance(d time.Duration) { s.clock.Add(int64(d)) }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.Operators = []string{"ops"}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := &atomic.Int64{}
	clock.Store(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Unix(0, clock.Load()).UTC() }
	e.Logger = zaptest.NewLogger(t)
	handler, err := New(Config{Engine: e, BasePath: "/v1", Auth: AuthConfig{
		JWTSecret:         testSecret,
		AllowLegacyHeader: true,
	}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		clock:  clock,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func as(participant string) map[string]string {
	return map[string]string{"X-Participant-Id": participant}
}

type errorEnvelope struct {
	OK    bool `json:"ok"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	assert.False(t, env.OK)
	return env
}

func fund(t *testing.T, srv *testServer, balances map[string]int64) {
	t.Helper()
	for id, amount := range balances {
		res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/participants/"+id+"/deposits", map[string]any{
			"amount": amount,
		}, as("ops"))
		require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	}
}

func createItem(t *testing.T, srv *testServer, title string) domain.ContentItem {
	t.Helper()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/items", map[string]any{
		"title":  title,
		"source": "wire",
	}, as("editor"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(body))
	var it domain.ContentItem
	require.NoError(t, json.Unmarshal(body, &it))
	return it
}

func TestVoteAndSettleScenario(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	fund(t, srv, map[string]int64{"A": 1000, "B": 1000, "C": 1000})
	it := createItem(t, srv, "Harbor reopened")

	for _, v := range []struct {
		who    string
		choice string
		stake  int64
	}{{"A", "verify", 100}, {"B", "verify", 50}, {"C", "flag", 30}} {
		res, body := doJSON(t, client, http.MethodPost, srv.URL+"/v1/items/"+it.ID+"/votes", map[string]any{
			"choice": v.choice,
			"stake":  v.stake,
		}, as(v.who))
		require.Equal(t, http.StatusOK, res.StatusCode, string(body))
		var vr VoteResponse
		require.NoError(t, json.Unmarshal(body, &vr))
		assert.True(t, vr.OK)
		assert.Equal(t, v.who, vr.Vote.ParticipantID)
	}

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/items/"+it.ID+"/status", nil, as("A"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var st StatusResponse
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "open", st.State)
	assert.Equal(t, int64(150), st.VerifyWeight)
	assert.Equal(t, "verified", st.ProjectedOutcome)
	assert.Nil(t, st.Outcome)

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/items/"+it.ID+"/settle", nil, as("A"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(body))
	assert.Equal(t, "not_due", decodeError(t, body).Error.Code)

	srv.advance(25 * time.Hour)
	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/items/"+it.ID+"/settle", nil, as("A"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var settled SettlementResponse
	require.NoError(t, json.Unmarshal(body, &settled))
	assert.Equal(t, "verified", settled.Outcome)
	assert.Equal(t, "0.83333333", settled.ConsensusRatio)

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/items/"+it.ID+"/settle", nil, as("A"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(body))
	assert.Equal(t, "already_settled", decodeError(t, body).Error.Code)

	want := map[string]int64{"A": 1020, "B": 1010, "C": 970}
	for id, available := range want {
		res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/participants/"+id, nil, as(id))
		require.Equal(t, http.StatusOK, res.StatusCode, string(body))
		var p engine.Profile
		require.NoError(t, json.Unmarshal(body, &p))
		assert.Equal(t, available, p.Participant.Available, id)
		assert.Zero(t, p.Participant.Locked, id)
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/participants/C/history", nil, as("C"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var hist []domain.HistoryRecord
	require.NoError(t, json.Unmarshal(body, &hist))
	require.Len(t, hist, 1)
	assert.False(t, hist[0].Correct)
	assert.Equal(t, int64(30), hist[0].StakeLost)

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/leaderboard", nil, as("A"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var top []domain.Reputation
	require.NoError(t, json.Unmarshal(body, &top))
	require.Len(t, top, 3)
	assert.NotEqual(t, "C", top[0].ParticipantID)
}

func TestVoteRejectionsUseEnvelope(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	fund(t, srv, map[string]int64{"A": 100})
	it := createItem(t, srv, "Rejections")
	url := srv.URL + "/v1/items/" + it.ID + "/votes"

	res, body := doJSON(t, client, http.MethodPost, url, map[string]any{"choice": "verify", "stake": 500}, as("A"))
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(body))
	assert.Equal(t, "insufficient_funds", decodeError(t, body).Error.Code)

	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"choice": "verify", "stake": 40}, as("A"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"choice": "flag", "stake": 10}, as("A"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(body))
	assert.Equal(t, "duplicate_vote", decodeError(t, body).Error.Code)

	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"choice": "verify", "stake": 0}, as("B"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
	assert.Equal(t, "bad_request", decodeError(t, body).Error.Code)

	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"choice": "maybe", "stake": 5}, as("A"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))

	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{
		"participant_id": "A", "choice": "verify", "stake": 5,
	}, as("mallory"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(body))
	assert.Equal(t, "forbidden", decodeError(t, body).Error.Code)

	srv.advance(24 * time.Hour)
	fund(t, srv, map[string]int64{"B": 100})
	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"choice": "flag", "stake": 5}, as("B"))
	require.Equal(t, http.StatusConflict, res.StatusCode, string(body))
	assert.Equal(t, "item_closed", decodeError(t, body).Error.Code)

	res, body = doJSON(t, client, http.MethodPost, srv.URL+"/v1/items/missing/votes", map[string]any{"choice": "flag", "stake": 5}, as("B"))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(body))

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/participants/A", nil, as("A"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var p engine.Profile
	require.NoError(t, json.Unmarshal(body, &p))
	assert.Equal(t, int64(60), p.Participant.Available)
	assert.Equal(t, int64(40), p.Participant.Locked)
}

func TestDepositRequiresOperator(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/participants/A/deposits", map[string]any{"amount": 10}, as("A"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(body))

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/participants/A/deposits", map[string]any{"amount": -1}, as("ops"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
}

func TestAuthenticationSources(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/items", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(body))
	assert.Equal(t, "unauthorized", decodeError(t, body).Error.Code)

	token, err := auth.IssueToken(testSecret, "alice", time.Hour, time.Now())
	require.NoError(t, err)
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var who WhoAmIResponse
	require.NoError(t, json.Unmarshal(body, &who))
	assert.Equal(t, WhoAmIResponse{ParticipantID: "alice", Source: "jwt"}, who)

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(body))

	_, raw, err := srv.Engine.CreateAPIKey(context.Background(), "ops", "ci", "tester")
	require.NoError(t, err)
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/me", nil, map[string]string{"X-Api-Key": raw})
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &who))
	assert.Equal(t, WhoAmIResponse{ParticipantID: "ops", Source: "api_key", Operator: true}, who)

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.True(t, strings.Contains(string(body), "/v1/items/{id}/votes"))
}

func TestWhoAmIWithoutEngineLogger(t *testing.T) {
	handler, err := New(Config{
		Engine: engine.Engine{Auth: auth.Service{Operators: []string{"ops"}}},
		Auth:   AuthConfig{AllowLegacyHeader: true},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("X-Participant-Id", "ops")
	rec := httptest.NewRecorder()
	require.NotPanics(t, func() { handler.ServeHTTP(rec, req) })
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var who WhoAmIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &who))
	assert.Equal(t, WhoAmIResponse{ParticipantID: "ops", Source: "legacy_header", Operator: true}, who)
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	for _, title := range []string{"one", "two", "three"} {
		createItem(t, srv, title)
	}
	client := srv.Client()
	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?type=item.created&limit=2", nil, as("A"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.Equal(t, "three", page.Items[0].Payload["title"])

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?type=item.created&limit=2&cursor="+page.NextCursor, nil, as("A"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Items, 1)
	assert.Empty(t, page.NextCursor)
	assert.Equal(t, "one", page.Items[0].Payload["title"])

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?cursor=abc", nil, as("A"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(body))
}
