package truelenssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal TrueLens HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// Item represents a content item under verification.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	Source      string    `json:"source,omitempty"`
	URL         string    `json:"url,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	State       string    `json:"state"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	ClosesAt    time.Time `json:"closes_at"`
}

// NewItem is the create-item payload. Window is a Go duration string.
type NewItem struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title,omitempty"`
	Source  string `json:"source,omitempty"`
	URL     string `json:"url,omitempty"`
	Content string `json:"content,omitempty"`
	Window  string `json:"window,omitempty"`
}

type Vote struct {
	ID            string    `json:"id"`
	Seq           int64     `json:"seq"`
	ContentID     string    `json:"content_id"`
	ParticipantID string    `json:"participant_id"`
	Choice        string    `json:"choice"`
	Stake         int64     `json:"stake"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// Status is the live tally of an item.
type Status struct {
	ContentID        string    `json:"content_id"`
	State            string    `json:"state"`
	VerifyWeight     int64     `json:"verify_weight"`
	FlagWeight       int64     `json:"flag_weight"`
	ConsensusRatio   string    `json:"consensus_ratio"`
	VoteCount        int       `json:"vote_count"`
	ClosesAt         time.Time `json:"closes_at"`
	ProjectedOutcome string    `json:"projected_outcome"`
	Outcome          *string   `json:"outcome,omitempty"`
}

type SettlementEntry struct {
	ParticipantID string `json:"participant_id"`
	Choice        string `json:"choice"`
	Stake         int64  `json:"stake"`
	StakeReturned int64  `json:"stake_returned"`
	StakeLost     int64  `json:"stake_lost"`
	Reward        int64  `json:"reward"`
	Correct       bool   `json:"correct"`
}

type Settlement struct {
	ContentID      string            `json:"content_id"`
	Outcome        string            `json:"outcome"`
	ConsensusRatio string            `json:"consensus_ratio"`
	VerifyWeight   int64             `json:"verify_weight"`
	FlagWeight     int64             `json:"flag_weight"`
	Entries        []SettlementEntry `json:"entries"`
	SettledAt      time.Time         `json:"settled_at"`
}

type Balance struct {
	ParticipantID string `json:"participant_id"`
	Available     int64  `json:"available"`
	Locked        int64  `json:"locked"`
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

// Profile combines balances and reputation for one participant.
type Profile struct {
	Participant struct {
		ID        string `json:"id"`
		Available int64  `json:"available"`
		Locked    int64  `json:"locked"`
		Level     int    `json:"level"`
	} `json:"participant"`
	Reputation Reputation `json:"reputation"`
}

type HistoryRecord struct {
	ContentID     string    `json:"content_id"`
	ParticipantID string    `json:"participant_id"`
	Choice        string    `json:"choice"`
	Stake         int64     `json:"stake"`
	Correct       bool      `json:"correct"`
	Reward        int64     `json:"reward"`
	StakeLost     int64     `json:"stake_lost"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type WhoAmI struct {
	ParticipantID string `json:"participant_id"`
	Source        string `json:"source"`
	Operator      bool   `json:"operator"`
}

// APIError wraps non-2xx responses. Code is taken from the error envelope
// when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// CreateItem opens an item for verification.
func (c *Client) CreateItem(ctx context.Context, in NewItem) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodPost, "items", in, &resp)
	return resp, err
}

// Item fetches an item by id.
func (c *Client) Item(ctx context.Context, id string) (Item, error) {
	var resp Item
	err := c.do(ctx, http.MethodGet, "items/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Items lists items, optionally filtered by state.
func (c *Client) Items(ctx context.Context, state string, limit int) ([]Item, error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp []Item
	err := c.do(ctx, http.MethodGet, withQuery("items", q), nil, &resp)
	return resp, err
}

// Status returns the live tally of an item.
func (c *Client) Status(ctx context.Context, id string) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("items/%s/status", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Votes lists the votes of an item in submission order.
func (c *Client) Votes(ctx context.Context, id string) ([]Vote, error) {
	var resp []Vote
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("items/%s/votes", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// SubmitVote stakes on an item. An empty participantID votes as the
// authenticated caller.
func (c *Client) SubmitVote(ctx context.Context, itemID, participantID, choice string, stake int64) (Vote, error) {
	body := map[string]any{
		"choice": choice,
		"stake":  stake,
	}
	if participantID != "" {
		body["participant_id"] = participantID
	}
	var resp struct {
		OK   bool `json:"ok"`
		Vote Vote `json:"vote"`
	}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("items/%s/votes", url.PathEscape(itemID)), body, &resp)
	return resp.Vote, err
}

// Settle settles an item whose window has ended.
func (c *Client) Settle(ctx context.Context, id string) (Settlement, error) {
	var resp Settlement
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("items/%s/settle", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Settlement returns the stored settlement of an item.
func (c *Client) Settlement(ctx context.Context, id string) (Settlement, error) {
	var resp Settlement
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("items/%s/settlement", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// Participant returns balances and reputation.
func (c *Client) Participant(ctx context.Context, id string) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodGet, "participants/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Deposit credits stake to a participant. Operator only.
func (c *Client) Deposit(ctx context.Context, participantID string, amount int64, reference string) (Balance, error) {
	body := map[string]any{"amount": amount}
	if reference != "" {
		body["reference"] = reference
	}
	var resp Balance
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("participants/%s/deposits", url.PathEscape(participantID)), body, &resp)
	return resp, err
}

// History returns settled votes of a participant, newest first.
func (c *Client) History(ctx context.Context, participantID string, limit int) ([]HistoryRecord, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp []HistoryRecord
	endpoint := withQuery(fmt.Sprintf("participants/%s/history", url.PathEscape(participantID)), q)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Leaderboard returns participants ordered by score.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]Reputation, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp []Reputation
	err := c.do(ctx, http.MethodGet, withQuery("leaderboard", q), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

// WhoAmI returns the principal the server resolved for this client.
func (c *Client) WhoAmI(ctx context.Context) (WhoAmI, error) {
	var resp WhoAmI
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
