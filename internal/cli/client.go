package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client drives the admin HTTP API with a single operator token.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   strings.TrimSpace(token),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError is a non-2xx response from the admin API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.StatusCode, e.Message)
}

type ContestInput struct {
	Name            string    `json:"name"`
	EntryFee        string    `json:"entry_fee"`
	PrizePool       string    `json:"prize_pool"`
	MaxParticipants int       `json:"max_participants"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	Featured        bool      `json:"featured"`
}

type Allocation struct {
	Symbol string `json:"symbol"`
	Coins  string `json:"coins"`
}

func contestPath(id int64, suffix string) string {
	return "/v1/admin/contests/" + strconv.FormatInt(id, 10) + suffix
}

func (c *Client) ListContests(ctx context.Context, statuses []string) (map[string]any, error) {
	path := "/v1/admin/contests"
	if len(statuses) > 0 {
		path += "?status=" + url.QueryEscape(strings.Join(statuses, ","))
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, "")
	return out, err
}

func (c *Client) GetContest(ctx context.Context, id int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, contestPath(id, ""), nil, &out, "")
	return out, err
}

func (c *Client) CreateContest(ctx context.Context, in ContestInput) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/contests", in, &out, "")
	return out, err
}

func (c *Client) StartContest(ctx context.Context, id int64) (map[string]any, error) {
	return c.contestAction(ctx, id, "/start")
}

func (c *Client) EndContest(ctx context.Context, id int64) (map[string]any, error) {
	return c.contestAction(ctx, id, "/end")
}

func (c *Client) CalculateResults(ctx context.Context, id int64) (map[string]any, error) {
	return c.contestAction(ctx, id, "/calculate-results")
}

func (c *Client) DistributePrizes(ctx context.Context, id int64) (map[string]any, error) {
	return c.contestAction(ctx, id, "/distribute-prizes")
}

func (c *Client) ScheduleContest(ctx context.Context, id int64) (map[string]any, error) {
	return c.contestAction(ctx, id, "/schedule")
}

func (c *Client) UnscheduleContest(ctx context.Context, id int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodDelete, contestPath(id, "/schedule"), nil, &out, "")
	return out, err
}

func (c *Client) contestAction(ctx context.Context, id int64, suffix string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, contestPath(id, suffix), nil, &out, "")
	return out, err
}

func (c *Client) SetStatus(ctx context.Context, id int64, status string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPatch, contestPath(id, "/status"), map[string]any{
		"status": status,
	}, &out, "")
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, id int64) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, contestPath(id, "/leaderboard"), nil, &out, "")
	return out, err
}

func (c *Client) Join(ctx context.Context, id int64, userID string, allocations []Allocation) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, contestPath(id, "/entries"), map[string]any{
		"user_id":     userID,
		"allocations": allocations,
	}, &out, "")
	return out, err
}

func (c *Client) Timers(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/scheduler/timers", nil, &out, "")
	return out, err
}

func (c *Client) Scan(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/scheduler/scan", nil, &out, "")
	return out, err
}

func (c *Client) ListStocks(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/stocks", nil, &out, "")
	return out, err
}

func (c *Client) SetStock(ctx context.Context, symbol, name, price string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPut, "/v1/admin/stocks/"+url.PathEscape(symbol), map[string]any{
		"name":          name,
		"current_price": price,
	}, &out, "")
	return out, err
}

func (c *Client) SetUser(ctx context.Context, id, username string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPut, "/v1/admin/users/"+url.PathEscape(id), map[string]any{
		"username": username,
	}, &out, "")
	return out, err
}

func (c *Client) GetUser(ctx context.Context, id string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/admin/users/"+url.PathEscape(id), nil, &out, "")
	return out, err
}

func (c *Client) GrantCoins(ctx context.Context, id, txType, amount, description, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/users/"+url.PathEscape(id)+"/coins", map[string]any{
		"type":        txType,
		"amount":      amount,
		"description": description,
	}, &out, idem)
	return out, err
}

func (c *Client) Transactions(ctx context.Context, id string, limit int) (map[string]any, error) {
	path := "/v1/admin/users/" + url.PathEscape(id) + "/transactions"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out map[string]any
	err := c.jsonRequest(ctx, http.MethodGet, path, nil, &out, "")
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorMessage(raw []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(raw))
}
