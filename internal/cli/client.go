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

	"github.com/gorilla/websocket"

	"tapsquad/internal/auth"
	"tapsquad/internal/broadcast"
	"tapsquad/internal/game"
)

// APIError is a non-2xx response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	// PlayerID is sent as the player header; Token, when set, as a bearer token.
	PlayerID string
	Token    string
}

func NewClient(baseURL string, p Profile) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
		PlayerID: p.PlayerID,
		Token:    p.Token,
	}
}

func (c *Client) PlayerData(ctx context.Context) (game.PlayerData, error) {
	var out game.PlayerData
	err := c.jsonRequest(ctx, http.MethodGet, "/api/playerdata", nil, &out, "")
	return out, err
}

func (c *Client) Tap(ctx context.Context, idem string) (game.TapResult, error) {
	var out game.TapResult
	err := c.jsonRequest(ctx, http.MethodPost, "/api/tap", nil, &out, idem)
	return out, err
}

func (c *Client) ClaimDailyReward(ctx context.Context, idem string) (game.RewardResult, error) {
	var out game.RewardResult
	err := c.jsonRequest(ctx, http.MethodPost, "/api/claimdailyreward", nil, &out, idem)
	return out, err
}

func (c *Client) PurchaseUpgrade(ctx context.Context, upgradeID, idem string) (game.PurchaseResult, error) {
	var out game.PurchaseResult
	err := c.jsonRequest(ctx, http.MethodPost, "/api/purchaseupgrade", map[string]any{
		"upgradeId": upgradeID,
	}, &out, idem)
	return out, err
}

func (c *Client) Leaderboard(ctx context.Context, metric game.Metric, limit int) ([]game.LeaderboardEntry, error) {
	q := url.Values{}
	q.Set("sortBy", string(metric))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []game.LeaderboardEntry
	err := c.jsonRequest(ctx, http.MethodGet, "/api/leaderboard?"+q.Encode(), nil, &out, "")
	return out, err
}

func (c *Client) ListSquads(ctx context.Context) ([]game.SquadView, error) {
	var out []game.SquadView
	err := c.jsonRequest(ctx, http.MethodGet, "/api/squads", nil, &out, "")
	return out, err
}

func (c *Client) SquadDetail(ctx context.Context, squadID string) (game.SquadView, error) {
	var out game.SquadView
	err := c.jsonRequest(ctx, http.MethodGet, "/api/squads/"+url.PathEscape(squadID), nil, &out, "")
	return out, err
}

type CreateSquadResult struct {
	Message string     `json:"message"`
	Squad   game.Squad `json:"squad"`
}

func (c *Client) CreateSquad(ctx context.Context, name, description string) (CreateSquadResult, error) {
	var out CreateSquadResult
	err := c.jsonRequest(ctx, http.MethodPost, "/api/squads", map[string]any{
		"name":        name,
		"description": description,
	}, &out, "")
	return out, err
}

func (c *Client) JoinSquad(ctx context.Context, squadID string) (game.JoinResult, error) {
	var out game.JoinResult
	err := c.jsonRequest(ctx, http.MethodPost, "/api/squads/"+url.PathEscape(squadID)+"/join", nil, &out, "")
	return out, err
}

func (c *Client) LeaveSquad(ctx context.Context) (game.LeaveResult, error) {
	var out game.LeaveResult
	err := c.jsonRequest(ctx, http.MethodPost, "/api/squads/leave", nil, &out, "")
	return out, err
}

type PlayerSquadResult struct {
	Squad   *game.SquadView `json:"squad"`
	Message string          `json:"message"`
}

func (c *Client) PlayerSquad(ctx context.Context) (PlayerSquadResult, error) {
	var out PlayerSquadResult
	err := c.jsonRequest(ctx, http.MethodGet, "/api/player/squad", nil, &out, "")
	return out, err
}

func (c *Client) Do(ctx context.Context, method, path string, body map[string]any, idem string) (map[string]any, error) {
	var out map[string]any
	var in any
	if body != nil {
		in = body
	}
	err := c.jsonRequest(ctx, method, path, in, &out, idem)
	return out, err
}

// Watch streams leaderboard updates for metric over the websocket until ctx is
// done or the connection drops.
func (c *Client) Watch(ctx context.Context, metric game.Metric, fn func(broadcast.Update)) error {
	wsURL := "ws" + strings.TrimPrefix(c.BaseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, c.headers())
	if err != nil {
		return fmt.Errorf("dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		conn.Close()
	}()

	for {
		var u broadcast.Update
		if err := conn.ReadJSON(&u); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if u.SortBy == metric {
			fn(u)
		}
	}
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	if c.PlayerID != "" {
		h.Set(auth.PlayerHeader, c.PlayerID)
	}
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	return h
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
	req.Header = c.headers()
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
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
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
