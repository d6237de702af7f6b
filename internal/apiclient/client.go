// Package apiclient talks to the external quest service: a REST surface for
// entity reads and writes, and a GraphQL endpoint for member profile lookups.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/ids"
	"github.com/piyushsatti/nonagon/internal/repository"
)

const defaultTimeout = 10 * time.Second

var _ repository.Remote = (*Client)(nil)

// Client is a thin HTTP client over the quest service's /v1 REST surface.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// errorBody is the quest service's error envelope.
type errorBody struct {
	Detail string `json:"detail"`
}

// classify maps an HTTP status to a domain error kind. 4xx responses are
// deterministic rejections; everything else is transient and safe to retry.
func classify(status int, detail string) error {
	if detail == "" {
		detail = http.StatusText(status)
	}
	switch {
	case status == http.StatusBadRequest:
		return domain.Validationf("%s", detail)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.Unauthorizedf("%s", detail)
	case status == http.StatusNotFound:
		return domain.NotFoundf("%s", detail)
	case status == http.StatusConflict:
		return domain.Conflictf("%s", detail)
	default:
		return fmt.Errorf("%w: quest api returned %d: %s", domain.ErrTransient, status, detail)
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrTransient, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		c.logger.Warn("quest api error",
			"method", method, "path", path,
			"status", resp.StatusCode, "detail", eb.Detail)
		return classify(resp.StatusCode, eb.Detail)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// --- users ---

func (c *Client) GetUser(ctx context.Context, guildID int64, id ids.ID) (*domain.User, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/guilds/%d/users/%s", guildID, id), nil, &raw); err != nil {
		return nil, err
	}
	return domain.DecodeUser(raw)
}

func (c *Client) UpsertUser(ctx context.Context, u *domain.User) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/guilds/%d/users/%s", u.GuildID, u.UserID), u, nil)
}

// --- quests ---

func (c *Client) GetQuest(ctx context.Context, guildID int64, id ids.ID) (*domain.Quest, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/guilds/%d/quests/%s", guildID, id), nil, &raw); err != nil {
		return nil, err
	}
	return domain.DecodeQuest(raw)
}

func (c *Client) UpsertQuest(ctx context.Context, q *domain.Quest) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/guilds/%d/quests/%s", q.GuildID, q.QuestID), q, nil)
}

func (c *Client) ListQuests(ctx context.Context, guildID int64, status domain.QuestStatus) ([]*domain.Quest, error) {
	var raws []json.RawMessage
	path := fmt.Sprintf("/v1/guilds/%d/quests?status=%s", guildID, status)
	if err := c.do(ctx, http.MethodGet, path, nil, &raws); err != nil {
		return nil, err
	}
	out := make([]*domain.Quest, 0, len(raws))
	for _, raw := range raws {
		q, err := domain.DecodeQuest(raw)
		if err != nil {
			return nil, fmt.Errorf("decode quest list item: %w", err)
		}
		out = append(out, q)
	}
	return out, nil
}

// CreateQuest posts a full quest document to the collection endpoint.
func (c *Client) CreateQuest(ctx context.Context, q *domain.Quest) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/guilds/%d/quests", q.GuildID), q, nil)
}

// questOp issues one operation request and decodes the canonical
// post-operation document the service returns.
func (c *Client) questOp(ctx context.Context, method, path string, payload any) (*domain.Quest, error) {
	var raw json.RawMessage
	if err := c.do(ctx, method, path, payload, &raw); err != nil {
		return nil, err
	}
	return domain.DecodeQuest(raw)
}

// --- signup adjudication ---

func (c *Client) AddSignup(ctx context.Context, guildID int64, questID, userID, characterID ids.ID) (*domain.Quest, error) {
	payload := map[string]string{
		"user_id":      userID.String(),
		"character_id": characterID.String(),
	}
	path := fmt.Sprintf("/v1/guilds/%d/quests/%s/signups", guildID, questID)
	return c.questOp(ctx, http.MethodPost, path, payload)
}

func (c *Client) RemoveSignup(ctx context.Context, guildID int64, questID, userID ids.ID) (*domain.Quest, error) {
	path := fmt.Sprintf("/v1/guilds/%d/quests/%s/signups/%s", guildID, questID, userID)
	return c.questOp(ctx, http.MethodDelete, path, nil)
}

func (c *Client) SelectSignup(ctx context.Context, guildID int64, questID, userID ids.ID) (*domain.Quest, error) {
	path := fmt.Sprintf("/v1/guilds/%d/quests/%s/signups/%s:select", guildID, questID, userID)
	return c.questOp(ctx, http.MethodPost, path, nil)
}

func (c *Client) CloseSignups(ctx context.Context, guildID int64, questID ids.ID) (*domain.Quest, error) {
	path := fmt.Sprintf("/v1/guilds/%d/quests/%s:closeSignups", guildID, questID)
	return c.questOp(ctx, http.MethodPost, path, nil)
}

// --- quest lifecycle operations ---

func (c *Client) NudgeQuest(ctx context.Context, guildID int64, questID, refereeID ids.ID) (*domain.Quest, error) {
	payload := map[string]string{"referee_id": refereeID.String()}
	path := fmt.Sprintf("/v1/guilds/%d/quests/%s:nudge", guildID, questID)
	return c.questOp(ctx, http.MethodPost, path, payload)
}

func (c *Client) CompleteQuest(ctx context.Context, guildID int64, questID ids.ID) (*domain.Quest, error) {
	path := fmt.Sprintf("/v1/guilds/%d/quests/%s:setCompleted", guildID, questID)
	return c.questOp(ctx, http.MethodPost, path, nil)
}

func (c *Client) CancelQuest(ctx context.Context, guildID int64, questID ids.ID) (*domain.Quest, error) {
	path := fmt.Sprintf("/v1/guilds/%d/quests/%s:setCancelled", guildID, questID)
	return c.questOp(ctx, http.MethodPost, path, nil)
}

func (c *Client) AnnounceQuest(ctx context.Context, guildID int64, questID ids.ID, ref domain.MessageRef) (*domain.Quest, error) {
	payload := map[string]int64{
		"channel_id": ref.ChannelID,
		"message_id": ref.MessageID,
	}
	path := fmt.Sprintf("/v1/guilds/%d/quests/%s:setAnnounced", guildID, questID)
	return c.questOp(ctx, http.MethodPost, path, payload)
}

// --- characters ---

func (c *Client) GetCharacter(ctx context.Context, guildID int64, id ids.ID) (*domain.Character, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/guilds/%d/characters/%s", guildID, id), nil, &raw); err != nil {
		return nil, err
	}
	return domain.DecodeCharacter(raw)
}

func (c *Client) UpsertCharacter(ctx context.Context, ch *domain.Character) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/guilds/%d/characters/%s", ch.GuildID, ch.CharacterID), ch, nil)
}

// --- summaries ---

func (c *Client) UpsertSummary(ctx context.Context, sm *domain.Summary) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/v1/guilds/%d/summaries/%s", sm.GuildID, sm.SummaryID), sm, nil)
}

// Healthy probes the service's health endpoint.
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/healthz", nil, nil)
}
