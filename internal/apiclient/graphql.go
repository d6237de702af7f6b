package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/ids"
	"github.com/piyushsatti/nonagon/internal/repository"
)

// GraphQLClient queries the community site's GraphQL endpoint for member
// profile data that never reaches the chat platform.
type GraphQLClient struct {
	url   string
	token string
	http  *http.Client
}

func NewGraphQL(url, token string, timeout time.Duration) *GraphQLClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &GraphQLClient{
		url:   url,
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

// MemberProfile is the site-side view of a guild member.
type MemberProfile struct {
	DiscordID   int64  `json:"discordId,string"`
	DisplayName string `json:"displayName"`
	Pronouns    string `json:"pronouns"`
	Timezone    string `json:"timezone"`
	Bio         string `json:"bio"`
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors,omitempty"`
}

const memberProfileQuery = `query MemberProfile($guildId: ID!, $discordId: ID!) {
  member(guildId: $guildId, discordId: $discordId) {
    discordId
    displayName
    pronouns
    timezone
    bio
  }
}`

func (g *GraphQLClient) query(ctx context.Context, query string, variables map[string]any, out any) error {
	body, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return fmt.Errorf("encode graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build graphql request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: graphql: %v", domain.ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classify(resp.StatusCode, "")
	}

	var envelope gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode graphql response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		msg := envelope.Errors[0].Message
		if strings.Contains(strings.ToLower(msg), "not found") {
			return domain.NotFoundf("%s", msg)
		}
		return domain.Validationf("graphql: %s", msg)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

// MemberProfile fetches one member's site profile.
func (g *GraphQLClient) MemberProfile(ctx context.Context, guildID, discordID int64) (*MemberProfile, error) {
	var data struct {
		Member *MemberProfile `json:"member"`
	}
	err := g.query(ctx, memberProfileQuery, map[string]any{
		"guildId":   fmt.Sprintf("%d", guildID),
		"discordId": fmt.Sprintf("%d", discordID),
	}, &data)
	if err != nil {
		return nil, err
	}
	if data.Member == nil {
		return nil, domain.NotFoundf("member %d has no site profile", discordID)
	}
	return data.Member, nil
}

// The methods below speak the gateway's own GraphQL catalogue, for tooling
// that reads a remote deployment through its dashboard endpoint. The query
// documents only select the operation; inputs travel in variables.

// NamedLookup mirrors the gateway's lookup listing shape.
type NamedLookup struct {
	Name string          `json:"name"`
	Doc  json.RawMessage `json:"doc"`
}

// Quest fetches one quest document by postal id.
func (g *GraphQLClient) Quest(ctx context.Context, guildID int64, id ids.ID) (*domain.Quest, error) {
	var data struct {
		Quest *domain.Quest `json:"quest"`
	}
	err := g.query(ctx, `query Quest($guildId: ID!, $id: ID!) { quest(guildId: $guildId, id: $id) { questId } }`,
		map[string]any{"guildId": fmt.Sprintf("%d", guildID), "id": id.String()}, &data)
	if err != nil {
		return nil, err
	}
	if data.Quest == nil {
		return nil, domain.NotFoundf("quest %s not found", id)
	}
	return data.Quest, nil
}

// QuestsByStatus lists a guild's quests in one lifecycle status.
func (g *GraphQLClient) QuestsByStatus(ctx context.Context, guildID int64, status domain.QuestStatus) ([]*domain.Quest, error) {
	var data struct {
		Quests []*domain.Quest `json:"quests"`
	}
	err := g.query(ctx, `query Quests($guildId: ID!, $status: String!) { quests(guildId: $guildId, status: $status) { questId } }`,
		map[string]any{"guildId": fmt.Sprintf("%d", guildID), "status": string(status)}, &data)
	return data.Quests, err
}

// PendingQuests lists the quests currently recruiting.
func (g *GraphQLClient) PendingQuests(ctx context.Context, guildID int64) ([]*domain.Quest, error) {
	var data struct {
		Quests []*domain.Quest `json:"pendingQuests"`
	}
	err := g.query(ctx, `query Pending($guildId: ID!) { pendingQuests(guildId: $guildId) { questId } }`,
		map[string]any{"guildId": fmt.Sprintf("%d", guildID)}, &data)
	return data.Quests, err
}

// RecentQuests lists the most recently completed quests, newest first.
func (g *GraphQLClient) RecentQuests(ctx context.Context, guildID int64, limit int) ([]*domain.Quest, error) {
	vars := map[string]any{"guildId": fmt.Sprintf("%d", guildID)}
	if limit > 0 {
		vars["limit"] = limit
	}
	var data struct {
		Quests []*domain.Quest `json:"recentQuests"`
	}
	err := g.query(ctx, `query Recent($guildId: ID!, $limit: Int) { recentQuests(guildId: $guildId, limit: $limit) { questId } }`,
		vars, &data)
	return data.Quests, err
}

// UserByDiscord resolves a guild member by chat platform id.
func (g *GraphQLClient) UserByDiscord(ctx context.Context, guildID, discordID int64) (*domain.User, error) {
	var data struct {
		User *domain.User `json:"userByDiscord"`
	}
	err := g.query(ctx, `query User($guildId: ID!, $discordId: ID!) { userByDiscord(guildId: $guildId, discordId: $discordId) { userId } }`,
		map[string]any{"guildId": fmt.Sprintf("%d", guildID), "discordId": fmt.Sprintf("%d", discordID)}, &data)
	if err != nil {
		return nil, err
	}
	if data.User == nil {
		return nil, domain.NotFoundf("member %d not found", discordID)
	}
	return data.User, nil
}

// UsersByGuild lists every tracked member of a guild.
func (g *GraphQLClient) UsersByGuild(ctx context.Context, guildID int64) ([]*domain.User, error) {
	var data struct {
		Users []*domain.User `json:"usersByGuild"`
	}
	err := g.query(ctx, `query Users($guildId: ID!) { usersByGuild(guildId: $guildId) { userId } }`,
		map[string]any{"guildId": fmt.Sprintf("%d", guildID)}, &data)
	return data.Users, err
}

// AllLookups lists a guild's named lookup documents.
func (g *GraphQLClient) AllLookups(ctx context.Context, guildID int64) ([]NamedLookup, error) {
	var data struct {
		Lookups []NamedLookup `json:"allLookups"`
	}
	err := g.query(ctx, `query Lookups($guildId: ID!) { allLookups(guildId: $guildId) { name doc } }`,
		map[string]any{"guildId": fmt.Sprintf("%d", guildID)}, &data)
	return data.Lookups, err
}

// LookupSearch lists the lookup documents whose name starts with prefix.
func (g *GraphQLClient) LookupSearch(ctx context.Context, guildID int64, prefix string) ([]NamedLookup, error) {
	var data struct {
		Lookups []NamedLookup `json:"lookupSearch"`
	}
	err := g.query(ctx, `query Search($guildId: ID!, $prefix: String!) { lookupSearch(guildId: $guildId, prefix: $prefix) { name doc } }`,
		map[string]any{"guildId": fmt.Sprintf("%d", guildID), "prefix": prefix}, &data)
	return data.Lookups, err
}

// SetLookup writes a named lookup document.
func (g *GraphQLClient) SetLookup(ctx context.Context, guildID int64, name string, doc any) error {
	return g.query(ctx, `mutation Set($guildId: ID!, $name: String!, $doc: JSON!) { setLookup(guildId: $guildId, name: $name, doc: $doc) { saved } }`,
		map[string]any{"guildId": fmt.Sprintf("%d", guildID), "name": name, "doc": doc}, nil)
}

// The remainder makes the GraphQL endpoint a full alternative to the REST
// surface: the same entity reads and writes plus the quest operation
// mutations, so a deployment that only exposes its dashboard endpoint can
// still serve as the authoritative store.

var _ repository.Remote = (*GraphQLClient)(nil)

func (g *GraphQLClient) GetUser(ctx context.Context, guildID int64, id ids.ID) (*domain.User, error) {
	var data struct {
		User *domain.User `json:"user"`
	}
	err := g.query(ctx, `query GetUser($guildId: ID!, $id: ID!) { user(guildId: $guildId, id: $id) { userId } }`,
		map[string]any{"guildId": fmt.Sprintf("%d", guildID), "id": id.String()}, &data)
	if err != nil {
		return nil, err
	}
	if data.User == nil {
		return nil, domain.NotFoundf("user %s not found", id)
	}
	return data.User, nil
}

func (g *GraphQLClient) UpsertUser(ctx context.Context, u *domain.User) error {
	return g.query(ctx, `mutation UpsertUser($guildId: ID!, $doc: JSON!) { upsertUser(guildId: $guildId, doc: $doc) { userId } }`,
		map[string]any{"guildId": fmt.Sprintf("%d", u.GuildID), "doc": u}, nil)
}

func (g *GraphQLClient) GetQuest(ctx context.Context, guildID int64, id ids.ID) (*domain.Quest, error) {
	return g.Quest(ctx, guildID, id)
}

func (g *GraphQLClient) UpsertQuest(ctx context.Context, q *domain.Quest) error {
	return g.query(ctx, `mutation UpsertQuest($guildId: ID!, $doc: JSON!) { upsertQuest(guildId: $guildId, doc: $doc) { questId } }`,
		map[string]any{"guildId": fmt.Sprintf("%d", q.GuildID), "doc": q}, nil)
}

func (g *GraphQLClient) ListQuests(ctx context.Context, guildID int64, status domain.QuestStatus) ([]*domain.Quest, error) {
	return g.QuestsByStatus(ctx, guildID, status)
}

func (g *GraphQLClient) GetCharacter(ctx context.Context, guildID int64, id ids.ID) (*domain.Character, error) {
	var data struct {
		Character *domain.Character `json:"character"`
	}
	err := g.query(ctx, `query GetCharacter($guildId: ID!, $id: ID!) { character(guildId: $guildId, id: $id) { characterId } }`,
		map[string]any{"guildId": fmt.Sprintf("%d", guildID), "id": id.String()}, &data)
	if err != nil {
		return nil, err
	}
	if data.Character == nil {
		return nil, domain.NotFoundf("character %s not found", id)
	}
	return data.Character, nil
}

func (g *GraphQLClient) UpsertCharacter(ctx context.Context, ch *domain.Character) error {
	return g.query(ctx, `mutation UpsertCharacter($guildId: ID!, $doc: JSON!) { upsertCharacter(guildId: $guildId, doc: $doc) { characterId } }`,
		map[string]any{"guildId": fmt.Sprintf("%d", ch.GuildID), "doc": ch}, nil)
}

func (g *GraphQLClient) UpsertSummary(ctx context.Context, sm *domain.Summary) error {
	return g.query(ctx, `mutation UpsertSummary($guildId: ID!, $doc: JSON!) { upsertSummary(guildId: $guildId, doc: $doc) { summaryId } }`,
		map[string]any{"guildId": fmt.Sprintf("%d", sm.GuildID), "doc": sm}, nil)
}

// questMutation runs one quest operation mutation and decodes the canonical
// document returned under field.
func (g *GraphQLClient) questMutation(ctx context.Context, field, query string, vars map[string]any) (*domain.Quest, error) {
	var data map[string]*domain.Quest
	if err := g.query(ctx, query, vars, &data); err != nil {
		return nil, err
	}
	q := data[field]
	if q == nil {
		return nil, domain.NotFoundf("quest not found")
	}
	return q, nil
}

func (g *GraphQLClient) AddSignup(ctx context.Context, guildID int64, questID, userID, characterID ids.ID) (*domain.Quest, error) {
	return g.questMutation(ctx, "addSignup",
		`mutation AddSignup($guildId: ID!, $id: ID!, $userId: ID!, $characterId: ID!) { addSignup(guildId: $guildId, id: $id, userId: $userId, characterId: $characterId) { questId } }`,
		map[string]any{
			"guildId":     fmt.Sprintf("%d", guildID),
			"id":          questID.String(),
			"userId":      userID.String(),
			"characterId": characterID.String(),
		})
}

func (g *GraphQLClient) RemoveSignup(ctx context.Context, guildID int64, questID, userID ids.ID) (*domain.Quest, error) {
	return g.questMutation(ctx, "removeSignup",
		`mutation RemoveSignup($guildId: ID!, $id: ID!, $userId: ID!) { removeSignup(guildId: $guildId, id: $id, userId: $userId) { questId } }`,
		map[string]any{
			"guildId": fmt.Sprintf("%d", guildID),
			"id":      questID.String(),
			"userId":  userID.String(),
		})
}

func (g *GraphQLClient) SelectSignup(ctx context.Context, guildID int64, questID, userID ids.ID) (*domain.Quest, error) {
	return g.questMutation(ctx, "selectSignup",
		`mutation SelectSignup($guildId: ID!, $id: ID!, $userId: ID!) { selectSignup(guildId: $guildId, id: $id, userId: $userId) { questId } }`,
		map[string]any{
			"guildId": fmt.Sprintf("%d", guildID),
			"id":      questID.String(),
			"userId":  userID.String(),
		})
}

func (g *GraphQLClient) CloseSignups(ctx context.Context, guildID int64, questID ids.ID) (*domain.Quest, error) {
	return g.questMutation(ctx, "closeSignups",
		`mutation CloseSignups($guildId: ID!, $id: ID!) { closeSignups(guildId: $guildId, id: $id) { questId } }`,
		map[string]any{
			"guildId": fmt.Sprintf("%d", guildID),
			"id":      questID.String(),
		})
}
