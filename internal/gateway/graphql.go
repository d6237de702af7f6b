package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/ids"
)

// The GraphQL surface is a fixed catalogue: dashboard reads, entity upsert
// mutations, and the quest operation mutations the REST verb routes also
// expose. Requests carry their inputs in variables; the query text only
// selects the operation, so the handler dispatches on the first top-level
// field and ignores selection sets.

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlError struct {
	Message string `json:"message"`
}

type gqlResponse struct {
	Data   map[string]any `json:"data,omitempty"`
	Errors []gqlError     `json:"errors,omitempty"`
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, domain.Unauthorizedf("unauthorized"))
		return
	}

	var req gqlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeGQLError(w, "request body is not valid JSON")
		return
	}
	field, err := operationField(req.Query)
	if err != nil {
		writeGQLError(w, err.Error())
		return
	}

	result, err := s.resolve(r.Context(), field, req.Variables)
	if err != nil {
		writeGQLError(w, domain.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, gqlResponse{Data: map[string]any{field: result}})
}

func writeGQLError(w http.ResponseWriter, msg string) {
	// GraphQL transports resolver errors in-band with a 200.
	writeJSON(w, http.StatusOK, gqlResponse{Errors: []gqlError{{Message: msg}}})
}

func (s *Server) resolve(ctx context.Context, field string, vars map[string]any) (any, error) {
	switch field {
	case "quest":
		guildID, err := varInt64(vars, "guildId")
		if err != nil {
			return nil, err
		}
		id, err := varID(vars, "id", ids.KindQuest)
		if err != nil {
			return nil, err
		}
		return s.cfg.Store.GetQuest(ctx, guildID, id)

	case "quests":
		guildID, err := varInt64(vars, "guildId")
		if err != nil {
			return nil, err
		}
		status, _ := vars["status"].(string)
		if status == "" {
			return nil, domain.Validationf("quests requires a status variable")
		}
		return s.cfg.Store.ListQuestsByStatus(ctx, guildID, domain.QuestStatus(status))

	case "pendingQuests":
		guildID, err := varInt64(vars, "guildId")
		if err != nil {
			return nil, err
		}
		return s.cfg.Store.ListQuestsByStatus(ctx, guildID, domain.QuestAnnounced)

	case "recentQuests":
		guildID, err := varInt64(vars, "guildId")
		if err != nil {
			return nil, err
		}
		limit := 10
		if n, err := varInt64(vars, "limit"); err == nil && n > 0 {
			limit = int(n)
		}
		quests, err := s.cfg.Store.ListQuestsByStatus(ctx, guildID, domain.QuestCompleted)
		if err != nil {
			return nil, err
		}
		sort.Slice(quests, func(i, j int) bool {
			return quests[i].UpdatedAt.After(quests[j].UpdatedAt)
		})
		if len(quests) > limit {
			quests = quests[:limit]
		}
		return quests, nil

	case "user":
		guildID, err := varInt64(vars, "guildId")
		if err != nil {
			return nil, err
		}
		id, err := varID(vars, "id", ids.KindUser)
		if err != nil {
			return nil, err
		}
		return s.cfg.Store.GetUser(ctx, guildID, id)

	case "character":
		guildID, err := varInt64(vars, "guildId")
		if err != nil {
			return nil, err
		}
		id, err := varID(vars, "id", ids.KindCharacter)
		if err != nil {
			return nil, err
		}
		return s.cfg.Store.GetCharacter(ctx, guildID, id)

	case "userByDiscord":
		guildID, err := varInt64(vars, "guildId")
		if err != nil {
			return nil, err
		}
		discordID, err := varInt64(vars, "discordId")
		if err != nil {
			return nil, err
		}
		return s.cfg.Store.FindUserByDiscordID(ctx, guildID, discordID)

	case "usersByGuild":
		guildID, err := varInt64(vars, "guildId")
		if err != nil {
			return nil, err
		}
		return s.cfg.Store.ListUsers(ctx, guildID)

	case "allLookups":
		guildID, err := varInt64(vars, "guildId")
		if err != nil {
			return nil, err
		}
		return s.cfg.Store.ListLookups(ctx, guildID)

	case "lookupSearch":
		guildID, err := varInt64(vars, "guildId")
		if err != nil {
			return nil, err
		}
		prefix, _ := vars["prefix"].(string)
		return s.cfg.Store.SearchLookups(ctx, guildID, prefix)

	case "setLookup":
		guildID, err := varInt64(vars, "guildId")
		if err != nil {
			return nil, err
		}
		name, _ := vars["name"].(string)
		if name == "" {
			return nil, domain.Validationf("variable %q is required", "name")
		}
		doc, err := json.Marshal(vars["doc"])
		if err != nil {
			return nil, domain.Validationf("variable %q is not valid JSON", "doc")
		}
		if err := s.cfg.Store.SetLookup(ctx, guildID, name, doc); err != nil {
			return nil, err
		}
		return map[string]any{"name": name, "saved": true}, nil

	case "upsertUser":
		return s.gqlUpsert(ctx, vars, func(guildID int64, raw json.RawMessage) (any, error) {
			u, err := domain.DecodeUser(raw)
			if err != nil {
				return nil, domain.Validationf("variable %q is not a valid user document", "doc")
			}
			if err := u.Validate(); err != nil {
				return nil, err
			}
			if u.GuildID != guildID {
				return nil, domain.Validationf("document identity does not match the request")
			}
			return u, s.cfg.Store.UpsertUser(ctx, u)
		})

	case "upsertQuest":
		return s.gqlUpsert(ctx, vars, func(guildID int64, raw json.RawMessage) (any, error) {
			q, err := domain.DecodeQuest(raw)
			if err != nil {
				return nil, domain.Validationf("variable %q is not a valid quest document", "doc")
			}
			if err := q.Validate(); err != nil {
				return nil, err
			}
			if q.GuildID != guildID {
				return nil, domain.Validationf("document identity does not match the request")
			}
			return q, s.cfg.Store.UpsertQuest(ctx, q)
		})

	case "upsertCharacter":
		return s.gqlUpsert(ctx, vars, func(guildID int64, raw json.RawMessage) (any, error) {
			ch, err := domain.DecodeCharacter(raw)
			if err != nil {
				return nil, domain.Validationf("variable %q is not a valid character document", "doc")
			}
			if err := ch.Validate(); err != nil {
				return nil, err
			}
			if ch.GuildID != guildID {
				return nil, domain.Validationf("document identity does not match the request")
			}
			return ch, s.cfg.Store.UpsertCharacter(ctx, ch)
		})

	case "upsertSummary":
		return s.gqlUpsert(ctx, vars, func(guildID int64, raw json.RawMessage) (any, error) {
			sm, err := domain.DecodeSummary(raw)
			if err != nil {
				return nil, domain.Validationf("variable %q is not a valid summary document", "doc")
			}
			if err := sm.Validate(); err != nil {
				return nil, err
			}
			if sm.GuildID != guildID {
				return nil, domain.Validationf("document identity does not match the request")
			}
			return sm, s.cfg.Store.UpsertSummary(ctx, sm)
		})

	case "addSignup":
		userID, err := varID(vars, "userId", ids.KindUser)
		if err != nil {
			return nil, err
		}
		charID, err := varID(vars, "characterId", ids.KindCharacter)
		if err != nil {
			return nil, err
		}
		return s.gqlQuestOp(ctx, vars, func(q *domain.Quest) error {
			return q.AddSignup(userID, charID)
		})

	case "removeSignup":
		userID, err := varID(vars, "userId", ids.KindUser)
		if err != nil {
			return nil, err
		}
		return s.gqlQuestOp(ctx, vars, func(q *domain.Quest) error {
			return q.RemoveSignup(userID)
		})

	case "selectSignup":
		userID, err := varID(vars, "userId", ids.KindUser)
		if err != nil {
			return nil, err
		}
		return s.gqlQuestOp(ctx, vars, func(q *domain.Quest) error {
			return q.SelectSignup(userID)
		})

	case "closeSignups":
		return s.gqlQuestOp(ctx, vars, func(q *domain.Quest) error {
			q.CloseSignups()
			return nil
		})

	case "nudgeQuest":
		refID, err := varID(vars, "refereeId", ids.KindUser)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		return s.gqlQuestOp(ctx, vars, func(q *domain.Quest) error {
			if q.RefereeID != refID {
				return domain.Unauthorizedf("only the hosting referee can nudge quest %s", q.QuestID)
			}
			return q.Nudge(now)
		})

	case "setCompleted":
		now := time.Now()
		return s.gqlQuestOp(ctx, vars, func(q *domain.Quest) error { return q.Complete(now) })

	case "setCancelled":
		now := time.Now()
		return s.gqlQuestOp(ctx, vars, func(q *domain.Quest) error { return q.Cancel(now) })

	case "setAnnounced":
		channelID, _ := varInt64(vars, "channelId")
		messageID, _ := varInt64(vars, "messageId")
		now := time.Now()
		return s.gqlQuestOp(ctx, vars, func(q *domain.Quest) error {
			return q.MarkAnnounced(domain.MessageRef{ChannelID: channelID, MessageID: messageID}, now)
		})

	default:
		return nil, domain.Validationf("unknown operation %q", field)
	}
}

// gqlUpsert decodes the guildId and doc variables shared by the entity
// upsert mutations and hands the raw document to the entity-specific writer.
func (s *Server) gqlUpsert(_ context.Context, vars map[string]any,
	write func(guildID int64, raw json.RawMessage) (any, error)) (any, error) {
	guildID, err := varInt64(vars, "guildId")
	if err != nil {
		return nil, err
	}
	if _, ok := vars["doc"]; !ok {
		return nil, domain.Validationf("variable %q is required", "doc")
	}
	raw, err := json.Marshal(vars["doc"])
	if err != nil {
		return nil, domain.Validationf("variable %q is not valid JSON", "doc")
	}
	return write(guildID, raw)
}

// gqlQuestOp runs one load-mutate-validate-write cycle on the quest named by
// the guildId and id variables and returns the canonical document.
func (s *Server) gqlQuestOp(ctx context.Context, vars map[string]any,
	mutate func(q *domain.Quest) error) (any, error) {
	guildID, err := varInt64(vars, "guildId")
	if err != nil {
		return nil, err
	}
	id, err := varID(vars, "id", ids.KindQuest)
	if err != nil {
		return nil, err
	}
	return s.applyQuestOp(ctx, guildID, id, mutate)
}

// operationField extracts the first top-level field from a query document:
// `query Recent($id: ID!) { recentQuests(...) { ... } }` yields
// "recentQuests".
func operationField(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", domain.Validationf("query is required")
	}
	open := strings.IndexByte(query, '{')
	if open < 0 {
		return "", domain.Validationf("query has no selection set")
	}
	rest := strings.TrimSpace(query[open+1:])
	end := strings.IndexFunc(rest, func(r rune) bool {
		return !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'))
	})
	if end == 0 {
		return "", domain.Validationf("query has no selection set")
	}
	if end < 0 {
		end = len(rest)
	}
	return rest[:end], nil
}

// varInt64 reads an ID!-typed variable: either a JSON string of digits (the
// canonical form for 64-bit chat platform IDs) or a small JSON number.
func varInt64(vars map[string]any, name string) (int64, error) {
	raw, ok := vars[name]
	if !ok {
		return 0, domain.Validationf("variable %q is required", name)
	}
	switch v := raw.(type) {
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, domain.Validationf("variable %q is not an integer", name)
		}
		return n, nil
	case float64:
		return int64(v), nil
	default:
		return 0, domain.Validationf("variable %q is not an integer", name)
	}
}

func varID(vars map[string]any, name string, kind ids.Kind) (ids.ID, error) {
	raw, ok := vars[name].(string)
	if !ok {
		return ids.ID{}, domain.Validationf("variable %q is required", name)
	}
	id, err := ids.ParseKind(raw, kind)
	if err != nil {
		return ids.ID{}, domain.Validationf("variable %q is not a valid %s id", name, kind)
	}
	return id, nil
}
