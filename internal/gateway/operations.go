package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/piyushsatti/nonagon/internal/bus"
	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/ids"
)

// The operation routes adjudicate quest mutations server-side: load the
// document, apply the domain operation, validate, write through. The
// response body is the canonical post-operation document, so clients never
// have to re-read after a mutation. Colon-suffixed verbs (:nudge,
// :closeSignups, :setCompleted, :setCancelled, :setAnnounced) arrive inside
// the {id} path segment because a segment wildcard captures the whole
// segment.

// pathIDVerb splits a "{id}:verb" path segment and parses the id part.
func pathIDVerb(r *http.Request, segment string, kind ids.Kind) (ids.ID, string, error) {
	raw := r.PathValue(segment)
	base, verb, _ := strings.Cut(raw, ":")
	id, err := ids.ParseKind(base, kind)
	if err != nil {
		return ids.ID{}, "", domain.Validationf("%q is not a valid %s id", base, kind)
	}
	return id, verb, nil
}

// decodeBody decodes an optional JSON request body into dst. An empty body
// leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err != nil {
		return domain.Validationf("request body unreadable")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return domain.Validationf("request body is not valid JSON")
	}
	return nil
}

// applyQuestOp runs one load-mutate-validate-write cycle on a quest.
func (s *Server) applyQuestOp(ctx context.Context, guildID int64, questID ids.ID,
	mutate func(q *domain.Quest) error) (*domain.Quest, error) {
	q, err := s.cfg.Store.GetQuest(ctx, guildID, questID)
	if err != nil {
		return nil, err
	}
	if err := mutate(q); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if err := s.cfg.Store.UpsertQuest(ctx, q); err != nil {
		return nil, err
	}
	return q, nil
}

func (s *Server) publishQuestEvent(topic string, q *domain.Quest) {
	if s.cfg.Bus == nil {
		return
	}
	s.cfg.Bus.Publish(topic, bus.QuestEvent{
		GuildID:   q.GuildID,
		QuestID:   q.QuestID.String(),
		RefereeID: q.RefereeID.String(),
		Status:    string(q.Status),
	})
}

func (s *Server) publishSignupEvent(topic string, q *domain.Quest, userID ids.ID, status string) {
	if s.cfg.Bus == nil {
		return
	}
	s.cfg.Bus.Publish(topic, bus.SignupEvent{
		GuildID: q.GuildID,
		QuestID: q.QuestID.String(),
		UserID:  userID.String(),
		Status:  status,
	})
}

// handleCreateQuest persists a full quest document to the collection.
func (s *Server) handleCreateQuest(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, domain.Unauthorizedf("unauthorized"))
		return
	}
	guildID, err := pathGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	raw, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := domain.DecodeQuest(raw)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := q.Validate(); err != nil {
		writeError(w, err)
		return
	}
	if q.GuildID != guildID {
		writeError(w, domain.Validationf("document identity does not match the request path"))
		return
	}
	if err := s.cfg.Store.UpsertQuest(r.Context(), q); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": q.QuestID.String()})
}

// handleQuestVerb routes the colon-suffixed quest operations.
func (s *Server) handleQuestVerb(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, domain.Unauthorizedf("unauthorized"))
		return
	}
	guildID, err := pathGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	questID, verb, err := pathIDVerb(r, "id", ids.KindQuest)
	if err != nil {
		writeError(w, err)
		return
	}
	now := time.Now()

	var topic string
	var mutate func(q *domain.Quest) error
	switch verb {
	case "nudge":
		var body struct {
			RefereeID string `json:"referee_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		refID, err := ids.ParseKind(body.RefereeID, ids.KindUser)
		if err != nil {
			writeError(w, domain.Validationf("referee_id %q is not a valid USER postal id", body.RefereeID))
			return
		}
		topic = bus.TopicQuestNudged
		mutate = func(q *domain.Quest) error {
			if q.RefereeID != refID {
				return domain.Unauthorizedf("only the hosting referee can nudge quest %s", q.QuestID)
			}
			return q.Nudge(now)
		}
	case "closeSignups":
		mutate = func(q *domain.Quest) error {
			q.CloseSignups()
			return nil
		}
	case "setCompleted":
		topic = bus.TopicQuestCompleted
		mutate = func(q *domain.Quest) error { return q.Complete(now) }
	case "setCancelled":
		topic = bus.TopicQuestCancelled
		mutate = func(q *domain.Quest) error { return q.Cancel(now) }
	case "setAnnounced":
		var body struct {
			ChannelID int64 `json:"channel_id"`
			MessageID int64 `json:"message_id"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, err)
			return
		}
		topic = bus.TopicQuestAnnounced
		mutate = func(q *domain.Quest) error {
			ref := domain.MessageRef{ChannelID: body.ChannelID, MessageID: body.MessageID}
			return q.MarkAnnounced(ref, now)
		}
	default:
		writeError(w, domain.Validationf("unknown quest operation %q", verb))
		return
	}

	q, err := s.applyQuestOp(r.Context(), guildID, questID, mutate)
	if err != nil {
		writeError(w, err)
		return
	}
	if topic != "" {
		s.publishQuestEvent(topic, q)
	} else {
		s.publishSignupEvent(bus.TopicSignupsClosed, q, ids.ID{}, "")
	}
	writeJSON(w, http.StatusOK, q)
}

// handleAddSignup appends a sign-up {user_id, character_id} to the quest.
func (s *Server) handleAddSignup(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, domain.Unauthorizedf("unauthorized"))
		return
	}
	guildID, err := pathGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	questID, err := pathID(r, ids.KindQuest)
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		UserID      string `json:"user_id"`
		CharacterID string `json:"character_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	userID, err := ids.ParseKind(body.UserID, ids.KindUser)
	if err != nil {
		writeError(w, domain.Validationf("user_id %q is not a valid USER postal id", body.UserID))
		return
	}
	charID, err := ids.ParseKind(body.CharacterID, ids.KindCharacter)
	if err != nil {
		writeError(w, domain.Validationf("character_id %q is not a valid CHAR postal id", body.CharacterID))
		return
	}

	q, err := s.applyQuestOp(r.Context(), guildID, questID, func(q *domain.Quest) error {
		return q.AddSignup(userID, charID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishSignupEvent(bus.TopicSignupApplied, q, userID, string(domain.SignupApplied))
	writeJSON(w, http.StatusCreated, q)
}

// handleSignupVerb routes the colon-suffixed sign-up operations (:select).
func (s *Server) handleSignupVerb(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, domain.Unauthorizedf("unauthorized"))
		return
	}
	guildID, err := pathGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	questID, err := pathID(r, ids.KindQuest)
	if err != nil {
		writeError(w, err)
		return
	}
	userID, verb, err := pathIDVerb(r, "uid", ids.KindUser)
	if err != nil {
		writeError(w, err)
		return
	}
	if verb != "select" {
		writeError(w, domain.Validationf("unknown signup operation %q", verb))
		return
	}

	q, err := s.applyQuestOp(r.Context(), guildID, questID, func(q *domain.Quest) error {
		return q.SelectSignup(userID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishSignupEvent(bus.TopicSignupSelected, q, userID, string(domain.SignupSelected))
	writeJSON(w, http.StatusOK, q)
}

// handleRemoveSignup deletes a user's sign-up from the quest.
func (s *Server) handleRemoveSignup(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, domain.Unauthorizedf("unauthorized"))
		return
	}
	guildID, err := pathGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	questID, err := pathID(r, ids.KindQuest)
	if err != nil {
		writeError(w, err)
		return
	}
	userID, err := ids.ParseKind(r.PathValue("uid"), ids.KindUser)
	if err != nil {
		writeError(w, domain.Validationf("%q is not a valid USER id", r.PathValue("uid")))
		return
	}

	q, err := s.applyQuestOp(r.Context(), guildID, questID, func(q *domain.Quest) error {
		return q.RemoveSignup(userID)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	s.publishSignupEvent(bus.TopicSignupRemoved, q, userID, "")
	writeJSON(w, http.StatusOK, q)
}
