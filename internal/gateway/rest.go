package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/ids"
)

// restGet wraps the shared read path: auth, path parsing, kind-pinned id,
// store load, JSON response.
func (s *Server) restGet(w http.ResponseWriter, r *http.Request, kind ids.Kind,
	load func(ctx context.Context, guildID int64, id ids.ID) (any, error)) {
	if !s.authorize(r) {
		writeError(w, domain.Unauthorizedf("unauthorized"))
		return
	}
	guildID, err := pathGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, kind)
	if err != nil {
		writeError(w, err)
		return
	}
	doc, err := load(r.Context(), guildID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// restPut decodes the body into a fresh entity, verifies the document
// matches its URL, and writes through. Responds 201 when the entity did not
// exist, 200 on update.
func (s *Server) restPut(w http.ResponseWriter, r *http.Request, kind ids.Kind,
	decode func(raw json.RawMessage) (docGuild int64, docID ids.ID, err error),
	exists func(ctx context.Context, guildID int64, id ids.ID) error,
	save func(ctx context.Context) error) {
	if !s.authorize(r) {
		writeError(w, domain.Unauthorizedf("unauthorized"))
		return
	}
	guildID, err := pathGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := pathID(r, kind)
	if err != nil {
		writeError(w, err)
		return
	}

	raw, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	docGuild, docID, err := decode(raw)
	if err != nil {
		writeError(w, err)
		return
	}
	if docGuild != guildID || docID != id {
		writeError(w, domain.Validationf("document identity does not match the request path"))
		return
	}

	status := http.StatusOK
	if err := exists(r.Context(), guildID, id); errors.Is(err, domain.ErrNotFound) {
		status = http.StatusCreated
	}
	if err := save(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, map[string]any{"id": id.String()})
}

func readBody(r *http.Request) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(&raw); err != nil {
		return nil, domain.Validationf("request body is not valid JSON")
	}
	return raw, nil
}

// --- users ---

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.restGet(w, r, ids.KindUser, func(ctx context.Context, guildID int64, id ids.ID) (any, error) {
		return s.cfg.Store.GetUser(ctx, guildID, id)
	})
}

func (s *Server) handlePutUser(w http.ResponseWriter, r *http.Request) {
	var u *domain.User
	s.restPut(w, r, ids.KindUser,
		func(raw json.RawMessage) (int64, ids.ID, error) {
			var err error
			u, err = domain.DecodeUser(raw)
			if err != nil {
				return 0, ids.ID{}, err
			}
			if err := u.Validate(); err != nil {
				return 0, ids.ID{}, err
			}
			return u.GuildID, u.UserID, nil
		},
		func(ctx context.Context, guildID int64, id ids.ID) error {
			_, err := s.cfg.Store.GetUser(ctx, guildID, id)
			return err
		},
		func(ctx context.Context) error {
			return s.cfg.Store.UpsertUser(ctx, u)
		})
}

// --- quests ---

func (s *Server) handleGetQuest(w http.ResponseWriter, r *http.Request) {
	s.restGet(w, r, ids.KindQuest, func(ctx context.Context, guildID int64, id ids.ID) (any, error) {
		return s.cfg.Store.GetQuest(ctx, guildID, id)
	})
}

func (s *Server) handleListQuests(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, domain.Unauthorizedf("unauthorized"))
		return
	}
	guildID, err := pathGuild(r)
	if err != nil {
		writeError(w, err)
		return
	}
	status := domain.QuestStatus(r.URL.Query().Get("status"))
	if status == "" {
		writeError(w, domain.Validationf("status query parameter is required"))
		return
	}
	quests, err := s.cfg.Store.ListQuestsByStatus(r.Context(), guildID, status)
	if err != nil {
		writeError(w, err)
		return
	}
	if quests == nil {
		quests = []*domain.Quest{}
	}
	writeJSON(w, http.StatusOK, quests)
}

func (s *Server) handlePutQuest(w http.ResponseWriter, r *http.Request) {
	var q *domain.Quest
	s.restPut(w, r, ids.KindQuest,
		func(raw json.RawMessage) (int64, ids.ID, error) {
			var err error
			q, err = domain.DecodeQuest(raw)
			if err != nil {
				return 0, ids.ID{}, err
			}
			if err := q.Validate(); err != nil {
				return 0, ids.ID{}, err
			}
			return q.GuildID, q.QuestID, nil
		},
		func(ctx context.Context, guildID int64, id ids.ID) error {
			_, err := s.cfg.Store.GetQuest(ctx, guildID, id)
			return err
		},
		func(ctx context.Context) error {
			return s.cfg.Store.UpsertQuest(ctx, q)
		})
}

// --- characters ---

func (s *Server) handleGetCharacter(w http.ResponseWriter, r *http.Request) {
	s.restGet(w, r, ids.KindCharacter, func(ctx context.Context, guildID int64, id ids.ID) (any, error) {
		return s.cfg.Store.GetCharacter(ctx, guildID, id)
	})
}

func (s *Server) handlePutCharacter(w http.ResponseWriter, r *http.Request) {
	var ch *domain.Character
	s.restPut(w, r, ids.KindCharacter,
		func(raw json.RawMessage) (int64, ids.ID, error) {
			var err error
			ch, err = domain.DecodeCharacter(raw)
			if err != nil {
				return 0, ids.ID{}, err
			}
			if err := ch.Validate(); err != nil {
				return 0, ids.ID{}, err
			}
			return ch.GuildID, ch.CharacterID, nil
		},
		func(ctx context.Context, guildID int64, id ids.ID) error {
			_, err := s.cfg.Store.GetCharacter(ctx, guildID, id)
			return err
		},
		func(ctx context.Context) error {
			return s.cfg.Store.UpsertCharacter(ctx, ch)
		})
}

// --- summaries ---

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	s.restGet(w, r, ids.KindSummary, func(ctx context.Context, guildID int64, id ids.ID) (any, error) {
		return s.cfg.Store.GetSummary(ctx, guildID, id)
	})
}

func (s *Server) handlePutSummary(w http.ResponseWriter, r *http.Request) {
	var sm *domain.Summary
	s.restPut(w, r, ids.KindSummary,
		func(raw json.RawMessage) (int64, ids.ID, error) {
			var err error
			sm, err = domain.DecodeSummary(raw)
			if err != nil {
				return 0, ids.ID{}, err
			}
			if err := sm.Validate(); err != nil {
				return 0, ids.ID{}, err
			}
			return sm.GuildID, sm.SummaryID, nil
		},
		func(ctx context.Context, guildID int64, id ids.ID) error {
			_, err := s.cfg.Store.GetSummary(ctx, guildID, id)
			return err
		},
		func(ctx context.Context) error {
			return s.cfg.Store.UpsertSummary(ctx, sm)
		})
}
