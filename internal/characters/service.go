// Package characters implements character registration, retirement and
// board posting. Registering a first character is what turns a plain member
// into a PLAYER.
package characters

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/piyushsatti/nonagon/internal/audit"
	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/guildcache"
	"github.com/piyushsatti/nonagon/internal/ids"
	"github.com/piyushsatti/nonagon/internal/settings"
)

// Board posts character sheets to the guild's character board channel.
type Board interface {
	PostCharacter(ctx context.Context, channelID int64, ch *domain.Character) (domain.MessageRef, error)
	EditCharacter(ctx context.Context, ref domain.MessageRef, ch *domain.Character) error
}

// CharacterStore is the persistence slice the service writes through.
type CharacterStore interface {
	UpsertCharacter(ctx context.Context, ch *domain.Character) error
	GetCharacter(ctx context.Context, guildID int64, id ids.ID) (*domain.Character, error)
}

// Service coordinates character state across the cache, the store and the
// character board.
type Service struct {
	cache    *guildcache.Cache
	store    CharacterStore
	board    Board
	settings *settings.Service
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(cache *guildcache.Cache, store CharacterStore, board Board, st *settings.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:    cache,
		store:    store,
		board:    board,
		settings: st,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterInput carries the fields a member supplies for a new character.
type RegisterInput struct {
	Name        string
	SheetURL    string
	ArtURL      string
	TokenURL    string
	Tags        []string
	Description string
}

// Register creates an active character for the member, grants PLAYER if
// this is their first, and posts the sheet to the character board when one
// is configured.
func (s *Service) Register(ctx context.Context, guildID, ownerDiscordID int64, in RegisterInput) (*domain.Character, error) {
	owner, ok := s.cache.UserByDiscordID(guildID, ownerDiscordID)
	if !ok {
		owner, _ = s.cache.EnsureUser(guildID, ownerDiscordID, s.now())
	}

	ch := domain.NewCharacter(guildID, owner.UserID, in.Name, s.now())
	ch.SheetURL = in.SheetURL
	ch.ArtURL = in.ArtURL
	ch.TokenURL = in.TokenURL
	ch.Tags = in.Tags
	ch.Description = in.Description
	if err := ch.Validate(); err != nil {
		return nil, err
	}

	cfg, err := s.settings.Get(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if s.board != nil && cfg.CharacterBoardChannelID != 0 {
		ref, err := s.board.PostCharacter(ctx, cfg.CharacterBoardChannelID, ch)
		if err != nil {
			return nil, fmt.Errorf("post character board message: %w", err)
		}
		ch.Announce = ref
	}

	if err := s.store.UpsertCharacter(ctx, ch); err != nil {
		return nil, err
	}
	s.cache.PutCharacter(ch)
	s.cache.MutateUser(guildID, owner.UserID, func(u *domain.User) bool {
		u.EnablePlayer()
		u.Player.CharacterIDs = append(u.Player.CharacterIDs, ch.CharacterID)
		return true
	})

	audit.Record("character.register", "ok", owner.UserID.String(), guildID, ch.CharacterID.String())
	return ch, nil
}

// character loads from cache with a store fallback, then verifies ownership.
func (s *Service) owned(ctx context.Context, guildID, actorDiscordID int64, characterID ids.ID) (*domain.User, *domain.Character, error) {
	actor, ok := s.cache.UserByDiscordID(guildID, actorDiscordID)
	if !ok {
		return nil, nil, domain.NotFoundf("member %d is not known in guild %d", actorDiscordID, guildID)
	}
	ch, ok := s.cache.Character(guildID, characterID)
	if !ok {
		var err error
		ch, err = s.store.GetCharacter(ctx, guildID, characterID)
		if err != nil {
			return nil, nil, err
		}
		s.cache.PutCharacter(ch)
	}
	if ch.OwnerID != actor.UserID {
		return nil, nil, domain.Unauthorizedf("character %s is not yours", characterID)
	}
	return actor, ch, nil
}

// Retire deactivates the character. Idempotent.
func (s *Service) Retire(ctx context.Context, guildID, actorDiscordID int64, characterID ids.ID) (*domain.Character, error) {
	actor, ch, err := s.owned(ctx, guildID, actorDiscordID, characterID)
	if err != nil {
		return nil, err
	}
	if !ch.Deactivate(s.now()) {
		return ch, nil
	}
	if err := s.store.UpsertCharacter(ctx, ch); err != nil {
		return nil, err
	}
	s.cache.PutCharacter(ch)
	audit.Record("character.retire", "ok", actor.UserID.String(), guildID, ch.CharacterID.String())
	return ch, nil
}

// Reactivate returns a retired character to play. Idempotent.
func (s *Service) Reactivate(ctx context.Context, guildID, actorDiscordID int64, characterID ids.ID) (*domain.Character, error) {
	actor, ch, err := s.owned(ctx, guildID, actorDiscordID, characterID)
	if err != nil {
		return nil, err
	}
	if !ch.Activate(s.now()) {
		return ch, nil
	}
	if err := s.store.UpsertCharacter(ctx, ch); err != nil {
		return nil, err
	}
	s.cache.PutCharacter(ch)
	audit.Record("character.reactivate", "ok", actor.UserID.String(), guildID, ch.CharacterID.String())
	return ch, nil
}

// UpdateInput carries the editable character fields. Empty strings leave the
// field untouched.
type UpdateInput struct {
	SheetURL    string
	ArtURL      string
	TokenURL    string
	Description string
	Notes       string
}

// Update edits the character and refreshes its board message when one exists.
func (s *Service) Update(ctx context.Context, guildID, actorDiscordID int64, characterID ids.ID, in UpdateInput) (*domain.Character, error) {
	actor, ch, err := s.owned(ctx, guildID, actorDiscordID, characterID)
	if err != nil {
		return nil, err
	}
	if in.SheetURL != "" {
		ch.SheetURL = in.SheetURL
	}
	if in.ArtURL != "" {
		ch.ArtURL = in.ArtURL
	}
	if in.TokenURL != "" {
		ch.TokenURL = in.TokenURL
	}
	if in.Description != "" {
		ch.Description = in.Description
	}
	if in.Notes != "" {
		ch.Notes = in.Notes
	}
	ch.UpdatedAt = s.now().UTC()
	if err := ch.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.UpsertCharacter(ctx, ch); err != nil {
		return nil, err
	}
	s.cache.PutCharacter(ch)

	if s.board != nil && !ch.Announce.IsZero() {
		if err := s.board.EditCharacter(ctx, ch.Announce, ch); err != nil {
			s.logger.Warn("character board edit failed",
				"guild_id", guildID, "character_id", ch.CharacterID.String(), "error", err)
		}
	}
	audit.Record("character.update", "ok", actor.UserID.String(), guildID, ch.CharacterID.String())
	return ch, nil
}
