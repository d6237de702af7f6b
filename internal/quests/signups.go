package quests

import (
	"context"
	"fmt"

	"github.com/piyushsatti/nonagon/internal/audit"
	"github.com/piyushsatti/nonagon/internal/bus"
	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/ids"
)

// remoteSignups is the optional per-operation adjudication surface of the
// backing store. The repository composite implements it against the external
// quest service's signup endpoints, so concurrent sign-ups are ordered
// remotely instead of racing through whole-document writes.
type remoteSignups interface {
	AddSignup(ctx context.Context, guildID int64, questID, userID, characterID ids.ID) (*domain.Quest, error)
	RemoveSignup(ctx context.Context, guildID int64, questID, userID ids.ID) (*domain.Quest, error)
	SelectSignup(ctx context.Context, guildID int64, questID, userID ids.ID) (*domain.Quest, error)
	CloseSignups(ctx context.Context, guildID int64, questID ids.ID) (*domain.Quest, error)
}

// adjudicate applies one signup mutation. When the store adjudicates
// remotely the canonical result replaces the local document; a transient
// remote failure falls back to mutating the cached copy and writing through.
func (s *Service) adjudicate(ctx context.Context, q *domain.Quest,
	remote func(remoteSignups) (*domain.Quest, error),
	local func(*domain.Quest) error) error {
	if ops, ok := s.store.(remoteSignups); ok {
		canonical, err := remote(ops)
		if err == nil {
			*q = *canonical
			s.cache.PutQuest(q)
			return nil
		}
		if !domain.IsTransient(err) {
			return err
		}
		s.logger.Warn("remote signup adjudication unavailable",
			"guild_id", q.GuildID, "quest_id", q.QuestID.String(), "error", err)
	}
	if err := local(q); err != nil {
		return err
	}
	return s.save(ctx, q)
}

// Apply records a player's request to join a quest with one of their
// characters. At most one sign-up per player per quest; the rejection text
// for a duplicate is fixed.
func (s *Service) Apply(ctx context.Context, guildID, playerDiscordID int64, questID, characterID ids.ID) (*domain.Quest, error) {
	player, err := s.actor(guildID, playerDiscordID, domain.RolePlayer)
	if err != nil {
		return nil, err
	}
	if !player.OwnsCharacter(characterID) {
		return nil, domain.Unauthorizedf("character %s is not yours", characterID)
	}
	q, err := s.quest(ctx, guildID, questID)
	if err != nil {
		return nil, err
	}
	err = s.adjudicate(ctx, q,
		func(ops remoteSignups) (*domain.Quest, error) {
			return ops.AddSignup(ctx, guildID, q.QuestID, player.UserID, characterID)
		},
		func(q *domain.Quest) error {
			return q.AddSignup(player.UserID, characterID)
		})
	if err != nil {
		audit.Record("signup.apply", "rejected", player.UserID.String(), guildID, domain.UserMessage(err))
		return nil, err
	}

	audit.Record("signup.apply", "ok", player.UserID.String(), guildID, q.QuestID.String())
	if s.metrics != nil {
		s.metrics.SignupsApplied.Add(ctx, 1)
	}
	s.publishSignupEvent(bus.TopicSignupApplied, q, player.UserID, characterID, domain.SignupApplied)
	s.syncBoard(ctx, q)
	s.notify(ctx, guildID, q.RefereeID,
		fmt.Sprintf("New sign-up for %q.", q.Title))
	return q, nil
}

// Withdraw removes the player's own pending sign-up.
func (s *Service) Withdraw(ctx context.Context, guildID, playerDiscordID int64, questID ids.ID) (*domain.Quest, error) {
	player, err := s.actor(guildID, playerDiscordID, domain.RolePlayer)
	if err != nil {
		return nil, err
	}
	q, err := s.quest(ctx, guildID, questID)
	if err != nil {
		return nil, err
	}
	err = s.adjudicate(ctx, q,
		func(ops remoteSignups) (*domain.Quest, error) {
			return ops.RemoveSignup(ctx, guildID, q.QuestID, player.UserID)
		},
		func(q *domain.Quest) error {
			return q.RemoveSignup(player.UserID)
		})
	if err != nil {
		return nil, err
	}
	audit.Record("signup.withdraw", "ok", player.UserID.String(), guildID, q.QuestID.String())
	s.publishSignupEvent(bus.TopicSignupRemoved, q, player.UserID, ids.ID{}, "")
	s.syncBoard(ctx, q)
	return q, nil
}

// Accept promotes a pending sign-up to the party. Referee only.
func (s *Service) Accept(ctx context.Context, guildID, actorDiscordID int64, questID, playerID ids.ID) (*domain.Quest, error) {
	actor, err := s.actor(guildID, actorDiscordID, domain.RoleReferee)
	if err != nil {
		return nil, err
	}
	q, err := s.quest(ctx, guildID, questID)
	if err != nil {
		return nil, err
	}
	if err := hostedBy(q, actor); err != nil {
		return nil, err
	}
	err = s.adjudicate(ctx, q,
		func(ops remoteSignups) (*domain.Quest, error) {
			return ops.SelectSignup(ctx, guildID, q.QuestID, playerID)
		},
		func(q *domain.Quest) error {
			return q.SelectSignup(playerID)
		})
	if err != nil {
		return nil, err
	}

	audit.Record("signup.accept", "ok", actor.UserID.String(), guildID,
		fmt.Sprintf("%s accepted onto %s", playerID, q.QuestID))
	if s.metrics != nil {
		s.metrics.SignupsSelected.Add(ctx, 1)
	}
	s.publishSignupEvent(bus.TopicSignupSelected, q, playerID, ids.ID{}, domain.SignupSelected)
	s.syncBoard(ctx, q)
	s.notify(ctx, guildID, playerID,
		fmt.Sprintf("You are in. The party for %q has a spot for you.", q.Title))
	return q, nil
}

// Decline removes a player's sign-up on the referee's decision.
func (s *Service) Decline(ctx context.Context, guildID, actorDiscordID int64, questID, playerID ids.ID) (*domain.Quest, error) {
	actor, err := s.actor(guildID, actorDiscordID, domain.RoleReferee)
	if err != nil {
		return nil, err
	}
	q, err := s.quest(ctx, guildID, questID)
	if err != nil {
		return nil, err
	}
	if err := hostedBy(q, actor); err != nil {
		return nil, err
	}
	err = s.adjudicate(ctx, q,
		func(ops remoteSignups) (*domain.Quest, error) {
			return ops.RemoveSignup(ctx, guildID, q.QuestID, playerID)
		},
		func(q *domain.Quest) error {
			return q.RemoveSignup(playerID)
		})
	if err != nil {
		return nil, err
	}

	audit.Record("signup.decline", "ok", actor.UserID.String(), guildID,
		fmt.Sprintf("%s declined from %s", playerID, q.QuestID))
	s.publishSignupEvent(bus.TopicSignupRemoved, q, playerID, ids.ID{}, "")
	s.syncBoard(ctx, q)
	s.notify(ctx, guildID, playerID,
		fmt.Sprintf("Your sign-up for %q was not selected this time.", q.Title))
	return q, nil
}

// CloseSignups stops further applications without starting the quest.
func (s *Service) CloseSignups(ctx context.Context, guildID, actorDiscordID int64, questID ids.ID) (*domain.Quest, error) {
	actor, err := s.actor(guildID, actorDiscordID, domain.RoleReferee)
	if err != nil {
		return nil, err
	}
	q, err := s.quest(ctx, guildID, questID)
	if err != nil {
		return nil, err
	}
	if err := hostedBy(q, actor); err != nil {
		return nil, err
	}
	if q.SignupsClosed {
		return q, nil
	}
	err = s.adjudicate(ctx, q,
		func(ops remoteSignups) (*domain.Quest, error) {
			return ops.CloseSignups(ctx, guildID, q.QuestID)
		},
		func(q *domain.Quest) error {
			q.CloseSignups()
			return nil
		})
	if err != nil {
		return nil, err
	}
	audit.Record("signup.close", "ok", actor.UserID.String(), guildID, q.QuestID.String())
	if s.bus != nil {
		s.bus.Publish(bus.TopicSignupsClosed, bus.SignupEvent{
			GuildID: guildID,
			QuestID: q.QuestID.String(),
		})
	}
	s.syncBoard(ctx, q)
	return q, nil
}

func (s *Service) publishSignupEvent(topic string, q *domain.Quest, userID, characterID ids.ID, status domain.SignupStatus) {
	if s.bus == nil {
		return
	}
	ev := bus.SignupEvent{
		GuildID: q.GuildID,
		QuestID: q.QuestID.String(),
		UserID:  userID.String(),
		Status:  string(status),
	}
	if characterID.Valid() {
		ev.CharacterID = characterID.String()
	}
	s.bus.Publish(topic, ev)
}
