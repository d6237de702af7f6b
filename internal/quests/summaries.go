package quests

import (
	"context"

	"github.com/piyushsatti/nonagon/internal/audit"
	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/ids"
)

// SummaryInput carries the fields a member supplies for a write-up.
type SummaryInput struct {
	Kind        domain.SummaryKind
	QuestID     ids.ID
	CharacterID ids.ID // player summaries only
	Title       string
	Content     string
}

// SubmitSummary records a post-session write-up and links it to the quest.
// Player summaries additionally require ownership of the named character.
func (s *Service) SubmitSummary(ctx context.Context, guildID, authorDiscordID int64, in SummaryInput) (*domain.Summary, error) {
	var role domain.Role
	switch in.Kind {
	case domain.SummaryKindPlayer:
		role = domain.RolePlayer
	case domain.SummaryKindReferee:
		role = domain.RoleReferee
	default:
		return nil, domain.Validationf("unknown summary kind %q", in.Kind)
	}
	author, err := s.actor(guildID, authorDiscordID, role)
	if err != nil {
		return nil, err
	}
	if in.Kind == domain.SummaryKindPlayer {
		if !author.OwnsCharacter(in.CharacterID) {
			return nil, domain.Unauthorizedf("character %s is not yours", in.CharacterID)
		}
	}
	q, err := s.quest(ctx, guildID, in.QuestID)
	if err != nil {
		return nil, err
	}

	sm := domain.NewSummary(guildID, in.Kind, author.UserID, s.now())
	sm.Title = in.Title
	sm.Content = in.Content
	qid := in.QuestID
	sm.QuestID = &qid
	if in.Kind == domain.SummaryKindPlayer {
		cid := in.CharacterID
		sm.CharacterID = &cid
	}
	if err := sm.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.UpsertSummary(ctx, sm); err != nil {
		return nil, err
	}
	s.cache.PutSummary(sm)

	q.LinkedSummaries = append(q.LinkedSummaries, sm.SummaryID)
	if err := s.save(ctx, q); err != nil {
		return nil, err
	}

	audit.Record("summary.submit", "ok", author.UserID.String(), guildID, sm.SummaryID.String())
	return sm, nil
}
