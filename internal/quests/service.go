// Package quests implements the quest lifecycle: drafting, publication to
// the quest board, sign-up adjudication, play-state transitions and the
// post-session summary flow. Every mutating operation gates on the actor's
// role and ownership before touching state.
package quests

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/piyushsatti/nonagon/internal/audit"
	"github.com/piyushsatti/nonagon/internal/bus"
	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/guildcache"
	"github.com/piyushsatti/nonagon/internal/ids"
	"github.com/piyushsatti/nonagon/internal/otel"
	"github.com/piyushsatti/nonagon/internal/settings"
)

// Board posts and maintains quest-board messages on the chat platform.
type Board interface {
	PostQuest(ctx context.Context, channelID int64, q *domain.Quest) (domain.MessageRef, error)
	EditQuest(ctx context.Context, ref domain.MessageRef, q *domain.Quest) error
	PostNudge(ctx context.Context, ref domain.MessageRef, q *domain.Quest) error
}

// DMer delivers best-effort direct messages. A delivery failure never fails
// the operation that triggered it.
type DMer interface {
	SendDM(ctx context.Context, discordID int64, text string) (domain.MessageRef, error)
}

// QuestStore is the persistence slice the service writes through. The
// production wiring injects the repository composite, which handles the
// remote-first write path and its local fallback.
type QuestStore interface {
	UpsertQuest(ctx context.Context, q *domain.Quest) error
	GetQuest(ctx context.Context, guildID int64, id ids.ID) (*domain.Quest, error)
	UpsertSummary(ctx context.Context, sm *domain.Summary) error
}

// Service coordinates quest state across the cache, the store and the chat
// platform.
type Service struct {
	cache    *guildcache.Cache
	store    QuestStore
	board    Board
	dm       DMer
	settings *settings.Service
	bus      *bus.Bus
	logger   *slog.Logger
	metrics  *otel.Metrics
	now      func() time.Time
}

func NewService(cache *guildcache.Cache, store QuestStore, board Board, dm DMer, st *settings.Service, b *bus.Bus, logger *slog.Logger, metrics *otel.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cache:    cache,
		store:    store,
		board:    board,
		dm:       dm,
		settings: st,
		bus:      b,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// save validates and writes the quest through, then refreshes the cache.
func (s *Service) save(ctx context.Context, q *domain.Quest) error {
	if err := q.Validate(); err != nil {
		return err
	}
	if err := s.store.UpsertQuest(ctx, q); err != nil {
		return err
	}
	s.cache.PutQuest(q)
	return nil
}

// actor resolves the acting member and verifies the required role.
func (s *Service) actor(guildID, discordID int64, role domain.Role) (*domain.User, error) {
	u, ok := s.cache.UserByDiscordID(guildID, discordID)
	if !ok {
		return nil, domain.NotFoundf("member %d is not known in guild %d", discordID, guildID)
	}
	if !u.HasRole(role) {
		return nil, domain.Unauthorizedf("this action requires the %s role", role)
	}
	return u, nil
}

// quest loads the quest from cache, falling back to the store.
func (s *Service) quest(ctx context.Context, guildID int64, questID ids.ID) (*domain.Quest, error) {
	if q, ok := s.cache.Quest(guildID, questID); ok {
		return q, nil
	}
	q, err := s.store.GetQuest(ctx, guildID, questID)
	if err != nil {
		return nil, err
	}
	s.cache.PutQuest(q)
	return q, nil
}

// hostedBy verifies the actor owns the quest.
func hostedBy(q *domain.Quest, u *domain.User) error {
	if q.RefereeID != u.UserID {
		return domain.Unauthorizedf("only the hosting referee can manage quest %s", q.QuestID)
	}
	return nil
}

// hostOrStaff admits the hosting referee or a member holding one of the
// guild's configured staff roles. Publish-now and cancel accept either.
func (s *Service) hostOrStaff(ctx context.Context, q *domain.Quest, u *domain.User) error {
	if q.RefereeID == u.UserID && u.HasRole(domain.RoleReferee) {
		return nil
	}
	cfg, err := s.settings.Get(ctx, q.GuildID)
	if err == nil && u.HasAnyPlatformRole(cfg.StaffRoleIDs) {
		return nil
	}
	return domain.Unauthorizedf("only the hosting referee or guild staff can manage quest %s", q.QuestID)
}

// DraftInput carries the fields a referee supplies for a new quest.
type DraftInput struct {
	Title       string
	Description string
	Tags        []string
	ImageURL    string
	RawMarkdown string
	StartingAt  time.Time
	Duration    time.Duration
}

// CreateDraft builds and persists a DRAFT quest hosted by the acting referee.
func (s *Service) CreateDraft(ctx context.Context, guildID, refereeDiscordID int64, in DraftInput) (*domain.Quest, error) {
	ref, err := s.actor(guildID, refereeDiscordID, domain.RoleReferee)
	if err != nil {
		return nil, err
	}
	if in.Title == "" {
		return nil, domain.Validationf("a quest needs a title")
	}

	q := domain.NewQuest(guildID, ref.UserID, s.now())
	q.Title = in.Title
	q.Description = in.Description
	q.Tags = in.Tags
	q.ImageURL = in.ImageURL
	q.RawMarkdown = in.RawMarkdown
	q.StartingAt = in.StartingAt.UTC()
	q.Duration = domain.Seconds(in.Duration)

	if err := s.save(ctx, q); err != nil {
		return nil, err
	}
	audit.Record("quest.draft", "ok", ref.UserID.String(), guildID, q.QuestID.String())
	return q, nil
}

// Publish posts the quest to the guild's quest board and marks it ANNOUNCED.
func (s *Service) Publish(ctx context.Context, guildID, actorDiscordID int64, questID ids.ID) (*domain.Quest, error) {
	actor, err := s.actor(guildID, actorDiscordID, domain.RoleMember)
	if err != nil {
		return nil, err
	}
	q, err := s.quest(ctx, guildID, questID)
	if err != nil {
		return nil, err
	}
	if err := s.hostOrStaff(ctx, q, actor); err != nil {
		return nil, err
	}

	cfg, err := s.settings.Get(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if cfg.QuestBoardChannelID == 0 {
		return nil, domain.Validationf("this guild has no quest board channel configured")
	}

	ref, err := s.board.PostQuest(ctx, cfg.QuestBoardChannelID, q)
	if err != nil {
		return nil, fmt.Errorf("post quest board message: %w", err)
	}
	if err := q.MarkAnnounced(ref, s.now()); err != nil {
		return nil, err
	}
	if err := s.save(ctx, q); err != nil {
		return nil, err
	}

	audit.Record("quest.publish", "ok", actor.UserID.String(), guildID, q.QuestID.String())
	if s.metrics != nil {
		s.metrics.QuestsAnnounced.Add(ctx, 1)
	}
	s.publishQuestEvent(bus.TopicQuestAnnounced, q)
	return q, nil
}

// ScheduleAnnounce defers publication; the announcement scheduler picks the
// quest up once the instant passes.
func (s *Service) ScheduleAnnounce(ctx context.Context, guildID, actorDiscordID int64, questID ids.ID, at time.Time) (*domain.Quest, error) {
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
	if err := q.ScheduleAnnounce(at, s.now()); err != nil {
		return nil, err
	}
	if err := s.save(ctx, q); err != nil {
		return nil, err
	}
	audit.Record("quest.schedule", "ok", actor.UserID.String(), guildID, q.QuestID.String())
	return q, nil
}

// PublishScheduled announces a quest on behalf of the scheduler, without an
// acting member. The hosting referee is credited in the audit trail.
func (s *Service) PublishScheduled(ctx context.Context, q *domain.Quest) error {
	cfg, err := s.settings.Get(ctx, q.GuildID)
	if err != nil {
		return err
	}
	if cfg.QuestBoardChannelID == 0 {
		return domain.Validationf("guild %d has no quest board channel configured", q.GuildID)
	}
	ref, err := s.board.PostQuest(ctx, cfg.QuestBoardChannelID, q)
	if err != nil {
		return fmt.Errorf("post quest board message: %w", err)
	}
	if err := q.MarkAnnounced(ref, s.now()); err != nil {
		return err
	}
	if err := s.save(ctx, q); err != nil {
		return err
	}
	audit.Record("quest.publish", "ok", "scheduler", q.GuildID, q.QuestID.String())
	if s.metrics != nil {
		s.metrics.QuestsAnnounced.Add(ctx, 1)
	}
	s.publishQuestEvent(bus.TopicQuestAnnounced, q)
	return nil
}

// Start moves the quest into play and records the hosting on the referee's
// profile.
func (s *Service) Start(ctx context.Context, guildID, actorDiscordID int64, questID ids.ID) (*domain.Quest, error) {
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
	if err := q.Start(s.now()); err != nil {
		return nil, err
	}
	q.CloseSignups()
	if err := s.save(ctx, q); err != nil {
		return nil, err
	}

	s.cache.MutateUser(guildID, actor.UserID, func(u *domain.User) bool {
		u.EnableReferee()
		u.Referee.QuestsHosted = append(u.Referee.QuestsHosted, q.QuestID)
		return true
	})
	s.creditParty(q)

	audit.Record("quest.start", "ok", actor.UserID.String(), guildID, q.QuestID.String())
	s.publishQuestEvent(bus.TopicQuestStarted, q)
	return q, nil
}

// creditParty records the played quest on each selected player's profile and
// updates the cross-party collaboration stats.
func (s *Service) creditParty(q *domain.Quest) {
	hours := q.Duration.Duration().Hours()
	selected := q.SelectedSignups()
	for _, su := range selected {
		su := su
		s.cache.MutateUser(q.GuildID, su.UserID, func(u *domain.User) bool {
			u.EnablePlayer()
			u.Player.QuestsPlayed = append(u.Player.QuestsPlayed, q.QuestID)
			if u.Player.CollabStats == nil {
				u.Player.CollabStats = make(map[string]domain.CollabStat)
			}
			for _, other := range selected {
				if other.UserID == su.UserID {
					continue
				}
				key := other.CharacterID.String()
				st := u.Player.CollabStats[key]
				st.Count++
				st.Hours += hours
				u.Player.CollabStats[key] = st
			}
			return true
		})
		s.cache.MutateUser(q.GuildID, q.RefereeID, func(u *domain.User) bool {
			u.EnableReferee()
			if u.Referee.CollabStats == nil {
				u.Referee.CollabStats = make(map[string]domain.CollabStat)
			}
			st := u.Referee.CollabStats[su.UserID.String()]
			st.Count++
			st.Hours += hours
			u.Referee.CollabStats[su.UserID.String()] = st
			return true
		})
	}
}

// Complete ends the quest and nudges the party toward summaries.
func (s *Service) Complete(ctx context.Context, guildID, actorDiscordID int64, questID ids.ID) (*domain.Quest, error) {
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
	if err := q.Complete(s.now()); err != nil {
		return nil, err
	}
	if err := s.save(ctx, q); err != nil {
		return nil, err
	}

	audit.Record("quest.complete", "ok", actor.UserID.String(), guildID, q.QuestID.String())
	s.publishQuestEvent(bus.TopicQuestCompleted, q)
	s.remindSummaries(ctx, q)
	return q, nil
}

// Cancel aborts the quest and notifies applicants.
func (s *Service) Cancel(ctx context.Context, guildID, actorDiscordID int64, questID ids.ID) (*domain.Quest, error) {
	actor, err := s.actor(guildID, actorDiscordID, domain.RoleMember)
	if err != nil {
		return nil, err
	}
	q, err := s.quest(ctx, guildID, questID)
	if err != nil {
		return nil, err
	}
	if err := s.hostOrStaff(ctx, q, actor); err != nil {
		return nil, err
	}
	if err := q.Cancel(s.now()); err != nil {
		return nil, err
	}
	if err := s.save(ctx, q); err != nil {
		return nil, err
	}

	audit.Record("quest.cancel", "ok", actor.UserID.String(), guildID, q.QuestID.String())
	s.publishQuestEvent(bus.TopicQuestCancelled, q)
	for _, su := range q.Signups {
		s.notify(ctx, guildID, su.UserID, fmt.Sprintf("Quest %q has been cancelled.", q.Title))
	}
	return q, nil
}

// Nudge bumps the quest's board visibility, subject to the cooldown.
func (s *Service) Nudge(ctx context.Context, guildID, actorDiscordID int64, questID ids.ID) (*domain.Quest, error) {
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
	if err := q.Nudge(s.now()); err != nil {
		audit.Record("quest.nudge", "rejected", actor.UserID.String(), guildID, domain.UserMessage(err))
		return nil, err
	}
	if err := s.board.PostNudge(ctx, q.Announce, q); err != nil {
		return nil, fmt.Errorf("post nudge: %w", err)
	}
	if err := s.save(ctx, q); err != nil {
		return nil, err
	}
	audit.Record("quest.nudge", "ok", actor.UserID.String(), guildID, q.QuestID.String())
	s.publishQuestEvent(bus.TopicQuestNudged, q)
	return q, nil
}

// remindSummaries DMs the referee and each selected player once a quest
// completes. Deliveries are best effort.
func (s *Service) remindSummaries(ctx context.Context, q *domain.Quest) {
	s.notify(ctx, q.GuildID, q.RefereeID,
		fmt.Sprintf("Quest %q is complete. Post your session notes when you have a moment.", q.Title))
	for _, su := range q.SelectedSignups() {
		s.notify(ctx, q.GuildID, su.UserID,
			fmt.Sprintf("Quest %q is complete. Share a summary of how it went for your character.", q.Title))
	}
}

// syncBoard re-renders the board announcement so the public roster tracks
// the quest document. Best effort; unannounced quests have no message yet.
func (s *Service) syncBoard(ctx context.Context, q *domain.Quest) {
	if s.board == nil || q.Announce.IsZero() {
		return
	}
	if err := s.board.EditQuest(ctx, q.Announce, q); err != nil {
		s.logger.Warn("board re-sync failed",
			"guild_id", q.GuildID, "quest_id", q.QuestID.String(), "error", err)
	}
}

// notify resolves the member's chat identity and opt-in, then DMs them. A
// Forbidden delivery counts as the member opting out.
func (s *Service) notify(ctx context.Context, guildID int64, userID ids.ID, text string) {
	if s.dm == nil {
		return
	}
	u, ok := s.cache.User(guildID, userID)
	if !ok || u.DiscordID == 0 || !u.DMOptIn {
		return
	}
	if _, err := s.dm.SendDM(ctx, u.DiscordID, text); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			s.cache.MutateUser(guildID, userID, func(u *domain.User) bool {
				if !u.DMOptIn {
					return false
				}
				u.DMOptIn = false
				return true
			})
			return
		}
		s.logger.Warn("dm delivery failed", "guild_id", guildID, "user_id", userID.String(), "error", err)
	}
}

func (s *Service) publishQuestEvent(topic string, q *domain.Quest) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(topic, bus.QuestEvent{
		GuildID:   q.GuildID,
		QuestID:   q.QuestID.String(),
		RefereeID: q.RefereeID.String(),
		Status:    string(q.Status),
	})
}
