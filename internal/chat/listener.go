package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/piyushsatti/nonagon/internal/characters"
	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/guildcache"
	"github.com/piyushsatti/nonagon/internal/ids"
	"github.com/piyushsatti/nonagon/internal/quests"
	"github.com/piyushsatti/nonagon/internal/settings"
	"github.com/piyushsatti/nonagon/internal/wizard"
)

// VoiceStore persists voice session intervals.
type VoiceStore interface {
	OpenVoiceSession(ctx context.Context, guildID, discordID, channelID int64, at time.Time) error
	CloseVoiceSession(ctx context.Context, guildID, discordID int64, at time.Time) (int64, error)
}

// ListenerConfig holds the listener's dependencies.
type ListenerConfig struct {
	Cache           *guildcache.Cache
	Voice           VoiceStore
	Wizards         *wizard.Manager
	Quests          *quests.Service
	Characters      *characters.Service
	Sender          Sender
	Settings        *settings.Service
	Logger          *slog.Logger
	QuestWizard     wizard.Definition
	CharacterWizard wizard.Definition
}

// Listener turns inbound platform events into cache mutations and service
// calls. Every handler is fail-safe: an error is reported to the member and
// logged, never propagated.
type Listener struct {
	cache      *guildcache.Cache
	voice      VoiceStore
	wizards    *wizard.Manager
	quests     *quests.Service
	characters *characters.Service
	sender     Sender
	settings   *settings.Service
	logger     *slog.Logger

	questWizard     wizard.Definition
	characterWizard wizard.Definition
}

func NewListener(cfg ListenerConfig) *Listener {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		cache:           cfg.Cache,
		voice:           cfg.Voice,
		wizards:         cfg.Wizards,
		quests:          cfg.Quests,
		characters:      cfg.Characters,
		sender:          cfg.Sender,
		settings:        cfg.Settings,
		logger:          logger,
		questWizard:     cfg.QuestWizard,
		characterWizard: cfg.CharacterWizard,
	}
}

// Handle dispatches one inbound event.
func (l *Listener) Handle(ctx context.Context, ev Event) {
	switch ev.Kind {
	case EventMessage:
		l.cache.RecordMessage(ev.GuildID, ev.AuthorID, ev.At)
		l.mirrorServerTag(ctx, ev)
		if strings.HasPrefix(ev.Text, "/") {
			l.handleCommand(ctx, ev)
		}
	case EventDirectMessage:
		if l.wizards.HandleReply(ev.AuthorID, ev.Text) {
			return
		}
	case EventReaction:
		l.cache.RecordReaction(ev.GuildID, ev.AuthorID, ev.TargetID, ev.At)
	case EventCallback:
		l.handleCallback(ctx, ev)
	case EventVoiceJoin:
		if err := l.voice.OpenVoiceSession(ctx, ev.GuildID, ev.AuthorID, ev.ChannelID, ev.At); err != nil {
			l.logger.Warn("voice session open failed", "guild_id", ev.GuildID, "error", err)
		}
	case EventVoiceLeave:
		seconds, err := l.voice.CloseVoiceSession(ctx, ev.GuildID, ev.AuthorID, ev.At)
		if err != nil {
			l.logger.Warn("voice session close failed", "guild_id", ev.GuildID, "error", err)
			return
		}
		l.cache.AddVoiceSeconds(ev.GuildID, ev.AuthorID, seconds, ev.At)
	case EventMemberJoin:
		l.cache.EnsureUser(ev.GuildID, ev.AuthorID, ev.At)
	case EventGuildRemove:
		l.cache.RemoveGuild(ev.GuildID)
		l.logger.Info("guild removed from working set", "guild_id", ev.GuildID)
	}
}

// mirrorServerTag syncs the member's server-tag flag from their display name
// on every guild message. Skipped when the guild has no tag configured or the
// adapter did not carry a display name.
func (l *Listener) mirrorServerTag(ctx context.Context, ev Event) {
	if l.settings == nil || ev.AuthorName == "" {
		return
	}
	st, err := l.settings.Get(ctx, ev.GuildID)
	if err != nil || st.ServerTag == "" {
		return
	}
	l.cache.SetServerTag(ev.GuildID, ev.AuthorID, strings.Contains(ev.AuthorName, st.ServerTag), ev.At)
}

// say replies in the channel the command came from, best effort.
func (l *Listener) say(ctx context.Context, channelID int64, text string) {
	if err := l.sender.SendMessage(ctx, channelID, text); err != nil {
		l.logger.Warn("reply failed", "channel_id", channelID, "error", err)
	}
}

// handleCommand parses and runs a slash command from a guild channel.
func (l *Listener) handleCommand(ctx context.Context, ev Event) {
	fields := strings.Fields(ev.Text)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	var err error
	switch cmd {
	case "/quest":
		_, err = l.wizards.Open(ctx, l.questWizard, ev.GuildID, ev.AuthorID)
		if err == nil {
			l.say(ctx, ev.ChannelID, "Check your DMs; the quest form is waiting.")
			return
		}
	case "/character":
		_, err = l.wizards.Open(ctx, l.characterWizard, ev.GuildID, ev.AuthorID)
		if err == nil {
			l.say(ctx, ev.ChannelID, "Check your DMs; the character form is waiting.")
			return
		}
	case "/publish":
		err = l.questCommand(ctx, ev, args, l.quests.Publish, "Quest published.")
	case "/start":
		err = l.questCommand(ctx, ev, args, l.quests.Start, "Quest started. Good luck out there.")
	case "/complete":
		err = l.questCommand(ctx, ev, args, l.quests.Complete, "Quest complete.")
	case "/cancel":
		err = l.questCommand(ctx, ev, args, l.quests.Cancel, "Quest cancelled.")
	case "/nudge":
		err = l.questCommand(ctx, ev, args, l.quests.Nudge, "Bumped.")
	case "/close":
		err = l.questCommand(ctx, ev, args, l.quests.CloseSignups, "Sign-ups closed.")
	case "/withdraw":
		err = l.questCommand(ctx, ev, args, l.quests.Withdraw, "Sign-up withdrawn.")
	case "/retire":
		err = l.characterCommand(ctx, ev, args, l.characters.Retire, "Character retired.")
	case "/reactivate":
		err = l.characterCommand(ctx, ev, args, l.characters.Reactivate, "Character reactivated.")
	case "/schedule":
		err = l.scheduleCommand(ctx, ev, args)
	case "/signup":
		err = l.signupCommand(ctx, ev, args)
	case "/dms":
		err = l.dmsCommand(ctx, ev, args)
	case "/summary":
		err = l.summaryCommand(ctx, ev, args)
	case "/panel":
		err = l.panelCommand(ctx, ev, args)
	default:
		return
	}
	if err != nil {
		l.say(ctx, ev.ChannelID, domain.UserMessage(err))
	}
}

// questCommand runs a single-quest-argument service call.
func (l *Listener) questCommand(ctx context.Context, ev Event, args []string,
	op func(context.Context, int64, int64, ids.ID) (*domain.Quest, error), ok string) error {
	if len(args) != 1 {
		return domain.Validationf("usage: %s <quest id>", strings.Fields(ev.Text)[0])
	}
	questID, err := ids.Parse(args[0])
	if err != nil {
		return domain.Validationf("%q is not a quest id", args[0])
	}
	if _, err := op(ctx, ev.GuildID, ev.AuthorID, questID); err != nil {
		return err
	}
	l.say(ctx, ev.ChannelID, ok)
	return nil
}

// characterCommand runs a single-character-argument service call.
func (l *Listener) characterCommand(ctx context.Context, ev Event, args []string,
	op func(context.Context, int64, int64, ids.ID) (*domain.Character, error), ok string) error {
	if len(args) != 1 {
		return domain.Validationf("usage: %s <character id>", strings.Fields(ev.Text)[0])
	}
	charID, err := ids.Parse(args[0])
	if err != nil {
		return domain.Validationf("%q is not a character id", args[0])
	}
	if _, err := op(ctx, ev.GuildID, ev.AuthorID, charID); err != nil {
		return err
	}
	l.say(ctx, ev.ChannelID, ok)
	return nil
}

func (l *Listener) scheduleCommand(ctx context.Context, ev Event, args []string) error {
	if len(args) != 2 {
		return domain.Validationf("usage: /schedule <quest id> <unix seconds>")
	}
	questID, err := ids.Parse(args[0])
	if err != nil {
		return domain.Validationf("%q is not a quest id", args[0])
	}
	epoch, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return domain.Validationf("%q is not a unix timestamp", args[1])
	}
	if _, err := l.quests.ScheduleAnnounce(ctx, ev.GuildID, ev.AuthorID, questID, time.Unix(epoch, 0)); err != nil {
		return err
	}
	l.say(ctx, ev.ChannelID, "Scheduled.")
	return nil
}

func (l *Listener) signupCommand(ctx context.Context, ev Event, args []string) error {
	if len(args) != 2 {
		return domain.Validationf("usage: /signup <quest id> <character id>")
	}
	questID, err := ids.Parse(args[0])
	if err != nil {
		return domain.Validationf("%q is not a quest id", args[0])
	}
	charID, err := ids.Parse(args[1])
	if err != nil {
		return domain.Validationf("%q is not a character id", args[1])
	}
	if _, err := l.quests.Apply(ctx, ev.GuildID, ev.AuthorID, questID, charID); err != nil {
		return err
	}
	l.say(ctx, ev.ChannelID, "Sign-up received.")
	return nil
}

func (l *Listener) panelCommand(ctx context.Context, ev Event, args []string) error {
	if len(args) != 1 {
		return domain.Validationf("usage: /panel <quest id>")
	}
	questID, err := ids.Parse(args[0])
	if err != nil {
		return domain.Validationf("%q is not a quest id", args[0])
	}
	q, ok := l.cache.Quest(ev.GuildID, questID)
	if !ok {
		return domain.NotFoundf("quest %s not found", questID)
	}
	if err := l.sender.SendAdjudicationPanel(ctx, ev.AuthorID, q); err != nil {
		return fmt.Errorf("send panel: %w", err)
	}
	return nil
}

// dmsCommand lets a member toggle quest notice and reminder DMs.
func (l *Listener) dmsCommand(ctx context.Context, ev Event, args []string) error {
	if len(args) != 1 {
		return domain.Validationf("usage: /dms on|off")
	}
	var optIn bool
	switch strings.ToLower(args[0]) {
	case "on":
		optIn = true
	case "off":
		optIn = false
	default:
		return domain.Validationf("usage: /dms on|off")
	}
	u, _ := l.cache.EnsureUser(ev.GuildID, ev.AuthorID, ev.At)
	l.cache.MutateUser(ev.GuildID, u.UserID, func(u *domain.User) bool {
		if u.DMOptIn == optIn {
			return false
		}
		u.DMOptIn = optIn
		return true
	})
	if optIn {
		l.say(ctx, ev.ChannelID, "Quest DMs are on.")
	} else {
		l.say(ctx, ev.ChannelID, "Quest DMs are off.")
	}
	return nil
}

// summaryCommand records a post-session write-up. With a character id the
// write-up is a player summary; without one it is the referee's.
func (l *Listener) summaryCommand(ctx context.Context, ev Event, args []string) error {
	if len(args) < 2 {
		return domain.Validationf("usage: /summary <quest id> [character id] <text>")
	}
	questID, err := ids.ParseKind(args[0], ids.KindQuest)
	if err != nil {
		return domain.Validationf("%q is not a quest id", args[0])
	}
	in := quests.SummaryInput{Kind: domain.SummaryKindReferee, QuestID: questID}
	rest := args[1:]
	if charID, err := ids.ParseKind(args[1], ids.KindCharacter); err == nil {
		in.Kind = domain.SummaryKindPlayer
		in.CharacterID = charID
		rest = args[2:]
	}
	if len(rest) == 0 {
		return domain.Validationf("usage: /summary <quest id> [character id] <text>")
	}
	in.Content = strings.Join(rest, " ")
	if _, err := l.quests.SubmitSummary(ctx, ev.GuildID, ev.AuthorID, in); err != nil {
		return err
	}
	l.say(ctx, ev.ChannelID, "Summary recorded. Thanks for writing it up.")
	return nil
}

// Callback payload formats:
//
//	join:<questID>
//	adj:<questID>:<userID>:accept
//	adj:<questID>:<userID>:decline
//	adj:<questID>:close
func (l *Listener) handleCallback(ctx context.Context, ev Event) {
	parts := strings.Split(ev.Data, ":")
	switch {
	case len(parts) == 2 && parts[0] == "join":
		l.handleJoin(ctx, ev, parts[1])
	case len(parts) >= 3 && parts[0] == "adj":
		l.handleAdjudication(ctx, ev, parts[1:])
	}
}

// handleJoin is the board's one-tap sign-up: it uses the player's only
// character, or asks them to name one.
func (l *Listener) handleJoin(ctx context.Context, ev Event, rawQuest string) {
	questID, err := ids.Parse(rawQuest)
	if err != nil {
		return
	}
	u, ok := l.cache.UserByDiscordID(ev.GuildID, ev.AuthorID)
	if !ok || u.Player == nil || len(u.Player.CharacterIDs) == 0 {
		l.dm(ctx, ev.AuthorID, "Register a character first; send /character in the guild.")
		return
	}
	if len(u.Player.CharacterIDs) > 1 {
		l.dm(ctx, ev.AuthorID, "You have several characters; sign up with /signup "+rawQuest+" <character id>.")
		return
	}
	if _, err := l.quests.Apply(ctx, ev.GuildID, ev.AuthorID, questID, u.Player.CharacterIDs[0]); err != nil {
		l.dm(ctx, ev.AuthorID, domain.UserMessage(err))
		return
	}
	l.dm(ctx, ev.AuthorID, "Sign-up received.")
}

func (l *Listener) handleAdjudication(ctx context.Context, ev Event, parts []string) {
	questID, err := ids.Parse(parts[0])
	if err != nil {
		return
	}

	if len(parts) == 2 && parts[1] == "close" {
		if _, err := l.quests.CloseSignups(ctx, ev.GuildID, ev.AuthorID, questID); err != nil {
			l.dm(ctx, ev.AuthorID, domain.UserMessage(err))
		}
		return
	}
	if len(parts) != 3 {
		return
	}
	playerID, err := ids.Parse(parts[1])
	if err != nil {
		return
	}

	var q *domain.Quest
	switch parts[2] {
	case "accept":
		q, err = l.quests.Accept(ctx, ev.GuildID, ev.AuthorID, questID, playerID)
	case "decline":
		q, err = l.quests.Decline(ctx, ev.GuildID, ev.AuthorID, questID, playerID)
	default:
		return
	}
	if err != nil {
		l.dm(ctx, ev.AuthorID, domain.UserMessage(err))
		return
	}
	// Refresh the referee's panel with the remaining pending sign-ups.
	if err := l.sender.SendAdjudicationPanel(ctx, ev.AuthorID, q); err != nil {
		l.logger.Warn("panel refresh failed", "quest_id", q.QuestID.String(), "error", err)
	}
}

func (l *Listener) dm(ctx context.Context, discordID int64, text string) {
	if _, err := l.sender.SendDM(ctx, discordID, text); err != nil {
		l.logger.Warn("dm failed", "discord_id", discordID, "error", err)
	}
}
