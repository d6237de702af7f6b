package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/guildcache"
	"github.com/piyushsatti/nonagon/internal/settings"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

// MessageSender posts a plain text message to a channel.
type MessageSender interface {
	SendMessage(ctx context.Context, channelID int64, text string) error
}

// DigestConfig holds the dependencies for the engagement digest job.
type DigestConfig struct {
	Cache    *guildcache.Cache
	Settings *settings.Service
	Sender   MessageSender
	Logger   *slog.Logger
	Schedule string // cron expression
}

// Digest posts per-guild engagement roll-ups on a cron schedule. Guilds opt
// in through their settings document; guilds without a digest channel are
// skipped silently.
type Digest struct {
	cache    *guildcache.Cache
	settings *settings.Service
	sender   MessageSender
	logger   *slog.Logger
	schedule string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDigest creates the digest job. It returns an error when the schedule
// expression does not parse, so a bad config fails at startup rather than
// at the first firing.
func NewDigest(cfg DigestConfig) (*Digest, error) {
	if _, err := cronParser.Parse(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("parse digest schedule %q: %w", cfg.Schedule, err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Digest{
		cache:    cfg.Cache,
		settings: cfg.Settings,
		sender:   cfg.Sender,
		logger:   logger,
		schedule: cfg.Schedule,
	}, nil
}

// Start begins the digest loop.
func (d *Digest) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.loop(ctx)
	d.logger.Info("engagement digest started", "schedule", d.schedule)
}

// Stop cancels the digest loop and waits for it to exit.
func (d *Digest) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
	d.logger.Info("engagement digest stopped")
}

func (d *Digest) loop(ctx context.Context) {
	defer d.wg.Done()
	for {
		next, err := NextRunTime(d.schedule, time.Now())
		if err != nil {
			d.logger.Error("digest: schedule no longer parses", "error", err)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			d.RunOnce(ctx)
		}
	}
}

// RunOnce posts one digest round across all cached guilds.
func (d *Digest) RunOnce(ctx context.Context) {
	for _, guildID := range d.cache.GuildIDs() {
		cfg, err := d.settings.Get(ctx, guildID)
		if err != nil {
			d.logger.Error("digest: settings read failed", "guild_id", guildID, "error", err)
			continue
		}
		if !cfg.DigestEnabled || cfg.DigestChannelID == 0 {
			continue
		}
		text := d.compose(guildID)
		if text == "" {
			continue
		}
		if err := d.sender.SendMessage(ctx, cfg.DigestChannelID, text); err != nil {
			d.logger.Error("digest: send failed", "guild_id", guildID, "error", err)
			continue
		}
		d.logger.Info("digest posted", "guild_id", guildID)
	}
}

// compose renders the guild's engagement roll-up: totals plus the five most
// active members by message count.
func (d *Digest) compose(guildID int64) string {
	users := d.cache.Users(guildID)
	if len(users) == 0 {
		return ""
	}

	var totals domain.Engagement
	for _, u := range users {
		totals.MessagesSent += u.Engagement.MessagesSent
		totals.ReactionsGiven += u.Engagement.ReactionsGiven
		totals.ReactionsReceived += u.Engagement.ReactionsReceived
		totals.VoiceSeconds += u.Engagement.VoiceSeconds
	}

	sort.Slice(users, func(i, j int) bool {
		return users[i].Engagement.MessagesSent > users[j].Engagement.MessagesSent
	})

	text := fmt.Sprintf(
		"Engagement digest\nMembers: %d\nMessages: %d\nReactions: %d given / %d received\nVoice: %s\n",
		len(users),
		totals.MessagesSent,
		totals.ReactionsGiven,
		totals.ReactionsReceived,
		(time.Duration(totals.VoiceSeconds) * time.Second).String(),
	)
	top := users
	if len(top) > 5 {
		top = top[:5]
	}
	text += "Most active:\n"
	for i, u := range top {
		text += fmt.Sprintf("%d. %s with %d messages\n", i+1, u.UserID, u.Engagement.MessagesSent)
	}
	return text
}
