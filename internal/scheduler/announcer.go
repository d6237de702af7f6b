// Package scheduler runs the background loops: the per-minute scan for
// deferred quest announcements and the cron-scheduled engagement digest.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/piyushsatti/nonagon/internal/domain"
)

// DueSource yields quests whose deferred announce instant has passed and
// which have not been published yet.
type DueSource interface {
	DueAnnouncements(ctx context.Context, now time.Time) ([]*domain.Quest, error)
}

// Publisher posts a due quest to its guild's quest board.
type Publisher interface {
	PublishScheduled(ctx context.Context, q *domain.Quest) error
}

// AnnouncerConfig holds the dependencies for the announcement scanner.
type AnnouncerConfig struct {
	Store    DueSource
	Quests   Publisher
	Logger   *slog.Logger
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

// Announcer periodically scans for due deferred announcements and publishes
// each one. A failure on one quest never blocks the rest of the batch; the
// quest stays due and is retried on the next tick.
type Announcer struct {
	store    DueSource
	quests   Publisher
	logger   *slog.Logger
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAnnouncer creates an Announcer with the given config.
func NewAnnouncer(cfg AnnouncerConfig) *Announcer {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{
		store:    cfg.Store,
		quests:   cfg.Quests,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the scan loop. It runs in a background goroutine and
// respects the provided context for shutdown.
func (a *Announcer) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go a.loop(ctx)
	a.logger.Info("announcement scanner started", "interval", a.interval)
}

// Stop cancels the scan loop and waits for it to exit.
func (a *Announcer) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.logger.Info("announcement scanner stopped")
}

func (a *Announcer) loop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	// Fire immediately on startup, then on each tick.
	a.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

// tick queries for due announcements and publishes each one.
func (a *Announcer) tick(ctx context.Context) {
	now := time.Now()
	due, err := a.store.DueAnnouncements(ctx, now)
	if err != nil {
		a.logger.Error("announce scan: failed to query due quests", "error", err)
		return
	}
	for _, q := range due {
		if err := a.quests.PublishScheduled(ctx, q); err != nil {
			a.logger.Error("announce scan: publish failed",
				"guild_id", q.GuildID,
				"quest_id", q.QuestID.String(),
				"error", err,
			)
			continue
		}
		a.logger.Info("announce scan: quest published",
			"guild_id", q.GuildID,
			"quest_id", q.QuestID.String(),
		)
	}
}
