package repository

import (
	"context"
	"log/slog"

	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/ids"
)

// Fallback is the adapter-path composite. The external quest service is
// authoritative: writes go there first and successful writes are read back
// so the canonical server-side document is what lands in the local mirror.
// A transient remote failure falls back to the local store so no mutation
// is ever lost; deterministic rejections (4xx) surface to the caller
// verbatim.
type Fallback struct {
	remote Remote
	local  Store
	logger *slog.Logger
}

func NewFallback(remote Remote, local Store, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{remote: remote, local: local, logger: logger}
}

var _ Store = (*Fallback)(nil)

// --- users ---

func (f *Fallback) UpsertUser(ctx context.Context, u *domain.User) error {
	err := f.remote.UpsertUser(ctx, u)
	if err == nil {
		return f.mirror(ctx, "user", func() error { return f.local.UpsertUser(ctx, u) })
	}
	if !domain.IsTransient(err) {
		return err
	}
	f.fellBack("user write", err)
	return f.local.UpsertUser(ctx, u)
}

func (f *Fallback) GetUser(ctx context.Context, guildID int64, id ids.ID) (*domain.User, error) {
	u, err := f.remote.GetUser(ctx, guildID, id)
	if err == nil {
		return u, nil
	}
	if !domain.IsTransient(err) {
		return nil, err
	}
	f.fellBack("user read", err)
	return f.local.GetUser(ctx, guildID, id)
}

func (f *Fallback) ListUsers(ctx context.Context, guildID int64) ([]*domain.User, error) {
	// Bulk member reads only happen at startup; they come from the local
	// mirror to keep cold starts independent of remote availability.
	return f.local.ListUsers(ctx, guildID)
}

// --- quests ---

func (f *Fallback) UpsertQuest(ctx context.Context, q *domain.Quest) error {
	err := f.remote.UpsertQuest(ctx, q)
	if err == nil {
		if canonical, rbErr := f.remote.GetQuest(ctx, q.GuildID, q.QuestID); rbErr == nil {
			*q = *canonical
		}
		return f.mirror(ctx, "quest", func() error { return f.local.UpsertQuest(ctx, q) })
	}
	if !domain.IsTransient(err) {
		return err
	}
	f.fellBack("quest write", err)
	return f.local.UpsertQuest(ctx, q)
}

func (f *Fallback) GetQuest(ctx context.Context, guildID int64, id ids.ID) (*domain.Quest, error) {
	q, err := f.remote.GetQuest(ctx, guildID, id)
	if err == nil {
		return q, nil
	}
	if !domain.IsTransient(err) {
		return nil, err
	}
	f.fellBack("quest read", err)
	return f.local.GetQuest(ctx, guildID, id)
}

func (f *Fallback) ListQuestsByStatus(ctx context.Context, guildID int64, status domain.QuestStatus) ([]*domain.Quest, error) {
	quests, err := f.remote.ListQuests(ctx, guildID, status)
	if err == nil {
		return quests, nil
	}
	if !domain.IsTransient(err) {
		return nil, err
	}
	f.fellBack("quest list", err)
	return f.local.ListQuestsByStatus(ctx, guildID, status)
}

// --- signup adjudication ---

// signupOp forwards one per-operation signup mutation to the remote and
// mirrors the returned canonical document. Every error, transient included,
// surfaces to the caller: the quest service decides whether to retry the
// operation against its own local copy.
func (f *Fallback) signupOp(ctx context.Context, op func() (*domain.Quest, error)) (*domain.Quest, error) {
	q, err := op()
	if err != nil {
		return nil, err
	}
	_ = f.mirror(ctx, "quest", func() error { return f.local.UpsertQuest(ctx, q) })
	return q, nil
}

func (f *Fallback) AddSignup(ctx context.Context, guildID int64, questID, userID, characterID ids.ID) (*domain.Quest, error) {
	return f.signupOp(ctx, func() (*domain.Quest, error) {
		return f.remote.AddSignup(ctx, guildID, questID, userID, characterID)
	})
}

func (f *Fallback) RemoveSignup(ctx context.Context, guildID int64, questID, userID ids.ID) (*domain.Quest, error) {
	return f.signupOp(ctx, func() (*domain.Quest, error) {
		return f.remote.RemoveSignup(ctx, guildID, questID, userID)
	})
}

func (f *Fallback) SelectSignup(ctx context.Context, guildID int64, questID, userID ids.ID) (*domain.Quest, error) {
	return f.signupOp(ctx, func() (*domain.Quest, error) {
		return f.remote.SelectSignup(ctx, guildID, questID, userID)
	})
}

func (f *Fallback) CloseSignups(ctx context.Context, guildID int64, questID ids.ID) (*domain.Quest, error) {
	return f.signupOp(ctx, func() (*domain.Quest, error) {
		return f.remote.CloseSignups(ctx, guildID, questID)
	})
}

// --- characters ---

func (f *Fallback) UpsertCharacter(ctx context.Context, ch *domain.Character) error {
	err := f.remote.UpsertCharacter(ctx, ch)
	if err == nil {
		return f.mirror(ctx, "character", func() error { return f.local.UpsertCharacter(ctx, ch) })
	}
	if !domain.IsTransient(err) {
		return err
	}
	f.fellBack("character write", err)
	return f.local.UpsertCharacter(ctx, ch)
}

func (f *Fallback) GetCharacter(ctx context.Context, guildID int64, id ids.ID) (*domain.Character, error) {
	ch, err := f.remote.GetCharacter(ctx, guildID, id)
	if err == nil {
		return ch, nil
	}
	if !domain.IsTransient(err) {
		return nil, err
	}
	f.fellBack("character read", err)
	return f.local.GetCharacter(ctx, guildID, id)
}

func (f *Fallback) ListCharactersByOwner(ctx context.Context, guildID int64, ownerID ids.ID) ([]*domain.Character, error) {
	return f.local.ListCharactersByOwner(ctx, guildID, ownerID)
}

// --- summaries ---

func (f *Fallback) UpsertSummary(ctx context.Context, sm *domain.Summary) error {
	err := f.remote.UpsertSummary(ctx, sm)
	if err == nil {
		return f.mirror(ctx, "summary", func() error { return f.local.UpsertSummary(ctx, sm) })
	}
	if !domain.IsTransient(err) {
		return err
	}
	f.fellBack("summary write", err)
	return f.local.UpsertSummary(ctx, sm)
}

func (f *Fallback) GetSummary(ctx context.Context, guildID int64, id ids.ID) (*domain.Summary, error) {
	return f.local.GetSummary(ctx, guildID, id)
}

func (f *Fallback) ListSummariesForQuest(ctx context.Context, guildID int64, questID ids.ID) ([]*domain.Summary, error) {
	return f.local.ListSummariesForQuest(ctx, guildID, questID)
}

// mirror keeps the local store warm after a remote write. A mirror failure
// is logged, not surfaced: the authoritative write already succeeded.
func (f *Fallback) mirror(_ context.Context, entity string, write func() error) error {
	if err := write(); err != nil {
		f.logger.Warn("local mirror write failed", "entity", entity, "error", err)
	}
	return nil
}

func (f *Fallback) fellBack(op string, err error) {
	f.logger.Warn("remote unavailable, using local store", "op", op, "error", err)
}
