// Package repository defines the persistence ports the services write
// through, and the composite that prefers the external quest service with a
// local-store fallback on transient failure.
package repository

import (
	"context"

	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/ids"
)

// Users is the member persistence port.
type Users interface {
	UpsertUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, guildID int64, id ids.ID) (*domain.User, error)
	ListUsers(ctx context.Context, guildID int64) ([]*domain.User, error)
}

// Quests is the quest persistence port.
type Quests interface {
	UpsertQuest(ctx context.Context, q *domain.Quest) error
	GetQuest(ctx context.Context, guildID int64, id ids.ID) (*domain.Quest, error)
	ListQuestsByStatus(ctx context.Context, guildID int64, status domain.QuestStatus) ([]*domain.Quest, error)
}

// Characters is the character persistence port.
type Characters interface {
	UpsertCharacter(ctx context.Context, ch *domain.Character) error
	GetCharacter(ctx context.Context, guildID int64, id ids.ID) (*domain.Character, error)
	ListCharactersByOwner(ctx context.Context, guildID int64, ownerID ids.ID) ([]*domain.Character, error)
}

// Summaries is the summary persistence port.
type Summaries interface {
	UpsertSummary(ctx context.Context, sm *domain.Summary) error
	GetSummary(ctx context.Context, guildID int64, id ids.ID) (*domain.Summary, error)
	ListSummariesForQuest(ctx context.Context, guildID int64, questID ids.ID) ([]*domain.Summary, error)
}

// Store is the full local persistence surface.
type Store interface {
	Users
	Quests
	Characters
	Summaries
}

// Remote is the slice of the external quest service the composite uses.
// The signup operations adjudicate server-side and return the canonical
// post-operation document.
type Remote interface {
	UpsertUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, guildID int64, id ids.ID) (*domain.User, error)
	UpsertQuest(ctx context.Context, q *domain.Quest) error
	GetQuest(ctx context.Context, guildID int64, id ids.ID) (*domain.Quest, error)
	ListQuests(ctx context.Context, guildID int64, status domain.QuestStatus) ([]*domain.Quest, error)
	UpsertCharacter(ctx context.Context, ch *domain.Character) error
	GetCharacter(ctx context.Context, guildID int64, id ids.ID) (*domain.Character, error)
	UpsertSummary(ctx context.Context, sm *domain.Summary) error

	AddSignup(ctx context.Context, guildID int64, questID, userID, characterID ids.ID) (*domain.Quest, error)
	RemoveSignup(ctx context.Context, guildID int64, questID, userID ids.ID) (*domain.Quest, error)
	SelectSignup(ctx context.Context, guildID int64, questID, userID ids.ID) (*domain.Quest, error)
	CloseSignups(ctx context.Context, guildID int64, questID ids.ID) (*domain.Quest, error)
}
