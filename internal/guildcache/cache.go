// Package guildcache holds the in-memory working set: one entry per guild
// with its members, quests, characters and summaries. Member mutations are
// coalesced into a dirty queue keyed by (guild_id, user_id) and persisted in
// batches by the Flusher.
package guildcache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/ids"
)

// dirtyKey identifies one pending member write.
type dirtyKey struct {
	GuildID int64
	UserID  ids.ID
}

// GuildEntry is the cached state of one guild.
type GuildEntry struct {
	mu         sync.RWMutex
	guildID    int64
	users      map[ids.ID]*domain.User
	byDiscord  map[int64]ids.ID
	quests     map[ids.ID]*domain.Quest
	characters map[ids.ID]*domain.Character
	summaries  map[ids.ID]*domain.Summary
}

func newGuildEntry(guildID int64) *GuildEntry {
	return &GuildEntry{
		guildID:    guildID,
		users:      make(map[ids.ID]*domain.User),
		byDiscord:  make(map[int64]ids.ID),
		quests:     make(map[ids.ID]*domain.Quest),
		characters: make(map[ids.ID]*domain.Character),
		summaries:  make(map[ids.ID]*domain.Summary),
	}
}

// Loader is the slice of the store the cache needs for its initial load.
type Loader interface {
	GuildIDs(ctx context.Context) ([]int64, error)
	ListUsers(ctx context.Context, guildID int64) ([]*domain.User, error)
	ListQuestsByStatus(ctx context.Context, guildID int64, status domain.QuestStatus) ([]*domain.Quest, error)
}

// Cache is the process-wide guild working set.
type Cache struct {
	mu     sync.RWMutex
	guilds map[int64]*GuildEntry

	dirtyMu sync.Mutex
	dirty   map[dirtyKey]struct{}

	logger *slog.Logger
}

func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		guilds: make(map[int64]*GuildEntry),
		dirty:  make(map[dirtyKey]struct{}),
		logger: logger,
	}
}

// EnsureGuildEntry returns the guild's entry, creating an empty one on first
// contact with a new tenant.
func (c *Cache) EnsureGuildEntry(guildID int64) *GuildEntry {
	c.mu.RLock()
	entry, ok := c.guilds[guildID]
	c.mu.RUnlock()
	if ok {
		return entry
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok = c.guilds[guildID]; ok {
		return entry
	}
	entry = newGuildEntry(guildID)
	c.guilds[guildID] = entry
	c.logger.Info("guild entry created", "guild_id", guildID)
	return entry
}

// GuildIDs returns the cached tenants in ascending order.
func (c *Cache) GuildIDs() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]int64, 0, len(c.guilds))
	for id := range c.guilds {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RemoveGuild drops a guild's working set along with its pending dirty
// entries. Persisted rows stay in the store.
func (c *Cache) RemoveGuild(guildID int64) {
	c.mu.Lock()
	delete(c.guilds, guildID)
	c.mu.Unlock()

	c.dirtyMu.Lock()
	for key := range c.dirty {
		if key.GuildID == guildID {
			delete(c.dirty, key)
		}
	}
	c.dirtyMu.Unlock()
}

// Load hydrates the cache from the store: every guild's members plus its
// announced and started quests.
func (c *Cache) Load(ctx context.Context, loader Loader) error {
	guildIDs, err := loader.GuildIDs(ctx)
	if err != nil {
		return err
	}
	for _, gid := range guildIDs {
		entry := c.EnsureGuildEntry(gid)

		users, err := loader.ListUsers(ctx, gid)
		if err != nil {
			return err
		}
		entry.mu.Lock()
		for _, u := range users {
			entry.users[u.UserID] = u
			if u.DiscordID != 0 {
				entry.byDiscord[u.DiscordID] = u.UserID
			}
		}
		entry.mu.Unlock()

		for _, status := range []domain.QuestStatus{domain.QuestAnnounced, domain.QuestStarted} {
			quests, err := loader.ListQuestsByStatus(ctx, gid, status)
			if err != nil {
				return err
			}
			entry.mu.Lock()
			for _, q := range quests {
				entry.quests[q.QuestID] = q
			}
			entry.mu.Unlock()
		}

		c.logger.Info("guild loaded", "guild_id", gid, "users", len(users))
	}
	return nil
}

// markDirty enqueues a member write. Repeated marks for the same member
// coalesce into one pending entry.
func (c *Cache) markDirty(guildID int64, userID ids.ID) {
	c.dirtyMu.Lock()
	c.dirty[dirtyKey{GuildID: guildID, UserID: userID}] = struct{}{}
	c.dirtyMu.Unlock()
}

// MarkDirty exposes dirty-queue enqueueing for callers that mutate a user
// outside the cache's own helpers.
func (c *Cache) MarkDirty(guildID int64, userID ids.ID) {
	c.markDirty(guildID, userID)
}

// DirtyCount returns the current queue depth.
func (c *Cache) DirtyCount() int {
	c.dirtyMu.Lock()
	defer c.dirtyMu.Unlock()
	return len(c.dirty)
}

// drainDirty swaps out the pending set. Marks arriving after the swap land
// in the next batch.
func (c *Cache) drainDirty() []dirtyKey {
	c.dirtyMu.Lock()
	defer c.dirtyMu.Unlock()
	if len(c.dirty) == 0 {
		return nil
	}
	out := make([]dirtyKey, 0, len(c.dirty))
	for k := range c.dirty {
		out = append(out, k)
	}
	c.dirty = make(map[dirtyKey]struct{})
	return out
}

// requeue puts failed entries back for the next batch.
func (c *Cache) requeue(keys []dirtyKey) {
	c.dirtyMu.Lock()
	for _, k := range keys {
		c.dirty[k] = struct{}{}
	}
	c.dirtyMu.Unlock()
}

// --- member access ---

// EnsureUser returns the member, creating a MEMBER-only user on first sight.
// The bool reports whether the user was created.
func (c *Cache) EnsureUser(guildID, discordID int64, now time.Time) (*domain.User, bool) {
	entry := c.EnsureGuildEntry(guildID)

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if id, ok := entry.byDiscord[discordID]; ok {
		return entry.users[id], false
	}
	u := domain.NewUser(guildID, discordID, now)
	entry.users[u.UserID] = u
	entry.byDiscord[discordID] = u.UserID
	c.markDirty(guildID, u.UserID)
	return u, true
}

// PutUser inserts or replaces a member without marking it dirty. Used by
// loaders and flush read-backs.
func (c *Cache) PutUser(u *domain.User) {
	entry := c.EnsureGuildEntry(u.GuildID)
	entry.mu.Lock()
	entry.users[u.UserID] = u
	if u.DiscordID != 0 {
		entry.byDiscord[u.DiscordID] = u.UserID
	}
	entry.mu.Unlock()
}

// User returns the member by postal id.
func (c *Cache) User(guildID int64, userID ids.ID) (*domain.User, bool) {
	entry := c.EnsureGuildEntry(guildID)
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	u, ok := entry.users[userID]
	return u, ok
}

// UserByDiscordID returns the member by external chat id.
func (c *Cache) UserByDiscordID(guildID, discordID int64) (*domain.User, bool) {
	entry := c.EnsureGuildEntry(guildID)
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	id, ok := entry.byDiscord[discordID]
	if !ok {
		return nil, false
	}
	return entry.users[id], true
}

// Users returns a snapshot slice of the guild's members.
func (c *Cache) Users(guildID int64) []*domain.User {
	entry := c.EnsureGuildEntry(guildID)
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	out := make([]*domain.User, 0, len(entry.users))
	for _, u := range entry.users {
		out = append(out, u)
	}
	return out
}

// MutateUser applies fn to the member under the entry lock and marks the
// member dirty when fn reports a change.
func (c *Cache) MutateUser(guildID int64, userID ids.ID, fn func(*domain.User) bool) bool {
	entry := c.EnsureGuildEntry(guildID)
	entry.mu.Lock()
	u, ok := entry.users[userID]
	if !ok {
		entry.mu.Unlock()
		return false
	}
	changed := fn(u)
	entry.mu.Unlock()
	if changed {
		c.markDirty(guildID, userID)
	}
	return changed
}

// RecordMessage bumps the author's engagement counters, creating the member
// on first sight.
func (c *Cache) RecordMessage(guildID, discordID int64, now time.Time) {
	u, _ := c.EnsureUser(guildID, discordID, now)
	c.MutateUser(guildID, u.UserID, func(u *domain.User) bool {
		u.RecordMessage(now)
		return true
	})
}

// RecordReaction bumps the giver's and receiver's counters.
func (c *Cache) RecordReaction(guildID, giverID, receiverID int64, now time.Time) {
	giver, _ := c.EnsureUser(guildID, giverID, now)
	c.MutateUser(guildID, giver.UserID, func(u *domain.User) bool {
		u.RecordReactionGiven(now)
		return true
	})
	if receiverID != 0 && receiverID != giverID {
		receiver, _ := c.EnsureUser(guildID, receiverID, now)
		c.MutateUser(guildID, receiver.UserID, func(u *domain.User) bool {
			u.RecordReactionReceived()
			return true
		})
	}
}

// AddVoiceSeconds credits a closed voice session to the member.
func (c *Cache) AddVoiceSeconds(guildID, discordID, seconds int64, now time.Time) {
	if seconds <= 0 {
		return
	}
	u, _ := c.EnsureUser(guildID, discordID, now)
	c.MutateUser(guildID, u.UserID, func(u *domain.User) bool {
		u.AddVoiceSeconds(seconds, now)
		return true
	})
}

// SetServerTag records whether the member currently wears the guild's tag.
func (c *Cache) SetServerTag(guildID, discordID int64, wearing bool, now time.Time) {
	u, _ := c.EnsureUser(guildID, discordID, now)
	c.MutateUser(guildID, u.UserID, func(u *domain.User) bool {
		if u.HasServerTag == wearing {
			return false
		}
		u.HasServerTag = wearing
		return true
	})
}

// --- quest access ---

// PutQuest inserts or replaces a quest.
func (c *Cache) PutQuest(q *domain.Quest) {
	entry := c.EnsureGuildEntry(q.GuildID)
	entry.mu.Lock()
	entry.quests[q.QuestID] = q
	entry.mu.Unlock()
}

// Quest returns the quest by postal id.
func (c *Cache) Quest(guildID int64, questID ids.ID) (*domain.Quest, bool) {
	entry := c.EnsureGuildEntry(guildID)
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	q, ok := entry.quests[questID]
	return q, ok
}

// Quests returns a snapshot slice of the guild's quests.
func (c *Cache) Quests(guildID int64) []*domain.Quest {
	entry := c.EnsureGuildEntry(guildID)
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	out := make([]*domain.Quest, 0, len(entry.quests))
	for _, q := range entry.quests {
		out = append(out, q)
	}
	return out
}

// DropQuest removes a quest from the working set (terminal quests are
// evicted once their summaries settle).
func (c *Cache) DropQuest(guildID int64, questID ids.ID) {
	entry := c.EnsureGuildEntry(guildID)
	entry.mu.Lock()
	delete(entry.quests, questID)
	entry.mu.Unlock()
}

// --- character and summary access ---

func (c *Cache) PutCharacter(ch *domain.Character) {
	entry := c.EnsureGuildEntry(ch.GuildID)
	entry.mu.Lock()
	entry.characters[ch.CharacterID] = ch
	entry.mu.Unlock()
}

func (c *Cache) Character(guildID int64, id ids.ID) (*domain.Character, bool) {
	entry := c.EnsureGuildEntry(guildID)
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	ch, ok := entry.characters[id]
	return ch, ok
}

func (c *Cache) PutSummary(sm *domain.Summary) {
	entry := c.EnsureGuildEntry(sm.GuildID)
	entry.mu.Lock()
	entry.summaries[sm.SummaryID] = sm
	entry.mu.Unlock()
}

func (c *Cache) Summary(guildID int64, id ids.ID) (*domain.Summary, bool) {
	entry := c.EnsureGuildEntry(guildID)
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	sm, ok := entry.summaries[id]
	return sm, ok
}

// snapshotUser returns a copy of the member's current document for the
// flusher. The copy is shallow except for the slices a flush serialises.
func (c *Cache) snapshotUser(key dirtyKey) (*domain.User, bool) {
	entry := c.EnsureGuildEntry(key.GuildID)
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	u, ok := entry.users[key.UserID]
	if !ok {
		return nil, false
	}
	cp := *u
	return &cp, true
}
