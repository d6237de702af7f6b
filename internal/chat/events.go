// Package chat is the platform boundary: the inbound event model every
// adapter normalises into, the listener that turns those events into cache
// mutations and service calls, and the telegram adapter.
package chat

import (
	"context"
	"time"

	"github.com/piyushsatti/nonagon/internal/domain"
)

// EventKind names an inbound chat platform event.
type EventKind string

const (
	EventMessage       EventKind = "message"
	EventDirectMessage EventKind = "dm"
	EventReaction      EventKind = "reaction"
	EventCallback      EventKind = "callback"
	EventVoiceJoin     EventKind = "voice_join"
	EventVoiceLeave    EventKind = "voice_leave"
	EventMemberJoin    EventKind = "member_join"
	EventGuildRemove   EventKind = "guild_remove"
)

// Event is one normalised inbound platform event. Adapters fill only the
// fields their platform carries.
type Event struct {
	Kind      EventKind
	GuildID   int64
	ChannelID int64
	MessageID int64
	AuthorID  int64
	// TargetID is the other party: reaction receiver, DM counterpart.
	TargetID int64
	// AuthorName is the author's current display name, used for server-tag
	// detection. Optional.
	AuthorName string
	Text       string
	// Data carries structured callback payloads (inline button presses).
	Data string
	At   time.Time
}

// Sender is the full outbound surface an adapter provides. Services depend
// on their own narrow slices of it; this aggregate exists for wiring.
type Sender interface {
	SendMessage(ctx context.Context, channelID int64, text string) error
	SendDM(ctx context.Context, discordID int64, text string) (domain.MessageRef, error)
	EditMessage(ctx context.Context, ref domain.MessageRef, text string) error

	PostQuest(ctx context.Context, channelID int64, q *domain.Quest) (domain.MessageRef, error)
	EditQuest(ctx context.Context, ref domain.MessageRef, q *domain.Quest) error
	PostNudge(ctx context.Context, ref domain.MessageRef, q *domain.Quest) error

	PostCharacter(ctx context.Context, channelID int64, ch *domain.Character) (domain.MessageRef, error)
	EditCharacter(ctx context.Context, ref domain.MessageRef, ch *domain.Character) error

	SendAdjudicationPanel(ctx context.Context, discordID int64, q *domain.Quest) error
}
