package domain

import (
	"time"

	"github.com/piyushsatti/nonagon/internal/ids"
)

// SummaryKind distinguishes player write-ups from referee session notes.
type SummaryKind string

const (
	SummaryKindPlayer  SummaryKind = "PLAYER"
	SummaryKindReferee SummaryKind = "REFEREE"
)

// SummaryStatus is the publication state of a write-up.
type SummaryStatus string

const (
	SummaryDraft  SummaryStatus = "DRAFT"
	SummaryPosted SummaryStatus = "POSTED"
)

// Summary is a post-session write-up linked to a quest and optionally a
// character.
type Summary struct {
	SummaryID   ids.ID        `json:"summary_id"`
	GuildID     int64         `json:"guild_id"`
	Kind        SummaryKind   `json:"kind"`
	AuthorID    ids.ID        `json:"author_id"`
	CharacterID *ids.ID       `json:"character_id,omitempty"`
	QuestID     *ids.ID       `json:"quest_id,omitempty"`
	Status      SummaryStatus `json:"status"`
	Title       string        `json:"title,omitempty"`
	Content     string        `json:"content,omitempty"`
	Announce    MessageRef    `json:"announce"`
	CreatedAt   time.Time     `json:"created_at"`
	EditedAt    time.Time     `json:"edited_at"`

	LinkedCharacters []ids.ID `json:"linked_characters,omitempty"`
	LinkedUsers      []ids.ID `json:"linked_users,omitempty"`
}

// NewSummary constructs a draft write-up.
func NewSummary(guildID int64, kind SummaryKind, authorID ids.ID, now time.Time) *Summary {
	return &Summary{
		SummaryID: ids.NewSummary(),
		GuildID:   guildID,
		Kind:      kind,
		AuthorID:  authorID,
		Status:    SummaryDraft,
		CreatedAt: now.UTC(),
		EditedAt:  now.UTC(),
	}
}

// Post marks the summary as published. Idempotent.
func (s *Summary) Post(ref MessageRef, now time.Time) bool {
	if s.Status == SummaryPosted {
		return false
	}
	s.Status = SummaryPosted
	s.Announce = ref
	s.EditedAt = now.UTC()
	return true
}

// Validate enumerates every summary constraint.
func (s *Summary) Validate() error {
	if !s.SummaryID.Valid() || s.SummaryID.Kind != ids.KindSummary {
		return Validationf("summary_id %q is not a valid SUMM postal id", s.SummaryID)
	}
	if s.GuildID == 0 {
		return Validationf("guild_id is required")
	}
	switch s.Kind {
	case SummaryKindPlayer, SummaryKindReferee:
	default:
		return Validationf("unknown summary kind %q", s.Kind)
	}
	switch s.Status {
	case SummaryDraft, SummaryPosted:
	default:
		return Validationf("unknown summary status %q", s.Status)
	}
	if !s.AuthorID.Valid() || s.AuthorID.Kind != ids.KindUser {
		return Validationf("author_id %q is not a valid USER postal id", s.AuthorID)
	}
	if s.CharacterID != nil && s.CharacterID.Kind != ids.KindCharacter {
		return Validationf("character_id %q is not a CHAR postal id", s.CharacterID)
	}
	if s.QuestID != nil && s.QuestID.Kind != ids.KindQuest {
		return Validationf("quest_id %q is not a QUES postal id", s.QuestID)
	}
	return nil
}
