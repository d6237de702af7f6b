package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/piyushsatti/nonagon/internal/ids"
)

// QuestStatus is the lifecycle state of a quest.
type QuestStatus string

const (
	QuestDraft     QuestStatus = "DRAFT"
	QuestAnnounced QuestStatus = "ANNOUNCED"
	QuestStarted   QuestStatus = "STARTED"
	QuestCompleted QuestStatus = "COMPLETED"
	QuestCancelled QuestStatus = "CANCELLED"
)

// allowedQuestTransitions is the canonical lifecycle table. Terminal states
// have no outgoing edges.
var allowedQuestTransitions = map[QuestStatus]map[QuestStatus]struct{}{
	QuestDraft: {
		QuestAnnounced: {},
		QuestCancelled: {},
	},
	QuestAnnounced: {
		QuestStarted:   {},
		QuestCompleted: {},
		QuestCancelled: {},
	},
	QuestStarted: {
		QuestCompleted: {},
		QuestCancelled: {},
	},
}

// NudgeCooldown is the minimum spacing between re-announcement pings.
const NudgeCooldown = 48 * time.Hour

// SignupStatus is the adjudication state of a single sign-up.
type SignupStatus string

const (
	SignupApplied  SignupStatus = "APPLIED"
	SignupSelected SignupStatus = "SELECTED"
)

// PlayerSignUp is a player's request to join a quest with a character.
type PlayerSignUp struct {
	UserID      ids.ID       `json:"user_id"`
	CharacterID ids.ID       `json:"character_id"`
	Status      SignupStatus `json:"status"`
}

// Seconds is a duration persisted as a whole number of seconds.
type Seconds time.Duration

func (s Seconds) Duration() time.Duration { return time.Duration(s) }

func (s Seconds) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(time.Duration(s) / time.Second))
}

func (s *Seconds) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*s = Seconds(time.Duration(n) * time.Second)
	return nil
}

// Quest is a referee-hosted session within a guild.
type Quest struct {
	QuestID     ids.ID      `json:"quest_id"`
	GuildID     int64       `json:"guild_id"`
	RefereeID   ids.ID      `json:"referee_id"`
	Announce    MessageRef  `json:"announce"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	ImageURL    string      `json:"image_url,omitempty"`
	RawMarkdown string      `json:"raw_markdown,omitempty"`
	StartingAt  time.Time   `json:"starting_at"`
	Duration    Seconds     `json:"duration_seconds"`
	Status      QuestStatus `json:"status"`

	AnnounceAt   *time.Time `json:"announce_at,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	LastNudgedAt *time.Time `json:"last_nudged_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	SignupsClosed bool           `json:"signups_closed"`
	Signups       []PlayerSignUp `json:"signups,omitempty"`

	// Linked entities, IDs only.
	LinkedCharacters []ids.ID `json:"linked_characters,omitempty"`
	LinkedSummaries  []ids.ID `json:"linked_summaries,omitempty"`
}

// NewQuest constructs a draft quest hosted by the given referee.
func NewQuest(guildID int64, refereeID ids.ID, now time.Time) *Quest {
	return &Quest{
		QuestID:   ids.NewQuest(),
		GuildID:   guildID,
		RefereeID: refereeID,
		Status:    QuestDraft,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// Terminal reports whether the quest is in a state that rejects all
// further transitions.
func (q *Quest) Terminal() bool {
	return q.Status == QuestCompleted || q.Status == QuestCancelled
}

// IsSignupOpen is derived: true while announced and not explicitly closed.
func (q *Quest) IsSignupOpen() bool {
	return q.Status == QuestAnnounced && !q.SignupsClosed
}

// transition validates and applies a lifecycle edge.
func (q *Quest) transition(to QuestStatus, now time.Time) error {
	if _, ok := allowedQuestTransitions[q.Status][to]; !ok {
		return Validationf("quest %s cannot move from %s to %s", q.QuestID, q.Status, to)
	}
	q.Status = to
	q.UpdatedAt = now.UTC()
	return nil
}

// MarkAnnounced publishes the quest: records the announcement coordinates
// and clears any deferred announce_at. The coordinates are set before the
// deferred marker is cleared, so a racing scheduler pass observes the quest
// as published.
func (q *Quest) MarkAnnounced(ref MessageRef, now time.Time) error {
	if q.Status == QuestAnnounced && !q.Announce.IsZero() {
		return Conflictf("quest %s is already announced", q.QuestID)
	}
	if q.Status != QuestDraft && q.Status != QuestAnnounced {
		return Validationf("quest %s cannot be announced from %s", q.QuestID, q.Status)
	}
	if q.Status == QuestDraft {
		if err := q.transition(QuestAnnounced, now); err != nil {
			return err
		}
	}
	q.Announce = ref
	q.AnnounceAt = nil
	q.UpdatedAt = now.UTC()
	return nil
}

// ScheduleAnnounce defers publication to a future instant.
func (q *Quest) ScheduleAnnounce(at, now time.Time) error {
	if q.Status != QuestDraft {
		return Validationf("only draft quests can be scheduled")
	}
	if !at.After(now) {
		return Validationf("announce time must be in the future")
	}
	t := at.UTC()
	q.AnnounceAt = &t
	q.UpdatedAt = now.UTC()
	return nil
}

// Start moves an announced quest into play.
func (q *Quest) Start(now time.Time) error {
	if err := q.transition(QuestStarted, now); err != nil {
		return err
	}
	t := now.UTC()
	q.StartedAt = &t
	return nil
}

// Complete ends the quest. Allowed from STARTED or directly from ANNOUNCED.
func (q *Quest) Complete(now time.Time) error {
	if err := q.transition(QuestCompleted, now); err != nil {
		return err
	}
	t := now.UTC()
	q.EndedAt = &t
	return nil
}

// Cancel aborts any non-terminal quest. Cancelling an already-cancelled
// quest is a no-op.
func (q *Quest) Cancel(now time.Time) error {
	if q.Status == QuestCancelled {
		return nil
	}
	if err := q.transition(QuestCancelled, now); err != nil {
		return err
	}
	t := now.UTC()
	q.EndedAt = &t
	return nil
}

// Nudge records a re-announcement ping. The quest must be published and the
// cooldown since the previous nudge must have elapsed.
func (q *Quest) Nudge(now time.Time) error {
	if q.Announce.IsZero() {
		return Validationf("quest %s has not been announced yet", q.QuestID)
	}
	if q.Terminal() {
		return Validationf("quest %s is %s", q.QuestID, q.Status)
	}
	now = now.UTC()
	if q.LastNudgedAt != nil {
		remaining := NudgeCooldown - now.Sub(q.LastNudgedAt.UTC())
		if remaining > 0 {
			hours := int(math.Ceil(remaining.Hours()))
			return Conflictf("nudge available in %dh", hours)
		}
	}
	q.LastNudgedAt = &now
	q.UpdatedAt = now
	return nil
}

// findSignup returns the index of the user's signup, or -1.
func (q *Quest) findSignup(userID ids.ID) int {
	for i, s := range q.Signups {
		if s.UserID == userID {
			return i
		}
	}
	return -1
}

// AddSignup appends an APPLIED signup. At most one signup per user.
func (q *Quest) AddSignup(userID, characterID ids.ID) error {
	if !q.IsSignupOpen() {
		return Conflictf("signups for quest %s are closed", q.QuestID)
	}
	if q.findSignup(userID) >= 0 {
		return ErrAlreadySignedUp
	}
	q.Signups = append(q.Signups, PlayerSignUp{
		UserID:      userID,
		CharacterID: characterID,
		Status:      SignupApplied,
	})
	return nil
}

// SelectSignup promotes an existing signup to SELECTED without reordering.
func (q *Quest) SelectSignup(userID ids.ID) error {
	i := q.findSignup(userID)
	if i < 0 {
		return NotFoundf("no signup from %s on quest %s", userID, q.QuestID)
	}
	q.Signups[i].Status = SignupSelected
	return nil
}

// RemoveSignup deletes an existing signup.
func (q *Quest) RemoveSignup(userID ids.ID) error {
	i := q.findSignup(userID)
	if i < 0 {
		return NotFoundf("no signup from %s on quest %s", userID, q.QuestID)
	}
	q.Signups = append(q.Signups[:i], q.Signups[i+1:]...)
	return nil
}

// CloseSignups flips the derived flag off. Idempotent; returns true when
// the flag changed.
func (q *Quest) CloseSignups() bool {
	if q.SignupsClosed {
		return false
	}
	q.SignupsClosed = true
	return true
}

// PendingSignups returns signups not yet SELECTED, in insertion order.
func (q *Quest) PendingSignups() []PlayerSignUp {
	var out []PlayerSignUp
	for _, s := range q.Signups {
		if s.Status != SignupSelected {
			out = append(out, s)
		}
	}
	return out
}

// SelectedSignups returns the accepted roster in insertion order.
func (q *Quest) SelectedSignups() []PlayerSignUp {
	var out []PlayerSignUp
	for _, s := range q.Signups {
		if s.Status == SignupSelected {
			out = append(out, s)
		}
	}
	return out
}

// Validate enumerates every quest constraint.
func (q *Quest) Validate() error {
	if !q.QuestID.Valid() || q.QuestID.Kind != ids.KindQuest {
		return Validationf("quest_id %q is not a valid QUES postal id", q.QuestID)
	}
	if q.GuildID == 0 {
		return Validationf("guild_id is required")
	}
	if !q.RefereeID.Valid() || q.RefereeID.Kind != ids.KindUser {
		return Validationf("referee_id %q is not a valid USER postal id", q.RefereeID)
	}
	switch q.Status {
	case QuestDraft, QuestAnnounced, QuestStarted, QuestCompleted, QuestCancelled:
	default:
		return Validationf("unknown quest status %q", q.Status)
	}
	if q.Duration < 0 {
		return Validationf("duration must not be negative")
	}
	if q.ImageURL != "" {
		if err := ValidateHTTPURL(q.ImageURL); err != nil {
			return err
		}
	}
	seen := map[ids.ID]bool{}
	for _, s := range q.Signups {
		if seen[s.UserID] {
			return fmt.Errorf("%w (user %s)", ErrAlreadySignedUp, s.UserID)
		}
		seen[s.UserID] = true
		switch s.Status {
		case SignupApplied, SignupSelected:
		default:
			return Validationf("unknown signup status %q", s.Status)
		}
		if !s.UserID.Valid() || s.UserID.Kind != ids.KindUser {
			return Validationf("signup user id %q invalid", s.UserID)
		}
		if !s.CharacterID.Valid() || s.CharacterID.Kind != ids.KindCharacter {
			return Validationf("signup character id %q invalid", s.CharacterID)
		}
	}
	return nil
}
