package domain

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/piyushsatti/nonagon/internal/ids"
)

// CharacterStatus is the retirement state of a character.
type CharacterStatus string

const (
	CharacterActive  CharacterStatus = "ACTIVE"
	CharacterRetired CharacterStatus = "RETIRED"
)

const (
	characterNameMin = 2
	characterNameMax = 64
	characterTagsMax = 20
	characterTextMax = 500
)

// SheetURLPattern matches the hosted character-sheet services members link
// their sheets from.
var SheetURLPattern = regexp.MustCompile(`^https?://(www\.)?(dndbeyond\.com|docs\.google\.com|dicecloud\.com|character-service\.dndbeyond\.com)/`)

// MessageRef identifies an entity's public chat message: the announcement
// coordinates (channel, message, optional thread).
type MessageRef struct {
	ChannelID int64 `json:"channel_id,omitempty"`
	MessageID int64 `json:"message_id,omitempty"`
	ThreadID  int64 `json:"thread_id,omitempty"`
}

// IsZero reports whether no message has been published yet.
func (m MessageRef) IsZero() bool {
	return m.ChannelID == 0 && m.MessageID == 0 && m.ThreadID == 0
}

// Character is a player-owned persona within a guild.
type Character struct {
	CharacterID ids.ID          `json:"character_id"`
	OwnerID     ids.ID          `json:"owner_id"`
	GuildID     int64           `json:"guild_id"`
	Name        string          `json:"name"`
	SheetURL    string          `json:"sheet_url,omitempty"`
	ThreadURL   string          `json:"thread_url,omitempty"`
	TokenURL    string          `json:"token_url,omitempty"`
	ArtURL      string          `json:"art_url,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Description string          `json:"description,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	Status      CharacterStatus `json:"status"`
	Announce    MessageRef      `json:"announce"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	// Relationship lists hold IDs only; resolve through the repository.
	PlayedWith  []ids.ID `json:"played_with,omitempty"`
	PlayedIn    []ids.ID `json:"played_in,omitempty"`
	MentionedIn []ids.ID `json:"mentioned_in,omitempty"`
}

// NewCharacter constructs an active character owned by the given user.
func NewCharacter(guildID int64, ownerID ids.ID, name string, now time.Time) *Character {
	return &Character{
		CharacterID: ids.NewCharacter(),
		OwnerID:     ownerID,
		GuildID:     guildID,
		Name:        name,
		Status:      CharacterActive,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
}

// Activate returns the character to ACTIVE. Idempotent.
func (c *Character) Activate(now time.Time) bool {
	if c.Status == CharacterActive {
		return false
	}
	c.Status = CharacterActive
	c.UpdatedAt = now.UTC()
	return true
}

// Deactivate retires the character. Idempotent.
func (c *Character) Deactivate(now time.Time) bool {
	if c.Status == CharacterRetired {
		return false
	}
	c.Status = CharacterRetired
	c.UpdatedAt = now.UTC()
	return true
}

// ValidateHTTPURL accepts absolute http/https URLs with a host.
func ValidateHTTPURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Validationf("invalid URL %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Validationf("URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return Validationf("URL %q is missing a host", raw)
	}
	return nil
}

// Validate enumerates every character constraint.
func (c *Character) Validate() error {
	if !c.CharacterID.Valid() || c.CharacterID.Kind != ids.KindCharacter {
		return Validationf("character_id %q is not a valid CHAR postal id", c.CharacterID)
	}
	if !c.OwnerID.Valid() || c.OwnerID.Kind != ids.KindUser {
		return Validationf("owner_id %q is not a valid USER postal id", c.OwnerID)
	}
	if c.GuildID == 0 {
		return Validationf("guild_id is required")
	}
	if n := len(c.Name); n < characterNameMin || n > characterNameMax {
		return Validationf("character name must be %d-%d characters", characterNameMin, characterNameMax)
	}
	switch c.Status {
	case CharacterActive, CharacterRetired:
	default:
		return Validationf("unknown character status %q", c.Status)
	}
	if c.SheetURL != "" {
		if err := ValidateHTTPURL(c.SheetURL); err != nil {
			return err
		}
		if !SheetURLPattern.MatchString(c.SheetURL) {
			return Validationf("sheet URL %q is not a recognised character-sheet link", c.SheetURL)
		}
	}
	for _, raw := range []string{c.ThreadURL, c.TokenURL, c.ArtURL} {
		if raw == "" {
			continue
		}
		if err := ValidateHTTPURL(raw); err != nil {
			return err
		}
	}
	if len(c.Tags) > characterTagsMax {
		return Validationf("at most %d tags allowed", characterTagsMax)
	}
	if len(c.Description) > characterTextMax {
		return Validationf("description exceeds %d characters", characterTextMax)
	}
	if len(c.Notes) > characterTextMax {
		return Validationf("notes exceed %d characters", characterTextMax)
	}
	return nil
}
