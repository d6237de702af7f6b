package domain

import (
	"time"

	"github.com/piyushsatti/nonagon/internal/ids"
)

// Role names a capability a member holds inside a guild.
type Role string

const (
	RoleMember  Role = "MEMBER"
	RolePlayer  Role = "PLAYER"
	RoleReferee Role = "REFEREE"
)

// CollabStat accumulates shared-table time between two parties.
type CollabStat struct {
	Count int     `json:"count"`
	Hours float64 `json:"hours"`
}

// PlayerProfile is embedded in a User once the PLAYER role is enabled.
type PlayerProfile struct {
	CharacterIDs []ids.ID              `json:"character_ids"`
	QuestsPlayed []ids.ID              `json:"quests_played"`
	// CollabStats is keyed by the other party's CharacterID string.
	CollabStats map[string]CollabStat `json:"collab_stats,omitempty"`
}

// RefereeProfile is embedded in a User once the REFEREE role is enabled.
type RefereeProfile struct {
	QuestsHosted []ids.ID              `json:"quests_hosted"`
	// CollabStats is keyed by the hosted player's UserID string.
	CollabStats map[string]CollabStat `json:"collab_stats,omitempty"`
}

// Engagement holds the passively accumulated activity counters.
type Engagement struct {
	MessagesSent      int64 `json:"messages_sent"`
	ReactionsGiven    int64 `json:"reactions_given"`
	ReactionsReceived int64 `json:"reactions_received"`
	VoiceSeconds      int64 `json:"voice_seconds"`
}

// User is a guild member known to the coordination core.
type User struct {
	UserID    ids.ID `json:"user_id"`
	DiscordID int64  `json:"discord_id,omitempty"`
	GuildID   int64  `json:"guild_id"`
	Roles     []Role `json:"roles"`
	// PlatformRoleIDs mirrors the member's chat platform role ids, written
	// by the dashboard or the sync tooling. Staff checks match against it.
	PlatformRoleIDs []int64         `json:"platform_role_ids,omitempty"`
	HasServerTag    bool            `json:"has_server_tag"`
	DMOptIn         bool            `json:"dm_opt_in"`
	JoinedAt        time.Time       `json:"joined_at"`
	LastActiveAt    time.Time       `json:"last_active_at"`
	Engagement      Engagement      `json:"engagement"`
	Player          *PlayerProfile  `json:"player,omitempty"`
	Referee         *RefereeProfile `json:"referee,omitempty"`
}

// HasAnyPlatformRole reports whether the member holds any of the given chat
// platform role ids.
func (u *User) HasAnyPlatformRole(roleIDs []int64) bool {
	for _, want := range roleIDs {
		for _, have := range u.PlatformRoleIDs {
			if have == want {
				return true
			}
		}
	}
	return false
}

// NewUser constructs a member-only user for the given guild and external ID.
// DMs start opted in; a Forbidden delivery or an explicit /dms off flips the
// flag.
func NewUser(guildID, discordID int64, now time.Time) *User {
	return &User{
		UserID:       ids.NewUser(),
		DiscordID:    discordID,
		GuildID:      guildID,
		Roles:        []Role{RoleMember},
		DMOptIn:      true,
		JoinedAt:     now.UTC(),
		LastActiveAt: now.UTC(),
	}
}

// HasRole reports whether the user holds the given role.
func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u *User) addRole(role Role) bool {
	if u.HasRole(role) {
		return false
	}
	u.Roles = append(u.Roles, role)
	return true
}

func (u *User) removeRole(role Role) bool {
	for i, r := range u.Roles {
		if r == role {
			u.Roles = append(u.Roles[:i], u.Roles[i+1:]...)
			return true
		}
	}
	return false
}

// EnablePlayer grants the PLAYER role and creates the player profile.
// Returns true when something changed.
func (u *User) EnablePlayer() bool {
	changed := u.addRole(RolePlayer)
	if u.Player == nil {
		u.Player = &PlayerProfile{}
		changed = true
	}
	return changed
}

// DisablePlayer revokes the PLAYER role. The profile is retained so history
// survives a re-enable. Fails while REFEREE is active: a referee is always
// also a player.
func (u *User) DisablePlayer() (bool, error) {
	if u.HasRole(RoleReferee) {
		return false, Validationf("cannot disable PLAYER while REFEREE is active")
	}
	return u.removeRole(RolePlayer), nil
}

// EnableReferee grants the REFEREE role, implying PLAYER.
func (u *User) EnableReferee() bool {
	changed := u.EnablePlayer()
	if u.addRole(RoleReferee) {
		changed = true
	}
	if u.Referee == nil {
		u.Referee = &RefereeProfile{}
		changed = true
	}
	return changed
}

// DisableReferee revokes the REFEREE role, retaining the profile.
func (u *User) DisableReferee() bool {
	return u.removeRole(RoleReferee)
}

// Touch updates the last-active timestamp. Returns true when it moved.
func (u *User) Touch(now time.Time) bool {
	now = now.UTC()
	if !now.After(u.LastActiveAt) {
		return false
	}
	u.LastActiveAt = now
	return true
}

// RecordMessage increments the message counter and touches activity.
func (u *User) RecordMessage(now time.Time) {
	u.Engagement.MessagesSent++
	u.Touch(now)
}

// RecordReactionGiven and RecordReactionReceived update reaction counters.
func (u *User) RecordReactionGiven(now time.Time) {
	u.Engagement.ReactionsGiven++
	u.Touch(now)
}

func (u *User) RecordReactionReceived() {
	u.Engagement.ReactionsReceived++
}

// AddVoiceSeconds accumulates closed voice-session time.
func (u *User) AddVoiceSeconds(seconds int64, now time.Time) {
	if seconds <= 0 {
		return
	}
	u.Engagement.VoiceSeconds += seconds
	u.Touch(now)
}

// OwnsCharacter reports whether the player profile lists the character.
func (u *User) OwnsCharacter(characterID ids.ID) bool {
	if u.Player == nil {
		return false
	}
	for _, id := range u.Player.CharacterIDs {
		if id == characterID {
			return true
		}
	}
	return false
}

// Validate enumerates every user constraint. It is total: no side effects.
func (u *User) Validate() error {
	if !u.UserID.Valid() || u.UserID.Kind != ids.KindUser {
		return Validationf("user_id %q is not a valid USER postal id", u.UserID)
	}
	if u.GuildID == 0 {
		return Validationf("guild_id is required")
	}
	seen := map[Role]bool{}
	for _, r := range u.Roles {
		switch r {
		case RoleMember, RolePlayer, RoleReferee:
		default:
			return Validationf("unknown role %q", r)
		}
		if seen[r] {
			return Validationf("duplicate role %q", r)
		}
		seen[r] = true
	}
	if u.HasRole(RolePlayer) && u.Player == nil {
		return Validationf("PLAYER role requires a player profile")
	}
	if u.HasRole(RoleReferee) && u.Referee == nil {
		return Validationf("REFEREE role requires a referee profile")
	}
	if u.HasRole(RoleReferee) && !u.HasRole(RolePlayer) {
		return Validationf("REFEREE role requires PLAYER")
	}
	if u.Player != nil {
		for _, cid := range u.Player.CharacterIDs {
			if !cid.Valid() || cid.Kind != ids.KindCharacter {
				return Validationf("player profile lists invalid character id %q", cid)
			}
		}
	}
	return nil
}
