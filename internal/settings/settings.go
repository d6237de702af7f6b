// Package settings manages per-guild dynamic settings. Documents live in the
// store's lookups collection and every update is validated against a JSON
// schema before it is persisted.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/piyushsatti/nonagon/internal/domain"
)

const lookupName = "settings"

const schemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"quest_board_channel_id":     {"type": "integer", "minimum": 0},
		"character_board_channel_id": {"type": "integer", "minimum": 0},
		"digest_enabled":             {"type": "boolean"},
		"digest_channel_id":          {"type": "integer", "minimum": 0},
		"referee_role_id":            {"type": "integer", "minimum": 0},
		"player_role_id":             {"type": "integer", "minimum": 0},
		"staff_role_ids":             {"type": "array", "items": {"type": "integer", "minimum": 0}},
		"server_tag":                 {"type": "string", "maxLength": 32},
		"dm_reminders_enabled":       {"type": "boolean"}
	}
}`

// Settings is the decoded per-guild settings document. Zero values mean
// "not configured"; callers fall back to the static config.
type Settings struct {
	QuestBoardChannelID     int64   `json:"quest_board_channel_id,omitempty"`
	CharacterBoardChannelID int64   `json:"character_board_channel_id,omitempty"`
	DigestEnabled           bool    `json:"digest_enabled,omitempty"`
	DigestChannelID         int64   `json:"digest_channel_id,omitempty"`
	RefereeRoleID           int64   `json:"referee_role_id,omitempty"`
	PlayerRoleID            int64   `json:"player_role_id,omitempty"`
	StaffRoleIDs            []int64 `json:"staff_role_ids,omitempty"`
	ServerTag               string  `json:"server_tag,omitempty"`
	DMRemindersEnabled      bool    `json:"dm_reminders_enabled,omitempty"`
}

// LookupStore is the slice of the store the settings service needs.
type LookupStore interface {
	GetLookup(ctx context.Context, guildID int64, name string) (json.RawMessage, error)
	SetLookup(ctx context.Context, guildID int64, name string, doc json.RawMessage) error
}

type Service struct {
	store  LookupStore
	schema *jsonschema.Schema

	mu    sync.RWMutex
	cache map[int64]Settings
}

func NewService(store LookupStore) (*Service, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("parse settings schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("settings.json", doc); err != nil {
		return nil, fmt.Errorf("add settings schema: %w", err)
	}
	schema, err := compiler.Compile("settings.json")
	if err != nil {
		return nil, fmt.Errorf("compile settings schema: %w", err)
	}
	return &Service{
		store:  store,
		schema: schema,
		cache:  make(map[int64]Settings),
	}, nil
}

// Get returns the guild's settings, or the zero value when none are stored.
func (s *Service) Get(ctx context.Context, guildID int64) (Settings, error) {
	s.mu.RLock()
	if cached, ok := s.cache[guildID]; ok {
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	raw, err := s.store.GetLookup(ctx, guildID, lookupName)
	if errors.Is(err, domain.ErrNotFound) {
		return Settings{}, nil
	}
	if err != nil {
		return Settings{}, err
	}

	var out Settings
	if err := json.Unmarshal(raw, &out); err != nil {
		return Settings{}, fmt.Errorf("decode settings for guild %d: %w", guildID, err)
	}

	s.mu.Lock()
	s.cache[guildID] = out
	s.mu.Unlock()
	return out, nil
}

// Update validates the raw document against the schema and persists it.
func (s *Service) Update(ctx context.Context, guildID int64, raw json.RawMessage) (Settings, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Settings{}, domain.Validationf("settings payload is not valid JSON")
	}
	if err := s.schema.Validate(inst); err != nil {
		return Settings{}, domain.Validationf("settings payload rejected: %v", err)
	}

	var out Settings
	if err := json.Unmarshal(raw, &out); err != nil {
		return Settings{}, domain.Validationf("settings payload rejected: %v", err)
	}

	if err := s.store.SetLookup(ctx, guildID, lookupName, raw); err != nil {
		return Settings{}, err
	}

	s.mu.Lock()
	s.cache[guildID] = out
	s.mu.Unlock()
	return out, nil
}

// Invalidate drops the cached document for a guild, forcing a re-read.
func (s *Service) Invalidate(guildID int64) {
	s.mu.Lock()
	delete(s.cache, guildID)
	s.mu.Unlock()
}
