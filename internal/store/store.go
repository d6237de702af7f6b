// Package store is the sqlite persistence layer. Entities are stored as
// JSON documents per guild, with a handful of denormalised columns for the
// queries the schedulers and cache loaders run.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/piyushsatti/nonagon/internal/audit"
	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/ids"
)

const (
	// Schema ledger constants used to gate startup safety.
	schemaVersionV1  = 1
	schemaChecksumV1 = "ng-v1-2026-04-02-guild-collections"

	// v2: adds voice_sessions table + quests.announce_at column.
	schemaVersionV2  = 2
	schemaChecksumV2 = "ng-v2-2026-05-19-voice-deferred-announce"

	schemaVersionLatest  = schemaVersionV2
	schemaChecksumLatest = schemaChecksumV2
)

type Store struct {
	db *sql.DB
}

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".nonagon", "nonagon.db")
}

func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.configurePragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// retryOnBusy retries f when SQLite returns BUSY or LOCKED, using exponential
// backoff with bounded jitter. maxRetries=5 gives ~3s total wait on top of the
// driver's busy_timeout (5s).
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		// Exponential backoff: 50ms, 100ms, 200ms, 400ms, 500ms (capped).
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		// Add jitter: ±25% of delay.
		jitter := time.Duration(rand.IntN(int(delay / 2)))
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy checks if an error is a SQLite BUSY (5) or LOCKED (6) error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	// mattn/go-sqlite3 wraps errors as sqlite3.Error with Code field.
	// Check the error string for the code to avoid a direct dependency
	// on the sqlite3 package in non-CGO-importing code paths.
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") || // SQLITE_BUSY
		strings.Contains(msg, "(6)") // SQLITE_LOCKED
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}
	if maxVersion > schemaVersionLatest {
		return fmt.Errorf("db schema version %d is newer than supported %d", maxVersion, schemaVersionLatest)
	}

	// If we're already at the latest schema, verify the checksum and stop.
	if maxVersion == schemaVersionLatest {
		var existingChecksum string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersionLatest).Scan(&existingChecksum); err != nil {
			return fmt.Errorf("read schema migration checksum: %w", err)
		}
		if existingChecksum != schemaChecksumLatest {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersionLatest, existingChecksum, schemaChecksumLatest)
		}
		return tx.Commit()
	}

	// Upgrading from an earlier schema. Validate the checksum of the version
	// we are upgrading from.
	if maxVersion == schemaVersionV1 {
		var existingChecksum string
		if err := tx.QueryRowContext(ctx, `SELECT checksum FROM schema_migrations WHERE version = ?;`, schemaVersionV1).Scan(&existingChecksum); err != nil {
			return fmt.Errorf("read schema migration checksum: %w", err)
		}
		if existingChecksum != schemaChecksumV1 {
			return fmt.Errorf("schema checksum mismatch for version %d: got %q want %q", schemaVersionV1, existingChecksum, schemaChecksumV1)
		}
	}

	// Phase 1: Tables.
	tableStatements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			guild_id INTEGER NOT NULL,
			user_id TEXT NOT NULL,
			discord_id INTEGER NOT NULL DEFAULT 0,
			doc JSON NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (guild_id, user_id)
		);`,
		`CREATE TABLE IF NOT EXISTS quests (
			guild_id INTEGER NOT NULL,
			quest_id TEXT NOT NULL,
			referee_id TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('DRAFT', 'ANNOUNCED', 'STARTED', 'COMPLETED', 'CANCELLED')),
			announce_at DATETIME,
			announce_channel_id INTEGER NOT NULL DEFAULT 0,
			doc JSON NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (guild_id, quest_id)
		);`,
		`CREATE TABLE IF NOT EXISTS characters (
			guild_id INTEGER NOT NULL,
			character_id TEXT NOT NULL,
			owner_id TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('ACTIVE', 'RETIRED')),
			doc JSON NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (guild_id, character_id)
		);`,
		`CREATE TABLE IF NOT EXISTS summaries (
			guild_id INTEGER NOT NULL,
			summary_id TEXT NOT NULL,
			quest_id TEXT,
			status TEXT NOT NULL CHECK(status IN ('DRAFT', 'POSTED')),
			doc JSON NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (guild_id, summary_id)
		);`,
		`CREATE TABLE IF NOT EXISTS lookups (
			guild_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			doc JSON NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (guild_id, name)
		);`,
		`CREATE TABLE IF NOT EXISTS voice_sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id INTEGER NOT NULL,
			discord_id INTEGER NOT NULL,
			channel_id INTEGER NOT NULL,
			joined_at DATETIME NOT NULL,
			left_at DATETIME,
			seconds INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			audit_id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id INTEGER,
			actor TEXT,
			action TEXT NOT NULL,
			outcome TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, stmt := range tableStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	// Phase 2: Backfills for v1 databases (ALTER TABLE is idempotent-guarded).
	alterStatements := []struct {
		stmt string
		desc string
	}{
		{stmt: `ALTER TABLE quests ADD COLUMN announce_at DATETIME;`, desc: "quests.announce_at"},
		{stmt: `ALTER TABLE quests ADD COLUMN announce_channel_id INTEGER NOT NULL DEFAULT 0;`, desc: "quests.announce_channel_id"},
	}
	for _, a := range alterStatements {
		if _, err := tx.ExecContext(ctx, a.stmt); err != nil && !strings.Contains(err.Error(), "duplicate column name") {
			return fmt.Errorf("add %s: %w", a.desc, err)
		}
	}

	// Phase 3: Indexes (may reference columns added by backfills).
	indexStatements := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_discord ON users(guild_id, discord_id);`,
		`CREATE INDEX IF NOT EXISTS idx_quests_status ON quests(guild_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_quests_due ON quests(announce_at, announce_channel_id);`,
		`CREATE INDEX IF NOT EXISTS idx_characters_owner ON characters(guild_id, owner_id);`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_quest ON summaries(guild_id, quest_id);`,
		`CREATE INDEX IF NOT EXISTS idx_voice_open ON voice_sessions(guild_id, discord_id, left_at);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_guild_time ON audit_log(guild_id, created_at DESC);`,
	}
	for _, stmt := range indexStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec migration index: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO schema_migrations (version, checksum)
		VALUES (?, ?);
	`, schemaVersionLatest, schemaChecksumLatest); err != nil {
		return fmt.Errorf("insert schema migration ledger: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration tx: %w", err)
	}

	audit.Record("data.migration", "ok", "system", 0,
		fmt.Sprintf("schema migrated from v%d to v%d (checksum %s)", maxVersion, schemaVersionLatest, schemaChecksumLatest))
	return nil
}

// --- users ---

func (s *Store) UpsertUser(ctx context.Context, u *domain.User) error {
	doc, err := domain.EncodeUser(u)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO users (guild_id, user_id, discord_id, doc, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(guild_id, user_id) DO UPDATE SET
				discord_id = excluded.discord_id,
				doc = excluded.doc,
				updated_at = CURRENT_TIMESTAMP;
		`, u.GuildID, u.UserID.String(), u.DiscordID, string(doc))
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

func (s *Store) GetUser(ctx context.Context, guildID int64, id ids.ID) (*domain.User, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM users WHERE guild_id = ? AND user_id = ?;
	`, guildID, id.String()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("user %s not found in guild %d", id, guildID)
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return domain.DecodeUser([]byte(doc))
}

func (s *Store) FindUserByDiscordID(ctx context.Context, guildID, discordID int64) (*domain.User, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM users WHERE guild_id = ? AND discord_id = ?;
	`, guildID, discordID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("member %d not found in guild %d", discordID, guildID)
	}
	if err != nil {
		return nil, fmt.Errorf("select user by discord id: %w", err)
	}
	return domain.DecodeUser([]byte(doc))
}

func (s *Store) ListUsers(ctx context.Context, guildID int64) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM users WHERE guild_id = ? ORDER BY user_id;
	`, guildID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []*domain.User
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u, err := domain.DecodeUser([]byte(doc))
		if err != nil {
			return nil, fmt.Errorf("decode user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- quests ---

func (s *Store) UpsertQuest(ctx context.Context, q *domain.Quest) error {
	doc, err := domain.EncodeQuest(q)
	if err != nil {
		return fmt.Errorf("encode quest: %w", err)
	}
	var announceAt any
	if q.AnnounceAt != nil {
		announceAt = q.AnnounceAt.UTC()
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO quests (guild_id, quest_id, referee_id, status, announce_at, announce_channel_id, doc, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(guild_id, quest_id) DO UPDATE SET
				referee_id = excluded.referee_id,
				status = excluded.status,
				announce_at = excluded.announce_at,
				announce_channel_id = excluded.announce_channel_id,
				doc = excluded.doc,
				updated_at = CURRENT_TIMESTAMP;
		`, q.GuildID, q.QuestID.String(), q.RefereeID.String(), string(q.Status),
			announceAt, q.Announce.ChannelID, string(doc))
		if err != nil {
			return fmt.Errorf("upsert quest: %w", err)
		}
		return nil
	})
}

func (s *Store) GetQuest(ctx context.Context, guildID int64, id ids.ID) (*domain.Quest, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM quests WHERE guild_id = ? AND quest_id = ?;
	`, guildID, id.String()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("quest %s not found in guild %d", id, guildID)
	}
	if err != nil {
		return nil, fmt.Errorf("select quest: %w", err)
	}
	return domain.DecodeQuest([]byte(doc))
}

func (s *Store) ListQuestsByStatus(ctx context.Context, guildID int64, status domain.QuestStatus) ([]*domain.Quest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM quests WHERE guild_id = ? AND status = ? ORDER BY quest_id;
	`, guildID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list quests: %w", err)
	}
	defer rows.Close()
	return scanQuests(rows)
}

// DueAnnouncements returns quests across all guilds whose deferred announce
// time has passed and that have no announcement coordinates yet.
func (s *Store) DueAnnouncements(ctx context.Context, now time.Time) ([]*domain.Quest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM quests
		WHERE announce_at IS NOT NULL
		  AND announce_at <= ?
		  AND announce_channel_id = 0
		ORDER BY announce_at;
	`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list due announcements: %w", err)
	}
	defer rows.Close()
	return scanQuests(rows)
}

func scanQuests(rows *sql.Rows) ([]*domain.Quest, error) {
	var out []*domain.Quest
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan quest: %w", err)
		}
		q, err := domain.DecodeQuest([]byte(doc))
		if err != nil {
			return nil, fmt.Errorf("decode quest: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// --- characters ---

func (s *Store) UpsertCharacter(ctx context.Context, c *domain.Character) error {
	doc, err := domain.EncodeCharacter(c)
	if err != nil {
		return fmt.Errorf("encode character: %w", err)
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO characters (guild_id, character_id, owner_id, status, doc, updated_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(guild_id, character_id) DO UPDATE SET
				owner_id = excluded.owner_id,
				status = excluded.status,
				doc = excluded.doc,
				updated_at = CURRENT_TIMESTAMP;
		`, c.GuildID, c.CharacterID.String(), c.OwnerID.String(), string(c.Status), string(doc))
		if err != nil {
			return fmt.Errorf("upsert character: %w", err)
		}
		return nil
	})
}

func (s *Store) GetCharacter(ctx context.Context, guildID int64, id ids.ID) (*domain.Character, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM characters WHERE guild_id = ? AND character_id = ?;
	`, guildID, id.String()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("character %s not found in guild %d", id, guildID)
	}
	if err != nil {
		return nil, fmt.Errorf("select character: %w", err)
	}
	return domain.DecodeCharacter([]byte(doc))
}

func (s *Store) ListCharactersByOwner(ctx context.Context, guildID int64, ownerID ids.ID) ([]*domain.Character, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM characters WHERE guild_id = ? AND owner_id = ? ORDER BY character_id;
	`, guildID, ownerID.String())
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}
	defer rows.Close()

	var out []*domain.Character
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan character: %w", err)
		}
		c, err := domain.DecodeCharacter([]byte(doc))
		if err != nil {
			return nil, fmt.Errorf("decode character: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- summaries ---

func (s *Store) UpsertSummary(ctx context.Context, sm *domain.Summary) error {
	doc, err := domain.EncodeSummary(sm)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	var questID any
	if sm.QuestID != nil {
		questID = sm.QuestID.String()
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO summaries (guild_id, summary_id, quest_id, status, doc, updated_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(guild_id, summary_id) DO UPDATE SET
				quest_id = excluded.quest_id,
				status = excluded.status,
				doc = excluded.doc,
				updated_at = CURRENT_TIMESTAMP;
		`, sm.GuildID, sm.SummaryID.String(), questID, string(sm.Status), string(doc))
		if err != nil {
			return fmt.Errorf("upsert summary: %w", err)
		}
		return nil
	})
}

func (s *Store) GetSummary(ctx context.Context, guildID int64, id ids.ID) (*domain.Summary, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM summaries WHERE guild_id = ? AND summary_id = ?;
	`, guildID, id.String()).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("summary %s not found in guild %d", id, guildID)
	}
	if err != nil {
		return nil, fmt.Errorf("select summary: %w", err)
	}
	return domain.DecodeSummary([]byte(doc))
}

func (s *Store) ListSummariesForQuest(ctx context.Context, guildID int64, questID ids.ID) ([]*domain.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM summaries WHERE guild_id = ? AND quest_id = ? ORDER BY summary_id;
	`, guildID, questID.String())
	if err != nil {
		return nil, fmt.Errorf("list summaries: %w", err)
	}
	defer rows.Close()

	var out []*domain.Summary
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sm, err := domain.DecodeSummary([]byte(doc))
		if err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// --- lookups ---

// GetLookup reads a named per-guild lookup document (settings, channel maps).
func (s *Store) GetLookup(ctx context.Context, guildID int64, name string) (json.RawMessage, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM lookups WHERE guild_id = ? AND name = ?;
	`, guildID, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("lookup %q not found in guild %d", name, guildID)
	}
	if err != nil {
		return nil, fmt.Errorf("select lookup: %w", err)
	}
	return json.RawMessage(doc), nil
}

func (s *Store) SetLookup(ctx context.Context, guildID int64, name string, doc json.RawMessage) error {
	if !json.Valid(doc) {
		return domain.Validationf("lookup %q payload is not valid JSON", name)
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO lookups (guild_id, name, doc, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(guild_id, name) DO UPDATE SET
				doc = excluded.doc,
				updated_at = CURRENT_TIMESTAMP;
		`, guildID, name, string(doc))
		if err != nil {
			return fmt.Errorf("upsert lookup: %w", err)
		}
		return nil
	})
}

// NamedLookup pairs a lookup name with its document.
type NamedLookup struct {
	Name string          `json:"name"`
	Doc  json.RawMessage `json:"doc"`
}

// ListLookups returns every lookup document in the guild, ordered by name.
func (s *Store) ListLookups(ctx context.Context, guildID int64) ([]NamedLookup, error) {
	return s.queryLookups(ctx, `
		SELECT name, doc FROM lookups WHERE guild_id = ? ORDER BY name;
	`, guildID)
}

// SearchLookups returns the guild's lookups whose name starts with prefix.
func (s *Store) SearchLookups(ctx context.Context, guildID int64, prefix string) ([]NamedLookup, error) {
	pattern := strings.ReplaceAll(strings.ReplaceAll(prefix, `\`, `\\`), "%", `\%`)
	pattern = strings.ReplaceAll(pattern, "_", `\_`) + "%"
	return s.queryLookups(ctx, `
		SELECT name, doc FROM lookups
		WHERE guild_id = ? AND name LIKE ? ESCAPE '\'
		ORDER BY name;
	`, guildID, pattern)
}

func (s *Store) queryLookups(ctx context.Context, query string, args ...any) ([]NamedLookup, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list lookups: %w", err)
	}
	defer rows.Close()

	var out []NamedLookup
	for rows.Next() {
		var nl NamedLookup
		var doc string
		if err := rows.Scan(&nl.Name, &doc); err != nil {
			return nil, fmt.Errorf("scan lookup: %w", err)
		}
		nl.Doc = json.RawMessage(doc)
		out = append(out, nl)
	}
	return out, rows.Err()
}

// --- voice sessions ---

// OpenVoiceSession records a member joining a voice channel. An already-open
// session for the member is closed first so time is never double counted.
func (s *Store) OpenVoiceSession(ctx context.Context, guildID, discordID, channelID int64, at time.Time) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin voice tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `
			UPDATE voice_sessions
			SET left_at = ?, seconds = CAST((julianday(?) - julianday(joined_at)) * 86400 AS INTEGER)
			WHERE guild_id = ? AND discord_id = ? AND left_at IS NULL;
		`, at.UTC(), at.UTC(), guildID, discordID); err != nil {
			return fmt.Errorf("close stale voice session: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO voice_sessions (guild_id, discord_id, channel_id, joined_at)
			VALUES (?, ?, ?, ?);
		`, guildID, discordID, channelID, at.UTC()); err != nil {
			return fmt.Errorf("open voice session: %w", err)
		}
		return tx.Commit()
	})
}

// CloseVoiceSession closes the member's open session and returns its length.
// Returns 0 with no error when no session was open.
func (s *Store) CloseVoiceSession(ctx context.Context, guildID, discordID int64, at time.Time) (int64, error) {
	var seconds int64
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin voice tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var id int64
		var joined time.Time
		err = tx.QueryRowContext(ctx, `
			SELECT id, joined_at FROM voice_sessions
			WHERE guild_id = ? AND discord_id = ? AND left_at IS NULL
			ORDER BY id DESC LIMIT 1;
		`, guildID, discordID).Scan(&id, &joined)
		if errors.Is(err, sql.ErrNoRows) {
			seconds = 0
			return tx.Commit()
		}
		if err != nil {
			return fmt.Errorf("select open voice session: %w", err)
		}

		seconds = int64(at.UTC().Sub(joined.UTC()) / time.Second)
		if seconds < 0 {
			seconds = 0
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE voice_sessions SET left_at = ?, seconds = ? WHERE id = ?;
		`, at.UTC(), seconds, id); err != nil {
			return fmt.Errorf("close voice session: %w", err)
		}
		return tx.Commit()
	})
	return seconds, err
}

// GuildIDs returns every guild with at least one persisted user, for the
// startup cache load.
func (s *Store) GuildIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT guild_id FROM users ORDER BY guild_id;
	`)
	if err != nil {
		return nil, fmt.Errorf("list guild ids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan guild id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
