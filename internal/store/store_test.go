package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/ids"
)

var t0 = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustID(t *testing.T, raw string) ids.ID {
	t.Helper()
	id, err := ids.Parse(raw)
	if err != nil {
		t.Fatalf("parse id %q: %v", raw, err)
	}
	return id
}

func TestOpen_ReopenValidatesChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = s.Close()
}

func TestUserRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u := domain.NewUser(1001, 42, t0)
	u.EnableReferee()
	if err := s.UpsertUser(ctx, u); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.GetUser(ctx, 1001, u.UserID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != u.UserID || !got.HasRole(domain.RoleReferee) {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	byExt, err := s.FindUserByDiscordID(ctx, 1001, 42)
	if err != nil {
		t.Fatalf("find by discord id: %v", err)
	}
	if byExt.UserID != u.UserID {
		t.Fatalf("discord id lookup returned %s", byExt.UserID)
	}

	if _, err := s.GetUser(ctx, 1001, mustID(t, "USERZ9Y8X7")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpsertUser_Overwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	u := domain.NewUser(1001, 42, t0)
	if err := s.UpsertUser(ctx, u); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	u.RecordMessage(t0.Add(time.Minute))
	if err := s.UpsertUser(ctx, u); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.GetUser(ctx, 1001, u.UserID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Engagement.MessagesSent != 1 {
		t.Fatalf("expected updated doc, got %+v", got.Engagement)
	}
}

func TestDueAnnouncements(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ref := mustID(t, "USERA1B2C3")

	due := domain.NewQuest(1001, ref, t0)
	due.Title = "Due"
	if err := due.ScheduleAnnounce(t0.Add(time.Hour), t0); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	future := domain.NewQuest(1001, ref, t0)
	future.Title = "Future"
	if err := future.ScheduleAnnounce(t0.Add(48*time.Hour), t0); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	published := domain.NewQuest(1001, ref, t0)
	published.Title = "Published"
	if err := published.MarkAnnounced(domain.MessageRef{ChannelID: 9, MessageID: 10}, t0); err != nil {
		t.Fatalf("announce: %v", err)
	}

	for _, q := range []*domain.Quest{due, future, published} {
		if err := s.UpsertQuest(ctx, q); err != nil {
			t.Fatalf("upsert %s: %v", q.Title, err)
		}
	}

	got, err := s.DueAnnouncements(ctx, t0.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("due announcements: %v", err)
	}
	if len(got) != 1 || got[0].QuestID != due.QuestID {
		t.Fatalf("expected only the due quest, got %d results", len(got))
	}
}

func TestListQuestsByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	ref := mustID(t, "USERA1B2C3")

	draft := domain.NewQuest(1001, ref, t0)
	announced := domain.NewQuest(1001, ref, t0)
	if err := announced.MarkAnnounced(domain.MessageRef{ChannelID: 1, MessageID: 2}, t0); err != nil {
		t.Fatalf("announce: %v", err)
	}
	otherGuild := domain.NewQuest(2002, ref, t0)

	for _, q := range []*domain.Quest{draft, announced, otherGuild} {
		if err := s.UpsertQuest(ctx, q); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, err := s.ListQuestsByStatus(ctx, 1001, domain.QuestAnnounced)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].QuestID != announced.QuestID {
		t.Fatalf("unexpected result: %d quests", len(got))
	}
}

func TestCharacterAndSummaryRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := mustID(t, "USERA1B2C3")

	c := domain.NewCharacter(1001, owner, "Mira", t0)
	if err := s.UpsertCharacter(ctx, c); err != nil {
		t.Fatalf("upsert character: %v", err)
	}
	chars, err := s.ListCharactersByOwner(ctx, 1001, owner)
	if err != nil || len(chars) != 1 {
		t.Fatalf("list characters: %v (%d)", err, len(chars))
	}

	q := domain.NewQuest(1001, owner, t0)
	sm := domain.NewSummary(1001, domain.SummaryKindPlayer, owner, t0)
	sm.QuestID = &q.QuestID
	if err := s.UpsertSummary(ctx, sm); err != nil {
		t.Fatalf("upsert summary: %v", err)
	}
	sums, err := s.ListSummariesForQuest(ctx, 1001, q.QuestID)
	if err != nil || len(sums) != 1 {
		t.Fatalf("list summaries: %v (%d)", err, len(sums))
	}
	if sums[0].SummaryID != sm.SummaryID {
		t.Fatalf("summary mismatch: %s", sums[0].SummaryID)
	}
}

func TestLookupRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetLookup(ctx, 1001, "settings", json.RawMessage(`{"digest_enabled":true}`)); err != nil {
		t.Fatalf("set lookup: %v", err)
	}
	doc, err := s.GetLookup(ctx, 1001, "settings")
	if err != nil {
		t.Fatalf("get lookup: %v", err)
	}
	var parsed map[string]any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		t.Fatalf("unmarshal lookup: %v", err)
	}
	if parsed["digest_enabled"] != true {
		t.Fatalf("unexpected lookup doc: %v", parsed)
	}

	if err := s.SetLookup(ctx, 1001, "settings", json.RawMessage(`not json`)); err == nil {
		t.Fatal("invalid JSON must be rejected")
	}
	if _, err := s.GetLookup(ctx, 1001, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSearchLookups_PrefixOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for name, doc := range map[string]string{
		"channels.board": `{"id": 1}`,
		"channels.log":   `{"id": 2}`,
		"roles.referee":  `{"id": 3}`,
	} {
		if err := s.SetLookup(ctx, 1001, name, json.RawMessage(doc)); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}
	if err := s.SetLookup(ctx, 2002, "channels.board", json.RawMessage(`{"id": 9}`)); err != nil {
		t.Fatalf("set other guild: %v", err)
	}

	all, err := s.ListLookups(ctx, 1001)
	if err != nil || len(all) != 3 {
		t.Fatalf("list: %v (%d)", err, len(all))
	}
	if all[0].Name != "channels.board" {
		t.Fatalf("list order: %v", all[0].Name)
	}

	hits, err := s.SearchLookups(ctx, 1001, "channels.")
	if err != nil || len(hits) != 2 {
		t.Fatalf("search: %v (%d)", err, len(hits))
	}
	for _, h := range hits {
		if !strings.HasPrefix(h.Name, "channels.") {
			t.Fatalf("hit %q outside prefix", h.Name)
		}
	}

	// An underscore in the prefix is a literal, not a wildcard.
	if err := s.SetLookup(ctx, 1001, "a_b", json.RawMessage(`1`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.SetLookup(ctx, 1001, "axb", json.RawMessage(`2`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	hits, err = s.SearchLookups(ctx, 1001, "a_")
	if err != nil || len(hits) != 1 || hits[0].Name != "a_b" {
		t.Fatalf("underscore search: %v %v", err, hits)
	}
}

func TestVoiceSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.OpenVoiceSession(ctx, 1001, 42, 7, t0); err != nil {
		t.Fatalf("open: %v", err)
	}
	seconds, err := s.CloseVoiceSession(ctx, 1001, 42, t0.Add(90*time.Second))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if seconds != 90 {
		t.Fatalf("seconds = %d, want 90", seconds)
	}

	// Closing with nothing open is a no-op.
	seconds, err = s.CloseVoiceSession(ctx, 1001, 42, t0.Add(time.Hour))
	if err != nil || seconds != 0 {
		t.Fatalf("idle close: %d, %v", seconds, err)
	}
}

func TestGuildIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, gid := range []int64{2002, 1001} {
		u := domain.NewUser(gid, gid*10, t0)
		if err := s.UpsertUser(ctx, u); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	got, err := s.GuildIDs(ctx)
	if err != nil {
		t.Fatalf("guild ids: %v", err)
	}
	if len(got) != 2 || got[0] != 1001 || got[1] != 2002 {
		t.Fatalf("guild ids = %v", got)
	}
}
