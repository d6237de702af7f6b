package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/ids"
)

var t0 = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

func mustID(t *testing.T, raw string) ids.ID {
	t.Helper()
	id, err := ids.Parse(raw)
	if err != nil {
		t.Fatalf("parse id %q: %v", raw, err)
	}
	return id
}

func TestGetQuest_RoundTrip(t *testing.T) {
	q := domain.NewQuest(1001, mustID(t, "USERA1B2C3"), t0)
	q.Title = "Tomb Run"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		want := "/v1/guilds/1001/quests/" + q.QuestID.String()
		if r.URL.Path != want {
			t.Errorf("path = %q, want %q", r.URL.Path, want)
		}
		_ = json.NewEncoder(w).Encode(q)
	}))
	defer srv.Close()

	c := New(srv.URL, 0, nil)
	got, err := c.GetQuest(context.Background(), 1001, q.QuestID)
	if err != nil {
		t.Fatalf("get quest: %v", err)
	}
	if got.Title != "Tomb Run" || got.QuestID != q.QuestID {
		t.Fatalf("unexpected quest: %+v", got)
	}
}

func TestUpsertUser_SendsJSONBody(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	u := domain.NewUser(1001, 42, t0)
	c := New(srv.URL, 0, nil)
	if err := c.UpsertUser(context.Background(), u); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	if received["guild_id"] != float64(1001) {
		t.Fatalf("body guild_id = %v", received["guild_id"])
	}
}

func TestSignupOperations_HitOperationPaths(t *testing.T) {
	guildID := int64(1001)
	questID := mustID(t, "QUESA1B2C3")
	userID := mustID(t, "USERA1B2C3")
	charID := mustID(t, "CHARA1B2C3")

	q := domain.NewQuest(guildID, mustID(t, "USERD4E5F6"), t0)
	q.QuestID = questID
	q.Status = domain.QuestAnnounced

	var gotPath, gotMethod string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		gotBody = nil
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(q)
	}))
	defer srv.Close()
	c := New(srv.URL, 0, nil)
	ctx := context.Background()

	if _, err := c.AddSignup(ctx, guildID, questID, userID, charID); err != nil {
		t.Fatalf("add signup: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/guilds/1001/quests/QUESA1B2C3/signups" {
		t.Fatalf("add signup hit %s %s", gotMethod, gotPath)
	}
	if gotBody["user_id"] != "USERA1B2C3" || gotBody["character_id"] != "CHARA1B2C3" {
		t.Fatalf("add signup body = %v", gotBody)
	}

	if _, err := c.SelectSignup(ctx, guildID, questID, userID); err != nil {
		t.Fatalf("select signup: %v", err)
	}
	if gotPath != "/v1/guilds/1001/quests/QUESA1B2C3/signups/USERA1B2C3:select" {
		t.Fatalf("select signup hit %s", gotPath)
	}

	if _, err := c.RemoveSignup(ctx, guildID, questID, userID); err != nil {
		t.Fatalf("remove signup: %v", err)
	}
	if gotMethod != http.MethodDelete || gotPath != "/v1/guilds/1001/quests/QUESA1B2C3/signups/USERA1B2C3" {
		t.Fatalf("remove signup hit %s %s", gotMethod, gotPath)
	}

	if _, err := c.CloseSignups(ctx, guildID, questID); err != nil {
		t.Fatalf("close signups: %v", err)
	}
	if gotPath != "/v1/guilds/1001/quests/QUESA1B2C3:closeSignups" {
		t.Fatalf("close signups hit %s", gotPath)
	}
}

func TestLifecycleOperations_HitOperationPaths(t *testing.T) {
	guildID := int64(1001)
	questID := mustID(t, "QUESA1B2C3")
	refID := mustID(t, "USERA1B2C3")

	q := domain.NewQuest(guildID, refID, t0)
	q.QuestID = questID

	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody = nil
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(q)
	}))
	defer srv.Close()
	c := New(srv.URL, 0, nil)
	ctx := context.Background()

	if _, err := c.NudgeQuest(ctx, guildID, questID, refID); err != nil {
		t.Fatalf("nudge: %v", err)
	}
	if gotPath != "/v1/guilds/1001/quests/QUESA1B2C3:nudge" || gotBody["referee_id"] != "USERA1B2C3" {
		t.Fatalf("nudge hit %s body %v", gotPath, gotBody)
	}

	if _, err := c.CompleteQuest(ctx, guildID, questID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if gotPath != "/v1/guilds/1001/quests/QUESA1B2C3:setCompleted" {
		t.Fatalf("complete hit %s", gotPath)
	}

	if _, err := c.CancelQuest(ctx, guildID, questID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if gotPath != "/v1/guilds/1001/quests/QUESA1B2C3:setCancelled" {
		t.Fatalf("cancel hit %s", gotPath)
	}

	ref := domain.MessageRef{ChannelID: 55, MessageID: 77}
	if _, err := c.AnnounceQuest(ctx, guildID, questID, ref); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if gotPath != "/v1/guilds/1001/quests/QUESA1B2C3:setAnnounced" || gotBody["message_id"] != float64(77) {
		t.Fatalf("announce hit %s body %v", gotPath, gotBody)
	}
}

func TestSignupOperation_ConflictSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "You already requested to join this quest."})
	}))
	defer srv.Close()

	c := New(srv.URL, 0, nil)
	_, err := c.AddSignup(context.Background(), 1001,
		mustID(t, "QUESA1B2C3"), mustID(t, "USERA1B2C3"), mustID(t, "CHARA1B2C3"))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, domain.ErrValidation},
		{http.StatusUnauthorized, domain.ErrUnauthorized},
		{http.StatusForbidden, domain.ErrUnauthorized},
		{http.StatusNotFound, domain.ErrNotFound},
		{http.StatusConflict, domain.ErrConflict},
		{http.StatusInternalServerError, domain.ErrTransient},
		{http.StatusBadGateway, domain.ErrTransient},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_ = json.NewEncoder(w).Encode(map[string]string{"detail": "nope"})
		}))
		c := New(srv.URL, 0, nil)
		_, err := c.GetQuest(context.Background(), 1001, mustID(t, "QUESA1B2C3"))
		if !errors.Is(err, tc.want) {
			t.Errorf("status %d: got %v, want kind %v", tc.status, err, tc.want)
		}
		srv.Close()
	}
}

func TestErrorDetailSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "referee_id is required"})
	}))
	defer srv.Close()

	c := New(srv.URL, 0, nil)
	_, err := c.GetQuest(context.Background(), 1001, mustID(t, "QUESA1B2C3"))
	if err == nil || domain.UserMessage(err) != "referee_id is required" {
		t.Fatalf("expected detail surfaced, got %v", err)
	}
}

func TestConnectionRefusedIsTransient(t *testing.T) {
	// Point at a closed port.
	c := New("http://127.0.0.1:1", 500*time.Millisecond, nil)
	err := c.Healthy(context.Background())
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestGraphQL_MemberProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer site-token" {
			t.Errorf("authorization = %q", auth)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		vars := req["variables"].(map[string]any)
		if vars["discordId"] != "42" {
			t.Errorf("discordId = %v", vars["discordId"])
		}
		_, _ = w.Write([]byte(`{"data":{"member":{"discordId":"42","displayName":"Mira","timezone":"UTC"}}}`))
	}))
	defer srv.Close()

	g := NewGraphQL(srv.URL, "site-token", 0)
	profile, err := g.MemberProfile(context.Background(), 1001, 42)
	if err != nil {
		t.Fatalf("member profile: %v", err)
	}
	if profile.DiscordID != 42 || profile.DisplayName != "Mira" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
}

func TestGraphQL_NullMemberIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"member":null}}`))
	}))
	defer srv.Close()

	g := NewGraphQL(srv.URL, "", 0)
	if _, err := g.MemberProfile(context.Background(), 1001, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGraphQL_ErrorsSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"member not found"}]}`))
	}))
	defer srv.Close()

	g := NewGraphQL(srv.URL, "", 0)
	if _, err := g.MemberProfile(context.Background(), 1001, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found from graphql error, got %v", err)
	}
}
