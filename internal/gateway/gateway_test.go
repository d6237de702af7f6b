package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/piyushsatti/nonagon/internal/bus"
	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/ids"
	"github.com/piyushsatti/nonagon/internal/store"
)

var t0 = time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)

const (
	testGuild = int64(1001)
	authToken = "test-token"
	jwtSecret = "test-secret"
)

type fixture struct {
	srv   *httptest.Server
	store *store.Store
	bus   *bus.Bus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	b := bus.New()
	gw := New(Config{
		Store:         st,
		Bus:           b,
		AuthToken:     authToken,
		JWTSecret:     jwtSecret,
		JWTExpiration: time.Hour,
	})
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: st, bus: b}
}

// request performs an authenticated JSON request and decodes the body.
func (f *fixture) request(t *testing.T, method, path, token string, payload any) (int, json.RawMessage) {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var raw json.RawMessage
	_ = json.NewDecoder(resp.Body).Decode(&raw)
	return resp.StatusCode, raw
}

func detail(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var eb struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &eb); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, raw)
	}
	return eb.Detail
}

func validQuest() *domain.Quest {
	q := domain.NewQuest(testGuild, ids.NewUser(), t0)
	q.Title = "Tomb Run"
	q.StartingAt = t0.Add(72 * time.Hour)
	q.Duration = domain.Seconds(3 * time.Hour)
	return q
}

func TestQuestPutGetRoundTrip(t *testing.T) {
	f := newFixture(t)
	q := validQuest()
	path := fmt.Sprintf("/v1/guilds/%d/quests/%s", testGuild, q.QuestID)

	status, _ := f.request(t, http.MethodPut, path, authToken, q)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}

	status, raw := f.request(t, http.MethodGet, path, authToken, nil)
	if status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	got, err := domain.DecodeQuest(raw)
	if err != nil || got.Title != "Tomb Run" {
		t.Fatalf("decode: %v %+v", err, got)
	}

	// Second PUT is an update, not a create.
	q.Title = "Tomb Run II"
	status, _ = f.request(t, http.MethodPut, path, authToken, q)
	if status != http.StatusOK {
		t.Fatalf("update status = %d", status)
	}
}

func TestGetMissingQuestIs404WithDetail(t *testing.T) {
	f := newFixture(t)
	path := fmt.Sprintf("/v1/guilds/%d/quests/%s", testGuild, ids.NewQuest())

	status, raw := f.request(t, http.MethodGet, path, authToken, nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d", status)
	}
	if d := detail(t, raw); !strings.Contains(d, "not found") {
		t.Fatalf("detail = %q", d)
	}
}

func TestPutRejectsPathMismatch(t *testing.T) {
	f := newFixture(t)
	q := validQuest()
	// The URL names a different quest than the document.
	path := fmt.Sprintf("/v1/guilds/%d/quests/%s", testGuild, ids.NewQuest())

	status, raw := f.request(t, http.MethodPut, path, authToken, q)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}
	if d := detail(t, raw); !strings.Contains(d, "does not match") {
		t.Fatalf("detail = %q", d)
	}
}

func TestPutRejectsInvalidDocument(t *testing.T) {
	f := newFixture(t)
	q := validQuest()
	q.Status = "LIMBO"
	path := fmt.Sprintf("/v1/guilds/%d/quests/%s", testGuild, q.QuestID)

	status, raw := f.request(t, http.MethodPut, path, authToken, q)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}
	if d := detail(t, raw); !strings.Contains(d, "status") {
		t.Fatalf("detail = %q", d)
	}
}

func TestWrongKindInPathIs400(t *testing.T) {
	f := newFixture(t)
	// A USER id in the quest slot.
	path := fmt.Sprintf("/v1/guilds/%d/quests/%s", testGuild, ids.NewUser())
	status, _ := f.request(t, http.MethodGet, path, authToken, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d", status)
	}
}

func TestListQuestsFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := validQuest()
	if err := f.store.UpsertQuest(ctx, draft); err != nil {
		t.Fatalf("seed draft: %v", err)
	}
	announced := validQuest()
	announced.Status = domain.QuestAnnounced
	if err := f.store.UpsertQuest(ctx, announced); err != nil {
		t.Fatalf("seed announced: %v", err)
	}

	path := fmt.Sprintf("/v1/guilds/%d/quests?status=ANNOUNCED", testGuild)
	status, raw := f.request(t, http.MethodGet, path, authToken, nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var quests []json.RawMessage
	if err := json.Unmarshal(raw, &quests); err != nil || len(quests) != 1 {
		t.Fatalf("quests = %v (%d)", err, len(quests))
	}

	status, _ = f.request(t, http.MethodGet, fmt.Sprintf("/v1/guilds/%d/quests", testGuild), authToken, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("missing status filter accepted: %d", status)
	}
}

func TestUserPutRoundTrip(t *testing.T) {
	f := newFixture(t)
	u := domain.NewUser(testGuild, 42, t0)
	path := fmt.Sprintf("/v1/guilds/%d/users/%s", testGuild, u.UserID)

	status, _ := f.request(t, http.MethodPut, path, authToken, u)
	if status != http.StatusCreated {
		t.Fatalf("create status = %d", status)
	}
	status, raw := f.request(t, http.MethodGet, path, authToken, nil)
	if status != http.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	got, err := domain.DecodeUser(raw)
	if err != nil || got.DiscordID != 42 {
		t.Fatalf("decode: %v %+v", err, got)
	}
}

func TestHealthzIsUnauthenticated(t *testing.T) {
	f := newFixture(t)
	status, raw := f.request(t, http.MethodGet, "/healthz", "", nil)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil || payload["healthy"] != true {
		t.Fatalf("payload = %s", raw)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)
	path := fmt.Sprintf("/v1/guilds/%d/quests/%s", testGuild, ids.NewQuest())

	if status, _ := f.request(t, http.MethodGet, path, "", nil); status != http.StatusForbidden {
		t.Fatalf("no token status = %d", status)
	}
	if status, _ := f.request(t, http.MethodGet, path, "wrong", nil); status != http.StatusForbidden {
		t.Fatalf("bad token status = %d", status)
	}
}
