package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/piyushsatti/nonagon/internal/ids"
)

func TestIssueTokenAndAuthorizeWithJWT(t *testing.T) {
	f := newFixture(t)

	status, raw := f.request(t, http.MethodPost, "/v1/auth/token", authToken, nil)
	if status != http.StatusOK {
		t.Fatalf("issue status = %d (%s)", status, raw)
	}
	var issued struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := json.Unmarshal(raw, &issued); err != nil || issued.Token == "" {
		t.Fatalf("issue payload: %v (%s)", err, raw)
	}
	if issued.ExpiresAt <= time.Now().Unix() {
		t.Fatalf("expires_at in the past: %d", issued.ExpiresAt)
	}

	// The session token authorizes API calls.
	path := fmt.Sprintf("/v1/guilds/%d/quests/%s", testGuild, ids.NewQuest())
	if status, _ := f.request(t, http.MethodGet, path, issued.Token, nil); status != http.StatusNotFound {
		t.Fatalf("jwt-authorized status = %d", status)
	}
}

func TestIssueTokenRejectsWrongCredential(t *testing.T) {
	f := newFixture(t)
	if status, _ := f.request(t, http.MethodPost, "/v1/auth/token", "guess", nil); status != http.StatusForbidden {
		t.Fatalf("status = %d", status)
	}
	if status, _ := f.request(t, http.MethodPost, "/v1/auth/token", "", nil); status != http.StatusForbidden {
		t.Fatalf("empty token status = %d", status)
	}
}

func TestExpiredJWTRejected(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   "dashboard",
		IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
		ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	path := fmt.Sprintf("/v1/guilds/%d/quests/%s", testGuild, ids.NewQuest())
	if status, _ := f.request(t, http.MethodGet, path, expired, nil); status != http.StatusForbidden {
		t.Fatalf("expired jwt status = %d", status)
	}
}

func TestForeignSignatureRejected(t *testing.T) {
	f := newFixture(t)
	claims := jwt.RegisteredClaims{
		Subject:   "dashboard",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("other-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	path := fmt.Sprintf("/v1/guilds/%d/quests/%s", testGuild, ids.NewQuest())
	if status, _ := f.request(t, http.MethodGet, path, forged, nil); status != http.StatusForbidden {
		t.Fatalf("forged jwt status = %d", status)
	}
}
