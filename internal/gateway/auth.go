package gateway

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/piyushsatti/nonagon/internal/domain"
)

const defaultJWTExpiration = 12 * time.Hour

// authorize accepts either the static bearer token or a valid HS256 session
// token. An empty configured token disables the surface entirely.
func (s *Server) authorize(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return false
	}
	token := bearerToken(r)
	if token == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) == 1 {
		return true
	}
	return s.cfg.JWTSecret != "" && s.verifyJWT(token) == nil
}

func bearerToken(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(authz, prefix))
}

// handleIssueToken exchanges the static token for a short-lived HS256 JWT,
// for dashboard clients that should not hold the long-lived credential.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AuthToken == "" || s.cfg.JWTSecret == "" {
		writeError(w, domain.Validationf("session tokens are not enabled"))
		return
	}
	token := bearerToken(r)
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
		writeError(w, domain.Unauthorizedf("unauthorized"))
		return
	}

	expiration := s.cfg.JWTExpiration
	if expiration <= 0 {
		expiration = defaultJWTExpiration
	}
	now := time.Now().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   "dashboard",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"token":      signed,
		"expires_at": now.Add(expiration).Unix(),
	})
}

func (s *Server) verifyJWT(token string) error {
	_, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())
	return err
}
