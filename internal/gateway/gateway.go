// Package gateway is the HTTP surface: the /v1 REST tree the API client
// mirrors, a GraphQL endpoint for dashboard reads, a websocket event feed,
// health and metrics endpoints, and bearer-token or JWT auth.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/piyushsatti/nonagon/internal/bus"
	"github.com/piyushsatti/nonagon/internal/domain"
	"github.com/piyushsatti/nonagon/internal/guildcache"
	"github.com/piyushsatti/nonagon/internal/ids"
	"github.com/piyushsatti/nonagon/internal/otel"
	"github.com/piyushsatti/nonagon/internal/repository"
	"github.com/piyushsatti/nonagon/internal/store"
)

// Store is the persistence surface the gateway serves from.
type Store interface {
	repository.Store
	FindUserByDiscordID(ctx context.Context, guildID, discordID int64) (*domain.User, error)
	ListLookups(ctx context.Context, guildID int64) ([]store.NamedLookup, error)
	SearchLookups(ctx context.Context, guildID int64, prefix string) ([]store.NamedLookup, error)
	SetLookup(ctx context.Context, guildID int64, name string, doc json.RawMessage) error
	GuildIDs(ctx context.Context) ([]int64, error)
}

type Config struct {
	Store  Store
	Cache  *guildcache.Cache
	Bus    *bus.Bus
	Logger *slog.Logger

	// AuthToken is the static bearer token. Empty disables all
	// authenticated endpoints.
	AuthToken string

	// JWTSecret enables HS256 session tokens issued by /v1/auth/token.
	JWTSecret     string
	JWTExpiration time.Duration

	// AllowOrigins controls accepted Origin headers for browser websocket
	// connections. Empty means same-origin only.
	AllowOrigins []string

	Metrics *otel.Metrics
}

type Server struct {
	cfg    Config
	logger *slog.Logger

	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		logger:  logger,
		clients: map[*wsClient]struct{}{},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("GET /v1/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("POST /graphql", s.handleGraphQL)
	mux.HandleFunc("POST /v1/auth/token", s.handleIssueToken)

	mux.HandleFunc("GET /v1/guilds/{guild}/users/{id}", s.handleGetUser)
	mux.HandleFunc("PUT /v1/guilds/{guild}/users/{id}", s.handlePutUser)
	mux.HandleFunc("GET /v1/guilds/{guild}/quests", s.handleListQuests)
	mux.HandleFunc("POST /v1/guilds/{guild}/quests", s.handleCreateQuest)
	mux.HandleFunc("GET /v1/guilds/{guild}/quests/{id}", s.handleGetQuest)
	mux.HandleFunc("PUT /v1/guilds/{guild}/quests/{id}", s.handlePutQuest)
	// Verb segments ({id}:nudge, {id}:closeSignups, ...) match the {id}
	// wildcard; the handler splits the segment on the colon.
	mux.HandleFunc("POST /v1/guilds/{guild}/quests/{id}", s.handleQuestVerb)
	mux.HandleFunc("POST /v1/guilds/{guild}/quests/{id}/signups", s.handleAddSignup)
	mux.HandleFunc("POST /v1/guilds/{guild}/quests/{id}/signups/{uid}", s.handleSignupVerb)
	mux.HandleFunc("DELETE /v1/guilds/{guild}/quests/{id}/signups/{uid}", s.handleRemoveSignup)
	mux.HandleFunc("GET /v1/guilds/{guild}/characters/{id}", s.handleGetCharacter)
	mux.HandleFunc("PUT /v1/guilds/{guild}/characters/{id}", s.handlePutCharacter)
	mux.HandleFunc("GET /v1/guilds/{guild}/summaries/{id}", s.handleGetSummary)
	mux.HandleFunc("PUT /v1/guilds/{guild}/summaries/{id}", s.handlePutSummary)

	return s.instrument(mux)
}

// instrument records per-request latency.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.RequestDuration.Record(r.Context(),
				float64(time.Since(start).Milliseconds()))
		}
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if _, err := s.cfg.Store.GuildIDs(r.Context()); err != nil {
		dbOK = false
	}
	w.Header().Set("Content-Type", "application/json")
	if !dbOK {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"healthy": dbOK,
		"db_ok":   dbOK,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		writeError(w, domain.Unauthorizedf("unauthorized"))
		return
	}
	mem := &runtime.MemStats{}
	runtime.ReadMemStats(mem)

	guilds, _ := s.cfg.Store.GuildIDs(r.Context())
	payload := map[string]any{
		"guild_count": len(guilds),
		"alloc_bytes": mem.Alloc,
	}
	if s.cfg.Cache != nil {
		payload["dirty_queue_depth"] = s.cfg.Cache.DirtyCount()
	}
	s.clientsMu.RLock()
	payload["ws_clients"] = len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// --- response helpers ---

// errorBody mirrors the envelope the API client decodes.
type errorBody struct {
	Detail string `json:"detail"`
}

// writeError maps a domain error kind onto the REST status taxonomy and
// emits the {detail} envelope. The detail text is the user-facing message
// so clients can relay it verbatim.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Detail: domain.UserMessage(err)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// pathID parses the {id} path segment, optionally pinned to a kind.
func pathID(r *http.Request, kind ids.Kind) (ids.ID, error) {
	raw := r.PathValue("id")
	id, err := ids.ParseKind(raw, kind)
	if err != nil {
		return ids.ID{}, domain.Validationf("%q is not a valid %s id", raw, kind)
	}
	return id, nil
}

func pathGuild(r *http.Request) (int64, error) {
	raw := r.PathValue("guild")
	guildID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, domain.Validationf("%q is not a guild id", raw)
	}
	return guildID, nil
}
