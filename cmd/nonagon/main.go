package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/piyushsatti/nonagon/internal/apiclient"
	"github.com/piyushsatti/nonagon/internal/audit"
	"github.com/piyushsatti/nonagon/internal/bus"
	"github.com/piyushsatti/nonagon/internal/characters"
	"github.com/piyushsatti/nonagon/internal/chat"
	"github.com/piyushsatti/nonagon/internal/config"
	"github.com/piyushsatti/nonagon/internal/gateway"
	"github.com/piyushsatti/nonagon/internal/guildcache"
	otelPkg "github.com/piyushsatti/nonagon/internal/otel"
	"github.com/piyushsatti/nonagon/internal/quests"
	"github.com/piyushsatti/nonagon/internal/repository"
	"github.com/piyushsatti/nonagon/internal/scheduler"
	"github.com/piyushsatti/nonagon/internal/settings"
	"github.com/piyushsatti/nonagon/internal/store"
	"github.com/piyushsatti/nonagon/internal/telemetry"
	"github.com/piyushsatti/nonagon/internal/wizard"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE (default):
  %s                          Start the coordination core

SUBCOMMANDS:
  %s status                   Show daemon health status (/healthz)
  %s doctor [-json]           Run diagnostic checks

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  NONAGON_HOME            Data directory (default: ~/.nonagon)
  BOT_TOKEN               Chat platform bot token
  QUEST_API_BASE_URL      External quest service REST root
  JWT_SECRET_KEY          Session token signing key
`)
}

func main() {
	loadDotEnv(".env")

	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		case "doctor":
			os.Exit(runDoctorCommand(ctx, args[1:]))
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	// Audit only needs homeDir, so init it before the logger to catch
	// logger failures too.
	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer func() { _ = audit.Close() }()

	// File-only logs when attached to a terminal keeps stdout readable.
	quietLogs := isatty.IsTerminal(os.Stdout.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "version", Version)

	if host, _, err := net.SplitHostPort(cfg.BindAddr); err == nil {
		h := strings.TrimSpace(strings.ToLower(host))
		loopback := h == "127.0.0.1" || h == "localhost" || h == "::1"
		if !loopback && len(cfg.AllowOrigins) == 0 {
			logger.Warn("allow_origins is empty on non-loopback bind; cross-origin browser connections will be rejected (same-origin only)", "bind_addr", cfg.BindAddr)
		}
	}

	if cfg.NeedsGenesis {
		if err := writeDefaultConfig(cfg.HomeDir); err != nil {
			fatalStartup(logger, "E_CONFIG_WRITE", err)
		}
		logger.Info("config.yaml written with defaults", "home", cfg.HomeDir)
		cfg, err = config.Load()
		if err != nil {
			fatalStartup(logger, "E_CONFIG_RELOAD", err)
		}
	}

	eventBus := bus.New()

	otelProvider, err := otelPkg.Init(ctx, cfg.Otel)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(ctx)
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}

	st, err := store.Open(filepath.Join(cfg.HomeDir, "nonagon.db"))
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer st.Close()
	audit.SetDB(st.DB())
	logger.Info("startup phase", "phase", "schema_migrated")

	settingsSvc, err := settings.NewService(st)
	if err != nil {
		fatalStartup(logger, "E_SETTINGS_INIT", err)
	}

	cache := guildcache.New(logger)
	if err := cache.Load(ctx, st); err != nil {
		fatalStartup(logger, "E_CACHE_LOAD", err)
	}
	logger.Info("startup phase", "phase", "cache_loaded", "guilds", len(cache.GuildIDs()))

	// Persistence routing: the local store always serves, with remote
	// mirroring when a quest service endpoint is configured. graphql_url
	// selects the dashboard-style endpoint; quest_api_base_url selects the
	// REST surface.
	var repo repository.Store = st
	var remote repository.Remote
	switch {
	case cfg.API.GraphQLURL != "":
		remote = apiclient.NewGraphQL(cfg.API.GraphQLURL, cfg.API.GraphQLToken,
			time.Duration(cfg.API.TimeoutSeconds)*time.Second)
		logger.Info("remote quest API configured", "graphql_url", cfg.API.GraphQLURL)
	case cfg.API.BaseURL != "":
		remote = apiclient.New(cfg.API.BaseURL, time.Duration(cfg.API.TimeoutSeconds)*time.Second, logger)
		logger.Info("remote quest API configured", "base_url", cfg.API.BaseURL)
	}
	if remote != nil {
		repo = repository.NewFallback(remote, st, logger)
	}

	var flushTarget guildcache.Persister = st
	if cfg.Flush.ViaAdapter && remote != nil {
		flushTarget = remote
	}
	flusher := guildcache.NewFlusher(cache, flushTarget,
		time.Duration(cfg.Flush.IntervalSeconds)*time.Second, cfg.Flush.Workers,
		logger, eventBus, metrics)
	go flusher.Run(ctx)

	tg := chat.NewTelegram(cfg.Chat.BotToken, cfg.Chat.AllowedGuildIDs, logger)

	questSvc := quests.NewService(cache, repo, tg, tg, settingsSvc, eventBus, logger, metrics)
	charSvc := characters.NewService(cache, repo, tg, settingsSvc, logger)
	wizards := wizard.NewManager(tg, logger, eventBus, metrics)

	listener := chat.NewListener(chat.ListenerConfig{
		Cache:      cache,
		Voice:      st,
		Wizards:    wizards,
		Quests:     questSvc,
		Characters: charSvc,
		Sender:     tg,
		Settings:   settingsSvc,
		Logger:     logger,
		QuestWizard: wizard.QuestDefinition(questSvc,
			time.Duration(cfg.Wizard.QuestTimeoutSeconds)*time.Second),
		CharacterWizard: wizard.CharacterDefinition(charSvc,
			time.Duration(cfg.Wizard.CharacterTimeoutSeconds)*time.Second),
	})
	tg.Attach(listener)

	if cfg.Chat.Enabled && cfg.Chat.BotToken != "" {
		go func() {
			if err := tg.Start(ctx); err != nil {
				logger.Error("chat adapter failed", "error", err)
			}
		}()
	} else {
		logger.Warn("chat adapter disabled; running headless", "enabled", cfg.Chat.Enabled)
	}

	announcer := scheduler.NewAnnouncer(scheduler.AnnouncerConfig{
		Store:  st,
		Quests: questSvc,
		Logger: logger,
	})
	announcer.Start(ctx)
	defer announcer.Stop()

	if cfg.Digest.Enabled {
		digest, err := scheduler.NewDigest(scheduler.DigestConfig{
			Cache:    cache,
			Settings: settingsSvc,
			Sender:   tg,
			Logger:   logger,
			Schedule: cfg.Digest.Schedule,
		})
		if err != nil {
			fatalStartup(logger, "E_DIGEST_SCHEDULE", err)
		}
		digest.Start(ctx)
		defer digest.Stop()
	}

	authToken, err := loadAuthToken(cfg.HomeDir)
	if err != nil {
		fatalStartup(logger, "E_AUTH_TOKEN_WRITE", err)
	}

	gw := gateway.New(gateway.Config{
		Store:         st,
		Cache:         cache,
		Bus:           eventBus,
		Logger:        logger,
		AuthToken:     authToken,
		JWTSecret:     cfg.Auth.JWTSecretKey,
		JWTExpiration: time.Duration(cfg.Auth.JWTExpirationHours) * time.Hour,
		AllowOrigins:  cfg.AllowOrigins,
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: gw.Handler(),
	}
	serverErr := make(chan error, 1)
	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	logger.Info("startup phase", "phase", "listener_bound", "addr", cfg.BindAddr)
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr, "ws", "/ws")
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	// Shutdown order: stop intake, then drain one final flush so dirty
	// engagement counters reach the store before it closes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.DrainTimeoutSeconds)*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	flushed := flusher.FlushOnce(shutdownCtx)
	logger.Info("shutdown complete", "final_flush_items", flushed)
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("startup", "fatal", "runtime", 0, reasonCode+": "+message)

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"runtime","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		eq := strings.Index(line, "=")
		if eq <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:eq])
		val := strings.TrimSpace(line[eq+1:])
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, val)
	}
}

func loadAuthToken(homeDir string) (string, error) {
	if raw := strings.TrimSpace(os.Getenv("NONAGON_AUTH_TOKEN")); raw != "" {
		return raw, nil
	}
	tokenPath := filepath.Join(homeDir, "auth.token")
	b, err := os.ReadFile(tokenPath)
	if err == nil {
		if tok := strings.TrimSpace(string(b)); tok != "" {
			return tok, nil
		}
	}
	// First run: generate and persist a token so the dashboard can find it.
	token := uuid.NewString()
	if err := os.WriteFile(tokenPath, []byte(token+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("failed to persist auth token: %w", err)
	}
	slog.Info("auth.token generated", "path", tokenPath)
	return token, nil
}

// writeDefaultConfig writes a starter config.yaml on first run.
func writeDefaultConfig(homeDir string) error {
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return fmt.Errorf("create home: %w", err)
	}

	cfg := config.Config{
		BindAddr:              "127.0.0.1:18990",
		LogLevel:              "info",
		DrainTimeoutSeconds:   5,
		RetentionAuditLogDays: 365,
		Flush: config.FlushConfig{
			IntervalSeconds: 15,
			Workers:         4,
		},
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(config.ConfigPath(homeDir), data, 0o644); err != nil {
		return fmt.Errorf("write config.yaml: %w", err)
	}
	return nil
}
