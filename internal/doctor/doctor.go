// Package doctor runs startup-environment diagnostics: config, credentials,
// database, filesystem permissions and external service reachability.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/piyushsatti/nonagon/internal/config"
	"github.com/piyushsatti/nonagon/internal/store"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkBotToken,
		checkDatabase,
		checkPermissions,
		checkQuestAPI,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.NeedsGenesis {
		return CheckResult{Name: "Config", Status: "WARN", Message: "config.yaml missing (will be generated on first run)"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

func checkBotToken(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Bot Token", Status: "SKIP", Message: "Config missing"}
	}
	if !cfg.Chat.Enabled {
		return CheckResult{Name: "Bot Token", Status: "PASS", Message: "Chat adapter disabled; token not required"}
	}
	token := strings.TrimSpace(cfg.Chat.BotToken)
	if token == "" {
		return CheckResult{
			Name:    "Bot Token",
			Status:  "FAIL",
			Message: "chat.enabled is true but no bot token is configured",
			Detail:  "Set BOT_TOKEN or chat.bot_token in config.yaml",
		}
	}
	// Telegram tokens are "<numeric id>:<key material>".
	if !strings.Contains(token, ":") {
		return CheckResult{Name: "Bot Token", Status: "WARN", Message: "Bot token does not look like a Telegram token"}
	}
	return CheckResult{Name: "Bot Token", Status: "PASS", Message: "Bot token is set"}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.NeedsGenesis {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}
	dbPath := filepath.Join(cfg.HomeDir, "nonagon.db")

	st, err := store.Open(dbPath)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err)}
	}
	defer st.Close()

	guilds, err := st.GuildIDs(ctx)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Query failed: %v", err)}
	}
	return CheckResult{
		Name:    "Database",
		Status:  "PASS",
		Message: "Connection and schema valid",
		Detail:  fmt.Sprintf("guilds=%d, path=%s", len(guilds), dbPath),
	}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}
	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkQuestAPI(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Quest API", Status: "SKIP", Message: "Config missing"}
	}
	if cfg.API.BaseURL == "" {
		return CheckResult{Name: "Quest API", Status: "PASS", Message: "No remote quest API configured (local-only persistence)"}
	}

	u, err := url.Parse(cfg.API.BaseURL)
	if err != nil || u.Host == "" {
		return CheckResult{Name: "Quest API", Status: "FAIL", Message: fmt.Sprintf("api.base_url is not a valid URL: %q", cfg.API.BaseURL)}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	addrs, err := net.DefaultResolver.LookupHost(lookupCtx, u.Hostname())
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Name:    "Quest API",
			Status:  "FAIL",
			Message: fmt.Sprintf("DNS lookup failed for %s: %v", u.Hostname(), err),
			Detail:  fmt.Sprintf("latency=%dms", latency.Milliseconds()),
		}
	}
	return CheckResult{
		Name:    "Quest API",
		Status:  "PASS",
		Message: fmt.Sprintf("DNS resolved %s (%d addresses, %dms)", u.Hostname(), len(addrs), latency.Milliseconds()),
	}
}
