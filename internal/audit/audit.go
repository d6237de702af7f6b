// Package audit records lifecycle and adjudication decisions to an
// append-only JSONL trail and, when a database is attached, to the
// audit_log table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/piyushsatti/nonagon/internal/shared"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Outcome   string `json:"outcome"`
	Actor     string `json:"actor,omitempty"`
	GuildID   int64  `json:"guild_id,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

var (
	mu          sync.Mutex
	file        *os.File
	db          *sql.DB
	rejectCount atomic.Int64
)

func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetDB configures the database for audit_log table writes.
func SetDB(d *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = d
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// RejectCount returns the total number of rejected actions since startup.
func RejectCount() int64 {
	return rejectCount.Load()
}

// Record appends one audit event. Outcome is "ok" or "rejected".
// Detail is redacted before persistence.
func Record(action, outcome, actor string, guildID int64, detail string) {
	if outcome == "rejected" {
		rejectCount.Add(1)
	}

	detail = shared.Redact(detail)

	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		ev := entry{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Action:    action,
			Outcome:   outcome,
			Actor:     actor,
			GuildID:   guildID,
			Detail:    detail,
		}
		b, err := json.Marshal(ev)
		if err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}

	if db != nil {
		_, _ = db.ExecContext(context.Background(), `
			INSERT INTO audit_log (guild_id, actor, action, outcome, detail)
			VALUES (?, ?, ?, ?, ?);
		`, guildID, actor, action, outcome, detail)
	}
}
