package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dotclaw/host/internal/audit"
	"github.com/dotclaw/host/internal/queue"
)

const (
	maxEvents = 64
	maxLogs   = 32
)

type queuedEvent struct {
	ID        int64     `json:"id"`
	ChatID    string    `json:"chat_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type bundle struct {
	ChatID       string        `json:"chat_id"`
	ExportedAt   time.Time     `json:"exported_at"`
	ConfigHash   string        `json:"config_hash"`
	EventCount   int           `json:"event_count"`
	LogCount     int           `json:"log_count"`
	AuditEntries []string      `json:"audit_entries"`
	Events       []queuedEvent `json:"events"`
	RedactedLog  []string      `json:"redacted_logs"`
}

func main() {
	ctx := context.Background()
	home, err := os.MkdirTemp("", "dotclaw-incident-export-*")
	if err != nil {
		fmt.Printf("mktemp_error=%v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(home)

	if err := os.MkdirAll(filepath.Join(home, "logs"), 0o755); err != nil {
		fmt.Printf("mkdir_logs_error=%v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(filepath.Join(home, "config"), 0o755); err != nil {
		fmt.Printf("mkdir_config_error=%v\n", err)
		os.Exit(1)
	}

	cfgPath := filepath.Join(home, "config", "runtime.json")
	cfgBody := []byte(`{"log_level":"info","lane_capacity":4,"rate_limit_per_minute":20}`)
	if err := os.WriteFile(cfgPath, cfgBody, 0o644); err != nil {
		fmt.Printf("write_config_error=%v\n", err)
		os.Exit(1)
	}

	logPath := filepath.Join(home, "logs", "system.jsonl")
	logLines := []string{
		`{"timestamp":"2026-02-11T00:00:00Z","level":"INFO","msg":"startup phase","phase":"pipeline_ready"}`,
		`{"timestamp":"2026-02-11T00:00:01Z","level":"WARN","msg":"api token used","token":"[REDACTED]"}`,
		`{"timestamp":"2026-02-11T00:00:02Z","level":"INFO","msg":"batch delivered","chat_id":"incident:chat"}`,
	}
	if err := os.WriteFile(logPath, []byte(strings.Join(logLines, "\n")+"\n"), 0o644); err != nil {
		fmt.Printf("write_log_error=%v\n", err)
		os.Exit(1)
	}

	if err := audit.Init(home); err != nil {
		fmt.Printf("audit_init_error=%v\n", err)
		os.Exit(1)
	}
	for i := 0; i < 5; i++ {
		audit.Record("allow", "acp.read", "incident drill read", "v1", fmt.Sprintf("drill-subject-%d", i))
	}
	audit.Record("deny", "legacy.run", "capability not allowlisted", "v1", "drill-subject-deny")
	audit.Close()

	dbPath := filepath.Join(home, "data", "message-queue.db")
	if err := os.MkdirAll(filepath.Join(home, "data"), 0o755); err != nil {
		fmt.Printf("mkdir_data_error=%v\n", err)
		os.Exit(1)
	}
	store, err := queue.Open(dbPath)
	if err != nil {
		fmt.Printf("open_store_error=%v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	chatID := "incident:chat"
	var ids []int64
	for i := 0; i < 10; i++ {
		id, err := store.Enqueue(ctx, queue.EnqueueRecord{
			ChatID:        chatID,
			PlatformMsgID: fmt.Sprintf("incident-%d", i),
			SenderID:      "drill-user",
			SenderName:    "Drill User",
			Content:       fmt.Sprintf("incident-%d", i),
			ChannelID:     "drill",
			Timestamp:     time.Now(),
		})
		if err != nil {
			fmt.Printf("enqueue_error=%v\n", err)
			os.Exit(1)
		}
		ids = append(ids, id)
	}
	if _, err := store.ClaimBatch(ctx, chatID, 0, 100); err != nil {
		fmt.Printf("claim_error=%v\n", err)
		os.Exit(1)
	}
	if err := store.Complete(ctx, ids); err != nil {
		fmt.Printf("complete_error=%v\n", err)
		os.Exit(1)
	}

	rows, err := store.DB().QueryContext(ctx, `SELECT id, chat_id, status, timestamp FROM queued_messages WHERE chat_id = ? ORDER BY id LIMIT ?;`, chatID, maxEvents)
	if err != nil {
		fmt.Printf("list_events_error=%v\n", err)
		os.Exit(1)
	}
	var events []queuedEvent
	for rows.Next() {
		var e queuedEvent
		if err := rows.Scan(&e.ID, &e.ChatID, &e.Status, &e.Timestamp); err != nil {
			rows.Close()
			fmt.Printf("scan_event_error=%v\n", err)
			os.Exit(1)
		}
		events = append(events, e)
	}
	rows.Close()

	logs, err := tailLines(logPath, maxLogs)
	if err != nil {
		fmt.Printf("tail_logs_error=%v\n", err)
		os.Exit(1)
	}
	auditEntries, err := tailLines(filepath.Join(home, "logs", "audit.jsonl"), maxLogs)
	if err != nil {
		fmt.Printf("tail_audit_error=%v\n", err)
		os.Exit(1)
	}
	cfgHash, err := sha256File(cfgPath)
	if err != nil {
		fmt.Printf("config_hash_error=%v\n", err)
		os.Exit(1)
	}

	b := bundle{
		ChatID:       chatID,
		ExportedAt:   time.Now().UTC(),
		ConfigHash:   cfgHash,
		EventCount:   len(events),
		LogCount:     len(logs),
		AuditEntries: auditEntries,
		Events:       events,
		RedactedLog:  logs,
	}

	bundlePath := filepath.Join(home, "incident_bundle.json")
	encoded, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		fmt.Printf("marshal_bundle_error=%v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(bundlePath, encoded, 0o644); err != nil {
		fmt.Printf("write_bundle_error=%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("bundle_path=%s\n", bundlePath)
	fmt.Printf("config_hash=%s\n", cfgHash)
	fmt.Printf("events=%d max_events=%d\n", len(events), maxEvents)
	fmt.Printf("logs=%d max_logs=%d\n", len(logs), maxLogs)
	fmt.Printf("audit_entries=%d\n", len(auditEntries))
	if len(events) == 0 || len(logs) == 0 || len(auditEntries) == 0 || len(events) > maxEvents || len(logs) > maxLogs {
		fmt.Println("VERDICT FAIL")
		os.Exit(1)
	}
	fmt.Println("VERDICT PASS")
}

func tailLines(path string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if limit <= 0 {
		limit = 1
	}
	lines := make([]string, 0, limit)
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) > limit {
			lines = lines[1:]
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func sha256File(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
