package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dotclaw/host/internal/queue"
)

func main() {
	ctx := context.Background()
	baseDir, err := os.MkdirTemp("", "dotclaw-backup-drill-*")
	if err != nil {
		fmt.Printf("mktemp_error=%v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(baseDir)

	dbPath := filepath.Join(baseDir, "message-queue.db")
	backupPath := filepath.Join(baseDir, "backup.db")
	restorePath := filepath.Join(baseDir, "restore.db")

	store, err := queue.Open(dbPath)
	if err != nil {
		fmt.Printf("open_store_error=%v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	chatID := "backup-drill:chat"
	var ids []int64
	for i := 0; i < 40; i++ {
		id, err := store.Enqueue(ctx, queue.EnqueueRecord{
			ChatID:        chatID,
			PlatformMsgID: fmt.Sprintf("backup-%d", i),
			SenderID:      "drill-user",
			SenderName:    "Drill User",
			Content:       fmt.Sprintf("backup-%d", i),
			ChannelID:     "drill",
			Timestamp:     time.Now(),
		})
		if err != nil {
			fmt.Printf("enqueue_error=%v\n", err)
			os.Exit(1)
		}
		ids = append(ids, id)
	}
	claimed, err := store.ClaimBatch(ctx, chatID, 0, 100)
	if err != nil || len(claimed) != 40 {
		fmt.Printf("claim_error=%v claimed=%d\n", err, len(claimed))
		os.Exit(1)
	}
	if err := store.Complete(ctx, ids); err != nil {
		fmt.Printf("complete_error=%v\n", err)
		os.Exit(1)
	}

	backupStart := time.Now().UTC()
	if _, err := store.DB().ExecContext(ctx, `VACUUM INTO ?;`, backupPath); err != nil {
		fmt.Printf("backup_error=%v\n", err)
		os.Exit(1)
	}
	backupEnd := time.Now().UTC()

	backupBytes, err := os.ReadFile(backupPath)
	if err != nil {
		fmt.Printf("read_backup_error=%v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(restorePath, backupBytes, 0o644); err != nil {
		fmt.Printf("write_restore_error=%v\n", err)
		os.Exit(1)
	}
	restoreStart := time.Now().UTC()
	restoreStore, err := queue.Open(restorePath)
	if err != nil {
		fmt.Printf("open_restore_error=%v\n", err)
		os.Exit(1)
	}
	defer restoreStore.Close()
	restoreEnd := time.Now().UTC()

	var completedCount int
	if err := restoreStore.DB().QueryRowContext(ctx, `SELECT COUNT(1) FROM queued_messages WHERE status = 'completed';`).Scan(&completedCount); err != nil {
		fmt.Printf("count_messages_error=%v\n", err)
		os.Exit(1)
	}

	rpo := backupEnd.Sub(backupStart)
	rto := restoreEnd.Sub(restoreStart)
	fmt.Printf("backup_started=%s\n", backupStart.Format(time.RFC3339Nano))
	fmt.Printf("backup_completed=%s\n", backupEnd.Format(time.RFC3339Nano))
	fmt.Printf("restore_started=%s\n", restoreStart.Format(time.RFC3339Nano))
	fmt.Printf("restore_completed=%s\n", restoreEnd.Format(time.RFC3339Nano))
	fmt.Printf("rpo_duration=%s\n", rpo)
	fmt.Printf("rto_duration=%s\n", rto)
	fmt.Printf("restored_completed_messages=%d\n", completedCount)

	if completedCount < 40 {
		fmt.Println("VERDICT FAIL")
		os.Exit(1)
	}
	fmt.Println("VERDICT PASS")
}
