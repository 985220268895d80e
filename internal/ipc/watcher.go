package ipc

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dotclaw/host/internal/dbutil"
)

const defaultPollInterval = 500 * time.Millisecond

// WatcherConfig tunes one group's IPC directory tree.
type WatcherConfig struct {
	RootDir      string // base IPC directory, e.g. data/ipc
	Group        string
	PollInterval time.Duration
}

func (c WatcherConfig) withDefaults() WatcherConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

func (c WatcherConfig) groupDir() string    { return filepath.Join(c.RootDir, c.Group) }
func (c WatcherConfig) requestsDir() string { return filepath.Join(c.groupDir(), string(KindRequest)) }
func (c WatcherConfig) tasksDir() string    { return filepath.Join(c.groupDir(), string(KindTask)) }
func (c WatcherConfig) messagesDir() string { return filepath.Join(c.groupDir(), string(KindMessage)) }
func (c WatcherConfig) responsesDir() string {
	return filepath.Join(c.groupDir(), "responses")
}
func (c WatcherConfig) errorsDir() string { return filepath.Join(c.RootDir, "errors") }

// GroupWatcher watches one group's requests/tasks/messages directories,
// dispatching each dropped file through a Dispatcher and writing a
// response (for requests carrying an id) or moving parse/auth failures to
// the shared errors directory.
type GroupWatcher struct {
	cfg    WatcherConfig
	disp   *Dispatcher
	logger *slog.Logger

	fsw  *fsnotify.Watcher
	poll *time.Ticker
}

func NewGroupWatcher(cfg WatcherConfig, disp *Dispatcher, logger *slog.Logger) (*GroupWatcher, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	for _, dir := range []string{cfg.requestsDir(), cfg.tasksDir(), cfg.messagesDir(), cfg.responsesDir(), cfg.errorsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range []string{cfg.requestsDir(), cfg.tasksDir(), cfg.messagesDir()} {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	return &GroupWatcher{
		cfg:    cfg,
		disp:   disp,
		logger: logger,
		fsw:    fsw,
		poll:   time.NewTicker(cfg.PollInterval),
	}, nil
}

func (w *GroupWatcher) Close() {
	w.poll.Stop()
	_ = w.fsw.Close()
}

// Run processes files until ctx is cancelled. It drains all three
// directories at startup (fsnotify only reports events after Add), then
// reacts to fsnotify events with a poll-ticker fallback.
func (w *GroupWatcher) Run(ctx context.Context) {
	w.drainAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.drainAll(ctx)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("ipc: watcher error", "group", w.cfg.Group, "error", err)
		case <-w.poll.C:
			w.drainAll(ctx)
		}
	}
}

func (w *GroupWatcher) drainAll(ctx context.Context) {
	w.drainDir(ctx, w.cfg.requestsDir())
	w.drainDir(ctx, w.cfg.tasksDir())
	w.drainDir(ctx, w.cfg.messagesDir())
}

func (w *GroupWatcher) drainDir(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		w.processFile(ctx, path)
	}
}

func (w *GroupWatcher) processFile(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // likely a concurrent delete; next drain will skip it
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		w.quarantine(path, data, "parse", err)
		return
	}

	result, dispErr := w.disp.Dispatch(ctx, w.cfg.Group, env)
	if dispErr != nil && env.ID == "" {
		// Fire-and-forget actions with no id still get quarantined on
		// failure so operators can see what went wrong.
		w.quarantine(path, data, "dispatch", dispErr)
		return
	}

	if env.ID != "" {
		resp := Response{ID: env.ID, Status: "ok", Result: result}
		if dispErr != nil {
			resp.Status = "error"
			resp.Error = dispErr.Error()
		}
		w.writeResponse(resp)
	}

	_ = os.Remove(path)
}

func (w *GroupWatcher) writeResponse(resp Response) {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		w.logger.Error("ipc: failed to marshal response", "id", resp.ID, "error", err)
		return
	}
	path := filepath.Join(w.cfg.responsesDir(), resp.ID+".json")
	if err := dbutil.WriteFileAtomic(path, data, 0o644); err != nil {
		w.logger.Error("ipc: failed to write response", "id", resp.ID, "error", err)
	}
}

func (w *GroupWatcher) quarantine(path string, data []byte, reason string, cause error) {
	w.logger.Warn("ipc: quarantining bad request file", "group", w.cfg.Group, "path", path, "reason", reason, "error", cause)
	dest := filepath.Join(w.cfg.errorsDir(), w.cfg.Group+"-"+filepath.Base(path))
	_ = os.WriteFile(dest, data, 0o644)
	_ = os.Remove(path)
}
