// Command dotclawctl is the admin CLI: it drives the same file-based IPC
// namespace (data/ipc/<group>/{requests,responses}) a running dotclawd
// process watches, so it needs no RPC transport of its own.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dotclaw/host/internal/config"
	"github.com/dotclaw/host/internal/dbutil"
	"github.com/dotclaw/host/internal/doctor"
	"github.com/dotclaw/host/internal/ipc"
	"github.com/google/uuid"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [-home DIR] [-group NAME] [-wait DURATION] <action> [json-payload]

Drops an IPC request for a running dotclawd daemon and prints its response.

  action        one of the IPC action names, e.g. list_groups, memory_search,
                schedule_task, set_model, spawn_subagent, get_config
  json-payload  action payload as a JSON object (default "{}")

  doctor        run standalone diagnostics against the home directory
                (does not require a running daemon)

Examples:
  %s list_groups
  %s -group main memory_search '{"user":"alice","query":"favorite color"}'
  %s schedule_task '{"kind":"interval","interval_ms":3600000,"prompt":"check inbox"}'
  %s doctor

`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	homeFlag := flag.String("home", "", "home directory (overrides DOTCLAW_HOME)")
	group := flag.String("group", "main", "group the request is issued from/to")
	wait := flag.Duration("wait", 10*time.Second, "how long to wait for a response")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		printUsage()
		os.Exit(2)
	}
	action := args[0]
	payloadJSON := "{}"
	if len(args) > 1 {
		payloadJSON = args[1]
	}

	homeDir := *homeFlag
	if homeDir == "" {
		homeDir = config.HomeDir()
	}

	if action == "doctor" {
		runDoctor(homeDir)
		return
	}

	if err := run(homeDir, *group, action, payloadJSON, *wait); err != nil {
		fmt.Fprintf(os.Stderr, "dotclawctl: %v\n", err)
		os.Exit(1)
	}
}

// runDoctor runs diagnostics directly against the home directory, without
// going through the IPC file-drop protocol (it must work even when no
// daemon is running).
func runDoctor(homeDir string) {
	d := doctor.Run(context.Background(), homeDir, Version)
	out, _ := json.MarshalIndent(d, "", "  ")
	fmt.Println(string(out))

	failed := false
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func run(homeDir, group, action, payloadJSON string, wait time.Duration) error {
	var payload json.RawMessage
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		return fmt.Errorf("invalid JSON payload: %w", err)
	}

	id := uuid.NewString()
	env := ipc.Envelope{ID: id, Action: ipc.Action(action), Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	groupDir := filepath.Join(homeDir, "data", "ipc", group)
	requestsDir := filepath.Join(groupDir, "requests")
	responsesDir := filepath.Join(groupDir, "responses")
	if err := os.MkdirAll(requestsDir, 0o755); err != nil {
		return fmt.Errorf("create requests dir: %w", err)
	}

	reqPath := filepath.Join(requestsDir, id+".json")
	if err := dbutil.WriteFileAtomic(reqPath, data, 0o644); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()

	respPath := filepath.Join(responsesDir, id+".json")
	for {
		if body, err := os.ReadFile(respPath); err == nil {
			var resp ipc.Response
			if jerr := json.Unmarshal(body, &resp); jerr != nil {
				return fmt.Errorf("parse response: %w", jerr)
			}
			_ = os.Remove(respPath)
			out, _ := json.MarshalIndent(resp, "", "  ")
			fmt.Println(string(out))
			if resp.Status == "error" {
				return fmt.Errorf("%s", resp.Error)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for response to %s (is dotclawd running?)", id)
		case <-time.After(100 * time.Millisecond):
		}
	}
}
