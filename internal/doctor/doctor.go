// Package doctor implements the dotclawctl diagnostic checks: config
// validity, store connectivity, home directory permissions, external tool
// availability (docker for the sandbox), LLM provider DNS reachability, and
// provider API key liveness.
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/dotclaw/host/internal/config"
	"github.com/dotclaw/host/internal/models"
	"github.com/dotclaw/host/internal/queue"
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

// Run executes all diagnostic checks against a home directory.
func Run(ctx context.Context, homeDir, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	rt, rtErr := config.LoadRuntimeConfig(homeDir)

	checks := []func(context.Context, string, config.RuntimeConfig, error) CheckResult{
		checkConfig,
		checkQueue,
		checkPermissions,
		checkExternalTools,
		checkNetwork,
		checkProviderAuth,
	}
	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, homeDir, rt, rtErr))
	}
	return d
}

func checkConfig(_ context.Context, homeDir string, _ config.RuntimeConfig, rtErr error) CheckResult {
	if rtErr != nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: fmt.Sprintf("load runtime config: %v", rtErr)}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", homeDir)}
}

func checkQueue(ctx context.Context, homeDir string, _ config.RuntimeConfig, rtErr error) CheckResult {
	if rtErr != nil {
		return CheckResult{Name: "Queue", Status: "SKIP", Message: "Config missing"}
	}
	dbPath := filepath.Join(homeDir, "data", "message-queue.db")
	store, err := queue.Open(dbPath)
	if err != nil {
		return CheckResult{Name: "Queue", Status: "FAIL", Message: fmt.Sprintf("open failed: %v", err)}
	}
	defer store.Close()

	var integrity string
	if err := store.DB().QueryRowContext(ctx, "PRAGMA integrity_check;").Scan(&integrity); err != nil {
		return CheckResult{Name: "Queue", Status: "FAIL", Message: fmt.Sprintf("integrity check failed: %v", err)}
	}
	if integrity != "ok" {
		return CheckResult{Name: "Queue", Status: "FAIL", Message: fmt.Sprintf("integrity check: %s", integrity)}
	}
	return CheckResult{Name: "Queue", Status: "PASS", Message: "Connection and integrity check ok"}
}

func checkPermissions(_ context.Context, homeDir string, _ config.RuntimeConfig, rtErr error) CheckResult {
	if rtErr != nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}
	testFile := filepath.Join(homeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("home dir unwritable: %v", err)}
	}
	os.Remove(testFile)
	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkExternalTools(ctx context.Context, _ string, _ config.RuntimeConfig, _ error) CheckResult {
	var details []string
	status := "PASS"

	if _, err := exec.LookPath("docker"); err != nil {
		details = append(details, "docker: missing (required for sandbox group isolation)")
		status = "FAIL"
	} else {
		cmd := exec.CommandContext(ctx, "docker", "info")
		if err := cmd.Run(); err != nil {
			details = append(details, fmt.Sprintf("docker: daemon unreachable (%v)", err))
			status = "FAIL"
		} else {
			details = append(details, "docker: ok")
		}
	}

	return CheckResult{
		Name:    "External Tools",
		Status:  status,
		Message: fmt.Sprintf("Checked %d tools", len(details)),
		Detail:  fmt.Sprintf("%v", details),
	}
}

func checkNetwork(ctx context.Context, _ string, rt config.RuntimeConfig, rtErr error) CheckResult {
	if rtErr != nil {
		return CheckResult{Name: "Network", Status: "SKIP", Message: "Config missing"}
	}

	endpoints := []string{"api.anthropic.com", "api.openai.com"}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var failures []string
	var oks []string
	for _, host := range endpoints {
		start := time.Now()
		addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
		latency := time.Since(start)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", host, err))
			continue
		}
		oks = append(oks, fmt.Sprintf("%s (%d addrs, %dms)", host, len(addrs), latency.Milliseconds()))
	}

	if len(failures) == len(endpoints) {
		return CheckResult{Name: "Network", Status: "FAIL", Message: "DNS lookup failed for all model providers", Detail: fmt.Sprintf("%v", failures)}
	}
	if len(failures) > 0 {
		return CheckResult{Name: "Network", Status: "WARN", Message: fmt.Sprintf("DNS resolved %d/%d providers", len(oks), len(endpoints)), Detail: fmt.Sprintf("ok=%v failed=%v", oks, failures)}
	}
	return CheckResult{Name: "Network", Status: "PASS", Message: fmt.Sprintf("DNS resolved %d providers", len(oks)), Detail: fmt.Sprintf("%v", oks)}
}

// checkProviderAuth pings every provider with a configured API key using
// the same Brain implementation C3/C5 use to classify live request
// errors, catching an expired or malformed key before a group's first run
// hits it.
func checkProviderAuth(ctx context.Context, _ string, rt config.RuntimeConfig, rtErr error) CheckResult {
	if rtErr != nil {
		return CheckResult{Name: "Provider Auth", Status: "SKIP", Message: "Config missing"}
	}

	var brains []models.Brain
	if rt.AnthropicAPIKey != "" {
		brains = append(brains, models.NewAnthropicBrain(rt.AnthropicAPIKey))
	}
	if rt.OpenAIAPIKey != "" {
		brains = append(brains, models.NewOpenAIBrain(rt.OpenAIAPIKey))
	}
	if len(brains) == 0 {
		return CheckResult{Name: "Provider Auth", Status: "SKIP", Message: "No provider API keys configured"}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var failures []string
	var oks []string
	for _, b := range brains {
		if err := b.Ping(pingCtx); err != nil {
			if cat, ok := b.ClassifyError(err); ok {
				failures = append(failures, fmt.Sprintf("%s: %s (%v)", b.Provider(), cat, err))
			} else {
				failures = append(failures, fmt.Sprintf("%s: %v", b.Provider(), err))
			}
			continue
		}
		oks = append(oks, b.Provider())
	}

	if len(failures) > 0 {
		return CheckResult{Name: "Provider Auth", Status: "FAIL", Message: fmt.Sprintf("%d/%d providers failed", len(failures), len(brains)), Detail: strings.Join(failures, "; ")}
	}
	return CheckResult{Name: "Provider Auth", Status: "PASS", Message: fmt.Sprintf("Verified %s", strings.Join(oks, ", "))}
}
