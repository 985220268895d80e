package channels_test

import (
	"testing"

	"github.com/dotclaw/host/internal/channels"
)

// Compile-time interface checks.
var (
	_ channels.Channel = (*channels.TelegramChannel)(nil)
	_ channels.Channel = (*channels.DiscordChannel)(nil)
)

func TestTelegramChannel_Name(t *testing.T) {
	ch := channels.NewTelegramChannel("fake-token", nil, "main", nil, nil)
	if got := ch.Name(); got != "telegram" {
		t.Fatalf("TelegramChannel.Name() = %q, want %q", got, "telegram")
	}
}

func TestTelegramChannel_AllowlistEmptyMeansUnrestricted(t *testing.T) {
	ch := channels.NewTelegramChannel("fake-token", []int64{}, "main", nil, nil)
	if ch == nil {
		t.Fatal("expected non-nil TelegramChannel with empty allowlist")
	}
}

func TestTelegramChannel_AllowlistPopulated(t *testing.T) {
	ids := []int64{123, 456, 789}
	ch := channels.NewTelegramChannel("fake-token", ids, "main", nil, nil)
	if got := ch.Name(); got != "telegram" {
		t.Fatalf("TelegramChannel.Name() = %q, want %q", got, "telegram")
	}
}

func TestDiscordChannel_Name(t *testing.T) {
	ch := channels.NewDiscordChannel("fake-token", "", "main", nil, nil)
	if got := ch.Name(); got != "discord" {
		t.Fatalf("DiscordChannel.Name() = %q, want %q", got, "discord")
	}
}
