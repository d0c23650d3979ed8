package main

import (
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/gkorepanov/barrier-bot/internal/splitter"
)

func TestServeConfigFromViper_DefaultsAndOverrides(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	initViperDefaults()

	cfg := serveConfigFromViper()
	if cfg.MessageLimit != splitter.DefaultMessageLimit {
		t.Fatalf("MessageLimit = %d, want the %d default", cfg.MessageLimit, splitter.DefaultMessageLimit)
	}
	if cfg.PollTimeout != 30*time.Second || cfg.MaxConcurrency != 8 {
		t.Fatalf("poll defaults = (%v, %d), want (30s, 8)", cfg.PollTimeout, cfg.MaxConcurrency)
	}

	viper.Set("telegram.message_limit", 512)
	viper.Set("admins.usernames", []string{"boss"})
	cfg = serveConfigFromViper()
	if cfg.MessageLimit != 512 {
		t.Fatalf("MessageLimit = %d, want the 512 override", cfg.MessageLimit)
	}
	if len(cfg.AdminUsernames) != 1 || cfg.AdminUsernames[0] != "boss" {
		t.Fatalf("AdminUsernames = %v, want [boss]", cfg.AdminUsernames)
	}
}
