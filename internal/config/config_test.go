package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gameroom-service/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	if err := config.Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadPayout(t *testing.T) {
	cfg := config.Default()
	cfg.Payout.HostPct = 25
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected payout error")
	}

	cfg = config.Default()
	cfg.Database.Driver = "oracle"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected driver error")
	}
}

func TestLoadConfigMergesFileEnvAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "server:\n  port: \"9090\"\nengine:\n  turnTimeout: 15s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("GAMEROOM_JWT_SECRET", "from-env")

	config.LoadConfig(path)
	cfg := config.GlobalConfig

	if cfg.Server.Port != "9090" {
		t.Fatalf("port = %q", cfg.Server.Port)
	}
	if cfg.Engine.TurnTimeout != 15*time.Second {
		t.Fatalf("turn timeout = %s", cfg.Engine.TurnTimeout)
	}
	if cfg.JWT.Secret != "from-env" {
		t.Fatalf("jwt secret = %q", cfg.JWT.Secret)
	}
	if cfg.Engine.PauseBudget != 30*time.Second || cfg.Payout.WinnerPct != 70 {
		t.Fatalf("defaults lost: %+v %+v", cfg.Engine, cfg.Payout)
	}
}
