package config

import (
	"errors"
	"testing"
	"time"

	"github.com/Dan9191/tsf-backend/internal/models"
)

func TestNewConfig_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := NewConfig()
	if !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNewConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "  postgres://u:p@localhost/db\n")
	cfg, err := NewConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DBConn != "postgres://u:p@localhost/db" {
		t.Errorf("expected trimmed DSN, got %q", cfg.DBConn)
	}
	if cfg.Table != "air_quality_raw" {
		t.Errorf("table = %q", cfg.Table)
	}
	if cfg.Heartbeat != 120*time.Second {
		t.Errorf("heartbeat = %v", cfg.Heartbeat)
	}
	if cfg.JobBackend != "local" {
		t.Errorf("backend = %q", cfg.JobBackend)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("origins = %v", cfg.AllowedOrigins)
	}
}

func TestNewConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad backend", "TSF_JOB_BACKEND", "kafka"},
		{"bad duration", "TSF_HEARTBEAT", "soon"},
		{"bad int", "REDIS_DB", "zero"},
		{"bad rate", "START_RATE", "fast"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/db")
			t.Setenv(tt.key, tt.val)
			if _, err := NewConfig(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := splitList(" https://a.example , ,https://b.example")
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("unexpected split: %v", got)
	}
}
