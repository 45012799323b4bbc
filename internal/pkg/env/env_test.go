package env

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetDuration(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		want    time.Duration
		wantErr bool
	}{
		{name: "unset uses default", value: "", want: 30 * time.Second},
		{name: "parses value", value: "45s", want: 45 * time.Second},
		{name: "rejects garbage", value: "soon", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_POLL_INTERVAL", tt.value)
			got, err := GetDuration("TEST_POLL_INTERVAL", 30*time.Second)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetInt(t *testing.T) {
	t.Setenv("TEST_SLIPPAGE_BPS", "75")
	got, err := GetInt("TEST_SLIPPAGE_BPS", 50)
	if err != nil || got != 75 {
		t.Errorf("GetInt = %d, %v", got, err)
	}

	t.Setenv("TEST_SLIPPAGE_BPS", "x")
	if _, err := GetInt("TEST_SLIPPAGE_BPS", 50); err == nil {
		t.Error("expected error for non-numeric value")
	}
}

func TestGetFloat(t *testing.T) {
	t.Setenv("TEST_MIN_LOAN", "2.5")
	got, err := GetFloat("TEST_MIN_LOAN", 1)
	if err != nil || got != 2.5 {
		t.Errorf("GetFloat = %v, %v", got, err)
	}
}

func TestGetBool(t *testing.T) {
	t.Setenv("TEST_USE_AWS", "true")
	if !GetBool("TEST_USE_AWS") {
		t.Error("expected true")
	}
	t.Setenv("TEST_USE_AWS", "nope")
	if GetBool("TEST_USE_AWS") {
		t.Error("expected false for unparsable value")
	}
}

func TestLoad_DoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TEST_FROM_DOTENV=file\nTEST_PRESET=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TEST_PRESET", "process")
	t.Setenv("TEST_FROM_DOTENV", "")
	os.Unsetenv("TEST_FROM_DOTENV")

	Load(path, filepath.Join(dir, "missing.env"))

	if got := os.Getenv("TEST_FROM_DOTENV"); got != "file" {
		t.Errorf("TEST_FROM_DOTENV = %q, want file", got)
	}
	if got := os.Getenv("TEST_PRESET"); got != "process" {
		t.Errorf("TEST_PRESET = %q, want process", got)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		value string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.value)
			if got := ParseLogLevel(slog.LevelInfo); got != tt.want {
				t.Errorf("ParseLogLevel = %v, want %v", got, tt.want)
			}
		})
	}
}
