// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./assistant.db"

auth:
  jwt_secret: "test-secret-value"

assistant:
  endpoint: "https://reason.example.com/turn"
  request_timeout: "45s"
  history_limit: 12

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Database.Path != "./assistant.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./assistant.db")
	}
	if cfg.Auth.JWTSecret != "test-secret-value" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "test-secret-value")
	}
	if cfg.Assistant.Endpoint != "https://reason.example.com/turn" {
		t.Errorf("Assistant.Endpoint = %q, want %q", cfg.Assistant.Endpoint, "https://reason.example.com/turn")
	}
	if cfg.Assistant.RequestTimeout != 45*time.Second {
		t.Errorf("Assistant.RequestTimeout = %v, want %v", cfg.Assistant.RequestTimeout, 45*time.Second)
	}
	if cfg.Assistant.HistoryLimit != 12 {
		t.Errorf("Assistant.HistoryLimit = %d, want 12", cfg.Assistant.HistoryLimit)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_ASSISTANT_SECRET", "secret-from-env")

	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./assistant.db"
auth:
  jwt_secret: "${TEST_ASSISTANT_SECRET}"
assistant:
  endpoint: "https://reason.example.com/turn"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "secret-from-env" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "secret-from-env")
	}
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./assistant.db"
auth:
  jwt_secret: "${DEFINITELY_NOT_SET_ANYWHERE_XYZ}"
assistant:
  endpoint: "https://reason.example.com/turn"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for empty jwt_secret, got nil")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("error %q does not mention jwt_secret", err.Error())
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./assistant.db"
auth:
  jwt_secret: "secret"
assistant:
  endpoint: "https://reason.example.com/turn"
  request_timeout: "not-a-duration"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected duration parse error, got nil")
	}
	if !strings.Contains(err.Error(), "request_timeout") {
		t.Errorf("error %q does not mention request_timeout", err.Error())
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name: "missing http_addr",
			content: `
database:
  path: "./assistant.db"
auth:
  jwt_secret: "secret"
assistant:
  endpoint: "https://reason.example.com/turn"
`,
			want: "http_addr",
		},
		{
			name: "missing database path",
			content: `
server:
  http_addr: "0.0.0.0:8080"
auth:
  jwt_secret: "secret"
assistant:
  endpoint: "https://reason.example.com/turn"
`,
			want: "database.path",
		},
		{
			name: "missing endpoint",
			content: `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./assistant.db"
auth:
  jwt_secret: "secret"
`,
			want: "endpoint",
		},
		{
			name: "negative history limit",
			content: `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./assistant.db"
auth:
  jwt_secret: "secret"
assistant:
  endpoint: "https://reason.example.com/turn"
  history_limit: -1
`,
			want: "history_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.content)
			_, err := Load(configPath)
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}
