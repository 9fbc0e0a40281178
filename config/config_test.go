package config

import (
	"os"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config*.json")
	if err != nil {
		t.Fatalf("Failed to create temporary file: %v", err)
	}
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatalf("Failed to write temporary file: %v", err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatalf("Failed to close temporary file: %v", err)
	}
	return tmpfile.Name()
}

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, `{
		"app_name": "Kombucha ELN Test",
		"listen_ip": "127.0.0.1",
		"listen_port": 9090,
		"session_key": "test-session-key",
		"db_path": "./test.db",
		"elab_host": "https://elab.example.org/api/v2",
		"elab_timeout_seconds": 5
	}`)

	if err := LoadConfig(path); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if AppConfig.AppName != "Kombucha ELN Test" {
		t.Errorf("Expected AppName 'Kombucha ELN Test', got '%s'", AppConfig.AppName)
	}
	if AppConfig.ListenIP != "127.0.0.1" {
		t.Errorf("Expected ListenIP '127.0.0.1', got '%s'", AppConfig.ListenIP)
	}
	if AppConfig.ListenPort != 9090 {
		t.Errorf("Expected ListenPort 9090, got %d", AppConfig.ListenPort)
	}
	if AppConfig.SessionKey != "test-session-key" {
		t.Errorf("Expected SessionKey 'test-session-key', got '%s'", AppConfig.SessionKey)
	}
	if AppConfig.ElabHost != "https://elab.example.org/api/v2" {
		t.Errorf("Unexpected ElabHost: %s", AppConfig.ElabHost)
	}
	if AppConfig.ElabTimeoutSeconds != 5 {
		t.Errorf("Expected ElabTimeoutSeconds 5, got %d", AppConfig.ElabTimeoutSeconds)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, `{"session_key": "k"}`)

	if err := LoadConfig(path); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if AppConfig.DBPath != "./kombucha_eln.db" {
		t.Errorf("Expected default DBPath, got '%s'", AppConfig.DBPath)
	}
	if AppConfig.ElabHost != defaultElabHost {
		t.Errorf("Expected default ElabHost, got '%s'", AppConfig.ElabHost)
	}
	if AppConfig.ElabTimeoutSeconds != 15 {
		t.Errorf("Expected default timeout 15, got %d", AppConfig.ElabTimeoutSeconds)
	}
}

func TestLoadConfigGeneratesSessionKey(t *testing.T) {
	path := writeTempConfig(t, `{"session_key": "CHANGE_ME_IN_PRODUCTION"}`)

	if err := LoadConfig(path); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if AppConfig.SessionKey == "" || AppConfig.SessionKey == "CHANGE_ME_IN_PRODUCTION" {
		t.Error("Placeholder session key was not replaced with a generated one")
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `{"session_key": "from-file", "elab_key": "file-key"}`)

	t.Setenv("FERMLOG_SESSION_KEY", "from-env")
	t.Setenv("elabftw_key", "env-key")

	if err := LoadConfig(path); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if AppConfig.SessionKey != "from-env" {
		t.Errorf("Expected session key from env, got '%s'", AppConfig.SessionKey)
	}
	if AppConfig.ElabKey != "env-key" {
		t.Errorf("Expected elab key from env, got '%s'", AppConfig.ElabKey)
	}
}

func TestLoadConfigInvalidPath(t *testing.T) {
	if err := LoadConfig("non-existent-path.json"); err == nil {
		t.Error("LoadConfig with non-existent path should have failed")
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := writeTempConfig(t, `{ "invalid": json }`)
	if err := LoadConfig(path); err == nil {
		t.Error("LoadConfig with invalid JSON should have failed")
	}
}
