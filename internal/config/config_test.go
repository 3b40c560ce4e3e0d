package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// FUNCTIONAL VALIDATION TEST: Default configuration is valid as shipped
func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if err := config.Validate(); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}

	if config.Socket.BaseDelay != time.Second {
		t.Errorf("Expected 1s base delay, got %v", config.Socket.BaseDelay)
	}
	if config.Socket.MaxDelay != 30*time.Second {
		t.Errorf("Expected 30s max delay, got %v", config.Socket.MaxDelay)
	}
	if config.Socket.MaxAttempts != 5 {
		t.Errorf("Expected 5 max attempts, got %d", config.Socket.MaxAttempts)
	}
	if config.Timer.FocusMinutes != 25 {
		t.Errorf("Expected 25 minute focus sessions, got %d", config.Timer.FocusMinutes)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty base url", func(c *Config) { c.API.BaseURL = "" }},
		{"http websocket url", func(c *Config) { c.API.WSBaseURL = "http://localhost" }},
		{"zero base delay", func(c *Config) { c.Socket.BaseDelay = 0 }},
		{"max below base", func(c *Config) { c.Socket.MaxDelay = c.Socket.BaseDelay / 2 }},
		{"zero attempts", func(c *Config) { c.Socket.MaxAttempts = 0 }},
		{"read timeout below ping", func(c *Config) { c.Socket.ReadTimeout = c.Socket.PingInterval }},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "floppy" }},
		{"sqlite without path", func(c *Config) { c.Storage.Path = "" }},
		{"redis without addr", func(c *Config) { c.Storage.Driver = "redis"; c.Storage.RedisAddr = "" }},
		{"zero save interval", func(c *Config) { c.Timer.SaveInterval = 0 }},
		{"negative advance delay", func(c *Config) { c.Lesson.AdvanceDelay = -time.Second }},
		{"file log without path", func(c *Config) { c.Logger.Output = "file"; c.Logger.FilePath = "" }},
		{"missing socket section", func(c *Config) { c.Socket = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			if err := config.Validate(); err == nil {
				t.Errorf("Expected validation error for %s", tt.name)
			}
		})
	}
}

// FUNCTIONAL VALIDATION TEST: Environment variable configuration loading
func TestConfig_LoadFromEnv(t *testing.T) {
	t.Setenv("LEARNSYNC_API_BASE_URL", "https://learn.example.com")
	t.Setenv("LEARNSYNC_SOCKET_MAX_ATTEMPTS", "8")
	t.Setenv("LEARNSYNC_SOCKET_BASE_DELAY", "250ms")
	t.Setenv("LEARNSYNC_STORAGE_DRIVER", "memory")
	t.Setenv("LEARNSYNC_FOCUS_MINUTES", "not-a-number")

	config := LoadFromEnv()

	if config.API.BaseURL != "https://learn.example.com" {
		t.Errorf("Expected base URL override, got %s", config.API.BaseURL)
	}
	if config.Socket.MaxAttempts != 8 {
		t.Errorf("Expected 8 max attempts, got %d", config.Socket.MaxAttempts)
	}
	if config.Socket.BaseDelay != 250*time.Millisecond {
		t.Errorf("Expected 250ms base delay, got %v", config.Socket.BaseDelay)
	}
	if config.Storage.Driver != "memory" {
		t.Errorf("Expected memory driver, got %s", config.Storage.Driver)
	}
	if config.Timer.FocusMinutes != 25 {
		t.Errorf("Unparsable value should keep default, got %d", config.Timer.FocusMinutes)
	}
}

// TECHNICAL VALIDATION TEST: Configuration file parsing
func TestConfig_LoadFromFile(t *testing.T) {
	path := writeConfigFile(t, `{
		"api": {"base_url": "http://api.test", "ws_base_url": "ws://api.test", "timeout": "3s"},
		"socket": {"base_delay": "100ms", "max_delay": "2s", "max_attempts": 3},
		"storage": {"driver": "memory"},
		"logger": {"level": "debug"}
	}`)

	config, err := LoadFromFile(path, nil)
	if err != nil {
		t.Fatalf("LoadFromFile should succeed: %v", err)
	}

	if config.API.BaseURL != "http://api.test" {
		t.Errorf("Expected base URL from file, got %s", config.API.BaseURL)
	}
	if config.API.Timeout != 3*time.Second {
		t.Errorf("Expected 3s timeout, got %v", config.API.Timeout)
	}
	if config.Socket.BaseDelay != 100*time.Millisecond || config.Socket.MaxDelay != 2*time.Second {
		t.Errorf("Unexpected backoff settings: %v / %v", config.Socket.BaseDelay, config.Socket.MaxDelay)
	}
	if config.Socket.PingInterval != 30*time.Second {
		t.Errorf("Absent fields should keep defaults, got %v", config.Socket.PingInterval)
	}
	if config.Logger.Level != "debug" {
		t.Errorf("Expected debug level, got %s", config.Logger.Level)
	}
}

// TECHNICAL VALIDATION TEST: Invalid JSON configuration handling
func TestConfig_LoadFromFileInvalid(t *testing.T) {
	if _, err := LoadFromFile(writeConfigFile(t, `{"api": {`), nil); err == nil {
		t.Error("LoadFromFile should fail with invalid JSON")
	}
	if _, err := LoadFromFile(writeConfigFile(t, `{"socket": {"base_delay": "soon"}}`), nil); err == nil {
		t.Error("LoadFromFile should fail with an unparsable duration")
	}
	if _, err := LoadFromFile(writeConfigFile(t, `{"storage": {"driver": "tape"}}`), nil); err == nil {
		t.Error("LoadFromFile should fail validation for an unknown driver")
	}
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"), nil); err == nil {
		t.Error("LoadFromFile should fail for a missing file")
	}
}

// FUNCTIONAL VALIDATION TEST: file > environment > defaults
func TestConfig_ConfigurationPrecedence(t *testing.T) {
	t.Setenv("LEARNSYNC_API_BASE_URL", "http://from-env")
	t.Setenv("LEARNSYNC_SOCKET_MAX_ATTEMPTS", "9")

	path := writeConfigFile(t, `{"socket": {"max_attempts": 2}}`)
	config, err := LoadConfigWithPrecedence(path)
	if err != nil {
		t.Fatalf("LoadConfigWithPrecedence failed: %v", err)
	}

	if config.API.BaseURL != "http://from-env" {
		t.Errorf("Environment should override default, got %s", config.API.BaseURL)
	}
	if config.Socket.MaxAttempts != 2 {
		t.Errorf("File should override environment, got %d", config.Socket.MaxAttempts)
	}
}

func TestConfig_LoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("LEARNSYNC_TEST_DOTENV=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("LEARNSYNC_TEST_DOTENV") })

	if err := LoadDotEnv(envPath, filepath.Join(dir, "absent.env")); err != nil {
		t.Fatalf("LoadDotEnv should ignore missing files: %v", err)
	}
	if got := os.Getenv("LEARNSYNC_TEST_DOTENV"); got != "loaded" {
		t.Errorf("Expected variable from env file, got %q", got)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}
