package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	API      *APIConfig      `json:"api"`
	Auth     *AuthConfig     `json:"auth"`
	Socket   *SocketConfig   `json:"socket"`
	Storage  *StorageConfig  `json:"storage"`
	Progress *ProgressConfig `json:"progress"`
	Timer    *TimerConfig    `json:"timer"`
	Lesson   *LessonConfig   `json:"lesson"`
	Logger   *LoggerConfig   `json:"logger"`
}

// APIConfig locates the REST and WebSocket backend.
type APIConfig struct {
	BaseURL   string        `json:"base_url"`
	WSBaseURL string        `json:"ws_base_url"`
	Timeout   time.Duration `json:"timeout"`
}

// AuthConfig carries the credentials obtained at sign-in.
type AuthConfig struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	// RefreshLeeway treats tokens expiring within this window as expired.
	RefreshLeeway time.Duration `json:"refresh_leeway"`
}

// FUNCTIONAL DISCOVERY: reconnect policy constants live here so tests can shrink them
type SocketConfig struct {
	BaseDelay        time.Duration `json:"base_delay"`
	MaxDelay         time.Duration `json:"max_delay"`
	MaxAttempts      int           `json:"max_attempts"`
	PingInterval     time.Duration `json:"ping_interval"`
	ReadTimeout      time.Duration `json:"read_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	BufferSize       int           `json:"buffer_size"`
}

// StorageConfig selects the snapshot backend.
type StorageConfig struct {
	Driver        string        `json:"driver"` // memory, sqlite or redis
	Path          string        `json:"path"`
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"redis_password"`
	RedisDB       int           `json:"redis_db"`
	KeyPrefix     string        `json:"key_prefix"`
	Timeout       time.Duration `json:"timeout"`
}

// ProgressConfig tunes reconciliation.
type ProgressConfig struct {
	RefreshDebounce time.Duration `json:"refresh_debounce"`
	StatsDebounce   time.Duration `json:"stats_debounce"`
	RefreshTimeout  time.Duration `json:"refresh_timeout"`
}

// TimerConfig tunes focus and quiz sessions.
type TimerConfig struct {
	SaveInterval      time.Duration `json:"save_interval"`
	FocusMinutes      int           `json:"focus_minutes"`
	ShortBreakMinutes int           `json:"short_break_minutes"`
	LongBreakMinutes  int           `json:"long_break_minutes"`
	FocusXPPerMinute  int           `json:"focus_xp_per_minute"`
}

// LessonConfig tunes completion side effects.
type LessonConfig struct {
	AdvanceDelay time.Duration `json:"advance_delay"`
}

// LoggerConfig mirrors the zap/lumberjack knobs.
type LoggerConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"` // json or console
	Output     string `json:"output"` // stdout or file
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"`
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"`
	Compress   bool   `json:"compress"`
}

// DefaultConfig returns defaults for a local development backend.
// FUNCTIONAL DISCOVERY: 1s base / 30s cap / 5 attempts reconnect policy
func DefaultConfig() *Config {
	return &Config{
		API: &APIConfig{
			BaseURL:   "http://localhost:8000",
			WSBaseURL: "ws://localhost:8000",
			Timeout:   15 * time.Second,
		},
		Auth: &AuthConfig{
			RefreshLeeway: 30 * time.Second,
		},
		Socket: &SocketConfig{
			BaseDelay:        time.Second,
			MaxDelay:         30 * time.Second,
			MaxAttempts:      5,
			PingInterval:     30 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     5 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			BufferSize:       100,
		},
		Storage: &StorageConfig{
			Driver:    "sqlite",
			Path:      "./learnsync.db",
			RedisAddr: "localhost:6379",
			KeyPrefix: "learnsync:",
			Timeout:   5 * time.Second,
		},
		Progress: &ProgressConfig{
			RefreshDebounce: 500 * time.Millisecond,
			StatsDebounce:   time.Second,
			RefreshTimeout:  10 * time.Second,
		},
		Timer: &TimerConfig{
			SaveInterval:      5 * time.Second,
			FocusMinutes:      25,
			ShortBreakMinutes: 5,
			LongBreakMinutes:  15,
			FocusXPPerMinute:  2,
		},
		Lesson: &LessonConfig{
			AdvanceDelay: 2 * time.Second,
		},
		Logger: &LoggerConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			FilePath:   "./logs/learnsync.log",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// Validate rejects configurations the components cannot run with.
func (c *Config) Validate() error {
	if c.API == nil {
		return fmt.Errorf("API configuration is required")
	}
	if c.API.BaseURL == "" {
		return fmt.Errorf("API base URL cannot be empty")
	}
	if c.API.WSBaseURL == "" {
		return fmt.Errorf("WebSocket base URL cannot be empty")
	}
	if !strings.HasPrefix(c.API.WSBaseURL, "ws://") && !strings.HasPrefix(c.API.WSBaseURL, "wss://") {
		return fmt.Errorf("WebSocket base URL must use ws:// or wss://")
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("API timeout must be positive")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if c.Auth.RefreshLeeway < 0 {
		return fmt.Errorf("auth refresh leeway cannot be negative")
	}

	if c.Socket == nil {
		return fmt.Errorf("socket configuration is required")
	}
	if c.Socket.BaseDelay <= 0 {
		return fmt.Errorf("socket base delay must be positive")
	}
	if c.Socket.MaxDelay < c.Socket.BaseDelay {
		return fmt.Errorf("socket max delay must be at least the base delay")
	}
	if c.Socket.MaxAttempts <= 0 {
		return fmt.Errorf("socket max attempts must be positive")
	}
	if c.Socket.PingInterval <= 0 {
		return fmt.Errorf("socket ping interval must be positive")
	}
	if c.Socket.ReadTimeout <= c.Socket.PingInterval {
		return fmt.Errorf("socket read timeout must exceed the ping interval")
	}
	if c.Socket.WriteTimeout <= 0 {
		return fmt.Errorf("socket write timeout must be positive")
	}
	if c.Socket.HandshakeTimeout <= 0 {
		return fmt.Errorf("socket handshake timeout must be positive")
	}
	if c.Socket.BufferSize <= 0 {
		return fmt.Errorf("socket buffer size must be positive")
	}

	if c.Storage == nil {
		return fmt.Errorf("storage configuration is required")
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("sqlite storage path cannot be empty")
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Timeout <= 0 {
		return fmt.Errorf("storage timeout must be positive")
	}

	if c.Progress == nil {
		return fmt.Errorf("progress configuration is required")
	}
	if c.Progress.RefreshDebounce < 0 || c.Progress.StatsDebounce < 0 {
		return fmt.Errorf("progress debounce cannot be negative")
	}
	if c.Progress.RefreshTimeout <= 0 {
		return fmt.Errorf("progress refresh timeout must be positive")
	}

	if c.Timer == nil {
		return fmt.Errorf("timer configuration is required")
	}
	if c.Timer.SaveInterval <= 0 {
		return fmt.Errorf("timer save interval must be positive")
	}
	if c.Timer.FocusMinutes <= 0 || c.Timer.ShortBreakMinutes <= 0 || c.Timer.LongBreakMinutes <= 0 {
		return fmt.Errorf("focus durations must be positive")
	}
	if c.Timer.FocusXPPerMinute < 0 {
		return fmt.Errorf("focus XP per minute cannot be negative")
	}

	if c.Lesson == nil {
		return fmt.Errorf("lesson configuration is required")
	}
	if c.Lesson.AdvanceDelay < 0 {
		return fmt.Errorf("lesson advance delay cannot be negative")
	}

	if c.Logger == nil {
		return fmt.Errorf("logger configuration is required")
	}
	if c.Logger.Output == "file" && c.Logger.FilePath == "" {
		return fmt.Errorf("logger file path cannot be empty when output is file")
	}

	return nil
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv applies LEARNSYNC_* environment variables over the defaults.
// FUNCTIONAL DISCOVERY: unparsable values are ignored and the default kept
func LoadFromEnv() *Config {
	config := DefaultConfig()

	setString(&config.API.BaseURL, "LEARNSYNC_API_BASE_URL")
	setString(&config.API.WSBaseURL, "LEARNSYNC_WS_BASE_URL")
	setDuration(&config.API.Timeout, "LEARNSYNC_API_TIMEOUT")

	setString(&config.Auth.AccessToken, "LEARNSYNC_ACCESS_TOKEN")
	setString(&config.Auth.RefreshToken, "LEARNSYNC_REFRESH_TOKEN")
	setDuration(&config.Auth.RefreshLeeway, "LEARNSYNC_REFRESH_LEEWAY")

	setDuration(&config.Socket.BaseDelay, "LEARNSYNC_SOCKET_BASE_DELAY")
	setDuration(&config.Socket.MaxDelay, "LEARNSYNC_SOCKET_MAX_DELAY")
	setInt(&config.Socket.MaxAttempts, "LEARNSYNC_SOCKET_MAX_ATTEMPTS")
	setDuration(&config.Socket.PingInterval, "LEARNSYNC_SOCKET_PING_INTERVAL")
	setDuration(&config.Socket.ReadTimeout, "LEARNSYNC_SOCKET_READ_TIMEOUT")
	setDuration(&config.Socket.WriteTimeout, "LEARNSYNC_SOCKET_WRITE_TIMEOUT")
	setInt(&config.Socket.BufferSize, "LEARNSYNC_SOCKET_BUFFER_SIZE")

	setString(&config.Storage.Driver, "LEARNSYNC_STORAGE_DRIVER")
	setString(&config.Storage.Path, "LEARNSYNC_STORAGE_PATH")
	setString(&config.Storage.RedisAddr, "LEARNSYNC_REDIS_ADDR")
	setString(&config.Storage.RedisPassword, "LEARNSYNC_REDIS_PASSWORD")
	setInt(&config.Storage.RedisDB, "LEARNSYNC_REDIS_DB")
	setString(&config.Storage.KeyPrefix, "LEARNSYNC_STORAGE_KEY_PREFIX")

	setDuration(&config.Progress.RefreshDebounce, "LEARNSYNC_REFRESH_DEBOUNCE")
	setDuration(&config.Progress.StatsDebounce, "LEARNSYNC_STATS_DEBOUNCE")

	setDuration(&config.Timer.SaveInterval, "LEARNSYNC_TIMER_SAVE_INTERVAL")
	setInt(&config.Timer.FocusMinutes, "LEARNSYNC_FOCUS_MINUTES")
	setInt(&config.Timer.FocusXPPerMinute, "LEARNSYNC_FOCUS_XP_PER_MINUTE")

	setDuration(&config.Lesson.AdvanceDelay, "LEARNSYNC_LESSON_ADVANCE_DELAY")

	setString(&config.Logger.Level, "LEARNSYNC_LOG_LEVEL")
	setString(&config.Logger.Format, "LEARNSYNC_LOG_FORMAT")
	setString(&config.Logger.Output, "LEARNSYNC_LOG_OUTPUT")
	setString(&config.Logger.FilePath, "LEARNSYNC_LOG_FILE")

	return config
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// Duration decodes JSON duration strings such as "1.5s".
// FUNCTIONAL DISCOVERY: Separate type for JSON parsing to handle duration strings
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// ConfigFile represents the JSON structure for file-based configuration.
// Absent fields keep the value they already had.
type ConfigFile struct {
	API *struct {
		BaseURL   string    `json:"base_url"`
		WSBaseURL string    `json:"ws_base_url"`
		Timeout   *Duration `json:"timeout"`
	} `json:"api"`
	Auth *struct {
		AccessToken   string    `json:"access_token"`
		RefreshToken  string    `json:"refresh_token"`
		RefreshLeeway *Duration `json:"refresh_leeway"`
	} `json:"auth"`
	Socket *struct {
		BaseDelay    *Duration `json:"base_delay"`
		MaxDelay     *Duration `json:"max_delay"`
		MaxAttempts  int       `json:"max_attempts"`
		PingInterval *Duration `json:"ping_interval"`
		ReadTimeout  *Duration `json:"read_timeout"`
		WriteTimeout *Duration `json:"write_timeout"`
		BufferSize   int       `json:"buffer_size"`
	} `json:"socket"`
	Storage *struct {
		Driver    string `json:"driver"`
		Path      string `json:"path"`
		RedisAddr string `json:"redis_addr"`
		RedisDB   int    `json:"redis_db"`
		KeyPrefix string `json:"key_prefix"`
	} `json:"storage"`
	Progress *struct {
		RefreshDebounce *Duration `json:"refresh_debounce"`
		StatsDebounce   *Duration `json:"stats_debounce"`
	} `json:"progress"`
	Timer *struct {
		SaveInterval     *Duration `json:"save_interval"`
		FocusMinutes     int       `json:"focus_minutes"`
		FocusXPPerMinute int       `json:"focus_xp_per_minute"`
	} `json:"timer"`
	Lesson *struct {
		AdvanceDelay *Duration `json:"advance_delay"`
	} `json:"lesson"`
	Logger *LoggerConfig `json:"logger"`
}

// LoadFromFile reads a JSON configuration file over the given base config.
// A nil base starts from DefaultConfig.
func LoadFromFile(filepath string, base *Config) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := base
	if config == nil {
		config = DefaultConfig()
	}
	file.apply(config)

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func (f *ConfigFile) apply(c *Config) {
	if f.API != nil {
		applyString(&c.API.BaseURL, f.API.BaseURL)
		applyString(&c.API.WSBaseURL, f.API.WSBaseURL)
		applyDuration(&c.API.Timeout, f.API.Timeout)
	}
	if f.Auth != nil {
		applyString(&c.Auth.AccessToken, f.Auth.AccessToken)
		applyString(&c.Auth.RefreshToken, f.Auth.RefreshToken)
		applyDuration(&c.Auth.RefreshLeeway, f.Auth.RefreshLeeway)
	}
	if f.Socket != nil {
		applyDuration(&c.Socket.BaseDelay, f.Socket.BaseDelay)
		applyDuration(&c.Socket.MaxDelay, f.Socket.MaxDelay)
		applyInt(&c.Socket.MaxAttempts, f.Socket.MaxAttempts)
		applyDuration(&c.Socket.PingInterval, f.Socket.PingInterval)
		applyDuration(&c.Socket.ReadTimeout, f.Socket.ReadTimeout)
		applyDuration(&c.Socket.WriteTimeout, f.Socket.WriteTimeout)
		applyInt(&c.Socket.BufferSize, f.Socket.BufferSize)
	}
	if f.Storage != nil {
		applyString(&c.Storage.Driver, f.Storage.Driver)
		applyString(&c.Storage.Path, f.Storage.Path)
		applyString(&c.Storage.RedisAddr, f.Storage.RedisAddr)
		applyInt(&c.Storage.RedisDB, f.Storage.RedisDB)
		applyString(&c.Storage.KeyPrefix, f.Storage.KeyPrefix)
	}
	if f.Progress != nil {
		applyDuration(&c.Progress.RefreshDebounce, f.Progress.RefreshDebounce)
		applyDuration(&c.Progress.StatsDebounce, f.Progress.StatsDebounce)
	}
	if f.Timer != nil {
		applyDuration(&c.Timer.SaveInterval, f.Timer.SaveInterval)
		applyInt(&c.Timer.FocusMinutes, f.Timer.FocusMinutes)
		applyInt(&c.Timer.FocusXPPerMinute, f.Timer.FocusXPPerMinute)
	}
	if f.Lesson != nil {
		applyDuration(&c.Lesson.AdvanceDelay, f.Lesson.AdvanceDelay)
	}
	if f.Logger != nil {
		applyString(&c.Logger.Level, f.Logger.Level)
		applyString(&c.Logger.Format, f.Logger.Format)
		applyString(&c.Logger.Output, f.Logger.Output)
		applyString(&c.Logger.FilePath, f.Logger.FilePath)
		applyInt(&c.Logger.MaxSize, f.Logger.MaxSize)
		applyInt(&c.Logger.MaxBackups, f.Logger.MaxBackups)
		applyInt(&c.Logger.MaxAge, f.Logger.MaxAge)
		c.Logger.Compress = c.Logger.Compress || f.Logger.Compress
	}
}

func applyString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func applyInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func applyDuration(dst *time.Duration, v *Duration) {
	if v != nil {
		*dst = v.Duration
	}
}

// LoadConfigWithPrecedence resolves configuration as file > environment > defaults.
// The .env file is read first so it feeds the environment layer.
func LoadConfigWithPrecedence(filepath string) (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	config := LoadFromEnv()

	if filepath != "" {
		fileConfig, err := LoadFromFile(filepath, config)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
