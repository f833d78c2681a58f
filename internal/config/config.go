package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	BackendTypeAI    = "typeai"
	BackendOllama    = "ollama"
	BackendAnthropic = "anthropic"
	BackendGrok      = "grok"
	BackendOpenAI    = "openai"
)

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

const (
	DefaultTitle          = "New Chat"
	DefaultTitleMaxLength = 50
	DefaultTypingSpeed    = 30 * time.Millisecond
	DefaultAPIBaseURL     = "http://localhost:3000/api"
)

// Config holds application configuration
type Config struct {
	Backend   string `toml:"backend"`
	SessionID string `toml:"-"` // Resume this session on start
	Debug     bool   `toml:"debug"`
	Stream    bool   `toml:"stream"`

	// TypeAI chat API
	APIBaseURL string `toml:"api_base_url"`
	AuthToken  string `toml:"auth_token"`

	// Provider backends
	OllamaURL      string        `toml:"ollama_url"`
	OllamaModel    string        `toml:"ollama_model"` // Model specification in format "model:version"
	OpenAIModel    string        `toml:"openai_model"`
	OpenAIBaseURL  string        `toml:"openai_base_url"`
	OpenAIKey      string        `toml:"-"`
	AnthropicURL   string        `toml:"anthropic_url"`
	AnthropicModel string        `toml:"anthropic_model"`
	AnthropicKey   string        `toml:"-"`
	GrokBaseURL    string        `toml:"grok_base_url"`
	GrokModel      string        `toml:"grok_model"`
	GrokKey        string        `toml:"-"`
	MaxTokens      int           `toml:"max_tokens"`
	RequestTimeout time.Duration `toml:"request_timeout"`

	// Response cache
	CacheResponses bool          `toml:"cache_responses"`
	CacheTTL       time.Duration `toml:"cache_ttl"`

	// Persistence
	Store        string `toml:"store"`
	DataDir      string `toml:"data_dir"`
	SessionsFile string `toml:"sessions_file"`
	DBPath       string `toml:"db_path"`
	RedisURL     string `toml:"redis_url"`
	RedisKey     string `toml:"redis_key"`

	// Logging and telemetry
	LogDir    string `toml:"log_dir"`
	Telemetry bool   `toml:"telemetry"`

	// Presentation
	DefaultTitle   string        `toml:"default_title"`
	TitleMaxLength int           `toml:"title_max_length"`
	TypingSpeed    time.Duration `toml:"typing_speed"` // Delay per rune; 0 disables the animation
	Markdown       bool          `toml:"markdown"`
}

// Default returns the built-in configuration
func Default() Config {
	dataDir := defaultDataDir()
	return Config{
		Backend:        BackendTypeAI,
		APIBaseURL:     DefaultAPIBaseURL,
		OllamaURL:      "http://localhost:11434",
		OllamaModel:    "llama3:latest",
		OpenAIModel:    "gpt-4o-mini",
		AnthropicURL:   "https://api.anthropic.com",
		AnthropicModel: "claude-sonnet-4-20250514",
		GrokBaseURL:    "https://api.x.ai/v1",
		GrokModel:      "grok-2-latest",
		MaxTokens:      1024,
		RequestTimeout: 60 * time.Second,
		CacheTTL:       time.Hour,
		Store:          StoreFile,
		DataDir:        dataDir,
		RedisKey:       "chat_sessions",
		DefaultTitle:   DefaultTitle,
		TitleMaxLength: DefaultTitleMaxLength,
		TypingSpeed:    DefaultTypingSpeed,
		Markdown:       true,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".typechat"
	}
	return filepath.Join(home, ".typechat")
}

// DefaultPath returns the location of the user config file
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.toml")
}

// Load builds the configuration from defaults, the TOML file at path, a
// .env file and the environment, in that order of precedence. An empty
// path means DefaultPath, which may be absent.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// .env never overrides variables already set in the environment
	_ = godotenv.Load()
	applyEnv(&cfg)
	cfg.Finalize()

	return cfg, cfg.Validate()
}

// Finalize fills paths derived from DataDir that were left unset
func (c *Config) Finalize() {
	if c.SessionsFile == "" {
		c.SessionsFile = filepath.Join(c.DataDir, "sessions.json")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "typechat.db")
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(c.DataDir, "logs")
	}
}

// Validate rejects settings the application cannot run with
func (c Config) Validate() error {
	switch c.Backend {
	case BackendTypeAI, BackendOllama, BackendAnthropic, BackendGrok, BackendOpenAI:
	default:
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}

	switch c.Store {
	case StoreFile, StoreSQLite, StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return errors.New("redis store requires redis_url")
		}
	default:
		return fmt.Errorf("unknown store: %s", c.Store)
	}

	if c.TitleMaxLength <= 0 {
		return fmt.Errorf("title_max_length must be positive, got %d", c.TitleMaxLength)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens)
	}
	if c.RequestTimeout < 0 || c.TypingSpeed < 0 || c.CacheTTL < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

func applyEnv(c *Config) {
	setString(&c.Backend, "TYPECHAT_BACKEND")
	setString(&c.APIBaseURL, "TYPECHAT_API_BASE_URL")
	setString(&c.AuthToken, "TYPECHAT_AUTH_TOKEN")
	setString(&c.OllamaURL, "TYPECHAT_OLLAMA_URL")
	setString(&c.OllamaModel, "TYPECHAT_OLLAMA_MODEL")
	setString(&c.OpenAIModel, "TYPECHAT_OPENAI_MODEL")
	setString(&c.OpenAIBaseURL, "TYPECHAT_OPENAI_BASE_URL")
	setString(&c.OpenAIKey, "OPENAI_API_KEY")
	setString(&c.AnthropicModel, "TYPECHAT_ANTHROPIC_MODEL")
	setString(&c.AnthropicKey, "ANTHROPIC_API_KEY")
	setString(&c.GrokModel, "TYPECHAT_GROK_MODEL")
	setString(&c.GrokKey, "GROK_API_KEY")
	setString(&c.Store, "TYPECHAT_STORE")
	setString(&c.DataDir, "TYPECHAT_DATA_DIR")
	setString(&c.RedisURL, "REDIS_URL")
	setString(&c.RedisURL, "TYPECHAT_REDIS_URL")
	setString(&c.LogDir, "TYPECHAT_LOG_DIR")
	setBool(&c.Debug, "TYPECHAT_DEBUG")
	setBool(&c.Stream, "TYPECHAT_STREAM")
	setBool(&c.Telemetry, "TYPECHAT_TELEMETRY")
	setBool(&c.CacheResponses, "TYPECHAT_CACHE_RESPONSES")
	setDuration(&c.TypingSpeed, "TYPECHAT_TYPING_SPEED")
	setDuration(&c.RequestTimeout, "TYPECHAT_REQUEST_TIMEOUT")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring invalid boolean", "key", key, "value", v)
		return
	}
	*dst = b
}

func setDuration(dst *time.Duration, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("ignoring invalid duration", "key", key, "value", v)
		return
	}
	*dst = d
}
