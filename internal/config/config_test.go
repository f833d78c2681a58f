package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	cfg.Finalize()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendTypeAI, cfg.Backend)
	assert.Equal(t, DefaultAPIBaseURL, cfg.APIBaseURL)
	assert.Equal(t, StoreFile, cfg.Store)
	assert.Equal(t, DefaultTitle, cfg.DefaultTitle)
	assert.Equal(t, 50, cfg.TitleMaxLength)
	assert.Equal(t, 30*time.Millisecond, cfg.TypingSpeed)
	assert.Equal(t, filepath.Join(cfg.DataDir, "sessions.json"), cfg.SessionsFile)
	assert.Equal(t, filepath.Join(cfg.DataDir, "logs"), cfg.LogDir)
}

func TestLoad_File(t *testing.T) {
	dataDir := t.TempDir()
	path := writeConfig(t, `
backend = "ollama"
ollama_model = "mistral:7b"
store = "sqlite"
data_dir = "`+filepath.ToSlash(dataDir)+`"
title_max_length = 30
typing_speed = "5ms"
markdown = false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendOllama, cfg.Backend)
	assert.Equal(t, "mistral:7b", cfg.OllamaModel)
	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, filepath.Join(dataDir, "typechat.db"), cfg.DBPath)
	assert.Equal(t, filepath.Join(dataDir, "logs"), cfg.LogDir)
	assert.Equal(t, 30, cfg.TitleMaxLength)
	assert.Equal(t, 5*time.Millisecond, cfg.TypingSpeed)
	assert.False(t, cfg.Markdown)
	// untouched keys keep their defaults
	assert.Equal(t, DefaultTitle, cfg.DefaultTitle)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `backend = "ollama"`)

	t.Setenv("TYPECHAT_BACKEND", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TYPECHAT_STREAM", "true")
	t.Setenv("TYPECHAT_TYPING_SPEED", "0s")
	t.Setenv("TYPECHAT_STORE", "memory")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendOpenAI, cfg.Backend)
	assert.Equal(t, "sk-test", cfg.OpenAIKey)
	assert.True(t, cfg.Stream)
	assert.Equal(t, time.Duration(0), cfg.TypingSpeed)
	assert.Equal(t, StoreMemory, cfg.Store)
}

func TestLoad_InvalidEnvValuesIgnored(t *testing.T) {
	path := writeConfig(t, ``)

	t.Setenv("TYPECHAT_STREAM", "maybe")
	t.Setenv("TYPECHAT_TYPING_SPEED", "fast")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Stream)
	assert.Equal(t, DefaultTypingSpeed, cfg.TypingSpeed)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := writeConfig(t, `backend = `)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"unknown backend", func(c *Config) { c.Backend = "gemini" }, true},
		{"unknown store", func(c *Config) { c.Store = "postgres" }, true},
		{"redis without url", func(c *Config) { c.Store = StoreRedis }, true},
		{"redis with url", func(c *Config) { c.Store = StoreRedis; c.RedisURL = "redis://localhost:6379/0" }, false},
		{"zero title length", func(c *Config) { c.TitleMaxLength = 0 }, true},
		{"zero max tokens", func(c *Config) { c.MaxTokens = 0 }, true},
		{"negative typing speed", func(c *Config) { c.TypingSpeed = -time.Millisecond }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
