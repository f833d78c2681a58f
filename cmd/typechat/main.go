package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"TypeChat/internal/chatbot"
	"TypeChat/internal/config"
)

type flags struct {
	configPath  string
	backend     string
	sessionID   string
	store       string
	debug       bool
	stream      bool
	noMarkdown  bool
	typingSpeed string
}

func newRootCmd(run func(cfg config.Config) error) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:   "typechat",
		Short: "Terminal chat client with persistent sessions",
		Long: `TypeChat keeps local chat sessions and forwards each conversation to a
chat-completion backend (typeai, ollama, anthropic, openai or grok).

Settings are read from ~/.typechat/config.toml, a .env file and TYPECHAT_*
environment variables; flags override all of them.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "Config file (default ~/.typechat/config.toml)")
	cmd.Flags().StringVar(&f.backend, "backend", config.BackendTypeAI, "Chat backend (typeai|ollama|anthropic|grok|openai)")
	cmd.Flags().StringVar(&f.sessionID, "session-id", "", "Resume an existing session by ID")
	cmd.Flags().StringVar(&f.store, "store", config.StoreFile, "Session store (file|sqlite|redis|memory)")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&f.stream, "stream", false, "Show replies as they are generated")
	cmd.Flags().BoolVar(&f.noMarkdown, "no-markdown", false, "Print replies as plain text")
	cmd.Flags().StringVar(&f.typingSpeed, "typing-speed", "", "Delay per character of the typing animation, e.g. 30ms (0 disables)")

	return cmd
}

// loadConfig layers flags the user actually set over the loaded configuration
func loadConfig(cmd *cobra.Command, f flags) (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return cfg, err
	}

	changed := cmd.Flags().Changed
	if changed("backend") {
		cfg.Backend = f.backend
	}
	if changed("store") {
		cfg.Store = f.store
	}
	if changed("debug") {
		cfg.Debug = f.debug
	}
	if changed("stream") {
		cfg.Stream = f.stream
	}
	if changed("no-markdown") {
		cfg.Markdown = !f.noMarkdown
	}
	if changed("typing-speed") {
		d, err := parseDuration(f.typingSpeed)
		if err != nil {
			return cfg, fmt.Errorf("invalid --typing-speed: %w", err)
		}
		cfg.TypingSpeed = d
	}
	cfg.SessionID = f.sessionID

	return cfg, cfg.Validate()
}

// parseDuration accepts Go durations and bare integers as milliseconds
func parseDuration(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(s)
}

func run(cfg config.Config) error {
	bot, err := chatbot.NewChatBot(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize chatbot: %w", err)
	}
	return bot.Run()
}

func main() {
	if err := newRootCmd(run).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
