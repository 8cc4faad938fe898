// Package config loads SEL process configuration (listen address,
// dispatch credentials, rule file paths) from a config file and environment
// variables, layered via Viper the way the rest of the pack's CLI tools do.
// Command-line flags are not read here; the CLI applies them to the
// returned Config itself.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config is the resolved process configuration for a selrun invocation.
type Config struct {
	// RulesPath is the .sel source file to load.
	RulesPath string
	// ListenAddr is the address the live websocket feed listens on, empty
	// to disable it.
	ListenAddr string
	// TelegramBotToken and TelegramChatID configure Notify delivery.
	TelegramBotToken string
	TelegramChatID   string
	// DryRun logs what would be dispatched instead of delivering it.
	DryRun bool
	// LogLevel is one of zerolog's level names (debug, info, warn, error).
	LogLevel string
}

// Load resolves configuration from (in increasing priority order) defaults,
// a config file named configPath (if non-empty), and environment variables
// prefixed SEL_. No flags are bound to the Viper instance it uses.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", "")
	v.SetDefault("dry_run", false)
	v.SetDefault("log_level", "info")

	v.SetEnvPrefix("SEL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	return &Config{
		RulesPath:        v.GetString("rules_path"),
		ListenAddr:       v.GetString("listen_addr"),
		TelegramBotToken: v.GetString("telegram_bot_token"),
		TelegramChatID:   v.GetString("telegram_chat_id"),
		DryRun:           v.GetBool("dry_run"),
		LogLevel:         v.GetString("log_level"),
	}, nil
}
