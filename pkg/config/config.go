// Package config loads the host configuration from a YAML file with an
// environment variable overlay, and watches the file for hot-reloadable
// settings.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the full host configuration.
type Config struct {
	LogLevel string `yaml:"log_level" env:"UMINO_LOG_LEVEL"`
	DataPath string `yaml:"data_path" env:"UMINO_DATA_PATH"`

	// Admins receive a global allow grant for the admin capability at
	// startup; without at least one, nobody can issue the first /perm.
	Admins []string `yaml:"admins" env:"UMINO_ADMINS" envSeparator:","`

	Dispatch DispatchConfig `yaml:"dispatch"`
	API      APIConfig      `yaml:"api"`
	Channels ChannelsConfig `yaml:"channels"`
	Notify   NotifyConfig   `yaml:"notify"`

	// SweepSchedule is the cron expression for the grant expiry sweep.
	SweepSchedule string `yaml:"sweep_schedule" env:"UMINO_SWEEP_SCHEDULE"`
}

// DispatchConfig tunes the dispatcher pool.
type DispatchConfig struct {
	Workers        int           `yaml:"workers" env:"UMINO_DISPATCH_WORKERS"`
	HandlerTimeout time.Duration `yaml:"handler_timeout" env:"UMINO_HANDLER_TIMEOUT"`
}

// APIConfig controls the introspection API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" env:"UMINO_API_ENABLED"`
	Addr    string `yaml:"addr" env:"UMINO_API_ADDR"`
	Key     string `yaml:"key" env:"UMINO_API_KEY"`
}

// ChannelsConfig holds per-transport credentials. A transport with empty
// credentials is not registered.
type ChannelsConfig struct {
	Console  bool           `yaml:"console" env:"UMINO_CONSOLE"`
	Discord  DiscordConfig  `yaml:"discord"`
	Telegram TelegramConfig `yaml:"telegram"`
	Slack    SlackConfig    `yaml:"slack"`
	QQ       QQConfig       `yaml:"qq"`
	OneBot   OneBotConfig   `yaml:"onebot"`
}

type DiscordConfig struct {
	Token string `yaml:"token" env:"UMINO_DISCORD_TOKEN"`
}

type TelegramConfig struct {
	Token string `yaml:"token" env:"UMINO_TELEGRAM_TOKEN"`
}

type SlackConfig struct {
	BotToken string `yaml:"bot_token" env:"UMINO_SLACK_BOT_TOKEN"`
	AppToken string `yaml:"app_token" env:"UMINO_SLACK_APP_TOKEN"`
}

type QQConfig struct {
	AppID uint64 `yaml:"app_id" env:"UMINO_QQ_APP_ID"`
	Token string `yaml:"token" env:"UMINO_QQ_TOKEN"`
}

type OneBotConfig struct {
	URL         string `yaml:"url" env:"UMINO_ONEBOT_URL"`
	AccessToken string `yaml:"access_token" env:"UMINO_ONEBOT_ACCESS_TOKEN"`
}

// NotifyConfig configures alert delivery.
type NotifyConfig struct {
	Lark LarkConfig `yaml:"lark"`
}

type LarkConfig struct {
	AppID     string `yaml:"app_id" env:"UMINO_LARK_APP_ID"`
	AppSecret string `yaml:"app_secret" env:"UMINO_LARK_APP_SECRET"`
	// ReceiveID is the chat to deliver alerts to.
	ReceiveID string `yaml:"receive_id" env:"UMINO_LARK_RECEIVE_ID"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		DataPath: "umino.db",
		Dispatch: DispatchConfig{
			Workers:        8,
			HandlerTimeout: 30 * time.Second,
		},
		API: APIConfig{
			Addr: "127.0.0.1:7700",
		},
		Channels: ChannelsConfig{
			Console: true,
		},
		SweepSchedule: "*/5 * * * *",
	}
}

// Load reads the YAML file at path (missing file is fine) and overlays
// environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults + env only.
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("env overlay: %w", err)
	}
	return cfg, nil
}
