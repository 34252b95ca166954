// Package config loads the bot configuration from config.toml, .env, and
// environment variables, in that order of precedence (last wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	DefaultConfigPath    = "config.toml"
	DefaultHTTPAddr      = ":8080"
	DefaultTokenURL      = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	DefaultChatURL       = "https://gigachat.devices.sberbank.ru/api/v1/chat/completions"
	DefaultScope         = "GIGACHAT_API_PERS"
	DefaultModel         = "GigaChat"
	DefaultRelayTTL      = 72 * time.Hour
	DefaultSweepSchedule = "@every 1m"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Telegram TelegramConfig `toml:"telegram"`
	Chats    ChatsConfig    `toml:"chats"`
	GigaChat GigaChatConfig `toml:"gigachat"`
	Relay    RelayConfig    `toml:"relay"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token" validate:"required"`
}

type ChatsConfig struct {
	// AdminChatID receives best-effort audit copies of user requests.
	// Zero disables auditing.
	AdminChatID int64 `toml:"admin_chat_id"`
	// ManagerChatID is the group where handoff conversations land.
	ManagerChatID int64 `toml:"manager_chat_id" validate:"required"`
}

type GigaChatConfig struct {
	ClientID       string `toml:"client_id" validate:"required"`
	ClientSecret   string `toml:"client_secret" validate:"required"`
	Scope          string `toml:"scope"`
	TokenURL       string `toml:"token_url"`
	ChatURL        string `toml:"chat_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

func (c GigaChatConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type RelayConfig struct {
	// TTL bounds how long a pending relay waits for a manager reply before
	// the sweeper drops it.
	TTL           string `toml:"ttl"`
	SweepSchedule string `toml:"sweep_schedule"`
}

func (c RelayConfig) TTLDuration() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d <= 0 {
		return DefaultRelayTTL
	}
	return d
}

func (c RelayConfig) Schedule() string {
	if c.SweepSchedule == "" {
		return DefaultSweepSchedule
	}
	return c.SweepSchedule
}

// Load reads the config file (absent file falls back to defaults), merges a
// .env file if present, then applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		GigaChat: GigaChatConfig{
			Scope:    DefaultScope,
			TokenURL: DefaultTokenURL,
			ChatURL:  DefaultChatURL,
			Model:    DefaultModel,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	// Deployment platforms inject credentials via environment; .env covers
	// local runs. Ignore absence.
	_ = godotenv.Load()
	applyEnv(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("ADMIN_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Chats.AdminChatID = id
		}
	}
	if v := os.Getenv("MANAGER_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Chats.ManagerChatID = id
		}
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := os.Getenv("GIGACHAT_CLIENT_ID"); v != "" {
		cfg.GigaChat.ClientID = v
	}
	if v := os.Getenv("GIGACHAT_CLIENT_SECRET"); v != "" {
		cfg.GigaChat.ClientSecret = v
	}
}
