package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath    = "config.toml"
	DefaultHTTPAddr      = ":8080"
	DefaultStoreDriver   = "file"
	DefaultStorePath     = "wirebot.yaml"
	DefaultPGHost        = "127.0.0.1"
	DefaultPGPort        = 5432
	DefaultPGUser        = "postgres"
	DefaultPGDatabase    = "wirebot"
	DefaultPGSSLMode     = "disable"
	DefaultPollTimeoutMS = 500
	DefaultSessionTTLSec = 60
	DefaultQueueSize     = 32
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Store    StoreConfig    `toml:"store"`
	WeComBot WeComBotConfig `toml:"wecombot"`
	Telegram TelegramConfig `toml:"telegram"`
	Feishu   FeishuConfig   `toml:"feishu"`
	Discord  DiscordConfig  `toml:"discord"`
	Plugin   PluginConfig   `toml:"plugin"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// StoreConfig selects the repository backing the pipeline/bot definitions.
// Driver is "postgres" or "file".
type StoreConfig struct {
	Driver   string         `toml:"driver"`
	Path     string         `toml:"path"`
	Postgres PostgresConfig `toml:"postgres"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// WeComBotConfig carries the streaming-callback adapter credentials and
// the stream session tuning knobs.
type WeComBotConfig struct {
	Enabled        bool   `toml:"enabled"`
	Token          string `toml:"token"`
	EncodingAESKey string `toml:"encoding_aes_key"`
	ReceiverID     string `toml:"receiver_id"`
	BotName        string `toml:"bot_name"`
	PollTimeoutMS  int    `toml:"poll_timeout_ms"`
	SessionTTLSec  int    `toml:"session_ttl_seconds"`
	QueueSize      int    `toml:"queue_size"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
}

type FeishuConfig struct {
	Enabled           bool   `toml:"enabled"`
	AppID             string `toml:"app_id"`
	AppSecret         string `toml:"app_secret"`
	VerificationToken string `toml:"verification_token"`
	EncryptKey        string `toml:"encrypt_key"`
}

type DiscordConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
}

// PluginConfig points at the external plugin runtime (an MCP peer).
// An empty endpoint disables the bridge.
type PluginConfig struct {
	Endpoint string `toml:"endpoint"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Store: StoreConfig{
			Driver: DefaultStoreDriver,
			Path:   DefaultStorePath,
			Postgres: PostgresConfig{
				Host:     DefaultPGHost,
				Port:     DefaultPGPort,
				User:     DefaultPGUser,
				Database: DefaultPGDatabase,
				SSLMode:  DefaultPGSSLMode,
			},
		},
		WeComBot: WeComBotConfig{
			PollTimeoutMS: DefaultPollTimeoutMS,
			SessionTTLSec: DefaultSessionTTLSec,
			QueueSize:     DefaultQueueSize,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
