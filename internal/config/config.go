package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "LIVECLASS"

type Config struct {
	// broker
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`
	BindLimit  int           `mapstructure:"bind_limit"`
	BindWindow time.Duration `mapstructure:"bind_window"`

	// classroom participant
	BrokerURL      string        `mapstructure:"broker_url"`
	ICEServers     []string      `mapstructure:"ice_servers"`
	ChatRate       float64       `mapstructure:"chat_rate"`
	ChatBurst      int           `mapstructure:"chat_burst"`
	MaxChatLen     int           `mapstructure:"max_chat_len"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (env "dev" by default). A missing
// file leaves the defaults; LIVECLASS_* variables override either.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "liveclass-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("bind_limit", 60)
	v.SetDefault("bind_window", "1m")

	v.SetDefault("broker_url", "ws://localhost:8080/api/ws/peer")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("chat_rate", 5.0)
	v.SetDefault("chat_burst", 10)
	v.SetDefault("max_chat_len", 2000)
	v.SetDefault("connect_timeout", "15s")

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("broker", cfg.BrokerURL).Msg("config ready")
	return &cfg, nil
}

// Level maps log_level to a zerolog level, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
