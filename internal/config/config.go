package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode           string          `mapstructure:"mode"`
	Port           int             `mapstructure:"port"`
	StaticPath     string          `mapstructure:"static_path"`
	Secret         string          `mapstructure:"secret"`
	AllowedOrigins []string        `mapstructure:"allowed_origins"`
	ReadLimit      int64           `mapstructure:"read_limit"`
	PingPeriod     time.Duration   `mapstructure:"ping_period"`
	SendBuffer     int             `mapstructure:"send_buffer"`
	SlowConsumer   string          `mapstructure:"slow_consumer"`
	LogLevel       string          `mapstructure:"log_level"`
	Rooms          RoomsConfig     `mapstructure:"rooms"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
	NATS           NATSConfig      `mapstructure:"nats"`
}

type RoomsConfig struct {
	LobbyID           string        `mapstructure:"lobby_id"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	LivenessInterval  time.Duration `mapstructure:"liveness_interval"`
	LivenessMaxChecks int           `mapstructure:"liveness_max_checks"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
}

type RateLimitConfig struct {
	PerSecond float64 `mapstructure:"per_second"`
	Burst     int     `mapstructure:"burst"`
}

// NATSConfig enables the event relay when URL is set.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

const EnvPrefix = "ROOMCHAT"

// Load reads config/config.<env>.yaml, then ROOMCHAT_* variables, then any
// flags set on fs. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if fs != nil {
		if f := fs.Lookup("config-env"); f != nil && f.Changed {
			env = f.Value.String()
		}
	}
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "roomchat-dev-secret")
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "25s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("slow_consumer", "drop")
	v.SetDefault("log_level", "info")
	v.SetDefault("rooms.lobby_id", "mainonlineroom")
	v.SetDefault("rooms.sweep_interval", "100s")
	v.SetDefault("rooms.liveness_interval", "20s")
	v.SetDefault("rooms.liveness_max_checks", 6)
	v.SetDefault("rooms.idle_timeout", "2h")
	v.SetDefault("rate_limit.per_second", 20)
	v.SetDefault("rate_limit.burst", 40)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "roomchat.events")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for _, key := range []string{"port", "mode"} {
			if f := fs.Lookup(key); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", key, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}
