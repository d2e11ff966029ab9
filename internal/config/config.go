// Package config loads the bot settings from the environment, an optional
// env file and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	DefaultEnvPrefix    = "XUIBOT"
	EnvvarSetEnvPrefix  = "XUIBOT_ENV_PREFIX"
	DefaultPollTimeout  = 10 * time.Second
	DefaultInterval     = 30 * time.Second
	DefaultErrorBackoff = 60 * time.Second
	DefaultNotifyRate   = 20.0
	DefaultLogLevel     = slog.LevelInfo
	DefaultDBLogLevel   = slog.LevelWarn
)

// Env names kept from earlier deployments, read in addition to the
// prefixed ones.
const (
	legacyTokenEnv  = "BOT_TOKEN"
	legacyDBPathEnv = "DB_PATH"
)

type Config struct {
	Bot     BotConfig     `mapstructure:"bot"`
	Panel   PanelConfig   `mapstructure:"panel"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	State   StateConfig   `mapstructure:"state"`
	API     APIConfig     `mapstructure:"api"`

	LogLevel         *slog.LevelVar `mapstructure:"log_level"`
	DatabaseLogLevel *slog.LevelVar `mapstructure:"database_log_level"`
}

type BotConfig struct {
	Token       string        `mapstructure:"token" validate:"required"`
	PollTimeout time.Duration `mapstructure:"poll_timeout" validate:"gt=0"`
}

type PanelConfig struct {
	DBPath   string `mapstructure:"db_path" validate:"required"`
	ReadOnly bool   `mapstructure:"read_only"`
	// PublicHost replaces the inbound listen address in generated links.
	PublicHost string `mapstructure:"public_host"`
}

type MonitorConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval" validate:"gt=0"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff" validate:"gt=0"`
	NotifyRate   float64       `mapstructure:"notify_rate" validate:"gt=0"`
}

type StateConfig struct {
	Path string `mapstructure:"path"`
}

type APIConfig struct {
	Listen string `mapstructure:"listen"`
}

// Default returns a Config with every optional field populated.
func Default() *Config {
	logLevel := &slog.LevelVar{}
	logLevel.Set(DefaultLogLevel)
	dbLogLevel := &slog.LevelVar{}
	dbLogLevel.Set(DefaultDBLogLevel)

	return &Config{
		Bot:   BotConfig{PollTimeout: DefaultPollTimeout},
		Panel: PanelConfig{ReadOnly: true},
		Monitor: MonitorConfig{
			Enabled:      true,
			Interval:     DefaultInterval,
			ErrorBackoff: DefaultErrorBackoff,
			NotifyRate:   DefaultNotifyRate,
		},
		LogLevel:         logLevel,
		DatabaseLogLevel: dbLogLevel,
	}
}

// Load reads envFile (or .env when empty) into the process environment and
// decodes the settings. A missing default .env is not an error. The result
// is not validated; callers pick Validate or ValidatePanel depending on
// what they need.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		_ = godotenv.Load()
	} else if err := godotenv.Load(envFile); err != nil {
		return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)

	prefix := os.Getenv(EnvvarSetEnvPrefix)
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("bot.token", prefix+"_BOT_TOKEN", legacyTokenEnv); err != nil {
		return nil, err
	}
	if err := v.BindEnv("panel.db_path", prefix+"_PANEL_DB_PATH", legacyDBPathEnv); err != nil {
		return nil, err
	}

	cfg := Default()
	err := v.Unmarshal(
		cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				LevelVarHookFunc(),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("bot.token", "")
	v.SetDefault("bot.poll_timeout", d.Bot.PollTimeout)
	v.SetDefault("panel.db_path", "")
	v.SetDefault("panel.read_only", d.Panel.ReadOnly)
	v.SetDefault("panel.public_host", "")
	v.SetDefault("monitor.enabled", d.Monitor.Enabled)
	v.SetDefault("monitor.interval", d.Monitor.Interval)
	v.SetDefault("monitor.error_backoff", d.Monitor.ErrorBackoff)
	v.SetDefault("monitor.notify_rate", d.Monitor.NotifyRate)
	v.SetDefault("state.path", "")
	v.SetDefault("api.listen", "")
	v.SetDefault("log_level", DefaultLogLevel.String())
	v.SetDefault("database_log_level", DefaultDBLogLevel.String())
}

// Validate reports missing or out-of-range settings. Missing required
// values are reported by the env variable an operator would set.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	msgs := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		switch fe.Namespace() {
		case "Config.Bot.Token":
			msgs = append(msgs, legacyTokenEnv+" is not set")
		case "Config.Panel.DBPath":
			msgs = append(msgs, legacyDBPathEnv+" is not set")
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
		}
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// ValidatePanel checks only what the maintenance commands need.
func (c *Config) ValidatePanel() error {
	if c.Panel.DBPath == "" {
		return fmt.Errorf("invalid config: %s is not set", legacyDBPathEnv)
	}
	return nil
}

// LevelVarHookFunc decodes level names ("DEBUG", "warn", ...) into
// *slog.LevelVar fields.
func LevelVarHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		if t != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl := &slog.LevelVar{}
		if err := lvl.UnmarshalText([]byte(data.(string))); err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		return lvl, nil
	}
}
