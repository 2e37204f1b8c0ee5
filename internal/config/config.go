package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for precord.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Discord   DiscordConfig   `mapstructure:"discord"`
	Pretix    PretixConfig    `mapstructure:"pretix"`
	Enroll    EnrollConfig    `mapstructure:"enroll"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls how the HTTP listener is bound. The default is a
// Unix domain socket so a local reverse proxy can connect without a TCP port;
// set network to "tcp" and addr for local development.
type ServerConfig struct {
	Network         string        `mapstructure:"network"`
	Socket          string        `mapstructure:"socket"`
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig selects the Postgres connection. When URL is set it is used
// verbatim; otherwise a DSN is rendered from the discrete fields.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DB       string `mapstructure:"db"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// DSN returns the pool connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DB, c.SSLMode,
	)
}

type DiscordConfig struct {
	ClientID         string `mapstructure:"client_id"`
	ClientSecret     string `mapstructure:"client_secret"`
	BotToken         string `mapstructure:"bot_token"`
	GuildID          string `mapstructure:"guild_id"`
	WelcomeChannelID string `mapstructure:"welcome_channel_id"`
	RedirectURI      string `mapstructure:"redirect_uri"`
}

type PretixConfig struct {
	APIToken     string `mapstructure:"api_token"`
	JWTPublicKey string `mapstructure:"jwt_public_key"`
	Organizer    string `mapstructure:"organizer"`
	Event        string `mapstructure:"event"`
	BaseURL      string `mapstructure:"base_url"`
}

// EnrollConfig holds flow tuning. StateTokenLifetime is expressed in the
// environment as a duration (PRECORD_ENROLL_STATE_TOKEN_LIFETIME=30m).
type EnrollConfig struct {
	StateTokenLifetime time.Duration `mapstructure:"state_token_lifetime"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name"`
	LogLevel     string `mapstructure:"log_level"`
}

// Load reads config from the optional YAML file at path, then overlays
// environment variables with the PRECORD_ prefix (e.g. PRECORD_SERVER_SOCKET).
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PRECORD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	return &cfg, nil
}

// Validate rejects configurations that cannot possibly serve a registration.
// It runs before the listener is bound so a misconfigured deployment exits
// nonzero instead of failing mid-flow.
func (c *Config) Validate() error {
	var missing []string

	required := []struct {
		key, val string
	}{
		{"discord.client_id", c.Discord.ClientID},
		{"discord.client_secret", c.Discord.ClientSecret},
		{"discord.bot_token", c.Discord.BotToken},
		{"discord.guild_id", c.Discord.GuildID},
		{"discord.welcome_channel_id", c.Discord.WelcomeChannelID},
		{"discord.redirect_uri", c.Discord.RedirectURI},
		{"pretix.api_token", c.Pretix.APIToken},
		{"pretix.jwt_public_key", c.Pretix.JWTPublicKey},
	}
	for _, r := range required {
		if r.val == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	switch c.Server.Network {
	case "unix":
		if c.Server.Socket == "" {
			return errors.New("server.socket must be set when server.network is unix")
		}
	case "tcp":
		if c.Server.Addr == "" {
			return errors.New("server.addr must be set when server.network is tcp")
		}
	default:
		return fmt.Errorf("unsupported server.network %q (want unix or tcp)", c.Server.Network)
	}

	return nil
}

// setDefaults enumerates every config key. Viper's AutomaticEnv only
// surfaces keys it already knows about to Unmarshal, so keys without a
// meaningful default (the secrets) still get an empty-string entry; without
// one their PRECORD_ environment values would be silently dropped.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.network", "unix")
	v.SetDefault("server.socket", "/run/precord/precord.sock")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "precord")
	v.SetDefault("database.password", "")
	v.SetDefault("database.db", "precord")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 25)

	v.SetDefault("discord.client_id", "")
	v.SetDefault("discord.client_secret", "")
	v.SetDefault("discord.bot_token", "")
	v.SetDefault("discord.guild_id", "")
	v.SetDefault("discord.welcome_channel_id", "")
	v.SetDefault("discord.redirect_uri", "")

	v.SetDefault("pretix.api_token", "")
	v.SetDefault("pretix.jwt_public_key", "")
	v.SetDefault("pretix.organizer", "pyconau")
	v.SetDefault("pretix.event", "2024")
	v.SetDefault("pretix.base_url", "https://pretix.eu")

	// Tokens older than this are refused on the OAuth2 return leg.
	v.SetDefault("enroll.state_token_lifetime", 30*time.Minute)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "precord")
	v.SetDefault("telemetry.log_level", "info")
}
